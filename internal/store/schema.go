package store

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS cities (
		id UUID PRIMARY KEY,
		title TEXT NOT NULL,
		latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
		longitude DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS stores (
		id UUID PRIMARY KEY,
		city_id UUID REFERENCES cities(id),
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		contact TEXT NOT NULL DEFAULT '',
		menu_url TEXT NOT NULL DEFAULT '',
		website TEXT NOT NULL DEFAULT '',
		instagram TEXT NOT NULL DEFAULT '',
		latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
		longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS promotions (
		id UUID PRIMARY KEY,
		store_id UUID NOT NULL REFERENCES stores(id),
		external_uid TEXT,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		translations JSONB NOT NULL DEFAULT '{}',
		starts_at TIMESTAMPTZ NOT NULL,
		ends_at TIMESTAMPTZ,
		recurring BOOLEAN NOT NULL DEFAULT FALSE,
		frequency TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (store_id, external_uid)
	)`,
	`CREATE INDEX IF NOT EXISTS promotions_starts_at_idx ON promotions (starts_at)`,
	`CREATE INDEX IF NOT EXISTS stores_city_id_idx ON stores (city_id)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS cities (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		latitude REAL NOT NULL DEFAULT 0,
		longitude REAL NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS stores (
		id TEXT PRIMARY KEY,
		city_id TEXT REFERENCES cities(id),
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		contact TEXT NOT NULL DEFAULT '',
		menu_url TEXT NOT NULL DEFAULT '',
		website TEXT NOT NULL DEFAULT '',
		instagram TEXT NOT NULL DEFAULT '',
		latitude REAL NOT NULL DEFAULT 0,
		longitude REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS promotions (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL REFERENCES stores(id),
		external_uid TEXT,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		translations TEXT NOT NULL DEFAULT '{}',
		starts_at TEXT NOT NULL,
		ends_at TEXT,
		recurring INTEGER NOT NULL DEFAULT 0,
		frequency TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (store_id, external_uid)
	)`,
	`CREATE INDEX IF NOT EXISTS promotions_starts_at_idx ON promotions (starts_at)`,
	`CREATE INDEX IF NOT EXISTS stores_city_id_idx ON stores (city_id)`,
}

// Migrate creates the schema if it does not exist yet.
func (s *SQLStore) Migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if s.dialect == dialectPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
