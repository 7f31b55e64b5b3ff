package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"promocal/internal/model"
)

// CreateCity inserts c, assigning an id when c.ID is empty.
func (s *SQLStore) CreateCity(ctx context.Context, c *model.City) error {
	if c == nil {
		return errors.New("city is nil")
	}
	if strings.TrimSpace(c.Title) == "" {
		return errors.New("city title is required")
	}
	if c.ID == "" {
		c.ID = newID()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO cities (id, title, latitude, longitude) VALUES (?, ?, ?, ?)`),
		c.ID, c.Title, c.Latitude, c.Longitude)
	if err != nil {
		return fmt.Errorf("create city: %w", err)
	}
	return nil
}

// ListCities returns all cities ordered by title.
func (s *SQLStore) ListCities(ctx context.Context) ([]model.City, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, latitude, longitude FROM cities ORDER BY title, id`)
	if err != nil {
		return nil, fmt.Errorf("list cities: %w", err)
	}
	defer rows.Close()

	out := []model.City{}
	for rows.Next() {
		var c model.City
		if err := rows.Scan(&c.ID, &c.Title, &c.Latitude, &c.Longitude); err != nil {
			return nil, fmt.Errorf("scan city: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCity returns the city with the given id or ErrNotFound.
func (s *SQLStore) GetCity(ctx context.Context, id string) (*model.City, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var c model.City
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, title, latitude, longitude FROM cities WHERE id = ?`), id).
		Scan(&c.ID, &c.Title, &c.Latitude, &c.Longitude)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get city %s: %w", id, err)
	}
	return &c, nil
}

// CreateStore inserts st, assigning an id when st.ID is empty.
func (s *SQLStore) CreateStore(ctx context.Context, st *model.Store) error {
	if st == nil {
		return errors.New("store is nil")
	}
	if strings.TrimSpace(st.Name) == "" {
		return errors.New("store name is required")
	}
	if st.ID == "" {
		st.ID = newID()
	}
	now := formatTimestamp(s.now())
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO stores (id, city_id, name, address, contact, menu_url, website,
			instagram, latitude, longitude, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		st.ID, nullableString(st.CityID), st.Name, st.Address, st.Contact, st.MenuURL,
		st.Website, st.Instagram, st.Latitude, st.Longitude, now, now)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	return nil
}

// GetStore returns the store with the given id or ErrNotFound.
func (s *SQLStore) GetStore(ctx context.Context, id string) (*model.Store, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var (
		st     model.Store
		cityID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, city_id, name, address, contact, menu_url, website, instagram,
			latitude, longitude
		FROM stores WHERE id = ?`), id).
		Scan(&st.ID, &cityID, &st.Name, &st.Address, &st.Contact, &st.MenuURL,
			&st.Website, &st.Instagram, &st.Latitude, &st.Longitude)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get store %s: %w", id, err)
	}
	st.CityID = cityID.String
	return &st, nil
}
