package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"promocal/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnMaxIdleTime = 1 * time.Minute
)

// timestampLayout is fixed width and always UTC so that text columns compare
// in chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Query selects the promotions a listing may need.
type Query struct {
	// CityID limits the result to one city; empty means every city.
	CityID string
	// Locale and DefaultLocale pick the translated title and description.
	Locale        string
	DefaultLocale string
	// StartsBefore drops promotions anchored after this instant. Recurring
	// promotions anchored earlier are kept: their later occurrences may
	// still fall in the window.
	StartsBefore time.Time
}

// PromotionSource hands out localized promotion records.
type PromotionSource interface {
	ListPromotions(ctx context.Context, q Query) ([]model.Promotion, error)
	GetPromotion(ctx context.Context, id, locale, defaultLocale string) (*model.Promotion, error)
}

// CityDirectory lists and resolves cities.
type CityDirectory interface {
	ListCities(ctx context.Context) ([]model.City, error)
	GetCity(ctx context.Context, id string) (*model.City, error)
}

type dialect string

const (
	dialectPostgres dialect = "postgres"
	dialectSQLite   dialect = "sqlite"
)

// SQLStore implements PromotionSource and CityDirectory over database/sql
// for PostgreSQL (lib/pq) and SQLite (modernc.org/sqlite).
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// Open connects to the database named by driver ("postgres" or "sqlite")
// and pings it.
func Open(driver, dsn string) (*SQLStore, error) {
	var d dialect
	switch strings.ToLower(driver) {
	case "postgres", "postgresql":
		d = dialectPostgres
	case "sqlite", "sqlite3":
		d = dialectSQLite
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(string(d), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)
	if d == dialectSQLite {
		// SQLite serializes writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLStore{db: db, dialect: d, now: time.Now}, nil
}

// Close closes the underlying pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullableTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTimestamp(*t)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// validID rejects ids that are not UUIDs; PostgreSQL would fail the whole
// statement on them.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func newID() string {
	return uuid.NewString()
}
