package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"promocal/internal/model"
	"promocal/internal/recurrence"
)

// Translations maps a field ("title", "description") to its text per locale.
type Translations map[string]map[string]string

const (
	fieldTitle       = "title"
	fieldDescription = "description"
)

// Set stores text for field in locale.
func (t Translations) Set(field, locale, text string) {
	if t[field] == nil {
		t[field] = map[string]string{}
	}
	t[field][locale] = text
}

// Localize picks field in locale, then in fallback, then base.
func (t Translations) Localize(field, locale, fallback, base string) string {
	byLocale := t[field]
	if v := byLocale[locale]; v != "" {
		return v
	}
	if v := byLocale[fallback]; v != "" {
		return v
	}
	return base
}

// PromotionInput is the writable part of a promotion row.
type PromotionInput struct {
	ID           string
	StoreID      string
	ExternalUID  string
	Title        string
	Description  string
	Translations Translations
	StartsAt     time.Time
	EndsAt       *time.Time
	Recurring    bool
	Frequency    string
}

// normalize validates in and canonicalizes its frequency.
func (in *PromotionInput) normalize() error {
	if !validID(in.StoreID) {
		return fmt.Errorf("promotion store id %q is invalid", in.StoreID)
	}
	if in.StartsAt.IsZero() {
		return recurrence.ErrMissingAnchor
	}
	if in.EndsAt != nil && in.EndsAt.Before(in.StartsAt) {
		return recurrence.ErrInvalidDuration
	}
	if in.Recurring {
		f, err := recurrence.ParseFrequency(in.Frequency)
		if err != nil {
			return err
		}
		in.Frequency = f.String()
	} else {
		in.Frequency = ""
	}
	if in.Translations == nil {
		in.Translations = Translations{}
	}
	return nil
}

// CreatePromotion inserts in and returns its id.
func (s *SQLStore) CreatePromotion(ctx context.Context, in PromotionInput) (string, error) {
	if err := in.normalize(); err != nil {
		return "", fmt.Errorf("create promotion: %w", err)
	}
	if in.ID == "" {
		in.ID = newID()
	}
	tr, err := json.Marshal(in.Translations)
	if err != nil {
		return "", fmt.Errorf("create promotion: encode translations: %w", err)
	}
	now := formatTimestamp(s.now())
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO promotions (id, store_id, external_uid, title, description,
			translations, starts_at, ends_at, recurring, frequency, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		in.ID, in.StoreID, nullableString(in.ExternalUID), in.Title, in.Description,
		string(tr), formatTimestamp(in.StartsAt), nullableTimestamp(in.EndsAt),
		in.Recurring, nullableString(in.Frequency), now, now)
	if err != nil {
		return "", fmt.Errorf("create promotion: %w", err)
	}
	return in.ID, nil
}

// UpsertPromotionByExternalUID inserts or updates the promotion identified by
// (StoreID, ExternalUID) and returns its id.
func (s *SQLStore) UpsertPromotionByExternalUID(ctx context.Context, in PromotionInput) (string, error) {
	if strings.TrimSpace(in.ExternalUID) == "" {
		return "", errors.New("upsert promotion: external uid is required")
	}
	if err := in.normalize(); err != nil {
		return "", fmt.Errorf("upsert promotion: %w", err)
	}
	tr, err := json.Marshal(in.Translations)
	if err != nil {
		return "", fmt.Errorf("upsert promotion: encode translations: %w", err)
	}
	now := formatTimestamp(s.now())

	var id string
	err = s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO promotions (id, store_id, external_uid, title, description,
			translations, starts_at, ends_at, recurring, frequency, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (store_id, external_uid) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			translations = excluded.translations,
			starts_at = excluded.starts_at,
			ends_at = excluded.ends_at,
			recurring = excluded.recurring,
			frequency = excluded.frequency,
			updated_at = excluded.updated_at
		RETURNING id`),
		newID(), in.StoreID, in.ExternalUID, in.Title, in.Description,
		string(tr), formatTimestamp(in.StartsAt), nullableTimestamp(in.EndsAt),
		in.Recurring, nullableString(in.Frequency), now, now).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert promotion %s: %w", in.ExternalUID, err)
	}
	return id, nil
}

// PruneImportedPromotions deletes the promotions of storeID that were
// imported from a feed and whose external UID is not in keep. Promotions
// created without an external UID are never touched.
func (s *SQLStore) PruneImportedPromotions(ctx context.Context, storeID string, keep []string) (int, error) {
	if !validID(storeID) {
		return 0, fmt.Errorf("prune promotions: store id %q is invalid", storeID)
	}

	query := `DELETE FROM promotions WHERE store_id = ? AND external_uid IS NOT NULL`
	args := []any{storeID}
	if len(keep) > 0 {
		query += ` AND external_uid NOT IN (?` + strings.Repeat(", ?", len(keep)-1) + `)`
		for _, uid := range keep {
			args = append(args, uid)
		}
	}

	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("prune promotions of store %s: %w", storeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune promotions of store %s: %w", storeID, err)
	}
	return int(n), nil
}

const promotionColumns = `
	p.id, p.store_id, p.external_uid, p.title, p.description, p.translations,
	p.starts_at, p.ends_at, p.recurring, p.frequency,
	s.name, s.latitude, s.longitude`

// GetPromotion returns one promotion localized to locale, or ErrNotFound.
func (s *SQLStore) GetPromotion(ctx context.Context, id, locale, defaultLocale string) (*model.Promotion, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+promotionColumns+`
		FROM promotions p JOIN stores s ON s.id = p.store_id
		WHERE p.id = ?`), id)
	p, err := scanPromotion(row, locale, defaultLocale)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get promotion %s: %w", id, err)
	}
	return &p, nil
}

// ListPromotions returns every promotion matching q ordered by anchor.
func (s *SQLStore) ListPromotions(ctx context.Context, q Query) ([]model.Promotion, error) {
	var (
		where []string
		args  []any
	)
	if q.CityID != "" {
		if !validID(q.CityID) {
			return nil, ErrNotFound
		}
		where = append(where, "s.city_id = ?")
		args = append(args, q.CityID)
	}
	if !q.StartsBefore.IsZero() {
		where = append(where, "p.starts_at <= ?")
		args = append(args, formatTimestamp(q.StartsBefore))
	}

	query := `SELECT ` + promotionColumns + `
		FROM promotions p JOIN stores s ON s.id = p.store_id`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY p.starts_at, p.id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list promotions: %w", err)
	}
	defer rows.Close()

	out := []model.Promotion{}
	for rows.Next() {
		p, err := scanPromotion(rows, q.Locale, q.DefaultLocale)
		if err != nil {
			return nil, fmt.Errorf("list promotions: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPromotion(row rowScanner, locale, defaultLocale string) (model.Promotion, error) {
	var (
		p           model.Promotion
		externalUID sql.NullString
		rawTr       []byte
		startsAt    string
		endsAt      sql.NullString
		frequency   sql.NullString
	)
	if err := row.Scan(&p.ID, &p.StoreID, &externalUID, &p.Title, &p.Description, &rawTr,
		&startsAt, &endsAt, &p.Recurring, &frequency,
		&p.StoreName, &p.StoreLatitude, &p.StoreLongitude); err != nil {
		return model.Promotion{}, err
	}
	p.ExternalUID = externalUID.String
	p.Frequency = frequency.String

	var err error
	if p.StartsAt, err = parseTimestamp(startsAt); err != nil {
		return model.Promotion{}, err
	}
	if endsAt.Valid {
		end, err := parseTimestamp(endsAt.String)
		if err != nil {
			return model.Promotion{}, err
		}
		p.EndsAt = &end
	}

	tr := Translations{}
	if len(rawTr) > 0 {
		if err := json.Unmarshal(rawTr, &tr); err != nil {
			return model.Promotion{}, fmt.Errorf("decode translations of %s: %w", p.ID, err)
		}
	}
	p.Title = tr.Localize(fieldTitle, locale, defaultLocale, p.Title)
	p.Description = tr.Localize(fieldDescription, locale, defaultLocale, p.Description)
	return p, nil
}
