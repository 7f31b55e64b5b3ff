package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promocal/internal/model"
	"promocal/internal/recurrence"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "promocal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedStore(t *testing.T, s *SQLStore) (model.City, model.Store) {
	t.Helper()
	ctx := context.Background()
	city := model.City{Title: "Warsaw", Latitude: 52.23, Longitude: 21.01}
	require.NoError(t, s.CreateCity(ctx, &city))
	st := model.Store{CityID: city.ID, Name: "Bistro", Latitude: 52.2, Longitude: 21.0}
	require.NoError(t, s.CreateStore(ctx, &st))
	return city, st
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("mysql", "x")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: dialectPostgres}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))
	lite := &SQLStore{dialect: dialectSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestCities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	krakow := model.City{Title: "Krakow", Latitude: 50.06, Longitude: 19.94}
	warsaw := model.City{Title: "Warsaw", Latitude: 52.23, Longitude: 21.01}
	require.NoError(t, s.CreateCity(ctx, &warsaw))
	require.NoError(t, s.CreateCity(ctx, &krakow))
	assert.NotEmpty(t, warsaw.ID)

	cities, err := s.ListCities(ctx)
	require.NoError(t, err)
	require.Len(t, cities, 2)
	assert.Equal(t, "Krakow", cities[0].Title)

	got, err := s.GetCity(ctx, warsaw.ID)
	require.NoError(t, err)
	assert.Equal(t, warsaw, *got)

	_, err = s.GetCity(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetCity(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.CreateCity(ctx, &model.City{}))
}

func TestStores(t *testing.T) {
	s := newTestStore(t)
	_, st := seedStore(t, s)

	got, err := s.GetStore(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, st, *got)

	_, err = s.GetStore(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateAndGetPromotion_Localized(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, st := seedStore(t, s)

	start := time.Date(2024, 1, 31, 18, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	tr := Translations{}
	tr.Set("title", "pl", "Szczesliwa godzina")
	tr.Set("title", "en", "Happy hour")

	id, err := s.CreatePromotion(ctx, PromotionInput{
		StoreID:      st.ID,
		Title:        "base title",
		Description:  "base description",
		Translations: tr,
		StartsAt:     start,
		EndsAt:       &end,
		Recurring:    true,
		Frequency:    "Yearly",
	})
	require.NoError(t, err)

	tests := []struct {
		locale, fallback, title string
	}{
		{"pl", "en", "Szczesliwa godzina"},
		{"de", "en", "Happy hour"},
		{"de", "fr", "base title"},
	}
	for _, tt := range tests {
		p, err := s.GetPromotion(ctx, id, tt.locale, tt.fallback)
		require.NoError(t, err)
		assert.Equal(t, tt.title, p.Title, tt.locale)
		assert.Equal(t, "base description", p.Description)
	}

	p, err := s.GetPromotion(ctx, id, "en", "en")
	require.NoError(t, err)
	assert.True(t, p.StartsAt.Equal(start))
	require.NotNil(t, p.EndsAt)
	assert.True(t, p.EndsAt.Equal(end))
	assert.Equal(t, "annually", p.Frequency)
	assert.Equal(t, "Bistro", p.StoreName)
	assert.InDelta(t, 52.2, p.StoreLatitude, 1e-9)

	_, err = s.GetPromotion(ctx, "00000000-0000-0000-0000-000000000000", "en", "en")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreatePromotion_Rejects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, st := seedStore(t, s)
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	before := start.Add(-time.Hour)

	_, err := s.CreatePromotion(ctx, PromotionInput{StoreID: st.ID, StartsAt: start, Recurring: true, Frequency: "hourly"})
	assert.ErrorIs(t, err, recurrence.ErrInvalidRecurrenceFrequency)

	_, err = s.CreatePromotion(ctx, PromotionInput{StoreID: st.ID})
	assert.ErrorIs(t, err, recurrence.ErrMissingAnchor)

	_, err = s.CreatePromotion(ctx, PromotionInput{StoreID: st.ID, StartsAt: start, EndsAt: &before})
	assert.ErrorIs(t, err, recurrence.ErrInvalidDuration)

	_, err = s.CreatePromotion(ctx, PromotionInput{StoreID: "nope", StartsAt: start})
	assert.Error(t, err)
}

func TestListPromotions_IncludesRecurringAnchoredBeforeWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	city, st := seedStore(t, s)

	other := model.City{Title: "Gdansk"}
	require.NoError(t, s.CreateCity(ctx, &other))
	otherStore := model.Store{CityID: other.ID, Name: "Elsewhere"}
	require.NoError(t, s.CreateStore(ctx, &otherStore))

	windowEnd := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
	mk := func(storeID string, start time.Time, recurring bool, freq string) string {
		id, err := s.CreatePromotion(ctx, PromotionInput{
			StoreID: storeID, Title: freq, StartsAt: start, Recurring: recurring, Frequency: freq,
		})
		require.NoError(t, err)
		return id
	}
	old := mk(st.ID, time.Date(2023, 6, 5, 10, 0, 0, 0, time.UTC), true, "weekly")
	inside := mk(st.ID, time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC), false, "")
	mk(st.ID, time.Date(2024, 2, 10, 10, 0, 0, 0, time.UTC), true, "daily")
	mk(otherStore.ID, time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC), false, "")

	got, err := s.ListPromotions(ctx, Query{CityID: city.ID, Locale: "en", DefaultLocale: "en", StartsBefore: windowEnd})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, old, got[0].ID)
	assert.Equal(t, inside, got[1].ID)

	all, err := s.ListPromotions(ctx, Query{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestUpsertPromotionByExternalUID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, st := seedStore(t, s)

	in := PromotionInput{
		StoreID:     st.ID,
		ExternalUID: "evt-1@bistro",
		Title:       "Quiz night",
		StartsAt:    time.Date(2024, 1, 4, 19, 0, 0, 0, time.UTC),
		Recurring:   true,
		Frequency:   "weekly",
	}
	id1, err := s.UpsertPromotionByExternalUID(ctx, in)
	require.NoError(t, err)

	in.Title = "Pub quiz"
	in.Frequency = "fortnightly"
	id2, err := s.UpsertPromotionByExternalUID(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	p, err := s.GetPromotion(ctx, id1, "en", "en")
	require.NoError(t, err)
	assert.Equal(t, "Pub quiz", p.Title)
	assert.Equal(t, "biweekly", p.Frequency)
	assert.Equal(t, "evt-1@bistro", p.ExternalUID)

	in.ExternalUID = ""
	_, err = s.UpsertPromotionByExternalUID(ctx, in)
	assert.Error(t, err)
}

func TestListPromotions_KeepsUnknownStoredFrequency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, st := seedStore(t, s)

	id, err := s.CreatePromotion(ctx, PromotionInput{
		StoreID: st.ID, StartsAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), Recurring: true, Frequency: "weekly",
	})
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE promotions SET frequency = 'quarterly' WHERE id = ?`, id)
	require.NoError(t, err)

	got, err := s.ListPromotions(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "quarterly", got[0].Frequency)
	assert.ErrorIs(t, got[0].Descriptor().Validate(), recurrence.ErrInvalidRecurrenceFrequency)
}

func TestPruneImportedPromotions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, st := seedStore(t, s)
	_, other := seedStore(t, s)

	start := time.Date(2024, 1, 4, 19, 0, 0, 0, time.UTC)
	for _, uid := range []string{"a@bistro", "b@bistro", "c@bistro"} {
		_, err := s.UpsertPromotionByExternalUID(ctx, PromotionInput{StoreID: st.ID, ExternalUID: uid, Title: uid, StartsAt: start})
		require.NoError(t, err)
	}
	_, err := s.UpsertPromotionByExternalUID(ctx, PromotionInput{StoreID: other.ID, ExternalUID: "a@bistro", StartsAt: start})
	require.NoError(t, err)
	_, err = s.CreatePromotion(ctx, PromotionInput{StoreID: st.ID, Title: "manual", StartsAt: start})
	require.NoError(t, err)

	n, err := s.PruneImportedPromotions(ctx, st.ID, []string{"b@bistro"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.PruneImportedPromotions(ctx, other.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.ListPromotions(ctx, Query{})
	require.NoError(t, err)
	titles := make([]string, 0, len(got))
	for _, p := range got {
		titles = append(titles, p.Title)
	}
	assert.ElementsMatch(t, []string{"b@bistro", "manual"}, titles)

	_, err = s.PruneImportedPromotions(ctx, "not-a-uuid", nil)
	assert.Error(t, err)
}
