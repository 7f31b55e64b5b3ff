package promotions

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/samber/mo"

	"promocal/internal/config"
	appLog "promocal/internal/log"
	"promocal/internal/model"
	"promocal/internal/recurrence"
	"promocal/internal/store"
)

const defaultMaxOccurrencesPerPromotion = 5000

// ErrTruncated is logged when a promotion hits the per-promotion cap.
var ErrTruncated = errors.New("max occurrences reached")

// Config controls window defaults and caps of a Service.
type Config struct {
	// Location is the timezone occurrences are expanded and reported in.
	// If nil, time.Local is used.
	Location *time.Location
	// WeekStart is the first day of the default window.
	WeekStart time.Weekday
	// WindowMonths is how far past now the default window reaches.
	WindowMonths int
	// MaxOccurrencesPerPromotion caps a single promotion's expansion. If
	// zero, defaultMaxOccurrencesPerPromotion is used.
	MaxOccurrencesPerPromotion int

	DefaultLocale string
	Locales       []string
}

// ConfigFrom derives the service configuration from the application config.
func ConfigFrom(cfg *config.Config) Config {
	ws := time.Monday
	if cfg.WeekStart == "sunday" {
		ws = time.Sunday
	}
	return Config{
		Location:                   cfg.Location(),
		WeekStart:                  ws,
		WindowMonths:               cfg.WindowMonths,
		MaxOccurrencesPerPromotion: cfg.MaxOccurrencesPerPromotion,
		DefaultLocale:              cfg.DefaultLocale,
		Locales:                    append([]string(nil), cfg.Locales...),
	}
}

// Request selects the occurrences to list.
type Request struct {
	// CityID limits the listing to one city; empty lists every city.
	CityID string
	Locale string
	// Window defaults to DefaultWindow when absent.
	Window mo.Option[recurrence.Window]
}

// Skipped names a promotion that could not be expanded.
type Skipped struct {
	PromotionID string `json:"promotionId"`
	Reason      string `json:"reason"`
}

// Result is the flat, start-ordered list of occurrences of a listing.
type Result struct {
	Window      recurrence.Window
	Occurrences []model.PromotionOccurrence
	// Skipped lists promotions whose stored recurrence data is invalid.
	Skipped []Skipped
	// Truncated lists promotions that hit MaxOccurrencesPerPromotion.
	Truncated []string
}

// Service turns stored promotions into dated occurrences.
type Service struct {
	source store.PromotionSource
	cities store.CityDirectory
	cache  *recurrence.Cache
	cfg    Config
	now    func() time.Time
}

// NewService wires a Service. cities and cache may be nil.
func NewService(source store.PromotionSource, cities store.CityDirectory, cache *recurrence.Cache, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerPromotion <= 0 {
		cfg.MaxOccurrencesPerPromotion = defaultMaxOccurrencesPerPromotion
	}
	if cfg.WindowMonths <= 0 {
		cfg.WindowMonths = 1
	}
	if cfg.DefaultLocale == "" {
		cfg.DefaultLocale = "en"
	}
	return &Service{source: source, cities: cities, cache: cache, cfg: cfg, now: time.Now}
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// DefaultWindow runs from the start of the current week to WindowMonths
// from now.
func (s *Service) DefaultWindow() recurrence.Window {
	now := s.now().In(s.cfg.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.cfg.Location)
	back := (int(today.Weekday()) - int(s.cfg.WeekStart) + 7) % 7
	return recurrence.Window{
		From: today.AddDate(0, 0, -back),
		To:   now.AddDate(0, s.cfg.WindowMonths, 0),
	}
}

// List expands every promotion of the requested city within the window.
func (s *Service) List(ctx context.Context, req Request) (Result, error) {
	w := req.Window.OrElse(s.DefaultWindow())
	if err := w.Validate(); err != nil {
		return Result{}, err
	}

	if req.CityID != "" && s.cities != nil {
		if _, err := s.cities.GetCity(ctx, req.CityID); err != nil {
			return Result{}, err
		}
	}

	promos, err := s.source.ListPromotions(ctx, store.Query{
		CityID:        req.CityID,
		Locale:        req.Locale,
		DefaultLocale: s.cfg.DefaultLocale,
		StartsBefore:  w.To,
	})
	if err != nil {
		return Result{}, fmt.Errorf("list promotions: %w", err)
	}

	res := Result{Window: w, Occurrences: []model.PromotionOccurrence{}}
	for _, p := range promos {
		// Invalid promotions are reported in res.Skipped.
		_ = s.expandInto(&res, p, w)
	}
	sortOccurrences(res.Occurrences)

	appLog.Debug("promotions: listed",
		"city_id", req.CityID,
		"locale", req.Locale,
		"promotions", len(promos),
		"occurrences", len(res.Occurrences),
		"skipped", len(res.Skipped),
	)
	return res, nil
}

// Occurrences expands a single promotion within the window.
func (s *Service) Occurrences(ctx context.Context, promotionID, locale string, window mo.Option[recurrence.Window]) (Result, error) {
	w := window.OrElse(s.DefaultWindow())
	if err := w.Validate(); err != nil {
		return Result{}, err
	}
	p, err := s.source.GetPromotion(ctx, promotionID, locale, s.cfg.DefaultLocale)
	if err != nil {
		return Result{}, err
	}

	res := Result{Window: w, Occurrences: []model.PromotionOccurrence{}}
	if err := s.expandInto(&res, *p, w); err != nil {
		return res, fmt.Errorf("promotion %s: %w", p.ID, err)
	}
	return res, nil
}

// expandInto appends the occurrences of p to res. A promotion with invalid
// recurrence data is recorded in res.Skipped and its error returned.
func (s *Service) expandInto(res *Result, p model.Promotion, w recurrence.Window) error {
	d := p.Descriptor()
	// Wall-clock recurrence follows the configured zone, not the zone the
	// anchor happened to be stored in.
	d.AnchorStart = d.AnchorStart.In(s.cfg.Location)
	if end, ok := d.AnchorEnd.Get(); ok {
		d.AnchorEnd = mo.Some(end.In(s.cfg.Location))
	}

	occs, err := s.expand(p.ID, d, w)
	if err != nil {
		appLog.Warn("promotions: skipping promotion with invalid recurrence",
			"promotion_id", p.ID,
			"frequency", p.Frequency,
			"error", err.Error(),
		)
		res.Skipped = append(res.Skipped, Skipped{PromotionID: p.ID, Reason: err.Error()})
		return err
	}

	if limit := s.cfg.MaxOccurrencesPerPromotion; len(occs) > limit {
		occs = occs[:limit]
		res.Truncated = append(res.Truncated, p.ID)
		appLog.Error("promotions: truncated occurrences due to cap", ErrTruncated,
			"promotion_id", p.ID,
			"cap", limit,
		)
	}

	for _, occ := range occs {
		res.Occurrences = append(res.Occurrences, model.NewPromotionOccurrence(p, occ, s.cfg.Location))
	}
	return nil
}

// expand pulls one past the cap so truncation can be detected. The cache,
// when configured, only ever holds that many occurrences per entry.
func (s *Service) expand(id string, d recurrence.Descriptor, w recurrence.Window) ([]recurrence.Occurrence, error) {
	return s.cache.ExpandLimit(id, d, w, s.cfg.MaxOccurrencesPerPromotion+1)
}

func sortOccurrences(occs []model.PromotionOccurrence) {
	slices.SortStableFunc(occs, func(a, b model.PromotionOccurrence) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return strings.Compare(a.PromotionID, b.PromotionID)
	})
}

// ResolveLocale picks the locale of a request: the query parameter when it
// names an available locale, then the cookie, then def. The literal
// "undefined" sent by some clients counts as absent.
func ResolveLocale(param, cookie string, available []string, def string) string {
	for _, candidate := range []string{param, cookie} {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		if candidate == "" || candidate == "undefined" {
			continue
		}
		if slices.Contains(available, candidate) {
			return candidate
		}
	}
	return def
}
