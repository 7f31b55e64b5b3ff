package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/samber/mo"

	"promocal/internal/config"
	"promocal/internal/ics"
	appLog "promocal/internal/log"
	"promocal/internal/promotions"
	"promocal/internal/recurrence"
	"promocal/internal/store"
)

const (
	localeCookie    = "locale"
	dateLayout      = "2006-01-02"
	shutdownTimeout = 10 * time.Second
)

// errBadRequest marks query input the client has to fix.
var errBadRequest = errors.New("bad request")

// Server exposes promotion occurrences over HTTP.
type Server struct {
	cfg    *config.Config
	svc    *promotions.Service
	cities store.CityDirectory
	mux    *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, svc *promotions.Service, cities store.CityDirectory) *Server {
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		cities: cities,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the routed handler wrapped with request logging.
func (s *Server) Handler() http.Handler {
	return logRequests(s.mux)
}

// ListenAndServe serves on cfg.Listen until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/cities", s.handleCities)
	s.mux.HandleFunc("GET /api/v1/promotions", s.handlePromotions)
	s.mux.HandleFunc("GET /api/v1/promotions.ics", s.handlePromotionsICS)
	s.mux.HandleFunc("GET /api/v1/promotions/{id}/occurrences", s.handlePromotionOccurrences)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleCities(w http.ResponseWriter, r *http.Request) {
	cities, err := s.cities.ListCities(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cities)
}

// handlePromotions lists occurrences of every promotion of a city.
//
// GET /api/v1/promotions?city_id=&locale=&from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *Server) handlePromotions(w http.ResponseWriter, r *http.Request) {
	res, ok := s.listFromRequest(w, r)
	if !ok {
		return
	}
	if len(res.Truncated) > 0 {
		w.Header().Set("X-Truncated-Promotions", strings.Join(res.Truncated, ","))
	}
	writeJSON(w, http.StatusOK, res.Occurrences)
}

// handlePromotionsICS serves the same selection as handlePromotions as an
// iCalendar feed.
func (s *Server) handlePromotionsICS(w http.ResponseWriter, r *http.Request) {
	res, ok := s.listFromRequest(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="promotions.ics"`)
	if err := ics.Encode(w, res.Occurrences, ics.EncodeOptions{Name: "Promotions"}); err != nil {
		appLog.Error("failed to write ICS response", err)
	}
}

// handlePromotionOccurrences expands one promotion.
//
// GET /api/v1/promotions/{id}/occurrences?locale=&from=&to=
func (s *Server) handlePromotionOccurrences(w http.ResponseWriter, r *http.Request) {
	window, err := s.parseWindow(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	locale := s.negotiateLocale(w, r)

	res, err := s.svc.Occurrences(r.Context(), r.PathValue("id"), locale, window)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Occurrences)
}

func (s *Server) listFromRequest(w http.ResponseWriter, r *http.Request) (promotions.Result, bool) {
	window, err := s.parseWindow(r)
	if err != nil {
		writeServiceError(w, err)
		return promotions.Result{}, false
	}
	locale := s.negotiateLocale(w, r)

	res, err := s.svc.List(r.Context(), promotions.Request{
		CityID: strings.TrimSpace(r.URL.Query().Get("city_id")),
		Locale: locale,
		Window: window,
	})
	if err != nil {
		writeServiceError(w, err)
		return promotions.Result{}, false
	}
	return res, true
}

// parseWindow reads from/to as whole days in the configured timezone. Both
// or neither must be present.
func (s *Server) parseWindow(r *http.Request) (mo.Option[recurrence.Window], error) {
	q := r.URL.Query()
	from, to := strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to"))
	if from == "" && to == "" {
		return mo.None[recurrence.Window](), nil
	}
	if from == "" || to == "" {
		return mo.None[recurrence.Window](), fmt.Errorf("%w: from and to must be given together", errBadRequest)
	}

	loc := s.svc.Config().Location
	fromDay, err := time.ParseInLocation(dateLayout, from, loc)
	if err != nil {
		return mo.None[recurrence.Window](), fmt.Errorf("%w: invalid from %q", errBadRequest, from)
	}
	toDay, err := time.ParseInLocation(dateLayout, to, loc)
	if err != nil {
		return mo.None[recurrence.Window](), fmt.Errorf("%w: invalid to %q", errBadRequest, to)
	}
	return mo.Some(recurrence.DateWindow(fromDay, toDay, loc)), nil
}

// negotiateLocale resolves the request locale and remembers it in a cookie.
func (s *Server) negotiateLocale(w http.ResponseWriter, r *http.Request) string {
	cfg := s.svc.Config()
	var cookie string
	if c, err := r.Cookie(localeCookie); err == nil {
		cookie = c.Value
	}
	locale := promotions.ResolveLocale(r.URL.Query().Get("locale"), cookie, cfg.Locales, cfg.DefaultLocale)
	if locale != cookie {
		http.SetCookie(w, &http.Cookie{
			Name:     localeCookie,
			Value:    locale,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return locale
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, recurrence.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, recurrence.ErrInvalidRecurrenceFrequency),
		errors.Is(err, recurrence.ErrMissingAnchor),
		errors.Is(err, recurrence.ErrInvalidDuration):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		appLog.Error("request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
