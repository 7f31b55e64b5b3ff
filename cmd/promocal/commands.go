package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/mo"
	"github.com/urfave/cli"

	"promocal/internal/config"
	"promocal/internal/ics"
	appLog "promocal/internal/log"
	"promocal/internal/promotions"
	"promocal/internal/recurrence"
	"promocal/internal/scheduler"
	"promocal/internal/store"
	"promocal/internal/web"
)

var (
	importStoreID string
	importFile    string
	importURL     string

	importFlags = []cli.Flag{
		cli.StringFlag{Name: "store, s", Usage: "store id the promotions belong to", Destination: &importStoreID},
		cli.StringFlag{Name: "file, f", Usage: "path to an .ics file", Destination: &importFile},
		cli.StringFlag{Name: "url, u", Usage: "ICS feed URL", Destination: &importURL},
	}

	expandPromotionID string
	expandFrom        string
	expandTo          string
	expandLocale      string

	expandFlags = []cli.Flag{
		cli.StringFlag{Name: "promotion, p", Usage: "promotion id", Destination: &expandPromotionID},
		cli.StringFlag{Name: "from", Usage: "first day (YYYY-MM-DD)", Destination: &expandFrom},
		cli.StringFlag{Name: "to", Usage: "last day (YYYY-MM-DD)", Destination: &expandTo},
		cli.StringFlag{Name: "locale, l", Usage: "locale of title and description", Destination: &expandLocale},
	}
)

// deps bundles what every command needs.
type deps struct {
	cfg   *config.Config
	db    *store.SQLStore
	cache *recurrence.Cache
}

func setup() (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	appLog.Init(cfg.Log.Level, cfg.Log.Format)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	a := &deps{cfg: cfg, db: db}
	if cfg.Cache.Enabled {
		a.cache = recurrence.NewCache(recurrence.CacheConfig{
			TTL:             cfg.Cache.TTL,
			MaxEntries:      cfg.Cache.MaxEntries,
			CleanupInterval: cfg.Cache.CleanupInterval,
		})
	}
	return a, nil
}

func (a *deps) close() {
	a.cache.Close()
	if err := a.db.Close(); err != nil {
		appLog.Error("failed to close database", err)
	}
}

func (a *deps) service() *promotions.Service {
	return promotions.NewService(a.db, a.db, a.cache, promotions.ConfigFrom(a.cfg))
}

func serve(_ *cli.Context) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	appLog.Info("promocal starting",
		"version", version,
		"listen", a.cfg.Listen,
		"timezone", a.cfg.Timezone,
		"database", a.cfg.Database.Driver,
		"feeds", len(a.cfg.Feeds),
		"cache", a.cfg.Cache.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.db.Migrate(ctx); err != nil {
		return err
	}

	feeds := make([]ics.Feed, 0, len(a.cfg.Feeds))
	for _, f := range a.cfg.Feeds {
		id := f.ID
		if id == "" {
			id = f.URL
		}
		feeds = append(feeds, ics.Feed{ID: id, StoreID: f.StoreID, URL: f.URL})
	}
	feedSync := scheduler.NewFeedSync(a.cfg.FeedSync, feeds, ics.NewFetcher(a.cfg.CacheDir, nil), a.db, a.cache, a.cfg.Location())
	if err := feedSync.Start(); err != nil {
		return err
	}
	defer feedSync.Stop()

	err = web.NewServer(a.cfg, a.service(), a.db).ListenAndServe(ctx)
	appLog.Info("promocal exiting")
	return err
}

func migrate(_ *cli.Context) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.db.Migrate(context.Background()); err != nil {
		return err
	}
	appLog.Info("schema is up to date", "driver", a.cfg.Database.Driver)
	return nil
}

func importICS(_ *cli.Context) error {
	if importStoreID == "" {
		return errors.New("--store is required")
	}
	if (importFile == "") == (importURL == "") {
		return errors.New("exactly one of --file or --url is required")
	}

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	if err := a.db.Migrate(ctx); err != nil {
		return err
	}
	if _, err := a.db.GetStore(ctx, importStoreID); err != nil {
		return fmt.Errorf("store %s: %w", importStoreID, err)
	}

	feed := ics.Feed{ID: importFile + importURL, StoreID: importStoreID, URL: importURL}
	var fetcher scheduler.FeedFetcher = ics.NewFetcher(a.cfg.CacheDir, nil)
	if importFile != "" {
		fetcher = fileFetcher{path: importFile}
	}

	rep, err := scheduler.NewFeedSync(a.cfg.FeedSync, []ics.Feed{feed}, fetcher, a.db, a.cache, a.cfg.Location()).RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d promotions, removed %d\n", rep.Imported, rep.Removed)
	return nil
}

// fileFetcher serves a feed body from disk.
type fileFetcher struct {
	path string
}

func (f fileFetcher) Fetch(_ context.Context, feed ics.Feed) (ics.FetchResult, error) {
	body, err := os.ReadFile(f.path)
	if err != nil {
		return ics.FetchResult{}, err
	}
	return ics.FetchResult{Feed: feed, Body: body}, nil
}

func expand(_ *cli.Context) error {
	if expandPromotionID == "" {
		return errors.New("--promotion is required")
	}

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	window := mo.None[recurrence.Window]()
	if expandFrom != "" || expandTo != "" {
		loc := a.cfg.Location()
		from, err := time.ParseInLocation("2006-01-02", expandFrom, loc)
		if err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
		to, err := time.ParseInLocation("2006-01-02", expandTo, loc)
		if err != nil {
			return fmt.Errorf("invalid --to: %w", err)
		}
		window = mo.Some(recurrence.DateWindow(from, to, loc))
	}

	svc := a.service()
	locale := promotions.ResolveLocale(expandLocale, "", svc.Config().Locales, svc.Config().DefaultLocale)
	res, err := svc.Occurrences(context.Background(), expandPromotionID, locale, window)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Occurrences)
}
