package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"promocal/internal/ics"
	appLog "promocal/internal/log"
	"promocal/internal/recurrence"
	"promocal/internal/store"
)

const defaultJobTimeout = 5 * time.Minute

// FeedFetcher downloads a feed body.
type FeedFetcher interface {
	Fetch(ctx context.Context, feed ics.Feed) (ics.FetchResult, error)
}

// PromotionWriter stores imported promotions.
type PromotionWriter interface {
	UpsertPromotionByExternalUID(ctx context.Context, in store.PromotionInput) (string, error)
	PruneImportedPromotions(ctx context.Context, storeID string, keep []string) (int, error)
}

// Report summarizes one sync pass.
type Report struct {
	Feeds    int
	Imported int
	Removed  int
	Failed   int
}

// FeedSync imports store ICS feeds into promotions on a cron schedule.
type FeedSync struct {
	cronEngine *cron.Cron
	spec       string
	feeds      []ics.Feed
	fetcher    FeedFetcher
	writer     PromotionWriter
	cache      *recurrence.Cache
	loc        *time.Location

	// runMu keeps a manual RunOnce and the cron job from overlapping.
	runMu sync.Mutex
}

// NewFeedSync builds a scheduler; cache may be nil.
func NewFeedSync(spec string, feeds []ics.Feed, fetcher FeedFetcher, writer PromotionWriter, cache *recurrence.Cache, loc *time.Location) *FeedSync {
	if loc == nil {
		loc = time.Local
	}
	logger := cron.PrintfLogger(appLog.Logger())
	return &FeedSync{
		cronEngine: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		spec:    spec,
		feeds:   feeds,
		fetcher: fetcher,
		writer:  writer,
		cache:   cache,
		loc:     loc,
	}
}

// Start registers the sync job and starts the cron engine. Without feeds it
// does nothing.
func (s *FeedSync) Start() error {
	if len(s.feeds) == 0 {
		appLog.Info("feed sync disabled: no feeds configured")
		return nil
	}
	_, err := s.cronEngine.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultJobTimeout)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			appLog.Error("feed sync finished with errors", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule feed sync %q: %w", s.spec, err)
	}
	s.cronEngine.Start()
	appLog.Info("feed sync scheduled", "spec", s.spec, "feeds", len(s.feeds))
	return nil
}

// Stop stops the cron engine and waits for a running job.
func (s *FeedSync) Stop() {
	ctx := s.cronEngine.Stop()
	<-ctx.Done()
	appLog.Info("feed sync stopped")
}

// RunOnce fetches, parses and upserts every feed. Per-feed failures do not
// stop the pass; they are joined into the returned error.
func (s *FeedSync) RunOnce(ctx context.Context) (Report, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	var (
		rep  = Report{Feeds: len(s.feeds)}
		errs []error
	)
	for _, feed := range s.feeds {
		imported, removed, err := s.syncFeed(ctx, feed)
		rep.Imported += imported
		rep.Removed += removed
		if err != nil {
			rep.Failed++
			errs = append(errs, err)
			appLog.Error("feed sync failed", err, "feed_id", feed.ID)
		}
	}

	if rep.Imported > 0 || rep.Removed > 0 {
		s.cache.Invalidate()
	}
	appLog.Info("feed sync done",
		"feeds", rep.Feeds,
		"imported", rep.Imported,
		"removed", rep.Removed,
		"failed", rep.Failed,
	)
	return rep, errors.Join(errs...)
}

// syncFeed upserts every event of the feed, then removes the store's
// imported promotions whose event has left the feed. Nothing is removed
// when the feed could not be fully imported.
func (s *FeedSync) syncFeed(ctx context.Context, feed ics.Feed) (imported, removed int, err error) {
	res, err := s.fetcher.Fetch(ctx, feed)
	if err != nil {
		return 0, 0, err
	}
	drafts, err := ics.ParsePromotions(feed, res.Body, s.loc)
	if err != nil {
		return 0, 0, err
	}

	seen := make([]string, 0, len(drafts))
	for _, d := range drafts {
		if err := ctx.Err(); err != nil {
			return imported, 0, err
		}
		in := store.PromotionInput{
			StoreID:     feed.StoreID,
			ExternalUID: d.UID,
			Title:       d.Summary,
			Description: d.Description,
			StartsAt:    d.Start,
			EndsAt:      d.End,
			Recurring:   d.Recurring,
			Frequency:   d.Frequency.String(),
		}
		if _, err := s.writer.UpsertPromotionByExternalUID(ctx, in); err != nil {
			return imported, 0, fmt.Errorf("feed %s: %w", feed.ID, err)
		}
		seen = append(seen, d.UID)
		imported++
	}

	removed, err = s.writer.PruneImportedPromotions(ctx, feed.StoreID, seen)
	if err != nil {
		return imported, 0, fmt.Errorf("feed %s: %w", feed.ID, err)
	}
	if removed > 0 {
		appLog.Info("removed promotions no longer in feed", "feed_id", feed.ID, "removed", removed)
	}
	return imported, removed, nil
}
