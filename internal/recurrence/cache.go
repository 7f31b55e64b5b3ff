package recurrence

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"sync"
	"time"
)

// CacheConfig holds configuration for the expansion cache.
type CacheConfig struct {
	TTL             time.Duration // How long entries stay valid
	MaxEntries      int           // Entries kept before least recently used ones are evicted
	CleanupInterval time.Duration // How often expired entries are swept
}

// DefaultCacheConfig keeps expansions for a quarter of an hour.
var DefaultCacheConfig = CacheConfig{
	TTL:             15 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: 5 * time.Minute,
}

type cacheEntry struct {
	occurrences []Occurrence
	expiresAt   time.Time
	accessedAt  time.Time
}

// CacheStats describes the cache content at a point in time.
type CacheStats struct {
	TotalEntries   int
	ExpiredEntries int
	ActiveEntries  int
	Hits           uint64
	Misses         uint64
	// Occurrences is the number of occurrences held across all entries.
	Occurrences int
}

// Cache memoizes expansions keyed by promotion id, frequency, anchor and
// window. It is optional: a nil *Cache expands on every call.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	hits    uint64
	misses  uint64

	ttl        time.Duration
	maxEntries int

	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewCache creates a cache and starts its cleanup goroutine. Call Close to
// stop it.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheConfig.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheConfig.MaxEntries
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCacheConfig.CleanupInterval
	}

	c := &Cache{
		entries:    make(map[string]*cacheEntry),
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		stop:       make(chan struct{}),
		now:        time.Now,
	}
	go c.cleanupLoop(cfg.CleanupInterval)
	return c
}

// Expand returns the cached expansion of d over w for the given promotion, or
// computes and stores it. Validation errors are never cached.
func (c *Cache) Expand(promotionID string, d Descriptor, w Window) ([]Occurrence, error) {
	return c.ExpandLimit(promotionID, d, w, 0)
}

// ExpandLimit is Expand holding at most limit occurrences, both in the result
// and in the stored entry. Entries for different limits are kept apart.
func (c *Cache) ExpandLimit(promotionID string, d Descriptor, w Window, limit int) ([]Occurrence, error) {
	if limit < 0 {
		limit = 0
	}
	if c == nil {
		return ExpandLimit(d, w, limit)
	}

	key := cacheKey(promotionID, d, w, limit)
	if occs, ok := c.get(key); ok {
		return occs, nil
	}

	occs, err := ExpandLimit(d, w, limit)
	if err != nil {
		return nil, err
	}
	c.set(key, occs)
	return cloneOccurrences(occs), nil
}

// Invalidate drops every entry. Used after promotions are re-imported.
func (c *Cache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

func (c *Cache) get(key string) ([]Occurrence, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if now.After(entry.expiresAt) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	entry.accessedAt = now
	c.hits++
	return cloneOccurrences(entry.occurrences), true
}

func (c *Cache) set(key string, occs []Occurrence) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &cacheEntry{
		occurrences: cloneOccurrences(occs),
		expiresAt:   now.Add(c.ttl),
		accessedAt:  now,
	}
	if len(c.entries) > c.maxEntries {
		c.cleanupLocked(now)
	}
}

// cleanupLocked removes expired entries, then the least recently accessed
// ones until the cache is within maxEntries. Caller must hold mu.
func (c *Cache) cleanupLocked(now time.Time) {
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}

	type keyAccess struct {
		key        string
		accessedAt time.Time
	}
	byAccess := make([]keyAccess, 0, len(c.entries))
	for key, entry := range c.entries {
		byAccess = append(byAccess, keyAccess{key: key, accessedAt: entry.accessedAt})
	}
	sort.Slice(byAccess, func(i, j int) bool {
		return byAccess[i].accessedAt.Before(byAccess[j].accessedAt)
	})

	excess := len(c.entries) - c.maxEntries
	for i := 0; i < excess; i++ {
		delete(c.entries, byAccess[i].key)
	}
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.cleanupLocked(c.now())
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

// Close stops the cleanup goroutine and clears the cache. It is safe to call
// more than once.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.stopOnce.Do(func() { close(c.stop) })
	c.Invalidate()
}

// Stats returns cache statistics.
func (c *Cache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CacheStats{TotalEntries: len(c.entries), Hits: c.hits, Misses: c.misses}
	for _, entry := range c.entries {
		if now.After(entry.expiresAt) {
			stats.ExpiredEntries++
		}
		stats.Occurrences += len(entry.occurrences)
	}
	stats.ActiveEntries = stats.TotalEntries - stats.ExpiredEntries
	return stats
}

func cacheKey(promotionID string, d Descriptor, w Window, limit int) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	write(promotionID)
	write(strconv.FormatBool(d.Recurring))
	write(string(d.Frequency))
	write(d.AnchorStart.Format(time.RFC3339Nano))
	write(d.AnchorStart.Location().String())
	if end, ok := d.AnchorEnd.Get(); ok {
		write(end.Format(time.RFC3339Nano))
	} else {
		write("-")
	}
	write(w.From.Format(time.RFC3339Nano))
	write(w.To.Format(time.RFC3339Nano))
	write(strconv.Itoa(limit))

	return hex.EncodeToString(h.Sum(nil))
}

func cloneOccurrences(occs []Occurrence) []Occurrence {
	out := make([]Occurrence, len(occs))
	copy(out, occs)
	return out
}
