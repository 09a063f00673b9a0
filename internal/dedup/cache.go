package dedup

import (
	"container/list"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"job_harvester/internal/domain"
)

const (
	DefaultTTL        = 24 * time.Hour
	DefaultMaxEntries = 100_000
)

// Record is what a key maps to. All keys of one job share a record.
type Record struct {
	Keys      []string
	FirstSeen time.Time
	ExpiresAt time.Time
}

// Cache is an in-memory Checker with TTL expiry and a bound on the number of
// keys held. Records are kept in first-seen order, which is also expiry
// order, so both expiry and capacity eviction work from the oldest end.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // of *Record, oldest first
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	logger     *slog.Logger
}

// CacheConfig holds Cache limits. Zero values take the defaults.
type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

func NewCache(cfg CacheConfig, logger *slog.Logger) *Cache {
	return NewCacheWithClock(cfg, logger, time.Now)
}

func NewCacheWithClock(cfg CacheConfig, logger *slog.Logger, now func() time.Time) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	return &Cache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		now:        now,
		logger:     logger.With("component", "dedup_cache"),
	}
}

// IsDuplicate reports whether any key of job is known. If none is, all of
// them are recorded before the lock is released, so concurrent callers with
// the same job see exactly one false.
func (c *Cache) IsDuplicate(_ context.Context, job *domain.NormalizedJob) (bool, error) {
	keys := Keys(job)
	if len(keys) == 0 {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.expireLocked(now)

	for _, k := range keys {
		if _, ok := c.entries[k]; ok {
			return true, nil
		}
	}

	rec := &Record{Keys: keys, FirstSeen: now, ExpiresAt: now.Add(c.ttl)}
	el := c.order.PushBack(rec)
	for _, k := range keys {
		c.entries[k] = el
	}
	c.evictLocked()

	return false, nil
}

// Forget drops the record created when job was first seen. Keys that have
// since been taken over by another record are left alone.
func (c *Cache) Forget(_ context.Context, job *domain.NormalizedJob) error {
	keys := Keys(job)
	if len(keys) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[keys[0]]
	if !ok || !slices.Equal(el.Value.(*Record).Keys, keys) {
		return nil
	}
	c.removeLocked(el)
	return nil
}

// Lookup returns the record holding key, if it is live.
func (c *Cache) Lookup(key string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return Record{}, false
	}
	rec := el.Value.(*Record)
	if !c.now().Before(rec.ExpiresAt) {
		return Record{}, false
	}
	return *rec, true
}

// Len returns the number of keys held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep drops expired records and returns how many keys were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expireLocked(c.now())
}

// StartSweeper runs Sweep every interval until ctx is done.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					c.logger.Debug("swept expired keys", "removed", n, "remaining", c.Len())
				}
			}
		}
	}()
}

func (c *Cache) expireLocked(now time.Time) int {
	removed := 0
	for el := c.order.Front(); el != nil; el = c.order.Front() {
		rec := el.Value.(*Record)
		if now.Before(rec.ExpiresAt) {
			break
		}
		removed += c.removeLocked(el)
	}
	return removed
}

func (c *Cache) evictLocked() {
	evicted := 0
	for len(c.entries) > c.maxEntries && c.order.Len() > 1 {
		evicted += c.removeLocked(c.order.Front())
	}
	if evicted > 0 {
		c.logger.Debug("evicted oldest keys over capacity", "evicted", evicted, "max_entries", c.maxEntries)
	}
}

func (c *Cache) removeLocked(el *list.Element) int {
	rec := c.order.Remove(el).(*Record)
	removed := 0
	for _, k := range rec.Keys {
		if c.entries[k] == el {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
