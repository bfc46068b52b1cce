// Package cache provides a byte-budgeted LRU cache for folder listings,
// message summaries, and full messages, with single-flight fill so
// concurrent misses for the same key fetch once.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"golang.org/x/sync/singleflight"

	"github.com/infodancer/outlook-mcp/internal/metrics"
)

// Tier labels what kind of value an entry holds. TTLs and metrics are
// per tier; the byte budget is shared.
type Tier string

const (
	TierFolder  Tier = "folder"
	TierSummary Tier = "summary"
	TierEmail   Tier = "email"
)

// purgeTarget is the fraction of the budget eviction purges down to.
const purgeTarget = 0.8

// Config holds cache settings.
type Config struct {
	MaxBytes        int64
	EmailTTL        time.Duration
	FolderTTL       time.Duration
	CleanupInterval time.Duration
}

// Stats is a point-in-time snapshot for the health endpoint.
type Stats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

type entry struct {
	key     string
	tier    Tier
	value   any
	size    int64
	expires time.Time
}

// Cache is a shared LRU over all three tiers. Safe for concurrent use.
type Cache struct {
	cfg       Config
	clk       clock.Clock
	logger    *slog.Logger
	collector metrics.Collector
	group     singleflight.Group

	mu      sync.Mutex
	items   map[string]*list.Element
	lru     *list.List
	bytes   int64
	hits    int64
	misses  int64
	stopped bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a cache and starts its cleanup loop.
func New(cfg Config, clk clock.Clock, logger *slog.Logger, collector metrics.Collector) *Cache {
	if clk == nil {
		clk = clock.New()
	}
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	c := &Cache{
		cfg:       cfg,
		clk:       clk,
		logger:    logger,
		collector: collector,
		items:     make(map[string]*list.Element),
		lru:       list.New(),
		stopCh:    make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		c.wg.Add(1)
		go c.cleanupLoop()
	}
	return c
}

// FolderListKey is the key for the cached folder tree.
func FolderListKey() string { return "folders" }

// ListKey is the key for one folder listing variant.
func ListKey(folderID string, unreadOnly bool, limit int) string {
	return fmt.Sprintf("list:%s:%t:%d", folderID, unreadOnly, limit)
}

// SearchKey is the key for one search result set. The folder ID is
// length-prefixed because folder IDs may themselves contain the
// separator.
func SearchKey(query, folderID string, limit int) string {
	return fmt.Sprintf("search:%d:%s:%s:%d", len(folderID), folderID, query, limit)
}

// EmailKey is the key for one full message.
func EmailKey(emailID string) string { return "email:" + emailID }

// ttl returns the configured lifetime for a tier.
func (c *Cache) ttl(tier Tier) time.Duration {
	if tier == TierFolder {
		return c.cfg.FolderTTL
	}
	return c.cfg.EmailTTL
}

// Get returns the live value for key, if any.
func (c *Cache) Get(tier Tier, key string) (any, bool) {
	now := c.clk.Now()

	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.misses++
		c.mu.Unlock()
		c.collector.CacheMiss(string(tier))
		return nil, false
	}
	e := el.Value.(*entry)
	if now.After(e.expires) {
		c.removeLocked(el)
		c.misses++
		c.mu.Unlock()
		c.collector.CacheMiss(string(tier))
		return nil, false
	}
	c.lru.MoveToFront(el)
	c.hits++
	v := e.value
	c.mu.Unlock()
	c.collector.CacheHit(string(tier))
	return v, true
}

// Set stores a value with the tier's TTL. Oversized entries that exceed
// the whole budget are not cached.
func (c *Cache) Set(tier Tier, key string, value any, size int64) {
	if size > c.cfg.MaxBytes {
		return
	}
	now := c.clk.Now()

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
	e := &entry{key: key, tier: tier, value: value, size: size, expires: now.Add(c.ttl(tier))}
	c.items[key] = c.lru.PushFront(e)
	c.bytes += size
	evicted := c.evictLocked()
	c.mu.Unlock()

	for tier, n := range evicted {
		c.collector.CacheEvict(tier, n)
	}
}

// GetOrFill returns the cached value or runs fill once per key across
// concurrent callers. fill returns the value and its size estimate.
func (c *Cache) GetOrFill(ctx context.Context, tier Tier, key string, fill func(ctx context.Context) (any, int64, error)) (any, error) {
	if v, ok := c.Get(tier, key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent filler may have finished while we queued.
		if v, ok := c.Get(tier, key); ok {
			return v, nil
		}
		v, size, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(tier, key, v, size)
		return v, nil
	})
	return v, err
}

// Invalidate drops every entry whose key starts with prefix and returns
// the number removed.
func (c *Cache) Invalidate(prefix string) int {
	c.mu.Lock()
	var victims []*list.Element
	for key, el := range c.items {
		if strings.HasPrefix(key, prefix) {
			victims = append(victims, el)
		}
	}
	for _, el := range victims {
		c.removeLocked(el)
	}
	c.mu.Unlock()
	return len(victims)
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.items = make(map[string]*list.Element)
	c.lru.Init()
	c.bytes = 0
	c.mu.Unlock()
}

// Stats returns a snapshot of cache occupancy and hit counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries: len(c.items),
		Bytes:   c.bytes,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

// Close stops the cleanup loop.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()
	close(c.stopCh)
	c.wg.Wait()
}

// removeLocked unlinks one entry. Caller holds c.mu.
func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.lru.Remove(el)
	delete(c.items, e.key)
	c.bytes -= e.size
}

// evictLocked purges LRU entries until usage is at or under the purge
// target. Caller holds c.mu. Returns evictions per tier.
func (c *Cache) evictLocked() map[string]int {
	if c.bytes <= c.cfg.MaxBytes {
		return nil
	}
	target := int64(float64(c.cfg.MaxBytes) * purgeTarget)
	evicted := make(map[string]int)
	for c.bytes > target {
		el := c.lru.Back()
		if el == nil {
			break
		}
		e := el.Value.(*entry)
		c.removeLocked(el)
		evicted[string(e.tier)]++
	}
	return evicted
}

// cleanupLoop periodically drops expired entries.
func (c *Cache) cleanupLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.dropExpired()
		}
	}
}

// dropExpired removes every entry past its TTL.
func (c *Cache) dropExpired() {
	now := c.clk.Now()

	c.mu.Lock()
	var victims []*list.Element
	for _, el := range c.items {
		if now.After(el.Value.(*entry).expires) {
			victims = append(victims, el)
		}
	}
	expired := make(map[string]int)
	for _, el := range victims {
		expired[string(el.Value.(*entry).tier)]++
		c.removeLocked(el)
	}
	c.mu.Unlock()

	for tier, n := range expired {
		c.collector.CacheEvict(tier, n)
	}
}
