package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
)

// LRUConfig configures the in-process LRU adapter.
type LRUConfig struct {
	// MaxItems bounds the number of entries the cache holds. Default 10000.
	MaxItems int
	// DefaultTTL is used when Set is called with ttl <= 0.
	DefaultTTL time.Duration
	// CleanupInterval, if > 0, starts a background goroutine that sweeps
	// expired entries on this interval. Zero disables the sweep; expired
	// entries are still reclaimed lazily on Get.
	CleanupInterval time.Duration
	// Logger receives debug messages from the background sweep. Defaults
	// to a no-op logger.
	Logger *zap.Logger
}

// DefaultLRUConfig returns sensible defaults for an in-process cache.
func DefaultLRUConfig() LRUConfig {
	return LRUConfig{
		MaxItems:   10000,
		DefaultTTL: 5 * time.Minute,
	}
}

type lruItem struct {
	entry        Entry
	expiresAt    time.Time
	lastAccessed time.Time
}

// LRUCache is an in-process, bounded, TTL-aware cache. Entries are evicted
// by capacity (least recently inserted or read first: a Get moves the key
// to the front, per simplelru.LRU's ordering) and by
// expiry (lazily on Get, and optionally by a background sweep).
type LRUCache struct {
	mu         sync.Mutex
	lru        *simplelru.LRU[string, *lruItem]
	defaultTTL time.Duration
	logger     *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

var _ Cache = (*LRUCache)(nil)
var _ Clearer = (*LRUCache)(nil)
var _ Sizer = (*LRUCache)(nil)
var _ Destroyer = (*LRUCache)(nil)

// NewLRUCache constructs an LRUCache from cfg, filling in defaults for
// zero-valued fields.
func NewLRUCache(cfg LRUConfig) (*LRUCache, error) {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultLRUConfig().MaxItems
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultLRUConfig().DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	inner, err := simplelru.NewLRU[string, *lruItem](cfg.MaxItems, nil)
	if err != nil {
		return nil, err
	}

	c := &LRUCache{
		lru:        inner,
		defaultTTL: cfg.DefaultTTL,
		logger:     cfg.Logger,
		stopCh:     make(chan struct{}),
	}

	if cfg.CleanupInterval > 0 {
		go c.sweepLoop(cfg.CleanupInterval)
	}

	return c, nil
}

// Get implements Cache. A hit that is found to be expired is evicted and
// reported as a miss.
func (c *LRUCache) Get(_ context.Context, key string) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.lru.Get(key)
	if !ok {
		return Entry{}, false, nil
	}
	if !item.expiresAt.After(timeNow()) {
		c.lru.Remove(key)
		return Entry{}, false, nil
	}
	item.lastAccessed = timeNow()
	return item.entry, true, nil
}

// Set implements Cache. If the cache is at capacity and key is new, the
// oldest entry (by insertion/re-insertion order) is evicted by simplelru
// before the new entry is inserted.
func (c *LRUCache) Set(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := timeNow()
	c.lru.Add(key, &lruItem{
		entry:        entry,
		expiresAt:    now.Add(ttl),
		lastAccessed: now,
	})
	return nil
}

// Del implements Cache.
func (c *LRUCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
	return nil
}

// Clear implements Clearer.
func (c *LRUCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	return nil
}

// Size implements Sizer.
func (c *LRUCache) Size(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len(), nil
}

// Destroy implements Destroyer. It stops the background sweep, if any, and
// drops all entries. Safe to call more than once.
func (c *LRUCache) Destroy() error {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	return nil
}

func (c *LRUCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

func (c *LRUCache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := timeNow()
	var expired []string
	for _, key := range c.lru.Keys() {
		item, ok := c.lru.Peek(key)
		if ok && !item.expiresAt.After(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		c.lru.Remove(key)
	}
	if len(expired) > 0 {
		c.logger.Debug("lru cache swept expired entries", zap.Int("count", len(expired)))
	}
}

// timeNow exists so tests can monkeypatch wall-clock reads without a full
// clock-injection interface; production code always uses time.Now.
var timeNow = time.Now
