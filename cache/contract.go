// Package cache defines the storage contract the Cache Coordinator relies
// on and ships two adapters against it: an in-process LRU with TTL, and a
// Redis-backed remote cache namespaced by key prefix.
package cache

import (
	"context"
	"time"
)

// Entry is the stored payload for a cache key. The coordinator deliberately
// stores nothing beyond the result: dependency metadata lives entirely in
// the Dependency Engine.
type Entry struct {
	Result any `json:"result"`
}

// Cache is the uniform get/set/delete surface the coordinator and facade
// consume. Implementations need only support Get/Set/Del; the optional
// interfaces below let callers discover richer lifecycle behavior where an
// adapter provides it.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Clearer is implemented by adapters that can drop every entry at once.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Sizer is implemented by adapters that can report their current entry
// count. Adapters that cannot report a size (e.g. a shared remote store)
// simply don't implement this interface; callers treat that as size 0.
type Sizer interface {
	Size(ctx context.Context) (int, error)
}

// Destroyer is implemented by adapters that hold background resources
// (timers, connection pools) that must be released on shutdown.
type Destroyer interface {
	Destroy() error
}
