package facade

import (
	"context"

	"github.com/goliatone/querycache/cache"
	"github.com/goliatone/querycache/engine"
)

// CacheStats is the Diagnostics surface's getCacheStats() result.
type CacheStats struct {
	Size    int
	HitRate float64
}

// GetVersion delegates to the Dependency Engine's version() ABI call.
func (f *Facade) GetVersion(ctx context.Context) (engine.VersionInfo, error) {
	return f.engine.Version(ctx)
}

// GetCacheStats reports the coordinator's hit rate and, where the
// configured cache reports one, its current size (0 otherwise).
func (f *Facade) GetCacheStats(ctx context.Context) CacheStats {
	stats := f.coord.Stats()
	size := 0
	if sizer, ok := f.cache.(cache.Sizer); ok {
		if n, err := sizer.Size(ctx); err == nil {
			size = n
		}
	}
	return CacheStats{Size: size, HitRate: stats.HitRate()}
}

// Reset drops every tracked query in the engine (schema retained) and
// clears the cache where the adapter supports it.
func (f *Facade) Reset(ctx context.Context) error {
	if err := f.engine.Reset(ctx); err != nil {
		return err
	}
	if clearer, ok := f.cache.(cache.Clearer); ok {
		return clearer.Clear(ctx)
	}
	return nil
}

// Destroy releases the cache adapter's background resources (sweep timers,
// connection pools) where it supports that lifecycle.
func (f *Facade) Destroy() error {
	if destroyer, ok := f.cache.(cache.Destroyer); ok {
		return destroyer.Destroy()
	}
	return nil
}
