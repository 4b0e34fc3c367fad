package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const defaultPrefix = "ik:"

// RemoteConfig configures the Redis-backed prefixed cache adapter.
type RemoteConfig struct {
	// Prefix is prepended to every key. Default "ik:".
	Prefix string
	// DefaultTTL is used when Set is called with ttl <= 0.
	DefaultTTL time.Duration
	// ScanCount is the COUNT hint passed to SCAN during Clear.
	ScanCount int64
	// Logger receives warnings for swallowed backend failures. Defaults to
	// a no-op logger.
	Logger *zap.Logger
}

// RemoteCache is a Redis-backed Cache adapter namespaced by key prefix.
//
// Every backend failure is logged at warning level and swallowed: Get
// reports a miss, Set/Del are no-ops. This keeps the host
// application live through a cache-backend outage at the cost of falling
// back to the database for every read.
type RemoteCache struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
	scanCount  int64
	logger     *zap.Logger
}

var _ Cache = (*RemoteCache)(nil)
var _ Clearer = (*RemoteCache)(nil)

// NewRemoteCache constructs a RemoteCache around an existing Redis client.
func NewRemoteCache(client *redis.Client, cfg RemoteConfig) *RemoteCache {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = 200
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &RemoteCache{
		client:     client,
		prefix:     cfg.Prefix,
		defaultTTL: cfg.DefaultTTL,
		scanCount:  cfg.ScanCount,
		logger:     cfg.Logger,
	}
}

func (r *RemoteCache) key(k string) string {
	return r.prefix + k
}

// Get implements Cache. Any backend error, including a connection failure,
// is treated as a miss.
func (r *RemoteCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		r.logger.Warn("remote cache get failed, treating as miss",
			zap.String("key", key), zap.Error(err))
		return Entry{}, false, nil
	}

	var entry Entry
	if err := msgpack.Unmarshal(raw, &entry); err != nil {
		r.logger.Warn("remote cache entry decode failed, treating as miss",
			zap.String("key", key), zap.Error(err))
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Set implements Cache. ttl (or the default TTL when ttl <= 0) is handed
// unchanged to the client's SET-with-expiry; the adapter does no rounding
// of its own. Failures are logged and swallowed.
func (r *RemoteCache) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}

	raw, err := msgpack.Marshal(entry)
	if err != nil {
		r.logger.Warn("remote cache entry encode failed, dropping write",
			zap.String("key", key), zap.Error(err))
		return nil
	}

	if err := r.client.Set(ctx, r.key(key), raw, ttl).Err(); err != nil {
		r.logger.Warn("remote cache set failed, dropping write",
			zap.String("key", key), zap.Error(err))
	}
	return nil
}

// Del implements Cache. Failures are logged and swallowed.
func (r *RemoteCache) Del(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		r.logger.Warn("remote cache delete failed",
			zap.String("key", key), zap.Error(err))
	}
	return nil
}

// Clear implements Clearer via a cursor-based SCAN over "<prefix>*" followed
// by batched UNLINK. This is documented as non-atomic: concurrent writers
// may repopulate keys already scanned before the batch finishes.
func (r *RemoteCache) Clear(ctx context.Context) error {
	match := r.prefix + "*"
	var cursor uint64

	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, r.scanCount).Result()
		if err != nil {
			r.logger.Warn("remote cache clear scan failed", zap.Error(err))
			return nil
		}

		if len(keys) > 0 {
			if err := r.client.Unlink(ctx, keys...).Err(); err != nil {
				r.logger.Warn("remote cache clear unlink failed", zap.Error(err))
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
