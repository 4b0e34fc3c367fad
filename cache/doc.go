// Package cache provides the storage contract the Cache Coordinator builds
// on (Cache, with optional Clearer/Sizer/Destroyer capabilities) and two
// adapters against it:
//
//   - LRUCache: an in-process, bounded, TTL-aware cache suitable as the
//     default, zero-dependency-at-runtime backend.
//   - RemoteCache: a Redis-backed cache namespaced by key prefix, suitable
//     for sharing cached results across processes (coherence across
//     processes is still best-effort, not strongly consistent).
//
// Both adapters satisfy the same narrow Cache interface so the coordinator
// never needs to know which one it's talking to.
package cache
