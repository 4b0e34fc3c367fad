// Package coordinator implements the Cache Coordinator: the component that
// owns the single-flight map, the transaction eviction buffers, and the
// stats/insights machinery that sit between the ORM Mapper and the Cache
// Adapters + Engine Client.
package coordinator

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"go.uber.org/zap"

	"github.com/goliatone/querycache/cache"
	"github.com/goliatone/querycache/engine"
	"github.com/goliatone/querycache/mapper"
)

// ErrSingleFlightTimeout is returned to a waiter whose single-flight timeout
// elapsed before the in-flight execute() settled.
var ErrSingleFlightTimeout = errors.New("coordinator: single-flight timeout")

// engineClient is the slice of *engine.Client the coordinator calls.
// Declaring it here (rather than depending on *engine.Client directly)
// lets tests substitute a fake engine without instantiating a real WASM
// module.
type engineClient interface {
	ComputeShapeID(ctx context.Context, stmt mapper.Statement) (string, error)
	AddQuery(ctx context.Context, shape mapper.Statement, resultHint any) (engine.AddQueryResult, error)
	Invalidate(ctx context.Context, mut mapper.Mutation) ([]string, error)
}

var _ engineClient = (*engine.Client)(nil)

// TxHandle is an opaque per-transaction token the coordinator mints in
// Begin and the Integration Facade threads through context.Context for the
// lifetime of one ORM transaction. Its only purpose is pointer identity:
// the coordinator never reads or writes its fields. The padding gives each
// handle its own heap allocation (a zero-size struct has no distinct
// address), which weak.Make and runtime.AddCleanup in Begin rely on.
type TxHandle struct {
	_ [16]byte
}

type txBuffer struct {
	mu     sync.Mutex
	evicts map[string]struct{}
}

func newTxBuffer() *txBuffer {
	return &txBuffer{evicts: make(map[string]struct{})}
}

func (b *txBuffer) add(shapeIDs []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range shapeIDs {
		b.evicts[id] = struct{}{}
	}
}

func (b *txBuffer) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.evicts))
	for id := range b.evicts {
		out = append(out, id)
	}
	return out
}

// Config configures a Coordinator.
type Config struct {
	Engine              engineClient
	Cache               cache.Cache
	Sink                Sink
	Logger              *zap.Logger
	DefaultTTL          time.Duration
	SingleFlightTimeout time.Duration
}

// Coordinator is the Cache Coordinator. It is safe for concurrent use by
// multiple goroutines.
type Coordinator struct {
	engine              engineClient
	cache               cache.Cache
	sink                Sink
	logger              *zap.Logger
	defaultTTL          time.Duration
	singleFlightTimeout time.Duration

	mu       sync.Mutex
	inFlight map[string]*inflight

	txMu      sync.Mutex
	txBuffers map[weak.Pointer[TxHandle]]*txBuffer

	totalRequests atomic.Int64
	cacheHits     atomic.Int64
}

// New builds a Coordinator from cfg, applying spec-reasonable defaults for
// DefaultTTL (5m), SingleFlightTimeout (10s), Sink (no-op), and Logger
// (no-op).
func New(cfg Config) *Coordinator {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.SingleFlightTimeout <= 0 {
		cfg.SingleFlightTimeout = 10 * time.Second
	}
	if cfg.Sink == nil {
		cfg.Sink = NoopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Coordinator{
		engine:              cfg.Engine,
		cache:               cfg.Cache,
		sink:                cfg.Sink,
		logger:              cfg.Logger,
		defaultTTL:          cfg.DefaultTTL,
		singleFlightTimeout: cfg.SingleFlightTimeout,
		inFlight:            make(map[string]*inflight),
		txBuffers:           make(map[weak.Pointer[TxHandle]]*txBuffer),
	}
}

// Stats returns a point-in-time snapshot of the coordinator's counters, for
// the Integration Facade's getCacheStats diagnostic.
func (c *Coordinator) Stats() Stats {
	return Stats{
		TotalRequests: c.totalRequests.Load(),
		CacheHits:     c.cacheHits.Load(),
	}
}

// ExecuteRead implements mapper.Coordinator's read path: compute the
// query's shape id, serve from cache on a hit, and single-flight the
// execute() call on a miss.
func (c *Coordinator) ExecuteRead(ctx context.Context, stmt mapper.Statement, execute func(context.Context) (any, error), resultHint any) (any, error) {
	shapeID, err := c.engine.ComputeShapeID(ctx, stmt)
	if err != nil {
		return nil, err
	}

	c.totalRequests.Add(1)

	entry, found, err := c.cache.Get(ctx, shapeID)
	if err != nil {
		return nil, err
	}
	if found {
		c.cacheHits.Add(1)
		c.emit(Insight{ShapeID: shapeID, EventType: EventHit, Timestamp: nowMillis()})
		return entry.Result, nil
	}

	fl, owner := c.joinOrStart(shapeID)
	if owner {
		go c.run(shapeID, fl, stmt, execute, resultHint)
	}
	return c.wait(ctx, shapeID, fl)
}

// ExecuteWrite implements mapper.Coordinator's write path: invalidate the
// mutation's dependents through the engine, run execute(), and either
// evict immediately or buffer the eviction until the enclosing
// transaction commits.
func (c *Coordinator) ExecuteWrite(ctx context.Context, mut mapper.Mutation, execute func(context.Context) (any, error), txContext any) (any, error) {
	evictList, err := c.engine.Invalidate(ctx, mut)
	if err != nil {
		return nil, err
	}

	result, err := execute(ctx)
	if err != nil {
		// Failed writes never evict. The engine may already have observed the
		// attempted mutation through Invalidate above; that drift is accepted
		// rather than attempting to undo the Invalidate call.
		return nil, err
	}

	if wp, ok := c.weakHandle(txContext); ok {
		c.txMu.Lock()
		buf, buffered := c.txBuffers[wp]
		c.txMu.Unlock()
		if buffered {
			buf.add(evictList)
			return result, nil
		}
	}

	c.evictAndEmit(ctx, evictList)
	return result, nil
}

// Begin mints a new TxHandle and an empty eviction buffer for it. Callers
// must not begin twice for the same handle.
func (c *Coordinator) Begin(context.Context) *TxHandle {
	h := &TxHandle{}
	wp := weak.Make(h)
	buf := newTxBuffer()

	c.txMu.Lock()
	c.txBuffers[wp] = buf
	c.txMu.Unlock()

	// The buffer map is keyed weakly: once every strong reference to h is
	// gone, this cleanup drops the buffer without the facade ever having to
	// call Rollback/Commit explicitly.
	runtime.AddCleanup(h, func(wp weak.Pointer[TxHandle]) {
		c.txMu.Lock()
		delete(c.txBuffers, wp)
		c.txMu.Unlock()
	}, wp)

	return h
}

// Commit applies txContext's buffered evictions (if any) and discards the
// buffer. A nil or unknown txContext is a no-op (P8).
func (c *Coordinator) Commit(ctx context.Context, txContext any) error {
	wp, ok := c.weakHandle(txContext)
	if !ok {
		return nil
	}

	c.txMu.Lock()
	buf, found := c.txBuffers[wp]
	if found {
		delete(c.txBuffers, wp)
	}
	c.txMu.Unlock()

	if !found {
		return nil
	}

	c.evictAndEmit(ctx, buf.snapshot())
	return nil
}

// Rollback discards txContext's buffer without applying it. A nil or
// unknown txContext is a no-op (P8).
func (c *Coordinator) Rollback(txContext any) {
	wp, ok := c.weakHandle(txContext)
	if !ok {
		return
	}
	c.txMu.Lock()
	delete(c.txBuffers, wp)
	c.txMu.Unlock()
}

func (c *Coordinator) weakHandle(txContext any) (weak.Pointer[TxHandle], bool) {
	h, ok := txContext.(*TxHandle)
	if !ok || h == nil {
		return weak.Pointer[TxHandle]{}, false
	}
	return weak.Make(h), true
}

// evictAndEmit deletes each shapeId from the cache concurrently and emits
// one evict insight per successfully deleted element; a failed delete is
// logged and emits nothing.
func (c *Coordinator) evictAndEmit(ctx context.Context, shapeIDs []string) {
	if len(shapeIDs) == 0 {
		return
	}
	var wg sync.WaitGroup
	wg.Add(len(shapeIDs))
	for _, shapeID := range shapeIDs {
		go func(shapeID string) {
			defer wg.Done()
			if err := c.cache.Del(ctx, shapeID); err != nil {
				c.logger.Warn("coordinator: cache delete failed", zap.String("shapeId", shapeID), zap.Error(err))
				return
			}
			c.emit(Insight{ShapeID: shapeID, EventType: EventEvict, Timestamp: nowMillis()})
		}(shapeID)
	}
	wg.Wait()
}
