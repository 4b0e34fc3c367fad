package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/querycache/cache"
	"github.com/goliatone/querycache/engine"
	"github.com/goliatone/querycache/mapper"
)

// fakeEngine is a deterministic in-memory stand-in for the WASM-backed
// Engine Client: shapeId is derived from the Statement's model name, and
// invalidate/addQuery are driven by test-supplied hooks.
type fakeEngine struct {
	mu           sync.Mutex
	invalidateFn func(mapper.Mutation) ([]string, error)
	addQueryFn   func(mapper.Statement) (engine.AddQueryResult, error)
	computeCalls atomic.Int64
}

func (f *fakeEngine) ComputeShapeID(_ context.Context, stmt mapper.Statement) (string, error) {
	f.computeCalls.Add(1)
	return "SID_" + stmt.Model, nil
}

func (f *fakeEngine) AddQuery(_ context.Context, shape mapper.Statement, _ any) (engine.AddQueryResult, error) {
	f.mu.Lock()
	fn := f.addQueryFn
	f.mu.Unlock()
	if fn != nil {
		return fn(shape)
	}
	return engine.AddQueryResult{ShapeID: "SID_" + shape.Model}, nil
}

func (f *fakeEngine) Invalidate(_ context.Context, mut mapper.Mutation) ([]string, error) {
	f.mu.Lock()
	fn := f.invalidateFn
	f.mu.Unlock()
	if fn != nil {
		return fn(mut)
	}
	return nil, nil
}

// fakeCache is a minimal in-memory Cache for coordinator tests.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]cache.Entry
	dels    []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]cache.Entry)}
}

func (c *fakeCache) Get(_ context.Context, key string) (cache.Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, entry cache.Entry, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	return nil
}

func (c *fakeCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.dels = append(c.dels, key)
	return nil
}

func (c *fakeCache) delCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, k := range c.dels {
		if k == key {
			n++
		}
	}
	return n
}

// recordingSink collects every Insight emitted during a test.
type recordingSink struct {
	mu     sync.Mutex
	events []Insight
}

func (s *recordingSink) Emit(in Insight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, in)
}

func (s *recordingSink) count(t EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.EventType == t {
			n++
		}
	}
	return n
}

func newTestCoordinator(fe *fakeEngine, fc *fakeCache, sink Sink) *Coordinator {
	return New(Config{
		Engine:              fe,
		Cache:               fc,
		Sink:                sink,
		SingleFlightTimeout: 2 * time.Second,
	})
}

// A repeated read with the same shape serves from cache after the first miss.
func TestExecuteRead_HitAfterMiss(t *testing.T) {
	fe := &fakeEngine{}
	fc := newFakeCache()
	sink := &recordingSink{}
	coord := newTestCoordinator(fe, fc, sink)

	stmt := mapper.Statement{Model: "User"}
	calls := atomic.Int64{}
	exec := func(context.Context) (any, error) {
		calls.Add(1)
		return []string{"u1"}, nil
	}

	ctx := context.Background()
	res1, err := coord.ExecuteRead(ctx, stmt, exec, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res2, err := coord.ExecuteRead(ctx, stmt, exec, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls.Load() != 1 {
		t.Fatalf("expected exec called once, got %d", calls.Load())
	}
	if fmt.Sprint(res1) != fmt.Sprint(res2) {
		t.Fatalf("expected identical results, got %v vs %v", res1, res2)
	}
	if sink.count(EventMiss) != 1 || sink.count(EventHit) != 1 {
		t.Fatalf("expected 1 miss + 1 hit insight, got miss=%d hit=%d", sink.count(EventMiss), sink.count(EventHit))
	}
}

// A write invalidates a dependent read.
func TestExecuteWrite_InvalidatesDependentRead(t *testing.T) {
	fe := &fakeEngine{
		invalidateFn: func(mapper.Mutation) ([]string, error) {
			return []string{"SID_User"}, nil
		},
	}
	fc := newFakeCache()
	sink := &recordingSink{}
	coord := newTestCoordinator(fe, fc, sink)
	ctx := context.Background()

	readCalls := atomic.Int64{}
	stmt := mapper.Statement{Model: "User"}
	exec := func(context.Context) (any, error) {
		readCalls.Add(1)
		return []string{"u1"}, nil
	}
	if _, err := coord.ExecuteRead(ctx, stmt, exec, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mut := mapper.Mutation{Changes: []mapper.Change{{Action: mapper.ActionInsert, Model: "user"}}}
	if _, err := coord.ExecuteWrite(ctx, mut, func(context.Context) (any, error) { return struct{}{}, nil }, nil); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	if _, err := coord.ExecuteRead(ctx, stmt, exec, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if readCalls.Load() != 2 {
		t.Fatalf("expected exec invoked twice (miss, evict, miss), got %d", readCalls.Load())
	}
	if sink.count(EventEvict) != 1 {
		t.Fatalf("expected 1 evict insight, got %d", sink.count(EventEvict))
	}
}

// N concurrent reads of the same shape coalesce into exactly one execute.
func TestExecuteRead_SingleFlightCoalesces(t *testing.T) {
	fe := &fakeEngine{}
	fc := newFakeCache()
	coord := newTestCoordinator(fe, fc, NoopSink{})
	ctx := context.Background()

	var execCalls atomic.Int64
	stmt := mapper.Statement{Model: "User"}
	exec := func(context.Context) (any, error) {
		execCalls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return "result", nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]any, n)
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = coord.ExecuteRead(ctx, stmt, exec, nil)
		}(i)
	}
	wg.Wait()

	if execCalls.Load() != 1 {
		t.Fatalf("expected exactly one execute call, got %d", execCalls.Load())
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("waiter %d got error %v", i, errs[i])
		}
		if results[i] != "result" {
			t.Fatalf("waiter %d got %v, want %q", i, results[i], "result")
		}
	}
}

// Transaction commit applies the union of buffered evictions.
func TestTransaction_CommitAppliesUnion(t *testing.T) {
	fe := &fakeEngine{}
	fc := newFakeCache()
	fc.entries["A"] = cache.Entry{Result: 1}
	fc.entries["B"] = cache.Entry{Result: 2}
	fc.entries["C"] = cache.Entry{Result: 3}
	sink := &recordingSink{}
	coord := newTestCoordinator(fe, fc, sink)
	ctx := context.Background()

	tx := coord.Begin(ctx)

	fe.invalidateFn = func(mapper.Mutation) ([]string, error) { return []string{"A", "B"}, nil }
	if _, err := coord.ExecuteWrite(ctx, mapper.Mutation{}, func(context.Context) (any, error) { return nil, nil }, tx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fe.invalidateFn = func(mapper.Mutation) ([]string, error) { return []string{"B", "C"}, nil }
	if _, err := coord.ExecuteWrite(ctx, mapper.Mutation{}, func(context.Context) (any, error) { return nil, nil }, tx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok, _ := fc.Get(ctx, "A"); !ok {
		t.Fatal("expected A still present before commit")
	}

	if err := coord.Commit(ctx, tx); err != nil {
		t.Fatalf("unexpected commit error: %v", err)
	}

	for _, key := range []string{"A", "B", "C"} {
		if _, ok, _ := fc.Get(ctx, key); ok {
			t.Fatalf("expected %s evicted after commit", key)
		}
		if fc.delCount(key) != 1 {
			t.Fatalf("expected %s deleted exactly once, got %d", key, fc.delCount(key))
		}
	}
	if sink.count(EventEvict) != 3 {
		t.Fatalf("expected 3 evict insights, got %d", sink.count(EventEvict))
	}
}

// Transaction rollback discards buffered evictions.
func TestTransaction_RollbackDiscardsBuffer(t *testing.T) {
	fe := &fakeEngine{invalidateFn: func(mapper.Mutation) ([]string, error) { return []string{"A", "B"}, nil }}
	fc := newFakeCache()
	fc.entries["A"] = cache.Entry{Result: 1}
	fc.entries["B"] = cache.Entry{Result: 2}
	sink := &recordingSink{}
	coord := newTestCoordinator(fe, fc, sink)
	ctx := context.Background()

	tx := coord.Begin(ctx)
	if _, err := coord.ExecuteWrite(ctx, mapper.Mutation{}, func(context.Context) (any, error) { return nil, nil }, tx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	coord.Rollback(tx)

	for _, key := range []string{"A", "B"} {
		if _, ok, _ := fc.Get(ctx, key); !ok {
			t.Fatalf("expected %s to survive rollback", key)
		}
		if fc.delCount(key) != 0 {
			t.Fatalf("expected %s never deleted, got %d deletes", key, fc.delCount(key))
		}
	}
	if sink.count(EventEvict) != 0 {
		t.Fatalf("expected no evict insights, got %d", sink.count(EventEvict))
	}
}

// A failing execute never evicts.
func TestExecuteWrite_FailureNeverEvicts(t *testing.T) {
	fe := &fakeEngine{invalidateFn: func(mapper.Mutation) ([]string, error) { return []string{"A"}, nil }}
	fc := newFakeCache()
	fc.entries["A"] = cache.Entry{Result: 1}
	coord := newTestCoordinator(fe, fc, NoopSink{})
	ctx := context.Background()

	wantErr := errors.New("boom")
	_, err := coord.ExecuteWrite(ctx, mapper.Mutation{}, func(context.Context) (any, error) {
		return nil, wantErr
	}, nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected boom error to propagate, got %v", err)
	}
	if _, ok, _ := fc.Get(ctx, "A"); !ok {
		t.Fatal("expected A to survive a failed write")
	}
	if fc.delCount("A") != 0 {
		t.Fatalf("expected no deletes, got %d", fc.delCount("A"))
	}
}

// P8: commit/rollback on an unknown txContext are no-ops.
func TestTransaction_UnknownHandleIsNoop(t *testing.T) {
	coord := newTestCoordinator(&fakeEngine{}, newFakeCache(), NoopSink{})
	ctx := context.Background()

	if err := coord.Commit(ctx, nil); err != nil {
		t.Fatalf("expected nil-handle commit to be a no-op, got %v", err)
	}
	unknown := &TxHandle{}
	if err := coord.Commit(ctx, unknown); err != nil {
		t.Fatalf("expected unknown-handle commit to be a no-op, got %v", err)
	}
	coord.Rollback(nil)
	coord.Rollback(unknown)
}

// Single-flight timeout: a slow execute that outlives the timeout yields a
// timeout error to the waiter, and a subsequent call starts a fresh attempt.
func TestExecuteRead_SingleFlightTimeout(t *testing.T) {
	fe := &fakeEngine{}
	fc := newFakeCache()
	coord := New(Config{Engine: fe, Cache: fc, Sink: NoopSink{}, SingleFlightTimeout: 10 * time.Millisecond})
	ctx := context.Background()

	var execCalls atomic.Int64
	stmt := mapper.Statement{Model: "User"}
	slow := func(context.Context) (any, error) {
		n := execCalls.Add(1)
		if n == 1 {
			time.Sleep(100 * time.Millisecond)
		}
		return "ok", nil
	}

	_, err := coord.ExecuteRead(ctx, stmt, slow, nil)
	if !errors.Is(err, ErrSingleFlightTimeout) {
		t.Fatalf("expected single-flight timeout, got %v", err)
	}

	// A later call must not reuse the discarded in-flight entry.
	time.Sleep(150 * time.Millisecond)
	res, err := coord.ExecuteRead(ctx, stmt, slow, nil)
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if res != "ok" {
		t.Fatalf("expected ok, got %v", res)
	}
}
