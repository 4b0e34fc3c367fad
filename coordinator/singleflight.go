package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/querycache/cache"
	"github.com/goliatone/querycache/mapper"
)

// inflight is the single-flight map's value: one pending execute() whose
// resolution every concurrent reader of the same shapeId shares.
type inflight struct {
	done   chan struct{}
	result any
	err    error
}

// joinOrStart either returns the in-flight entry already published for
// shapeID, or publishes a new one and reports ownership of it.
func (c *Coordinator) joinOrStart(shapeID string) (fl *inflight, owner bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.inFlight[shapeID]; ok {
		return existing, false
	}
	fl = &inflight{done: make(chan struct{})}
	c.inFlight[shapeID] = fl
	return fl, true
}

// wait blocks until fl settles, the coordinator's single-flight timeout
// elapses, or ctx is done. A timeout removes the map entry (if it is still
// fl) so the next caller starts a fresh attempt; it does not cancel the
// in-flight execute() itself.
func (c *Coordinator) wait(ctx context.Context, shapeID string, fl *inflight) (any, error) {
	timer := time.NewTimer(c.singleFlightTimeout)
	defer timer.Stop()

	select {
	case <-fl.done:
		return fl.result, fl.err
	case <-timer.C:
		c.mu.Lock()
		if c.inFlight[shapeID] == fl {
			delete(c.inFlight, shapeID)
		}
		c.mu.Unlock()
		return nil, ErrSingleFlightTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run owns one in-flight execute() attempt: it invokes execute, and on
// success registers the query's dependencies and caches the result. It runs
// on its own goroutine, detached from the caller's context, since it may
// outlive every one of its waiters: a slow execute() keeps running and still
// populates the cache after the first caller's context is canceled. If a
// single-flight timeout has already removed fl from the map, the result is
// handed to fl's remaining waiters but is neither registered nor cached.
func (c *Coordinator) run(shapeID string, fl *inflight, stmt mapper.Statement, execute func(context.Context) (any, error), resultHint any) {
	ctx := context.Background()
	result, err := execute(ctx)

	c.mu.Lock()
	current, stillOurs := c.inFlight[shapeID]
	c.mu.Unlock()
	discard := !stillOurs || current != fl

	if err == nil && !discard {
		hint := resultHint
		if hint == nil {
			hint = result
		}
		if addRes, aqErr := c.engine.AddQuery(ctx, stmt, hint); aqErr != nil {
			err = aqErr
		} else {
			if setErr := c.cache.Set(ctx, shapeID, cache.Entry{Result: result}, c.defaultTTL); setErr != nil {
				c.logger.Warn("coordinator: cache set failed",
					zap.String("shapeId", shapeID), zap.Error(setErr))
			}
			c.emitMiss(shapeID, DependenciesSummary{
				ModelCount:  addRes.Dependencies.ModelCount,
				RecordCount: addRes.Dependencies.RecordCount,
			})
		}
	}

	if !discard {
		c.mu.Lock()
		if c.inFlight[shapeID] == fl {
			delete(c.inFlight, shapeID)
		}
		c.mu.Unlock()
	}

	fl.result, fl.err = result, err
	close(fl.done)
}
