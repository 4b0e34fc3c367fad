// Package facade implements the Integration Facade: the thin wrapper
// around a *bun.DB that brackets interactive transactions with the
// coordinator's begin/commit/rollback, supplies the TxHandle accessor for
// cached repositories, and exposes the Diagnostics surface. It does not
// wrap repositories itself: callers install caching on each repository with
// mapper.Wrap, passing the facade's coordinator and TxHandle method.
package facade

import (
	"context"
	"database/sql"

	"github.com/uptrace/bun"

	"github.com/goliatone/querycache/cache"
	"github.com/goliatone/querycache/coordinator"
	"github.com/goliatone/querycache/engine"
)

type txHandleKey struct{}

// WithTxHandle stores h (a *coordinator.TxHandle) on ctx. The ORM Mapper's
// per-repository txHandle callback (mapper.Wrap's last argument) reads it
// back out via TxHandleFromContext.
func WithTxHandle(ctx context.Context, h any) context.Context {
	return context.WithValue(ctx, txHandleKey{}, h)
}

// TxHandleFromContext returns the *coordinator.TxHandle WithTxHandle stored
// on ctx, or nil outside a transaction bracket.
func TxHandleFromContext(ctx context.Context) any {
	return ctx.Value(txHandleKey{})
}

// engineDiagnostics is the slice of *engine.Client the Diagnostics surface
// calls. Declaring it here (rather than depending on *engine.Client
// directly) lets tests substitute a fake engine.
type engineDiagnostics interface {
	Version(ctx context.Context) (engine.VersionInfo, error)
	Reset(ctx context.Context) error
}

var _ engineDiagnostics = (*engine.Client)(nil)

// Facade is the Integration Facade.
type Facade struct {
	db     *bun.DB
	coord  *coordinator.Coordinator
	engine engineDiagnostics
	cache  cache.Cache
}

// New builds a Facade around db that brackets RunInTx with coord's
// transaction lifecycle, using eng/c for the Diagnostics surface.
// Repositories wrapped with mapper.Wrap route their reads and writes
// through coord; New does not wrap any repository.
func New(db *bun.DB, coord *coordinator.Coordinator, eng *engine.Client, c cache.Cache) *Facade {
	return &Facade{db: db, coord: coord, engine: eng, cache: c}
}

// TxHandle returns the facade's txHandle accessor, ready to pass as
// mapper.Wrap's last argument.
func (f *Facade) TxHandle(ctx context.Context) any {
	return TxHandleFromContext(ctx)
}

// RunInTx intercepts bun's interactive-transaction entry point: it
// brackets fn with coord.Begin before and coord.Commit/Rollback after, so
// every write fn performs through a cached repository buffers its
// evictions instead of applying them immediately.
func (f *Facade) RunInTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx bun.Tx) error) error {
	return f.db.RunInTx(ctx, opts, func(ctx context.Context, tx bun.Tx) error {
		return f.bracket(ctx, func(ctx context.Context) error {
			return fn(ctx, tx)
		})
	})
}

// bracket is RunInTx's transaction-bracketing logic, factored out so it can
// be exercised without a live *bun.DB.
func (f *Facade) bracket(ctx context.Context, fn func(ctx context.Context) error) error {
	handle := f.coord.Begin(ctx)
	txCtx := WithTxHandle(ctx, handle)

	if err := fn(txCtx); err != nil {
		f.coord.Rollback(handle)
		return err
	}
	return f.coord.Commit(ctx, handle)
}
