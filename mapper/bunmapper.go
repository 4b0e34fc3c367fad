package mapper

import (
	"context"
	"fmt"
	"reflect"

	"github.com/cespare/xxhash/v2"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// BunMapper is the concrete Mapper for github.com/goliatone/go-repository-bun
// repositories. Repository criteria (SelectCriteria, InsertCriteria, ...)
// are opaque closures applied directly to a *bun.SelectQuery/*bun.InsertQuery
// by the ORM; nothing outside bun can recover their filter AST. Anything
// the mapper cannot precisely represent is encoded in the "unsupported:*"
// namespace rather than rejected, so each criteria closure becomes one
// conservative leaf condition keyed by the closure's function pointer.
// That pointer is only stable for the lifetime of the process: it must
// never be persisted or compared across restarts.
type BunMapper struct{}

// NewBunMapper constructs a BunMapper. It holds no state.
func NewBunMapper() *BunMapper {
	return &BunMapper{}
}

var _ Mapper = (*BunMapper)(nil)

// BuildStatement implements Mapper.
func (m *BunMapper) BuildStatement(req StatementRequest) Statement {
	stmt := Statement{Model: toSnake(req.Model)}

	var leaves []FilterNode
	for _, arg := range req.Args {
		if leaf := conditionForArg(req.Operation, arg); leaf != nil {
			leaves = append(leaves, FilterNode{Leaf: leaf})
		}
	}

	switch len(leaves) {
	case 0:
	case 1:
		stmt.Filter = &leaves[0]
	default:
		stmt.Filter = &FilterNode{And: leaves}
	}

	return stmt
}

// BuildMutation implements Mapper.
func (m *BunMapper) BuildMutation(req MutationRequest) Mutation {
	model := toSnake(req.Model)
	action := actionForOperation(req.Operation)

	change := Change{Action: action, Model: model}

	for _, arg := range req.Args {
		switch action {
		case ActionInsert, ActionUpdate:
			if sets, id, ok := fieldsOf(arg); ok {
				change.Sets = sets
				if id != "" {
					change.IDs = []string{id}
				}
				continue
			}
		}
		if leaf := conditionForArg(req.Operation, arg); leaf != nil {
			if change.Filter == nil {
				change.Filter = &FilterNode{Leaf: leaf}
			} else {
				change.Filter = &FilterNode{And: []FilterNode{*change.Filter, {Leaf: leaf}}}
			}
		}
	}

	return Mutation{Changes: []Change{change}}
}

func actionForOperation(operation string) ChangeAction {
	switch operation {
	case "Create", "CreateTx", "CreateMany", "CreateManyTx", "GetOrCreate", "GetOrCreateTx":
		return ActionInsert
	case "Update", "UpdateTx", "UpdateMany", "UpdateManyTx", "Upsert", "UpsertTx", "UpsertMany", "UpsertManyTx":
		return ActionUpdate
	case "Delete", "DeleteTx", "DeleteMany", "DeleteManyTx", "DeleteWhere", "DeleteWhereTx", "ForceDelete", "ForceDeleteTx":
		return ActionDelete
	default:
		return ActionUpdate
	}
}

// conditionForArg turns one call argument into a conservative Condition.
// Strings are treated as id/identifier equality (the common case for
// GetByID/GetByIdentifier); criteria closures and anything else fall back
// to the unsupported namespace, keyed by a stable-within-process identity.
func conditionForArg(operation string, arg any) *Condition {
	if arg == nil {
		return nil
	}

	if s, ok := arg.(string); ok {
		field := "id"
		if operation == "GetByIdentifier" || operation == "GetByIdentifierTx" {
			field = "identifier"
		}
		return &Condition{Field: field, Operator: "eq", Value: s}
	}

	rv := reflect.ValueOf(arg)
	if rv.Kind() == reflect.Slice {
		if rv.Len() == 0 {
			return nil
		}
		leaves := make([]FilterNode, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if c := conditionForArg(operation, rv.Index(i).Interface()); c != nil {
				leaves = append(leaves, FilterNode{Leaf: c})
			}
		}
		if len(leaves) == 0 {
			return nil
		}
		return &Condition{Field: "criteria", Operator: "unsupported:criteria_list", Value: leaves}
	}

	if rv.Kind() == reflect.Func {
		return &Condition{
			Field:    "criteria",
			Operator: "unsupported:criteria_func",
			Value:    fmt.Sprintf("func:%#x", rv.Pointer()),
		}
	}

	// Reflected shape is unbounded (structs, maps, pointers); reduce it to a
	// stable, compact fragment instead of embedding an arbitrarily long %v.
	digest := xxhash.Sum64String(fmt.Sprintf("%#v", arg))
	return &Condition{Field: "criteria", Operator: "unknown:" + rv.Kind().String(), Value: fmt.Sprintf("%016x", digest)}
}

// fieldsOf extracts exported struct fields (and a best-effort id) from a
// create/update record via reflection.
func fieldsOf(arg any) (map[string]any, string, bool) {
	v := reflect.ValueOf(arg)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, "", false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, "", false
	}

	t := v.Type()
	sets := make(map[string]any, t.NumField())
	var id string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		fv := v.Field(i)
		if !fv.CanInterface() {
			continue
		}
		sets[toSnake(field.Name)] = fv.Interface()
		if id == "" && (field.Name == "ID" || field.Name == "Id") {
			id = fmt.Sprintf("%v", fv.Interface())
		}
	}
	return sets, id, true
}

// listResult wraps List's tuple result for caching as a single CacheEntry.
type listResult[T any] struct {
	Records []T `json:"records"`
	Total   int `json:"total"`
}

// Wrap decorates base with caching, routing every read through
// coord.ExecuteRead and every write through coord.ExecuteWrite. It is a
// package-level generic function rather than a method on Mapper (see the
// Mapper interface doc comment for why).
//
// txHandle, when non-nil, is threaded through as the txContext for every
// write method (Tx and non-Tx alike); the Integration Facade is responsible for producing it
// (see facade.TxHandleFromContext) and for calling coord.Begin/Commit/
// Rollback around the transaction it came from.
func Wrap[T any](base repository.Repository[T], m *BunMapper, coord Coordinator, txHandle func(ctx context.Context) any) repository.Repository[T] {
	return &cachedRepository[T]{base: base, mapper: m, coord: coord, txHandle: txHandle}
}

type cachedRepository[T any] struct {
	base     repository.Repository[T]
	mapper   *BunMapper
	coord    Coordinator
	txHandle func(ctx context.Context) any
}

var _ repository.Repository[any] = (*cachedRepository[any])(nil)

var modelName = func(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}
	return t.Name()
}

func (c *cachedRepository[T]) modelOf() string {
	var zero T
	return modelName(zero)
}

func (c *cachedRepository[T]) read(ctx context.Context, operation string, args []any, execute func(ctx context.Context) (any, error)) (any, error) {
	stmt := c.mapper.BuildStatement(StatementRequest{Model: c.modelOf(), Operation: operation, Args: args})
	return c.coord.ExecuteRead(ctx, stmt, execute, nil)
}

func (c *cachedRepository[T]) write(ctx context.Context, operation string, args []any, execute func(ctx context.Context) (any, error)) (any, error) {
	mut := c.mapper.BuildMutation(MutationRequest{Model: c.modelOf(), Operation: operation, Args: args})
	var txCtx any
	if c.txHandle != nil {
		txCtx = c.txHandle(ctx)
	}
	return c.coord.ExecuteWrite(ctx, mut, execute, txCtx)
}

func (c *cachedRepository[T]) Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	res, err := c.read(ctx, "Get", []any{criteria}, func(ctx context.Context) (any, error) {
		return c.base.Get(ctx, criteria...)
	})
	return as[T](res), err
}

func (c *cachedRepository[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	res, err := c.read(ctx, "GetByID", []any{id, criteria}, func(ctx context.Context) (any, error) {
		return c.base.GetByID(ctx, id, criteria...)
	})
	return as[T](res), err
}

func (c *cachedRepository[T]) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	res, err := c.read(ctx, "GetByIdentifier", []any{identifier, criteria}, func(ctx context.Context) (any, error) {
		return c.base.GetByIdentifier(ctx, identifier, criteria...)
	})
	return as[T](res), err
}

func (c *cachedRepository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	res, err := c.read(ctx, "List", []any{criteria}, func(ctx context.Context) (any, error) {
		records, total, err := c.base.List(ctx, criteria...)
		return listResult[T]{Records: records, Total: total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	lr := as[listResult[T]](res)
	return lr.Records, lr.Total, nil
}

func (c *cachedRepository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	res, err := c.read(ctx, "Count", []any{criteria}, func(ctx context.Context) (any, error) {
		return c.base.Count(ctx, criteria...)
	})
	return as[int](res), err
}

func (c *cachedRepository[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	res, err := c.write(ctx, "Create", []any{record}, func(ctx context.Context) (any, error) {
		return c.base.Create(ctx, record, criteria...)
	})
	return as[T](res), err
}

func (c *cachedRepository[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	res, err := c.write(ctx, "CreateTx", []any{record}, func(ctx context.Context) (any, error) {
		return c.base.CreateTx(ctx, tx, record, criteria...)
	})
	return as[T](res), err
}

func (c *cachedRepository[T]) CreateMany(ctx context.Context, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	res, err := c.write(ctx, "CreateMany", []any{records}, func(ctx context.Context) (any, error) {
		return c.base.CreateMany(ctx, records, criteria...)
	})
	return as[[]T](res), err
}

func (c *cachedRepository[T]) CreateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	res, err := c.write(ctx, "CreateManyTx", []any{records}, func(ctx context.Context) (any, error) {
		return c.base.CreateManyTx(ctx, tx, records, criteria...)
	})
	return as[[]T](res), err
}

func (c *cachedRepository[T]) GetOrCreate(ctx context.Context, record T) (T, error) {
	res, err := c.write(ctx, "GetOrCreate", []any{record}, func(ctx context.Context) (any, error) {
		return c.base.GetOrCreate(ctx, record)
	})
	return as[T](res), err
}

func (c *cachedRepository[T]) GetOrCreateTx(ctx context.Context, tx bun.IDB, record T) (T, error) {
	res, err := c.write(ctx, "GetOrCreateTx", []any{record}, func(ctx context.Context) (any, error) {
		return c.base.GetOrCreateTx(ctx, tx, record)
	})
	return as[T](res), err
}

func (c *cachedRepository[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	res, err := c.write(ctx, "Update", []any{record}, func(ctx context.Context) (any, error) {
		return c.base.Update(ctx, record, criteria...)
	})
	return as[T](res), err
}

func (c *cachedRepository[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	res, err := c.write(ctx, "UpdateTx", []any{record}, func(ctx context.Context) (any, error) {
		return c.base.UpdateTx(ctx, tx, record, criteria...)
	})
	return as[T](res), err
}

func (c *cachedRepository[T]) UpdateMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	res, err := c.write(ctx, "UpdateMany", []any{records}, func(ctx context.Context) (any, error) {
		return c.base.UpdateMany(ctx, records, criteria...)
	})
	return as[[]T](res), err
}

func (c *cachedRepository[T]) UpdateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	res, err := c.write(ctx, "UpdateManyTx", []any{records}, func(ctx context.Context) (any, error) {
		return c.base.UpdateManyTx(ctx, tx, records, criteria...)
	})
	return as[[]T](res), err
}

func (c *cachedRepository[T]) Upsert(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	res, err := c.write(ctx, "Upsert", []any{record}, func(ctx context.Context) (any, error) {
		return c.base.Upsert(ctx, record, criteria...)
	})
	return as[T](res), err
}

func (c *cachedRepository[T]) UpsertTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	res, err := c.write(ctx, "UpsertTx", []any{record}, func(ctx context.Context) (any, error) {
		return c.base.UpsertTx(ctx, tx, record, criteria...)
	})
	return as[T](res), err
}

func (c *cachedRepository[T]) UpsertMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	res, err := c.write(ctx, "UpsertMany", []any{records}, func(ctx context.Context) (any, error) {
		return c.base.UpsertMany(ctx, records, criteria...)
	})
	return as[[]T](res), err
}

func (c *cachedRepository[T]) UpsertManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	res, err := c.write(ctx, "UpsertManyTx", []any{records}, func(ctx context.Context) (any, error) {
		return c.base.UpsertManyTx(ctx, tx, records, criteria...)
	})
	return as[[]T](res), err
}

func (c *cachedRepository[T]) Delete(ctx context.Context, record T) error {
	_, err := c.write(ctx, "Delete", []any{record}, func(ctx context.Context) (any, error) {
		return struct{}{}, c.base.Delete(ctx, record)
	})
	return err
}

func (c *cachedRepository[T]) DeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	_, err := c.write(ctx, "DeleteTx", []any{record}, func(ctx context.Context) (any, error) {
		return struct{}{}, c.base.DeleteTx(ctx, tx, record)
	})
	return err
}

func (c *cachedRepository[T]) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	_, err := c.write(ctx, "DeleteMany", []any{criteria}, func(ctx context.Context) (any, error) {
		return struct{}{}, c.base.DeleteMany(ctx, criteria...)
	})
	return err
}

func (c *cachedRepository[T]) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	_, err := c.write(ctx, "DeleteManyTx", []any{criteria}, func(ctx context.Context) (any, error) {
		return struct{}{}, c.base.DeleteManyTx(ctx, tx, criteria...)
	})
	return err
}

func (c *cachedRepository[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	_, err := c.write(ctx, "DeleteWhere", []any{criteria}, func(ctx context.Context) (any, error) {
		return struct{}{}, c.base.DeleteWhere(ctx, criteria...)
	})
	return err
}

func (c *cachedRepository[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	_, err := c.write(ctx, "DeleteWhereTx", []any{criteria}, func(ctx context.Context) (any, error) {
		return struct{}{}, c.base.DeleteWhereTx(ctx, tx, criteria...)
	})
	return err
}

func (c *cachedRepository[T]) ForceDelete(ctx context.Context, record T) error {
	_, err := c.write(ctx, "ForceDelete", []any{record}, func(ctx context.Context) (any, error) {
		return struct{}{}, c.base.ForceDelete(ctx, record)
	})
	return err
}

func (c *cachedRepository[T]) ForceDeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	_, err := c.write(ctx, "ForceDeleteTx", []any{record}, func(ctx context.Context) (any, error) {
		return struct{}{}, c.base.ForceDeleteTx(ctx, tx, record)
	})
	return err
}

// GetTx, GetByIDTx, ListTx, CountTx, GetByIdentifierTx, Raw, RawTx, and
// Handlers all pass through uncached: reads inside a transaction must
// observe the transaction's own uncommitted writes, which a shared cache
// cannot guarantee, and Raw/Handlers have no Statement/Mutation shape to
// key on.

func (c *cachedRepository[T]) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetTx(ctx, tx, criteria...)
}

func (c *cachedRepository[T]) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIDTx(ctx, tx, id, criteria...)
}

func (c *cachedRepository[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return c.base.ListTx(ctx, tx, criteria...)
}

func (c *cachedRepository[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return c.base.CountTx(ctx, tx, criteria...)
}

func (c *cachedRepository[T]) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIdentifierTx(ctx, tx, identifier, criteria...)
}

func (c *cachedRepository[T]) Raw(ctx context.Context, sql string, args ...any) ([]T, error) {
	return c.base.Raw(ctx, sql, args...)
}

func (c *cachedRepository[T]) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]T, error) {
	return c.base.RawTx(ctx, tx, sql, args...)
}

func (c *cachedRepository[T]) Handlers() repository.ModelHandlers[T] {
	return c.base.Handlers()
}

// as type-asserts res into T, returning the zero value if res is nil (a
// write that only returned an error, or a coordinator short-circuit).
func as[T any](res any) T {
	if res == nil {
		var zero T
		return zero
	}
	return res.(T)
}
