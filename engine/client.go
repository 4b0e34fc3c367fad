// Package engine is the marshaller between this module and the Dependency
// Engine: a self-contained WebAssembly component exposing a linear-memory
// ABI. It serializes Go values to UTF-8 JSON, shuttles them through guest
// linear memory via malloc/free, and decodes take_result/last_error back
// into Go values or a typed *Error.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/goliatone/querycache/mapper"
	"github.com/goliatone/querycache/schema"
)

// scratchPtr/scratchLen are the fixed (offset, length) of the scratch
// region take_result/last_error write their (ptr,len) output pair into.
const (
	scratchPtr = 0
	scratchLen = 8
)

// VersionInfo is the result of the engine's version() call.
type VersionInfo struct {
	Core     string `json:"core"`
	Contract string `json:"contract"`
	ABI      string `json:"abi"`
}

// DependenciesSummary is the per-query dependency count the engine reports
// from add_query, and what the coordinator's miss insight events carry as
// dependenciesSummary.
type DependenciesSummary struct {
	ModelCount  int `json:"modelCount"`
	RecordCount int `json:"recordCount"`
}

// AddQueryResult is the result of the engine's add_query() call.
type AddQueryResult struct {
	ShapeID      string              `json:"shapeId"`
	Dependencies DependenciesSummary `json:"dependencies"`
}

// ExplainResult is the result of the engine's explain_invalidation() call.
type ExplainResult struct {
	Invalidate bool     `json:"invalidate"`
	Reasons    []string `json:"reasons"`
}

// Client is the Engine Client: one exported method per ABI function.
type Client struct {
	runtime wazero.Runtime
	module  api.Module
}

// NewClient instantiates the given WASM module bytes and returns a Client
// ready to call its exported ABI functions. The caller owns the returned
// Client and must call Close when done to release the WASM runtime.
func NewClient(ctx context.Context, wasmBytes []byte) (*Client, error) {
	rt := wazero.NewRuntime(ctx)

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("engine: compile module: %w", err)
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("engine: instantiate module: %w", err)
	}

	return &Client{runtime: rt, module: mod}, nil
}

// Close releases the underlying WASM runtime and all its resources.
func (c *Client) Close(ctx context.Context) error {
	return c.runtime.Close(ctx)
}

// Version calls version(). Like reset(), version() takes no input, so it
// is invoked directly with zero arguments rather than through call, which
// always passes a (ptr,len) pair.
func (c *Client) Version(ctx context.Context) (VersionInfo, error) {
	var out VersionInfo

	status, err := c.invoke(ctx, "version")
	if err != nil {
		return out, err
	}
	if Status(status) != StatusOK {
		return out, c.lastError(ctx, Status(status))
	}

	raw, err := c.takeResult(ctx)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("engine: decode version result: %w", err)
	}
	return out, nil
}

// SetSchema calls set_schema(ptr,len) with s as the JSON payload. Must
// succeed before any ComputeShapeID/AddQuery/Invalidate call.
func (c *Client) SetSchema(ctx context.Context, s schema.AppSchema) error {
	_, err := c.call(ctx, "set_schema", s)
	return err
}

// ComputeShapeID calls compute_shape_id(ptr,len) and returns the
// deterministic ShapeId for stmt: the same Statement always yields the
// same ShapeId, so repeated calls reuse a single cache entry.
func (c *Client) ComputeShapeID(ctx context.Context, stmt mapper.Statement) (string, error) {
	raw, err := c.call(ctx, "compute_shape_id", stmt)
	if err != nil {
		return "", err
	}
	var out struct {
		ShapeID string `json:"shapeId"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("engine: decode compute_shape_id result: %w", err)
	}
	return out.ShapeID, nil
}

// AddQuery calls add_query(ptr,len), registering shape (plus an optional
// resultHint) so the engine can track its dependencies.
func (c *Client) AddQuery(ctx context.Context, shape mapper.Statement, resultHint any) (AddQueryResult, error) {
	payload := struct {
		Shape      mapper.Statement `json:"shape"`
		ResultHint any              `json:"resultHint,omitempty"`
	}{Shape: shape, ResultHint: resultHint}

	raw, err := c.call(ctx, "add_query", payload)
	if err != nil {
		return AddQueryResult{}, err
	}
	var out AddQueryResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return AddQueryResult{}, fmt.Errorf("engine: decode add_query result: %w", err)
	}
	return out, nil
}

// Invalidate calls invalidate(ptr,len) and returns the ShapeIds a
// successful application of mut would invalidate.
func (c *Client) Invalidate(ctx context.Context, mut mapper.Mutation) ([]string, error) {
	raw, err := c.call(ctx, "invalidate", mut)
	if err != nil {
		return nil, err
	}
	var out struct {
		Evict []string `json:"evict"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("engine: decode invalidate result: %w", err)
	}
	return out.Evict, nil
}

// ExplainInvalidation calls explain_invalidation(ptr,len) for diagnostics.
func (c *Client) ExplainInvalidation(ctx context.Context, mut mapper.Mutation, shapeID string) (ExplainResult, error) {
	payload := struct {
		Mutation mapper.Mutation `json:"mutation"`
		ShapeID  string          `json:"shapeId"`
	}{Mutation: mut, ShapeID: shapeID}

	raw, err := c.call(ctx, "explain_invalidation", payload)
	if err != nil {
		return ExplainResult{}, err
	}
	var out ExplainResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return ExplainResult{}, fmt.Errorf("engine: decode explain_invalidation result: %w", err)
	}
	return out, nil
}

// Reset calls reset(), dropping all tracked queries. Schema is retained.
func (c *Client) Reset(ctx context.Context) error {
	status, err := c.invoke(ctx, "reset")
	if err != nil {
		return err
	}
	if Status(status) != StatusOK {
		return c.lastError(ctx, Status(status))
	}
	return nil
}

// call serializes payload (if non-nil) to JSON, rejects it if it contains a
// NUL byte, ships it through guest linear memory to fn, and returns the
// decoded take_result bytes on success.
func (c *Client) call(ctx context.Context, fn string, payload any) (json.RawMessage, error) {
	var data []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("engine: encode %s payload: %w", fn, err)
		}
		if bytes.IndexByte(encoded, 0) >= 0 {
			return nil, fmt.Errorf("engine: %s payload contains a NUL byte", fn)
		}
		data = encoded
	}

	ptr, err := c.malloc(ctx, uint32(len(data)))
	if err != nil {
		return nil, err
	}
	// Unconditional free: this call's outcome never affects whether the
	// guest-side region is released.
	defer c.free(ctx, ptr, uint32(len(data)))

	if len(data) > 0 {
		mem := c.module.Memory()
		if !mem.Write(ptr, data) {
			return nil, fmt.Errorf("engine: failed writing %s payload to linear memory", fn)
		}
	}

	status, err := c.invoke(ctx, fn, uint64(ptr), uint64(len(data)))
	if err != nil {
		return nil, err
	}
	if Status(status) != StatusOK {
		return nil, c.lastError(ctx, Status(status))
	}

	return c.takeResult(ctx)
}

// takeResult calls take_result and decodes the (ptr,len) pair it writes
// into the scratch region, re-acquiring the module's memory handle after
// the call: any engine call may have grown linear memory, invalidating
// prior references, so the handle must never be cached across calls.
func (c *Client) takeResult(ctx context.Context) (json.RawMessage, error) {
	status, err := c.invoke(ctx, "take_result", scratchPtr, scratchLen)
	if err != nil {
		return nil, err
	}
	if Status(status) != StatusOK {
		return nil, c.lastError(ctx, Status(status))
	}

	mem := c.module.Memory()
	ptr, ok := mem.ReadUint32Le(scratchPtr)
	if !ok {
		return nil, fmt.Errorf("engine: failed reading result pointer from scratch region")
	}
	length, ok := mem.ReadUint32Le(scratchPtr + 4)
	if !ok {
		return nil, fmt.Errorf("engine: failed reading result length from scratch region")
	}
	data, ok := mem.Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("engine: failed reading result bytes at [%d:%d]", ptr, ptr+length)
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// lastError calls last_error and decodes the {code,message} JSON it writes
// into the scratch region. If that itself cannot be parsed, it falls back
// to a synthetic error keyed off fallback (the original call's status
// code).
func (c *Client) lastError(ctx context.Context, fallback Status) error {
	synthetic := &Error{Code: fallback, Message: "engine call failed"}

	status, err := c.invoke(ctx, "last_error", scratchPtr, scratchLen)
	if err != nil || Status(status) != StatusOK {
		return synthetic
	}

	mem := c.module.Memory()
	ptr, ok1 := mem.ReadUint32Le(scratchPtr)
	length, ok2 := mem.ReadUint32Le(scratchPtr + 4)
	if !ok1 || !ok2 {
		return synthetic
	}
	data, ok := mem.Read(ptr, length)
	if !ok {
		return synthetic
	}

	var parsed errorResult
	if err := json.Unmarshal(data, &parsed); err != nil {
		return synthetic
	}

	return &Error{Code: statusFromName(parsed.Code), Message: parsed.Message}
}

func statusFromName(name string) Status {
	for code, n := range statusNames {
		if n == name {
			return code
		}
	}
	return StatusInternal
}

func (c *Client) malloc(ctx context.Context, size uint32) (uint32, error) {
	fn := c.module.ExportedFunction("malloc")
	if fn == nil {
		return 0, fmt.Errorf("engine: exported function \"malloc\" not found")
	}
	res, err := fn.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("engine: malloc(%d): %w", size, err)
	}
	return uint32(res[0]), nil
}

func (c *Client) free(ctx context.Context, ptr, size uint32) {
	fn := c.module.ExportedFunction("free")
	if fn == nil {
		return
	}
	// free's own failure is not actionable by the caller; best-effort only.
	_, _ = fn.Call(ctx, uint64(ptr), uint64(size))
}

// invoke calls the named exported function and returns its u32 status.
func (c *Client) invoke(ctx context.Context, name string, args ...uint64) (uint32, error) {
	fn := c.module.ExportedFunction(name)
	if fn == nil {
		return 0, fmt.Errorf("engine: exported function %q not found", name)
	}
	res, err := fn.Call(ctx, args...)
	if err != nil {
		return 0, fmt.Errorf("engine: call %s: %w", name, err)
	}
	if len(res) == 0 {
		return 0, fmt.Errorf("engine: call %s returned no results", name)
	}
	return uint32(res[0]), nil
}
