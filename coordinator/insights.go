package coordinator

import "time"

// EventType is the discriminant of an Insight.
type EventType string

const (
	EventHit   EventType = "hit"
	EventMiss  EventType = "miss"
	EventEvict EventType = "evict"
)

// DependenciesSummary mirrors engine.DependenciesSummary; duplicated here so
// that package coordinator's public Insight type has no engine import
// requirement beyond the engine package it already imports.
type DependenciesSummary struct {
	ModelCount  int
	RecordCount int
}

// Insight is one best-effort observability event the coordinator emits on
// hit, miss, and evict. Consumer errors must never propagate back into the
// coordinator.
type Insight struct {
	ShapeID             string
	EventType           EventType
	Timestamp           int64
	DependenciesSummary *DependenciesSummary
}

// Sink receives Insight events. Implementations must not block the
// coordinator; Emit should return quickly (e.g. a buffered channel send or
// a fire-and-forget log call).
type Sink interface {
	Emit(Insight)
}

// NoopSink discards every Insight. It is the Coordinator's default Sink.
type NoopSink struct{}

func (NoopSink) Emit(Insight) {}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// emit is the single call site that feeds the configured Sink, recovering
// from any panic inside a misbehaving Sink so it can never bring down the
// coordinator goroutine it runs on.
func (c *Coordinator) emit(in Insight) {
	defer func() { _ = recover() }()
	c.sink.Emit(in)
}

func (c *Coordinator) emitMiss(shapeID string, deps DependenciesSummary) {
	c.emit(Insight{
		ShapeID:             shapeID,
		EventType:           EventMiss,
		Timestamp:           nowMillis(),
		DependenciesSummary: &deps,
	})
}
