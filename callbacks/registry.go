package callbacks

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ExecutionRecord is the registry entry of one in-flight run.
type ExecutionRecord struct {
	RunID string
	Kind  Kind
	// Span is created on start and ended exactly once.
	Span trace.Span
	// Children lists child run ids in start order.
	Children []string
	// StartedAt is diagnostic only.
	StartedAt time.Time
	// ResolvedModel is set once, when the model identity becomes known.
	ResolvedModel string
	// Metadata holds the sanitised metadata visible to this run, inherited
	// entries included.
	Metadata map[string]attribute.Value

	closed bool
}

// Registry maps run ids to live execution records.
//
// A record exists for a run id from its start until its end or error has
// been processed. Children only reference runs that were live when they were
// appended, and every record has at most one parent, fixed at creation. The
// parent must already be registered, so the tree is a forest.
//
// The event source is expected to deliver events for one tree from a single
// logical thread of control; the mutex keeps the map consistent when that
// contract is broken but does not restore ordering.
type Registry struct {
	tracer  trace.Tracer
	mu      sync.Mutex
	records map[string]*ExecutionRecord
	now     func() time.Time
}

// NewRegistry creates an empty registry whose spans come from tracer.
func NewRegistry(tracer trace.Tracer) *Registry {
	return &Registry{
		tracer:  tracer,
		records: make(map[string]*ExecutionRecord),
		now:     time.Now,
	}
}

// Create starts a span for runID and registers it.
//
// When parentRunID names a live record the span becomes its child and runID
// is appended to the parent's Children. Otherwise the span is a new root,
// even if ctx carries an unrelated active span. A run id that is already
// live returns the existing record and starts nothing; the second return
// value reports whether a new record was created.
func (r *Registry) Create(ctx context.Context, runID, parentRunID, name string, kind Kind, opts ...trace.SpanStartOption) (*ExecutionRecord, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[runID]; ok {
		return existing, false
	}

	var parent *ExecutionRecord
	if parentRunID != "" {
		parent = r.records[parentRunID]
	}

	startOpts := make([]trace.SpanStartOption, 0, len(opts)+2)
	startOpts = append(startOpts, trace.WithSpanKind(kind.SpanKind()))
	if parent != nil {
		ctx = trace.ContextWithSpan(ctx, parent.Span)
	} else {
		startOpts = append(startOpts, trace.WithNewRoot())
	}
	startOpts = append(startOpts, opts...)

	_, span := r.tracer.Start(ctx, name, startOpts...)

	rec := &ExecutionRecord{
		RunID:     runID,
		Kind:      kind,
		Span:      span,
		StartedAt: r.now(),
	}
	r.records[runID] = rec

	if parent != nil {
		parent.Children = append(parent.Children, runID)
	}

	return rec, true
}

// Get returns the live record for runID.
func (r *Registry) Get(runID string) (*ExecutionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[runID]
	return rec, ok
}

// SetResolvedModel records the model identity of a run. The first non-empty
// value wins; later calls are ignored.
func (r *Registry) SetResolvedModel(runID, model string) {
	if model == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[runID]; ok && rec.ResolvedModel == "" {
		rec.ResolvedModel = model
	}
}

// metadata returns the sanitised metadata of a live run.
func (r *Registry) metadata(runID string) map[string]attribute.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[runID]; ok {
		return rec.Metadata
	}
	return nil
}

func (r *Registry) setMetadata(runID string, md map[string]attribute.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[runID]; ok {
		rec.Metadata = md
	}
}

// CloseCascading ends the span of runID and then the span of every child
// that is still live. Grandchildren are not visited: well-behaved runs close
// themselves, this pass only stops direct children from leaking when their
// parent finishes first.
//
// The closed records are returned with runID's record first. A run id that
// is not live returns nil, so closing twice has the effect of closing once.
func (r *Registry) CloseCascading(runID string) []*ExecutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[runID]
	if !ok {
		return nil
	}

	closed := []*ExecutionRecord{rec}
	r.closeLocked(rec)

	for _, childID := range rec.Children {
		child, ok := r.records[childID]
		if !ok {
			continue
		}
		child.Span.AddEvent(EventForceClosed, trace.WithAttributes(ParentRunIDKey.String(runID)))
		r.closeLocked(child)
		closed = append(closed, child)
	}

	return closed
}

func (r *Registry) closeLocked(rec *ExecutionRecord) {
	if rec.closed {
		return
	}
	rec.closed = true
	rec.Span.End()
	delete(r.records, rec.RunID)
}

// Len returns the number of live records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
