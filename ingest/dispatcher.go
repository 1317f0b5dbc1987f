package ingest

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/itsneelabh/agenttrace/callbacks"
	"github.com/itsneelabh/agenttrace/core"
	"github.com/itsneelabh/agenttrace/telemetry"
)

// EventHandler consumes decoded events. *callbacks.Handler implements it.
type EventHandler interface {
	Dispatch(ctx context.Context, ev callbacks.Event)
}

type delivery struct {
	event         callbacks.Event
	suppressed    bool
	correlationID string
}

// Dispatcher hands events to an EventHandler from a single goroutine, so
// events accepted in order are applied in order. Enqueue never blocks: a full
// queue is reported to the caller.
type Dispatcher struct {
	handler EventHandler
	logger  core.Logger
	queue   chan delivery

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher starts a dispatcher with a queue of queueSize events.
func NewDispatcher(handler EventHandler, queueSize int, logger core.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	d := &Dispatcher{
		handler: handler,
		logger:  logger,
		queue:   make(chan delivery, queueSize),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue schedules ev for delivery. The correlation id of ctx travels with
// the event; ctx itself is not retained.
func (d *Dispatcher) Enqueue(ctx context.Context, ev callbacks.Event, suppressed bool) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return core.ErrDispatcherClosed
	}

	item := delivery{
		event:         ev,
		suppressed:    suppressed,
		correlationID: telemetry.GetCorrelationID(ctx),
	}

	select {
	case d.queue <- item:
		return nil
	default:
		return fmt.Errorf("%d events pending: %w", len(d.queue), core.ErrQueueFull)
	}
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Close stops accepting events and waits until the queue is drained or ctx
// is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher drain interrupted with %d events pending: %w", len(d.queue), ctx.Err())
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for item := range d.queue {
		d.deliver(item)
	}
}

func (d *Dispatcher) deliver(item delivery) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Event handler panicked", map[string]interface{}{
				"panic":          fmt.Sprint(r),
				"event_type":     fmt.Sprintf("%T", item.event),
				"correlation_id": item.correlationID,
				"stack":          string(debug.Stack()),
			})
		}
	}()

	ctx := context.Background()
	if item.correlationID != "" {
		ctx = telemetry.WithCorrelationID(ctx, item.correlationID)
	}
	if item.suppressed {
		ctx = telemetry.WithSuppressed(ctx)
	}
	d.handler.Dispatch(ctx, item.event)
}
