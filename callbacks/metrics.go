package callbacks

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metric names emitted by the handlers.
const (
	MetricSpansStarted     = "agenttrace.spans.started"
	MetricSpansClosed      = "agenttrace.spans.closed"
	MetricSpansForceClosed = "agenttrace.spans.force_closed"
	MetricEventsIgnored    = "agenttrace.events.ignored"
	MetricSpansActive      = "agenttrace.spans.active"
	MetricRunDuration      = "agenttrace.run.duration"
)

// Reasons attached to agenttrace.events.ignored.
const (
	ReasonSuppressed = "suppressed"
	ReasonUnknownRun = "unknown_run"
	ReasonDuplicate  = "duplicate_start"
	ReasonPanic      = "panic"
)

var (
	kindKey   = attribute.Key("kind")
	statusKey = attribute.Key("status")
	reasonKey = attribute.Key("reason")
	eventKey  = attribute.Key("event")
)

// engineMetrics holds the instruments recorded by the handlers. A failed
// instrument falls back to a no-op so recording never has to be guarded.
type engineMetrics struct {
	started     metric.Int64Counter
	closed      metric.Int64Counter
	forceClosed metric.Int64Counter
	ignored     metric.Int64Counter
	active      metric.Int64UpDownCounter
	duration    metric.Float64Histogram
}

func newEngineMetrics(meter metric.Meter) (*engineMetrics, error) {
	fallback := noop.NewMeterProvider().Meter(InstrumentationName)
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m := &engineMetrics{}
	var err error

	if m.started, err = meter.Int64Counter(MetricSpansStarted,
		metric.WithDescription("Spans started by the callback handlers"),
		metric.WithUnit("{span}")); err != nil {
		keep(err)
		m.started, _ = fallback.Int64Counter(MetricSpansStarted)
	}
	if m.closed, err = meter.Int64Counter(MetricSpansClosed,
		metric.WithDescription("Spans ended by an end or error event"),
		metric.WithUnit("{span}")); err != nil {
		keep(err)
		m.closed, _ = fallback.Int64Counter(MetricSpansClosed)
	}
	if m.forceClosed, err = meter.Int64Counter(MetricSpansForceClosed,
		metric.WithDescription("Child spans ended because their parent finished first"),
		metric.WithUnit("{span}")); err != nil {
		keep(err)
		m.forceClosed, _ = fallback.Int64Counter(MetricSpansForceClosed)
	}
	if m.ignored, err = meter.Int64Counter(MetricEventsIgnored,
		metric.WithDescription("Events dropped without touching the registry"),
		metric.WithUnit("{event}")); err != nil {
		keep(err)
		m.ignored, _ = fallback.Int64Counter(MetricEventsIgnored)
	}
	if m.active, err = meter.Int64UpDownCounter(MetricSpansActive,
		metric.WithDescription("Spans currently open in the registry"),
		metric.WithUnit("{span}")); err != nil {
		keep(err)
		m.active, _ = fallback.Int64UpDownCounter(MetricSpansActive)
	}
	if m.duration, err = meter.Float64Histogram(MetricRunDuration,
		metric.WithDescription("Wall time between a run's start and its end or error"),
		metric.WithUnit("s")); err != nil {
		keep(err)
		m.duration, _ = fallback.Float64Histogram(MetricRunDuration)
	}

	return m, firstErr
}

func (m *engineMetrics) recordStart(ctx context.Context, kind Kind) {
	attrs := metric.WithAttributes(kindKey.String(kind.String()))
	m.started.Add(ctx, 1, attrs)
	m.active.Add(ctx, 1, attrs)
}

func (m *engineMetrics) recordClose(ctx context.Context, kind Kind, status string, startedAt, endedAt time.Time) {
	m.closed.Add(ctx, 1, metric.WithAttributes(kindKey.String(kind.String()), statusKey.String(status)))
	m.active.Add(ctx, -1, metric.WithAttributes(kindKey.String(kind.String())))
	m.duration.Record(ctx, endedAt.Sub(startedAt).Seconds(),
		metric.WithAttributes(kindKey.String(kind.String()), statusKey.String(status)))
}

func (m *engineMetrics) recordForceClose(ctx context.Context, kind Kind) {
	m.forceClosed.Add(ctx, 1, metric.WithAttributes(kindKey.String(kind.String())))
	m.active.Add(ctx, -1, metric.WithAttributes(kindKey.String(kind.String())))
}

func (m *engineMetrics) recordIgnored(ctx context.Context, event, reason string) {
	m.ignored.Add(ctx, 1, metric.WithAttributes(eventKey.String(event), reasonKey.String(reason)))
}
