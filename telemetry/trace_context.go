// Package telemetry provides trace context extraction for log correlation.
//
// Use GetTraceContext to extract trace identifiers for inclusion in logs:
//
//	tc := telemetry.GetTraceContext(ctx)
//	logger.Info("Processing request", map[string]interface{}{
//	    "trace_id": tc.TraceID,
//	    "span_id":  tc.SpanID,
//	})
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// TraceContext holds trace and span identifiers for log correlation.
type TraceContext struct {
	// TraceID is the 32-character hex trace identifier
	TraceID string

	// SpanID is the 16-character hex span identifier
	SpanID string

	// Sampled indicates whether this trace is being sampled (recorded)
	Sampled bool
}

// GetTraceContext extracts OpenTelemetry trace context from the context.
// Returns empty strings if no valid trace context exists.
func GetTraceContext(ctx context.Context) TraceContext {
	if ctx == nil {
		return TraceContext{}
	}
	return SpanContextToTraceContext(trace.SpanFromContext(ctx).SpanContext())
}

// SpanContextToTraceContext converts a span context into its hex form.
func SpanContextToTraceContext(sc trace.SpanContext) TraceContext {
	if !sc.IsValid() {
		return TraceContext{}
	}
	return TraceContext{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
		Sampled: sc.IsSampled(),
	}
}

// RemoteSpanContext rebuilds a remote span context from stored identifiers.
// The second return value is false when either identifier is malformed.
func RemoteSpanContext(tc TraceContext) (trace.SpanContext, bool) {
	if tc.TraceID == "" || tc.SpanID == "" {
		return trace.SpanContext{}, false
	}
	tid, err := trace.TraceIDFromHex(tc.TraceID)
	if err != nil {
		return trace.SpanContext{}, false
	}
	sid, err := trace.SpanIDFromHex(tc.SpanID)
	if err != nil {
		return trace.SpanContext{}, false
	}

	var flags trace.TraceFlags
	if tc.Sampled {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: flags,
		Remote:     true,
	}), true
}

// EnrichLogFields adds correlation and trace identifiers to log fields.
// span overrides whatever span ctx carries when it is non-nil.
func EnrichLogFields(ctx context.Context, span trace.Span, fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		fields = make(map[string]interface{})
	}

	if correlationID := GetCorrelationID(ctx); correlationID != "" {
		fields["correlation_id"] = correlationID
	}

	var tc TraceContext
	if span != nil {
		tc = SpanContextToTraceContext(span.SpanContext())
	} else {
		tc = GetTraceContext(ctx)
	}
	if tc.TraceID != "" {
		fields["trace_id"] = tc.TraceID
		fields["span_id"] = tc.SpanID
	}

	return fields
}
