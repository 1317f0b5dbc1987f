package telemetry

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddlewareConfig allows customization of the tracing middleware.
type TracingMiddlewareConfig struct {
	// ExcludedPaths are paths that should not be traced (e.g., /health)
	ExcludedPaths []string

	// TracerProvider overrides the global provider when set
	TracerProvider trace.TracerProvider
}

// TracingMiddleware wraps an HTTP handler with OpenTelemetry instrumentation.
//
// Requests to the ingestion endpoint get their own server span. The spans the
// engine creates from the request body are roots of their own traces and are
// never parented to it.
//
//	traced := telemetry.TracingMiddleware("agenttrace-ingest", &telemetry.TracingMiddlewareConfig{
//	    ExcludedPaths: []string{"/health"},
//	})(mux)
func TracingMiddleware(serviceName string, config *TracingMiddlewareConfig) func(http.Handler) http.Handler {
	var opts []otelhttp.Option

	if config != nil && len(config.ExcludedPaths) > 0 {
		pathSet := make(map[string]bool)
		for _, path := range config.ExcludedPaths {
			pathSet[path] = true
		}
		opts = append(opts, otelhttp.WithFilter(func(r *http.Request) bool {
			// Return false to exclude from tracing
			return !pathSet[r.URL.Path]
		}))
	}
	if config != nil && config.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(config.TracerProvider))
	}

	// Default: "HTTP POST /v1/events"
	opts = append(opts, otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
		return "HTTP " + r.Method + " " + r.URL.Path
	}))

	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName, opts...)
	}
}

// CorrelationMiddleware reads or generates a correlation ID, stores it in the
// request context and echoes it back in the response headers.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithCorrelationID(r.Context(), r.Header.Get(HeaderCorrelationID))
		correlationID := GetCorrelationID(ctx)

		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(attribute.String("correlation.id", correlationID))
		}

		w.Header().Set(HeaderCorrelationID, correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
