package telemetry

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey type for context keys
type ContextKey string

const (
	// suppressionKey marks a context whose nested work must not be traced
	suppressionKey ContextKey = "agenttrace.suppressed"
	// CorrelationIDKey is the context key for correlation ID
	CorrelationIDKey ContextKey = "correlation_id"
)

// HeaderCorrelationID is the HTTP header for correlation ID
const HeaderCorrelationID = "X-Correlation-ID"

// WithSuppressed returns a context in which the callback handlers do nothing.
// Every context derived from it inherits the flag, so internal calls made on
// behalf of the instrumentation (summaries, retries, self-reporting) stay out
// of the trace tree without threading a parameter through each call.
//
//	ctx = telemetry.WithSuppressed(ctx)
//	handler.HandleLLMStart(ctx, ev) // no span
func WithSuppressed(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, suppressionKey, true)
}

// WithoutSuppression clears the flag for a nested scope.
func WithoutSuppression(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, suppressionKey, false)
}

// IsSuppressed reports whether instrumentation is suppressed for ctx.
func IsSuppressed(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	suppressed, _ := ctx.Value(suppressionKey).(bool)
	return suppressed
}

// WithCorrelationID stores a correlation ID, generating one when id is empty.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if id == "" {
		id = uuid.New().String()
	}
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// GetCorrelationID retrieves correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}
