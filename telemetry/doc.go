/*
Package telemetry wires the OpenTelemetry SDK for agenttrace and carries the
context-scoped signals the callback handlers read.

Provider Bootstrap:

NewProvider builds an sdktrace.TracerProvider and an sdkmetric.MeterProvider
from core.Config. The span exporter is chosen by Telemetry.Exporter:
  - "otlp": OTLP over gRPC (otlptracegrpc)
  - "stdout": pretty-printed spans on stdout (stdouttrace)
  - "none": spans are recorded but not exported

Engine metrics are exported over OTLP/HTTP when Telemetry.MetricsEnabled is set.

	provider, err := telemetry.NewProvider(ctx, cfg, logger)
	if err != nil {
	    return err
	}
	defer provider.Shutdown(context.Background())

Suppression:

WithSuppressed marks a context so that every callback handler invoked with it
(or with any context derived from it) is a complete no-op:

	ctx = telemetry.WithSuppressed(ctx)

Log Correlation:

EnrichLogFields adds correlation_id, trace_id and span_id to log fields.

HTTP:

TracingMiddleware (otelhttp) and CorrelationMiddleware wrap the ingestion server.
*/
package telemetry
