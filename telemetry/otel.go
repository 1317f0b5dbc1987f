package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/itsneelabh/agenttrace/core"
	"github.com/itsneelabh/agenttrace/internal/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider owns the OpenTelemetry SDK providers for one process.
// Span export and sampling stay with the SDK; Provider only wires them.
type Provider struct {
	TraceProvider *sdktrace.TracerProvider
	MeterProvider *sdkmetric.MeterProvider
	serviceName   string
	logger        core.Logger
}

// NewProvider creates trace and meter providers from the telemetry section
// of cfg. Exporter "none" still yields a working provider whose spans are
// recorded but never exported, which keeps the engine usable in tests.
func NewProvider(ctx context.Context, cfg *core.Config, logger core.Logger) (*Provider, error) {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	res, err := createResource(cfg.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTEL resource: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	exporter, err := newSpanExporter(ctx, cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	if exporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.Telemetry.MetricsEnabled {
		endpoint := cfg.Telemetry.MetricsEndpoint
		if endpoint == "" {
			endpoint = cfg.Telemetry.Endpoint
		}
		metricExporter, err := newMetricExporter(ctx, endpoint, cfg.Telemetry.Insecure)
		if err != nil {
			if exporter != nil {
				_ = exporter.Shutdown(ctx)
			}
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	}

	p := &Provider{
		TraceProvider: sdktrace.NewTracerProvider(traceOpts...),
		MeterProvider: sdkmetric.NewMeterProvider(meterOpts...),
		serviceName:   cfg.ServiceName,
		logger:        logger,
	}

	logger.Info("Telemetry provider initialized", map[string]interface{}{
		"service":  cfg.ServiceName,
		"exporter": cfg.Telemetry.Exporter,
		"endpoint": cfg.Telemetry.Endpoint,
		"metrics":  cfg.Telemetry.MetricsEnabled,
	})

	return p, nil
}

// Exporter constructors, replaceable in tests.
var (
	newSpanExporter   = buildSpanExporter
	newMetricExporter = buildMetricExporter
)

func buildSpanExporter(ctx context.Context, cfg core.TelemetryConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case core.ExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		return exporter, nil
	case core.ExporterStdout:
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stdout))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exporter, nil
	case core.ExporterNone, "":
		return nil, nil
	default:
		return nil, core.NewFrameworkError("telemetry.NewProvider", "telemetry",
			fmt.Errorf("%q: %w", cfg.Exporter, core.ErrUnsupportedExporter))
	}
}

func buildMetricExporter(ctx context.Context, endpoint string, insecure bool) (sdkmetric.Exporter, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return otlpmetrichttp.New(ctx, opts...)
}

// createResource creates an OTEL resource describing this process
func createResource(serviceName string) (*resource.Resource, error) {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(version.Get()),
		semconv.DeploymentEnvironmentKey.String(getEnvironment()),
		attribute.String("agenttrace.version", version.Get()),
	), nil
}

// getEnvironment gets the deployment environment
func getEnvironment() string {
	if env := os.Getenv("DEPLOYMENT_ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}

// InstallGlobal registers the providers and the W3C propagators as the
// process-wide OpenTelemetry defaults.
func (p *Provider) InstallGlobal() {
	otel.SetTracerProvider(p.TraceProvider)
	otel.SetMeterProvider(p.MeterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// Tracer returns a named tracer from the owned trace provider.
func (p *Provider) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return p.TraceProvider.Tracer(name, opts...)
}

// Meter returns a named meter from the owned meter provider.
func (p *Provider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return p.MeterProvider.Meter(name, opts...)
}

// ForceFlush exports every span ended so far.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.TraceProvider.ForceFlush(ctx)
}

// Shutdown flushes and stops both providers. Both are always attempted.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.TraceProvider != nil {
		if err := p.TraceProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		p.logger.Error("Telemetry provider shutdown failed", map[string]interface{}{
			"error":   err,
			"service": p.serviceName,
		})
		return err
	}
	return nil
}
