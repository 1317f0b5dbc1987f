// Package agenttrace turns LLM, chain, tool and agent callback events into
// OpenTelemetry span trees.
//
// Most users only need this package:
//
//	inst, err := agenttrace.New(
//	    agenttrace.WithServiceName("checkout-agent"),
//	    agenttrace.WithExporter(agenttrace.ExporterOTLP, "otel-collector:4317"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	inst.Handler.HandleChainStart(ctx, agenttrace.ChainStartEvent{...})
//
// The subpackages can be imported directly:
//   - github.com/itsneelabh/agenttrace/callbacks - the correlation engine
//   - github.com/itsneelabh/agenttrace/telemetry - SDK bootstrap and context helpers
//   - github.com/itsneelabh/agenttrace/ingest - HTTP ingestion for out-of-process sources
package agenttrace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/itsneelabh/agenttrace/callbacks"
	"github.com/itsneelabh/agenttrace/core"
	"github.com/itsneelabh/agenttrace/telemetry"
)

// Instrumentation bundles a callback Handler with the telemetry provider and
// link store it was built from.
type Instrumentation struct {
	Handler  *callbacks.Handler
	Provider *telemetry.Provider
	Config   *core.Config
	Logger   core.Logger

	links callbacks.LinkStore
}

// New builds Instrumentation from defaults, environment and options.
func New(opts ...Option) (*Instrumentation, error) {
	cfg, err := core.NewConfig(opts...)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(context.Background(), cfg)
}

// NewWithConfig builds Instrumentation from an already validated config.
// The provider is not installed globally; call InstallGlobal for that.
func NewWithConfig(ctx context.Context, cfg *core.Config) (*Instrumentation, error) {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	logger := NewLogger(cfg, "callbacks")

	provider, err := telemetry.NewProvider(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	links, err := callbacks.NewLinkStore(cfg.LinkStore, logger)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}

	handlerOpts := []callbacks.HandlerOption{
		callbacks.WithTracerProvider(provider.TraceProvider),
		callbacks.WithMeterProvider(provider.MeterProvider),
		callbacks.WithLogger(logger),
		callbacks.WithContentCapture(cfg.Capture.Content, cfg.Capture.MaxLength),
	}
	if links != nil {
		handlerOpts = append(handlerOpts, callbacks.WithLinkStore(links))
	}

	return &Instrumentation{
		Handler:  callbacks.NewHandler(handlerOpts...),
		Provider: provider,
		Config:   cfg,
		Logger:   logger,
		links:    links,
	}, nil
}

// InstallGlobal registers the providers as the process-wide defaults.
func (i *Instrumentation) InstallGlobal() {
	i.Provider.InstallGlobal()
}

// Shutdown flushes pending spans and releases the link store.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var errs []error
	if err := i.Provider.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if closer, ok := i.links.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close link store: %w", err))
		}
	}
	if syncer, ok := i.Logger.(interface{ Sync() error }); ok {
		_ = syncer.Sync()
	}
	return errors.Join(errs...)
}

// NewLogger returns the logger the configuration asks for: zap for JSON
// output, the production text logger otherwise.
func NewLogger(cfg *core.Config, component string) core.Logger {
	if strings.EqualFold(cfg.Logging.Format, "json") {
		return core.NewZapLogger(core.BuildZapLogger(cfg.Logging.Level).
			Named(component).
			With(zap.String("service", cfg.ServiceName)))
	}
	logger := core.NewProductionLogger(cfg.ServiceName, component)
	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	return logger
}
