package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/itsneelabh/agenttrace"
	"github.com/itsneelabh/agenttrace/core"
	"github.com/itsneelabh/agenttrace/ingest"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the event ingestion server",
	Long: `Start the HTTP ingestion server.

Clients POST callback envelopes to /v1/events. Accepted events are applied in
order to a single span registry and exported through the configured exporter.

Press Ctrl+C to shut down gracefully; queued events are drained first.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default :8088)")
	serveCmd.Flags().String("exporter", "", "span exporter (otlp, stdout, none)")
	serveCmd.Flags().String("endpoint", "", "OTLP collector endpoint")
	rootCmd.AddCommand(serveCmd)
}

// loadConfig layers defaults, the config file, the environment and then
// explicitly set flags.
func loadConfig(cmd *cobra.Command) (*core.Config, error) {
	cfg := core.DefaultConfig()
	if cfgFile != "" {
		if err := cfg.LoadFromFile(cfgFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	var opts []core.Option
	flags := cmd.Flags()
	if flags.Changed("addr") {
		addr, _ := flags.GetString("addr")
		opts = append(opts, core.WithIngestAddress(addr))
	}
	if flags.Changed("exporter") || flags.Changed("endpoint") {
		exporter, _ := flags.GetString("exporter")
		if exporter == "" {
			exporter = cfg.Telemetry.Exporter
		}
		endpoint, _ := flags.GetString("endpoint")
		opts = append(opts, core.WithExporter(exporter, endpoint))
	}
	if flags.Changed("log-level") {
		level, _ := flags.GetString("log-level")
		opts = append(opts, core.WithLogLevel(level))
	}
	if flags.Changed("log-format") {
		format, _ := flags.GetString("log-format")
		opts = append(opts, core.WithLogFormat(format))
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := context.Background()
	inst, err := agenttrace.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	inst.InstallGlobal()

	logger := agenttrace.NewLogger(cfg, "ingest")
	dispatcher := ingest.NewDispatcher(inst.Handler, cfg.Ingest.QueueSize, logger)
	server := ingest.NewServer(cfg, dispatcher, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigch)

	var serveErr error
	select {
	case sig := <-sigch:
		logger.Info("Shutting down gracefully", map[string]interface{}{
			"signal": sig.String(),
		})
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("Ingestion server stopped", map[string]interface{}{
				"error": serveErr,
			})
		}
	}

	var errs []error
	if serveErr != nil {
		errs = append(errs, serveErr)
	}
	if err := server.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	timeout := cfg.Ingest.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := inst.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.Info("Shutdown complete", nil)
	return nil
}
