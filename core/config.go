package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Exporter names accepted by TelemetryConfig.Exporter.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// Link store providers accepted by LinkStoreConfig.Provider.
const (
	LinkStoreNone   = "none"
	LinkStoreMemory = "memory"
	LinkStoreRedis  = "redis"
)

// Config holds all configuration options for agenttrace.
// It supports four-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Config file (JSON or YAML)
//  3. Environment variables
//  4. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithServiceName("checkout-agent"),
//	    WithExporter(ExporterOTLP, "otel-collector:4317"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	ServiceName string `json:"service_name" yaml:"service_name" env:"AGENTTRACE_SERVICE_NAME,OTEL_SERVICE_NAME" default:"agenttrace"`

	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Capture   CaptureConfig   `json:"capture" yaml:"capture"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	LinkStore LinkStoreConfig `json:"link_store" yaml:"link_store"`
}

// TelemetryConfig selects how the OpenTelemetry SDK is wired.
type TelemetryConfig struct {
	Exporter        string `json:"exporter" yaml:"exporter" env:"AGENTTRACE_EXPORTER" default:"none"`
	Endpoint        string `json:"endpoint" yaml:"endpoint" env:"AGENTTRACE_OTLP_ENDPOINT,OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure        bool   `json:"insecure" yaml:"insecure" env:"AGENTTRACE_OTLP_INSECURE" default:"true"`
	MetricsEnabled  bool   `json:"metrics_enabled" yaml:"metrics_enabled" env:"AGENTTRACE_METRICS_ENABLED" default:"false"`
	MetricsEndpoint string `json:"metrics_endpoint" yaml:"metrics_endpoint" env:"AGENTTRACE_METRICS_ENDPOINT"`
}

// CaptureConfig controls whether free-form inputs and outputs are copied
// onto spans. Prompts and tool payloads can carry user data.
type CaptureConfig struct {
	Content   bool `json:"content" yaml:"content" env:"AGENTTRACE_CAPTURE_CONTENT" default:"true"`
	MaxLength int  `json:"max_length" yaml:"max_length" env:"AGENTTRACE_CAPTURE_MAX_LENGTH" default:"4096"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"AGENTTRACE_LOG_LEVEL" default:"info"`
	Format string `json:"format" yaml:"format" env:"AGENTTRACE_LOG_FORMAT" default:"text"`
}

// IngestConfig configures the HTTP event ingestion server.
type IngestConfig struct {
	Address         string        `json:"address" yaml:"address" env:"AGENTTRACE_INGEST_ADDRESS" default:":8088"`
	QueueSize       int           `json:"queue_size" yaml:"queue_size" env:"AGENTTRACE_INGEST_QUEUE_SIZE" default:"1024"`
	MaxBodyBytes    int64         `json:"max_body_bytes" yaml:"max_body_bytes" env:"AGENTTRACE_INGEST_MAX_BODY" default:"1048576"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"AGENTTRACE_INGEST_SHUTDOWN_TIMEOUT" default:"10s"`
}

// LinkStoreConfig configures cross-process span links.
type LinkStoreConfig struct {
	Provider  string        `json:"provider" yaml:"provider" env:"AGENTTRACE_LINKSTORE" default:"none"`
	RedisURL  string        `json:"redis_url" yaml:"redis_url" env:"AGENTTRACE_REDIS_URL,REDIS_URL"`
	TTL       time.Duration `json:"ttl" yaml:"ttl" env:"AGENTTRACE_LINKSTORE_TTL" default:"1h"`
	Namespace string        `json:"namespace" yaml:"namespace" env:"AGENTTRACE_LINKSTORE_NAMESPACE" default:"agenttrace:links"`
}

// Option is a functional option for configuring agenttrace.
// Options are applied in order and can return an error if the configuration is invalid.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: "agenttrace",
		Telemetry: TelemetryConfig{
			Exporter: ExporterNone,
			Insecure: true,
		},
		Capture: CaptureConfig{
			Content:   true,
			MaxLength: 4096,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Ingest: IngestConfig{
			Address:         ":8088",
			QueueSize:       1024,
			MaxBodyBytes:    1 << 20, // 1MB
			ShutdownTimeout: 10 * time.Second,
		},
		LinkStore: LinkStoreConfig{
			Provider:  LinkStoreNone,
			TTL:       time.Hour,
			Namespace: "agenttrace:links",
		},
	}
}

// NewConfig builds a configuration from defaults, environment variables and
// the given options, then validates it.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment configuration: %w", err)
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

// LoadFromEnv overlays environment variables on the configuration.
// Malformed numeric or duration values are reported rather than ignored.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("AGENTTRACE_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	} else if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}

	// Telemetry
	if v := os.Getenv("AGENTTRACE_EXPORTER"); v != "" {
		c.Telemetry.Exporter = strings.ToLower(v)
	}
	if v := os.Getenv("AGENTTRACE_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	} else if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
	if v := os.Getenv("AGENTTRACE_OTLP_INSECURE"); v != "" {
		c.Telemetry.Insecure = parseBool(v)
	}
	if v := os.Getenv("AGENTTRACE_METRICS_ENABLED"); v != "" {
		c.Telemetry.MetricsEnabled = parseBool(v)
	}
	if v := os.Getenv("AGENTTRACE_METRICS_ENDPOINT"); v != "" {
		c.Telemetry.MetricsEndpoint = v
	}

	// Capture
	if v := os.Getenv("AGENTTRACE_CAPTURE_CONTENT"); v != "" {
		c.Capture.Content = parseBool(v)
	}
	if v := os.Getenv("AGENTTRACE_CAPTURE_MAX_LENGTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid AGENTTRACE_CAPTURE_MAX_LENGTH %q: %w", v, ErrInvalidConfiguration)
		}
		c.Capture.MaxLength = n
	}

	// Logging
	if v := os.Getenv("AGENTTRACE_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("AGENTTRACE_LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}

	// Ingest
	if v := os.Getenv("AGENTTRACE_INGEST_ADDRESS"); v != "" {
		c.Ingest.Address = v
	}
	if v := os.Getenv("AGENTTRACE_INGEST_QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid AGENTTRACE_INGEST_QUEUE_SIZE %q: %w", v, ErrInvalidConfiguration)
		}
		c.Ingest.QueueSize = n
	}
	if v := os.Getenv("AGENTTRACE_INGEST_MAX_BODY"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid AGENTTRACE_INGEST_MAX_BODY %q: %w", v, ErrInvalidConfiguration)
		}
		c.Ingest.MaxBodyBytes = n
	}
	if v := os.Getenv("AGENTTRACE_INGEST_SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid AGENTTRACE_INGEST_SHUTDOWN_TIMEOUT %q: %w", v, ErrInvalidConfiguration)
		}
		c.Ingest.ShutdownTimeout = d
	}

	// Link store
	if v := os.Getenv("AGENTTRACE_LINKSTORE"); v != "" {
		c.LinkStore.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("AGENTTRACE_REDIS_URL"); v != "" {
		c.LinkStore.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.LinkStore.RedisURL = v
	}
	if v := os.Getenv("AGENTTRACE_LINKSTORE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid AGENTTRACE_LINKSTORE_TTL %q: %w", v, ErrInvalidConfiguration)
		}
		c.LinkStore.TTL = d
	}
	if v := os.Getenv("AGENTTRACE_LINKSTORE_NAMESPACE"); v != "" {
		c.LinkStore.Namespace = v
	}

	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file.
// Fields present in the file override the current values; absent fields are kept.
//
// Example YAML:
//
//	service_name: checkout-agent
//	telemetry:
//	  exporter: otlp
//	  endpoint: otel-collector:4317
//	link_store:
//	  provider: redis
//	  redis_url: redis://redis:6379/0
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 -- path comes from the operator
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config file: %v: %w", err, ErrInvalidConfiguration)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %v: %w", err, ErrInvalidConfiguration)
		}
	}

	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
//
// Validation rules:
//   - Service name is required
//   - Exporter must be one of otlp, stdout, none
//   - OTLP exporter and enabled metrics need an endpoint
//   - Redis link store needs a Redis URL
//   - Queue size and capture length must not be negative
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "service name is required",
			Err:     ErrMissingConfiguration,
		}
	}

	switch c.Telemetry.Exporter {
	case ExporterOTLP, ExporterStdout, ExporterNone:
	default:
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("unsupported exporter: %q", c.Telemetry.Exporter),
			Err:     ErrUnsupportedExporter,
		}
	}

	if c.Telemetry.Exporter == ExporterOTLP && c.Telemetry.Endpoint == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "telemetry endpoint is required for the otlp exporter",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Telemetry.MetricsEnabled && c.Telemetry.MetricsEndpoint == "" && c.Telemetry.Endpoint == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "metrics endpoint is required when metrics are enabled",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Capture.MaxLength < 0 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("invalid capture max length: %d", c.Capture.MaxLength),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Ingest.QueueSize < 0 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("invalid ingest queue size: %d", c.Ingest.QueueSize),
			Err:     ErrInvalidConfiguration,
		}
	}

	switch c.LinkStore.Provider {
	case LinkStoreNone, LinkStoreMemory:
	case LinkStoreRedis:
		if c.LinkStore.RedisURL == "" {
			return &FrameworkError{
				Op:      "Config.Validate",
				Kind:    "config",
				Message: "redis URL is required for the redis link store",
				Err:     ErrMissingConfiguration,
			}
		}
	default:
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("unsupported link store provider: %q", c.LinkStore.Provider),
			Err:     ErrInvalidConfiguration,
		}
	}

	return nil
}

// Helper functions

// parseBool converts a string to a boolean value.
// Accepts: "true", "1", "yes", "on" (case-insensitive) as true.
// Everything else is false.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Functional Options

// WithServiceName sets the service name reported on the trace resource.
func WithServiceName(name string) Option {
	return func(c *Config) error {
		c.ServiceName = name
		return nil
	}
}

// WithExporter selects the span exporter and its endpoint.
func WithExporter(exporter, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Exporter = strings.ToLower(exporter)
		if endpoint != "" {
			c.Telemetry.Endpoint = endpoint
		}
		return nil
	}
}

// WithMetrics enables engine metrics export. An empty endpoint reuses the
// trace endpoint.
func WithMetrics(enabled bool, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.MetricsEnabled = enabled
		c.Telemetry.MetricsEndpoint = endpoint
		return nil
	}
}

// WithContentCapture toggles copying inputs/outputs onto spans.
// maxLength <= 0 keeps the current limit.
func WithContentCapture(enabled bool, maxLength int) Option {
	return func(c *Config) error {
		c.Capture.Content = enabled
		if maxLength > 0 {
			c.Capture.MaxLength = maxLength
		}
		return nil
	}
}

// WithLogLevel sets the log level (debug, info, warn, error).
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = strings.ToLower(level)
		return nil
	}
}

// WithLogFormat sets the log format (text or json).
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		format = strings.ToLower(format)
		if format != "text" && format != "json" {
			return &FrameworkError{
				Op:      "WithLogFormat",
				Kind:    "config",
				Message: fmt.Sprintf("invalid log format: %q", format),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Logging.Format = format
		return nil
	}
}

// WithIngestAddress sets the listen address of the ingestion server.
func WithIngestAddress(addr string) Option {
	return func(c *Config) error {
		c.Ingest.Address = addr
		return nil
	}
}

// WithRedisLinkStore enables the Redis-backed link store.
func WithRedisLinkStore(redisURL string) Option {
	return func(c *Config) error {
		c.LinkStore.Provider = LinkStoreRedis
		c.LinkStore.RedisURL = redisURL
		return nil
	}
}

// WithConfigFile loads a JSON or YAML file at this point of the option chain.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}
