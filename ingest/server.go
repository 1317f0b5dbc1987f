package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/agenttrace/callbacks"
	"github.com/itsneelabh/agenttrace/core"
	"github.com/itsneelabh/agenttrace/internal/version"
	"github.com/itsneelabh/agenttrace/telemetry"
)

// Routes served by the ingestion server.
const (
	EventsPath = "/v1/events"
	HealthPath = "/health"
)

// ErrServerStopped is returned by Start once Stop has run.
var ErrServerStopped = errors.New("ingestion server stopped")

// Server accepts callback envelopes over HTTP and queues them on a
// Dispatcher. A server runs once: Stop closes its dispatcher, so it cannot
// be started again.
type Server struct {
	config      core.IngestConfig
	serviceName string
	dispatcher  *Dispatcher
	logger      core.Logger
	tp          trace.TracerProvider

	mu      sync.Mutex
	server  *http.Server
	started bool
	stopped bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerTracerProvider sets the provider the request middleware records
// server spans with.
func WithServerTracerProvider(tp trace.TracerProvider) ServerOption {
	return func(s *Server) {
		s.tp = tp
	}
}

// NewServer creates a server for cfg that delivers through dispatcher.
func NewServer(cfg *core.Config, dispatcher *Dispatcher, logger core.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	s := &Server{
		config:      cfg.Ingest,
		serviceName: cfg.ServiceName,
		dispatcher:  dispatcher,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(EventsPath, s.handleEvents)
	mux.HandleFunc(HealthPath, s.handleHealth)

	handler := telemetry.CorrelationMiddleware(mux)
	return telemetry.TracingMiddleware(s.serviceName+"-ingest", &telemetry.TracingMiddlewareConfig{
		ExcludedPaths:  []string{HealthPath},
		TracerProvider: s.tp,
	})(handler)
}

// Start listens on the configured address and blocks until the server
// stops. It returns nil after a graceful Stop and ErrServerStopped when
// called after Stop.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrServerStopped
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.server = &http.Server{
		Addr:    s.config.Address,
		Handler: s.Handler(),
	}
	s.started = true
	srv := s.server
	s.mu.Unlock()

	s.logger.Info("Starting ingestion server", map[string]interface{}{
		"address":    s.config.Address,
		"queue_size": s.config.QueueSize,
	})

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ingestion server failed: %w", err)
	}
	return nil
}

// Stop shuts the HTTP server down and then drains the dispatcher, both
// bounded by the configured shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx := ctx
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}

	s.mu.Lock()
	srv := s.server
	s.started = false
	s.stopped = true
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down ingestion server: %w", err))
		}
	}
	if err := s.dispatcher.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type acceptedResponse struct {
	Accepted      int    `json:"accepted"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type errorResponse struct {
	Error    string `json:"error"`
	Index    *int   `json:"index,omitempty"`
	Accepted int    `json:"accepted,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	ctx := r.Context()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read body"})
		return
	}

	envelopes, err := DecodeEnvelopes(body)
	if err != nil {
		s.logger.Warn("Rejected malformed event body", telemetry.EnrichLogFields(ctx, nil, map[string]interface{}{
			"error": err.Error(),
			"bytes": len(body),
		}))
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	// Validate the whole batch before queueing any of it.
	type queued struct {
		env Envelope
		ev  callbacks.Event
	}
	events := make([]queued, 0, len(envelopes))
	for i, env := range envelopes {
		ev, err := env.Event()
		if err != nil {
			idx := i
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Index: &idx})
			return
		}
		events = append(events, queued{env: env, ev: ev})
	}

	accepted := 0
	for i, q := range events {
		if err := s.dispatcher.Enqueue(ctx, q.ev, q.env.Suppressed); err != nil {
			idx := i
			s.logger.Warn("Failed to queue event", telemetry.EnrichLogFields(ctx, nil, map[string]interface{}{
				"error":    err.Error(),
				"run_id":   q.env.RunID,
				"accepted": accepted,
			}))
			s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Index: &idx, Accepted: accepted})
			return
		}
		accepted++
	}

	s.writeJSON(w, http.StatusAccepted, acceptedResponse{
		Accepted:      accepted,
		CorrelationID: telemetry.GetCorrelationID(ctx),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": s.serviceName,
		"version": version.Get(),
		"pending": s.dispatcher.Pending(),
	})
}

func (s *Server) maxBodyBytes() int64 {
	if s.config.MaxBodyBytes > 0 {
		return s.config.MaxBodyBytes
	}
	return 1 << 20
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{"error": err})
	}
}
