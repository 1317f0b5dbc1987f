package callbacks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/itsneelabh/agenttrace/core"
	"github.com/itsneelabh/agenttrace/telemetry"
)

// LinkStore remembers the span context of started runs so that a run whose
// parent lives in another process can still point at it. Load reports
// found=false, not an error, for an unknown run id.
type LinkStore interface {
	Save(ctx context.Context, runID string, tc telemetry.TraceContext) error
	Load(ctx context.Context, runID string) (telemetry.TraceContext, bool, error)
	Delete(ctx context.Context, runID string) error
}

type memoryLink struct {
	tc        telemetry.TraceContext
	expiresAt time.Time
}

// MemoryLinkStore is an in-process LinkStore with per-entry expiry. Expired
// entries are dropped lazily on Load.
type MemoryLinkStore struct {
	mu    sync.RWMutex
	links map[string]memoryLink
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryLinkStore creates a store whose entries expire after ttl. A
// non-positive ttl keeps entries until deleted.
func NewMemoryLinkStore(ttl time.Duration) *MemoryLinkStore {
	return &MemoryLinkStore{
		links: make(map[string]memoryLink),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (s *MemoryLinkStore) Save(_ context.Context, runID string, tc telemetry.TraceContext) error {
	link := memoryLink{tc: tc}
	if s.ttl > 0 {
		link.expiresAt = s.now().Add(s.ttl)
	}
	s.mu.Lock()
	s.links[runID] = link
	s.mu.Unlock()
	return nil
}

func (s *MemoryLinkStore) Load(_ context.Context, runID string) (telemetry.TraceContext, bool, error) {
	s.mu.RLock()
	link, ok := s.links[runID]
	s.mu.RUnlock()
	if !ok {
		return telemetry.TraceContext{}, false, nil
	}
	if !link.expiresAt.IsZero() && s.now().After(link.expiresAt) {
		s.mu.Lock()
		delete(s.links, runID)
		s.mu.Unlock()
		return telemetry.TraceContext{}, false, nil
	}
	return link.tc, true, nil
}

func (s *MemoryLinkStore) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	delete(s.links, runID)
	s.mu.Unlock()
	return nil
}

// RedisLinkStore keeps span contexts in Redis as JSON under the client's
// namespace, so handlers in different processes share them. Calls go through
// a circuit breaker; while it is open every call fails fast with
// core.ErrLinkStoreUnavailable.
type RedisLinkStore struct {
	client  *core.RedisClient
	ttl     time.Duration
	breaker *core.CircuitBreaker
}

// NewRedisLinkStore wraps a connected client.
func NewRedisLinkStore(client *core.RedisClient, ttl time.Duration) *RedisLinkStore {
	return &RedisLinkStore{
		client:  client,
		ttl:     ttl,
		breaker: core.NewCircuitBreaker(core.DefaultCircuitBreakerConfig("linkstore")),
	}
}

// SetCircuitBreaker replaces the default breaker.
func (s *RedisLinkStore) SetCircuitBreaker(cb *core.CircuitBreaker) {
	s.breaker = cb
}

type storedLink struct {
	TraceID string `json:"trace_id"`
	SpanID  string `json:"span_id"`
	Sampled bool   `json:"sampled"`
}

func (s *RedisLinkStore) Save(ctx context.Context, runID string, tc telemetry.TraceContext) error {
	data, err := json.Marshal(storedLink{TraceID: tc.TraceID, SpanID: tc.SpanID, Sampled: tc.Sampled})
	if err != nil {
		return fmt.Errorf("failed to encode link for run %s: %w", runID, err)
	}
	err = s.breaker.Execute(ctx, func() error {
		return s.client.Set(ctx, runID, data, s.ttl)
	})
	if err != nil {
		return unavailable("RedisLinkStore.Save", runID, err)
	}
	return nil
}

func (s *RedisLinkStore) Load(ctx context.Context, runID string) (telemetry.TraceContext, bool, error) {
	var raw string
	err := s.breaker.Execute(ctx, func() error {
		var getErr error
		raw, getErr = s.client.Get(ctx, runID)
		if errors.Is(getErr, core.ErrKeyNotFound) {
			return nil
		}
		return getErr
	})
	if err != nil {
		return telemetry.TraceContext{}, false, unavailable("RedisLinkStore.Load", runID, err)
	}
	if raw == "" {
		return telemetry.TraceContext{}, false, nil
	}

	var link storedLink
	if err := json.Unmarshal([]byte(raw), &link); err != nil {
		return telemetry.TraceContext{}, false, fmt.Errorf("failed to decode link for run %s: %w", runID, err)
	}
	return telemetry.TraceContext{TraceID: link.TraceID, SpanID: link.SpanID, Sampled: link.Sampled}, true, nil
}

func (s *RedisLinkStore) Delete(ctx context.Context, runID string) error {
	err := s.breaker.Execute(ctx, func() error {
		return s.client.Del(ctx, runID)
	})
	if err != nil {
		return unavailable("RedisLinkStore.Delete", runID, err)
	}
	return nil
}

func unavailable(op, runID string, err error) error {
	return &core.FrameworkError{Op: op, Kind: "linkstore", ID: runID, Err: fmt.Errorf("%w: %w", core.ErrLinkStoreUnavailable, err)}
}

// Close releases the Redis connection pool.
func (s *RedisLinkStore) Close() error {
	return s.client.Close()
}

// NewLinkStore builds the link store selected by cfg. It returns nil for the
// "none" provider.
func NewLinkStore(cfg core.LinkStoreConfig, logger core.Logger) (LinkStore, error) {
	switch cfg.Provider {
	case "", core.LinkStoreNone:
		return nil, nil
	case core.LinkStoreMemory:
		return NewMemoryLinkStore(cfg.TTL), nil
	case core.LinkStoreRedis:
		client, err := core.NewRedisClient(core.RedisClientOptions{
			RedisURL:  cfg.RedisURL,
			Namespace: cfg.Namespace,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis link store: %w", err)
		}
		return NewRedisLinkStore(client, cfg.TTL), nil
	default:
		return nil, &core.FrameworkError{
			Op:      "NewLinkStore",
			Kind:    "config",
			Message: fmt.Sprintf("unknown link store provider %q", cfg.Provider),
			Err:     core.ErrInvalidConfiguration,
		}
	}
}
