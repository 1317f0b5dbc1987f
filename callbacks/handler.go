package callbacks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/agenttrace/core"
	"github.com/itsneelabh/agenttrace/telemetry"
)

const (
	defaultMaxContentLength = 4096

	statusOK    = "ok"
	statusError = "error"

	reasonMissingRunID = "missing_run_id"
)

// Handler turns lifecycle callbacks into spans. Every method is safe to
// call with any payload: failures are logged and never reach the caller.
type Handler struct {
	registry *Registry
	metrics  *engineMetrics
	logger   core.Logger
	links    LinkStore

	captureContent   bool
	maxContentLength int

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	now            func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithTracerProvider sets the provider spans are created from. Defaults to
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) HandlerOption {
	return func(h *Handler) {
		if tp != nil {
			h.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets the provider engine metrics are recorded with.
// Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) HandlerOption {
	return func(h *Handler) {
		if mp != nil {
			h.meterProvider = mp
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(logger core.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithLinkStore enables cross-process links through store.
func WithLinkStore(store LinkStore) HandlerOption {
	return func(h *Handler) {
		h.links = store
	}
}

// WithContentCapture controls whether inputs and outputs are recorded, and
// how many bytes of each are kept.
func WithContentCapture(enabled bool, maxLength int) HandlerOption {
	return func(h *Handler) {
		h.captureContent = enabled
		if maxLength > 0 {
			h.maxContentLength = maxLength
		}
	}
}

// NewHandler creates a Handler with its own registry.
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		logger:           &core.NoOpLogger{},
		captureContent:   true,
		maxContentLength: defaultMaxContentLength,
		tracerProvider:   otel.GetTracerProvider(),
		meterProvider:    otel.GetMeterProvider(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.registry = NewRegistry(h.tracerProvider.Tracer(InstrumentationName))

	m, err := newEngineMetrics(h.meterProvider.Meter(InstrumentationName))
	if err != nil {
		h.logger.Warn("Failed to create engine metrics, using no-op instruments", map[string]interface{}{
			"error": err.Error(),
		})
	}
	h.metrics = m

	return h
}

// Registry exposes the handler's span registry.
func (h *Handler) Registry() *Registry {
	return h.registry
}

// HandleLLMStart opens a text-completion span.
func (h *Handler) HandleLLMStart(ctx context.Context, ev LLMStartEvent) {
	ctx, skip := h.begin(ctx, EventTypeLLMStart)
	if skip {
		return
	}
	defer h.recoverPanic(ctx, EventTypeLLMStart, ev.RunID)

	h.startRun(ctx, EventTypeLLMStart, ev.Run, KindLLM, ev.Serialized, ev.Prompts)
}

// HandleChatModelStart opens a chat span.
func (h *Handler) HandleChatModelStart(ctx context.Context, ev ChatModelStartEvent) {
	ctx, skip := h.begin(ctx, EventTypeChatModelStart)
	if skip {
		return
	}
	defer h.recoverPanic(ctx, EventTypeChatModelStart, ev.RunID)

	h.startRun(ctx, EventTypeChatModelStart, ev.Run, KindChatModel, ev.Serialized, ev.Messages)
}

// HandleChainStart opens a chain span.
func (h *Handler) HandleChainStart(ctx context.Context, ev ChainStartEvent) {
	ctx, skip := h.begin(ctx, EventTypeChainStart)
	if skip {
		return
	}
	defer h.recoverPanic(ctx, EventTypeChainStart, ev.RunID)

	h.startRun(ctx, EventTypeChainStart, ev.Run, KindChain, ev.Serialized, ev.Inputs)
}

// HandleToolStart opens a tool span.
func (h *Handler) HandleToolStart(ctx context.Context, ev ToolStartEvent) {
	ctx, skip := h.begin(ctx, EventTypeToolStart)
	if skip {
		return
	}
	defer h.recoverPanic(ctx, EventTypeToolStart, ev.RunID)

	h.startRun(ctx, EventTypeToolStart, ev.Run, KindTool, ev.Serialized, ev.Input)
}

// HandleLLMEnd records usage and the response model, then closes the span
// of a model call of either kind.
func (h *Handler) HandleLLMEnd(ctx context.Context, ev LLMEndEvent) {
	ctx, skip := h.begin(ctx, EventTypeLLMEnd)
	if skip {
		return
	}
	defer h.recoverPanic(ctx, EventTypeLLMEnd, ev.RunID)

	var attrs []attribute.KeyValue
	if model := ExtractResponseModel(ev.Output); model != "" {
		attrs = append(attrs, GenAIResponseModelKey.String(model))
	}
	usage := extractResultUsage(ev.Output)
	if usage.InputTokens != nil {
		attrs = append(attrs, GenAIUsageInputTokensKey.Int64(*usage.InputTokens))
	}
	if usage.OutputTokens != nil {
		attrs = append(attrs, GenAIUsageOutputTokensKey.Int64(*usage.OutputTokens))
	}
	if out, ok := h.content(generationTexts(ev.Output)); ok {
		attrs = append(attrs, EntityOutputKey.String(out))
	}

	h.endRun(ctx, EventTypeLLMEnd, ev.RunID, attrs)
}

// HandleChainEnd closes a chain span.
func (h *Handler) HandleChainEnd(ctx context.Context, ev ChainEndEvent) {
	ctx, skip := h.begin(ctx, EventTypeChainEnd)
	if skip {
		return
	}
	defer h.recoverPanic(ctx, EventTypeChainEnd, ev.RunID)

	var attrs []attribute.KeyValue
	if out, ok := h.content(ev.Outputs); ok {
		attrs = append(attrs, EntityOutputKey.String(out))
	}
	h.endRun(ctx, EventTypeChainEnd, ev.RunID, attrs)
}

// HandleToolEnd closes a tool span.
func (h *Handler) HandleToolEnd(ctx context.Context, ev ToolEndEvent) {
	ctx, skip := h.begin(ctx, EventTypeToolEnd)
	if skip {
		return
	}
	defer h.recoverPanic(ctx, EventTypeToolEnd, ev.RunID)

	var attrs []attribute.KeyValue
	if out, ok := h.content(ev.Output); ok {
		attrs = append(attrs, EntityOutputKey.String(out))
	}
	h.endRun(ctx, EventTypeToolEnd, ev.RunID, attrs)
}

// HandleLLMError fails a model call.
func (h *Handler) HandleLLMError(ctx context.Context, ev ErrorEvent) {
	h.handleError(ctx, EventTypeLLMError, ev)
}

// HandleChainError fails a chain.
func (h *Handler) HandleChainError(ctx context.Context, ev ErrorEvent) {
	h.handleError(ctx, EventTypeChainError, ev)
}

// HandleToolError fails a tool invocation.
func (h *Handler) HandleToolError(ctx context.Context, ev ErrorEvent) {
	h.handleError(ctx, EventTypeToolError, ev)
}

// HandleAgentAction annotates the active span of ev.RunID with the tool the
// agent chose. It never opens or closes a span.
func (h *Handler) HandleAgentAction(ctx context.Context, ev AgentActionEvent) {
	ctx, skip := h.begin(ctx, EventTypeAgentAction)
	if skip {
		return
	}
	defer h.recoverPanic(ctx, EventTypeAgentAction, ev.RunID)

	rec, ok := h.registry.Get(ev.RunID)
	if !ok {
		h.ignore(ctx, EventTypeAgentAction, ev.RunID, ReasonUnknownRun)
		return
	}

	attrs := make([]attribute.KeyValue, 0, 3)
	if ev.Tool != "" {
		attrs = append(attrs, GenAIToolNameKey.String(ev.Tool))
	}
	if in, ok := h.content(ev.ToolInput); ok {
		attrs = append(attrs, AgentActionInputKey.String(in))
	}
	if l, ok := h.content(ev.Log); ok {
		attrs = append(attrs, AgentActionLogKey.String(l))
	}

	rec.Span.SetAttributes(attrs...)
	rec.Span.AddEvent(EventAgentAction, trace.WithAttributes(attrs...))
}

// HandleAgentFinish annotates the active span of ev.RunID with the agent's
// final answer. It never opens or closes a span.
func (h *Handler) HandleAgentFinish(ctx context.Context, ev AgentFinishEvent) {
	ctx, skip := h.begin(ctx, EventTypeAgentFinish)
	if skip {
		return
	}
	defer h.recoverPanic(ctx, EventTypeAgentFinish, ev.RunID)

	rec, ok := h.registry.Get(ev.RunID)
	if !ok {
		h.ignore(ctx, EventTypeAgentFinish, ev.RunID, ReasonUnknownRun)
		return
	}

	var attrs []attribute.KeyValue
	if out, ok := h.content(ev.ReturnValues); ok {
		attrs = append(attrs, AgentFinishOutputKey.String(out))
	}
	rec.Span.SetAttributes(attrs...)

	// The finishing log belongs to the event only; the span keeps the log of
	// the last action.
	if l, ok := h.content(ev.Log); ok {
		attrs = append(attrs, AgentActionLogKey.String(l))
	}
	rec.Span.AddEvent(EventAgentFinish, trace.WithAttributes(attrs...))
}

func (h *Handler) handleError(ctx context.Context, event string, ev ErrorEvent) {
	ctx, skip := h.begin(ctx, event)
	if skip {
		return
	}
	defer h.recoverPanic(ctx, event, ev.RunID)

	rec, ok := h.registry.Get(ev.RunID)
	if !ok {
		h.ignore(ctx, event, ev.RunID, ReasonUnknownRun)
		return
	}

	err := ev.Err
	if err == nil {
		err = errors.New("unknown error")
	}
	rec.Span.RecordError(err)
	rec.Span.SetStatus(codes.Error, err.Error())

	h.logger.Debug("Run failed", telemetry.EnrichLogFields(ctx, rec.Span, map[string]interface{}{
		"run_id": ev.RunID,
		"event":  event,
		"kind":   rec.Kind.String(),
		"error":  err.Error(),
	}))

	h.closeRun(ctx, ev.RunID, statusError)
}

func (h *Handler) startRun(ctx context.Context, event string, run Run, kind Kind, serialized Serialized, input any) {
	if run.RunID == "" {
		h.ignore(ctx, event, run.RunID, reasonMissingRunID)
		return
	}
	if _, live := h.registry.Get(run.RunID); live {
		h.ignore(ctx, event, run.RunID, ReasonDuplicate)
		return
	}

	var model string
	if kind.isModel() {
		model = ResolveModel(serialized, run.ExtraParams, run.Metadata)
	}
	name := ResolveName(run.Name, model, serialized)

	metadata := SanitizeMetadata(run.Metadata)
	if run.ParentRunID != "" {
		metadata = mergeMetadata(h.registry.metadata(run.ParentRunID), metadata)
	}

	attrs := h.startAttributes(run, kind, name, model, serialized, metadata)
	if in, ok := h.content(input); ok {
		attrs = append(attrs, EntityInputKey.String(in))
	}

	opts := []trace.SpanStartOption{trace.WithAttributes(attrs...)}
	if link, ok := h.remoteParent(ctx, run); ok {
		opts = append(opts, trace.WithLinks(link))
	}

	rec, created := h.registry.Create(ctx, run.RunID, run.ParentRunID, SpanName(kind, name), kind, opts...)
	if !created {
		h.ignore(ctx, event, run.RunID, ReasonDuplicate)
		return
	}
	h.registry.setMetadata(run.RunID, metadata)
	h.registry.SetResolvedModel(run.RunID, model)
	h.metrics.recordStart(ctx, kind)

	if h.links != nil {
		tc := telemetry.SpanContextToTraceContext(rec.Span.SpanContext())
		if tc.TraceID != "" {
			if err := h.links.Save(ctx, run.RunID, tc); err != nil {
				h.logger.Warn("Failed to save span link", map[string]interface{}{
					"run_id": run.RunID,
					"error":  err.Error(),
				})
			}
		}
	}

	h.logger.Debug("Run started", telemetry.EnrichLogFields(ctx, rec.Span, map[string]interface{}{
		"run_id":        run.RunID,
		"parent_run_id": run.ParentRunID,
		"event":         event,
		"kind":          kind.String(),
		"name":          name,
	}))
}

func (h *Handler) startAttributes(run Run, kind Kind, name, model string, serialized Serialized, metadata map[string]attribute.Value) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		GenAIOperationNameKey.String(kind.Label()),
		RunIDKey.String(run.RunID),
	}
	if run.ParentRunID != "" {
		attrs = append(attrs, ParentRunIDKey.String(run.ParentRunID))
	}
	if len(run.Tags) > 0 {
		attrs = append(attrs, TagsKey.StringSlice(run.Tags))
	}

	switch kind {
	case KindLLM, KindChatModel:
		if model != "" {
			attrs = append(attrs, GenAIRequestModelKey.String(model))
		}
		if system, ok := firstString(run.Metadata, "ls_provider"); ok {
			attrs = append(attrs, GenAISystemKey.String(system))
		}
		params := ExtractGenerationParams(run.ExtraParams)
		if params.MaxTokens != nil {
			attrs = append(attrs, GenAIRequestMaxTokensKey.Int64(*params.MaxTokens))
		}
		if params.Temperature != nil {
			attrs = append(attrs, GenAIRequestTemperatureKey.Float64(*params.Temperature))
		}
		if params.TopP != nil {
			attrs = append(attrs, GenAIRequestTopPKey.Float64(*params.TopP))
		}

	case KindTool:
		attrs = append(attrs, GenAIToolNameKey.String(name))
		if id, ok := firstString(run.Metadata, "tool_call_id"); ok {
			attrs = append(attrs, GenAIToolCallIDKey.String(id))
		} else if id, ok := firstString(run.ExtraParams, "tool_call_id"); ok {
			attrs = append(attrs, GenAIToolCallIDKey.String(id))
		}
		if desc, ok := firstString(serialized.Kwargs, "description"); ok {
			attrs = append(attrs, GenAIToolDescriptionKey.String(desc))
		}

	case KindChain:
		if agent, ok := firstString(run.Metadata, "agent_name"); ok {
			attrs = append(attrs, GenAIAgentNameKey.String(agent))
		} else if strings.HasSuffix(name, "AgentExecutor") {
			attrs = append(attrs, GenAIAgentNameKey.String(name))
		}
	}

	return append(attrs, metadataAttributes(metadata)...)
}

// remoteParent looks up a parent that is not live in this process.
func (h *Handler) remoteParent(ctx context.Context, run Run) (trace.Link, bool) {
	if h.links == nil || run.ParentRunID == "" {
		return trace.Link{}, false
	}
	if _, local := h.registry.Get(run.ParentRunID); local {
		return trace.Link{}, false
	}

	tc, found, err := h.links.Load(ctx, run.ParentRunID)
	if err != nil {
		h.logger.Warn("Failed to load span link", map[string]interface{}{
			"run_id":        run.RunID,
			"parent_run_id": run.ParentRunID,
			"error":         err.Error(),
		})
		return trace.Link{}, false
	}
	if !found {
		return trace.Link{}, false
	}
	sc, ok := telemetry.RemoteSpanContext(tc)
	if !ok {
		return trace.Link{}, false
	}
	return trace.Link{
		SpanContext: sc,
		Attributes:  []attribute.KeyValue{ParentRunIDKey.String(run.ParentRunID)},
	}, true
}

func (h *Handler) endRun(ctx context.Context, event, runID string, attrs []attribute.KeyValue) {
	rec, ok := h.registry.Get(runID)
	if !ok {
		h.ignore(ctx, event, runID, ReasonUnknownRun)
		return
	}

	rec.Span.SetAttributes(attrs...)
	rec.Span.SetStatus(codes.Ok, "")

	h.logger.Debug("Run finished", telemetry.EnrichLogFields(ctx, rec.Span, map[string]interface{}{
		"run_id": runID,
		"event":  event,
		"kind":   rec.Kind.String(),
	}))

	h.closeRun(ctx, runID, statusOK)
}

func (h *Handler) closeRun(ctx context.Context, runID, status string) {
	closed := h.registry.CloseCascading(runID)
	if len(closed) == 0 {
		return
	}
	now := h.now()

	for i, rec := range closed {
		if i == 0 {
			h.metrics.recordClose(ctx, rec.Kind, status, rec.StartedAt, now)
		} else {
			h.metrics.recordForceClose(ctx, rec.Kind)
			h.logger.Warn("Force-closed child span of finished parent", map[string]interface{}{
				"run_id":        rec.RunID,
				"parent_run_id": runID,
				"kind":          rec.Kind.String(),
			})
		}

		if h.links != nil {
			if err := h.links.Delete(ctx, rec.RunID); err != nil {
				h.logger.Warn("Failed to delete span link", map[string]interface{}{
					"run_id": rec.RunID,
					"error":  err.Error(),
				})
			}
		}
	}
}

// begin normalises ctx and reports whether it suppresses instrumentation.
func (h *Handler) begin(ctx context.Context, event string) (context.Context, bool) {
	if ctx == nil {
		return context.Background(), false
	}
	if !telemetry.IsSuppressed(ctx) {
		return ctx, false
	}
	h.metrics.recordIgnored(ctx, event, ReasonSuppressed)
	return ctx, true
}

func (h *Handler) ignore(ctx context.Context, event, runID, reason string) {
	h.metrics.recordIgnored(ctx, event, reason)
	h.logger.Debug("Ignoring callback event", map[string]interface{}{
		"run_id": runID,
		"event":  event,
		"reason": reason,
	})
}

func (h *Handler) recoverPanic(ctx context.Context, event, runID string) {
	if r := recover(); r != nil {
		h.metrics.recordIgnored(ctx, event, ReasonPanic)
		h.logger.Error("Callback handler panicked", map[string]interface{}{
			"run_id": runID,
			"event":  event,
			"panic":  fmt.Sprint(r),
			"stack":  string(debug.Stack()),
		})
	}
}

// content renders v for an entity attribute, truncated to the configured
// length. It reports false when capture is off or there is nothing to keep.
func (h *Handler) content(v any) (string, bool) {
	if !h.captureContent || v == nil {
		return "", false
	}

	var s string
	switch val := v.(type) {
	case string:
		s = val
	default:
		data, err := json.Marshal(val)
		if err != nil {
			s = fmt.Sprintf("%v", val)
		} else {
			s = string(data)
		}
	}
	if s == "" || s == "null" {
		return "", false
	}
	return truncate(s, h.maxContentLength), true
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func generationTexts(result LLMResult) []string {
	var texts []string
	for _, candidates := range result.Generations {
		for _, g := range candidates {
			if g.Text != "" {
				texts = append(texts, g.Text)
			}
		}
	}
	if len(texts) == 0 {
		return nil
	}
	return texts
}
