package callbacks

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/agenttrace/telemetry"
)

type handlerFixture struct {
	handler  *Handler
	recorder *tracetest.SpanRecorder
	reader   *sdkmetric.ManualReader
}

func newHandlerFixture(t *testing.T, opts ...HandlerOption) *handlerFixture {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	base := []HandlerOption{WithTracerProvider(tp), WithMeterProvider(mp)}
	return &handlerFixture{
		handler:  NewHandler(append(base, opts...)...),
		recorder: recorder,
		reader:   reader,
	}
}

func (f *handlerFixture) ended(t *testing.T, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range f.recorder.Ended() {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("no ended span named %q", name)
	return nil
}

// counter sums the data points of an Int64 sum metric whose attributes
// include every entry of match.
func (f *handlerFixture) counter(t *testing.T, name string, match ...attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				if hasAttributes(dp.Attributes, match) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func hasAttributes(set attribute.Set, match []attribute.KeyValue) bool {
	for _, kv := range match {
		v, ok := set.Value(kv.Key)
		if !ok || v != kv.Value {
			return false
		}
	}
	return true
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(s.Attributes()))
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func eventNames(s sdktrace.ReadOnlySpan) []string {
	names := make([]string, 0, len(s.Events()))
	for _, e := range s.Events() {
		names = append(names, e.Name)
	}
	return names
}

func TestHandlerChainToolErrorScenario(t *testing.T) {
	f := newHandlerFixture(t)
	h := f.handler
	ctx := context.Background()

	h.HandleChainStart(ctx, ChainStartEvent{
		Run:        Run{RunID: "1"},
		Serialized: Serialized{Name: "RetrievalQA"},
		Inputs:     map[string]any{"question": "why"},
	})
	h.HandleToolStart(ctx, ToolStartEvent{
		Run:        Run{RunID: "2", ParentRunID: "1"},
		Serialized: Serialized{Name: "search"},
		Input:      "why",
	})
	h.HandleToolEnd(ctx, ToolEndEvent{Run: Run{RunID: "2"}, Output: "because"})
	h.HandleChainError(ctx, ErrorEvent{Run: Run{RunID: "1"}, Kind: KindChain, Err: errors.New("boom")})

	require.Len(t, f.recorder.Ended(), 2)
	assert.Equal(t, 0, h.Registry().Len())

	chain := f.ended(t, "chain RetrievalQA")
	tool := f.ended(t, "execute_tool search")

	assert.Equal(t, chain.SpanContext().SpanID(), tool.Parent().SpanID())
	assert.Equal(t, chain.SpanContext().TraceID(), tool.SpanContext().TraceID())
	assert.False(t, chain.Parent().IsValid())

	assert.Equal(t, codes.Ok, tool.Status().Code)
	assert.Equal(t, codes.Error, chain.Status().Code)
	assert.Equal(t, "boom", chain.Status().Description)
	assert.Contains(t, eventNames(chain), "exception")
	assert.NotContains(t, eventNames(tool), EventForceClosed)

	toolAttrs := spanAttrs(tool)
	assert.Equal(t, "execute_tool", toolAttrs[GenAIOperationNameKey].AsString())
	assert.Equal(t, "search", toolAttrs[GenAIToolNameKey].AsString())
	assert.Equal(t, "2", toolAttrs[RunIDKey].AsString())
	assert.Equal(t, "1", toolAttrs[ParentRunIDKey].AsString())
	assert.Equal(t, "why", toolAttrs[EntityInputKey].AsString())
	assert.Equal(t, "because", toolAttrs[EntityOutputKey].AsString())

	chainAttrs := spanAttrs(chain)
	assert.Equal(t, `{"question":"why"}`, chainAttrs[EntityInputKey].AsString())
	assert.NotContains(t, chainAttrs, ParentRunIDKey)
}

func TestHandlerTemperatureOmission(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		want   *float64
	}{
		{name: "nil", params: map[string]any{"temperature": nil}},
		{name: "absent", params: map[string]any{}},
		{name: "present", params: map[string]any{"temperature": 0.7}, want: ptr(0.7)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)
			f.handler.HandleLLMStart(context.Background(), LLMStartEvent{
				Run:        Run{RunID: "m", ExtraParams: map[string]any{"invocation_params": tt.params}},
				Serialized: Serialized{Name: "OpenAI"},
			})
			f.handler.HandleLLMEnd(context.Background(), LLMEndEvent{Run: Run{RunID: "m"}})

			attrs := spanAttrs(f.ended(t, "text_completion OpenAI"))
			got, ok := attrs[GenAIRequestTemperatureKey]
			if tt.want == nil {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, *tt.want, got.AsFloat64())
		})
	}
}

func TestHandlerModelStartAttributes(t *testing.T) {
	f := newHandlerFixture(t)
	f.handler.HandleLLMStart(context.Background(), LLMStartEvent{
		Run: Run{
			RunID:    "m",
			Tags:     []string{"prod"},
			Metadata: map[string]any{"ls_provider": "ibm"},
			ExtraParams: map[string]any{
				"invocation_params": map[string]any{
					"model_id":      "a",
					"base_model_id": "b",
					"params":        map[string]any{"max_new_tokens": 100, "top_p": 0.95},
				},
			},
		},
		Serialized: Serialized{Name: "WatsonxLLM"},
		Prompts:    []string{"hello"},
	})
	f.handler.HandleLLMEnd(context.Background(), LLMEndEvent{Run: Run{RunID: "m"}})

	span := f.ended(t, "text_completion a")
	attrs := spanAttrs(span)
	assert.Equal(t, trace.SpanKindClient, span.SpanKind())
	assert.Equal(t, "text_completion", attrs[GenAIOperationNameKey].AsString())
	assert.Equal(t, "a", attrs[GenAIRequestModelKey].AsString())
	assert.Equal(t, "ibm", attrs[GenAISystemKey].AsString())
	assert.Equal(t, int64(100), attrs[GenAIRequestMaxTokensKey].AsInt64())
	assert.Equal(t, 0.95, attrs[GenAIRequestTopPKey].AsFloat64())
	assert.Equal(t, []string{"prod"}, attrs[TagsKey].AsStringSlice())
	assert.Equal(t, `["hello"]`, attrs[EntityInputKey].AsString())
	assert.Equal(t, "ibm", attrs[attribute.Key(MetadataKeyPrefix+"ls_provider")].AsString())
}

func TestHandlerUnknownModelOmitsAttribute(t *testing.T) {
	f := newHandlerFixture(t)
	f.handler.HandleChatModelStart(context.Background(), ChatModelStartEvent{Run: Run{RunID: "c"}})
	f.handler.HandleLLMEnd(context.Background(), LLMEndEvent{Run: Run{RunID: "c"}})

	attrs := spanAttrs(f.ended(t, "chat unknown"))
	assert.NotContains(t, attrs, GenAIRequestModelKey)
}

func TestHandlerLLMEndUsage(t *testing.T) {
	tests := []struct {
		name   string
		result LLMResult
		in     int64
		out    *int64
	}{
		{
			name:   "usage block",
			result: LLMResult{LLMOutput: map[string]any{"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 34}}},
			in:     12,
			out:    ptr(int64(34)),
		},
		{
			name:   "token_usage block",
			result: LLMResult{LLMOutput: map[string]any{"token_usage": map[string]any{"prompt_tokens": 5}}},
			in:     5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)
			f.handler.HandleChatModelStart(context.Background(), ChatModelStartEvent{
				Run:        Run{RunID: "c"},
				Serialized: Serialized{Kwargs: map[string]any{"model_name": "gpt-4o"}},
				Messages:   [][]Message{{{Role: "user", Content: "hi"}}},
			})
			f.handler.HandleLLMEnd(context.Background(), LLMEndEvent{Run: Run{RunID: "c"}, Output: tt.result})

			attrs := spanAttrs(f.ended(t, "chat gpt-4o"))
			assert.Equal(t, tt.in, attrs[GenAIUsageInputTokensKey].AsInt64())
			if tt.out == nil {
				assert.NotContains(t, attrs, GenAIUsageOutputTokensKey)
			} else {
				assert.Equal(t, *tt.out, attrs[GenAIUsageOutputTokensKey].AsInt64())
			}
		})
	}
}

func TestHandlerLLMEndResponseModelAndOutput(t *testing.T) {
	f := newHandlerFixture(t)
	f.handler.HandleLLMStart(context.Background(), LLMStartEvent{Run: Run{RunID: "m", Name: "summarise"}})
	f.handler.HandleLLMEnd(context.Background(), LLMEndEvent{
		Run: Run{RunID: "m"},
		Output: LLMResult{
			Generations: [][]Generation{{{Text: "short"}}},
			LLMOutput:   map[string]any{"model_name": "gpt-4o-2024-08-06"},
		},
	})

	attrs := spanAttrs(f.ended(t, "text_completion summarise"))
	assert.Equal(t, "gpt-4o-2024-08-06", attrs[GenAIResponseModelKey].AsString())
	assert.Equal(t, `["short"]`, attrs[EntityOutputKey].AsString())
}

func TestHandlerSuppression(t *testing.T) {
	f := newHandlerFixture(t)
	suppressed := telemetry.WithSuppressed(context.Background())
	nested, cancel := context.WithCancel(suppressed)
	defer cancel()

	f.handler.HandleChainStart(nested, ChainStartEvent{Run: Run{RunID: "1"}})
	assert.Equal(t, 0, f.handler.Registry().Len())
	assert.Empty(t, f.recorder.Started())

	f.handler.HandleChainStart(context.Background(), ChainStartEvent{Run: Run{RunID: "2"}})
	f.handler.HandleChainEnd(suppressed, ChainEndEvent{Run: Run{RunID: "2"}})
	f.handler.HandleChainError(suppressed, ErrorEvent{Run: Run{RunID: "2"}, Err: errors.New("x")})
	assert.Equal(t, 1, f.handler.Registry().Len())
	assert.Empty(t, f.recorder.Ended())

	assert.Equal(t, int64(3), f.counter(t, MetricEventsIgnored, reasonKey.String(ReasonSuppressed)))
}

func TestHandlerEndForUnknownRunIsIgnored(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	assert.NotPanics(t, func() {
		f.handler.HandleToolEnd(ctx, ToolEndEvent{Run: Run{RunID: "nope"}})
		f.handler.HandleLLMError(ctx, ErrorEvent{Run: Run{RunID: "nope"}, Err: errors.New("x")})
		f.handler.HandleAgentAction(ctx, AgentActionEvent{Run: Run{RunID: "nope"}, Tool: "t"})
	})
	assert.Empty(t, f.recorder.Started())
	assert.Equal(t, int64(3), f.counter(t, MetricEventsIgnored, reasonKey.String(ReasonUnknownRun)))
}

func TestHandlerDoubleEndClosesOnce(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	f.handler.HandleToolStart(ctx, ToolStartEvent{Run: Run{RunID: "t"}, Serialized: Serialized{Name: "calc"}})
	f.handler.HandleToolStart(ctx, ToolStartEvent{Run: Run{RunID: "t"}, Serialized: Serialized{Name: "calc"}})
	f.handler.HandleToolEnd(ctx, ToolEndEvent{Run: Run{RunID: "t"}})
	f.handler.HandleToolEnd(ctx, ToolEndEvent{Run: Run{RunID: "t"}})
	f.handler.HandleToolError(ctx, ErrorEvent{Run: Run{RunID: "t"}, Err: errors.New("late")})

	assert.Len(t, f.recorder.Started(), 1)
	require.Len(t, f.recorder.Ended(), 1)
	assert.Equal(t, codes.Ok, f.recorder.Ended()[0].Status().Code)
	assert.Equal(t, int64(1), f.counter(t, MetricEventsIgnored, reasonKey.String(ReasonDuplicate)))
}

func TestHandlerCascadeForceClosesChild(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	f.handler.HandleChainStart(ctx, ChainStartEvent{Run: Run{RunID: "1"}, Serialized: Serialized{Name: "agent"}})
	f.handler.HandleToolStart(ctx, ToolStartEvent{Run: Run{RunID: "2", ParentRunID: "1"}, Serialized: Serialized{Name: "a"}})
	f.handler.HandleToolStart(ctx, ToolStartEvent{Run: Run{RunID: "3", ParentRunID: "1"}, Serialized: Serialized{Name: "b"}})
	f.handler.HandleToolEnd(ctx, ToolEndEvent{Run: Run{RunID: "2"}})
	f.handler.HandleChainEnd(ctx, ChainEndEvent{Run: Run{RunID: "1"}})

	require.Len(t, f.recorder.Ended(), 3)
	assert.Equal(t, 0, f.handler.Registry().Len())

	forced := f.ended(t, "execute_tool b")
	assert.Contains(t, eventNames(forced), EventForceClosed)
	assert.Equal(t, codes.Unset, forced.Status().Code)
	assert.NotContains(t, eventNames(f.ended(t, "execute_tool a")), EventForceClosed)

	assert.Equal(t, int64(1), f.counter(t, MetricSpansForceClosed))
	assert.Equal(t, int64(2), f.counter(t, MetricSpansClosed, statusKey.String(statusOK)))
	assert.Equal(t, int64(0), f.counter(t, MetricSpansActive))
}

func TestHandlerOutOfOrderParentBecomesRoot(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	f.handler.HandleToolStart(ctx, ToolStartEvent{Run: Run{RunID: "2", ParentRunID: "1"}, Serialized: Serialized{Name: "early"}})
	f.handler.HandleChainStart(ctx, ChainStartEvent{Run: Run{RunID: "1"}, Serialized: Serialized{Name: "late"}})
	f.handler.HandleChainEnd(ctx, ChainEndEvent{Run: Run{RunID: "1"}})

	// The tool is not a registered child, so the chain end leaves it open.
	_, live := f.handler.Registry().Get("2")
	assert.True(t, live)

	f.handler.HandleToolEnd(ctx, ToolEndEvent{Run: Run{RunID: "2"}})
	tool := f.ended(t, "execute_tool early")
	assert.False(t, tool.Parent().IsValid())
	assert.Empty(t, tool.Links())
}

func TestHandlerMetadataInheritance(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	f.handler.HandleChainStart(ctx, ChainStartEvent{
		Run: Run{RunID: "1", Metadata: map[string]any{"user": "u-1", "tier": "gold"}},
	})
	f.handler.HandleLLMStart(ctx, LLMStartEvent{
		Run: Run{RunID: "2", ParentRunID: "1", Metadata: map[string]any{"tier": "free", "attempt": 2, "skip": nil}},
	})
	f.handler.HandleLLMEnd(ctx, LLMEndEvent{Run: Run{RunID: "2"}})
	f.handler.HandleChainEnd(ctx, ChainEndEvent{Run: Run{RunID: "1"}})

	attrs := spanAttrs(f.ended(t, "text_completion unknown"))
	assert.Equal(t, "u-1", attrs["agenttrace.metadata.user"].AsString())
	assert.Equal(t, "free", attrs["agenttrace.metadata.tier"].AsString())
	assert.Equal(t, int64(2), attrs["agenttrace.metadata.attempt"].AsInt64())
	assert.NotContains(t, attrs, attribute.Key("agenttrace.metadata.skip"))
}

func TestHandlerToolAttributes(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	f.handler.HandleToolStart(ctx, ToolStartEvent{
		Run: Run{RunID: "t", Metadata: map[string]any{"tool_call_id": "call_1"}},
		Serialized: Serialized{
			ID:     []string{"langchain", "tools", "WikipediaQueryRun"},
			Kwargs: map[string]any{"description": "Look things up"},
		},
	})
	f.handler.HandleToolEnd(ctx, ToolEndEvent{Run: Run{RunID: "t"}})

	span := f.ended(t, "execute_tool WikipediaQueryRun")
	attrs := spanAttrs(span)
	assert.Equal(t, trace.SpanKindInternal, span.SpanKind())
	assert.Equal(t, "WikipediaQueryRun", attrs[GenAIToolNameKey].AsString())
	assert.Equal(t, "call_1", attrs[GenAIToolCallIDKey].AsString())
	assert.Equal(t, "Look things up", attrs[GenAIToolDescriptionKey].AsString())
}

func TestHandlerAgentActionAndFinish(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	f.handler.HandleChainStart(ctx, ChainStartEvent{Run: Run{RunID: "a"}, Serialized: Serialized{Name: "AgentExecutor"}})
	f.handler.HandleAgentAction(ctx, AgentActionEvent{
		Run:       Run{RunID: "a"},
		Tool:      "search",
		ToolInput: map[string]any{"q": "otel"},
		Log:       "I should search",
	})
	f.handler.HandleAgentFinish(ctx, AgentFinishEvent{
		Run:          Run{RunID: "a"},
		ReturnValues: map[string]any{"output": "done"},
		Log:          "Final answer",
	})
	assert.Equal(t, 1, f.handler.Registry().Len(), "agent events never close spans")
	assert.Empty(t, f.recorder.Ended())

	f.handler.HandleChainEnd(ctx, ChainEndEvent{Run: Run{RunID: "a"}})

	span := f.ended(t, "chain AgentExecutor")
	attrs := spanAttrs(span)
	assert.Equal(t, "AgentExecutor", attrs[GenAIAgentNameKey].AsString())
	assert.Equal(t, "search", attrs[GenAIToolNameKey].AsString())
	assert.Equal(t, `{"q":"otel"}`, attrs[AgentActionInputKey].AsString())
	assert.Equal(t, "I should search", attrs[AgentActionLogKey].AsString())
	assert.Equal(t, `{"output":"done"}`, attrs[AgentFinishOutputKey].AsString())
	assert.Equal(t, []string{EventAgentAction, EventAgentFinish}, eventNames(span))
}

func TestHandlerAgentNameFromMetadata(t *testing.T) {
	f := newHandlerFixture(t)
	f.handler.HandleChainStart(context.Background(), ChainStartEvent{
		Run: Run{RunID: "a", Metadata: map[string]any{"agent_name": "planner"}},
	})
	f.handler.HandleChainEnd(context.Background(), ChainEndEvent{Run: Run{RunID: "a"}})

	attrs := spanAttrs(f.ended(t, "chain unknown"))
	assert.Equal(t, "planner", attrs[GenAIAgentNameKey].AsString())
}

func TestHandlerContentCapture(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newHandlerFixture(t, WithContentCapture(false, 0))
		f.handler.HandleToolStart(context.Background(), ToolStartEvent{Run: Run{RunID: "t"}, Input: "secret"})
		f.handler.HandleToolEnd(context.Background(), ToolEndEvent{Run: Run{RunID: "t"}, Output: "secret"})

		attrs := spanAttrs(f.ended(t, "execute_tool unknown"))
		assert.NotContains(t, attrs, EntityInputKey)
		assert.NotContains(t, attrs, EntityOutputKey)
	})

	t.Run("truncated", func(t *testing.T) {
		f := newHandlerFixture(t, WithContentCapture(true, 5))
		f.handler.HandleToolStart(context.Background(), ToolStartEvent{Run: Run{RunID: "t"}, Input: strings.Repeat("x", 50)})
		f.handler.HandleToolEnd(context.Background(), ToolEndEvent{Run: Run{RunID: "t"}, Output: "héllo"})

		attrs := spanAttrs(f.ended(t, "execute_tool unknown"))
		assert.Equal(t, "xxxxx", attrs[EntityInputKey].AsString())
		assert.Equal(t, "héll", attrs[EntityOutputKey].AsString())
	})
}

func TestHandlerErrorWithoutCause(t *testing.T) {
	f := newHandlerFixture(t)
	f.handler.HandleToolStart(context.Background(), ToolStartEvent{Run: Run{RunID: "t"}})
	f.handler.HandleToolError(context.Background(), ErrorEvent{Run: Run{RunID: "t"}, Kind: KindTool})

	span := f.ended(t, "execute_tool unknown")
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, "unknown error", span.Status().Description)
	assert.Equal(t, int64(1), f.counter(t, MetricSpansClosed, statusKey.String(statusError)))
}

func TestHandlerMissingRunIDIsIgnored(t *testing.T) {
	f := newHandlerFixture(t)
	f.handler.HandleChainStart(context.Background(), ChainStartEvent{})
	assert.Equal(t, 0, f.handler.Registry().Len())
	assert.Equal(t, int64(1), f.counter(t, MetricEventsIgnored, reasonKey.String(reasonMissingRunID)))
}

type panickingLinkStore struct{ MemoryLinkStore }

func (*panickingLinkStore) Save(context.Context, string, telemetry.TraceContext) error {
	panic("link store exploded")
}

func TestHandlerRecoversPanics(t *testing.T) {
	f := newHandlerFixture(t, WithLinkStore(&panickingLinkStore{}))

	assert.NotPanics(t, func() {
		f.handler.HandleChainStart(context.Background(), ChainStartEvent{Run: Run{RunID: "1"}})
	})
	assert.Equal(t, int64(1), f.counter(t, MetricEventsIgnored, reasonKey.String(ReasonPanic)))
}

func TestHandlerNilContext(t *testing.T) {
	f := newHandlerFixture(t)
	assert.NotPanics(t, func() {
		//nolint:staticcheck // nil context is tolerated
		f.handler.HandleChainStart(nil, ChainStartEvent{Run: Run{RunID: "1"}})
		//nolint:staticcheck
		f.handler.HandleChainEnd(nil, ChainEndEvent{Run: Run{RunID: "1"}})
	})
	assert.Len(t, f.recorder.Ended(), 1)
}

func TestHandlerCrossProcessLink(t *testing.T) {
	store := NewMemoryLinkStore(0)
	upstream := newHandlerFixture(t, WithLinkStore(store))
	downstream := newHandlerFixture(t, WithLinkStore(store))
	ctx := context.Background()

	upstream.handler.HandleChainStart(ctx, ChainStartEvent{Run: Run{RunID: "1"}, Serialized: Serialized{Name: "planner"}})
	parentSC := upstream.recorder.Started()[0].SpanContext()

	downstream.handler.HandleToolStart(ctx, ToolStartEvent{Run: Run{RunID: "2", ParentRunID: "1"}, Serialized: Serialized{Name: "worker"}})
	downstream.handler.HandleToolEnd(ctx, ToolEndEvent{Run: Run{RunID: "2"}})

	tool := downstream.ended(t, "execute_tool worker")
	assert.False(t, tool.Parent().IsValid(), "remote parent is linked, not parented")
	require.Len(t, tool.Links(), 1)
	assert.Equal(t, parentSC.TraceID(), tool.Links()[0].SpanContext.TraceID())
	assert.Equal(t, parentSC.SpanID(), tool.Links()[0].SpanContext.SpanID())

	upstream.handler.HandleChainEnd(ctx, ChainEndEvent{Run: Run{RunID: "1"}})
	_, found, err := store.Load(ctx, "1")
	require.NoError(t, err)
	assert.False(t, found, "closed runs are removed from the link store")
}
