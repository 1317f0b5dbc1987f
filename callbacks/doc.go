/*
Package callbacks correlates lifecycle callbacks from LLM pipelines into a
tree of OpenTelemetry spans.

A pipeline emits start, end and error events for model calls, chat-model
calls, chains and tools, each tagged with a run id and optionally the run id
of its parent. Handler turns those events into spans:

	handler := callbacks.NewHandler(
	    callbacks.WithTracerProvider(tp),
	    callbacks.WithLogger(logger),
	)

	handler.HandleChainStart(ctx, callbacks.ChainStartEvent{
	    Run:        callbacks.Run{RunID: "1"},
	    Serialized: callbacks.Serialized{Name: "RetrievalQA"},
	})
	handler.HandleToolStart(ctx, callbacks.ToolStartEvent{
	    Run:        callbacks.Run{RunID: "2", ParentRunID: "1"},
	    Serialized: callbacks.Serialized{Name: "search"},
	})
	handler.HandleToolEnd(ctx, callbacks.ToolEndEvent{Run: callbacks.Run{RunID: "2"}})
	handler.HandleChainEnd(ctx, callbacks.ChainEndEvent{Run: callbacks.Run{RunID: "1"}})

Span Tree:

A start whose parent is live in the Registry becomes a child span. A start
whose parent is unknown becomes a root span, ignoring any span already in
ctx. When a run ends, direct children that are still open are ended with an
agenttrace.force_closed event; grandchildren are left alone.

Attributes:

Model identity, request parameters, token usage and tool details are read
from loosely structured payloads and recorded under the gen_ai.* keys in
semconv.go. Anything not covered there uses agenttrace.* keys. Values that
cannot be read are omitted, never defaulted.

Suppression:

Calls made with a context from telemetry.WithSuppressed are no-ops.

Cross-Process Links:

With a LinkStore configured, every started span is saved by run id. A child
whose parent runs in another process starts as a root span linked to the
stored parent span context.
*/
package callbacks
