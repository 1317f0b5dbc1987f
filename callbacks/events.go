package callbacks

import "go.opentelemetry.io/otel/trace"

// Kind classifies the execution a run belongs to.
type Kind int

const (
	// KindUnknown is any execution the source did not classify.
	KindUnknown Kind = iota
	// KindLLM is a text-completion model call.
	KindLLM
	// KindChatModel is a chat-model call.
	KindChatModel
	// KindChain is a pipeline step, including agent executors.
	KindChain
	// KindTool is a tool invocation.
	KindTool
)

func (k Kind) String() string {
	switch k {
	case KindLLM:
		return "llm"
	case KindChatModel:
		return "chat_model"
	case KindChain:
		return "chain"
	case KindTool:
		return "tool"
	default:
		return "unknown"
	}
}

// Label is the fixed operation label used in span names and in
// gen_ai.operation.name.
func (k Kind) Label() string {
	switch k {
	case KindLLM:
		return "text_completion"
	case KindChatModel:
		return "chat"
	case KindChain:
		return "chain"
	case KindTool:
		return "execute_tool"
	default:
		return "task"
	}
}

// SpanKind maps model calls to client spans; everything else is internal.
func (k Kind) SpanKind() trace.SpanKind {
	switch k {
	case KindLLM, KindChatModel:
		return trace.SpanKindClient
	default:
		return trace.SpanKindInternal
	}
}

func (k Kind) isModel() bool {
	return k == KindLLM || k == KindChatModel
}

// Event type names, shared by logs, metrics and the ingestion envelope.
const (
	EventTypeLLMStart       = "llm_start"
	EventTypeChatModelStart = "chat_model_start"
	EventTypeLLMEnd         = "llm_end"
	EventTypeLLMError       = "llm_error"
	EventTypeChainStart     = "chain_start"
	EventTypeChainEnd       = "chain_end"
	EventTypeChainError     = "chain_error"
	EventTypeToolStart      = "tool_start"
	EventTypeToolEnd        = "tool_end"
	EventTypeToolError      = "tool_error"
	EventTypeAgentAction    = "agent_action"
	EventTypeAgentFinish    = "agent_finish"
)

// Serialized describes the component that emitted a start event.
type Serialized struct {
	// ID is the declared identifier path, e.g. ["langchain", "llms", "openai", "OpenAI"].
	ID []string `json:"id,omitempty"`
	// Name is the component's declared name.
	Name string `json:"name,omitempty"`
	// Kwargs are the constructor arguments the component was built with.
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// Run carries the fields every event shares.
type Run struct {
	RunID       string
	ParentRunID string
	Tags        []string
	Metadata    map[string]any
	ExtraParams map[string]any
	// Name is a caller-supplied explicit run name. It wins over every other
	// naming source.
	Name string
}

// Message is one chat message in a ChatModelStartEvent.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generation is one candidate produced by a model call.
type Generation struct {
	Text           string         `json:"text"`
	GenerationInfo map[string]any `json:"generation_info,omitempty"`
}

// LLMResult is the output payload of a model call.
type LLMResult struct {
	Generations [][]Generation `json:"generations"`
	LLMOutput   map[string]any `json:"llm_output,omitempty"`
}

// Event is the closed set of payloads the handlers accept. Use Dispatch to
// route one to its handler method.
type Event interface {
	run() Run
}

// LLMStartEvent starts a text-completion model call.
type LLMStartEvent struct {
	Run
	Serialized Serialized
	Prompts    []string
}

// ChatModelStartEvent starts a chat-model call.
type ChatModelStartEvent struct {
	Run
	Serialized Serialized
	Messages   [][]Message
}

// ChainStartEvent starts a pipeline step.
type ChainStartEvent struct {
	Run
	Serialized Serialized
	Inputs     map[string]any
}

// ToolStartEvent starts a tool invocation.
type ToolStartEvent struct {
	Run
	Serialized Serialized
	Input      string
}

// LLMEndEvent finishes a model call of either model kind.
type LLMEndEvent struct {
	Run
	Output LLMResult
}

// ChainEndEvent finishes a pipeline step.
type ChainEndEvent struct {
	Run
	Outputs map[string]any
}

// ToolEndEvent finishes a tool invocation.
type ToolEndEvent struct {
	Run
	Output string
}

// ErrorEvent fails a run. Kind only routes the event in Dispatch and labels
// logs; the run's own record decides everything else.
type ErrorEvent struct {
	Run
	Kind Kind
	Err  error
}

// AgentActionEvent reports the tool an agent decided to call.
type AgentActionEvent struct {
	Run
	Tool      string
	ToolInput any
	Log       string
}

// AgentFinishEvent reports an agent's final answer.
type AgentFinishEvent struct {
	Run
	ReturnValues map[string]any
	Log          string
}

func (r Run) run() Run { return r }
