package callbacks

import "go.opentelemetry.io/otel/attribute"

// GenAI semantic convention keys. Dashboards match these byte-for-byte.
// See https://opentelemetry.io/docs/specs/semconv/gen-ai/
const (
	GenAIOperationNameKey = attribute.Key("gen_ai.operation.name")
	GenAISystemKey        = attribute.Key("gen_ai.system")

	GenAIRequestModelKey       = attribute.Key("gen_ai.request.model")
	GenAIRequestMaxTokensKey   = attribute.Key("gen_ai.request.max_tokens")
	GenAIRequestTemperatureKey = attribute.Key("gen_ai.request.temperature")
	GenAIRequestTopPKey        = attribute.Key("gen_ai.request.top_p")

	GenAIResponseModelKey = attribute.Key("gen_ai.response.model")

	GenAIUsageInputTokensKey  = attribute.Key("gen_ai.usage.input_tokens")
	GenAIUsageOutputTokensKey = attribute.Key("gen_ai.usage.output_tokens")

	GenAIToolNameKey        = attribute.Key("gen_ai.tool.name")
	GenAIToolCallIDKey      = attribute.Key("gen_ai.tool.call.id")
	GenAIToolDescriptionKey = attribute.Key("gen_ai.tool.description")

	GenAIAgentNameKey = attribute.Key("gen_ai.agent.name")
)

// agenttrace keys for data the GenAI conventions do not cover.
const (
	RunIDKey       = attribute.Key("agenttrace.run.id")
	ParentRunIDKey = attribute.Key("agenttrace.parent_run.id")
	TagsKey        = attribute.Key("agenttrace.tags")

	EntityInputKey  = attribute.Key("agenttrace.entity.input")
	EntityOutputKey = attribute.Key("agenttrace.entity.output")

	AgentActionInputKey  = attribute.Key("agenttrace.agent.action.input")
	AgentActionLogKey    = attribute.Key("agenttrace.agent.action.log")
	AgentFinishOutputKey = attribute.Key("agenttrace.agent.finish.output")

	// MetadataKeyPrefix prefixes every sanitised metadata entry.
	MetadataKeyPrefix = "agenttrace.metadata."
)

// Span event names.
const (
	EventForceClosed = "agenttrace.force_closed"
	EventAgentAction = "agent_action"
	EventAgentFinish = "agent_finish"
)

// InstrumentationName names the tracer and meter the handlers obtain from
// their providers.
const InstrumentationName = "github.com/itsneelabh/agenttrace"
