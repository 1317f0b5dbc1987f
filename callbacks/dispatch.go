package callbacks

import (
	"context"
	"fmt"
)

// Dispatch routes ev to the handler method for its type. Pointer and value
// forms are both accepted; a nil or unrecognised event is logged and
// dropped.
func (h *Handler) Dispatch(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case LLMStartEvent:
		h.HandleLLMStart(ctx, e)
	case *LLMStartEvent:
		if e != nil {
			h.HandleLLMStart(ctx, *e)
		}
	case ChatModelStartEvent:
		h.HandleChatModelStart(ctx, e)
	case *ChatModelStartEvent:
		if e != nil {
			h.HandleChatModelStart(ctx, *e)
		}
	case ChainStartEvent:
		h.HandleChainStart(ctx, e)
	case *ChainStartEvent:
		if e != nil {
			h.HandleChainStart(ctx, *e)
		}
	case ToolStartEvent:
		h.HandleToolStart(ctx, e)
	case *ToolStartEvent:
		if e != nil {
			h.HandleToolStart(ctx, *e)
		}
	case LLMEndEvent:
		h.HandleLLMEnd(ctx, e)
	case *LLMEndEvent:
		if e != nil {
			h.HandleLLMEnd(ctx, *e)
		}
	case ChainEndEvent:
		h.HandleChainEnd(ctx, e)
	case *ChainEndEvent:
		if e != nil {
			h.HandleChainEnd(ctx, *e)
		}
	case ToolEndEvent:
		h.HandleToolEnd(ctx, e)
	case *ToolEndEvent:
		if e != nil {
			h.HandleToolEnd(ctx, *e)
		}
	case ErrorEvent:
		h.dispatchError(ctx, e)
	case *ErrorEvent:
		if e != nil {
			h.dispatchError(ctx, *e)
		}
	case AgentActionEvent:
		h.HandleAgentAction(ctx, e)
	case *AgentActionEvent:
		if e != nil {
			h.HandleAgentAction(ctx, *e)
		}
	case AgentFinishEvent:
		h.HandleAgentFinish(ctx, e)
	case *AgentFinishEvent:
		if e != nil {
			h.HandleAgentFinish(ctx, *e)
		}
	default:
		h.logger.Warn("Dropping unsupported callback event", map[string]interface{}{
			"type": fmt.Sprintf("%T", ev),
		})
	}
}

func (h *Handler) dispatchError(ctx context.Context, ev ErrorEvent) {
	switch ev.Kind {
	case KindLLM, KindChatModel:
		h.HandleLLMError(ctx, ev)
	case KindTool:
		h.HandleToolError(ctx, ev)
	default:
		// Chains and unclassified runs. The run's own record decides the
		// outcome, so the routing only affects how the event is labelled.
		h.HandleChainError(ctx, ev)
	}
}
