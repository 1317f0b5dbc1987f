package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kaptinlin/jsonrepair"

	"github.com/itsneelabh/agenttrace/callbacks"
	"github.com/itsneelabh/agenttrace/core"
)

// Envelope is the wire form of one callback event. Type selects which of
// the optional payload fields are read.
type Envelope struct {
	Type        string         `json:"type"`
	RunID       string         `json:"run_id"`
	ParentRunID string         `json:"parent_run_id,omitempty"`
	Name        string         `json:"name,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ExtraParams map[string]any `json:"extra_params,omitempty"`

	// Start payloads
	Serialized callbacks.Serialized  `json:"serialized,omitempty"`
	Prompts    []string              `json:"prompts,omitempty"`
	Messages   [][]callbacks.Message `json:"messages,omitempty"`
	Inputs     map[string]any        `json:"inputs,omitempty"`
	Input      any                   `json:"input,omitempty"`

	// End payloads
	Response *callbacks.LLMResult `json:"response,omitempty"`
	Outputs  map[string]any       `json:"outputs,omitempty"`
	Output   any                  `json:"output,omitempty"`

	// Error payload
	Error string `json:"error,omitempty"`

	// Agent payloads
	Tool         string         `json:"tool,omitempty"`
	ToolInput    any            `json:"tool_input,omitempty"`
	Log          string         `json:"log,omitempty"`
	ReturnValues map[string]any `json:"return_values,omitempty"`

	// Suppressed delivers the event in a suppressed context.
	Suppressed bool `json:"suppressed,omitempty"`
}

// DecodeEnvelopes parses a request body holding one envelope or an array of
// them. Bodies that are not valid JSON are run through jsonrepair once
// before giving up.
func DecodeEnvelopes(data []byte) ([]Envelope, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty body: %w", core.ErrInvalidEvent)
	}

	envelopes, err := decode(data)
	if err == nil {
		return envelopes, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(string(data))
	if repairErr != nil {
		return nil, fmt.Errorf("malformed body: %v (repair failed: %v): %w", err, repairErr, core.ErrInvalidEvent)
	}
	envelopes, err = decode([]byte(repaired))
	if err != nil {
		return nil, fmt.Errorf("malformed body after repair: %v: %w", err, core.ErrInvalidEvent)
	}
	return envelopes, nil
}

func decode(data []byte) ([]Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if data[0] == '[' {
		var envelopes []Envelope
		if err := dec.Decode(&envelopes); err != nil {
			return nil, err
		}
		return envelopes, nil
	}

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, err
	}
	return []Envelope{env}, nil
}

// Event converts the envelope into the callback event its type names.
func (e Envelope) Event() (callbacks.Event, error) {
	if e.RunID == "" {
		return nil, e.invalid("run_id is required")
	}

	run := callbacks.Run{
		RunID:       e.RunID,
		ParentRunID: e.ParentRunID,
		Tags:        e.Tags,
		Metadata:    e.Metadata,
		ExtraParams: e.ExtraParams,
		Name:        e.Name,
	}

	switch e.Type {
	case callbacks.EventTypeLLMStart:
		return callbacks.LLMStartEvent{Run: run, Serialized: e.Serialized, Prompts: e.Prompts}, nil
	case callbacks.EventTypeChatModelStart:
		return callbacks.ChatModelStartEvent{Run: run, Serialized: e.Serialized, Messages: e.Messages}, nil
	case callbacks.EventTypeChainStart:
		return callbacks.ChainStartEvent{Run: run, Serialized: e.Serialized, Inputs: e.Inputs}, nil
	case callbacks.EventTypeToolStart:
		return callbacks.ToolStartEvent{Run: run, Serialized: e.Serialized, Input: text(e.Input)}, nil

	case callbacks.EventTypeLLMEnd:
		var result callbacks.LLMResult
		if e.Response != nil {
			result = *e.Response
		}
		return callbacks.LLMEndEvent{Run: run, Output: result}, nil
	case callbacks.EventTypeChainEnd:
		return callbacks.ChainEndEvent{Run: run, Outputs: e.Outputs}, nil
	case callbacks.EventTypeToolEnd:
		return callbacks.ToolEndEvent{Run: run, Output: text(e.Output)}, nil

	case callbacks.EventTypeLLMError:
		return callbacks.ErrorEvent{Run: run, Kind: callbacks.KindLLM, Err: e.err()}, nil
	case callbacks.EventTypeChainError:
		return callbacks.ErrorEvent{Run: run, Kind: callbacks.KindChain, Err: e.err()}, nil
	case callbacks.EventTypeToolError:
		return callbacks.ErrorEvent{Run: run, Kind: callbacks.KindTool, Err: e.err()}, nil

	case callbacks.EventTypeAgentAction:
		return callbacks.AgentActionEvent{Run: run, Tool: e.Tool, ToolInput: e.ToolInput, Log: e.Log}, nil
	case callbacks.EventTypeAgentFinish:
		return callbacks.AgentFinishEvent{Run: run, ReturnValues: e.ReturnValues, Log: e.Log}, nil

	case "":
		return nil, e.invalid("type is required")
	default:
		return nil, e.invalid(fmt.Sprintf("unsupported type %q", e.Type))
	}
}

func (e Envelope) err() error {
	if e.Error == "" {
		return nil
	}
	return errors.New(e.Error)
}

func (e Envelope) invalid(msg string) error {
	return &core.FrameworkError{
		Op:      "Envelope.Event",
		Kind:    "ingest",
		ID:      e.RunID,
		Message: msg,
		Err:     core.ErrInvalidEvent,
	}
}

// text flattens a free-form payload to the string the tool events carry.
func text(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
