package ingest

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/agenttrace/callbacks"
	"github.com/itsneelabh/agenttrace/core"
)

func TestDecodeEnvelopes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{name: "single object", body: `{"type":"chain_start","run_id":"1"}`, want: 1},
		{name: "array", body: `[{"type":"chain_start","run_id":"1"},{"type":"chain_end","run_id":"1"}]`, want: 2},
		{name: "surrounding whitespace", body: "\n  {\"type\":\"chain_end\",\"run_id\":\"1\"}  \n", want: 1},
		{name: "trailing comma repaired", body: `{"type":"chain_start","run_id":"1",}`, want: 1},
		{name: "single quotes repaired", body: `{'type': 'tool_end', 'run_id': '2'}`, want: 1},
		{name: "empty", body: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEnvelopes([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, core.ErrInvalidEvent))
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestDecodeEnvelopesKeepsIntegerMetadata(t *testing.T) {
	envs, err := DecodeEnvelopes([]byte(`{"type":"llm_start","run_id":"1","metadata":{"attempt":2}}`))
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, json.Number("2"), envs[0].Metadata["attempt"])
}

func TestEnvelopeEvent(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		want callbacks.Event
	}{
		{
			name: "llm start",
			env:  Envelope{Type: "llm_start", RunID: "1", ParentRunID: "0", Prompts: []string{"hi"}, Serialized: callbacks.Serialized{Name: "OpenAI"}},
			want: callbacks.LLMStartEvent{Run: callbacks.Run{RunID: "1", ParentRunID: "0"}, Prompts: []string{"hi"}, Serialized: callbacks.Serialized{Name: "OpenAI"}},
		},
		{
			name: "chat model start",
			env:  Envelope{Type: "chat_model_start", RunID: "1", Messages: [][]callbacks.Message{{{Role: "user", Content: "hi"}}}},
			want: callbacks.ChatModelStartEvent{Run: callbacks.Run{RunID: "1"}, Messages: [][]callbacks.Message{{{Role: "user", Content: "hi"}}}},
		},
		{
			name: "chain start",
			env:  Envelope{Type: "chain_start", RunID: "1", Name: "qa", Inputs: map[string]any{"q": "x"}},
			want: callbacks.ChainStartEvent{Run: callbacks.Run{RunID: "1", Name: "qa"}, Inputs: map[string]any{"q": "x"}},
		},
		{
			name: "tool start with structured input",
			env:  Envelope{Type: "tool_start", RunID: "2", Input: map[string]any{"a": 1}},
			want: callbacks.ToolStartEvent{Run: callbacks.Run{RunID: "2"}, Input: `{"a":1}`},
		},
		{
			name: "llm end without response",
			env:  Envelope{Type: "llm_end", RunID: "1"},
			want: callbacks.LLMEndEvent{Run: callbacks.Run{RunID: "1"}},
		},
		{
			name: "chain end",
			env:  Envelope{Type: "chain_end", RunID: "1", Outputs: map[string]any{"a": "b"}},
			want: callbacks.ChainEndEvent{Run: callbacks.Run{RunID: "1"}, Outputs: map[string]any{"a": "b"}},
		},
		{
			name: "tool end",
			env:  Envelope{Type: "tool_end", RunID: "2", Output: "done"},
			want: callbacks.ToolEndEvent{Run: callbacks.Run{RunID: "2"}, Output: "done"},
		},
		{
			name: "agent action",
			env:  Envelope{Type: "agent_action", RunID: "1", Tool: "calc", ToolInput: "1+1", Log: "thinking"},
			want: callbacks.AgentActionEvent{Run: callbacks.Run{RunID: "1"}, Tool: "calc", ToolInput: "1+1", Log: "thinking"},
		},
		{
			name: "agent finish",
			env:  Envelope{Type: "agent_finish", RunID: "1", ReturnValues: map[string]any{"output": "2"}},
			want: callbacks.AgentFinishEvent{Run: callbacks.Run{RunID: "1"}, ReturnValues: map[string]any{"output": "2"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.env.Event()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnvelopeErrorEvents(t *testing.T) {
	tests := []struct {
		typ  string
		kind callbacks.Kind
	}{
		{typ: "llm_error", kind: callbacks.KindLLM},
		{typ: "chain_error", kind: callbacks.KindChain},
		{typ: "tool_error", kind: callbacks.KindTool},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			got, err := Envelope{Type: tt.typ, RunID: "1", Error: "boom"}.Event()
			require.NoError(t, err)
			ev, ok := got.(callbacks.ErrorEvent)
			require.True(t, ok)
			assert.Equal(t, tt.kind, ev.Kind)
			require.Error(t, ev.Err)
			assert.Equal(t, "boom", ev.Err.Error())
		})
	}

	got, err := Envelope{Type: "tool_error", RunID: "1"}.Event()
	require.NoError(t, err)
	assert.Nil(t, got.(callbacks.ErrorEvent).Err)
}

func TestEnvelopeEventInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		msg  string
	}{
		{name: "missing run id", env: Envelope{Type: "chain_start"}, msg: "run_id is required"},
		{name: "missing type", env: Envelope{RunID: "1"}, msg: "type is required"},
		{name: "unsupported type", env: Envelope{Type: "retriever_start", RunID: "1"}, msg: `unsupported type "retriever_start"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.env.Event()
			require.Error(t, err)
			assert.Equal(t, tt.msg, err.Error())
			assert.True(t, errors.Is(err, core.ErrInvalidEvent))
		})
	}
}
