package claude

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		line string
		want agentstream.MessageType
		ok   bool
	}{
		{"init", `{"type":"system","subtype":"init","session_id":"s"}`, agentstream.TypeSystemInit, true},
		{"other system", `{"type":"system","subtype":"compact_boundary"}`, "", false},
		{"assistant", `{"type":"assistant","message":{"role":"assistant","content":[{"type":"thinking","thinking":"hm"}]}}`, agentstream.TypeAssistant, true},
		{"user echo", `{"type":"user","message":{"role":"user","content":"hello"}}`, "", false},
		{"tool result", `{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t","content":"x"}]}}`, agentstream.TypeUser, true},
		{"result", `{"type":"result","subtype":"error_max_turns","is_error":true}`, agentstream.TypeResult, true},
		{"message_start", `{"type":"stream_event","event":{"type":"message_start","message":{}}}`, "", false},
		{"thinking delta", `{"type":"stream_event","event":{"type":"content_block_delta","index":1,"delta":{"type":"thinking_delta","thinking":"h"}}}`, agentstream.TypeStreamEvent, true},
		{"control response", `{"type":"control_response","response":{"subtype":"success","request_id":"r"}}`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, ok := Normalize(mustParse(tt.line))
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, out.Type)
				assert.NotEmpty(t, out.ID)
			}
		})
	}
}

func TestNormalize_ResultSubtypes(t *testing.T) {
	out, ok := Normalize(mustParse(`{"type":"result","subtype":"error_during_execution","is_error":true,"usage":{"input_tokens":3}}`))
	require.True(t, ok)
	assert.Equal(t, agentstream.ResultError, out.Result.Subtype)
	assert.True(t, out.Result.IsError)
	assert.Equal(t, 3, out.Result.Usage.InputTokens)
	assert.Zero(t, out.Result.Usage.OutputTokens)
}

func TestNormalize_GeneratesMissingToolUseIDs(t *testing.T) {
	out, ok := Normalize(mustParse(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","name":"Read","input":null}]}}`))
	require.True(t, ok)
	uses := out.ToolUses()
	require.Len(t, uses, 1)
	assert.NotEmpty(t, uses[0].ID)
	assert.NotNil(t, uses[0].Input)
}
