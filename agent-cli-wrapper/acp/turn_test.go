package acp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
)

func TestSignalsDecide(t *testing.T) {
	tests := []struct {
		raw     string
		want    outcome
		decided bool
	}{
		{raw: `{"stopReason":"end_turn"}`, want: agentstream.ResultSuccess, decided: true},
		{raw: `{"stop_reason":"max_tokens"}`, want: agentstream.ResultSuccess, decided: true},
		{raw: `{"stopReason":"cancelled"}`, want: agentstream.ResultCancelled, decided: true},
		{raw: `{"stopReason":"refusal"}`, want: agentstream.ResultError, decided: true},
		{raw: `{"done":true}`, want: agentstream.ResultSuccess, decided: true},
		{raw: `{"final":true,"status":"failed"}`, want: agentstream.ResultError, decided: true},
		{raw: `{"completed":false}`, decided: false},
		{raw: `{"status":"completed"}`, want: agentstream.ResultSuccess, decided: true},
		{raw: `{"state":"idle"}`, want: agentstream.ResultSuccess, decided: true},
		{raw: `{"status":"pending"}`, decided: false},
		{raw: `{"status":"in_progress"}`, decided: false},
		{raw: `{}`, decided: false},
		{raw: ``, decided: false},
		{raw: `not json`, decided: false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := parseSignals(json.RawMessage(tt.raw)).decide()
			assert.Equal(t, tt.decided, ok)
			if tt.decided {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestToolStatus(t *testing.T) {
	assert.True(t, isRunningStatus(""))
	assert.True(t, isRunningStatus("in_progress"))
	assert.True(t, isRunningStatus("pending"))
	assert.False(t, isRunningStatus("completed"))
	assert.False(t, isRunningStatus("failed"))

	assert.True(t, isErrorStatus("failed"))
	assert.True(t, isErrorStatus("error"))
	assert.False(t, isErrorStatus("completed"))
}

func TestTurnStateString(t *testing.T) {
	assert.Equal(t, "pending_finalization", turnPendingFinalization.String())
	assert.Equal(t, "finalized", turnFinalized.String())
}
