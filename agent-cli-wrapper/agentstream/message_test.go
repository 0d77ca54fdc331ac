package agentstream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsAssignIDs(t *testing.T) {
	a := NewAssistant(TextBlock("hi"))
	b := NewAssistant(TextBlock("hi"))
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.CreatedAt.IsZero())
	assert.Equal(t, "keep", IDOrNew("keep"))
	assert.NotEmpty(t, IDOrNew(""))
}

func TestNewResultMarksErrors(t *testing.T) {
	assert.True(t, NewResult(Result{Subtype: ResultError}).Result.IsError)
	assert.False(t, NewResult(Result{Subtype: ResultSuccess}).Result.IsError)
	assert.False(t, NewResult(Result{Subtype: ResultCancelled}).Result.IsError)
	assert.True(t, NewResult(Result{Subtype: ResultSuccess}).IsTerminal())
}

func TestToolUseBlockDefaultsInput(t *testing.T) {
	b := ToolUseBlock("t1", "Bash", nil)
	assert.NotNil(t, b.Input)

	m := NewAssistant(TextBlock("a"), b, TextBlock("b"))
	require.Len(t, m.ToolUses(), 1)
	assert.Equal(t, "t1", m.ToolUses()[0].ID)
	assert.Equal(t, "ab", m.Text())
	assert.Empty(t, m.ToolResults())
}

func TestStreamEventShape(t *testing.T) {
	data, err := json.Marshal(TextDelta(0, "he"))
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "stream_event", raw["type"])
	ev := raw["event"].(map[string]interface{})
	assert.Equal(t, "content_block_delta", ev["kind"])
	assert.Equal(t, "text_delta", ev["delta"].(map[string]interface{})["type"])
	assert.Equal(t, "he", ev["delta"].(map[string]interface{})["text"])
}

func TestUsageAlwaysSerialized(t *testing.T) {
	data, err := json.Marshal(NewResult(Result{Subtype: ResultSuccess}))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"input_tokens":0`)
	assert.Contains(t, string(data), `"output_tokens":0`)
}
