package claude

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
	"github.com/bazelment/agentdesk/agent-cli-wrapper/protocol"
)

func TestBuildCLIArgs(t *testing.T) {
	args := BuildCLIArgs(QueryOptions{
		Model:          "sonnet",
		PermissionMode: PermissionModeDefault,
		ResumeID:       "sess-9",
		ExtraArgs:      []string{"--add-dir", "/tmp"},
	})
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "--input-format stream-json")
	assert.Contains(t, joined, "--output-format stream-json")
	assert.Contains(t, joined, "--permission-prompt-tool stdio")
	assert.Contains(t, joined, "--model sonnet")
	assert.Contains(t, joined, "--permission-mode default")
	assert.Contains(t, joined, "--resume sess-9")
	assert.True(t, strings.HasSuffix(joined, "--add-dir /tmp"))
}

func TestBuildCLIArgs_OmitsEmpty(t *testing.T) {
	joined := strings.Join(BuildCLIArgs(QueryOptions{}), " ")
	assert.NotContains(t, joined, "--model")
	assert.NotContains(t, joined, "--resume")
}

func TestStartProcess_CLINotFound(t *testing.T) {
	_, err := StartProcess(context.Background(), QueryOptions{CLIPath: "/nonexistent/claude-cli"})
	var notFound *CLINotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "/nonexistent/claude-cli", notFound.Path)
}

const fakeCLI = `#!/bin/sh
read init
read prompt
echo 'not json'
echo '{"type":"system","subtype":"init","session_id":"sess-1","model":"test"}'
echo '{"type":"assistant","uuid":"a1","message":{"role":"assistant","content":[{"type":"text","text":"pong"}]}}'
echo '{"type":"result","subtype":"success","result":"pong","num_turns":1}'
cat >/dev/null
`

func TestStartProcess_FakeCLI(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	script := filepath.Join(t.TempDir(), "claude")
	require.NoError(t, os.WriteFile(script, []byte(fakeCLI), 0o755))

	prompts := NewPromptQueue()
	q, err := StartProcess(context.Background(), QueryOptions{CLIPath: script, Prompts: prompts})
	require.NoError(t, err)
	prompts.Push(Prompt{Text: "ping"})

	ctx := context.Background()
	var types []protocol.MessageType
	for i := 0; i < 3; i++ {
		msg, err := q.Next(ctx)
		require.NoError(t, err)
		types = append(types, msg.MsgType())
	}
	assert.Equal(t, []protocol.MessageType{
		protocol.MessageTypeSystem,
		protocol.MessageTypeAssistant,
		protocol.MessageTypeResult,
	}, types)

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	_, err = q.Next(ctx)
	assert.ErrorIs(t, err, ErrAborted)
}

const permissionCLI = `#!/bin/sh
read init
echo '{"type":"assistant","uuid":"a1","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu-7","name":"AskUserQuestion","input":{}}]}}'
echo '{"type":"control_request","request_id":"r1","request":{"subtype":"can_use_tool","tool_name":"AskUserQuestion","input":{"questions":[]}}}'
read answer
echo "$answer" > "$ANSWER_FILE"
echo '{"type":"result","subtype":"success","result":"done"}'
cat >/dev/null
`

func TestStartProcess_PermissionRoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "claude")
	answerFile := filepath.Join(dir, "answer.json")
	require.NoError(t, os.WriteFile(script, []byte(permissionCLI), 0o755))

	seen := make(chan ToolRequest, 1)
	q, err := StartProcess(context.Background(), QueryOptions{
		CLIPath: script,
		Env:     map[string]string{"ANSWER_FILE": answerFile},
		CanUseTool: func(ctx context.Context, req ToolRequest) (agentstream.PermissionResult, error) {
			seen <- req
			return agentstream.Allow(map[string]interface{}{"answers": "blue"}), nil
		},
	})
	require.NoError(t, err)
	defer q.Close()

	ctx := context.Background()
	msg, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.MessageTypeAssistant, msg.MsgType())
	msg, err = q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.MessageTypeResult, msg.MsgType())

	assert.Equal(t, "tu-7", (<-seen).ToolUseID)
	answer, err := os.ReadFile(answerFile)
	require.NoError(t, err)
	assert.Contains(t, string(answer), `"request_id":"r1"`)
	assert.Contains(t, string(answer), `"behavior":"allow"`)
	assert.Contains(t, string(answer), `"answers":"blue"`)
}
