package acp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
	"github.com/bazelment/agentdesk/agent-cli-wrapper/jsonrpc"
)

func TestRunner_RequiresOnMessage(t *testing.T) {
	_, err := NewRunner().Run(context.Background(), agentstream.Options{Prompt: "hi"})
	assert.ErrorIs(t, err, agentstream.ErrMissingCallback)
}

func TestRunner_StreamsTextAndResult(t *testing.T) {
	agent := &fakeAgent{onPrompt: func(_ context.Context, a *fakeAgent, _ PromptRequest) (interface{}, error) {
		a.chunk("Hel")
		a.chunk("lo")
		a.update(map[string]interface{}{
			"sessionUpdate": UpdateAgentThoughtChunk,
			"content":       map[string]interface{}{"type": "text", "text": "pondering"},
		})
		return map[string]interface{}{"stopReason": "end_turn"}, nil
	}}
	_, rec := startFake(t, agent, agentstream.Options{Prompt: "hi"})

	results := rec.waitResults(t, 1)
	assert.Equal(t, agentstream.ResultSuccess, results[0].Result.Subtype)
	assert.Equal(t, "Hello", results[0].Result.Text)

	msgs := rec.messages()
	require.NotEmpty(t, msgs)
	require.Equal(t, agentstream.TypeSystemInit, msgs[0].Type)
	assert.Equal(t, fakeSessionID, msgs[0].Init.ResumeID)
	assert.Equal(t, BackendName, msgs[0].Init.Backend)

	var kinds []agentstream.StreamKind
	var thinking string
	for _, m := range rec.ofType(agentstream.TypeStreamEvent) {
		kinds = append(kinds, m.Event.Kind)
		if m.Event.Delta != nil && m.Event.Delta.Type == agentstream.DeltaThinking {
			thinking += m.Event.Delta.Thinking
		}
	}
	assert.Equal(t, []agentstream.StreamKind{
		agentstream.StreamBlockStart,
		agentstream.StreamBlockDelta,
		agentstream.StreamBlockDelta,
		agentstream.StreamBlockDelta,
		agentstream.StreamBlockStop,
	}, kinds)
	assert.Equal(t, "pondering", thinking)

	assistant := rec.ofType(agentstream.TypeAssistant)
	require.Len(t, assistant, 1)
	assert.Equal(t, "Hello", assistant[0].Text())
	assert.Equal(t, agentstream.TypeResult, msgs[len(msgs)-1].Type)
	assert.Empty(t, rec.errors())
}

func TestRunner_ClassifiesToolCalls(t *testing.T) {
	agent := &fakeAgent{onPrompt: func(_ context.Context, a *fakeAgent, _ PromptRequest) (interface{}, error) {
		a.update(map[string]interface{}{
			"sessionUpdate": UpdateToolCall,
			"toolCallId":    "call-1",
			"title":         "Run ls",
			"kind":          "execute",
			"status":        "pending",
			"rawInput":      map[string]interface{}{"command": "ls -la"},
		})
		a.update(map[string]interface{}{
			"sessionUpdate": UpdateToolCallUpdate,
			"toolCallId":    "call-1",
			"status":        "in_progress",
		})
		a.update(map[string]interface{}{
			"sessionUpdate": UpdateToolCallUpdate,
			"toolCallId":    "call-1",
			"status":        "completed",
			"rawOutput":     map[string]interface{}{"stdout": "ok", "exitCode": 0},
		})
		return map[string]interface{}{"stopReason": "end_turn"}, nil
	}}
	_, rec := startFake(t, agent, agentstream.Options{Prompt: "list files"})
	rec.waitResults(t, 1)

	assistant := rec.ofType(agentstream.TypeAssistant)
	require.Len(t, assistant, 1)
	uses := assistant[0].ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "call-1", uses[0].ID)
	assert.Equal(t, ToolBash, uses[0].Name)
	assert.Equal(t, "ls -la", uses[0].Input["command"])
	assert.Equal(t, "Run ls", uses[0].Input["description"])

	users := rec.ofType(agentstream.TypeUser)
	require.Len(t, users, 1)
	results := users[0].ToolResults()
	require.Len(t, results, 1)
	assert.Equal(t, "call-1", results[0].ToolUseID)
	assert.Equal(t, "exitCode: 0\nstdout:\nok", results[0].Content)
	assert.False(t, results[0].IsError)
}

func TestRunner_SynthesizesMissingToolUse(t *testing.T) {
	agent := &fakeAgent{onPrompt: func(_ context.Context, a *fakeAgent, _ PromptRequest) (interface{}, error) {
		update := map[string]interface{}{
			"sessionUpdate": UpdateToolCallUpdate,
			"toolCallId":    "orphan",
			"kind":          "read",
			"status":        "failed",
			"rawInput":      map[string]interface{}{"path": "/tmp/x"},
			"content": []interface{}{
				map[string]interface{}{"type": "content", "content": map[string]interface{}{"type": "text", "text": "no such file"}},
			},
		}
		a.update(update)
		a.update(update)
		return map[string]interface{}{"stopReason": "end_turn"}, nil
	}}
	_, rec := startFake(t, agent, agentstream.Options{Prompt: "read"})
	rec.waitResults(t, 1)

	var order []agentstream.MessageType
	for _, m := range rec.messages() {
		if m.Type == agentstream.TypeAssistant || m.Type == agentstream.TypeUser {
			order = append(order, m.Type)
		}
	}
	assert.Equal(t, []agentstream.MessageType{agentstream.TypeAssistant, agentstream.TypeUser}, order)

	use := rec.ofType(agentstream.TypeAssistant)[0].ToolUses()[0]
	assert.Equal(t, ToolRead, use.Name)
	assert.Equal(t, "/tmp/x", use.Input["file_path"])

	res := rec.ofType(agentstream.TypeUser)[0].ToolResults()[0]
	assert.Equal(t, "orphan", res.ToolUseID)
	assert.Equal(t, "no such file", res.Content)
	assert.True(t, res.IsError)
}

func TestRunner_WaitsForSessionInfoWhenPromptHasNoSignal(t *testing.T) {
	release := make(chan struct{})
	agent := &fakeAgent{onPrompt: func(_ context.Context, a *fakeAgent, _ PromptRequest) (interface{}, error) {
		a.chunk("partial")
		go func() {
			<-release
			a.update(map[string]interface{}{"sessionUpdate": UpdateSessionInfo})
		}()
		return map[string]interface{}{}, nil
	}}
	_, rec := startFake(t, agent, agentstream.Options{Prompt: "go"})

	require.Eventually(t, func() bool {
		return len(rec.ofType(agentstream.TypeStreamEvent)) >= 2
	}, 5*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.ofType(agentstream.TypeResult))

	close(release)
	results := rec.waitResults(t, 1)
	assert.Equal(t, agentstream.ResultSuccess, results[0].Result.Subtype)
	assert.Equal(t, "partial", results[0].Result.Text)
}

func TestRunner_SessionInfoDecidesOutcome(t *testing.T) {
	agent := &fakeAgent{onPrompt: func(_ context.Context, a *fakeAgent, _ PromptRequest) (interface{}, error) {
		a.update(map[string]interface{}{"sessionUpdate": UpdateSessionInfo, "status": "failed"})
		return map[string]interface{}{"stopReason": "end_turn"}, nil
	}}
	_, rec := startFake(t, agent, agentstream.Options{Prompt: "go"})

	results := rec.waitResults(t, 1)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.ofType(agentstream.TypeResult), 1)
	assert.Equal(t, agentstream.ResultError, results[0].Result.Subtype)
}

func TestRunner_CancelledStopReasonEmitsNoResult(t *testing.T) {
	agent := &fakeAgent{onPrompt: func(_ context.Context, a *fakeAgent, _ PromptRequest) (interface{}, error) {
		a.chunk("half")
		return map[string]interface{}{"stopReason": "cancelled"}, nil
	}}
	_, rec := startFake(t, agent, agentstream.Options{Prompt: "go"})

	require.Eventually(t, func() bool {
		return len(rec.ofType(agentstream.TypeAssistant)) == 1
	}, 5*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.ofType(agentstream.TypeResult))
}

func TestRunner_RecoverablePromptError(t *testing.T) {
	emptyText := &jsonrpc.ErrorObject{Code: 500, Message: "Model stream ended with empty response text."}

	t.Run("with activity", func(t *testing.T) {
		agent := &fakeAgent{onPrompt: func(_ context.Context, a *fakeAgent, _ PromptRequest) (interface{}, error) {
			a.chunk("done already")
			return nil, emptyText
		}}
		_, rec := startFake(t, agent, agentstream.Options{Prompt: "go"})
		results := rec.waitResults(t, 1)
		assert.Equal(t, agentstream.ResultSuccess, results[0].Result.Subtype)
		assert.Empty(t, rec.errors())
	})

	t.Run("without activity", func(t *testing.T) {
		agent := &fakeAgent{onPrompt: func(context.Context, *fakeAgent, PromptRequest) (interface{}, error) {
			return nil, emptyText
		}}
		_, rec := startFake(t, agent, agentstream.Options{Prompt: "go"})
		results := rec.waitResults(t, 1)
		assert.Equal(t, agentstream.ResultError, results[0].Result.Subtype)
		assert.Contains(t, results[0].Result.Text, "empty response text")
		require.Eventually(t, func() bool { return len(rec.errors()) == 1 }, 5*time.Second, 5*time.Millisecond)
		var turnErr *TurnError
		assert.ErrorAs(t, rec.errors()[0], &turnErr)
	})
}

func TestRunner_SendKeepsOrder(t *testing.T) {
	agent := &fakeAgent{}
	h, rec := startFake(t, agent, agentstream.Options{Prompt: "first"})
	h.Send("second")
	h.Send("third")

	rec.waitResults(t, 3)
	assert.Equal(t, []string{"first", "second", "third"}, agent.sentPrompts())
	assert.Equal(t, int32(1), agent.starts.Load())
	assert.Len(t, rec.ofType(agentstream.TypeSystemInit), 1)
}

func TestRunner_AbortIsIdempotentAndQuiet(t *testing.T) {
	entered := make(chan struct{})
	agent := &fakeAgent{onPrompt: func(ctx context.Context, a *fakeAgent, _ PromptRequest) (interface{}, error) {
		a.chunk("working")
		close(entered)
		<-ctx.Done()
		return map[string]interface{}{"stopReason": "cancelled"}, nil
	}}
	h, rec := startFake(t, agent, agentstream.Options{Prompt: "long task"})
	<-entered
	require.Eventually(t, func() bool {
		return len(rec.ofType(agentstream.TypeStreamEvent)) >= 2
	}, 5*time.Second, 5*time.Millisecond)

	h.Abort()
	h.Abort()
	before := len(rec.messages())

	done := h.(interface{ Done() <-chan struct{} }).Done()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("agent was not released")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.messages(), before)
	assert.Empty(t, rec.ofType(agentstream.TypeResult))
	assert.Empty(t, rec.errors())
	assert.Equal(t, agent.starts.Load(), agent.closes.Load())
	require.Eventually(t, func() bool {
		agent.mu.Lock()
		defer agent.mu.Unlock()
		return len(agent.cancels) == 1 && agent.cancels[0] == fakeSessionID
	}, 5*time.Second, 5*time.Millisecond)
}

func TestRunner_ParentContextCancelAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	agent := &fakeAgent{}
	rec := &recorder{}
	h, err := NewRunner(WithStartFunc(agent.start)).Run(ctx, agentstream.Options{
		Prompt:    "hi",
		CWD:       t.TempDir(),
		OnMessage: rec.onMessage,
		OnError:   rec.onError,
	})
	require.NoError(t, err)
	rec.waitResults(t, 1)

	cancel()
	select {
	case <-h.(interface{ Done() <-chan struct{} }).Done():
	case <-time.After(5 * time.Second):
		t.Fatal("agent was not released")
	}
	assert.Equal(t, int32(1), agent.closes.Load())
}

func TestRunner_PermissionPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy PermissionPolicy
		want   PermissionOutcome
	}{
		{name: "auto allow", policy: AutoAllow, want: PermissionOutcome{Outcome: OutcomeSelected, OptionID: "allow"}},
		{name: "reject", policy: Reject, want: PermissionOutcome{Outcome: OutcomeSelected, OptionID: "reject"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make(chan PermissionOutcome, 1)
			agent := &fakeAgent{onPrompt: func(ctx context.Context, a *fakeAgent, _ PromptRequest) (interface{}, error) {
				var resp RequestPermissionResponse
				err := a.conn.Call(ctx, MethodRequestPermission, RequestPermissionRequest{
					SessionID: fakeSessionID,
					Options: []PermissionOption{
						{ID: "allow", Name: "Allow", Kind: "allow_once"},
						{ID: "reject", Name: "Reject", Kind: "reject_once"},
					},
				}, &resp)
				if err != nil {
					return nil, err
				}
				got <- resp.Outcome
				return map[string]interface{}{"stopReason": "end_turn"}, nil
			}}
			_, rec := startFake(t, agent, agentstream.Options{Prompt: "go"}, WithPermissionPolicy(tt.policy))
			rec.waitResults(t, 1)
			assert.Equal(t, tt.want, <-got)
		})
	}
}

func TestRunner_ServesFileRequests(t *testing.T) {
	dir := t.TempDir()
	got := make(chan string, 1)
	agent := &fakeAgent{onPrompt: func(ctx context.Context, a *fakeAgent, _ PromptRequest) (interface{}, error) {
		if err := a.conn.Call(ctx, MethodFsWriteTextFile, WriteTextFileRequest{
			SessionID: fakeSessionID, Path: "notes/a.txt", Content: "one\ntwo\nthree",
		}, nil); err != nil {
			return nil, err
		}
		var resp ReadTextFileResponse
		if err := a.conn.Call(ctx, MethodFsReadTextFile, ReadTextFileRequest{
			SessionID: fakeSessionID, Path: "notes/a.txt", Line: 2, Limit: 1,
		}, &resp); err != nil {
			return nil, err
		}
		got <- resp.Content
		return map[string]interface{}{"stopReason": "end_turn"}, nil
	}}
	_, rec := startFake(t, agent, agentstream.Options{Prompt: "go", CWD: dir})
	rec.waitResults(t, 1)

	assert.Equal(t, "two", <-got)
	data, err := os.ReadFile(filepath.Join(dir, "notes", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree", string(data))
}

func TestRunner_UnknownAgentRequest(t *testing.T) {
	got := make(chan error, 1)
	agent := &fakeAgent{onPrompt: func(ctx context.Context, a *fakeAgent, _ PromptRequest) (interface{}, error) {
		got <- a.conn.Call(ctx, "terminal/create", map[string]interface{}{}, nil)
		return map[string]interface{}{"stopReason": "end_turn"}, nil
	}}
	_, rec := startFake(t, agent, agentstream.Options{Prompt: "go"})
	rec.waitResults(t, 1)

	var rpcErr *jsonrpc.RPCError
	require.ErrorAs(t, <-got, &rpcErr)
	assert.Equal(t, jsonrpc.CodeMethodNotFound, rpcErr.Code)
}

func TestRunner_Resume(t *testing.T) {
	t.Run("loads when supported", func(t *testing.T) {
		agent := &fakeAgent{loadSession: true}
		_, rec := startFake(t, agent, agentstream.Options{Prompt: "again", ResumeID: "old-session"})
		rec.waitResults(t, 1)

		assert.Contains(t, agent.calledMethods(), MethodSessionLoad)
		assert.NotContains(t, agent.calledMethods(), MethodSessionNew)
		assert.Equal(t, "old-session", rec.ofType(agentstream.TypeSystemInit)[0].Init.ResumeID)
		assert.Empty(t, rec.ofType(agentstream.TypeStreamEvent), "replayed history must not be emitted")
	})

	t.Run("starts new session otherwise", func(t *testing.T) {
		agent := &fakeAgent{}
		_, rec := startFake(t, agent, agentstream.Options{Prompt: "again", ResumeID: "old-session"})
		rec.waitResults(t, 1)

		assert.Contains(t, agent.calledMethods(), MethodSessionNew)
		assert.Equal(t, fakeSessionID, rec.ofType(agentstream.TypeSystemInit)[0].Init.ResumeID)
	})
}

func TestRunner_StartFailureIsReported(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("spawn failed")
	runner := NewRunner(WithStartFunc(func(context.Context, ProcessOptions) (Process, error) {
		return nil, boom
	}))
	h, err := runner.Run(context.Background(), agentstream.Options{
		Prompt: "hi", CWD: t.TempDir(), OnMessage: rec.onMessage, OnError: rec.onError,
	})
	require.NoError(t, err)
	defer h.Abort()

	require.Eventually(t, func() bool { return len(rec.errors()) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, rec.errors()[0], boom)
	assert.Empty(t, rec.messages())
}

func TestRunner_AgentExitFailsPendingTurn(t *testing.T) {
	agent := &fakeAgent{onPrompt: func(_ context.Context, a *fakeAgent, _ PromptRequest) (interface{}, error) {
		a.chunk("partial")
		return map[string]interface{}{}, nil
	}}
	h, rec := startFake(t, agent, agentstream.Options{Prompt: "go"})
	hd := h.(*handle)
	require.Eventually(t, func() bool {
		hd.mu.Lock()
		defer hd.mu.Unlock()
		return hd.turn != nil && hd.turn.state == turnPendingFinalization
	}, 5*time.Second, 5*time.Millisecond)

	agent.hangup()

	results := rec.waitResults(t, 1)
	assert.Equal(t, agentstream.ResultError, results[0].Result.Subtype)
	assert.Equal(t, ErrAgentExited.Error(), results[0].Result.Text)
	require.Eventually(t, func() bool { return len(rec.errors()) == 1 }, 5*time.Second, 5*time.Millisecond)
	var pe *ProcessError
	require.ErrorAs(t, rec.errors()[0], &pe)
	assert.ErrorIs(t, pe, ErrAgentExited)

	assistant := rec.ofType(agentstream.TypeAssistant)
	require.Len(t, assistant, 1)
	assert.Equal(t, "partial", assistant[0].Text())
}

func TestRunner_AgentExitRejectsOutstandingPrompt(t *testing.T) {
	agent := &fakeAgent{onPrompt: func(_ context.Context, a *fakeAgent, _ PromptRequest) (interface{}, error) {
		a.chunk("half")
		a.hangup()
		return map[string]interface{}{"stopReason": "end_turn"}, nil
	}}
	_, rec := startFake(t, agent, agentstream.Options{Prompt: "go"})

	results := rec.waitResults(t, 1)
	assert.Equal(t, agentstream.ResultError, results[0].Result.Subtype)
	assert.Contains(t, results[0].Result.Text, jsonrpc.ErrConnClosed.Error())

	require.Eventually(t, func() bool { return len(rec.errors()) == 1 }, 5*time.Second, 5*time.Millisecond)
	var te *TurnError
	require.ErrorAs(t, rec.errors()[0], &te)
	assert.Equal(t, fakeSessionID, te.SessionID)
	assert.ErrorIs(t, te, jsonrpc.ErrConnClosed)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.ofType(agentstream.TypeResult), 1)
	assert.Len(t, rec.errors(), 1)
}
