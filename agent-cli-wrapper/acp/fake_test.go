package acp

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
	"github.com/bazelment/agentdesk/agent-cli-wrapper/jsonrpc"
)

const fakeSessionID = "sess-1"

// fakeAgent is an in-process ACP agent speaking over io.Pipes.
type fakeAgent struct {
	onPrompt    func(ctx context.Context, a *fakeAgent, req PromptRequest) (interface{}, error)
	conn        *jsonrpc.Conn
	stdout      *io.PipeWriter
	methods     []string
	prompts     []string
	cancels     []string
	mu          sync.Mutex
	starts      atomic.Int32
	closes      atomic.Int32
	loadSession bool
	images      bool
}

type fakeProcess struct {
	io.Reader
	io.Writer
	close func()
	once  sync.Once
}

func (p *fakeProcess) Close() error {
	p.once.Do(p.close)
	return nil
}

func (a *fakeAgent) start(_ context.Context, _ ProcessOptions) (Process, error) {
	a.starts.Add(1)
	clientR, agentW := io.Pipe()
	agentR, clientW := io.Pipe()
	conn := jsonrpc.NewConn(agentW,
		jsonrpc.WithRequestHandler(a.handle),
		jsonrpc.WithNotificationHandler(a.notify),
	)
	a.mu.Lock()
	a.conn, a.stdout = conn, agentW
	a.mu.Unlock()
	go func() {
		_ = conn.Serve(agentR)
		agentW.Close()
	}()
	return &fakeProcess{
		Reader: clientR,
		Writer: clientW,
		close: func() {
			a.closes.Add(1)
			clientW.Close()
			clientR.Close()
		},
	}, nil
}

func (a *fakeAgent) handle(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	a.mu.Lock()
	a.methods = append(a.methods, method)
	a.mu.Unlock()

	switch method {
	case MethodInitialize:
		return InitializeResponse{
			ProtocolVersion: ProtocolVersion,
			AgentCapabilities: AgentCapabilities{
				LoadSession:        a.loadSession,
				PromptCapabilities: PromptCapabilities{Image: a.images},
			},
		}, nil
	case MethodSessionNew:
		return NewSessionResponse{SessionID: fakeSessionID}, nil
	case MethodSessionLoad:
		a.update(map[string]interface{}{
			"sessionUpdate": UpdateAgentMessageChunk,
			"content":       map[string]interface{}{"type": "text", "text": "replayed history"},
		})
		return nil, nil
	case MethodSessionPrompt:
		var req PromptRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		a.mu.Lock()
		if len(req.Prompt) > 0 {
			a.prompts = append(a.prompts, req.Prompt[0].Text)
		}
		a.mu.Unlock()
		if a.onPrompt != nil {
			return a.onPrompt(ctx, a, req)
		}
		return map[string]interface{}{"stopReason": "end_turn"}, nil
	}
	return nil, &jsonrpc.ErrorObject{Code: jsonrpc.CodeMethodNotFound, Message: method}
}

func (a *fakeAgent) notify(method string, params json.RawMessage) {
	if method != MethodSessionCancel {
		return
	}
	var n CancelNotification
	_ = json.Unmarshal(params, &n)
	a.mu.Lock()
	a.cancels = append(a.cancels, n.SessionID)
	a.mu.Unlock()
}

// update sends a session/update notification to the client.
func (a *fakeAgent) update(u map[string]interface{}) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	_ = conn.Notify(MethodSessionUpdate, map[string]interface{}{"sessionId": fakeSessionID, "update": u})
}

// hangup closes the agent's stdout as if the process had exited.
func (a *fakeAgent) hangup() {
	a.mu.Lock()
	w := a.stdout
	a.mu.Unlock()
	w.Close()
}

func (a *fakeAgent) chunk(text string) {
	a.update(map[string]interface{}{
		"sessionUpdate": UpdateAgentMessageChunk,
		"content":       map[string]interface{}{"type": "text", "text": text},
	})
}

func (a *fakeAgent) calledMethods() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.methods...)
}

func (a *fakeAgent) sentPrompts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.prompts...)
}

// recorder collects emitted messages and errors.
type recorder struct {
	msgs []agentstream.Message
	errs []error
	mu   sync.Mutex
}

func (r *recorder) onMessage(m agentstream.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) messages() []agentstream.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]agentstream.Message(nil), r.msgs...)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) ofType(t agentstream.MessageType) []agentstream.Message {
	var out []agentstream.Message
	for _, m := range r.messages() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) waitResults(t *testing.T, n int) []agentstream.Message {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.ofType(agentstream.TypeResult)) >= n
	}, 5*time.Second, 5*time.Millisecond)
	return r.ofType(agentstream.TypeResult)
}

func startFake(t *testing.T, agent *fakeAgent, opts agentstream.Options, runnerOpts ...Option) (agentstream.Handle, *recorder) {
	t.Helper()
	rec := &recorder{}
	if opts.OnMessage == nil {
		opts.OnMessage = rec.onMessage
	}
	if opts.OnError == nil {
		opts.OnError = rec.onError
	}
	if opts.CWD == "" {
		opts.CWD = t.TempDir()
	}
	runner := NewRunner(append([]Option{WithStartFunc(agent.start)}, runnerOpts...)...)
	h, err := runner.Run(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(h.Abort)
	return h, rec
}
