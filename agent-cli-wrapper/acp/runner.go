package acp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
	"github.com/bazelment/agentdesk/agent-cli-wrapper/jsonrpc"
	"github.com/bazelment/agentdesk/logging"
)

// BackendName identifies this adapter in system_init messages.
const BackendName = "acp"

// Stream indexes for partial blocks. Text and thinking stream
// independently.
const (
	textIndex     = 0
	thinkingIndex = 1
)

// Runner starts conversations with an ACP agent.
type Runner struct {
	logger *slog.Logger
	config Config
}

var _ agentstream.Runner = (*Runner)(nil)

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Policy == nil {
		config.Policy = AutoAllow
	}
	if config.Start == nil {
		config.Start = StartProcess
	}
	return &Runner{config: config, logger: logging.OrDiscard(config.Logger)}
}

// Name returns "acp".
func (r *Runner) Name() string { return BackendName }

// Run starts a conversation and returns immediately. The agent is spawned
// and the session opened by the first job on the serial chain, so prompts
// sent meanwhile queue behind it.
func (r *Runner) Run(ctx context.Context, opts agentstream.Options) (agentstream.Handle, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	cwd := opts.CWD
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("acp: resolve working directory: %w", err)
		}
		cwd = wd
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &handle{
		config:  r.config,
		opts:    opts,
		cwd:     cwd,
		logger:  r.logger.With("backend", BackendName, "resume", opts.ResumeID),
		cancel:  cancel,
		emitter: agentstream.NewEmitter(opts.OnMessage),
		done:    make(chan struct{}),
	}
	h.fs = r.config.Fs
	if h.fs == nil {
		h.fs = LocalFs{Root: cwd}
	}
	h.chain = agentstream.NewChain(ctx, h.reportError)
	context.AfterFunc(ctx, h.Abort)

	h.Send(opts.Prompt, opts.Attachments...)
	return h, nil
}

type handle struct {
	fs      FsHandler
	logger  *slog.Logger
	cancel  context.CancelFunc
	emitter *agentstream.Emitter
	chain   *agentstream.Chain
	done    chan struct{}

	// connMu guards the transport. It is never held while emitting, so
	// callbacks may call Abort.
	connMu    sync.Mutex
	proc      Process
	conn      *jsonrpc.Conn
	sessionID string
	images    bool

	// mu guards the current turn and serializes update handling.
	mu   sync.Mutex
	turn *turn

	replaying    atomic.Bool
	shutdownOnce sync.Once

	opts   agentstream.Options
	config Config
	cwd    string
}

// Send queues a follow-up prompt on the serial chain.
func (h *handle) Send(text string, attachments ...agentstream.Attachment) {
	h.chain.Submit(func(ctx context.Context) error {
		return h.prompt(ctx, text, attachments)
	})
}

// Abort cancels the in-flight prompt and terminates the agent. Only the
// first call has an effect; nothing is emitted afterwards.
func (h *handle) Abort() {
	if !h.emitter.Abort() {
		return
	}
	h.logger.Debug("aborting acp session")
	h.chain.Close()

	h.connMu.Lock()
	conn, sessionID := h.conn, h.sessionID
	h.connMu.Unlock()
	if conn != nil && sessionID != "" {
		if err := conn.Notify(MethodSessionCancel, CancelNotification{SessionID: sessionID}); err != nil {
			h.logger.Debug("session/cancel failed", "error", err)
		}
	}
	h.cancel()
	h.shutdown()
}

// Done is closed once the agent process has been released.
func (h *handle) Done() <-chan struct{} {
	return h.done
}

func (h *handle) shutdown() {
	h.shutdownOnce.Do(func() {
		h.connMu.Lock()
		conn, proc := h.conn, h.proc
		h.connMu.Unlock()
		if conn != nil {
			conn.Close(ErrAborted)
		}
		go func() {
			defer close(h.done)
			if proc != nil {
				if err := proc.Close(); err != nil {
					h.logger.Debug("agent close failed", "error", err)
				}
			}
		}()
	})
}

func (h *handle) reportError(err error) {
	if h.emitter.Aborted() || errors.Is(err, context.Canceled) || errors.Is(err, ErrAborted) {
		return
	}
	h.logger.Warn("acp session error", "error", err)
	h.opts.ReportError(err)
}

// connect spawns the agent, initializes the connection and opens the
// session. It runs on the chain, so at most once at a time.
func (h *handle) connect(ctx context.Context) error {
	h.connMu.Lock()
	ready := h.sessionID != ""
	h.connMu.Unlock()
	if ready {
		return nil
	}

	proc, err := h.config.Start(ctx, ProcessOptions{
		Command: h.config.Command,
		Args:    h.config.Args,
		CWD:     h.cwd,
		Env:     mergeEnv(h.config.Env, h.opts.Env),
		Logger:  h.logger,
	})
	if err != nil {
		return err
	}
	conn := jsonrpc.NewConn(proc,
		jsonrpc.WithLogger(h.logger),
		jsonrpc.WithNotificationHandler(h.handleNotification),
		jsonrpc.WithRequestHandler(h.handleRequest),
		jsonrpc.WithCallObserver(h.config.Observer),
	)
	h.connMu.Lock()
	h.proc, h.conn = proc, conn
	h.connMu.Unlock()
	if h.emitter.Aborted() {
		conn.Close(ErrAborted)
		_ = proc.Close()
		return ErrAborted
	}
	go h.serve(conn, proc)

	if err := h.handshake(ctx, conn); err != nil {
		h.connMu.Lock()
		h.proc, h.conn = nil, nil
		h.connMu.Unlock()
		conn.Close(err)
		_ = proc.Close()
		return err
	}
	return nil
}

// handshake initializes the connection and opens the session.
func (h *handle) handshake(ctx context.Context, conn *jsonrpc.Conn) error {
	var init InitializeResponse
	req := InitializeRequest{
		ProtocolVersion:    ProtocolVersion,
		ClientCapabilities: ClientCapabilities{Fs: FsCapability{ReadTextFile: true, WriteTextFile: true}},
		ClientInfo:         &Implementation{Name: h.config.ClientName, Version: h.config.ClientVersion},
	}
	if err := conn.Call(ctx, MethodInitialize, req, &init); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	caps := init.AgentCapabilities
	sessionID, err := h.openSession(ctx, conn, caps.LoadSession)
	if err != nil {
		return err
	}
	h.connMu.Lock()
	h.sessionID = sessionID
	h.images = caps.PromptCapabilities.Image
	h.connMu.Unlock()
	h.logger.Info("acp session ready", "session", sessionID, "images", caps.PromptCapabilities.Image)

	h.emitter.Emit(agentstream.NewSystemInit(agentstream.SystemInit{
		ResumeID: sessionID,
		Backend:  BackendName,
		CWD:      h.cwd,
	}))
	return nil
}

// openSession loads the resumed session when the agent supports it and
// otherwise starts a new one. History replayed during load is not emitted.
func (h *handle) openSession(ctx context.Context, conn *jsonrpc.Conn, canLoad bool) (string, error) {
	if resume := h.opts.ResumeID; resume != "" {
		if canLoad {
			h.replaying.Store(true)
			err := conn.Call(ctx, MethodSessionLoad, LoadSessionRequest{
				SessionID:  resume,
				CWD:        h.cwd,
				McpServers: []interface{}{},
			}, nil)
			h.replaying.Store(false)
			if err == nil {
				return resume, nil
			}
			if ctx.Err() != nil {
				return "", err
			}
			h.logger.Warn("session/load failed, starting a new session", "session", resume, "error", err)
		} else {
			h.logger.Info("agent cannot load sessions, starting a new one", "session", resume)
		}
	}
	var resp NewSessionResponse
	if err := conn.Call(ctx, MethodSessionNew, NewSessionRequest{CWD: h.cwd, McpServers: []interface{}{}}, &resp); err != nil {
		return "", fmt.Errorf("session/new: %w", err)
	}
	if resp.SessionID == "" {
		return "", ErrNoSession
	}
	return resp.SessionID, nil
}

// serve reads the agent's stdout until it closes. A turn still waiting
// for its completion signal fails with ErrAgentExited; a turn whose
// session/prompt is outstanding fails through the rejected call instead.
func (h *handle) serve(conn *jsonrpc.Conn, proc Process) {
	err := conn.Serve(proc)
	if h.emitter.Aborted() {
		return
	}
	h.logger.Debug("acp transport closed", "error", err)

	h.mu.Lock()
	t := h.turn
	pending := t != nil && t.state == turnPendingFinalization
	if pending {
		t.errText = ErrAgentExited.Error()
		h.finalizeLocked(t, agentstream.ResultError)
	}
	h.mu.Unlock()
	if pending {
		h.reportError(&ProcessError{Message: "agent exited before the turn completed", Cause: ErrAgentExited})
	}
}

func (h *handle) prompt(ctx context.Context, text string, attachments []agentstream.Attachment) error {
	if err := h.connect(ctx); err != nil {
		if h.emitter.Aborted() {
			return nil
		}
		return fmt.Errorf("acp: start session: %w", err)
	}
	h.connMu.Lock()
	conn, sessionID, images := h.conn, h.sessionID, h.images
	h.connMu.Unlock()

	blocks, err := BuildPrompt(text, h.cwd, attachments, images)
	if err != nil {
		return err
	}

	t := newTurn()
	h.mu.Lock()
	if prev := h.turn; prev != nil && prev.state == turnPendingFinalization {
		h.finalizeLocked(prev, agentstream.ResultSuccess)
	}
	h.turn = t
	h.mu.Unlock()

	var resp json.RawMessage
	err = conn.Call(ctx, MethodSessionPrompt, PromptRequest{SessionID: sessionID, Prompt: blocks}, &resp)
	if err != nil {
		if h.emitter.Aborted() || ctx.Err() != nil {
			return nil
		}
		h.mu.Lock()
		activity := t.activity
		h.mu.Unlock()
		if isRecoverablePromptError(err, activity) {
			h.logger.Info("treating prompt error as success after activity", "error", err)
			h.finalize(t, agentstream.ResultSuccess)
			return nil
		}
		h.mu.Lock()
		t.errText = err.Error()
		h.finalizeLocked(t, agentstream.ResultError)
		h.mu.Unlock()
		return &TurnError{SessionID: sessionID, Cause: err}
	}

	if o, ok := parseSignals(resp).decide(); ok {
		h.finalize(t, o)
		return nil
	}
	h.mu.Lock()
	if t.state == turnActive {
		t.state = turnPendingFinalization
		h.logger.Debug("prompt returned without a completion signal", "session", sessionID)
	}
	h.mu.Unlock()
	return nil
}

func (h *handle) finalize(t *turn, o outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finalizeLocked(t, o)
}

// finalizeLocked closes the stream, emits the consolidated text and, unless
// cancelled, the result. It runs at most once per turn.
func (h *handle) finalizeLocked(t *turn, o outcome) {
	if t == nil || t.state == turnFinalized || h.emitter.Aborted() {
		return
	}
	t.state = turnFinalized
	if t.streaming {
		t.streaming = false
		h.emitter.Emit(agentstream.BlockStop(textIndex))
	}
	text := t.text.String()
	if text != "" {
		h.emitter.Emit(agentstream.NewAssistant(agentstream.TextBlock(text)))
	}
	if o == agentstream.ResultCancelled {
		return
	}
	res := agentstream.Result{Subtype: o, Text: text}
	if o == agentstream.ResultError {
		res.Text = t.errText
	}
	h.emitter.Emit(agentstream.NewResult(res))
}

func (h *handle) handleNotification(method string, params json.RawMessage) {
	if method != MethodSessionUpdate {
		h.logger.Debug("ignoring notification", "method", method)
		return
	}
	var n SessionNotification
	if err := json.Unmarshal(params, &n); err != nil {
		h.logger.Warn("malformed session/update", "error", err)
		return
	}
	h.handleUpdate(n.Update)
}

func (h *handle) handleUpdate(u SessionUpdate) {
	if h.replaying.Load() || h.emitter.Aborted() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.turn
	if t == nil || t.state == turnFinalized {
		h.logger.Debug("update outside a turn", "update", u.Type)
		return
	}

	switch u.Type {
	case UpdateAgentMessageChunk:
		block, ok := u.ChunkContent()
		if !ok {
			return
		}
		if block.Type == "thinking" || block.Thinking != "" {
			h.emitThinking(t, firstNonEmpty(block.Thinking, block.Text))
			return
		}
		h.emitText(t, block.Text)
	case UpdateAgentThoughtChunk:
		if block, ok := u.ChunkContent(); ok {
			h.emitThinking(t, firstNonEmpty(block.Thinking, block.Text))
		}
	case UpdateToolCall:
		t.activity = true
		h.emitToolUse(t, u)
		if u.Status != "" && !isRunningStatus(u.Status) {
			h.emitToolResult(t, u)
		}
	case UpdateToolCallUpdate:
		if isRunningStatus(u.Status) {
			return
		}
		t.activity = true
		h.emitToolResult(t, u)
	case UpdateSessionInfo:
		if o, ok := parseSignals(u.Raw).decide(); ok {
			h.finalizeLocked(t, o)
		} else if t.state == turnPendingFinalization {
			h.finalizeLocked(t, agentstream.ResultSuccess)
		}
	default:
		h.logger.Debug("ignoring session update", "update", u.Type)
	}
}

func (h *handle) emitText(t *turn, text string) {
	if text == "" {
		return
	}
	t.activity = true
	if !t.streaming {
		t.streaming = true
		h.emitter.Emit(agentstream.BlockStart(textIndex, agentstream.TextBlock("")))
	}
	t.text.WriteString(text)
	h.emitter.Emit(agentstream.TextDelta(textIndex, text))
}

func (h *handle) emitThinking(t *turn, text string) {
	if text == "" {
		return
	}
	t.activity = true
	h.emitter.Emit(agentstream.ThinkingDelta(thinkingIndex, text))
}

func (h *handle) emitToolUse(t *turn, u SessionUpdate) string {
	id := agentstream.IDOrNew(u.ToolCallID)
	if t.toolUses[id] {
		return id
	}
	t.toolUses[id] = true
	name, input := Classify(u.Kind, u.Title, u.InputMap())
	h.emitter.Emit(agentstream.NewAssistant(agentstream.ToolUseBlock(id, name, input)))
	return id
}

// emitToolResult emits the tool's result once. A tool_use is synthesized
// first when the agent never announced the call.
func (h *handle) emitToolResult(t *turn, u SessionUpdate) {
	if u.ToolCallID == "" {
		h.logger.Debug("tool update without id", "status", u.Status)
		return
	}
	id := u.ToolCallID
	if t.toolResults[id] {
		return
	}
	if !t.toolUses[id] {
		h.emitToolUse(t, u)
	}
	t.toolResults[id] = true
	h.emitter.Emit(agentstream.NewUser(agentstream.ToolResultBlock(id, toolOutput(u), isErrorStatus(u.Status))))
}

func toolOutput(u SessionUpdate) string {
	for _, raw := range []json.RawMessage{u.RawOutput, u.Output} {
		if len(raw) > 0 && string(raw) != "null" {
			return FormatOutput(decodeOutput(raw))
		}
	}
	return formatToolContent(u.ToolContent())
}

// handleRequest answers agent-initiated requests. It runs on its own
// goroutine per request.
func (h *handle) handleRequest(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	switch {
	case isPermissionMethod(method):
		var req RequestPermissionRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, invalidParams(err)
		}
		if h.emitter.Aborted() {
			return RequestPermissionResponse{Outcome: PermissionOutcome{Outcome: OutcomeCancelled}}, nil
		}
		out := h.config.Policy.Decide(req)
		h.logger.Info("permission decided", "outcome", out.Outcome, "option", out.OptionID)
		return RequestPermissionResponse{Outcome: out}, nil
	case method == MethodFsReadTextFile:
		var req ReadTextFileRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, invalidParams(err)
		}
		return h.fs.ReadTextFile(ctx, req)
	case method == MethodFsWriteTextFile:
		var req WriteTextFileRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, invalidParams(err)
		}
		if err := h.fs.WriteTextFile(ctx, req); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	}
	h.logger.Debug("unsupported agent request", "method", method)
	return nil, &jsonrpc.ErrorObject{Code: jsonrpc.CodeMethodNotFound, Message: "method not found: " + method}
}

func invalidParams(err error) error {
	return &jsonrpc.ErrorObject{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
}

func mergeEnv(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
