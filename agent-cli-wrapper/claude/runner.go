// Package claude runs conversations against the Claude CLI in
// stream-json mode and normalizes its output into agentstream messages.
package claude

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
	"github.com/bazelment/agentdesk/agent-cli-wrapper/protocol"
	"github.com/bazelment/agentdesk/logging"
)

const interruptTimeout = 2 * time.Second

// Runner starts Claude conversations.
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
	return &Runner{config: config, logger: logging.OrDiscard(config.Logger)}
}

// Name returns "claude".
func (r *Runner) Name() string { return BackendName }

// Run starts a conversation and returns immediately. The CLI is spawned in
// the background; prompts sent before it is ready wait in the queue.
func (r *Runner) Run(ctx context.Context, opts agentstream.Options) (agentstream.Handle, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &handle{
		runner:  r,
		opts:    opts,
		logger:  r.logger.With("backend", BackendName, "resume", opts.ResumeID),
		cancel:  cancel,
		queue:   NewPromptQueue(),
		emitter: agentstream.NewEmitter(opts.OnMessage),
		done:    make(chan struct{}),
	}
	h.chain = agentstream.NewChain(ctx, h.reportError)
	context.AfterFunc(ctx, h.Abort)

	h.Send(opts.Prompt, opts.Attachments...)
	go h.run(ctx)
	return h, nil
}

type handle struct {
	query   Query
	runner  *Runner
	logger  *slog.Logger
	cancel  context.CancelFunc
	queue   *PromptQueue
	emitter *agentstream.Emitter
	chain   *agentstream.Chain
	done    chan struct{}
	opts    agentstream.Options
	// open counts queued prompts whose result has not arrived yet.
	open    atomic.Int64
	mu      sync.Mutex
}

// Send queues a follow-up prompt. Image attachments are read inside the
// serial chain, so slow reads cannot reorder prompts.
func (h *handle) Send(text string, attachments ...agentstream.Attachment) {
	h.chain.Submit(func(ctx context.Context) error {
		prompt, err := h.buildPrompt(text, attachments)
		if err != nil {
			return err
		}
		h.open.Add(1)
		if !h.queue.Push(prompt) {
			h.open.Add(-1)
			return ErrQueueClosed
		}
		return nil
	})
}

func (h *handle) buildPrompt(text string, attachments []agentstream.Attachment) (Prompt, error) {
	p := Prompt{Text: agentstream.PromptWithManifest(text, h.opts.CWD, attachments)}
	for _, a := range attachments {
		a = a.Resolve(h.opts.CWD)
		if !a.IsImage() {
			continue
		}
		data, err := a.ReadBase64()
		if err != nil {
			return Prompt{}, err
		}
		p.Images = append(p.Images, protocol.ImageSource{Type: "base64", MediaType: a.MediaType(), Data: data})
	}
	return p, nil
}

// Abort stops the conversation. Safe to call repeatedly.
func (h *handle) Abort() {
	if !h.emitter.Abort() {
		return
	}
	h.logger.Debug("aborting claude query")
	h.queue.Close()
	h.chain.Close()

	h.mu.Lock()
	q := h.query
	h.mu.Unlock()
	if q != nil {
		ctx, cancel := context.WithTimeout(context.Background(), interruptTimeout)
		_ = q.Interrupt(ctx)
		cancel()
	}
	h.cancel()
}

// Done is closed when the backend has shut down.
func (h *handle) Done() <-chan struct{} {
	return h.done
}

func (h *handle) run(ctx context.Context) {
	defer close(h.done)

	q, err := h.runner.config.QueryFunc(ctx, QueryOptions{
		Prompts:        h.queue,
		CanUseTool:     h.canUseTool,
		Env:            h.opts.Env,
		Logger:         h.logger,
		CLIPath:        h.runner.config.CLIPath,
		Model:          h.runner.config.Model,
		CWD:            h.opts.CWD,
		ResumeID:       h.opts.ResumeID,
		PermissionMode: h.runner.config.PermissionMode,
		ExtraArgs:      h.runner.config.ExtraArgs,
	})
	if err != nil {
		h.reportError(err)
		return
	}
	h.mu.Lock()
	h.query = q
	h.mu.Unlock()
	defer q.Close()

	for {
		msg, err := q.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if h.open.Load() > 0 {
					h.reportError(&ProcessError{Op: "exit", Cause: ErrProcessExited})
				}
				return
			}
			h.reportError(err)
			return
		}
		out, ok := Normalize(msg)
		if !ok {
			continue
		}
		if out.Type == agentstream.TypeResult && h.open.Load() > 0 {
			h.open.Add(-1)
		}
		h.emitter.Emit(out)
	}
}

// canUseTool surfaces AskUserQuestion to the user and approves the rest.
func (h *handle) canUseTool(ctx context.Context, req ToolRequest) (agentstream.PermissionResult, error) {
	if req.ToolName != AskUserQuestionTool {
		return agentstream.Allow(req.Input), nil
	}
	if h.opts.OnPermissionRequest == nil {
		return agentstream.Deny("no one is available to answer"), nil
	}
	return h.opts.OnPermissionRequest(ctx, agentstream.PermissionRequest{
		Input:     req.Input,
		ToolUseID: req.ToolUseID,
		ToolName:  req.ToolName,
	})
}

// reportError surfaces err unless it is the expected fallout of Abort.
func (h *handle) reportError(err error) {
	if h.emitter.Aborted() || IsCancellation(err) {
		h.logger.Debug("suppressed error after abort", "error", err)
		return
	}
	h.logger.Warn("claude query failed", "error", err)
	h.opts.ReportError(err)
}
