package claude

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
	"github.com/bazelment/agentdesk/agent-cli-wrapper/internal/procattr"
	"github.com/bazelment/agentdesk/agent-cli-wrapper/jsonrpc"
	"github.com/bazelment/agentdesk/agent-cli-wrapper/protocol"
	"github.com/bazelment/agentdesk/logging"
)

const maxLineSize = 16 * 1024 * 1024

// BuildCLIArgs returns the CLI arguments for a bidirectional stream-json
// conversation with permission checks routed over stdio.
func BuildCLIArgs(opts QueryOptions) []string {
	args := []string{
		"--print",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
		"--permission-prompt-tool", "stdio",
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", string(opts.PermissionMode))
	}
	if opts.ResumeID != "" {
		args = append(args, "--resume", opts.ResumeID)
	}
	return append(args, opts.ExtraArgs...)
}

// processQuery drives one CLI child process.
type processQuery struct {
	ctx      context.Context
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	enc      *jsonrpc.Encoder
	logger   *slog.Logger
	cancel   context.CancelFunc
	msgs     chan protocol.Message
	exited   chan struct{}
	waitErr  error
	opts     QueryOptions
	closed   atomic.Bool
	reqSeq   atomic.Int64
	stopOnce sync.Once
}

// StartProcess spawns the Claude CLI and starts pumping prompts into it.
func StartProcess(ctx context.Context, opts QueryOptions) (Query, error) {
	cliPath := opts.CLIPath
	if cliPath == "" {
		cliPath = "claude"
	}
	resolved, err := exec.LookPath(cliPath)
	if err != nil {
		return nil, &CLINotFoundError{Path: cliPath, Cause: err}
	}
	logger := logging.OrDiscard(opts.Logger)

	cmd := exec.Command(resolved, BuildCLIArgs(opts)...)
	cmd.Dir = opts.CWD
	cmd.Env = mergeEnv(os.Environ(), opts.Env)
	cmd.Stderr = logging.NewLineWriter(logger.With("stream", "stderr"))
	procattr.Set(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &ProcessError{Op: "stdin pipe", Cause: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ProcessError{Op: "stdout pipe", Cause: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &ProcessError{Op: "start", Cause: err}
	}
	logger.Debug("claude CLI started", "pid", cmd.Process.Pid, "resume", opts.ResumeID)

	qctx, cancel := context.WithCancel(ctx)
	q := &processQuery{
		ctx:    qctx,
		cancel: cancel,
		cmd:    cmd,
		stdin:  stdin,
		enc:    jsonrpc.NewEncoder(stdin),
		logger: logger,
		opts:   opts,
		msgs:   make(chan protocol.Message, 64),
		exited: make(chan struct{}),
	}

	if err := q.enc.Encode(protocol.ControlRequestToSend{
		Type:      "control_request",
		RequestID: q.nextRequestID(),
		Request:   map[string]string{"subtype": "initialize"},
	}); err != nil {
		q.Close()
		return nil, fmt.Errorf("send initialize: %w", err)
	}

	go q.readLoop(stdout)
	go q.writeLoop()
	return q, nil
}

func (q *processQuery) nextRequestID() string {
	return fmt.Sprintf("req_%d", q.reqSeq.Add(1))
}

// writeLoop forwards queued prompts to stdin in order.
func (q *processQuery) writeLoop() {
	if q.opts.Prompts == nil {
		return
	}
	for {
		p, err := q.opts.Prompts.Next(q.ctx)
		if err != nil {
			return
		}
		if err := q.enc.Encode(protocol.NewUserContentMessage(p.Text, p.Images)); err != nil {
			q.logger.Error("failed to encode prompt", "error", err)
		}
	}
}

func (q *processQuery) readLoop(stdout io.Reader) {
	defer func() {
		q.waitErr = q.cmd.Wait()
		close(q.exited)
		close(q.msgs)
	}()

	// The CLI does not always send tool_use_id with can_use_tool, so the
	// most recent tool_use id per tool name is tracked here, in stream order.
	lastToolUse := make(map[string]string)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := protocol.ParseMessage(line)
		if err != nil {
			q.logger.Warn("skipping malformed CLI line", "error", err, "line", string(line))
			continue
		}
		if msg == nil {
			continue
		}

		switch m := msg.(type) {
		case protocol.ControlRequest:
			q.dispatchControl(m, lastToolUse)
			continue
		case protocol.ControlResponseMessage:
			if m.Response.Subtype == "error" {
				q.logger.Warn("control request failed", "request_id", m.Response.RequestID, "error", m.Response.Error)
			}
			continue
		case protocol.AssistantMessage:
			for _, b := range m.Message.Content.Blocks() {
				if use, ok := b.(protocol.ToolUseBlock); ok {
					lastToolUse[use.Name] = use.ID
				}
			}
		}

		select {
		case q.msgs <- msg:
		case <-q.ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil && !q.closed.Load() {
		q.logger.Warn("CLI stdout read failed", "error", err)
	}
}

func (q *processQuery) dispatchControl(req protocol.ControlRequest, lastToolUse map[string]string) {
	tool, ok, err := req.CanUseTool()
	if err != nil || !ok {
		msg := fmt.Sprintf("unsupported control request %q", req.Subtype())
		if err != nil {
			msg = err.Error()
		}
		_ = q.enc.Encode(protocol.NewControlError(req.RequestID, msg))
		return
	}
	toolUseID := tool.ToolUseID
	if toolUseID == "" {
		toolUseID = lastToolUse[tool.ToolName]
	}
	if toolUseID == "" {
		toolUseID = agentstream.NewID()
	}

	// Permission answers can take as long as the user needs, so they must
	// not hold up the read loop.
	go func() {
		res := agentstream.Allow(tool.Input)
		if q.opts.CanUseTool != nil {
			var err error
			res, err = q.opts.CanUseTool(q.ctx, ToolRequest{
				Input:     tool.Input,
				ToolName:  tool.ToolName,
				ToolUseID: toolUseID,
			})
			if err != nil {
				res = agentstream.Deny(err.Error())
			}
		}
		if q.closed.Load() {
			return
		}

		var resp protocol.ControlResponse
		if res.Behavior == agentstream.PermissionAllow {
			input := res.UpdatedInput
			if input == nil {
				input = tool.Input
			}
			resp = protocol.NewPermissionAllow(req.RequestID, input)
		} else {
			resp = protocol.NewPermissionDeny(req.RequestID, res.Message, false)
		}
		if err := q.enc.Encode(resp); err != nil {
			q.logger.Error("failed to encode permission response", "error", err)
		}
	}()
}

func (q *processQuery) Next(ctx context.Context) (protocol.Message, error) {
	select {
	case msg, ok := <-q.msgs:
		if ok {
			return msg, nil
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if q.closed.Load() {
		return nil, ErrAborted
	}
	if q.waitErr != nil {
		return nil, exitError(q.waitErr)
	}
	return nil, io.EOF
}

func (q *processQuery) Interrupt(ctx context.Context) error {
	return q.enc.Encode(protocol.NewInterrupt(q.nextRequestID()))
}

func (q *processQuery) Close() error {
	q.stopOnce.Do(func() {
		q.closed.Store(true)
		q.cancel()
		q.enc.Close()
		if !procattr.Stop(q.cmd.Process, q.stdin, q.exited, procattr.DefaultStopTimeouts) {
			q.logger.Warn("claude CLI did not exit after kill", "pid", q.cmd.Process.Pid)
		}
	})
	return nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	env := make([]string, 0, len(base)+len(extra))
	env = append(env, base...)
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
