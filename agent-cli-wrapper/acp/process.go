package acp

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/internal/procattr"
	"github.com/bazelment/agentdesk/logging"
)

// Process is a running agent. Reads come from its stdout and writes go to
// its stdin.
type Process interface {
	io.Reader
	io.Writer
	// Close terminates the agent and its process group.
	Close() error
}

// ProcessOptions describes the agent to spawn.
type ProcessOptions struct {
	Env     map[string]string
	Logger  *slog.Logger
	Command string
	CWD     string
	Args    []string
}

// StartFunc spawns an agent.
type StartFunc func(ctx context.Context, opts ProcessOptions) (Process, error)

type agentProcess struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *os.File
	exited    chan struct{}
	logger    *slog.Logger
	closeOnce sync.Once
}

// StartProcess spawns the agent in its own process group. Stderr is
// logged line by line at debug level and never parsed.
func StartProcess(ctx context.Context, opts ProcessOptions) (Process, error) {
	logger := logging.OrDiscard(opts.Logger)
	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Dir = opts.CWD
	if len(opts.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range opts.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	cmd.Stderr = logging.NewLineWriter(logger.With("stream", "stderr"))
	procattr.Set(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &ProcessError{Message: "failed to create stdin pipe", Cause: err}
	}
	// A plain os.Pipe instead of StdoutPipe: Wait must not close our end
	// while the connection is still draining buffered output.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, &ProcessError{Message: "failed to create stdout pipe", Cause: err}
	}
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, &ProcessError{Message: "failed to start agent " + opts.Command, Cause: err}
	}
	stdoutW.Close()
	logger.Debug("acp agent started", "command", opts.Command, "pid", cmd.Process.Pid)

	p := &agentProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdoutR,
		exited: make(chan struct{}),
		logger: logger,
	}
	go func() {
		err := cmd.Wait()
		logger.Debug("acp agent exited", "error", err)
		close(p.exited)
	}()
	return p, nil
}

func (p *agentProcess) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

func (p *agentProcess) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

func (p *agentProcess) Close() error {
	p.closeOnce.Do(func() {
		if !procattr.Stop(p.cmd.Process, p.stdin, p.exited, procattr.DefaultStopTimeouts) {
			p.logger.Warn("acp agent did not exit after kill", "pid", p.cmd.Process.Pid)
		}
		p.stdout.Close()
	})
	return nil
}
