package claude

import (
	"context"
	"log/slog"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
	"github.com/bazelment/agentdesk/agent-cli-wrapper/protocol"
)

// ToolRequest is a can_use_tool check raised by the CLI.
type ToolRequest struct {
	Input     map[string]interface{}
	ToolName  string
	ToolUseID string
}

// CanUseToolFunc decides whether a tool call may proceed.
type CanUseToolFunc func(ctx context.Context, req ToolRequest) (agentstream.PermissionResult, error)

// QueryOptions is everything a backend conversation needs.
type QueryOptions struct {
	Prompts        *PromptQueue
	CanUseTool     CanUseToolFunc
	Env            map[string]string
	Logger         *slog.Logger
	CLIPath        string
	Model          string
	CWD            string
	ResumeID       string
	PermissionMode PermissionMode
	ExtraArgs      []string
}

// Query is a pull-based sequence of native CLI messages. It consumes
// prompts from QueryOptions.Prompts for as long as it runs. It cannot be
// restarted once Next has returned an error.
type Query interface {
	// Next blocks for the next message. It returns io.EOF when the
	// backend finished and ErrAborted after Close.
	Next(ctx context.Context) (protocol.Message, error)
	// Interrupt asks the backend to stop its current turn.
	Interrupt(ctx context.Context) error
	// Close terminates the backend. It is safe to call more than once.
	Close() error
}

// QueryFunc starts a Query.
type QueryFunc func(ctx context.Context, opts QueryOptions) (Query, error)
