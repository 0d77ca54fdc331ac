package agentstream

import (
	"context"
	"errors"
)

// ErrMissingCallback is returned by a Runner when Options lacks OnMessage.
var ErrMissingCallback = errors.New("agentstream: OnMessage callback is required")

// PermissionBehavior is the decision for a permission request.
type PermissionBehavior string

const (
	PermissionAllow PermissionBehavior = "allow"
	PermissionDeny  PermissionBehavior = "deny"
)

// PermissionRequest asks the user whether a tool may run.
type PermissionRequest struct {
	Input     map[string]interface{} `json:"input"`
	ToolUseID string                 `json:"tool_use_id"`
	ToolName  string                 `json:"tool_name"`
}

// PermissionResult answers a PermissionRequest. For AskUserQuestion,
// UpdatedInput carries the user's answers.
type PermissionResult struct {
	UpdatedInput map[string]interface{} `json:"updated_input,omitempty"`
	Behavior     PermissionBehavior     `json:"behavior"`
	Message      string                 `json:"message,omitempty"`
}

// Allow returns an allow result with optional updated input.
func Allow(updated map[string]interface{}) PermissionResult {
	return PermissionResult{Behavior: PermissionAllow, UpdatedInput: updated}
}

// Deny returns a deny result with a reason.
func Deny(message string) PermissionResult {
	return PermissionResult{Behavior: PermissionDeny, Message: message}
}

// PermissionFunc resolves a permission request. It may block until the
// user answers; ctx is cancelled when the run is aborted.
type PermissionFunc func(ctx context.Context, req PermissionRequest) (PermissionResult, error)

// Options configures one Runner.Run invocation.
type Options struct {
	OnMessage           func(Message)
	OnPermissionRequest PermissionFunc
	OnError             func(error)
	Env                 map[string]string
	Prompt              string
	CWD                 string
	// ResumeID continues an earlier conversation when non-empty.
	ResumeID    string
	Attachments []Attachment
}

// Validate checks the options a runner cannot work without.
func (o *Options) Validate() error {
	if o.OnMessage == nil {
		return ErrMissingCallback
	}
	return nil
}

// ReportError calls OnError when set.
func (o *Options) ReportError(err error) {
	if err != nil && o.OnError != nil {
		o.OnError(err)
	}
}

// Handle controls a running conversation.
type Handle interface {
	// Abort stops the conversation. It is idempotent; no message is
	// delivered after it returns.
	Abort()
	// Send queues a follow-up prompt. Prompts reach the backend in the
	// order Send was called.
	Send(text string, attachments ...Attachment)
}

// Runner starts conversations with one agent backend.
type Runner interface {
	// Run returns a Handle immediately; backend startup happens in the
	// background and failures are reported through Options.OnError.
	Run(ctx context.Context, opts Options) (Handle, error)
	// Name identifies the backend, e.g. "claude" or "acp".
	Name() string
}
