package acp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/jsonrpc"
)

// Sentinel errors for common error conditions.
var (
	// ErrNoSession is returned when the agent did not return a session id.
	ErrNoSession = errors.New("agent returned no session id")
	// ErrAgentExited is the transport error when the agent's stdout closes.
	ErrAgentExited = errors.New("agent process exited")
	// ErrAborted closes the connection when the handle is aborted.
	ErrAborted = errors.New("acp: aborted")
)

// ProcessError represents an error with the agent subprocess.
type ProcessError struct {
	Cause   error
	Message string
}

func (e *ProcessError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// TurnError wraps a failed session/prompt.
type TurnError struct {
	Cause     error
	SessionID string
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed (session=%s): %v", e.SessionID, e.Cause)
}

func (e *TurnError) Unwrap() error {
	return e.Cause
}

// isRecoverablePromptError reports whether a session/prompt failure can
// count as a successful turn. Gemini CLI answers 500 "Model stream ended
// with empty response text." after tools already ran; when the turn shows
// streamed activity the work is done and the error is noise.
func isRecoverablePromptError(err error, activity bool) bool {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return activity && rpcErr.Code == 500 && strings.Contains(rpcErr.Message, "empty response text")
}
