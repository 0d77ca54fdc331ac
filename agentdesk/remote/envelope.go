package remote

import (
	"errors"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
	"github.com/bazelment/agentdesk/agentdesk/session"
	"github.com/bazelment/agentdesk/agentdesk/store"
)

// CommandType names a client command.
type CommandType string

const (
	CommandStart              CommandType = "start"
	CommandContinue           CommandType = "continue"
	CommandStop               CommandType = "stop"
	CommandDelete             CommandType = "delete"
	CommandPermissionResponse CommandType = "permission_response"
	CommandSubscribe          CommandType = "subscribe"
)

// Command is a client-to-server websocket frame. ID is echoed in the reply.
type Command struct {
	Result      *agentstream.PermissionResult `json:"result,omitempty"`
	Type        CommandType                   `json:"type"`
	ID          string                        `json:"id,omitempty"`
	SessionID   string                        `json:"session_id,omitempty"`
	Prompt      string                        `json:"prompt,omitempty"`
	CWD         string                        `json:"cwd,omitempty"`
	Title       string                        `json:"title,omitempty"`
	ToolUseID   string                        `json:"tool_use_id,omitempty"`
	Attachments []agentstream.Attachment      `json:"attachments,omitempty"`
	// SessionIDs limits the event stream for CommandSubscribe. Empty means all.
	SessionIDs []string `json:"session_ids,omitempty"`
}

// EnvelopeType discriminates server-to-client frames.
type EnvelopeType string

const (
	EnvelopeAck   EnvelopeType = "ack"
	EnvelopeError EnvelopeType = "error"
	EnvelopeEvent EnvelopeType = "event"
)

// Error codes carried by EnvelopeError.
const (
	CodeInvalid        = "invalid"
	CodeNotFound       = "not_found"
	CodeNoResumeID     = "no_resume_id"
	CodeAlreadyRunning = "already_running"
	CodeInternal       = "internal"
)

// Envelope is a server-to-client websocket frame.
type Envelope struct {
	Session   *store.Session `json:"session,omitempty"`
	Event     *session.Event `json:"event,omitempty"`
	Type      EnvelopeType   `json:"type"`
	ID        string         `json:"id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Code      string         `json:"code,omitempty"`
	Error     string         `json:"error,omitempty"`
	// Accepted is false when a permission response matched nothing.
	Accepted *bool `json:"accepted,omitempty"`
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return CodeNotFound
	case errors.Is(err, session.ErrNoResumeID):
		return CodeNoResumeID
	case errors.Is(err, session.ErrAlreadyRunning):
		return CodeAlreadyRunning
	case errors.Is(err, session.ErrEmptyPrompt), errors.Is(err, errInvalidCommand):
		return CodeInvalid
	default:
		return CodeInternal
	}
}
