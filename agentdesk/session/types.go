// Package session runs agentdesk conversations. Manager owns the live
// backend handles and pending permission requests, persists every
// normalized message and publishes it to a Broadcaster.
package session

import (
	"errors"
	"time"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
	"github.com/bazelment/agentdesk/agentdesk/store"
)

// Session-state errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNoResumeID      = errors.New("session has no resume id")
	ErrAlreadyRunning  = errors.New("session is already running")
	ErrEmptyPrompt     = errors.New("prompt is required")
	// ErrAborted rejects permission requests of a stopped session.
	ErrAborted = errors.New("session stopped")
)

// EventType discriminates broadcast events.
type EventType string

const (
	EventMessage           EventType = "message"
	EventStatus            EventType = "status"
	EventPermissionRequest EventType = "permission_request"
	EventError             EventType = "error"
	EventDeleted           EventType = "deleted"
)

// Event is what the Broadcaster delivers to UI clients.
type Event struct {
	Message    *agentstream.Message `json:"message,omitempty"`
	Permission *PermissionRequest   `json:"permission,omitempty"`
	Type       EventType            `json:"type"`
	SessionID  string               `json:"session_id"`
	Status     store.Status         `json:"status,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// Broadcaster publishes events to UI clients. Publish must keep
// per-session order.
type Broadcaster interface {
	Publish(sessionID string, ev Event)
}

// BroadcasterFunc adapts a function to Broadcaster.
type BroadcasterFunc func(sessionID string, ev Event)

// Publish calls f.
func (f BroadcasterFunc) Publish(sessionID string, ev Event) { f(sessionID, ev) }

// PermissionRequest is surfaced to the UI when the agent asks a question.
type PermissionRequest struct {
	Input     map[string]interface{} `json:"input"`
	CreatedAt time.Time              `json:"created_at"`
	SessionID string                 `json:"session_id"`
	ToolUseID string                 `json:"tool_use_id"`
	ToolName  string                 `json:"tool_name"`
}

// PermissionAnswer is the UI's reply to a PermissionRequest.
type PermissionAnswer struct {
	SessionID string                       `json:"session_id"`
	ToolUseID string                       `json:"tool_use_id"`
	Result    agentstream.PermissionResult `json:"result"`
}

// StartRequest starts a new session.
type StartRequest struct {
	Prompt      string                   `json:"prompt"`
	CWD         string                   `json:"cwd"`
	Title       string                   `json:"title,omitempty"`
	Attachments []agentstream.Attachment `json:"attachments,omitempty"`
}
