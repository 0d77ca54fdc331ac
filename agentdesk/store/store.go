// Package store persists agentdesk sessions and their message logs.
//
// Two Gateway implementations exist: SQLiteStore (the default) and
// JSONStore, which keeps one JSON file per session.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
)

// ErrNotFound is returned for operations on an unknown session.
var ErrNotFound = errors.New("store: session not found")

// Status is a session's lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Session is a persisted conversation.
type Session struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CWD       string    `json:"cwd"`
	// Prompt is the most recent prompt text.
	Prompt string `json:"prompt"`
	// ResumeID is the backend's resume handle, empty until the first
	// system_init arrives.
	ResumeID string `json:"resume_id,omitempty"`
	Status   Status `json:"status"`
}

// Gateway is the persistence contract the session manager depends on.
// AppendMessage is idempotent on message id; History returns messages in
// append order; ListSessions orders by UpdatedAt, newest first.
type Gateway interface {
	CreateSession(ctx context.Context, title, cwd, prompt string) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]*Session, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	UpdateResumeID(ctx context.Context, id, resumeID string) error
	UpdatePrompt(ctx context.Context, id, prompt string) error
	AppendMessage(ctx context.Context, id string, msg agentstream.Message) error
	History(ctx context.Context, id string) ([]agentstream.Message, error)
	// DeleteSession removes the session and its messages. Deleting an
	// unknown id is not an error.
	DeleteSession(ctx context.Context, id string) error
	Close() error
}

// Drivers accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverJSON   = "json"
)

// DefaultDir returns ~/.agentdesk.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".agentdesk"), nil
}

// Open returns the Gateway for driver. An empty path uses
// ~/.agentdesk/agentdesk.db for sqlite and ~/.agentdesk/sessions for json.
func Open(driver, path string) (Gateway, error) {
	if path == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		switch driver {
		case DriverJSON:
			path = filepath.Join(dir, "sessions")
		default:
			path = filepath.Join(dir, "agentdesk.db")
		}
	}
	switch driver {
	case "", DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		return OpenSQLite(path)
	case DriverJSON:
		return NewJSONStore(path)
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}

func newSession(title, cwd, prompt string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        agentstream.NewID(),
		Title:     title,
		CWD:       cwd,
		Prompt:    prompt,
		Status:    StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
