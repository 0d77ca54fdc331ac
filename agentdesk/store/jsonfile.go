package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
)

// JSONStore is a Gateway that keeps each session, messages included, in
// <dir>/<session-id>.json.
type JSONStore struct {
	baseDir string
	mu      sync.RWMutex
}

var _ Gateway = (*JSONStore)(nil)

// storedSession is the on-disk layout.
type storedSession struct {
	Session
	Messages []agentstream.Message `json:"messages,omitempty"`
}

// NewJSONStore creates the store directory if needed.
func NewJSONStore(baseDir string) (*JSONStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &JSONStore{baseDir: baseDir}, nil
}

// Close is a no-op.
func (s *JSONStore) Close() error { return nil }

func (s *JSONStore) sessionPath(id string) string {
	return filepath.Join(s.baseDir, sanitizeName(id)+".json")
}

// sanitizeName keeps ids from escaping the store directory.
func sanitizeName(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_", "..", "_")
	return r.Replace(name)
}

func (s *JSONStore) load(id string) (*storedSession, error) {
	data, err := os.ReadFile(s.sessionPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var stored storedSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &stored, nil
}

func (s *JSONStore) save(stored *storedSession) error {
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// Write atomically using temp file + rename
	path := s.sessionPath(stored.ID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename session file: %w", err)
	}
	return nil
}

// mutate loads, edits and saves one session under the write lock.
func (s *JSONStore) mutate(id string, fn func(*storedSession)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.load(id)
	if err != nil {
		return err
	}
	fn(stored)
	stored.UpdatedAt = time.Now().UTC()
	return s.save(stored)
}

// CreateSession writes a new idle session.
func (s *JSONStore) CreateSession(_ context.Context, title, cwd, prompt string) (*Session, error) {
	sess := newSession(title, cwd, prompt)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(&storedSession{Session: *sess}); err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSession returns the session or ErrNotFound.
func (s *JSONStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, err := s.load(id)
	if err != nil {
		return nil, err
	}
	sess := stored.Session
	return &sess, nil
}

// ListSessions returns every session, most recently updated first.
// Unreadable files are skipped.
func (s *JSONStore) ListSessions(_ context.Context) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}
	sessions := []*Session{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		stored, err := s.load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		sess := stored.Session
		sessions = append(sessions, &sess)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// UpdateStatus sets the session's status.
func (s *JSONStore) UpdateStatus(_ context.Context, id string, status Status) error {
	return s.mutate(id, func(st *storedSession) { st.Status = status })
}

// UpdateResumeID records the backend resume handle.
func (s *JSONStore) UpdateResumeID(_ context.Context, id, resumeID string) error {
	return s.mutate(id, func(st *storedSession) { st.ResumeID = resumeID })
}

// UpdatePrompt records the latest prompt text.
func (s *JSONStore) UpdatePrompt(_ context.Context, id, prompt string) error {
	return s.mutate(id, func(st *storedSession) { st.Prompt = prompt })
}

// AppendMessage adds msg unless its id is already logged.
func (s *JSONStore) AppendMessage(_ context.Context, id string, msg agentstream.Message) error {
	if msg.ID == "" {
		msg.ID = agentstream.NewID()
	}
	return s.mutate(id, func(st *storedSession) {
		for _, m := range st.Messages {
			if m.ID == msg.ID {
				return
			}
		}
		st.Messages = append(st.Messages, msg)
	})
}

// History returns the session's messages in append order.
func (s *JSONStore) History(_ context.Context, id string) ([]agentstream.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, err := s.load(id)
	if err != nil {
		if err == ErrNotFound {
			return []agentstream.Message{}, nil
		}
		return nil, err
	}
	if stored.Messages == nil {
		return []agentstream.Message{}, nil
	}
	return stored.Messages, nil
}

// DeleteSession removes the session file.
func (s *JSONStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.sessionPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
