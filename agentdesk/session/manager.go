package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
	"github.com/bazelment/agentdesk/agentdesk/metrics"
	"github.com/bazelment/agentdesk/agentdesk/store"
	"github.com/bazelment/agentdesk/logging"
)

const titleMaxLen = 60

// ManagerConfig holds configuration for the session manager.
type ManagerConfig struct {
	Store       store.Gateway
	Runner      agentstream.Runner
	Broadcaster Broadcaster
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	// Env is merged into every backend process environment.
	Env map[string]string
	// PermissionTimeout denies unanswered permission requests. Zero waits
	// forever.
	PermissionTimeout time.Duration
}

// Manager runs sessions against one backend runner.
//
// Callbacks from a handle are serialized by the runner, so per-session
// message order is the order in which they are persisted and published.
type Manager struct {
	store       store.Gateway
	runner      agentstream.Runner
	broadcaster Broadcaster
	metrics     *metrics.Metrics
	logger      *slog.Logger
	registry    *Registry
	ctx         context.Context
	cancel      context.CancelFunc
	env         map[string]string
	permTimeout atomic.Int64
}

// NewManager creates a session manager.
func NewManager(config ManagerConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	b := config.Broadcaster
	if b == nil {
		b = BroadcasterFunc(func(string, Event) {})
	}
	m := &Manager{
		store:       config.Store,
		runner:      config.Runner,
		broadcaster: b,
		metrics:     config.Metrics,
		logger:      logging.OrDiscard(config.Logger),
		registry:    NewRegistry(),
		ctx:         ctx,
		cancel:      cancel,
		env:         config.Env,
	}
	m.SetPermissionTimeout(config.PermissionTimeout)
	return m
}

// SetPermissionTimeout changes the timeout for permission requests opened
// from now on.
func (m *Manager) SetPermissionTimeout(d time.Duration) {
	m.permTimeout.Store(int64(d))
}

// Registry exposes live handles and pending permissions.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Start creates a session and runs its first turn.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*store.Session, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	title := req.Title
	if title == "" {
		title = generateTitle(req.Prompt, titleMaxLen)
	}
	sess, err := m.store.CreateSession(ctx, title, req.CWD, req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.logger.Info("session created", "session", sess.ID, "title", title, "cwd", req.CWD)

	if err := m.beginTurn(ctx, sess, req.Prompt, req.Attachments, "start"); err != nil {
		return nil, err
	}
	sess.Status = store.StatusRunning
	return sess, nil
}

// Continue runs a new turn on an existing session, resuming the backend
// conversation recorded by its last system_init.
func (m *Manager) Continue(ctx context.Context, id, prompt string, attachments []agentstream.Attachment) error {
	if strings.TrimSpace(prompt) == "" {
		return ErrEmptyPrompt
	}
	sess, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.ResumeID == "" {
		return ErrNoResumeID
	}
	if m.registry.Live(id) {
		return ErrAlreadyRunning
	}
	if err := m.store.UpdatePrompt(ctx, id, prompt); err != nil {
		return fmt.Errorf("update prompt: %w", err)
	}
	return m.beginTurn(ctx, sess, prompt, attachments, "continue")
}

func (m *Manager) beginTurn(ctx context.Context, sess *store.Session, prompt string, attachments []agentstream.Attachment, kind string) error {
	if !m.registry.reserve(sess.ID) {
		return ErrAlreadyRunning
	}
	m.metrics.SessionStarted(m.runner.Name(), kind)

	m.setStatus(ctx, sess.ID, store.StatusRunning)
	m.record(sess.ID, agentstream.NewUserPrompt(prompt, attachments))

	id := sess.ID
	opts := agentstream.Options{
		OnMessage: func(msg agentstream.Message) { m.onMessage(id, msg) },
		OnPermissionRequest: func(ctx context.Context, req agentstream.PermissionRequest) (agentstream.PermissionResult, error) {
			return m.requestPermission(ctx, id, req)
		},
		OnError:     func(err error) { m.onError(id, err) },
		Env:         m.env,
		Prompt:      prompt,
		CWD:         sess.CWD,
		ResumeID:    sess.ResumeID,
		Attachments: attachments,
	}
	h, err := m.runner.Run(m.ctx, opts)
	if err != nil {
		m.release(id)
		m.setStatus(context.Background(), id, store.StatusError)
		return fmt.Errorf("start %s backend: %w", m.runner.Name(), err)
	}
	if !m.registry.attach(id, h) {
		// The turn finished before Run returned.
		h.Abort()
	}
	m.logger.Info("turn started", "session", id, "backend", m.runner.Name(), "kind", kind)
	return nil
}

// onMessage persists and publishes one message from a backend.
func (m *Manager) onMessage(id string, msg agentstream.Message) {
	ctx := context.Background()
	if msg.Type == agentstream.TypeSystemInit && msg.Init != nil && msg.Init.ResumeID != "" {
		if err := m.store.UpdateResumeID(ctx, id, msg.Init.ResumeID); err != nil {
			m.logger.Warn("failed to save resume id", "session", id, "error", err)
		}
	}
	if msg.Type == agentstream.TypeStreamEvent {
		m.broadcaster.Publish(id, Event{Type: EventMessage, SessionID: id, Message: &msg})
	} else {
		m.record(id, msg)
	}
	m.metrics.MessageEmitted(string(msg.Type))

	if msg.Type != agentstream.TypeResult || msg.Result == nil {
		return
	}
	status := store.StatusCompleted
	switch msg.Result.Subtype {
	case agentstream.ResultError:
		status = store.StatusError
	case agentstream.ResultCancelled:
		status = store.StatusIdle
	}
	m.metrics.TurnFinished(string(msg.Result.Subtype))
	m.setStatus(ctx, id, status)
	m.logger.Info("turn finished", "session", id, "outcome", msg.Result.Subtype, "turns", msg.Result.NumTurns)
	// Abort outside the callback; it may wait on the backend.
	if h := m.release(id); h != nil {
		go h.Abort()
	}
}

// onError surfaces a backend failure. The handle is released because
// every runner error ends the conversation.
func (m *Manager) onError(id string, err error) {
	m.metrics.BackendError()
	m.logger.Warn("backend error", "session", id, "error", err)
	m.broadcaster.Publish(id, Event{Type: EventError, SessionID: id, Error: err.Error()})
	m.setStatus(context.Background(), id, store.StatusError)
	if h := m.release(id); h != nil {
		go h.Abort()
	}
	m.rejectPending(id, err)
}

// requestPermission parks the request until RespondPermission, Stop, the
// timeout or ctx resolves it.
func (m *Manager) requestPermission(ctx context.Context, id string, req agentstream.PermissionRequest) (agentstream.PermissionResult, error) {
	p := newPendingPermission(PermissionRequest{
		Input:     req.Input,
		CreatedAt: time.Now().UTC(),
		SessionID: id,
		ToolUseID: req.ToolUseID,
		ToolName:  req.ToolName,
	})
	m.registry.addPending(p)
	m.metrics.PermissionOpened()
	m.broadcaster.Publish(id, Event{Type: EventPermissionRequest, SessionID: id, Permission: &p.req})

	var timeout <-chan time.Time
	if d := time.Duration(m.permTimeout.Load()); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case out := <-p.ch:
		return out.result, out.err
	case <-timeout:
		if m.take(id, req.ToolUseID) != nil {
			m.logger.Info("permission request timed out", "session", id, "tool", req.ToolName)
			return agentstream.Deny("permission request timed out"), nil
		}
	case <-ctx.Done():
		if m.take(id, req.ToolUseID) != nil {
			return agentstream.Deny("session stopped"), ctx.Err()
		}
	}
	// Someone else took it first and is about to resolve it.
	out := <-p.ch
	return out.result, out.err
}

func (m *Manager) take(sessionID, toolUseID string) *pendingPermission {
	p, ok := m.registry.takePending(sessionID, toolUseID)
	if !ok {
		return nil
	}
	m.metrics.PermissionClosed(time.Since(p.opened))
	return p
}

// RespondPermission resolves a pending permission request. It reports
// false when no such request is pending; late or duplicate answers are
// ignored.
func (m *Manager) RespondPermission(ans PermissionAnswer) bool {
	p := m.take(ans.SessionID, ans.ToolUseID)
	if p == nil {
		m.logger.Debug("ignoring permission answer", "session", ans.SessionID, "tool_use_id", ans.ToolUseID)
		return false
	}
	p.resolve(permissionOutcome{result: ans.Result})
	return true
}

func (m *Manager) rejectPending(id string, err error) {
	for _, p := range m.registry.drainPending(id) {
		m.metrics.PermissionClosed(time.Since(p.opened))
		p.resolve(permissionOutcome{result: agentstream.Deny(err.Error()), err: err})
	}
}

// Stop aborts the session's live turn, if any, and marks it idle. Stopping
// an idle or unknown session is a no-op.
func (m *Manager) Stop(ctx context.Context, id string) error {
	h := m.release(id)
	m.rejectPending(id, ErrAborted)
	if h != nil {
		h.Abort()
		m.logger.Info("session stopped", "session", id)
	}
	if _, err := m.store.GetSession(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	m.setStatus(ctx, id, store.StatusIdle)
	return nil
}

// Delete stops the session and removes it with its history. Deleting an
// unknown session is a no-op.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.Stop(ctx, id); err != nil {
		return err
	}
	if err := m.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	m.broadcaster.Publish(id, Event{Type: EventDeleted, SessionID: id})
	m.logger.Info("session deleted", "session", id)
	return nil
}

// Get returns one session.
func (m *Manager) Get(ctx context.Context, id string) (*store.Session, error) {
	sess, err := m.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, err
}

// List returns every session, most recently updated first.
func (m *Manager) List(ctx context.Context) ([]*store.Session, error) {
	return m.store.ListSessions(ctx)
}

// History returns the persisted messages of a session.
func (m *Manager) History(ctx context.Context, id string) ([]agentstream.Message, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return nil, err
	}
	return m.store.History(ctx, id)
}

// Close aborts every live turn and marks those sessions idle.
func (m *Manager) Close() error {
	var result *multierror.Error
	for _, id := range m.registry.LiveIDs() {
		if err := m.Stop(context.Background(), id); err != nil {
			result = multierror.Append(result, fmt.Errorf("stop %s: %w", id, err))
		}
	}
	m.cancel()
	return result.ErrorOrNil()
}

func (m *Manager) release(id string) agentstream.Handle {
	h, ok := m.registry.release(id)
	if ok {
		m.metrics.SessionReleased()
	}
	return h
}

// record persists msg and publishes it.
func (m *Manager) record(id string, msg agentstream.Message) {
	if err := m.store.AppendMessage(context.Background(), id, msg); err != nil {
		m.logger.Warn("failed to persist message", "session", id, "type", msg.Type, "error", err)
	}
	m.broadcaster.Publish(id, Event{Type: EventMessage, SessionID: id, Message: &msg})
}

func (m *Manager) setStatus(ctx context.Context, id string, status store.Status) {
	if err := m.store.UpdateStatus(ctx, id, status); err != nil {
		m.logger.Warn("failed to update status", "session", id, "status", status, "error", err)
		return
	}
	m.broadcaster.Publish(id, Event{Type: EventStatus, SessionID: id, Status: status})
}

// generateTitle creates a short title from the first words of a prompt.
func generateTitle(prompt string, maxLen int) string {
	words := strings.Fields(prompt)
	var b strings.Builder
	for _, w := range words {
		if b.Len()+len(w)+1 > maxLen {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	if b.Len() == 0 && prompt != "" {
		if len(prompt) > maxLen-3 {
			return prompt[:maxLen-3] + "..."
		}
		return prompt
	}
	return b.String()
}
