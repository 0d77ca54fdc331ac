package session

import (
	"sync"
	"time"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
)

// Registry tracks live backend handles and pending permissions, both
// keyed by session id. Each Manager owns its own Registry.
type Registry struct {
	slots   map[string]*slot
	pending map[string]map[string]*pendingPermission
	mu      sync.Mutex
}

// slot reserves a session for one backend run. handle is nil until Run
// returns.
type slot struct {
	handle agentstream.Handle
}

type permissionOutcome struct {
	err    error
	result agentstream.PermissionResult
}

type pendingPermission struct {
	opened time.Time
	ch     chan permissionOutcome
	req    PermissionRequest
}

func newPendingPermission(req PermissionRequest) *pendingPermission {
	return &pendingPermission{req: req, opened: time.Now(), ch: make(chan permissionOutcome, 1)}
}

// resolve delivers the outcome. The channel is buffered and each pending
// permission is resolved by whoever removed it from the registry, so this
// never blocks.
func (p *pendingPermission) resolve(out permissionOutcome) {
	p.ch <- out
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		slots:   make(map[string]*slot),
		pending: make(map[string]map[string]*pendingPermission),
	}
}

// reserve claims the session for a new run. It fails if one is live.
func (r *Registry) reserve(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.slots[id]; ok {
		return false
	}
	r.slots[id] = &slot{}
	return true
}

// attach stores the handle in the reserved slot. It reports false when the
// slot was released in the meantime; the caller must then abort h.
func (r *Registry) attach(id string, h agentstream.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return false
	}
	s.handle = h
	return true
}

// release removes the slot. The returned handle is nil if the slot never
// had one; ok is false if there was no slot.
func (r *Registry) release(id string) (h agentstream.Handle, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, false
	}
	delete(r.slots, id)
	return s.handle, true
}

// Live reports whether the session has a backend run.
func (r *Registry) Live(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.slots[id]
	return ok
}

// LiveIDs returns every session with a backend run.
func (r *Registry) LiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.slots))
	for id := range r.slots {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) addPending(p *pendingPermission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.pending[p.req.SessionID]
	if !ok {
		m = make(map[string]*pendingPermission)
		r.pending[p.req.SessionID] = m
	}
	m[p.req.ToolUseID] = p
}

// takePending removes and returns one pending permission.
func (r *Registry) takePending(sessionID, toolUseID string) (*pendingPermission, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.pending[sessionID]
	if !ok {
		return nil, false
	}
	p, ok := m[toolUseID]
	if !ok {
		return nil, false
	}
	delete(m, toolUseID)
	if len(m) == 0 {
		delete(r.pending, sessionID)
	}
	return p, true
}

// drainPending removes every pending permission of the session.
func (r *Registry) drainPending(sessionID string) []*pendingPermission {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.pending[sessionID]
	delete(r.pending, sessionID)
	out := make([]*pendingPermission, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	return out
}

// Pending returns the open permission requests of a session.
func (r *Registry) Pending(sessionID string) []PermissionRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PermissionRequest, 0, len(r.pending[sessionID]))
	for _, p := range r.pending[sessionID] {
		out = append(out, p.req)
	}
	return out
}
