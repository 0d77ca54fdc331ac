// Package remote exposes agentdesk sessions to UI clients over a
// websocket, plus a small read-only REST API backed by the store.
package remote

import (
	"log/slog"
	"sync"

	"github.com/bazelment/agentdesk/agentdesk/metrics"
	"github.com/bazelment/agentdesk/agentdesk/session"
	"github.com/bazelment/agentdesk/logging"
)

// Broadcaster fans session events out to subscribers. Each subscriber has
// its own buffered channel. A subscriber that falls behind is disconnected
// (its channel is closed) rather than silently losing events, so every
// subscriber sees a gap-free, ordered stream until it is dropped.
type Broadcaster struct {
	subscribers map[int]*subscriber
	metrics     *metrics.Metrics
	logger      *slog.Logger
	mu          sync.RWMutex
	nextID      int
}

type subscriber struct {
	ch chan session.Event
	// sessions filters delivery; nil means every session.
	sessions map[string]bool
}

func (s *subscriber) wants(sessionID string) bool {
	return s.sessions == nil || s.sessions[sessionID]
}

// NewBroadcaster creates a broadcaster. m and logger may be nil.
func NewBroadcaster(m *metrics.Metrics, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[int]*subscriber),
		metrics:     m,
		logger:      logging.OrDiscard(logger),
	}
}

// Subscribe creates a new subscriber channel with the given buffer size.
// Returns the subscriber ID (for Unsubscribe) and the read-only channel.
func (b *Broadcaster) Subscribe(bufSize int) (int, <-chan session.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan session.Event, bufSize)
	b.subscribers[id] = &subscriber{ch: ch}
	return id, ch
}

// Filter restricts a subscriber to the given sessions. An empty list
// restores delivery of every session.
func (b *Broadcaster) Filter(id int, sessionIDs []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[id]
	if !ok {
		return
	}
	if len(sessionIDs) == 0 {
		sub.sessions = nil
		return
	}
	sub.sessions = make(map[string]bool, len(sessionIDs))
	for _, sid := range sessionIDs {
		sub.sessions[sid] = true
	}
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(id)
}

func (b *Broadcaster) removeLocked(id int) bool {
	sub, ok := b.subscribers[id]
	if !ok {
		return false
	}
	delete(b.subscribers, id)
	close(sub.ch)
	return true
}

// Publish delivers ev to every interested subscriber. It never blocks.
func (b *Broadcaster) Publish(sessionID string, ev session.Event) {
	var slow []int

	b.mu.RLock()
	for id, sub := range b.subscribers {
		if !sub.wants(sessionID) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			slow = append(slow, id)
		}
	}
	b.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range slow {
		if b.removeLocked(id) {
			b.metrics.SubscriberDropped()
			b.logger.Warn("dropping slow subscriber", "subscriber", id, "session", sessionID)
		}
	}
}

// Len returns the number of subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id := range b.subscribers {
		b.removeLocked(id)
	}
}
