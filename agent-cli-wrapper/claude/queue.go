package claude

import (
	"context"
	"sync"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/protocol"
)

// Prompt is one user turn waiting to be written to the backend.
type Prompt struct {
	Text   string
	Images []protocol.ImageSource
}

// PromptQueue is an unbounded hand-off between Send and the backend.
// Push never blocks; Next blocks until a prompt is available or the queue
// is closed.
type PromptQueue struct {
	signal chan struct{}
	items  []Prompt
	mu     sync.Mutex
	closed bool
}

// NewPromptQueue returns an empty queue.
func NewPromptQueue() *PromptQueue {
	return &PromptQueue{signal: make(chan struct{})}
}

// Push appends p. It returns false if the queue is closed.
func (q *PromptQueue) Push(p Prompt) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, p)
	q.wakeLocked()
	return true
}

// Close wakes every waiting consumer with ErrQueueClosed. Buffered prompts
// are discarded.
func (q *PromptQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	q.wakeLocked()
}

// Len returns the number of buffered prompts.
func (q *PromptQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Next returns the oldest prompt.
func (q *PromptQueue) Next(ctx context.Context) (Prompt, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Prompt{}, ErrQueueClosed
		}
		if len(q.items) > 0 {
			p := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return p, nil
		}
		wait := q.signal
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Prompt{}, ctx.Err()
		case <-wait:
		}
	}
}

func (q *PromptQueue) wakeLocked() {
	close(q.signal)
	q.signal = make(chan struct{})
}
