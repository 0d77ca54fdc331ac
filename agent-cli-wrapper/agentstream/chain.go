package agentstream

import (
	"context"
	"sync"
	"sync/atomic"
)

// Job is one unit of serial work, typically delivering a prompt.
type Job func(ctx context.Context) error

// Chain runs jobs one at a time in submission order. Submission never
// blocks; a failed job is reported and the chain moves on.
type Chain struct {
	ctx     context.Context
	cancel  context.CancelFunc
	onError func(error)
	wake    chan struct{}
	done    chan struct{}
	jobs    []Job
	mu      sync.Mutex
	closed  bool
}

// NewChain starts a chain whose jobs run under ctx.
func NewChain(ctx context.Context, onError func(error)) *Chain {
	ctx, cancel := context.WithCancel(ctx)
	c := &Chain{
		ctx:     ctx,
		cancel:  cancel,
		onError: onError,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go c.loop()
	return c
}

// Submit appends job to the chain. It returns false once the chain is closed.
func (c *Chain) Submit(job Job) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.jobs = append(c.jobs, job)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// Close cancels the running job and drops queued ones.
func (c *Chain) Close() {
	c.mu.Lock()
	c.closed = true
	c.jobs = nil
	c.mu.Unlock()
	c.cancel()
}

// Done is closed when the chain's worker exits.
func (c *Chain) Done() <-chan struct{} {
	return c.done
}

func (c *Chain) next() (Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.jobs) == 0 {
		return nil, false
	}
	job := c.jobs[0]
	c.jobs[0] = nil
	c.jobs = c.jobs[1:]
	return job, true
}

func (c *Chain) loop() {
	defer close(c.done)
	for {
		for {
			job, ok := c.next()
			if !ok {
				break
			}
			if err := job(c.ctx); err != nil && c.ctx.Err() == nil && c.onError != nil {
				c.onError(err)
			}
		}
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}
	}
}

// Emitter delivers messages to a callback until aborted. Deliveries are
// serialized so concurrent producers cannot interleave a message.
type Emitter struct {
	fn      func(Message)
	mu      sync.Mutex
	aborted atomic.Bool
}

// NewEmitter wraps fn.
func NewEmitter(fn func(Message)) *Emitter {
	return &Emitter{fn: fn}
}

// Emit delivers m unless the emitter was aborted. It reports whether m
// was delivered.
func (e *Emitter) Emit(m Message) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.aborted.Load() {
		return false
	}
	e.fn(m)
	return true
}

// Abort stops further deliveries and waits for an in-flight delivery to
// return. It returns true only on the first call. Calling it from inside
// the callback deadlocks.
func (e *Emitter) Abort() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aborted.CompareAndSwap(false, true)
}

// Aborted reports whether Abort was called.
func (e *Emitter) Aborted() bool {
	return e.aborted.Load()
}
