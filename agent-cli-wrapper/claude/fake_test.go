package claude

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/protocol"
)

// fakeQuery is a scripted backend. Tests push native messages into msgs
// and read the prompts the runner queued from opts.Prompts.
type fakeQuery struct {
	opts       QueryOptions
	msgs       chan protocol.Message
	closed     chan struct{}
	endErr     error
	interrupts atomic.Int32
	closeOnce  sync.Once
}

func newFakeQuery() *fakeQuery {
	return &fakeQuery{
		msgs:   make(chan protocol.Message, 32),
		closed: make(chan struct{}),
	}
}

// starter returns a QueryFunc handing out f and reporting the options it
// was started with.
func (f *fakeQuery) starter(started chan<- QueryOptions) QueryFunc {
	return func(ctx context.Context, opts QueryOptions) (Query, error) {
		f.opts = opts
		if started != nil {
			started <- opts
		}
		return f, nil
	}
}

func (f *fakeQuery) Next(ctx context.Context) (protocol.Message, error) {
	select {
	case m, ok := <-f.msgs:
		if !ok {
			if f.endErr != nil {
				return nil, f.endErr
			}
			return nil, io.EOF
		}
		return m, nil
	case <-f.closed:
		return nil, ErrAborted
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeQuery) Interrupt(context.Context) error {
	f.interrupts.Add(1)
	return nil
}

func (f *fakeQuery) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func mustParse(line string) protocol.Message {
	m, err := protocol.ParseMessage([]byte(line))
	if err != nil {
		panic(err)
	}
	return m
}
