package jsonrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// peer is the far end of a Conn: it sees what the Conn writes and can
// write lines back.
type peer struct {
	t       *testing.T
	in      *bufio.Scanner
	out     *io.PipeWriter
	conn    *Conn
	serveCh chan error
}

func newPeer(t *testing.T, opts ...ConnOption) *peer {
	t.Helper()
	toPeerR, toPeerW := io.Pipe()
	toConnR, toConnW := io.Pipe()

	p := &peer{
		t:       t,
		in:      bufio.NewScanner(toPeerR),
		out:     toConnW,
		conn:    NewConn(toPeerW, opts...),
		serveCh: make(chan error, 1),
	}
	go func() { p.serveCh <- p.conn.Serve(toConnR) }()
	t.Cleanup(func() {
		_ = toConnW.Close()
		_ = toPeerR.Close()
	})
	return p
}

func (p *peer) readRequest() Request {
	p.t.Helper()
	require.True(p.t, p.in.Scan(), "expected a line from conn")
	var req Request
	require.NoError(p.t, json.Unmarshal(p.in.Bytes(), &req))
	return req
}

func (p *peer) send(line string) {
	p.t.Helper()
	_, err := p.out.Write([]byte(line + "\n"))
	require.NoError(p.t, err)
}

func TestConn_CallRoundTrip(t *testing.T) {
	p := newPeer(t)

	type result struct {
		SessionID string `json:"sessionId"`
	}
	done := make(chan struct{})
	var got result
	var callErr error
	go func() {
		callErr = p.conn.Call(context.Background(), "session/new", map[string]string{"cwd": "/tmp"}, &got)
		close(done)
	}()

	req := p.readRequest()
	assert.Equal(t, int64(1), req.ID)
	assert.Equal(t, "session/new", req.Method)
	assert.JSONEq(t, `{"cwd":"/tmp"}`, string(req.Params))

	p.send(`{"jsonrpc":"2.0","id":1,"result":{"sessionId":"s-1"}}`)
	<-done
	require.NoError(t, callErr)
	assert.Equal(t, "s-1", got.SessionID)
	assert.Zero(t, p.conn.Pending())
}

func TestConn_ResolvesOnlyMatchingWaiter(t *testing.T) {
	p := newPeer(t)

	results := make(map[string]json.RawMessage)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, method := range []string{"first", "second"} {
		wg.Add(1)
		go func(method string) {
			defer wg.Done()
			raw, err := p.conn.Request(context.Background(), method, nil)
			assert.NoError(t, err)
			mu.Lock()
			results[method] = raw
			mu.Unlock()
		}(method)
		// Serialize sends so ids are assigned in a known order.
		req := p.readRequest()
		assert.Equal(t, method, req.Method)
	}

	// Unknown id is ignored, then answer out of order.
	p.send(`{"jsonrpc":"2.0","id":99,"result":"stray"}`)
	p.send(`{"jsonrpc":"2.0","id":2,"result":"for-second"}`)
	p.send(`{"jsonrpc":"2.0","id":1,"result":"for-first"}`)
	wg.Wait()

	assert.JSONEq(t, `"for-first"`, string(results["first"]))
	assert.JSONEq(t, `"for-second"`, string(results["second"]))
}

func TestConn_ErrorResponseIsDescriptive(t *testing.T) {
	p := newPeer(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.conn.Request(context.Background(), "session/prompt", nil)
		errCh <- err
	}()
	req := p.readRequest()
	p.send(`{"jsonrpc":"2.0","id":` + jsonInt(req.ID) + `,"error":{"code":500,"message":"model overloaded","data":{"retry":true}}}`)

	err := <-errCh
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, "session/prompt", rpcErr.Method)
	assert.Equal(t, 500, rpcErr.Code)
	assert.Equal(t, `session/prompt failed: model overloaded (code 500) data: {"retry":true}`, err.Error())
}

func TestConn_CloseRejectsAllPending(t *testing.T) {
	p := newPeer(t)

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := p.conn.Request(context.Background(), "slow", nil)
			errs <- err
		}()
		p.readRequest()
	}
	require.Eventually(t, func() bool { return p.conn.Pending() == 3 }, time.Second, 5*time.Millisecond)

	// The agent exits: its stdout hits EOF.
	require.NoError(t, p.out.Close())

	for i := 0; i < 3; i++ {
		err := <-errs
		assert.ErrorIs(t, err, ErrConnClosed)
	}
	assert.Zero(t, p.conn.Pending())
	assert.NoError(t, <-p.serveCh)

	_, err := p.conn.Request(context.Background(), "after-close", nil)
	assert.ErrorIs(t, err, ErrConnClosed)
}

func TestConn_ContextCancelForgetsCall(t *testing.T) {
	p := newPeer(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.conn.Request(ctx, "slow", nil)
		errCh <- err
	}()
	req := p.readRequest()
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Zero(t, p.conn.Pending())

	// A late response for the forgotten id is ignored.
	p.send(`{"jsonrpc":"2.0","id":` + jsonInt(req.ID) + `,"result":{}}`)
}

func TestConn_InboundRequestAndNotification(t *testing.T) {
	notified := make(chan string, 1)
	p := newPeer(t,
		WithRequestHandler(func(_ context.Context, method string, params json.RawMessage) (interface{}, error) {
			if method == "fs/read_text_file" {
				return map[string]string{"content": "hi"}, nil
			}
			return nil, &ErrorObject{Code: CodeMethodNotFound, Message: "unknown method: " + method}
		}),
		WithNotificationHandler(func(method string, _ json.RawMessage) { notified <- method }),
	)

	p.send(`{"jsonrpc":"2.0","method":"session/update","params":{}}`)
	assert.Equal(t, "session/update", <-notified)

	p.send(`{"jsonrpc":"2.0","id":7,"method":"fs/read_text_file","params":{"path":"a"}}`)
	require.True(t, p.in.Scan())
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"result":{"content":"hi"}}`, p.in.Text())

	p.send(`{"jsonrpc":"2.0","id":8,"method":"terminal/create","params":{}}`)
	require.True(t, p.in.Scan())
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":8,"error":{"code":-32601,"message":"unknown method: terminal/create"}}`, p.in.Text())
}

func TestConn_StringIDRequestIsRejected(t *testing.T) {
	handled := make(chan string, 1)
	p := newPeer(t, WithRequestHandler(func(_ context.Context, method string, _ json.RawMessage) (interface{}, error) {
		handled <- method
		return map[string]string{}, nil
	}))

	p.send(`{"jsonrpc":"2.0","id":"req-1","method":"fs/read_text_file","params":{"path":"a"}}`)
	require.True(t, p.in.Scan())
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"req-1","error":{"code":-32600,"message":"request id must be an integer"}}`, p.in.Text())

	p.send(`{"jsonrpc":"2.0","id":9,"method":"fs/read_text_file","params":{"path":"a"}}`)
	require.True(t, p.in.Scan())
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":9,"result":{}}`, p.in.Text())
	assert.Equal(t, "fs/read_text_file", <-handled)
	assert.Empty(t, handled)
}

func TestConn_ParseErrorCallbackAndContinue(t *testing.T) {
	badLines := make(chan string, 1)
	notified := make(chan string, 1)
	p := newPeer(t,
		WithParseErrorHandler(func(line []byte, _ error) { badLines <- string(line) }),
		WithNotificationHandler(func(method string, _ json.RawMessage) { notified <- method }),
	)

	p.send(`{not json`)
	p.send(`{"jsonrpc":"2.0","method":"session/update"}`)

	assert.Equal(t, "{not json", <-badLines)
	assert.Equal(t, "session/update", <-notified)
}

func TestConn_CallObserver(t *testing.T) {
	var observed []string
	var mu sync.Mutex
	p := newPeer(t, WithCallObserver(func(method string, _ time.Duration, _ error) {
		mu.Lock()
		observed = append(observed, method)
		mu.Unlock()
	}))

	go func() {
		req := p.readRequest()
		p.send(`{"jsonrpc":"2.0","id":` + jsonInt(req.ID) + `,"result":null}`)
	}()
	require.NoError(t, p.conn.Call(context.Background(), "initialize", nil, nil))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"initialize"}, observed)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
