package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bazelment/agentdesk/logging"
)

// RequestHandler answers an inbound request. The returned value is sent as
// the result; a returned *ErrorObject or error is sent as the error.
type RequestHandler func(ctx context.Context, method string, params json.RawMessage) (interface{}, error)

// NotificationHandler receives inbound notifications in arrival order.
type NotificationHandler func(method string, params json.RawMessage)

// CallObserver is told how long each outgoing call took.
type CallObserver func(method string, elapsed time.Duration, err error)

// Conn correlates requests and responses over one duplex stream.
type Conn struct {
	logger         *slog.Logger
	enc            *Encoder
	pending        map[int64]*pendingCall
	onRequest      RequestHandler
	onNotification NotificationHandler
	onParseError   func(line []byte, err error)
	observer       CallObserver
	done           chan struct{}
	closeErr       error
	idGen          idGenerator
	mu             sync.Mutex
	closed         bool
}

type pendingCall struct {
	ch     chan callResult
	method string
}

type callResult struct {
	err    error
	result json.RawMessage
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithRequestHandler sets the handler for inbound requests. Without one,
// inbound requests are answered with CodeMethodNotFound.
func WithRequestHandler(h RequestHandler) ConnOption {
	return func(c *Conn) { c.onRequest = h }
}

// WithNotificationHandler sets the handler for inbound notifications.
func WithNotificationHandler(h NotificationHandler) ConnOption {
	return func(c *Conn) { c.onNotification = h }
}

// WithParseErrorHandler is called with every line that could not be parsed.
func WithParseErrorHandler(h func(line []byte, err error)) ConnOption {
	return func(c *Conn) { c.onParseError = h }
}

// WithCallObserver sets a latency hook for outgoing calls.
func WithCallObserver(o CallObserver) ConnOption {
	return func(c *Conn) { c.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ConnOption {
	return func(c *Conn) { c.logger = l }
}

// NewConn returns a Conn that writes to w. Call Serve with the read side.
func NewConn(w io.Writer, opts ...ConnOption) *Conn {
	c := &Conn{
		enc:     NewEncoder(w),
		pending: make(map[int64]*pendingCall),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDiscard(c.logger)
	return c
}

// Serve reads messages from r until it ends, then closes the Conn, which
// rejects every pending call. It returns the read error, or nil at EOF.
func (c *Conn) Serve(r io.Reader) error {
	dec := NewDecoder(c.handleMessage, c.handleParseError)
	_, err := dec.ReadFrom(r)
	if err != nil {
		c.Close(err)
		return err
	}
	c.Close(io.EOF)
	return nil
}

func (c *Conn) handleParseError(line []byte, err error) {
	c.logger.Warn("skipping malformed line", "line", string(line), "error", err)
	if c.onParseError != nil {
		c.onParseError(line, err)
	}
}

func (c *Conn) handleMessage(msg *Message) {
	switch msg.Kind {
	case KindResponse:
		c.handleResponse(msg)
	case KindNotification:
		if c.onNotification != nil {
			c.onNotification(msg.Method, msg.Params)
		}
	case KindRequest:
		// Requests may block on the handler; keep the read loop moving.
		go c.handleRequest(msg)
	}
}

func (c *Conn) handleResponse(msg *Message) {
	c.mu.Lock()
	call, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("ignoring response for unknown id", "id", msg.ID)
		return
	}

	res := callResult{result: msg.Result}
	if msg.Error != nil {
		res.err = newRPCError(call.method, msg.Error)
	}
	call.ch <- res
}

func (c *Conn) handleRequest(msg *Message) {
	if !msg.NumericID() {
		c.logger.Warn("rejecting request with non-integer id", "id", string(msg.RawID), "method", msg.Method)
		_ = c.enc.Encode(rawIDResponse{
			JSONRPC: Version,
			ID:      msg.RawID,
			Error:   &ErrorObject{Code: CodeInvalidRequest, Message: "request id must be an integer"},
		})
		return
	}
	if c.onRequest == nil {
		_ = c.RespondError(msg.ID, CodeMethodNotFound, "unknown method: "+msg.Method, nil)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	result, err := c.onRequest(ctx, msg.Method, msg.Params)
	if err != nil {
		var obj *ErrorObject
		if errors.As(err, &obj) {
			_ = c.RespondError(msg.ID, obj.Code, obj.Message, obj.Data)
			return
		}
		_ = c.RespondError(msg.ID, CodeInternalError, err.Error(), nil)
		return
	}
	_ = c.Respond(msg.ID, result)
}

// Call sends a request and waits for its response, decoding the result
// into result when it is non-nil.
func (c *Conn) Call(ctx context.Context, method string, params, result interface{}) error {
	raw, err := c.Request(ctx, method, params)
	if err != nil {
		return err
	}
	if result == nil || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return &ProtocolError{Message: "failed to decode " + method + " result", Line: string(raw), Cause: err}
	}
	return nil
}

// Request sends a request and returns the raw result.
func (c *Conn) Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	start := time.Now()
	raw, err := c.request(ctx, method, params)
	if c.observer != nil {
		c.observer(method, time.Since(start), err)
	}
	return raw, err
}

func (c *Conn) request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	p, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}

	call := &pendingCall{method: method, ch: make(chan callResult, 1)}

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, err
	}
	id := c.idGen.Next()
	c.pending[id] = call
	c.mu.Unlock()

	if err := c.enc.Encode(Request{JSONRPC: Version, ID: id, Method: method, Params: p}); err != nil {
		c.forget(id)
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	select {
	case res := <-call.ch:
		return res.result, res.err
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Conn) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Notify sends a notification. Nothing is tracked.
func (c *Conn) Notify(method string, params interface{}) error {
	p, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}
	return c.enc.Encode(Notification{JSONRPC: Version, Method: method, Params: p})
}

// Respond answers an inbound request with a result.
func (c *Conn) Respond(id int64, result interface{}) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return c.RespondError(id, CodeInternalError, err.Error(), nil)
	}
	return c.enc.Encode(Response{JSONRPC: Version, ID: id, Result: raw})
}

// RespondError answers an inbound request with an error.
func (c *Conn) RespondError(id int64, code int, message string, data json.RawMessage) error {
	return c.enc.Encode(Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: message, Data: data},
	})
}

// rawIDResponse echoes an id this package cannot represent as int64.
type rawIDResponse struct {
	Error   *ErrorObject    `json:"error"`
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
}

// Pending returns the number of calls awaiting a response.
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close ends the connection. Every pending call is rejected with one error
// wrapping ErrConnClosed and cause. Close is idempotent.
func (c *Conn) Close(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if cause == nil || errors.Is(cause, io.EOF) {
		c.closeErr = ErrConnClosed
	} else {
		c.closeErr = fmt.Errorf("%w: %v", ErrConnClosed, cause)
	}
	pending := c.pending
	c.pending = make(map[int64]*pendingCall)
	terminal := c.closeErr
	c.mu.Unlock()

	c.enc.Close()
	close(c.done)

	for _, call := range pending {
		call.ch <- callResult{err: terminal}
	}
}

// Done is closed once the Conn is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error after Done is closed.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Error implements error so handlers can return an ErrorObject directly.
func (e *ErrorObject) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
