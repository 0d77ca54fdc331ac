// Package jsonrpc implements newline-delimited JSON-RPC 2.0 over a duplex
// byte stream, as spoken by ACP agents on their stdio.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"sync/atomic"
)

// Version is the only protocol version this package speaks.
const Version = "2.0"

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is an outgoing or inbound call that expects a response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      int64           `json:"id"`
}

// Notification is a call without an id; nobody answers it.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request. Exactly one of Result and Error is set.
type Response struct {
	Error   *ErrorObject    `json:"error,omitempty"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	ID      int64           `json:"id"`
}

// ErrorObject is the error member of a Response. A zero Code means the
// peer did not send one.
type ErrorObject struct {
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message"`
	Code    int             `json:"code,omitempty"`
}

// Kind is the shape of a decoded message.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindNotification
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "invalid"
	}
}

// Message is one decoded line, classified by shape. RawID holds the id as
// sent; ID is only meaningful when the id was an integer.
type Message struct {
	Error  *ErrorObject
	Method string
	Params json.RawMessage
	Result json.RawMessage
	RawID  json.RawMessage
	Raw    []byte
	ID     int64
	Kind   Kind
	// badID is set when the id is present but not an integer.
	badID  bool
}

// NumericID reports whether the message carried an integer id.
func (m *Message) NumericID() bool {
	return len(m.RawID) > 0 && !m.badID
}

// envelope is the union of every member a line may carry.
type envelope struct {
	ID     json.RawMessage `json:"id"`
	Error  *ErrorObject    `json:"error"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
}

// Classify parses one JSON line and decides what it is:
// method and id make a request, method alone a notification, id alone a
// response.
func Classify(line []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, &ProtocolError{Message: "invalid json", Line: string(line), Cause: err}
	}

	msg := &Message{
		Method: env.Method,
		Params: env.Params,
		Result: env.Result,
		Error:  env.Error,
		Raw:    line,
	}
	hasID := len(env.ID) > 0 && !bytes.Equal(env.ID, []byte("null"))
	if hasID {
		msg.RawID = env.ID
		if err := json.Unmarshal(env.ID, &msg.ID); err != nil {
			msg.badID = true
		}
	}

	switch {
	case env.Method != "" && hasID:
		msg.Kind = KindRequest
	case env.Method != "":
		msg.Kind = KindNotification
	case hasID:
		msg.Kind = KindResponse
	default:
		return nil, &ProtocolError{Message: "message has neither method nor id", Line: string(line)}
	}
	return msg, nil
}

// idGenerator hands out strictly increasing request ids starting at 1.
type idGenerator struct {
	next atomic.Int64
}

func (g *idGenerator) Next() int64 {
	return g.next.Add(1)
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}
