package jsonrpc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConnClosed is wrapped by every error handed to callers whose
	// request was still pending when the stream ended.
	ErrConnClosed = errors.New("jsonrpc: connection closed")
)

// RPCError is a backend-reported failure for a specific call.
type RPCError struct {
	Method  string
	Message string
	Data    []byte
	Code    int
}

func (e *RPCError) Error() string {
	var b strings.Builder
	b.WriteString(e.Method)
	b.WriteString(" failed: ")
	b.WriteString(e.Message)
	if e.Code != 0 {
		fmt.Fprintf(&b, " (code %d)", e.Code)
	}
	if len(e.Data) > 0 && string(e.Data) != "null" {
		b.WriteString(" data: ")
		b.Write(e.Data)
	}
	return b.String()
}

func newRPCError(method string, obj *ErrorObject) *RPCError {
	return &RPCError{
		Method:  method,
		Message: obj.Message,
		Code:    obj.Code,
		Data:    []byte(obj.Data),
	}
}

// ProtocolError is a line that could not be understood. It is never fatal
// to the connection.
type ProtocolError struct {
	Cause   error
	Message string
	Line    string
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Message, e.Cause)
	}
	return "protocol error: " + e.Message
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}
