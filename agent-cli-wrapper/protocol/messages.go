// Package protocol describes the newline-delimited stream-json format the
// Claude CLI speaks on stdin and stdout.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType discriminates between message kinds.
type MessageType string

const (
	MessageTypeSystem          MessageType = "system"
	MessageTypeAssistant       MessageType = "assistant"
	MessageTypeUser            MessageType = "user"
	MessageTypeResult          MessageType = "result"
	MessageTypeStreamEvent     MessageType = "stream_event"
	MessageTypeControlRequest  MessageType = "control_request"
	MessageTypeControlResponse MessageType = "control_response"
)

// Message is implemented by every parsed CLI message.
type Message interface {
	MsgType() MessageType
}

// SystemMessage carries session initialization and other system events.
type SystemMessage struct {
	Type           MessageType `json:"type"`
	Subtype        string      `json:"subtype"`
	SessionID      string      `json:"session_id"`
	UUID           string      `json:"uuid"`
	Model          string      `json:"model,omitempty"`
	CWD            string      `json:"cwd,omitempty"`
	PermissionMode string      `json:"permissionMode,omitempty"`
	Tools          []string    `json:"tools,omitempty"`
}

// MsgType returns the message type.
func (m SystemMessage) MsgType() MessageType { return MessageTypeSystem }

// IsInit reports whether m is the session handshake.
func (m SystemMessage) IsInit() bool { return m.Subtype == "init" }

// Usage tracks token usage. Absent counts decode as zero.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// FlexibleContent is either a plain string or an array of content blocks.
type FlexibleContent struct {
	raw json.RawMessage
}

// UnmarshalJSON implements json.Unmarshaler.
func (fc *FlexibleContent) UnmarshalJSON(data []byte) error {
	fc.raw = append(fc.raw[:0], data...)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (fc FlexibleContent) MarshalJSON() ([]byte, error) {
	if fc.raw == nil {
		return []byte("null"), nil
	}
	return fc.raw, nil
}

// AsString returns the content when it is a JSON string.
func (fc FlexibleContent) AsString() (string, bool) {
	if len(fc.raw) == 0 || fc.raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(fc.raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Blocks returns the content as blocks. A string becomes one text block.
func (fc FlexibleContent) Blocks() ContentBlocks {
	if s, ok := fc.AsString(); ok {
		return ContentBlocks{TextBlock{Type: ContentBlockTypeText, Text: s}}
	}
	if len(fc.raw) == 0 {
		return nil
	}
	var blocks ContentBlocks
	if err := json.Unmarshal(fc.raw, &blocks); err != nil {
		return nil
	}
	return blocks
}

// MessageContent is the inner payload of assistant and user messages.
type MessageContent struct {
	StopReason *string         `json:"stop_reason"`
	ID         string          `json:"id,omitempty"`
	Model      string          `json:"model,omitempty"`
	Role       string          `json:"role"`
	Content    FlexibleContent `json:"content"`
	Usage      Usage           `json:"usage"`
}

// AssistantMessage is a complete message from the model.
type AssistantMessage struct {
	ParentToolUseID *string        `json:"parent_tool_use_id"`
	Type            MessageType    `json:"type"`
	SessionID       string         `json:"session_id"`
	UUID            string         `json:"uuid"`
	Message         MessageContent `json:"message"`
}

// MsgType returns the message type.
func (m AssistantMessage) MsgType() MessageType { return MessageTypeAssistant }

// UserMessage echoes tool results back.
type UserMessage struct {
	ParentToolUseID *string        `json:"parent_tool_use_id"`
	Type            MessageType    `json:"type"`
	SessionID       string         `json:"session_id"`
	UUID            string         `json:"uuid"`
	Message         MessageContent `json:"message"`
}

// MsgType returns the message type.
func (m UserMessage) MsgType() MessageType { return MessageTypeUser }

// ResultMessage ends a turn.
type ResultMessage struct {
	Type         MessageType `json:"type"`
	Subtype      string      `json:"subtype"`
	SessionID    string      `json:"session_id"`
	UUID         string      `json:"uuid"`
	Result       string      `json:"result"`
	Usage        Usage       `json:"usage"`
	TotalCostUSD float64     `json:"total_cost_usd"`
	DurationMs   int64       `json:"duration_ms"`
	NumTurns     int         `json:"num_turns"`
	IsError      bool        `json:"is_error"`
}

// MsgType returns the message type.
func (m ResultMessage) MsgType() MessageType { return MessageTypeResult }

// ControlResponseMessage acknowledges a control request we sent.
type ControlResponseMessage struct {
	Type     MessageType `json:"type"`
	Response struct {
		Subtype   string `json:"subtype"`
		RequestID string `json:"request_id"`
		Error     string `json:"error,omitempty"`
	} `json:"response"`
}

// MsgType returns the message type.
func (m ControlResponseMessage) MsgType() MessageType { return MessageTypeControlResponse }

// UserMessageToSend is a prompt written to the CLI.
type UserMessageToSend struct {
	Message UserMessageToSendInner `json:"message"`
	Type    string                 `json:"type"`
}

// UserMessageToSendInner holds either a string or a block array.
type UserMessageToSendInner struct {
	Content interface{} `json:"content"`
	Role    string      `json:"role"`
}

// Marshal serializes the message to a JSON line.
func (m UserMessageToSend) Marshal() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal UserMessageToSend: %w", err)
	}
	return b, nil
}

// ParseMessage decodes one stdout line. Unknown message types return
// (nil, nil) so callers can skip them.
func ParseMessage(line []byte) (Message, error) {
	var base struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(line, &base); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	var msg Message
	switch base.Type {
	case MessageTypeSystem:
		msg = &SystemMessage{}
	case MessageTypeAssistant:
		msg = &AssistantMessage{}
	case MessageTypeUser:
		msg = &UserMessage{}
	case MessageTypeResult:
		msg = &ResultMessage{}
	case MessageTypeStreamEvent:
		msg = &StreamEvent{}
	case MessageTypeControlRequest:
		msg = &ControlRequest{}
	case MessageTypeControlResponse:
		msg = &ControlResponseMessage{}
	default:
		return nil, nil
	}
	if err := json.Unmarshal(line, msg); err != nil {
		return nil, fmt.Errorf("parse %s message: %w", base.Type, err)
	}
	return deref(msg), nil
}

func deref(m Message) Message {
	switch v := m.(type) {
	case *SystemMessage:
		return *v
	case *AssistantMessage:
		return *v
	case *UserMessage:
		return *v
	case *ResultMessage:
		return *v
	case *StreamEvent:
		return *v
	case *ControlRequest:
		return *v
	case *ControlResponseMessage:
		return *v
	}
	return m
}
