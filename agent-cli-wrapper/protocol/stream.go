package protocol

import (
	"encoding/json"
	"fmt"
)

// StreamEvent wraps a partial-message event emitted with
// --include-partial-messages.
type StreamEvent struct {
	ParentToolUseID *string         `json:"parent_tool_use_id"`
	Type            MessageType     `json:"type"`
	SessionID       string          `json:"session_id"`
	UUID            string          `json:"uuid"`
	Event           json.RawMessage `json:"event"`
}

// MsgType returns the message type.
func (m StreamEvent) MsgType() MessageType { return MessageTypeStreamEvent }

// StreamEventType discriminates stream event kinds.
type StreamEventType string

const (
	StreamEventTypeMessageStart      StreamEventType = "message_start"
	StreamEventTypeContentBlockStart StreamEventType = "content_block_start"
	StreamEventTypeContentBlockDelta StreamEventType = "content_block_delta"
	StreamEventTypeContentBlockStop  StreamEventType = "content_block_stop"
	StreamEventTypeMessageDelta      StreamEventType = "message_delta"
	StreamEventTypeMessageStop       StreamEventType = "message_stop"
)

// BlockEvent is the decoded inner event. Only the fields relevant to the
// event's Type are set.
type BlockEvent struct {
	Block ContentBlock
	Delta *Delta
	Type  StreamEventType
	Index int
}

// Delta is an incremental content fragment.
type Delta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// Parse decodes the inner event.
func (m StreamEvent) Parse() (BlockEvent, error) {
	var raw struct {
		Type         StreamEventType `json:"type"`
		ContentBlock json.RawMessage `json:"content_block"`
		Delta        json.RawMessage `json:"delta"`
		Index        int             `json:"index"`
	}
	if err := json.Unmarshal(m.Event, &raw); err != nil {
		return BlockEvent{}, fmt.Errorf("parse stream event: %w", err)
	}

	ev := BlockEvent{Type: raw.Type, Index: raw.Index}
	switch raw.Type {
	case StreamEventTypeContentBlockStart:
		block, err := UnmarshalContentBlock(raw.ContentBlock)
		if err != nil {
			return BlockEvent{}, fmt.Errorf("parse content_block_start: %w", err)
		}
		ev.Block = block
	case StreamEventTypeContentBlockDelta:
		var d Delta
		if err := json.Unmarshal(raw.Delta, &d); err != nil {
			return BlockEvent{}, fmt.Errorf("parse content_block_delta: %w", err)
		}
		ev.Delta = &d
	}
	return ev, nil
}
