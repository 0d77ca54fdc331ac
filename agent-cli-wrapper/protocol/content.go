package protocol

import (
	"encoding/json"
	"strings"
)

// ContentBlockType discriminates content blocks.
type ContentBlockType string

const (
	ContentBlockTypeText       ContentBlockType = "text"
	ContentBlockTypeThinking   ContentBlockType = "thinking"
	ContentBlockTypeToolUse    ContentBlockType = "tool_use"
	ContentBlockTypeToolResult ContentBlockType = "tool_result"
	ContentBlockTypeImage      ContentBlockType = "image"
)

// ContentBlock is implemented by every known block type.
type ContentBlock interface {
	BlockType() ContentBlockType
}

// TextBlock is plain text.
type TextBlock struct {
	Type ContentBlockType `json:"type"`
	Text string           `json:"text"`
}

// BlockType returns the block type.
func (b TextBlock) BlockType() ContentBlockType { return ContentBlockTypeText }

// ThinkingBlock is extended reasoning.
type ThinkingBlock struct {
	Type      ContentBlockType `json:"type"`
	Thinking  string           `json:"thinking"`
	Signature string           `json:"signature,omitempty"`
}

// BlockType returns the block type.
func (b ThinkingBlock) BlockType() ContentBlockType { return ContentBlockTypeThinking }

// ToolUseBlock is a tool invocation.
type ToolUseBlock struct {
	Input map[string]interface{} `json:"input"`
	Type  ContentBlockType       `json:"type"`
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
}

// BlockType returns the block type.
func (b ToolUseBlock) BlockType() ContentBlockType { return ContentBlockTypeToolUse }

// ToolResultBlock is the output of a tool.
type ToolResultBlock struct {
	Type      ContentBlockType `json:"type"`
	ToolUseID string           `json:"tool_use_id"`
	Content   FlexibleContent  `json:"content"`
	IsError   bool             `json:"is_error,omitempty"`
}

// BlockType returns the block type.
func (b ToolResultBlock) BlockType() ContentBlockType { return ContentBlockTypeToolResult }

// Text flattens the result content to a string.
func (b ToolResultBlock) Text() string {
	if s, ok := b.Content.AsString(); ok {
		return s
	}
	var parts []string
	for _, blk := range b.Content.Blocks() {
		if t, ok := blk.(TextBlock); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ImageSource is an inline base64 image.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ImageBlock carries an image in an outgoing prompt.
type ImageBlock struct {
	Type   ContentBlockType `json:"type"`
	Source ImageSource      `json:"source"`
}

// BlockType returns the block type.
func (b ImageBlock) BlockType() ContentBlockType { return ContentBlockTypeImage }

// ContentBlocks decodes a block array, skipping types it does not know.
type ContentBlocks []ContentBlock

// UnmarshalJSON implements json.Unmarshaler.
func (cb *ContentBlocks) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(ContentBlocks, 0, len(raws))
	for _, raw := range raws {
		block, err := UnmarshalContentBlock(raw)
		if err != nil {
			return err
		}
		if block != nil {
			out = append(out, block)
		}
	}
	*cb = out
	return nil
}

// UnmarshalContentBlock decodes a single block. Unknown types return
// (nil, nil).
func UnmarshalContentBlock(data json.RawMessage) (ContentBlock, error) {
	var base struct {
		Type ContentBlockType `json:"type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}

	switch base.Type {
	case ContentBlockTypeText:
		var b TextBlock
		err := json.Unmarshal(data, &b)
		return b, err
	case ContentBlockTypeThinking:
		var b ThinkingBlock
		err := json.Unmarshal(data, &b)
		return b, err
	case ContentBlockTypeToolUse:
		var b ToolUseBlock
		err := json.Unmarshal(data, &b)
		return b, err
	case ContentBlockTypeToolResult:
		var b ToolResultBlock
		err := json.Unmarshal(data, &b)
		return b, err
	default:
		return nil, nil
	}
}
