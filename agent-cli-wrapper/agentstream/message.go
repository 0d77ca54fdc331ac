package agentstream

import (
	"time"

	"github.com/google/uuid"
)

// MessageType discriminates Message variants.
type MessageType string

const (
	TypeUserPrompt  MessageType = "user_prompt"
	TypeSystemInit  MessageType = "system_init"
	TypeAssistant   MessageType = "assistant"
	TypeUser        MessageType = "user"
	TypeResult      MessageType = "result"
	TypeStreamEvent MessageType = "stream_event"
)

// BlockType discriminates ContentBlock variants.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockThinking   BlockType = "thinking"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one block of an assistant or user message.
type ContentBlock struct {
	Input     map[string]interface{} `json:"input,omitempty"`
	Type      BlockType              `json:"type"`
	Text      string                 `json:"text,omitempty"`
	Thinking  string                 `json:"thinking,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
}

// SystemInit is the payload of a system_init message.
type SystemInit struct {
	// ResumeID is the backend's handle for continuing this conversation.
	ResumeID       string   `json:"resume_id"`
	Backend        string   `json:"backend"`
	Model          string   `json:"model,omitempty"`
	CWD            string   `json:"cwd,omitempty"`
	PermissionMode string   `json:"permission_mode,omitempty"`
	Tools          []string `json:"tools,omitempty"`
}

// ResultSubtype is the outcome of a turn.
type ResultSubtype string

const (
	ResultSuccess   ResultSubtype = "success"
	ResultError     ResultSubtype = "error"
	ResultCancelled ResultSubtype = "cancelled"
)

// Usage counts tokens. Missing counts are zero.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// Result is the payload of a result message.
type Result struct {
	Subtype      ResultSubtype `json:"subtype"`
	Text         string        `json:"text,omitempty"`
	Usage        Usage         `json:"usage"`
	DurationMs   int64         `json:"duration_ms"`
	TotalCostUSD float64       `json:"total_cost_usd"`
	NumTurns     int           `json:"num_turns"`
	IsError      bool          `json:"is_error"`
}

// StreamKind is the sub-kind of a stream_event message.
type StreamKind string

const (
	StreamBlockStart StreamKind = "content_block_start"
	StreamBlockDelta StreamKind = "content_block_delta"
	StreamBlockStop  StreamKind = "content_block_stop"
)

// DeltaType identifies what a delta carries.
type DeltaType string

const (
	DeltaText      DeltaType = "text_delta"
	DeltaThinking  DeltaType = "thinking_delta"
	DeltaInputJSON DeltaType = "input_json_delta"
)

// Delta is an incremental fragment of a content block.
type Delta struct {
	Type        DeltaType `json:"type"`
	Text        string    `json:"text,omitempty"`
	Thinking    string    `json:"thinking,omitempty"`
	PartialJSON string    `json:"partial_json,omitempty"`
}

// StreamEvent is the payload of a stream_event message. It exists for
// incremental rendering; the assembled assistant message is authoritative.
type StreamEvent struct {
	Block *ContentBlock `json:"block,omitempty"`
	Delta *Delta        `json:"delta,omitempty"`
	Kind  StreamKind    `json:"kind"`
	Index int           `json:"index"`
}

// Message is one normalized event in a session transcript.
type Message struct {
	CreatedAt       time.Time      `json:"created_at"`
	Init            *SystemInit    `json:"init,omitempty"`
	Result          *Result        `json:"result,omitempty"`
	Event           *StreamEvent   `json:"event,omitempty"`
	Type            MessageType    `json:"type"`
	ID              string         `json:"id"`
	Prompt          string         `json:"prompt,omitempty"`
	ParentToolUseID string         `json:"parent_tool_use_id,omitempty"`
	Attachments     []Attachment   `json:"attachments,omitempty"`
	Content         []ContentBlock `json:"content,omitempty"`
}

// NewID returns a fresh message id.
func NewID() string {
	return uuid.NewString()
}

// IDOrNew returns id, or a fresh id when id is empty.
func IDOrNew(id string) string {
	if id == "" {
		return NewID()
	}
	return id
}

func newMessage(t MessageType) Message {
	return Message{Type: t, ID: NewID(), CreatedAt: time.Now().UTC()}
}

// NewUserPrompt records a prompt submitted by the user.
func NewUserPrompt(text string, attachments []Attachment) Message {
	m := newMessage(TypeUserPrompt)
	m.Prompt = text
	m.Attachments = attachments
	return m
}

// NewSystemInit records a backend handshake.
func NewSystemInit(init SystemInit) Message {
	m := newMessage(TypeSystemInit)
	m.Init = &init
	return m
}

// NewAssistant wraps assistant content blocks.
func NewAssistant(blocks ...ContentBlock) Message {
	m := newMessage(TypeAssistant)
	m.Content = blocks
	return m
}

// NewUser wraps user-side content blocks, typically tool results.
func NewUser(blocks ...ContentBlock) Message {
	m := newMessage(TypeUser)
	m.Content = blocks
	return m
}

// NewResult records the end of a turn.
func NewResult(r Result) Message {
	m := newMessage(TypeResult)
	r.IsError = r.Subtype == ResultError || r.IsError
	m.Result = &r
	return m
}

// NewStreamEvent wraps a stream event.
func NewStreamEvent(ev StreamEvent) Message {
	m := newMessage(TypeStreamEvent)
	m.Event = &ev
	return m
}

// TextBlock returns a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ThinkingBlock returns a thinking content block.
func ThinkingBlock(thinking string) ContentBlock {
	return ContentBlock{Type: BlockThinking, Thinking: thinking}
}

// ToolUseBlock returns a tool_use content block.
func ToolUseBlock(id, name string, input map[string]interface{}) ContentBlock {
	if input == nil {
		input = map[string]interface{}{}
	}
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock returns a tool_result content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// BlockStart announces a streamed block at index.
func BlockStart(index int, block ContentBlock) Message {
	return NewStreamEvent(StreamEvent{Kind: StreamBlockStart, Index: index, Block: &block})
}

// TextDelta streams a fragment of text at index.
func TextDelta(index int, text string) Message {
	return NewStreamEvent(StreamEvent{Kind: StreamBlockDelta, Index: index, Delta: &Delta{Type: DeltaText, Text: text}})
}

// ThinkingDelta streams a fragment of thinking at index.
func ThinkingDelta(index int, thinking string) Message {
	return NewStreamEvent(StreamEvent{Kind: StreamBlockDelta, Index: index, Delta: &Delta{Type: DeltaThinking, Thinking: thinking}})
}

// BlockStop closes the streamed block at index.
func BlockStop(index int) Message {
	return NewStreamEvent(StreamEvent{Kind: StreamBlockStop, Index: index})
}

// ToolUses returns the tool_use blocks of m.
func (m Message) ToolUses() []ContentBlock {
	return m.blocksOf(BlockToolUse)
}

// ToolResults returns the tool_result blocks of m.
func (m Message) ToolResults() []ContentBlock {
	return m.blocksOf(BlockToolResult)
}

func (m Message) blocksOf(t BlockType) []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == t {
			out = append(out, b)
		}
	}
	return out
}

// IsTerminal reports whether m ends a turn.
func (m Message) IsTerminal() bool {
	return m.Type == TypeResult
}

// Text concatenates the text blocks of m.
func (m Message) Text() string {
	var s string
	for _, b := range m.Content {
		if b.Type == BlockText {
			s += b.Text
		}
	}
	return s
}
