package acp

import "encoding/json"

// ProtocolVersion is the ACP protocol version this client speaks.
const ProtocolVersion = 1

// Method names.
const (
	MethodInitialize        = "initialize"
	MethodSessionNew        = "session/new"
	MethodSessionLoad       = "session/load"
	MethodSessionPrompt     = "session/prompt"
	MethodSessionCancel     = "session/cancel"
	MethodSessionUpdate     = "session/update"
	MethodRequestPermission = "session/request_permission"
	MethodFsReadTextFile    = "fs/read_text_file"
	MethodFsWriteTextFile   = "fs/write_text_file"
)

// InitializeRequest is sent once per connection.
type InitializeRequest struct {
	ClientCapabilities ClientCapabilities `json:"clientCapabilities"`
	ClientInfo         *Implementation    `json:"clientInfo,omitempty"`
	ProtocolVersion    int                `json:"protocolVersion"`
}

// InitializeResponse carries the agent's capabilities.
type InitializeResponse struct {
	AgentInfo         *Implementation   `json:"agentInfo,omitempty"`
	AgentCapabilities AgentCapabilities `json:"agentCapabilities"`
	ProtocolVersion   int               `json:"protocolVersion"`
}

// Implementation identifies a client or agent.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ClientCapabilities advertises what this client supports.
type ClientCapabilities struct {
	Fs FsCapability `json:"fs"`
}

// FsCapability describes file system capabilities.
type FsCapability struct {
	ReadTextFile  bool `json:"readTextFile"`
	WriteTextFile bool `json:"writeTextFile"`
}

// AgentCapabilities advertises what the agent supports.
type AgentCapabilities struct {
	PromptCapabilities PromptCapabilities `json:"promptCapabilities"`
	LoadSession        bool               `json:"loadSession,omitempty"`
}

// PromptCapabilities lists the content types session/prompt accepts
// beyond text and resource links.
type PromptCapabilities struct {
	Image           bool `json:"image,omitempty"`
	Audio           bool `json:"audio,omitempty"`
	EmbeddedContext bool `json:"embeddedContext,omitempty"`
}

// NewSessionRequest creates a conversation.
type NewSessionRequest struct {
	CWD        string        `json:"cwd"`
	McpServers []interface{} `json:"mcpServers"`
}

// NewSessionResponse returns the session id.
type NewSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// LoadSessionRequest resumes a conversation. The agent replays history as
// session/update notifications before responding.
type LoadSessionRequest struct {
	SessionID  string        `json:"sessionId"`
	CWD        string        `json:"cwd"`
	McpServers []interface{} `json:"mcpServers"`
}

// PromptRequest sends one user turn.
type PromptRequest struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// ContentBlock is typed prompt or message content.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
	URI      string `json:"uri,omitempty"`
	Name     string `json:"name,omitempty"`
}

// NewTextContent returns a text block.
func NewTextContent(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// NewImageContent returns an inline base64 image block.
func NewImageContent(mimeType, data string) ContentBlock {
	return ContentBlock{Type: "image", MimeType: mimeType, Data: data}
}

// SessionNotification is the params of session/update.
type SessionNotification struct {
	SessionID string        `json:"sessionId"`
	Update    SessionUpdate `json:"update"`
}

// Update kinds.
const (
	UpdateAgentMessageChunk = "agent_message_chunk"
	UpdateAgentThoughtChunk = "agent_thought_chunk"
	UpdateToolCall          = "tool_call"
	UpdateToolCallUpdate    = "tool_call_update"
	UpdateSessionInfo       = "session_info_update"
)

// SessionUpdate is a union discriminated by Type. Content is a single
// block for message chunks and an array for tool calls, so it stays raw.
type SessionUpdate struct {
	Type       string          `json:"sessionUpdate"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	Title      string          `json:"title,omitempty"`
	Kind       string          `json:"kind,omitempty"`
	Status     string          `json:"status,omitempty"`
	RawInput   json.RawMessage `json:"rawInput,omitempty"`
	RawOutput  json.RawMessage `json:"rawOutput,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	// Raw keeps the whole update for heuristics over optional fields.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON implements json.Unmarshaler and keeps a copy of the input.
func (u *SessionUpdate) UnmarshalJSON(data []byte) error {
	type plain SessionUpdate
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*u = SessionUpdate(p)
	u.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// ChunkContent decodes Content as a single block.
func (u SessionUpdate) ChunkContent() (ContentBlock, bool) {
	var b ContentBlock
	if len(u.Content) == 0 || u.Content[0] != '{' {
		return b, false
	}
	if err := json.Unmarshal(u.Content, &b); err != nil {
		return b, false
	}
	return b, true
}

// ToolCallContent is one entry of a tool call's content array.
type ToolCallContent struct {
	Type    string       `json:"type"`
	Content ContentBlock `json:"content"`
}

// ToolContent decodes Content as a tool call content array.
func (u SessionUpdate) ToolContent() []ToolCallContent {
	var out []ToolCallContent
	if len(u.Content) == 0 || u.Content[0] != '[' {
		return nil
	}
	if err := json.Unmarshal(u.Content, &out); err != nil {
		return nil
	}
	return out
}

// InputMap decodes RawInput as an object. Non-object input is wrapped
// under "input".
func (u SessionUpdate) InputMap() map[string]interface{} {
	if len(u.RawInput) == 0 {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(u.RawInput, &m); err == nil {
		return m
	}
	var v interface{}
	if err := json.Unmarshal(u.RawInput, &v); err != nil {
		return nil
	}
	return map[string]interface{}{"input": v}
}

// CancelNotification cancels the in-flight prompt.
type CancelNotification struct {
	SessionID string `json:"sessionId"`
}

// ReadTextFileRequest asks the client for a file's contents.
type ReadTextFileRequest struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Line      int    `json:"line,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// ReadTextFileResponse returns the file content.
type ReadTextFileResponse struct {
	Content string `json:"content"`
}

// WriteTextFileRequest asks the client to write a file.
type WriteTextFileRequest struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

// RequestPermissionRequest asks the client to choose a permission option.
type RequestPermissionRequest struct {
	SessionID string             `json:"sessionId"`
	ToolCall  json.RawMessage    `json:"toolCall,omitempty"`
	Options   []PermissionOption `json:"options"`
}

// PermissionOption is one permission choice.
type PermissionOption struct {
	ID   string `json:"optionId"`
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
}

// RequestPermissionResponse returns the choice.
type RequestPermissionResponse struct {
	Outcome PermissionOutcome `json:"outcome"`
}

// PermissionOutcome is "selected" with an option id, or "cancelled".
type PermissionOutcome struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}
