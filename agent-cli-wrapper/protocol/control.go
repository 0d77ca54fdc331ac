package protocol

import (
	"encoding/json"
	"fmt"
)

// ControlRequest is a request from the CLI, such as a permission check.
type ControlRequest struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id"`
	Request   json.RawMessage `json:"request"`
}

// MsgType returns the message type.
func (m ControlRequest) MsgType() MessageType { return MessageTypeControlRequest }

// ControlRequestSubtype is the subtype of a control request.
type ControlRequestSubtype string

const (
	ControlRequestSubtypeCanUseTool ControlRequestSubtype = "can_use_tool"
	ControlRequestSubtypeInterrupt  ControlRequestSubtype = "interrupt"
)

// Subtype returns the inner request's subtype.
func (m ControlRequest) Subtype() ControlRequestSubtype {
	var base struct {
		Subtype ControlRequestSubtype `json:"subtype"`
	}
	_ = json.Unmarshal(m.Request, &base)
	return base.Subtype
}

// CanUseToolRequest asks permission for a tool call.
type CanUseToolRequest struct {
	Input     map[string]interface{} `json:"input"`
	Subtype   ControlRequestSubtype  `json:"subtype"`
	ToolName  string                 `json:"tool_name"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
}

// CanUseTool decodes the request as can_use_tool. ok is false for other
// subtypes.
func (m ControlRequest) CanUseTool() (req CanUseToolRequest, ok bool, err error) {
	if m.Subtype() != ControlRequestSubtypeCanUseTool {
		return req, false, nil
	}
	if err := json.Unmarshal(m.Request, &req); err != nil {
		return req, false, fmt.Errorf("parse can_use_tool: %w", err)
	}
	if req.Input == nil {
		req.Input = map[string]interface{}{}
	}
	return req, true, nil
}

// ControlResponse answers a control request.
type ControlResponse struct {
	Type     MessageType            `json:"type"`
	Response ControlResponsePayload `json:"response"`
}

// Marshal serializes the response to a JSON line.
func (m ControlResponse) Marshal() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal ControlResponse: %w", err)
	}
	return b, nil
}

// ControlResponsePayload is the inner response.
type ControlResponsePayload struct {
	Response  interface{} `json:"response,omitempty"`
	Subtype   string      `json:"subtype"`
	RequestID string      `json:"request_id"`
	Error     string      `json:"error,omitempty"`
}

// PermissionBehavior is the decision in a permission response.
type PermissionBehavior string

const (
	PermissionBehaviorAllow PermissionBehavior = "allow"
	PermissionBehaviorDeny  PermissionBehavior = "deny"
)

// PermissionResultAllow allows a tool call. The CLI rejects a null
// updatedInput, so it is always an object.
type PermissionResultAllow struct {
	UpdatedInput map[string]interface{} `json:"updatedInput"`
	Behavior     PermissionBehavior     `json:"behavior"`
}

// PermissionResultDeny blocks a tool call.
type PermissionResultDeny struct {
	Behavior  PermissionBehavior `json:"behavior"`
	Message   string             `json:"message,omitempty"`
	Interrupt bool               `json:"interrupt,omitempty"`
}

// ControlRequestToSend is a control request written to the CLI.
type ControlRequestToSend struct {
	Request   interface{} `json:"request"`
	Type      string      `json:"type"`
	RequestID string      `json:"request_id"`
}

// Marshal serializes the request to a JSON line.
func (m ControlRequestToSend) Marshal() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal ControlRequestToSend: %w", err)
	}
	return b, nil
}
