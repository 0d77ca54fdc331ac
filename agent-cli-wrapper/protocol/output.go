package protocol

// NewUserTextMessage builds a plain-text prompt.
func NewUserTextMessage(text string) UserMessageToSend {
	return UserMessageToSend{
		Type:    "user",
		Message: UserMessageToSendInner{Role: "user", Content: text},
	}
}

// NewUserContentMessage builds a prompt from text followed by images.
// Without images it is identical to NewUserTextMessage.
func NewUserContentMessage(text string, images []ImageSource) UserMessageToSend {
	if len(images) == 0 {
		return NewUserTextMessage(text)
	}
	blocks := make([]ContentBlock, 0, len(images)+1)
	blocks = append(blocks, TextBlock{Type: ContentBlockTypeText, Text: text})
	for _, img := range images {
		if img.Type == "" {
			img.Type = "base64"
		}
		blocks = append(blocks, ImageBlock{Type: ContentBlockTypeImage, Source: img})
	}
	return UserMessageToSend{
		Type:    "user",
		Message: UserMessageToSendInner{Role: "user", Content: blocks},
	}
}

// NewPermissionAllow grants a tool call. A nil input is sent as {}.
func NewPermissionAllow(requestID string, input map[string]interface{}) ControlResponse {
	if input == nil {
		input = map[string]interface{}{}
	}
	return ControlResponse{
		Type: MessageTypeControlResponse,
		Response: ControlResponsePayload{
			Subtype:   "success",
			RequestID: requestID,
			Response:  PermissionResultAllow{Behavior: PermissionBehaviorAllow, UpdatedInput: input},
		},
	}
}

// NewPermissionDeny blocks a tool call with a reason shown to the model.
func NewPermissionDeny(requestID, message string, interrupt bool) ControlResponse {
	return ControlResponse{
		Type: MessageTypeControlResponse,
		Response: ControlResponsePayload{
			Subtype:   "success",
			RequestID: requestID,
			Response:  PermissionResultDeny{Behavior: PermissionBehaviorDeny, Message: message, Interrupt: interrupt},
		},
	}
}

// NewControlError reports that a control request could not be handled.
func NewControlError(requestID, message string) ControlResponse {
	return ControlResponse{
		Type: MessageTypeControlResponse,
		Response: ControlResponsePayload{
			Subtype:   "error",
			RequestID: requestID,
			Error:     message,
		},
	}
}

// NewInterrupt asks the CLI to stop the current turn.
func NewInterrupt(requestID string) ControlRequestToSend {
	return ControlRequestToSend{
		Type:      "control_request",
		RequestID: requestID,
		Request:   map[string]string{"subtype": string(ControlRequestSubtypeInterrupt)},
	}
}
