package claude

import (
	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
	"github.com/bazelment/agentdesk/agent-cli-wrapper/protocol"
)

// BackendName identifies this adapter in system_init messages.
const BackendName = "claude"

// Normalize maps one CLI message onto the shared schema. Messages with no
// counterpart (non-init system events, message-level stream events,
// user echoes without tool results) map to nothing.
func Normalize(msg protocol.Message) (agentstream.Message, bool) {
	switch m := msg.(type) {
	case protocol.SystemMessage:
		if !m.IsInit() {
			return agentstream.Message{}, false
		}
		out := agentstream.NewSystemInit(agentstream.SystemInit{
			ResumeID:       m.SessionID,
			Backend:        BackendName,
			Model:          m.Model,
			CWD:            m.CWD,
			PermissionMode: m.PermissionMode,
			Tools:          m.Tools,
		})
		out.ID = agentstream.IDOrNew(m.UUID)
		return out, true

	case protocol.AssistantMessage:
		blocks := convertBlocks(m.Message.Content.Blocks())
		if len(blocks) == 0 {
			return agentstream.Message{}, false
		}
		out := agentstream.NewAssistant(blocks...)
		out.ID = agentstream.IDOrNew(m.UUID)
		out.ParentToolUseID = deref(m.ParentToolUseID)
		return out, true

	case protocol.UserMessage:
		var blocks []agentstream.ContentBlock
		for _, b := range m.Message.Content.Blocks() {
			if r, ok := b.(protocol.ToolResultBlock); ok {
				blocks = append(blocks, agentstream.ToolResultBlock(r.ToolUseID, r.Text(), r.IsError))
			}
		}
		if len(blocks) == 0 {
			return agentstream.Message{}, false
		}
		out := agentstream.NewUser(blocks...)
		out.ID = agentstream.IDOrNew(m.UUID)
		out.ParentToolUseID = deref(m.ParentToolUseID)
		return out, true

	case protocol.ResultMessage:
		subtype := agentstream.ResultSuccess
		if m.IsError || m.Subtype != "success" {
			subtype = agentstream.ResultError
		}
		out := agentstream.NewResult(agentstream.Result{
			Subtype:      subtype,
			Text:         m.Result,
			DurationMs:   m.DurationMs,
			TotalCostUSD: m.TotalCostUSD,
			NumTurns:     m.NumTurns,
			Usage: agentstream.Usage{
				InputTokens:              m.Usage.InputTokens,
				OutputTokens:             m.Usage.OutputTokens,
				CacheCreationInputTokens: m.Usage.CacheCreationInputTokens,
				CacheReadInputTokens:     m.Usage.CacheReadInputTokens,
			},
		})
		out.ID = agentstream.IDOrNew(m.UUID)
		return out, true

	case protocol.StreamEvent:
		return normalizeStreamEvent(m)
	}
	return agentstream.Message{}, false
}

func normalizeStreamEvent(m protocol.StreamEvent) (agentstream.Message, bool) {
	ev, err := m.Parse()
	if err != nil {
		return agentstream.Message{}, false
	}

	var out agentstream.Message
	switch ev.Type {
	case protocol.StreamEventTypeContentBlockStart:
		blocks := convertBlocks(protocol.ContentBlocks{ev.Block})
		if len(blocks) == 0 {
			return agentstream.Message{}, false
		}
		out = agentstream.BlockStart(ev.Index, blocks[0])
	case protocol.StreamEventTypeContentBlockDelta:
		if ev.Delta == nil {
			return agentstream.Message{}, false
		}
		switch ev.Delta.Type {
		case string(agentstream.DeltaText):
			out = agentstream.TextDelta(ev.Index, ev.Delta.Text)
		case string(agentstream.DeltaThinking):
			out = agentstream.ThinkingDelta(ev.Index, ev.Delta.Thinking)
		case string(agentstream.DeltaInputJSON):
			out = agentstream.NewStreamEvent(agentstream.StreamEvent{
				Kind:  agentstream.StreamBlockDelta,
				Index: ev.Index,
				Delta: &agentstream.Delta{Type: agentstream.DeltaInputJSON, PartialJSON: ev.Delta.PartialJSON},
			})
		default:
			return agentstream.Message{}, false
		}
	case protocol.StreamEventTypeContentBlockStop:
		out = agentstream.BlockStop(ev.Index)
	default:
		return agentstream.Message{}, false
	}
	out.ID = agentstream.IDOrNew(m.UUID)
	out.ParentToolUseID = deref(m.ParentToolUseID)
	return out, true
}

func convertBlocks(in protocol.ContentBlocks) []agentstream.ContentBlock {
	out := make([]agentstream.ContentBlock, 0, len(in))
	for _, b := range in {
		switch v := b.(type) {
		case protocol.TextBlock:
			out = append(out, agentstream.TextBlock(v.Text))
		case protocol.ThinkingBlock:
			out = append(out, agentstream.ThinkingBlock(v.Thinking))
		case protocol.ToolUseBlock:
			out = append(out, agentstream.ToolUseBlock(agentstream.IDOrNew(v.ID), v.Name, v.Input))
		case protocol.ToolResultBlock:
			out = append(out, agentstream.ToolResultBlock(v.ToolUseID, v.Text(), v.IsError))
		}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
