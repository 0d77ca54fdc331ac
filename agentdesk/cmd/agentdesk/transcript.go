package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
)

const maxToolOutputLines = 20

// transcript renders normalized messages as plain text. Streaming deltas
// are printed as they arrive; the assistant message that follows them is
// then skipped so text is not printed twice.
type transcript struct {
	w         io.Writer
	streamed  bool
	streaming bool
}

func newTranscript(w io.Writer) *transcript {
	return &transcript{w: w}
}

func (t *transcript) render(msg agentstream.Message) {
	switch msg.Type {
	case agentstream.TypeUserPrompt:
		fmt.Fprintf(t.w, "> %s\n", msg.Prompt)
		for _, a := range msg.Attachments {
			fmt.Fprintf(t.w, "  [attached %s]\n", a.DisplayName())
		}
	case agentstream.TypeSystemInit:
		if msg.Init != nil {
			fmt.Fprintf(t.w, "[%s session %s]\n", msg.Init.Backend, msg.Init.ResumeID)
		}
	case agentstream.TypeStreamEvent:
		t.renderStream(msg.Event)
	case agentstream.TypeAssistant:
		t.renderAssistant(msg)
	case agentstream.TypeUser:
		for _, b := range msg.ToolResults() {
			t.renderToolResult(b)
		}
	case agentstream.TypeResult:
		if msg.Result != nil {
			t.renderResult(*msg.Result)
		}
	}
}

func (t *transcript) renderStream(ev *agentstream.StreamEvent) {
	if ev == nil {
		return
	}
	switch ev.Kind {
	case agentstream.StreamBlockStart:
		t.streaming = true
	case agentstream.StreamBlockDelta:
		if ev.Delta != nil && ev.Delta.Type == agentstream.DeltaText {
			fmt.Fprint(t.w, ev.Delta.Text)
			t.streamed = true
		}
	case agentstream.StreamBlockStop:
		if t.streaming && t.streamed {
			fmt.Fprintln(t.w)
		}
		t.streaming = false
	}
}

func (t *transcript) renderAssistant(msg agentstream.Message) {
	skipText := t.streamed
	t.streamed = false
	for _, b := range msg.Content {
		switch b.Type {
		case agentstream.BlockText:
			if !skipText && b.Text != "" {
				fmt.Fprintln(t.w, b.Text)
			}
		case agentstream.BlockToolUse:
			fmt.Fprintf(t.w, "* %s%s\n", b.Name, summarizeInput(b.Input))
		}
	}
}

func (t *transcript) renderToolResult(b agentstream.ContentBlock) {
	prefix := "  "
	if b.IsError {
		prefix = "  ! "
	}
	lines := strings.Split(strings.TrimRight(b.Content, "\n"), "\n")
	if len(lines) > maxToolOutputLines {
		omitted := len(lines) - maxToolOutputLines
		lines = append(lines[:maxToolOutputLines], fmt.Sprintf("... (%d more lines)", omitted))
	}
	for _, l := range lines {
		if l == "" {
			continue
		}
		fmt.Fprintf(t.w, "%s%s\n", prefix, l)
	}
}

func (t *transcript) renderResult(r agentstream.Result) {
	switch r.Subtype {
	case agentstream.ResultSuccess:
		fmt.Fprintf(t.w, "[done in %d turn(s)", r.NumTurns)
		if r.TotalCostUSD > 0 {
			fmt.Fprintf(t.w, ", $%.4f", r.TotalCostUSD)
		}
		fmt.Fprintln(t.w, "]")
	case agentstream.ResultCancelled:
		fmt.Fprintln(t.w, "[cancelled]")
	default:
		fmt.Fprintf(t.w, "[error: %s]\n", r.Text)
	}
}

// summarizeInput renders the most telling tool input field.
func summarizeInput(input map[string]interface{}) string {
	for _, key := range []string{"command", "file_path", "path", "pattern", "url", "description"} {
		if v, ok := input[key].(string); ok && v != "" {
			return "(" + v + ")"
		}
	}
	if len(input) == 0 {
		return ""
	}
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "(" + strings.Join(keys, ", ") + ")"
}
