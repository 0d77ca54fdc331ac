package acp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FormatOutput renders a tool call's raw output as text. Strings pass
// through, arrays are formatted item by item and joined with newlines,
// process-like objects are laid out as exitCode/stdout/stderr, text
// content blocks yield their text, and anything else is pretty JSON.
func FormatOutput(v interface{}) string {
	switch o := v.(type) {
	case nil:
		return ""
	case string:
		return o
	case []interface{}:
		parts := make([]string, 0, len(o))
		for _, item := range o {
			if s := FormatOutput(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]interface{}:
		if s, ok := formatProcessOutput(o); ok {
			return s
		}
		if text, ok := o["text"].(string); ok && (o["type"] == "text" || len(o) == 1) {
			return text
		}
		if inner, ok := o["content"]; ok && len(o) <= 2 {
			return FormatOutput(inner)
		}
		return prettyJSON(o)
	case float64:
		return strconv.FormatFloat(o, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(o)
	}
	return prettyJSON(v)
}

func formatProcessOutput(m map[string]interface{}) (string, bool) {
	code, hasCode := firstOf(m, "exitCode", "exit_code")
	stdout, hasOut := firstOf(m, "stdout")
	if !hasOut && hasCode {
		stdout, hasOut = firstOf(m, "output")
	}
	stderr, hasErr := firstOf(m, "stderr")
	if !hasOut && !hasErr {
		return "", false
	}

	var lines []string
	if hasCode {
		lines = append(lines, "exitCode: "+FormatOutput(code))
	}
	if hasOut {
		lines = append(lines, "stdout:", FormatOutput(stdout))
	}
	if s := FormatOutput(stderr); hasErr && s != "" {
		lines = append(lines, "stderr:", s)
	}
	return strings.Join(lines, "\n"), true
}

func firstOf(m map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func prettyJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// formatToolContent flattens a tool call content array.
func formatToolContent(items []ToolCallContent) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		switch {
		case item.Content.Text != "":
			parts = append(parts, item.Content.Text)
		case item.Type == "diff":
			parts = append(parts, "diff")
		}
	}
	return strings.Join(parts, "\n")
}

// decodeOutput decodes raw JSON for FormatOutput.
func decodeOutput(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
