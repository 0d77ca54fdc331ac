package acp

import (
	"fmt"
	"strings"
)

// Normalized tool names.
const (
	ToolBash   = "Bash"
	ToolRead   = "Read"
	ToolWrite  = "Write"
	ToolEdit   = "Edit"
	ToolDelete = "Delete"
	ToolGrep   = "Grep"
	ToolGlob   = "Glob"
)

// classifyRules are checked in order against the lower-cased kind, then
// the lower-cased title. The first keyword hit wins.
var classifyRules = []struct {
	tool     string
	keywords []string
}{
	{ToolBash, []string{"execute", "exec", "shell", "bash", "command", "terminal", "run"}},
	{ToolDelete, []string{"delete", "remove", "unlink"}},
	{ToolWrite, []string{"write", "create"}},
	{ToolEdit, []string{"edit", "patch", "replace", "modify"}},
	{ToolRead, []string{"read", "view", "open"}},
	{ToolGlob, []string{"glob", "list", "find_files", "find files"}},
	{ToolGrep, []string{"grep", "search", "find"}},
}

var (
	commandKeys    = []string{"command", "cmd", "script", "commandLine"}
	pathKeys       = []string{"file_path", "filePath", "path", "absolute_path", "file", "filename", "uri"}
	contentKeys    = []string{"content", "new_content", "newContent", "text", "file_text"}
	oldStringKeys  = []string{"old_string", "oldString", "old_str", "oldText", "old_text"}
	newStringKeys  = []string{"new_string", "newString", "new_str", "newText", "new_text"}
	patternKeys    = []string{"pattern", "query", "regex", "glob", "search"}
	searchPathKeys = []string{"path", "dir", "directory", "dir_path", "cwd"}
)

// Classify maps an ACP tool call onto the tool vocabulary shared with the
// Claude backend. It returns the tool name and an input object carrying the
// canonical field names (command, file_path, pattern, ...) alongside the
// original raw input. Calls that match no rule keep their kind (or title)
// as the name and rawInput unchanged.
func Classify(kind, title string, rawInput map[string]interface{}) (string, map[string]interface{}) {
	tool := matchTool(strings.ToLower(kind))
	if tool == "" {
		tool = matchTool(strings.ToLower(title))
	}
	if tool == "" {
		return fallbackName(kind, title), orEmpty(rawInput)
	}

	input := make(map[string]interface{}, len(rawInput)+2)
	for k, v := range rawInput {
		input[k] = v
	}

	switch tool {
	case ToolBash:
		if cmd, ok := pickCommand(rawInput); ok {
			input["command"] = cmd
		} else if title != "" {
			input["command"] = title
		}
		if title != "" {
			input["description"] = title
		}
	case ToolRead, ToolDelete:
		setString(input, "file_path", rawInput, pathKeys)
	case ToolWrite:
		setString(input, "file_path", rawInput, pathKeys)
		setString(input, "content", rawInput, contentKeys)
	case ToolEdit:
		setString(input, "file_path", rawInput, pathKeys)
		setString(input, "old_string", rawInput, oldStringKeys)
		setString(input, "new_string", rawInput, newStringKeys)
		// An edit with content but nothing to replace is a whole-file write.
		if _, hasOld := input["old_string"]; !hasOld {
			if _, ok := pick(rawInput, contentKeys); ok {
				tool = ToolWrite
				setString(input, "content", rawInput, contentKeys)
			}
		}
	case ToolGrep, ToolGlob:
		setString(input, "pattern", rawInput, patternKeys)
		setString(input, "path", rawInput, searchPathKeys)
		if tool == ToolGrep && isGlobPattern(input["pattern"]) && !hasAny(rawInput, "regex", "query") {
			tool = ToolGlob
		}
	}
	return tool, input
}

func matchTool(s string) string {
	if s == "" {
		return ""
	}
	for _, rule := range classifyRules {
		for _, kw := range rule.keywords {
			if wordKeywords[kw] {
				if containsWord(s, kw) {
					return rule.tool
				}
			} else if strings.Contains(s, kw) {
				return rule.tool
			}
		}
	}
	return ""
}

// wordKeywords only match as whole words; as substrings they hit titles
// like "truncate" or "runtime".
var wordKeywords = map[string]bool{"run": true, "exec": true}

// containsWord reports whether kw occurs in s bounded by non-letters.
func containsWord(s, kw string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], kw)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(kw)
		if (start == 0 || !isLetter(s[start-1])) && (end == len(s) || !isLetter(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func fallbackName(kind, title string) string {
	switch {
	case kind != "" && !strings.EqualFold(kind, "other"):
		return kind
	case title != "":
		return title
	case kind != "":
		return kind
	}
	return "Tool"
}

func pickCommand(m map[string]interface{}) (string, bool) {
	v, ok := pick(m, commandKeys)
	if !ok {
		return "", false
	}
	switch c := v.(type) {
	case string:
		return c, c != ""
	case []interface{}:
		parts := make([]string, 0, len(c))
		for _, p := range c {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, " "), len(parts) > 0
	}
	return fmt.Sprint(v), true
}

func pick(m map[string]interface{}, keys []string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func setString(dst map[string]interface{}, key string, src map[string]interface{}, keys []string) {
	if v, ok := pick(src, keys); ok {
		if s, ok := v.(string); ok {
			dst[key] = s
		}
	}
}

func hasAny(m map[string]interface{}, keys ...string) bool {
	_, ok := pick(m, keys)
	return ok
}

func isGlobPattern(v interface{}) bool {
	s, ok := v.(string)
	return ok && strings.ContainsAny(s, "*?") && !strings.ContainsAny(s, `\^$|()+`)
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
