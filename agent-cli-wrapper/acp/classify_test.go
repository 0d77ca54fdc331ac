package acp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		kind      string
		title     string
		input     map[string]interface{}
		wantTool  string
		wantInput map[string]interface{}
	}{
		{
			name:     "execute kind becomes Bash",
			kind:     "execute",
			title:    "Run tests",
			input:    map[string]interface{}{"command": "go test ./..."},
			wantTool: ToolBash,
			wantInput: map[string]interface{}{
				"command":     "go test ./...",
				"description": "Run tests",
			},
		},
		{
			name:     "execute_command kind",
			kind:     "execute_command",
			title:    "Run tests",
			input:    map[string]interface{}{"command": "npm test"},
			wantTool: ToolBash,
			wantInput: map[string]interface{}{
				"command":     "npm test",
				"description": "Run tests",
			},
		},
		{
			name:     "array command is joined",
			kind:     "execute",
			input:    map[string]interface{}{"cmd": []interface{}{"git", "status"}},
			wantTool: ToolBash,
			wantInput: map[string]interface{}{
				"cmd":     []interface{}{"git", "status"},
				"command": "git status",
			},
		},
		{
			name:     "read by title",
			kind:     "other",
			title:    "ReadFile",
			input:    map[string]interface{}{"absolute_path": "/src/main.go"},
			wantTool: ToolRead,
			wantInput: map[string]interface{}{
				"absolute_path": "/src/main.go",
				"file_path":     "/src/main.go",
			},
		},
		{
			name:     "edit with old and new strings",
			kind:     "edit",
			input:    map[string]interface{}{"path": "a.go", "oldText": "x", "newText": "y"},
			wantTool: ToolEdit,
			wantInput: map[string]interface{}{
				"path": "a.go", "oldText": "x", "newText": "y",
				"file_path": "a.go", "old_string": "x", "new_string": "y",
			},
		},
		{
			name:     "edit with only content is a write",
			kind:     "edit",
			input:    map[string]interface{}{"file_path": "new.txt", "content": "hello"},
			wantTool: ToolWrite,
			wantInput: map[string]interface{}{
				"file_path": "new.txt",
				"content":   "hello",
			},
		},
		{
			name:     "delete",
			kind:     "delete",
			input:    map[string]interface{}{"path": "old.txt"},
			wantTool: ToolDelete,
			wantInput: map[string]interface{}{
				"path":      "old.txt",
				"file_path": "old.txt",
			},
		},
		{
			name:     "search with regex stays grep",
			kind:     "search",
			input:    map[string]interface{}{"query": "func (main|init)", "dir": "."},
			wantTool: ToolGrep,
			wantInput: map[string]interface{}{
				"query": "func (main|init)", "dir": ".",
				"pattern": "func (main|init)", "path": ".",
			},
		},
		{
			name:     "search with a glob pattern becomes glob",
			kind:     "search",
			input:    map[string]interface{}{"pattern": "**/*.go"},
			wantTool: ToolGlob,
			wantInput: map[string]interface{}{
				"pattern": "**/*.go",
			},
		},
		{
			name:      "unknown kind keeps its name and input",
			kind:      "fetch",
			input:     map[string]interface{}{"url": "https://example.com"},
			wantTool:  "fetch",
			wantInput: map[string]interface{}{"url": "https://example.com"},
		},
		{
			name:      "other kind falls back to title",
			kind:      "other",
			title:     "Thinking hard",
			wantTool:  "Thinking hard",
			wantInput: map[string]interface{}{},
		},
		{
			name:     "run as a word in the title",
			kind:     "other",
			title:    "npm_run build",
			wantTool: ToolBash,
			wantInput: map[string]interface{}{
				"command":     "npm_run build",
				"description": "npm_run build",
			},
		},
		{
			name:      "run inside a word is not Bash",
			kind:      "other",
			title:     "Truncate log",
			wantTool:  "Truncate log",
			wantInput: map[string]interface{}{},
		},
		{
			name:      "prune is not Bash",
			kind:      "other",
			title:     "Prune branches",
			wantTool:  "Prune branches",
			wantInput: map[string]interface{}{},
		},
		{
			name:      "runtime is not Bash",
			kind:      "other",
			title:     "Fetch runtime docs",
			wantTool:  "Fetch runtime docs",
			wantInput: map[string]interface{}{},
		},
		{
			name:      "nothing at all",
			wantTool:  "Tool",
			wantInput: map[string]interface{}{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool, input := Classify(tt.kind, tt.title, tt.input)
			assert.Equal(t, tt.wantTool, tool)
			assert.Equal(t, tt.wantInput, input)
		})
	}
}

func TestClassify_DoesNotMutateInput(t *testing.T) {
	raw := map[string]interface{}{"path": "x.txt"}
	_, input := Classify("read", "", raw)
	assert.Equal(t, "x.txt", input["file_path"])
	assert.NotContains(t, raw, "file_path")
}
