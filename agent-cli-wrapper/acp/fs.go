package acp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FsHandler serves the agent's fs/* requests.
type FsHandler interface {
	ReadTextFile(ctx context.Context, req ReadTextFileRequest) (*ReadTextFileResponse, error)
	WriteTextFile(ctx context.Context, req WriteTextFileRequest) error
}

// LocalFs reads and writes the host filesystem. Relative paths resolve
// against Root.
type LocalFs struct {
	Root string
}

func (h LocalFs) resolve(path string) string {
	if filepath.IsAbs(path) || h.Root == "" {
		return path
	}
	return filepath.Join(h.Root, path)
}

// ReadTextFile returns the file, optionally sliced by 1-based Line and
// Limit. A missing file reads as empty: agents probe before writing and
// do not cope with an error here.
func (h LocalFs) ReadTextFile(_ context.Context, req ReadTextFileRequest) (*ReadTextFileResponse, error) {
	data, err := os.ReadFile(h.resolve(req.Path))
	if err != nil {
		if os.IsNotExist(err) {
			return &ReadTextFileResponse{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", req.Path, err)
	}

	content := string(data)
	if req.Line > 0 || req.Limit > 0 {
		lines := strings.Split(content, "\n")
		start := 0
		if req.Line > 0 {
			start = req.Line - 1
		}
		if start >= len(lines) {
			return &ReadTextFileResponse{}, nil
		}
		end := len(lines)
		if req.Limit > 0 && start+req.Limit < end {
			end = start + req.Limit
		}
		content = strings.Join(lines[start:end], "\n")
	}
	return &ReadTextFileResponse{Content: content}, nil
}

// WriteTextFile writes the file, creating parent directories.
func (h LocalFs) WriteTextFile(_ context.Context, req WriteTextFileRequest) error {
	path := h.resolve(req.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", req.Path, err)
	}
	if err := os.WriteFile(path, []byte(req.Content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", req.Path, err)
	}
	return nil
}
