package agentstream

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachment_IsImage(t *testing.T) {
	tests := []struct {
		att  Attachment
		want bool
	}{
		{NewAttachment("/tmp/shot.png"), true},
		{NewAttachment("/tmp/photo.JPG"), true},
		{NewAttachment("/tmp/notes.txt"), false},
		{Attachment{Path: "/tmp/blob", MimeType: "image/webp"}, true},
		{Attachment{Path: "/tmp/blob"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.att.Path, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.att.IsImage())
		})
	}
}

func TestManifest(t *testing.T) {
	assert.Empty(t, Manifest("/w", nil))

	got := Manifest("/w", []Attachment{
		{Path: "docs/a.md"},
		{Path: "/abs/b.png", Name: "diagram"},
	})
	assert.Equal(t, "Attached files:\n- a.md: /w/docs/a.md\n- diagram: /abs/b.png\n", got)
}

func TestPromptWithManifest(t *testing.T) {
	assert.Equal(t, "hi", PromptWithManifest("hi", "/w", nil))
	assert.Equal(t, "hi\n\nAttached files:\n- x: /w/x\n", PromptWithManifest("hi", "/w", []Attachment{{Path: "x"}}))
}

func TestAttachment_ReadBase64(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dot.png")
	require.NoError(t, os.WriteFile(path, []byte("png!"), 0o644))

	got, err := NewAttachment(path).ReadBase64()
	require.NoError(t, err)
	assert.Equal(t, "cG5nIQ==", got)

	_, err = NewAttachment(filepath.Join(dir, "missing.png")).ReadBase64()
	assert.ErrorContains(t, err, "missing.png")
}
