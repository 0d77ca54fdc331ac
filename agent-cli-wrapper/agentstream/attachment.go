package agentstream

import (
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Attachment is a local file the user attached to a prompt.
type Attachment struct {
	Path     string `json:"path"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// NewAttachment builds an attachment for path, inferring the name and MIME
// type from the file extension.
func NewAttachment(path string) Attachment {
	return Attachment{
		Path:     path,
		Name:     filepath.Base(path),
		MimeType: mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
	}
}

// DisplayName returns Name, falling back to the base of Path.
func (a Attachment) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return filepath.Base(a.Path)
}

// MediaType returns the declared MIME type or one inferred from the path.
func (a Attachment) MediaType() string {
	if a.MimeType != "" {
		return a.MimeType
	}
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(a.Path))); t != "" {
		return t
	}
	return "application/octet-stream"
}

// IsImage reports whether the attachment is an image.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MediaType(), "image/")
}

// Resolve returns a copy of a with Path made absolute against cwd.
func (a Attachment) Resolve(cwd string) Attachment {
	if a.Path == "" || filepath.IsAbs(a.Path) {
		return a
	}
	if cwd == "" {
		if abs, err := filepath.Abs(a.Path); err == nil {
			a.Path = abs
		}
		return a
	}
	a.Path = filepath.Join(cwd, a.Path)
	return a
}

// ReadBase64 reads the file and returns its contents base64-encoded.
func (a Attachment) ReadBase64() (string, error) {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return "", fmt.Errorf("read attachment %s: %w", a.DisplayName(), err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Manifest renders the attachment list appended to a prompt so the agent
// can open the files itself. It returns "" for no attachments.
func Manifest(cwd string, attachments []Attachment) string {
	if len(attachments) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Attached files:\n")
	for _, a := range attachments {
		a = a.Resolve(cwd)
		b.WriteString("- ")
		b.WriteString(a.DisplayName())
		b.WriteString(": ")
		b.WriteString(a.Path)
		b.WriteString("\n")
	}
	return b.String()
}

// PromptWithManifest returns text followed by the attachment manifest.
func PromptWithManifest(text, cwd string, attachments []Attachment) string {
	m := Manifest(cwd, attachments)
	if m == "" {
		return text
	}
	if text == "" {
		return m
	}
	return text + "\n\n" + m
}
