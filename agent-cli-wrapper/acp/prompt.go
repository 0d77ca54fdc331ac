package acp

import (
	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
)

// BuildPrompt assembles session/prompt content: the text with an
// attachment manifest, then inline images when the agent accepts them.
// Non-image attachments are referenced by path only.
func BuildPrompt(text, cwd string, attachments []agentstream.Attachment, images bool) ([]ContentBlock, error) {
	blocks := []ContentBlock{NewTextContent(agentstream.PromptWithManifest(text, cwd, attachments))}
	if !images {
		return blocks, nil
	}
	for _, a := range attachments {
		a = a.Resolve(cwd)
		if !a.IsImage() {
			continue
		}
		data, err := a.ReadBase64()
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, NewImageContent(a.MediaType(), data))
	}
	return blocks, nil
}
