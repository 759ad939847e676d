package emotion

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModelDetector asks any eino chat model that accepts image input.
type ChatModelDetector struct {
	model  model.BaseChatModel
	prompt string
}

func NewChatModelDetector(m model.BaseChatModel, prompt string) (*ChatModelDetector, error) {
	if m == nil {
		return nil, errors.New("chat model required")
	}
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &ChatModelDetector{model: m, prompt: prompt}, nil
}

func (d *ChatModelDetector) Detect(ctx context.Context, image []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = defaultMimeType
	}
	uri := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	msg := &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: d.prompt},
			{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:      uri,
					MIMEType: mimeType,
				},
			},
		},
	}
	out, err := d.model.Generate(ctx, []*schema.Message{msg})
	if err != nil {
		return "", fmt.Errorf("chat model generate: %w", err)
	}
	if out == nil {
		return "", errors.New("chat model returned no message")
	}
	return out.Content, nil
}
