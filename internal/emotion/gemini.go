package emotion

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.0-flash-lite"

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiDetector sends the prompt and the image inline to a Gemini model.
type GeminiDetector struct {
	models contentGenerator
	model  string
	prompt string
}

func NewGeminiDetector(ctx context.Context, apiKey, model, prompt string) (*GeminiDetector, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("new gemini client: %w", err)
	}
	return newGeminiDetector(client.Models, model, prompt), nil
}

func newGeminiDetector(models contentGenerator, model, prompt string) *GeminiDetector {
	if model == "" {
		model = DefaultGeminiModel
	}
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &GeminiDetector{models: models, model: model, prompt: prompt}
}

func (d *GeminiDetector) Detect(ctx context.Context, image []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = defaultMimeType
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(d.prompt),
			genai.NewPartFromBytes(image, mimeType),
		}, genai.RoleUser),
	}
	resp, err := d.models.GenerateContent(ctx, d.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}
