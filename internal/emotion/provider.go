package emotion

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"clearchat/internal/config"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultClaudeModel = "claude-3-5-haiku-latest"
)

// NewDetector builds the detector for provider, falling back to the configured
// emotion provider and then to gemini.
func NewDetector(ctx context.Context, provider string, cfg *config.Config) (Detector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if provider == "" {
		provider = cfg.Emotion.Provider
	}
	if provider == "" {
		provider = "gemini"
	}
	provider = strings.ToLower(provider)
	provCfg, ok := cfg.Providers[provider]
	if !ok || provCfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	prompt := cfg.Emotion.Prompt

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "gemini":
		d, err := NewGeminiDetector(ctx, provCfg.APIKey, provCfg.Model, prompt)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "openai":
		modelName := provCfg.Model
		if modelName == "" {
			modelName = defaultOpenAIModel
		}
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case "claude":
		modelName := provCfg.Model
		if modelName == "" {
			modelName = defaultClaudeModel
		}
		var baseURL *string
		if provCfg.BaseURL != "" {
			baseURL = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURL,
			MaxTokens: 64,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	d, err := NewChatModelDetector(chatModel, prompt)
	if err != nil {
		return nil, err
	}
	return d, nil
}
