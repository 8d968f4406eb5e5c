package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrMissingAPIKey is returned when the selected provider has no credential.
var ErrMissingAPIKey = errors.New("missing API key")

// Provider names accepted by NewProvider.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Config selects and configures one provider.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// NewProvider creates an LLM provider from config.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	switch cfg.Provider {
	case ProviderGemini, "google", "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini: %w (set GOOGLE_API_KEY)", ErrMissingAPIKey)
		}
		return NewGeminiProvider(ctx, GeminiConfig{APIKey: cfg.APIKey, Model: cfg.Model})
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic: %w (set ANTHROPIC_API_KEY)", ErrMissingAPIKey)
		}
		return NewAnthropicProvider(AnthropicConfig{APIKey: cfg.APIKey, Model: cfg.Model}), nil
	case ProviderOpenAI, "openrouter", "local":
		// OpenAI-compatible local servers do not need a key.
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai: %w (set OPENAI_API_KEY)", ErrMissingAPIKey)
		}
		return NewOpenAIProvider(OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model}), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}
