// Package llm builds chat-completion models over CloudWeGo Eino.
package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// Provider identifies the completion backend.
type Provider string

const (
	// ProviderOpenAI covers any OpenAI-compatible endpoint, Gemini's included.
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
	ProviderAnthropic Provider = "anthropic"
)

const (
	DefaultOllamaURL      = "http://localhost:11434"
	defaultClaudeMaxToken = 8192
)

type Config struct {
	Provider Provider
	Model    string
	APIKey   string
	BaseURL  string
	// HTTPClient is used by providers that accept one; nil means the
	// provider default.
	HTTPClient *http.Client
}

// NewChatModel returns an Eino chat model for cfg.Provider.
func NewChatModel(ctx context.Context, cfg Config) (model.BaseChatModel, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai-compatible API key is required")
		}
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			Model:      cfg.Model,
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			HTTPClient: cfg.HTTPClient,
		})

	case ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = DefaultOllamaURL
		}
		return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL:    baseURL,
			Model:      cfg.Model,
			HTTPClient: cfg.HTTPClient,
		})

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key is required")
		}
		c := &claude.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			MaxTokens:  defaultClaudeMaxToken,
			HTTPClient: cfg.HTTPClient,
		}
		if cfg.BaseURL != "" {
			c.BaseURL = &cfg.BaseURL
		}
		return claude.NewChatModel(ctx, c)

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (supported: openai, ollama, anthropic)", cfg.Provider)
	}
}

// ValidateProvider checks if the given provider string is supported.
func ValidateProvider(p string) (Provider, error) {
	switch Provider(p) {
	case ProviderOpenAI, ProviderOllama, ProviderAnthropic:
		return Provider(p), nil
	default:
		return "", fmt.Errorf("unsupported provider: %s", p)
	}
}
