package ai

import (
	"context"
	"fmt"
	"strings"

	"marketplace-responder/backend/pkg/config"
	"marketplace-responder/backend/pkg/logger"
)

// Provider is a text-generation backend
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*GeneratedText, error)
	Close() error
}

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderHTTP   = "http"
)

// NewProvider builds the provider named by cfg.AI.Provider
func NewProvider(ctx context.Context, cfg *config.Config, log *logger.Logger) (Provider, error) {
	switch strings.ToLower(cfg.AI.Provider) {
	case ProviderGemini:
		return NewGeminiProvider(ctx, cfg.AI.APIKey, cfg.AI.Model, log)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.Model, log)
	case ProviderHTTP:
		return NewHTTPProvider(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.ResponseTimeout, log)
	}
	return nil, fmt.Errorf("unknown AI provider %q", cfg.AI.Provider)
}
