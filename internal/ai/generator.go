package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotConfigured = errors.New("ai provider is not configured")
	ErrEmptyResponse = errors.New("ai provider returned no text")
)

// TextGenerator turns a prompt into plain text. One instance is built at
// startup and shared by the extractor and the recommender.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type GeneratorConfig struct {
	Provider       string
	GeminiAPIKey   string
	GeminiModel    string
	GeminiBaseURL  string
	AnthropicKey   string
	AnthropicModel string
	Client         *http.Client
}

// NewGenerator returns the generator for cfg.Provider:
//   - "gemini" - Gemini generateContent REST API
//   - "anthropic" - Claude models via the Anthropic SDK
//
// A provider without its key yields ErrNotConfigured.
func NewGenerator(cfg GeneratorConfig) (TextGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrNotConfigured)
		}
		return NewGemini(GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			BaseURL: cfg.GeminiBaseURL,
			Client:  cfg.Client,
		}), nil
	case "anthropic", "claude":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY is not set", ErrNotConfigured)
		}
		return NewAnthropic(AnthropicConfig{
			APIKey: cfg.AnthropicKey,
			Model:  cfg.AnthropicModel,
			Client: cfg.Client,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
}
