package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	analyst "github.com/Protocol-Lattice/duo-analyst"
)

// aipipeBaseURL is the OpenAI-compatible proxy the hosted deployment uses.
const aipipeBaseURL = "https://aipipe.org/openai/v1"

// ProviderConfig selects and configures one chat model.
type ProviderConfig struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// NewChatModel builds the chat model named by cfg.Provider.
func NewChatModel(_ context.Context, cfg ProviderConfig) (analyst.ChatModel, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		return NewOpenAIChat(OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout}), nil
	case "aipipe":
		return NewOpenAIChat(OpenAIConfig{APIKey: cfg.APIKey, BaseURL: OpenAIBaseURL(cfg), Model: cfg.Model, Timeout: cfg.Timeout}), nil
	case "anthropic", "claude":
		return NewAnthropicChat(AnthropicConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		}), nil
	case "ollama":
		return NewOllamaChat(OllamaConfig{Host: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout})
	case "dummy":
		return NewScriptedChat(""), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

// OpenAIBaseURL is the OpenAI-compatible endpoint cfg talks to. Empty means
// the official API.
func OpenAIBaseURL(cfg ProviderConfig) string {
	if cfg.BaseURL == "" && strings.EqualFold(strings.TrimSpace(cfg.Provider), "aipipe") {
		return aipipeBaseURL
	}
	return cfg.BaseURL
}
