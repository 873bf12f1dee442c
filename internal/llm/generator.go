package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior conversational turn handed to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator is the single model capability consumed by every flow. History
// already ends with the message the reply is for.
type Generator interface {
	Generate(ctx context.Context, system string, history []Message) (string, error)
}

// Config controls generator construction.
type Config struct {
	Provider string
	Fallback string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	GroqAPIKey  string
	GroqModel   string
	GroqBaseURL string

	AnthropicAPIKey  string
	AnthropicModel   string
	AnthropicBaseURL string

	MaxTokens   int
	Temperature float64
	Timeout     time.Duration

	MaxRetries   int
	RetryBase    time.Duration
	RetryMaxWait time.Duration
}

// New selects the provider once, at construction. Retry wraps each provider
// individually; a distinct Fallback provider is tried when the primary fails.
func New(cfg Config) (Generator, error) {
	primary, err := newProvider(cfg.Provider, cfg)
	if err != nil {
		return nil, err
	}
	primary = withRetry(primary, cfg)

	fb := strings.ToLower(strings.TrimSpace(cfg.Fallback))
	if fb == "" || fb == strings.ToLower(strings.TrimSpace(cfg.Provider)) {
		return primary, nil
	}
	secondary, err := newProvider(fb, cfg)
	if err != nil {
		return nil, fmt.Errorf("fallback provider: %w", err)
	}
	return NewFallbackGenerator(primary, withRetry(secondary, cfg)), nil
}

func newProvider(name string, cfg Config) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, errors.New("openai provider requires OPENAI_API_KEY")
		}
		return NewOpenAIGenerator(ProviderOpenAI, cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg), nil
	case "groq":
		if strings.TrimSpace(cfg.GroqAPIKey) == "" {
			return nil, errors.New("groq provider requires GROQ_API_KEY")
		}
		base := cfg.GroqBaseURL
		if strings.TrimSpace(base) == "" {
			base = defaultGroqBaseURL
		}
		return NewOpenAIGenerator(ProviderGroq, cfg.GroqAPIKey, base, cfg.GroqModel, cfg), nil
	case "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, errors.New("anthropic provider requires ANTHROPIC_API_KEY")
		}
		return NewAnthropicGenerator(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, cfg.AnthropicModel, cfg), nil
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", name)
	}
}

func withRetry(g Generator, cfg Config) Generator {
	if cfg.MaxRetries <= 0 {
		return g
	}
	return NewRetryGenerator(g, cfg.MaxRetries, cfg.RetryBase, cfg.RetryMaxWait)
}
