package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/antoniostano/careflow/internal/reliability"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultGroqModel   = "llama-3.3-70b-versatile"
	defaultGroqBaseURL = "https://api.groq.com/openai/v1"
	defaultMaxTokens   = 1024
)

// OpenAIGenerator talks to the Chat Completions API. Groq is served by the
// same client pointed at its OpenAI-compatible base URL.
type OpenAIGenerator struct {
	provider    string
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

func NewOpenAIGenerator(provider, apiKey, baseURL, model string, cfg Config) *OpenAIGenerator {
	oc := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if u := strings.TrimSpace(baseURL); u != "" {
		oc.BaseURL = strings.TrimRight(u, "/")
	}
	if strings.TrimSpace(model) == "" {
		model = defaultOpenAIModel
		if provider == ProviderGroq {
			model = defaultGroqModel
		}
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &OpenAIGenerator{
		provider:    provider,
		client:      openai.NewClientWithConfig(oc),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(cfg.Temperature),
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, system string, history []Message) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    msgs,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return "", g.wrapError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: g.provider, Err: ErrEmptyCompletion}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &ProviderError{Provider: g.provider, Err: ErrEmptyCompletion}
	}
	return text, nil
}

func (g *OpenAIGenerator) wrapError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:   g.provider,
			StatusCode: apiErr.HTTPStatusCode,
			Retryable:  reliability.IsRetryableHTTPStatus(apiErr.HTTPStatusCode),
			Err:        err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{
			Provider:   g.provider,
			StatusCode: reqErr.HTTPStatusCode,
			Retryable:  reliability.IsRetryableHTTPStatus(reqErr.HTTPStatusCode),
			Err:        err,
		}
	}
	// Transport failures without a status are worth another attempt.
	return &ProviderError{Provider: g.provider, Retryable: true, Err: fmt.Errorf("chat completion: %w", err)}
}
