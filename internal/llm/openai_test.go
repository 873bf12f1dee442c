package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIGeneratorSendsSystemAndHistory(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q, want /v1/chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  Tell me more.  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(ProviderGroq, "test-key", srv.URL+"/v1", "", Config{})
	text, err := g.Generate(context.Background(), "system prompt", []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "cough"},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "Tell me more." {
		t.Fatalf("text = %q, want %q", text, "Tell me more.")
	}
	if got.Model != defaultGroqModel {
		t.Fatalf("model = %q, want %q", got.Model, defaultGroqModel)
	}
	if len(got.Messages) != 4 || got.Messages[0].Role != "system" || got.Messages[2].Role != "assistant" {
		t.Fatalf("messages = %+v", got.Messages)
	}
}

func TestOpenAIGeneratorClassifiesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(ProviderOpenAI, "k", srv.URL+"/v1", "gpt-test", Config{})
	_, err := g.Generate(context.Background(), "", []Message{{Role: RoleUser, Content: "x"}})
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
	if pe.StatusCode != http.StatusTooManyRequests || !pe.Retryable {
		t.Fatalf("ProviderError = %+v, want retryable 429", pe)
	}
}

func TestOpenAIGeneratorEmptyCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(ProviderOpenAI, "k", srv.URL+"/v1", "gpt-test", Config{})
	_, err := g.Generate(context.Background(), "", []Message{{Role: RoleUser, Content: "x"}})
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("error = %v, want ErrEmptyCompletion", err)
	}
	if IsRetryable(err) {
		t.Fatalf("IsRetryable(%v) = true, want false", err)
	}
}
