package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockGenerator provides deterministic local replies when no provider is
// configured. Requests that ask for JSON get an empty object so callers take
// their conservative defaults.
type MockGenerator struct{}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

func (g *MockGenerator) Generate(ctx context.Context, system string, history []Message) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	last := ""
	if len(history) > 0 {
		last = strings.TrimSpace(history[len(history)-1].Content)
	}
	if strings.Contains(strings.ToLower(system), "json") || strings.Contains(strings.ToLower(last), "json") {
		return "{}", nil
	}
	if last == "" {
		last = "I am listening."
	}
	return fmt.Sprintf("I heard you: %s", last), nil
}
