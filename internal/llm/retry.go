package llm

import (
	"context"
	"errors"
	"time"

	"github.com/antoniostano/careflow/internal/reliability"
)

// RetryGenerator re-issues calls that failed with a retryable ProviderError,
// backing off exponentially between attempts.
type RetryGenerator struct {
	next       Generator
	maxRetries int
	base       time.Duration
	maxWait    time.Duration
	sleep      func(context.Context, time.Duration) error
}

func NewRetryGenerator(next Generator, maxRetries int, base, maxWait time.Duration) *RetryGenerator {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if maxWait <= 0 {
		maxWait = 4 * time.Second
	}
	return &RetryGenerator{
		next:       next,
		maxRetries: maxRetries,
		base:       base,
		maxWait:    maxWait,
		sleep:      sleepContext,
	}
}

func (g *RetryGenerator) Generate(ctx context.Context, system string, history []Message) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		text, err := g.next.Generate(ctx, system, history)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if attempt == g.maxRetries || !IsRetryable(err) {
			break
		}
		wait := reliability.ExponentialBackoff(attempt, g.base, g.maxWait)
		var pe *ProviderError
		if errors.As(err, &pe) && pe.RetryAfter > 0 {
			wait = min(pe.RetryAfter, g.maxWait)
		}
		if err := g.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
