package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// RetryConfig tunes retries of the model call.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns defaults sized for LLM API flakiness.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryableError reports whether the model call is worth repeating.
// Provider SDKs wrap transport errors inconsistently, so this matches
// on message text.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(),
		"rate limit", "quota exceeded", "429",
		"500", "502", "503", "504", "unavailable",
		"connection reset", "timeout", "temporary",
	)
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// generateWithRetry runs the model call with exponential backoff.
// Each attempt waits on the rate limiter first. Once any output has
// reached the caller the stream cannot be replayed, so emitted()
// disables further retries and the error surfaces as a stream failure.
func (c *Chat) generateWithRetry(ctx context.Context, emitted func() bool, opts []ai.GenerateOption) (*ai.ModelResponse, error) {
	var lastErr error
	delay := c.retryConfig.InitialInterval

	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		if c.rateLimiter != nil {
			if err := c.rateLimiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := genkit.Generate(ctx, c.g, opts...)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !retryableError(err) || emitted() || attempt == c.retryConfig.MaxRetries {
			break
		}

		c.logger.Debug("retrying model call", "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, c.retryConfig.MaxInterval)
		}
	}

	return nil, fmt.Errorf("model call: %w", lastErr)
}
