package chat

import (
	"errors"
	"testing"
)

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("429: rate limit exceeded"), true},
		{"quota", errors.New("Quota Exceeded for project"), true},
		{"server error", errors.New("upstream returned 503"), true},
		{"unavailable", errors.New("service UNAVAILABLE"), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"timeout", errors.New("context deadline exceeded (timeout)"), true},
		{"bad request", errors.New("invalid request payload"), false},
		{"auth", errors.New("401 unauthorized"), false},
		{"content policy", errors.New("blocked by safety settings"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryableError(tt.err); got != tt.want {
				t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxRetries <= 0 {
		t.Error("MaxRetries not positive")
	}
	if cfg.InitialInterval <= 0 || cfg.MaxInterval < cfg.InitialInterval {
		t.Errorf("intervals misconfigured: %+v", cfg)
	}
}
