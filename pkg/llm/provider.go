package llm

import (
	"context"
	"errors"
	"time"
)

// ErrNoContent is returned when the backend answers without any text.
var ErrNoContent = errors.New("no content in response")

// Provider produces text from a prompt. Implementations handle the
// protocol-specific request format, authentication, and response parsing.
type Provider interface {
	Complete(ctx context.Context, messages []Message) (*Response, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, messages []Message) (*Response, error)

// Complete calls f.
func (f ProviderFunc) Complete(ctx context.Context, messages []Message) (*Response, error) {
	return f(ctx, messages)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// HTTPTimeout returns the configured timeout or the 60s default.
func (c *Config) HTTPTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 60 * time.Second
}
