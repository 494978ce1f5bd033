// Package llm provides the external text-understanding capability used by
// semantic boundary detection. The capability is untrusted, rate-limited,
// and non-deterministic; it is never the sole source of a boundary, and a
// NullClient stub keeps tests deterministic.
package llm

import (
	"context"
	"fmt"

	"scansplit/internal/config"
)

// Client defines the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// NullClient is a deterministic stub that always returns a fixed response.
// Used when semantic detection is disabled and in tests.
type NullClient struct {
	Response string
	Err      error
}

// Complete returns the canned response.
func (c *NullClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem returns the canned response.
func (c *NullClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.Err != nil {
		return "", c.Err
	}
	return c.Response, nil
}

// NewFromConfig builds a client for the configured provider.
func NewFromConfig(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "gemini", "":
		return NewGeminiClient(cfg)
	case "openai-compatible":
		return NewOpenAIClient(cfg), nil
	case "null":
		return &NullClient{Response: `{"segments": []}`}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
