package config

import "time"

// LLMConfig configures the semantic detection capability.
type LLMConfig struct {
	Provider string        `yaml:"provider"` // gemini, openai-compatible, null
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`

	// Retry policy for transient failures. Semantic detection is the only
	// network-bound stage; retries apply to nothing else.
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base"`
	RetryBackoffMax  time.Duration `yaml:"retry_backoff_max"`
}

// DefaultLLMConfig returns sensible defaults for the Gemini provider.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:         "gemini",
		Model:            "gemini-2.5-flash",
		Timeout:          2 * time.Minute,
		MaxRetries:       3,
		RetryBackoffBase: 1 * time.Second,
		RetryBackoffMax:  8 * time.Second,
	}
}
