package config

import "fmt"

// LLMConfig configures the language-model client.
type LLMConfig struct {
	Provider string `yaml:"provider"` // anthropic, openai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`

	// MinRequestInterval is the client-side rate limit between calls,
	// e.g. "600ms". Empty disables the limiter.
	MinRequestInterval string `yaml:"min_request_interval"`
}

// DefaultLLMConfig returns sensible defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:           "anthropic",
		Model:              "claude-sonnet-4-20250514",
		Timeout:            "120s",
		MinRequestInterval: "600ms",
	}
}

// Validate checks the LLM section.
func (c LLMConfig) Validate() error {
	switch c.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unsupported llm provider: %s (use 'anthropic' or 'openai')", c.Provider)
	}
	return nil
}
