package llm

import (
	"fmt"
	"time"

	"timeclerk/internal/config"
)

// NewFromConfig builds a Client from the service configuration.
func NewFromConfig(cfg config.LLMConfig) (Client, error) {
	timeout := 120 * time.Second
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid llm timeout %q: %w", cfg.Timeout, err)
		}
		timeout = d
	}

	switch cfg.Provider {
	case "anthropic":
		c := DefaultAnthropicConfig(cfg.APIKey)
		c.Timeout = timeout
		if cfg.Model != "" {
			c.Model = cfg.Model
		}
		if cfg.BaseURL != "" {
			c.BaseURL = cfg.BaseURL
		}
		if cfg.MinRequestInterval != "" {
			d, err := time.ParseDuration(cfg.MinRequestInterval)
			if err != nil {
				return nil, fmt.Errorf("invalid min_request_interval %q: %w", cfg.MinRequestInterval, err)
			}
			c.MinInterval = d
		}
		return NewAnthropicClient(c), nil

	case "openai":
		c := DefaultOpenAIConfig(cfg.APIKey)
		c.Timeout = timeout
		if cfg.Model != "" {
			c.Model = cfg.Model
		}
		if cfg.BaseURL != "" {
			c.BaseURL = cfg.BaseURL
		}
		if cfg.MinRequestInterval != "" {
			d, err := time.ParseDuration(cfg.MinRequestInterval)
			if err != nil {
				return nil, fmt.Errorf("invalid min_request_interval %q: %w", cfg.MinRequestInterval, err)
			}
			c.MinInterval = d
		}
		return NewOpenAIClient(c), nil

	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}
