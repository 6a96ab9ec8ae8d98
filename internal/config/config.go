// Package config loads and validates the timeclerk service configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all timeclerk configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// StateDir holds the sqlite databases and log files.
	StateDir string `yaml:"state_dir"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Long-term memory configuration
	Memory MemoryConfig `yaml:"memory"`

	// Channel formatting policy file
	Channels ChannelsConfig `yaml:"channels"`

	// Outbound delivery gateways
	Delivery DeliveryConfig `yaml:"delivery"`

	// Time-tracking provider
	Provider ProviderConfig `yaml:"provider"`

	// Inbound HTTP server
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// Load reads a config file and fills in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	return &Config{
		Name:      "timeclerk",
		Version:   "0.1.0",
		StateDir:  ".timeclerk",
		LLM:       DefaultLLMConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Memory:    DefaultMemoryConfig(),
		Channels:  DefaultChannelsConfig(),
		Delivery:  DefaultDeliveryConfig(),
		Provider:  DefaultProviderConfig(),
		Server:    DefaultServerConfig(),
		Logging:   DefaultLoggingConfig(),
	}
}

// Validate reports configuration errors that make the service unstartable.
func (c *Config) Validate() error {
	if c.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Memory.Validate(); err != nil {
		return err
	}
	return nil
}

// DirectoryDBPath returns the path of the directory/history database.
func (c *Config) DirectoryDBPath() string {
	return filepath.Join(c.StateDir, "directory.db")
}

// MemoryDBPath returns the path of the long-term memory database.
func (c *Config) MemoryDBPath() string {
	return filepath.Join(c.StateDir, "memory.db")
}
