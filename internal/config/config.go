// Package config loads and validates scansplit configuration from
// .scansplit/config.yaml, with environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all scansplit configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Detection strategy configuration
	Detect DetectConfig `yaml:"detect"`

	// Consensus engine configuration
	Consensus ConsensusConfig `yaml:"consensus"`

	// Namespace isolation configuration
	Isolation IsolationConfig `yaml:"isolation"`

	// Pipeline concurrency and timeouts
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Semantic LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig controls the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// Default returns a fully populated configuration with defaults applied.
func Default() *Config {
	return &Config{
		Name:      "scansplit",
		Version:   "1.0.0",
		Detect:    DefaultDetectConfig(),
		Consensus: DefaultConsensusConfig(),
		Isolation: DefaultIsolationConfig(),
		Pipeline:  DefaultPipelineConfig(),
		LLM:       DefaultLLMConfig(),
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads configuration from the workspace, falling back to defaults when
// no config file exists. Environment overrides are applied last.
func Load(workspace string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(workspace, ".scansplit", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides reads secrets from the environment so API keys never
// have to live in the config file.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("SCANSPLIT_GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Detect.Validate(); err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	if err := c.Consensus.Validate(); err != nil {
		return fmt.Errorf("consensus: %w", err)
	}
	if err := c.Isolation.Validate(); err != nil {
		return fmt.Errorf("isolation: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}
