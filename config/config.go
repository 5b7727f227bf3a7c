// Package config loads agent world configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for one hosted world.
type Config struct {
	World   WorldConfig   `yaml:"world"`
	Agents  []AgentConfig `yaml:"agents"`
	LLM     LLMConfig     `yaml:"llm"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// WorldConfig describes the world container.
type WorldConfig struct {
	ID               string `yaml:"id"`
	Name             string `yaml:"name"`
	TurnLimit        int    `yaml:"turn_limit"`
	MaxIterations    int    `yaml:"max_iterations"`
	WorkingDirectory string `yaml:"working_directory"`
	CommandTimeoutMs int    `yaml:"command_timeout_ms"`
}

// AgentConfig describes one agent in the world.
type AgentConfig struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Provider     string   `yaml:"provider"`
	Model        string   `yaml:"model"`
	SystemPrompt string   `yaml:"system_prompt"`
	Temperature  *float64 `yaml:"temperature,omitempty"`
}

// LLMConfig controls provider access.
type LLMConfig struct {
	MaxConcurrentCalls int               `yaml:"max_concurrent_calls"`
	MaxRetries         int               `yaml:"max_retries"`
	Stream             bool              `yaml:"stream"`
	APIKeys            map[string]string `yaml:"api_keys,omitempty"`
}

// StorageConfig points at the durable store.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns a runnable single-agent configuration.
func DefaultConfig() *Config {
	return &Config{
		World: WorldConfig{
			ID:               "default-world",
			Name:             "Default World",
			TurnLimit:        5,
			MaxIterations:    10,
			WorkingDirectory: ".",
			CommandTimeoutMs: 30000,
		},
		Agents: []AgentConfig{
			{
				ID:           "assistant",
				Name:         "Assistant",
				Provider:     "openai",
				Model:        "gpt-4o-mini",
				SystemPrompt: "You are a helpful assistant.",
			},
		},
		LLM: LLMConfig{
			MaxConcurrentCalls: 4,
			MaxRetries:         2,
			Stream:             true,
		},
		Storage: StorageConfig{
			Path: filepath.Join(".agent-world", "world.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path. A missing file yields the defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks the fields the runtime depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.World.ID == "" {
		errs = append(errs, errors.New("world.id is required"))
	}
	if c.World.TurnLimit <= 0 {
		errs = append(errs, fmt.Errorf("world.turn_limit must be positive, got %d", c.World.TurnLimit))
	}
	if c.World.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("world.max_iterations must be positive, got %d", c.World.MaxIterations))
	}
	if c.LLM.MaxConcurrentCalls <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_concurrent_calls must be positive, got %d", c.LLM.MaxConcurrentCalls))
	}
	seen := make(map[string]bool)
	for i, a := range c.Agents {
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("agents[%d].id is required", i))
			continue
		}
		if seen[a.ID] {
			errs = append(errs, fmt.Errorf("duplicate agent id %q", a.ID))
		}
		seen[a.ID] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// APIKey returns the configured key for provider, if any.
func (c *Config) APIKey(provider string) string {
	if c.LLM.APIKeys == nil {
		return ""
	}
	return c.LLM.APIKeys[provider]
}

func (c *Config) applyEnvOverrides() {
	if c.LLM.APIKeys == nil {
		c.LLM.APIKeys = make(map[string]string)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKeys["openai"] = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.APIKeys["anthropic"] = key
	}
	if path := os.Getenv("AGENT_WORLD_DB"); path != "" {
		c.Storage.Path = path
	}
	if level := os.Getenv("AGENT_WORLD_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if v := os.Getenv("AGENT_WORLD_MAX_CONCURRENT_LLM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LLM.MaxConcurrentCalls = n
		}
	}
}
