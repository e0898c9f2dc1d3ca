// Package config loads the YAML configuration for the worklens service.
//
// Credentials are never stored in the file itself: each secret field
// names an environment variable (typically populated from a .env file)
// that holds the actual value.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// TrackerConfig holds connection details for the Azure DevOps instance
// the mirror syncs from.
type TrackerConfig struct {
	BaseURL      string `yaml:"base_url"`
	Organization string `yaml:"organization"`
	Project      string `yaml:"project"`
	PATEnv       string `yaml:"pat_env"`
	APIVersion   string `yaml:"api_version"`
	AreaPath     string `yaml:"area_path"`
	TimeoutSecs  int    `yaml:"timeout_secs"`
}

// OpenAIConfig configures the OpenAI chat + embeddings client.
type OpenAIConfig struct {
	APIKeyEnv      string `yaml:"api_key_env"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
}

// AnthropicConfig configures the Anthropic chat client.
type AnthropicConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

// LLMConfig selects the chat provider. Embeddings always come from
// OpenAI; Anthropic has no embeddings API, so when it is selected for
// chat the OpenAI client still serves Embed.
type LLMConfig struct {
	ChatProvider string          `yaml:"chat_provider"`
	OpenAI       OpenAIConfig    `yaml:"openai"`
	Anthropic    AnthropicConfig `yaml:"anthropic"`
}

// Config is the root configuration structure.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	DataDir  string        `yaml:"data_dir"`
	Tracker  TrackerConfig `yaml:"tracker"`
	LLM      LLMConfig     `yaml:"llm"`
}

// Load reads a config from path. A missing file yields defaults, so a
// fully env-driven deployment needs no config file at all.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// DefaultPath returns the per-user config location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "worklens", "config.yaml"), nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".worklens")
		} else {
			cfg.DataDir = ".worklens"
		}
	}
	if cfg.Tracker.BaseURL == "" {
		cfg.Tracker.BaseURL = "https://dev.azure.com"
	}
	if cfg.Tracker.PATEnv == "" {
		cfg.Tracker.PATEnv = "AZURE_DEVOPS_PAT"
	}
	if cfg.Tracker.APIVersion == "" {
		cfg.Tracker.APIVersion = "7.1"
	}
	if cfg.Tracker.TimeoutSecs == 0 {
		cfg.Tracker.TimeoutSecs = 30
	}
	if cfg.LLM.ChatProvider == "" {
		cfg.LLM.ChatProvider = "openai"
	}
	if cfg.LLM.OpenAI.APIKeyEnv == "" {
		cfg.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.LLM.OpenAI.Model == "" {
		cfg.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.LLM.OpenAI.EmbeddingModel == "" {
		cfg.LLM.OpenAI.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.LLM.Anthropic.APIKeyEnv == "" {
		cfg.LLM.Anthropic.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if cfg.LLM.Anthropic.Model == "" {
		cfg.LLM.Anthropic.Model = "claude-3-5-sonnet-20241022"
	}
}
