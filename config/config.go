// Package config defines the agentrun runtime configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level agentrun configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Backend   BackendConfig   `json:"backend" yaml:"backend"`
	Loop      LoopConfig      `json:"loop" yaml:"loop"`
	Workspace WorkspaceConfig `json:"workspace" yaml:"workspace"`
	DataDir   string          `json:"data_dir" yaml:"data_dir"`
	LogLevel  string          `json:"log_level" yaml:"log_level"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":9090"
}

// BackendConfig selects and configures the model backend a Provider
// streams against.
type BackendConfig struct {
	Kind    string `json:"kind" yaml:"kind"` // "ollama", "openai", "anthropic", "mock"
	BaseURL string `json:"base_url,omitempty" yaml:"base_url"`
	APIKey  string `json:"api_key,omitempty" yaml:"api_key"` // falls back to a per-kind env var when empty
	Model   string `json:"model" yaml:"model"`
}

// LoopConfig holds the orchestrator defaults applied to every run unless
// a request overrides them.
type LoopConfig struct {
	MaxIterations int    `json:"max_iterations" yaml:"max_iterations"`
	SystemPrompt  string `json:"system_prompt" yaml:"system_prompt"`
}

// WorkspaceConfig controls the sandbox the file and shell tools operate
// against.
type WorkspaceConfig struct {
	Path         string `json:"path" yaml:"path"`
	DockerImage  string `json:"docker_image,omitempty" yaml:"docker_image"` // empty disables container sandboxing
	BrowserTools bool   `json:"browser_tools" yaml:"browser_tools"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":9090",
		},
		Backend: BackendConfig{
			Kind:  "ollama",
			Model: "llama3",
		},
		Loop: LoopConfig{
			MaxIterations: 10,
			SystemPrompt:  "You are a local-first autonomous agent. Use the tools available to you to complete the user's request, then give a final answer.",
		},
		Workspace: WorkspaceConfig{
			Path: "./workspace",
		},
		DataDir:  "./data",
		LogLevel: "info",
	}
}

// Load reads a YAML config file and returns the parsed configuration,
// merged over DefaultConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
