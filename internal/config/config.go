// Package config loads and validates the Jot service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Kernel  KernelConfig  `yaml:"kernel"`
	LLM     LLMConfig     `yaml:"llm"`
	Files   FilesConfig   `yaml:"files"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig covers the serving surface.
type ServerConfig struct {
	Host        string `yaml:"host"`
	MetricsPort int    `yaml:"metrics_port"`
}

// KernelConfig points at the remote execution kernel.
type KernelConfig struct {
	// URL is the websocket endpoint of the kernel gateway,
	// e.g. ws://localhost:8888/ws/default.
	URL string `yaml:"url"`

	// KernelID selects the kernel session on the gateway.
	KernelID string `yaml:"kernel_id"`

	// ExecuteTimeout bounds a single cell execution end to end.
	ExecuteTimeout time.Duration `yaml:"execute_timeout"`

	// PingInterval is the keepalive cadence on the bridge connection.
	PingInterval time.Duration `yaml:"ping_interval"`
}

// LLMConfig selects and configures model providers.
type LLMConfig struct {
	// DefaultProvider is used when a request does not name one:
	// "anthropic", "openai", or "google".
	DefaultProvider string `yaml:"default_provider"`

	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Google    ProviderConfig `yaml:"google"`

	// MaxTokens caps completion length per turn.
	MaxTokens int `yaml:"max_tokens"`
}

// ProviderConfig configures one model provider.
type ProviderConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// FilesConfig scopes the assistant's file tools.
type FilesConfig struct {
	// Workspace is the directory all file actions are sandboxed to.
	Workspace string `yaml:"workspace"`

	// MaxReadBytes bounds a single readFile result.
	MaxReadBytes int `yaml:"max_read_bytes"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Path is the SQLite database file; empty selects the in-memory store.
	Path string `yaml:"path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a YAML config file, expands ${ENV} references, applies
// environment overrides, and fills defaults. A missing file yields the
// default configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9109
	}
	if c.Kernel.URL == "" {
		c.Kernel.URL = "ws://127.0.0.1:8888/ws/execution"
	}
	if c.Kernel.ExecuteTimeout == 0 {
		c.Kernel.ExecuteTimeout = 5 * time.Minute
	}
	if c.Kernel.PingInterval == 0 {
		c.Kernel.PingInterval = 15 * time.Second
	}
	if c.LLM.DefaultProvider == "" {
		c.LLM.DefaultProvider = "anthropic"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4096
	}
	if c.LLM.Anthropic.Model == "" {
		c.LLM.Anthropic.Model = "claude-sonnet-4-20250514"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o"
	}
	if c.LLM.Google.Model == "" {
		c.LLM.Google.Model = "gemini-2.0-flash"
	}
	if c.Files.Workspace == "" {
		c.Files.Workspace = "workspace"
	}
	if c.Files.MaxReadBytes == 0 {
		c.Files.MaxReadBytes = 200000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.LLM.Anthropic.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.OpenAI.APIKey = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		c.LLM.Google.APIKey = v
	}
	if v := os.Getenv("JOT_KERNEL_URL"); v != "" {
		c.Kernel.URL = v
	}
	if v := os.Getenv("JOT_WORKSPACE"); v != "" {
		c.Files.Workspace = v
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.LLM.DefaultProvider {
	case "anthropic", "openai", "google":
	default:
		return fmt.Errorf("llm.default_provider %q is not one of anthropic, openai, google", c.LLM.DefaultProvider)
	}
	if c.Kernel.ExecuteTimeout < 0 {
		return fmt.Errorf("kernel.execute_timeout must be positive")
	}
	if c.Files.MaxReadBytes < 0 {
		return fmt.Errorf("files.max_read_bytes must be positive")
	}
	return nil
}
