package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables honored for operator overrides.
const (
	EnvPort          = "API_PORT"
	EnvMaxConcurrent = "MAX_CONCURRENT"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Model  ModelConfig  `yaml:"model"`
	Engine EngineConfig `yaml:"engine"`
}

// ServerConfig defines listener and admission configuration.
type ServerConfig struct {
	Port        int `yaml:"port"`
	Concurrency int `yaml:"concurrency"`
}

// ModelConfig names the single model identifier this gateway exposes.
type ModelConfig struct {
	ID string `yaml:"id"`
}

// EngineConfig locates the generation runtime the gateway fronts.
type EngineConfig struct {
	BaseURL     string            `yaml:"base_url"`
	CanGenerate bool              `yaml:"can_generate"`
	Timeout     time.Duration     `yaml:"timeout"`
	Headers     map[string]string `yaml:"headers"`
}

// Default returns the built-in configuration used when no file is
// supplied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:        8000,
			Concurrency: 1,
		},
		Model: ModelConfig{
			ID: "gpt-3.5-turbo",
		},
		Engine: EngineConfig{
			BaseURL:     "http://127.0.0.1:8080",
			CanGenerate: true,
			Timeout:     5 * time.Minute,
		},
	}
}

// Load reads YAML configuration from disk, applies environment
// overrides, and validates the result. An empty path yields the
// defaults (still subject to environment overrides).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if raw := os.Getenv(EnvPort); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", EnvPort, raw)
		}
		c.Server.Port = port
	}

	if raw := os.Getenv(EnvMaxConcurrent); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", EnvMaxConcurrent, raw)
		}
		c.Server.Concurrency = limit
	}

	return nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.Server.Concurrency < 1 {
		return fmt.Errorf("server.concurrency must be at least 1, got %d", c.Server.Concurrency)
	}
	if strings.TrimSpace(c.Model.ID) == "" {
		return fmt.Errorf("model.id must not be empty")
	}
	if strings.TrimSpace(c.Engine.BaseURL) == "" {
		return fmt.Errorf("engine.base_url must not be empty")
	}
	if c.Engine.Timeout <= 0 {
		return fmt.Errorf("engine.timeout must be positive, got %s", c.Engine.Timeout)
	}

	for headerKey := range c.Engine.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("engine header %q is not a valid canonical HTTP header", headerKey)
		}
	}

	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
