// Package config loads and validates the renku.yml project configuration.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for the project configuration.
const DefaultPath = "renku.yml"

// Config represents the top-level renku.yml configuration.
type Config struct {
	Version   string           `yaml:"version"`
	Movie     MovieConfig      `yaml:"movie"`
	Storage   StorageConfig    `yaml:"storage"`
	Execution *ExecutionConfig `yaml:"execution,omitempty"`
}

// MovieConfig names the movie and its source documents.
type MovieConfig struct {
	ID        string `yaml:"id"`
	Label     string `yaml:"label,omitempty"`
	Blueprint string `yaml:"blueprint"`        // path to the blueprint YAML
	Inputs    string `yaml:"inputs,omitempty"` // path to the inputs YAML
}

// StorageConfig selects and parameterises the storage backend.
type StorageConfig struct {
	Backend string       `yaml:"backend"`        // "local", "redis", or "memory"
	Root    string       `yaml:"root,omitempty"` // local backend root directory
	Redis   *RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig parameterises the redis backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"` // host:port, REDIS_ADDR overrides
	DB        int    `yaml:"db,omitempty"`
	Namespace string `yaml:"namespace,omitempty"` // defaults to the movie id
}

// ExecutionConfig carries execution defaults the flags can override.
type ExecutionConfig struct {
	Concurrency int    `yaml:"concurrency,omitempty"` // default 1
	Mode        string `yaml:"mode,omitempty"`        // "live", "simulated", or "mock"
}

// Validate performs strict validation on the configuration.
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Movie.ID == "" {
		return fmt.Errorf("movie.id is required")
	}
	if c.Movie.Blueprint == "" {
		return fmt.Errorf("movie.blueprint is required")
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.Root == "" {
			return fmt.Errorf("storage.root is required for the local backend")
		}
	case "redis":
		if c.Storage.Redis == nil || c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis backend")
		}
	case "memory":
		// nothing to configure
	default:
		return fmt.Errorf("unknown storage backend: %q (expected local, redis, or memory)", c.Storage.Backend)
	}

	if c.Execution != nil {
		if c.Execution.Concurrency < 0 {
			return fmt.Errorf("execution.concurrency cannot be negative")
		}
		switch c.Execution.Mode {
		case "", "live", "simulated", "mock":
		default:
			return fmt.Errorf("unknown execution mode: %q (expected live, simulated, or mock)", c.Execution.Mode)
		}
	}

	return nil
}

// Concurrency returns the configured execution concurrency, defaulting to 1.
func (c *Config) Concurrency() int {
	if c.Execution == nil || c.Execution.Concurrency < 1 {
		return 1
	}
	return c.Execution.Concurrency
}

// Mode returns the configured execution mode, defaulting to "mock".
func (c *Config) Mode() string {
	if c.Execution == nil || c.Execution.Mode == "" {
		return "mock"
	}
	return c.Execution.Mode
}

// RedisNamespace returns the redis key namespace, defaulting to the movie id.
func (c *Config) RedisNamespace() string {
	if c.Storage.Redis != nil && c.Storage.Redis.Namespace != "" {
		return c.Storage.Redis.Namespace
	}
	return c.Movie.ID
}

// Load reads and validates the configuration at path. The REDIS_ADDR
// environment variable overrides storage.redis.addr so the same renku.yml
// works inside and outside containers.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration bytes. Unknown fields are
// rejected so typos fail loudly.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" && cfg.Storage.Redis != nil {
		cfg.Storage.Redis.Addr = addr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
