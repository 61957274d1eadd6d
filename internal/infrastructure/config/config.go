// Package configinfra loads the host configuration from a YAML file and
// PLUGINHOST_* environment overrides.
package configinfra

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"kilometers.ai/pluginhost/internal/core/domain"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "PLUGINHOST"

// Config is the complete host configuration
type Config struct {
	Plugins PluginsConfig `yaml:"plugins"`
	Catalog CatalogConfig `yaml:"catalog"`
	Loader  LoaderConfig  `yaml:"loader"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

// PluginsConfig configures where plugin modules are fetched from
type PluginsConfig struct {
	// BaseURL is the plugin server modules are fetched from
	BaseURL string `yaml:"baseUrl" split_words:"true"`
	// Dir is a local plugins directory, used when BaseURL is empty
	Dir string `yaml:"dir" split_words:"true"`
	// Timeout bounds a single module fetch
	Timeout time.Duration `yaml:"timeout" split_words:"true"`
	// AllowAngular enables loading of legacy Angular plugins
	AllowAngular bool `yaml:"allowAngular" split_words:"true"`
	// CacheSize is the number of modules kept in memory (0 disables the cache)
	CacheSize int `yaml:"cacheSize" split_words:"true"`
}

// CatalogConfig configures where the plugin catalog is read from
type CatalogConfig struct {
	Path          string        `yaml:"path" split_words:"true"`
	URL           string        `yaml:"url" split_words:"true"`
	Watch         bool          `yaml:"watch" split_words:"true"`
	MaxRetries    uint64        `yaml:"maxRetries" split_words:"true"`
	RetryInterval time.Duration `yaml:"retryInterval" split_words:"true"`
}

// LoaderConfig configures the plugin loading pipelines
type LoaderConfig struct {
	// MaxConcurrency bounds concurrent fetches of a batch (0 = unbounded)
	MaxConcurrency    int    `yaml:"maxConcurrency" split_words:"true"`
	PreloadPolicy     string `yaml:"preloadPolicy" split_words:"true"`
	TransformerPolicy string `yaml:"transformerPolicy" split_words:"true"`
}

// ServerConfig configures the HTTP server of the serve command
type ServerConfig struct {
	Addr string `yaml:"addr" split_words:"true"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `yaml:"level" split_words:"true"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Plugins: PluginsConfig{
			BaseURL:   "",
			Dir:       "plugins",
			Timeout:   30 * time.Second,
			CacheSize: 256,
		},
		Catalog: CatalogConfig{
			Path:          "catalog.yaml",
			MaxRetries:    3,
			RetryInterval: 500 * time.Millisecond,
		},
		Loader: LoaderConfig{
			MaxConcurrency:    0,
			PreloadPolicy:     string(domain.IsolatePerItem),
			TransformerPolicy: string(domain.AbortOnFirstError),
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and environment overrides, then validates it
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}

	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return nil, fmt.Errorf("processing env var overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// PreloadFailurePolicy returns the parsed preload policy
func (c *Config) PreloadFailurePolicy() domain.FailurePolicy {
	policy, err := domain.ParseFailurePolicy(c.Loader.PreloadPolicy)
	if err != nil {
		return domain.IsolatePerItem
	}
	return policy
}

// TransformerFailurePolicy returns the parsed transformer policy
func (c *Config) TransformerFailurePolicy() domain.FailurePolicy {
	policy, err := domain.ParseFailurePolicy(c.Loader.TransformerPolicy)
	if err != nil {
		return domain.AbortOnFirstError
	}
	return policy
}
