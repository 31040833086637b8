// Package config loads the pipeline configuration from YAML, with
// environment-variable substitution so store credentials stay out of the
// file itself.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// StoreConfig selects and parameterizes the record-store backend.
type StoreConfig struct {
	Backend      string `yaml:"backend"`
	URL          string `yaml:"url"`
	Key          string `yaml:"key"`
	Timeout      string `yaml:"timeout"` // Go duration string, e.g. "30s"
	PostgresDSN  string `yaml:"postgres_dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// TimeoutDuration parses the configured request timeout.
func (c StoreConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// UploadConfig parameterizes the ingestion orchestrator.
type UploadConfig struct {
	BatchSize       int  `yaml:"batch_size"`
	MaxBatchRetries int  `yaml:"max_batch_retries"`
	ValidateRecords bool `yaml:"validate_records"`
}

// RankingConfig parameterizes the rank-aggregation engine.
type RankingConfig struct {
	Metric  string `yaml:"metric"`
	Workers int    `yaml:"workers"`
}

// APIConfig parameterizes the leaderboard HTTP API.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the top-level pipeline configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Upload  UploadConfig  `yaml:"upload"`
	Ranking RankingConfig `yaml:"ranking"`
	API     APIConfig     `yaml:"api"`
}

// Default returns the configuration used when no file is given. Store
// credentials come from the environment.
func Default() *Config {
	cfg := &Config{
		Store: StoreConfig{
			Backend: BackendREST,
			URL:     os.Getenv("SKYLIGHT_STORE_URL"),
			Key:     os.Getenv("SKYLIGHT_STORE_KEY"),
		},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendREST
	}
	if cfg.Store.Timeout == "" {
		cfg.Store.Timeout = "30s"
	}
	if cfg.Store.MaxOpenConns <= 0 {
		cfg.Store.MaxOpenConns = 10
	}
	if cfg.Upload.BatchSize <= 0 {
		cfg.Upload.BatchSize = 100
	}
	if cfg.Upload.MaxBatchRetries <= 0 {
		cfg.Upload.MaxBatchRetries = 10
	}
	if cfg.Ranking.Metric == "" {
		cfg.Ranking.Metric = "overall_score"
	}
	if cfg.Ranking.Workers <= 0 {
		// Multi-worker table computation is occasionally unstable against the
		// backing store; one worker is the safe default.
		cfg.Ranking.Workers = 1
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = ":8080"
	}
}

// Validate checks that the selected backend carries its required settings.
func Validate(cfg *Config) error { return validateConfig(cfg) }

func validateConfig(cfg *Config) error {
	if cfg.Store.Timeout != "" {
		if _, err := time.ParseDuration(cfg.Store.Timeout); err != nil {
			return fmt.Errorf("invalid store.timeout %q: %w", cfg.Store.Timeout, err)
		}
	}
	switch cfg.Store.Backend {
	case BackendREST:
		if cfg.Store.URL == "" {
			return fmt.Errorf("store.url is required for the rest backend (set SKYLIGHT_STORE_URL)")
		}
		if cfg.Store.Key == "" {
			return fmt.Errorf("store.key is required for the rest backend (set SKYLIGHT_STORE_KEY)")
		}
	case BackendPostgres:
		if cfg.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	return nil
}

// LoadFromFile reads, substitutes and validates a YAML configuration file.
func LoadFromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	substituted, err := SubstituteEnvVars(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to substitute environment variables: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(substituted), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
