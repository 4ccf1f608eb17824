// Package config loads memory-service configuration from YAML, .env files,
// the environment and the OS keyring.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rcliao/memory-service/internal/logging"
)

// Config is the full service configuration.
type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Dedup       DedupConfig       `yaml:"dedup"`
	Hybrid      HybridConfig      `yaml:"hybrid"`
	Retention   RetentionConfig   `yaml:"retention"`
	Retry       RetryConfig       `yaml:"retry"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logging     logging.Config    `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// StorageConfig selects the backend and the database file.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	// Pragmas overrides per-connection pragmas, e.g. "busy_timeout=10000,cache_size=20000".
	Pragmas      string `yaml:"pragmas"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"` // hash | ollama | openai | onnx
	Model      string        `yaml:"model"`
	URL        string        `yaml:"url"`
	APIKey     string        `yaml:"api_key"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
	// Fallback switches to the hash provider when the configured one fails to load.
	Fallback       bool       `yaml:"fallback"`
	QueryCacheSize int64      `yaml:"query_cache_size"`
	ONNX           ONNXConfig `yaml:"onnx"`
}

// ONNXConfig points at a local ONNX model.
type ONNXConfig struct {
	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`
	LibraryPath   string `yaml:"library_path"`
}

// DedupConfig controls semantic duplicate suppression at write time.
type DedupConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Window    time.Duration `yaml:"window"`
	Threshold float64       `yaml:"threshold"`
}

// HybridConfig holds the fusion weights for hybrid retrieval.
type HybridConfig struct {
	KeywordWeight  float64 `yaml:"keyword_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
}

// RetentionConfig controls how long tombstones survive.
type RetentionConfig struct {
	TombstoneDays int `yaml:"tombstone_days"`
}

// RetryConfig controls the lock-contention retry policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// MaintenanceConfig holds cron schedules. An empty schedule disables the job.
type MaintenanceConfig struct {
	PurgeSchedule  string `yaml:"purge_schedule"`
	DedupeSchedule string `yaml:"dedupe_schedule"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:      "sqlite_vec",
			Path:         DefaultDBPath(),
			MaxOpenConns: 4,
		},
		Embedding: EmbeddingConfig{
			Provider:       "hash",
			Dimensions:     384,
			Timeout:        30 * time.Second,
			Fallback:       true,
			QueryCacheSize: 1000,
		},
		Dedup: DedupConfig{
			Enabled:   true,
			Window:    24 * time.Hour,
			Threshold: 0.85,
		},
		Hybrid: HybridConfig{
			KeywordWeight:  0.3,
			SemanticWeight: 0.7,
		},
		Retention: RetentionConfig{TombstoneDays: 30},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    5 * time.Second,
		},
		Maintenance: MaintenanceConfig{
			PurgeSchedule:  "@daily",
			DedupeSchedule: "@weekly",
		},
		Logging: logging.Config{Level: "info", Format: "console"},
	}
}

// Dir returns the per-user state directory.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memory-service")
}

// DefaultDBPath returns the default database location.
func DefaultDBPath() string {
	return filepath.Join(Dir(), "memory.db")
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

var validProviders = map[string]bool{
	"hash":   true,
	"ollama": true,
	"openai": true,
	"onnx":   true,
}

var validBackends = map[string]bool{
	"sqlite_vec":  true,
	"cloudflare":  true,
	"hybrid":      true,
	"http_client": true,
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("storage.backend %q: want sqlite_vec, cloudflare, hybrid or http_client", c.Storage.Backend)
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if !validProviders[c.Embedding.Provider] {
		return fmt.Errorf("embedding.provider %q: want hash, ollama, openai or onnx", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("embedding.dimensions must not be negative")
	}
	if c.Dedup.Threshold < 0 || c.Dedup.Threshold > 1 {
		return fmt.Errorf("dedup.threshold %v: must be within [0,1]", c.Dedup.Threshold)
	}
	if c.Dedup.Enabled && c.Dedup.Window <= 0 {
		return fmt.Errorf("dedup.window must be positive")
	}
	if c.Hybrid.KeywordWeight < 0 || c.Hybrid.SemanticWeight < 0 {
		return fmt.Errorf("hybrid weights must not be negative")
	}
	if c.Retention.TombstoneDays < 0 {
		return fmt.Errorf("retention.tombstone_days must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	return nil
}
