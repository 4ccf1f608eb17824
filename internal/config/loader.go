package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

const keyringService = "memory-service"

// keyringGet is swapped in tests so they never touch the real keyring.
var keyringGet = keyring.Get

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Load reads configuration. An empty path falls back to $MEMORY_SERVICE_CONFIG
// and then to the default location; a missing default file is not an error.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	explicit := path != ""
	if path == "" {
		path = os.Getenv("MEMORY_SERVICE_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultConfigPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	resolveSecrets(cfg)
	cfg.Storage.Path = expandHome(cfg.Storage.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse expands ${VAR} references and overlays the YAML onto cfg.
func Parse(data []byte, cfg *Config) error {
	expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(m string) string {
		sub := envVarPattern.FindStringSubmatch(m)
		if v, ok := os.LookupEnv(sub[1]); ok {
			return v
		}
		return sub[2]
	})
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

// loadEnvFiles loads .env files without overriding the real environment.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("MEMORY_SERVICE_DB", &cfg.Storage.Path)
	str("MEMORY_SERVICE_BACKEND", &cfg.Storage.Backend)
	str("MEMORY_SERVICE_SQLITE_PRAGMAS", &cfg.Storage.Pragmas)
	str("MEMORY_SERVICE_EMBED_PROVIDER", &cfg.Embedding.Provider)
	str("MEMORY_SERVICE_EMBED_MODEL", &cfg.Embedding.Model)
	str("MEMORY_SERVICE_EMBED_URL", &cfg.Embedding.URL)
	str("MEMORY_SERVICE_LOG_LEVEL", &cfg.Logging.Level)
	str("MEMORY_SERVICE_METRICS_ADDR", &cfg.Metrics.Addr)
	if cfg.Embedding.Provider == "ollama" && cfg.Embedding.URL == "" {
		str("OLLAMA_HOST", &cfg.Embedding.URL)
	}

	if v := os.Getenv("MEMORY_SERVICE_EMBED_DIMS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MEMORY_SERVICE_EMBED_DIMS: %w", err)
		}
		cfg.Embedding.Dimensions = n
	}
	if v := os.Getenv("MEMORY_SERVICE_SEMANTIC_DEDUP"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MEMORY_SERVICE_SEMANTIC_DEDUP: %w", err)
		}
		cfg.Dedup.Enabled = b
	}
	if v := os.Getenv("MEMORY_SERVICE_DEDUP_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MEMORY_SERVICE_DEDUP_WINDOW: %w", err)
		}
		cfg.Dedup.Window = d
	}
	floats := []struct {
		key string
		dst *float64
	}{
		{"MEMORY_SERVICE_DEDUP_THRESHOLD", &cfg.Dedup.Threshold},
		{"MEMORY_SERVICE_KEYWORD_WEIGHT", &cfg.Hybrid.KeywordWeight},
		{"MEMORY_SERVICE_SEMANTIC_WEIGHT", &cfg.Hybrid.SemanticWeight},
	}
	for _, f := range floats {
		if v := os.Getenv(f.key); v != "" {
			x, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", f.key, err)
			}
			*f.dst = x
		}
	}
	if v := os.Getenv("MEMORY_SERVICE_RETENTION_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MEMORY_SERVICE_RETENTION_DAYS: %w", err)
		}
		cfg.Retention.TombstoneDays = n
	}
	return nil
}

// resolveSecrets fills the OpenAI key from the environment, then the OS
// keyring, leaving any YAML value as the last resort.
func resolveSecrets(cfg *Config) {
	if cfg.Embedding.Provider != "openai" {
		return
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
		return
	}
	if v, err := keyringGet(keyringService, "openai_api_key"); err == nil && v != "" {
		cfg.Embedding.APIKey = v
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
