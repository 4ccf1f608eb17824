package store

import (
	"context"
	"fmt"

	"github.com/rcliao/memory-service/internal/config"
	"github.com/rcliao/memory-service/internal/embedding"
	"github.com/rcliao/memory-service/internal/metrics"
)

// Backend is the closed set of storage backends.
type Backend string

const (
	BackendSQLiteVec  Backend = "sqlite_vec"
	BackendCloudflare Backend = "cloudflare"
	BackendHybrid     Backend = "hybrid"
	BackendHTTPClient Backend = "http_client"
)

// ParseBackend resolves a configured backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case BackendSQLiteVec, BackendCloudflare, BackendHybrid, BackendHTTPClient:
		return b, nil
	case "":
		return BackendSQLiteVec, nil
	}
	return "", fmt.Errorf("%w: %q (want sqlite_vec, cloudflare, hybrid or http_client)", ErrUnsupportedBackend, s)
}

// OptionsFromConfig maps service configuration onto SQLite store options.
func OptionsFromConfig(cfg *config.Config, emb embedding.Embedder, cache *embedding.QueryCache, m *metrics.Metrics) Options {
	return Options{
		Path:           cfg.Storage.Path,
		Pragmas:        cfg.Storage.Pragmas,
		MaxOpenConns:   cfg.Storage.MaxOpenConns,
		Embedder:       emb,
		QueryCache:     cache,
		SemanticDedup:  cfg.Dedup.Enabled,
		DedupWindow:    cfg.Dedup.Window,
		DedupThreshold: cfg.Dedup.Threshold,
		KeywordWeight:  cfg.Hybrid.KeywordWeight,
		SemanticWeight: cfg.Hybrid.SemanticWeight,
		Retry: RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
		Metrics: m,
	}
}

// Open builds the configured backend. Only sqlite_vec is compiled in.
func Open(ctx context.Context, backend Backend, opts Options) (Store, error) {
	switch backend {
	case BackendSQLiteVec:
		s, err := NewSQLiteStore(ctx, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendCloudflare, BackendHybrid, BackendHTTPClient:
		return nil, fmt.Errorf("%w: %s is not built into this binary, use sqlite_vec", ErrUnsupportedBackend, backend)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, backend)
}
