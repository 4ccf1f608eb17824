package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/rcliao/memory-service/internal/config"
	"github.com/rcliao/memory-service/internal/logging"
)

// Key identifies a loaded model.
type Key struct {
	Provider string
	Model    string
	URL      string
	Dims     int
}

// entry keeps a handle and its discovered width together; they are never
// cached or evicted separately.
type entry struct {
	embedder Embedder
	dims     int
}

// Registry is a process-wide cache of loaded embedding models.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[Key]entry{}}
}

// Shared is the registry used by Load.
var Shared = NewRegistry()

// Get returns the cached model for key, or loads it. The lock is held across
// the load so two callers never race the same model into memory.
func (r *Registry) Get(ctx context.Context, key Key, load func(context.Context) (Embedder, error)) (Embedder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		return e.embedder, nil
	}

	emb, err := load(ctx)
	if err != nil {
		return nil, err
	}
	dims := emb.Dims()
	if dims <= 0 {
		probe, err := EncodeOne(ctx, emb, "dimension probe")
		if err != nil {
			return nil, fmt.Errorf("discover dimension for %s: %w", emb.Name(), err)
		}
		dims = len(probe)
	}
	if dims <= 0 {
		return nil, fmt.Errorf("%s reported an empty embedding", emb.Name())
	}

	sized := &sizedEmbedder{Embedder: emb, dims: dims}
	r.entries[key] = entry{embedder: sized, dims: dims}
	return sized, nil
}

// Len returns the number of loaded models.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

type sizedEmbedder struct {
	Embedder
	dims int
}

func (s *sizedEmbedder) Dims() int { return s.dims }

// Load returns the configured provider from the shared registry. When the
// provider cannot be loaded and cfg.Fallback is set, the hash provider is
// used instead.
func Load(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	key := Key{Provider: cfg.Provider, Model: cfg.Model, URL: cfg.URL, Dims: cfg.Dimensions}
	emb, err := Shared.Get(ctx, key, func(ctx context.Context) (Embedder, error) {
		return build(cfg)
	})
	if err == nil {
		return emb, nil
	}
	if !cfg.Fallback || cfg.Provider == "hash" {
		return nil, fmt.Errorf("%w: %s: %v (set embedding.fallback=true to use the hash provider)", ErrUnavailable, cfg.Provider, err)
	}

	logging.Warnf("embedding provider %s unavailable, falling back to hash embeddings: %v", cfg.Provider, err)
	hashKey := Key{Provider: "hash", Dims: cfg.Dimensions}
	return Shared.Get(ctx, hashKey, func(context.Context) (Embedder, error) {
		return NewHashEmbedder(cfg.Dimensions), nil
	})
}

func build(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "hash", "":
		return NewHashEmbedder(cfg.Dimensions), nil
	case "ollama":
		return NewOllamaEmbedder(cfg.URL, cfg.Model, cfg.Dimensions, cfg.Timeout), nil
	case "openai":
		if cfg.APIKey == "" && cfg.URL == "" {
			return nil, fmt.Errorf("openai provider needs OPENAI_API_KEY or embedding.url")
		}
		return NewOpenAIEmbedder(cfg.URL, cfg.APIKey, cfg.Model, cfg.Dimensions, cfg.Timeout), nil
	case "onnx":
		return newONNXEmbedder(cfg.ONNX, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
