package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// QueryCache memoizes query embeddings. A nil *QueryCache is valid and
// caches nothing.
type QueryCache struct {
	cache *ristretto.Cache
}

// NewQueryCache creates a cache holding up to size query vectors.
// size <= 0 returns a nil cache.
func NewQueryCache(size int64) (*QueryCache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}
	return &QueryCache{cache: c}, nil
}

func cacheKey(model, text string) string {
	return model + "\x00" + text
}

// Get returns a cached vector.
func (c *QueryCache) Get(model, text string) (Vector, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.cache.Get(cacheKey(model, text))
	if !ok {
		return nil, false
	}
	vec, ok := v.(Vector)
	return vec, ok
}

// Set stores a vector and waits for the write to become visible.
func (c *QueryCache) Set(model, text string, v Vector) {
	if c == nil {
		return
	}
	c.cache.Set(cacheKey(model, text), v, 1)
	c.cache.Wait()
}

// Encode returns the embedding for text, consulting the cache first.
func (c *QueryCache) Encode(ctx context.Context, e Embedder, text string) (Vector, error) {
	if v, ok := c.Get(e.Name(), text); ok {
		return v, nil
	}
	v, err := EncodeOne(ctx, e, text)
	if err != nil {
		return nil, err
	}
	c.Set(e.Name(), text, v)
	return v, nil
}

// Close releases the cache.
func (c *QueryCache) Close() {
	if c != nil {
		c.cache.Close()
	}
}
