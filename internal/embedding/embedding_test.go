package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memory-service/internal/config"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
		delta    float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0, 0.001},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0, 0.001},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1.0, 0.001},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.707, 0.01},
		{"empty", Vector{}, Vector{}, 0.0, 0.001},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0, 0.001},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			assert.InDelta(t, tt.expected, got, tt.delta)
		})
	}
}

func TestHashEmbedderDeterministicAndNormalized(t *testing.T) {
	e := NewHashEmbedder(0)
	require.Equal(t, DefaultHashDims, e.Dims())

	vecs, err := e.Encode(context.Background(), []string{"The sky is blue", "The sky is blue", "!!!"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, vecs[0], vecs[1])

	for _, v := range vecs {
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	}
}

func TestHashEmbedderSharedWordsAreCloser(t *testing.T) {
	e := NewHashEmbedder(384)
	vecs, err := e.Encode(context.Background(), []string{"sky color", "The sky is blue", "Roses are red"})
	require.NoError(t, err)

	assert.Greater(t, CosineSimilarity(vecs[0], vecs[1]), CosineSimilarity(vecs[0], vecs[2]))
	// Punctuation and case do not change word tokens.
	again, _ := e.Encode(context.Background(), []string{"the SKY is blue!"})
	assert.InDelta(t, 1.0, CosineSimilarity(vecs[1], again[0]), 1e-6)
}

type countingEmbedder struct {
	loads *int
	dims  int
}

func (c countingEmbedder) Encode(_ context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	for i := range out {
		out[i] = make(Vector, 7)
	}
	return out, nil
}
func (c countingEmbedder) Dims() int    { return c.dims }
func (c countingEmbedder) Name() string { return "counting" }

func TestRegistryCachesHandleAndDims(t *testing.T) {
	r := NewRegistry()
	loads := 0
	load := func(context.Context) (Embedder, error) {
		loads++
		return countingEmbedder{loads: &loads}, nil
	}
	key := Key{Provider: "test", Model: "m"}

	a, err := r.Get(context.Background(), key, load)
	require.NoError(t, err)
	b, err := r.Get(context.Background(), key, load)
	require.NoError(t, err)

	assert.Equal(t, 1, loads)
	assert.Same(t, a, b)
	assert.Equal(t, 7, a.Dims(), "width discovered by probe is cached with the handle")
	assert.Equal(t, 1, r.Len())
}

func TestRegistryLoadError(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get(context.Background(), Key{Provider: "x"}, func(context.Context) (Embedder, error) {
		return nil, errors.New("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestLoadFallsBackToHash(t *testing.T) {
	cfg := config.EmbeddingConfig{Provider: "openai", Dimensions: 64, Fallback: true}
	e, err := Load(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "hash-64", e.Name())
	assert.Equal(t, 64, e.Dims())

	cfg.Fallback = false
	_, err = Load(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOllamaEmbedderBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := ollamaResponse{}
		for i := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{float32(i), 1, 0})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "all-minilm", 0, 0)
	vecs, err := e.Encode(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, float32(1), vecs[1][0])
	assert.Equal(t, "ollama/all-minilm", e.Name())

	r := NewRegistry()
	sized, err := r.Get(context.Background(), Key{Provider: "ollama", URL: srv.URL}, func(context.Context) (Embedder, error) {
		return e, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, sized.Dims())
}

func TestOllamaEmbedderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaEmbedder(srv.URL, "missing", 0, 0).Encode(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "404")
}

func TestOpenAIEmbedderOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}],
			"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(srv.URL, "test-key", "", 2, 0)
	vecs, err := e.Encode(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, Vector{1, 0}, vecs[0])
	assert.Equal(t, Vector{0, 1}, vecs[1])
}

func TestQueryCache(t *testing.T) {
	c, err := NewQueryCache(100)
	require.NoError(t, err)
	defer c.Close()

	e := NewHashEmbedder(16)
	v1, err := c.Encode(context.Background(), e, "hello world")
	require.NoError(t, err)

	got, ok := c.Get(e.Name(), "hello world")
	require.True(t, ok)
	assert.Equal(t, v1, got)

	var nilCache *QueryCache
	_, ok = nilCache.Get("m", "x")
	assert.False(t, ok)
	v2, err := nilCache.Encode(context.Background(), e, "hello world")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}
