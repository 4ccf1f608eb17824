// Package embedding provides a pluggable interface for text embedding providers.
package embedding

import (
	"context"
	"errors"
	"math"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// ErrUnavailable is returned when no embedding provider can be loaded.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Embedder generates embedding vectors from text. Encode returns one vector
// per input, in input order.
type Embedder interface {
	Encode(ctx context.Context, texts []string) ([]Vector, error)
	Dims() int
	Name() string
}

// EncodeOne is a convenience for single-text calls.
func EncodeOne(ctx context.Context, e Embedder, text string) (Vector, error) {
	vecs, err := e.Encode(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, errors.New("embedder returned no vector")
	}
	return vecs[0], nil
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize scales v to unit length in place and returns it.
func Normalize(v Vector) Vector {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
