package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDims matches all-MiniLM-L6-v2 so a later switch to a real model
// keeps the same vector width.
const DefaultHashDims = 384

// HashEmbedder is the deterministic fallback provider. Each lowercased word
// token is hashed into a signed bucket, so texts sharing words land close in
// cosine space. It needs no model files or network.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hash embedder; dims <= 0 selects DefaultHashDims.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDims
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Encode(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *HashEmbedder) Dims() int { return e.dims }

func (e *HashEmbedder) Name() string { return fmt.Sprintf("hash-%d", e.dims) }

func (e *HashEmbedder) embed(text string) Vector {
	v := make(Vector, e.dims)
	tokens := tokenize(text)
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := sum % uint64(e.dims)
		if sum>>63 == 0 {
			v[idx]++
		} else {
			v[idx]--
		}
	}
	if len(tokens) == 0 {
		// No word tokens (punctuation only, empty): derive a stable
		// pseudo-random vector from the raw bytes instead of a zero vector.
		h := fnv.New64a()
		h.Write([]byte(text))
		seed := h.Sum64()
		for i := range v {
			seed = seed*6364136223846793005 + 1442695040888963407
			v[i] = float32(int64(seed)) / float32(math.MaxInt64)
		}
	}
	return Normalize(v)
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
