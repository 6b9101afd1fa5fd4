package embed

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"

	"github.com/docfusion/docfusion/internal/store"
)

// StaticEmbedder produces deterministic hash-based embeddings with no
// external service. Useful for tests and offline development; its vectors
// carry no semantic meaning but are stable across runs.
type StaticEmbedder struct {
	dimensions int
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder with the given dimensions.
// A non-positive dimension falls back to StaticDimensions.
func NewStaticEmbedder(dimensions int) *StaticEmbedder {
	if dimensions <= 0 {
		dimensions = StaticDimensions
	}
	return &StaticEmbedder{dimensions: dimensions}
}

// Embed generates a deterministic unit vector from the text's tokens.
// Each token contributes to a handful of dimensions chosen by hashing,
// so texts sharing tokens produce correlated vectors.
func (s *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, s.dimensions)
	tokens := store.Tokenize(text)
	if len(tokens) == 0 {
		// Seed an arbitrary dimension so the vector is non-zero.
		vec[0] = 1.0
		return vec, nil
	}

	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		seed := h.Sum64()
		for j := 0; j < 4; j++ {
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], seed+uint64(j))
			g := fnv.New64a()
			_, _ = g.Write(buf[:])
			v := g.Sum64()
			idx := int(v % uint64(s.dimensions))
			if v&(1<<63) != 0 {
				vec[idx] -= 1.0
			} else {
				vec[idx] += 1.0
			}
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1.0 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (s *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (s *StaticEmbedder) Dimensions() int { return s.dimensions }

// ModelName returns the model identifier.
func (s *StaticEmbedder) ModelName() string { return "static-fnv" }

// Close is a no-op.
func (s *StaticEmbedder) Close() error { return nil }
