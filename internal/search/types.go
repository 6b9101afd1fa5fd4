// Package search provides hybrid retrieval combining BM25 keyword search and
// vector similarity search, fused with Reciprocal Rank Fusion (RRF).
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/docfusion/docfusion/internal/store"
)

// Retriever names used for fusion provenance and weighting.
const (
	RetrieverVector  = "vector"
	RetrieverKeyword = "keyword"
)

// Mode selects which sub-retrievers serve a query.
type Mode string

const (
	// ModeVector uses only the vector similarity index.
	ModeVector Mode = "vector"
	// ModeKeyword uses only the BM25 keyword index.
	ModeKeyword Mode = "keyword"
	// ModeHybrid queries both and fuses the ranked lists with RRF.
	ModeHybrid Mode = "hybrid"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeVector, ModeKeyword, ModeHybrid:
		return Mode(s), nil
	case "":
		return ModeHybrid, nil
	default:
		return "", fmt.Errorf("unknown retrieval mode %q (valid: vector, keyword, hybrid)", s)
	}
}

// FailurePolicy controls behavior when a sub-retriever fails in hybrid mode.
type FailurePolicy string

const (
	// PolicyFail fails the whole request when either sub-retriever fails
	// (default; silent degradation changes answer quality unexpectedly).
	PolicyFail FailurePolicy = "fail"
	// PolicyFallback degrades to the surviving sub-retriever with a
	// warning. Both sides failing still fails the request.
	PolicyFallback FailurePolicy = "fallback"
)

// RankedResult is one sub-retriever hit: chunk, 1-based rank, raw score.
// Ordering within a list is by descending raw score, ties broken by the
// sub-retriever's stable internal order.
type RankedResult struct {
	ChunkID string
	Rank    int // 1-based
	Score   float64
}

// FusedResult is a chunk's position after RRF fusion, with provenance.
type FusedResult struct {
	ChunkID string

	// Score is the raw RRF score: Σ weight[r] / (k + rank_r) over the
	// retrievers whose list contains the chunk. Not normalized.
	Score float64

	// Ranks maps retriever name to the chunk's 1-based rank in that
	// retriever's list. Absent retrievers are absent from the map.
	Ranks map[string]int

	// RawScores preserves the per-retriever raw scores for display.
	RawScores map[string]float64
}

// Contributors returns how many retrievers ranked this chunk.
func (f *FusedResult) Contributors() int {
	return len(f.Ranks)
}

// Result is a retrieval hit enriched with chunk text and citation metadata.
type Result struct {
	// Chunk is the full chunk record from the metadata store.
	Chunk *store.Chunk

	// Score is the fused RRF score in hybrid mode, or the sub-retriever's
	// raw score in single-retriever modes.
	Score float64

	// Ranks maps retriever name to 1-based rank (provenance).
	Ranks map[string]int

	// RawScores maps retriever name to the raw sub-retriever score.
	RawScores map[string]float64

	// MatchedTerms lists the query terms the keyword index matched.
	MatchedTerms []string
}

// Weights configures the relative importance of the sub-retrievers in
// fusion. Defaults to 1.0 each.
type Weights struct {
	Vector  float64
	Keyword float64
}

// DefaultWeights returns equal weighting.
func DefaultWeights() Weights {
	return Weights{Vector: 1.0, Keyword: 1.0}
}

// Options configures a single retrieval request.
type Options struct {
	// Mode selects the sub-retrievers (default: hybrid).
	Mode Mode

	// TopK is the number of results to return. Must be positive.
	TopK int

	// Weights overrides the configured fusion weights.
	Weights *Weights

	// Timeout overrides the configured retrieval timeout.
	Timeout time.Duration
}

// EngineConfig configures the hybrid retriever.
type EngineConfig struct {
	// DefaultTopK is applied by the request layers (API, CLI) when a
	// caller omits top_k entirely (default: 5). The engine itself
	// rejects non-positive TopK.
	DefaultTopK int

	// RRFConstant is the RRF damping constant k (default: 60).
	RRFConstant int

	// OverFetchMultiplier scales TopK for each sub-retriever query so
	// fusion has enough candidates to re-rank (default: 4).
	OverFetchMultiplier int

	// DefaultWeights are the fusion weights used when the request does
	// not override them.
	DefaultWeights Weights

	// Timeout bounds each retrieval request (default: 10s). On timeout
	// the request is treated as a sub-retriever failure per OnFailure.
	Timeout time.Duration

	// OnFailure selects fail-closed or keyword/vector fallback behavior.
	OnFailure FailurePolicy
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultTopK:         5,
		RRFConstant:         DefaultRRFConstant,
		OverFetchMultiplier: 4,
		DefaultWeights:      DefaultWeights(),
		Timeout:             10 * time.Second,
		OnFailure:           PolicyFail,
	}
}

// EngineStats provides statistics about the retrieval engine.
type EngineStats struct {
	KeywordStats *store.IndexStats
	VectorCount  int
}

// Retriever is the interface the API layer and generation collaborator
// consume.
type Retriever interface {
	// Retrieve executes a query and returns the top-k enriched results.
	Retrieve(ctx context.Context, query string, opts Options) ([]*Result, error)

	// Index ingests chunks into all stores and rebuilds the keyword index.
	Index(ctx context.Context, chunks []*store.Chunk) error

	// Delete removes a document's chunks from all stores.
	Delete(ctx context.Context, documentID string) error

	// Rebuild reconstructs the retrieval indices from the metadata store.
	Rebuild(ctx context.Context) error

	// Stats returns engine statistics.
	Stats() *EngineStats

	Close() error
}
