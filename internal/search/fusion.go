package search

import (
	"sort"
)

// DefaultRRFConstant is the standard RRF damping parameter.
// k=60 is empirically validated across domains (used by Azure AI Search,
// OpenSearch, etc.).
const DefaultRRFConstant = 60

// RRFFusion merges independently-ranked result lists into one ranked list
// using Reciprocal Rank Fusion.
//
// Algorithm: fused(d) = Σ over retrievers r where d appears: weight_r / (k + rank_r)
//
// A chunk absent from a retriever's list contributes nothing for that
// retriever; it is not penalized further. Fusion is a pure function of its
// inputs: no hidden state, no I/O.
type RRFFusion struct {
	K int // damping constant (default: 60)
}

// NewRRFFusion creates an RRF fusion instance with k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates an RRF fusion instance with a custom k.
// Non-positive k falls back to the default.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse merges the named ranked lists. Ranks are implied by list position
// (1-based); weights default to 1.0 for retrievers missing from the weights
// map. Scores are raw RRF values, deliberately not normalized, so callers
// can verify them against the formula directly.
//
// Ordering: fused score descending, then number of contributing retrievers
// descending, then chunk ID ascending. The ordering depends only on list
// contents and weights, never on retriever names, so swapping names (with
// matching weight swap) yields an identical result.
//
// An empty or missing list degrades gracefully: fusion over one list is
// rank-based scoring of that list; fusion over none returns an empty slice.
func (f *RRFFusion) Fuse(lists map[string][]RankedResult, weights map[string]float64) []*FusedResult {
	byID := make(map[string]*FusedResult)

	for name, list := range lists {
		weight := 1.0
		if w, ok := weights[name]; ok {
			weight = w
		}
		for i, r := range list {
			rank := i + 1
			fr, ok := byID[r.ChunkID]
			if !ok {
				fr = &FusedResult{
					ChunkID:   r.ChunkID,
					Ranks:     make(map[string]int, len(lists)),
					RawScores: make(map[string]float64, len(lists)),
				}
				byID[r.ChunkID] = fr
			}
			fr.Ranks[name] = rank
			fr.RawScores[name] = r.Score
			fr.Score += weight / float64(f.K+rank)
		}
	}

	results := make([]*FusedResult, 0, len(byID))
	for _, fr := range byID {
		results = append(results, fr)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Contributors() != b.Contributors() {
			return a.Contributors() > b.Contributors()
		}
		return a.ChunkID < b.ChunkID
	})

	return results
}
