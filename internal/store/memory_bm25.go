package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	derrors "github.com/docfusion/docfusion/internal/errors"
)

// MemoryBM25Index is an exact, in-memory BM25 keyword index.
//
// The index is rebuilt in full whenever the corpus changes; there is no
// incremental update and no on-disk persistence (the corpus is re-indexed on
// startup). Build constructs a complete snapshot off to the side and then
// publishes it with a single atomic pointer swap, so concurrent Search calls
// observe either the fully-old or fully-new index, never a torn one, and
// readers are never blocked by a rebuild in progress.
type MemoryBM25Index struct {
	config   BM25Config
	snapshot atomic.Pointer[bm25Snapshot]
}

// bm25Snapshot is one immutable generation of the index.
type bm25Snapshot struct {
	docs     []bm25Doc
	postings map[string][]bm25Posting // term -> docs containing it
	avgdl    float64
	termCnt  int
}

// bm25Doc holds per-chunk stats. Slice position is corpus insertion order,
// which is the deterministic tie-break for equal scores.
type bm25Doc struct {
	id     string
	length int // token count after tokenization
}

// bm25Posting records a term's frequency within one document.
type bm25Posting struct {
	docIdx int
	tf     int
}

// NewMemoryBM25Index creates an empty index with the given scoring parameters.
// Queries against the empty index return no results rather than an error.
func NewMemoryBM25Index(config BM25Config) *MemoryBM25Index {
	if config.K1 <= 0 {
		config.K1 = DefaultBM25Config().K1
	}
	if config.B < 0 || config.B > 1 {
		config.B = DefaultBM25Config().B
	}
	idx := &MemoryBM25Index{config: config}
	idx.snapshot.Store(emptySnapshot())
	return idx
}

func emptySnapshot() *bm25Snapshot {
	return &bm25Snapshot{postings: map[string][]bm25Posting{}}
}

// Build replaces the index with one built from chunks.
//
// An empty chunk slice is accepted and yields a valid, always-empty index:
// an empty corpus is a legitimate state (nothing ingested yet) and queries
// against it must return empty results, not errors. A chunk with an empty ID
// is a malformed input and fails the whole build; the previously published
// snapshot stays active.
func (m *MemoryBM25Index) Build(ctx context.Context, chunks []*Chunk) error {
	snap := &bm25Snapshot{
		docs:     make([]bm25Doc, 0, len(chunks)),
		postings: make(map[string][]bm25Posting),
	}

	var totalLen int
	seen := make(map[string]struct{}, len(chunks))
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c == nil || c.ID == "" {
			return derrors.New(derrors.ErrCodeIndexBuild, fmt.Sprintf("chunk with empty ID at position %d", i), nil)
		}
		if _, dup := seen[c.ID]; dup {
			return derrors.New(derrors.ErrCodeIndexBuild, "duplicate chunk ID "+c.ID, nil)
		}
		seen[c.ID] = struct{}{}

		tokens := Tokenize(c.Text)
		docIdx := len(snap.docs)
		snap.docs = append(snap.docs, bm25Doc{id: c.ID, length: len(tokens)})
		totalLen += len(tokens)

		for term, tf := range TermFrequencies(tokens) {
			snap.postings[term] = append(snap.postings[term], bm25Posting{docIdx: docIdx, tf: tf})
		}
	}

	if len(snap.docs) > 0 {
		snap.avgdl = float64(totalLen) / float64(len(snap.docs))
	}
	snap.termCnt = len(snap.postings)

	// Postings within a term arrive in ascending docIdx already (chunks are
	// processed in insertion order), so no per-term sort is needed.
	m.snapshot.Store(snap)
	return nil
}

// Search scores all chunks containing at least one query term and returns
// the top limit by descending BM25 score. Ties are broken by corpus insertion
// order, so repeated calls against the same snapshot yield identical output.
func (m *MemoryBM25Index) Search(ctx context.Context, query string, limit int) ([]*BM25Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := m.snapshot.Load()
	if len(snap.docs) == 0 || limit <= 0 {
		return []*BM25Result{}, nil
	}

	queryTerms := TermFrequencies(Tokenize(query))
	if len(queryTerms) == 0 {
		return []*BM25Result{}, nil
	}

	k1, b := m.config.K1, m.config.B
	n := float64(len(snap.docs))

	scores := make(map[int]float64)
	matched := make(map[int][]string)
	for term := range queryTerms {
		plist, ok := snap.postings[term]
		if !ok {
			continue
		}
		// Lucene-style IDF, always positive: ln(1 + (N - df + 0.5)/(df + 0.5))
		df := float64(len(plist))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))

		for _, p := range plist {
			tf := float64(p.tf)
			norm := k1 * (1 - b + b*float64(snap.docs[p.docIdx].length)/snap.avgdl)
			scores[p.docIdx] += idf * tf * (k1 + 1) / (tf + norm)
			matched[p.docIdx] = append(matched[p.docIdx], term)
		}
	}

	// Zero matching terms means the chunk is excluded outright; a chunk is
	// only in scores if at least one query term hit it.
	order := make([]int, 0, len(scores))
	for docIdx := range scores {
		order = append(order, docIdx)
	}
	sort.Slice(order, func(i, j int) bool {
		si, sj := scores[order[i]], scores[order[j]]
		if si != sj {
			return si > sj
		}
		return order[i] < order[j] // insertion order, stable across calls
	})

	if len(order) > limit {
		order = order[:limit]
	}

	results := make([]*BM25Result, len(order))
	for i, docIdx := range order {
		terms := matched[docIdx]
		sort.Strings(terms)
		results[i] = &BM25Result{
			ChunkID:      snap.docs[docIdx].id,
			Score:        scores[docIdx],
			MatchedTerms: terms,
		}
	}
	return results, nil
}

// AllIDs returns all chunk IDs in the active snapshot.
func (m *MemoryBM25Index) AllIDs() ([]string, error) {
	snap := m.snapshot.Load()
	ids := make([]string, len(snap.docs))
	for i, d := range snap.docs {
		ids[i] = d.id
	}
	return ids, nil
}

// Stats returns statistics for the active snapshot.
func (m *MemoryBM25Index) Stats() *IndexStats {
	snap := m.snapshot.Load()
	return &IndexStats{
		ChunkCount:   len(snap.docs),
		TermCount:    snap.termCnt,
		AvgDocLength: snap.avgdl,
	}
}

// Close releases the active snapshot.
func (m *MemoryBM25Index) Close() error {
	m.snapshot.Store(emptySnapshot())
	return nil
}

// Verify interface implementation
var _ BM25Index = (*MemoryBM25Index)(nil)
