package store

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "github.com/docfusion/docfusion/internal/errors"
)

func testChunks(texts ...string) []*Chunk {
	chunks := make([]*Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &Chunk{
			ID:   fmt.Sprintf("chunk_%d", i),
			Text: text,
		}
	}
	return chunks
}

func TestMemoryBM25EmptyCorpus(t *testing.T) {
	idx := NewMemoryBM25Index(DefaultBM25Config())
	ctx := context.Background()

	// Building from an empty corpus is valid, not an error.
	require.NoError(t, idx.Build(ctx, nil))
	require.NoError(t, idx.Build(ctx, []*Chunk{}))

	results, err := idx.Search(ctx, "anything", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	stats := idx.Stats()
	assert.Equal(t, 0, stats.ChunkCount)
	assert.Equal(t, 0, stats.TermCount)
}

func TestMemoryBM25ZeroMatchExclusion(t *testing.T) {
	idx := NewMemoryBM25Index(DefaultBM25Config())
	ctx := context.Background()

	require.NoError(t, idx.Build(ctx, testChunks(
		"the cat sat on the mat",
		"dogs chase cats in the yard",
		"completely unrelated topic about databases",
	)))

	results, err := idx.Search(ctx, "cat", 10)
	require.NoError(t, err)

	// Only chunks containing at least one query term may appear. A score
	// of zero is an exclusion, not a low rank.
	require.Len(t, results, 1)
	assert.Equal(t, "chunk_0", results[0].ChunkID)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestMemoryBM25NoMatchesAtAll(t *testing.T) {
	idx := NewMemoryBM25Index(DefaultBM25Config())
	ctx := context.Background()
	require.NoError(t, idx.Build(ctx, testChunks("alpha beta", "gamma delta")))

	results, err := idx.Search(ctx, "zeta", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryBM25UniqueTermRanksFirst(t *testing.T) {
	idx := NewMemoryBM25Index(DefaultBM25Config())
	ctx := context.Background()

	// "entanglement" appears only in chunk_2; "protocol" is everywhere.
	require.NoError(t, idx.Build(ctx, testChunks(
		"the protocol handles retries",
		"a protocol for message framing",
		"quantum entanglement protocol details",
		"protocol versioning rules",
	)))

	results, err := idx.Search(ctx, "entanglement", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "chunk_2", results[0].ChunkID)

	// With both terms, the rare term dominates via IDF.
	results, err = idx.Search(ctx, "entanglement protocol", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "chunk_2", results[0].ChunkID)
	assert.Equal(t, []string{"entanglement", "protocol"}, results[0].MatchedTerms)
}

func TestMemoryBM25ScoreFormula(t *testing.T) {
	cfg := BM25Config{K1: 1.5, B: 0.75}
	idx := NewMemoryBM25Index(cfg)
	ctx := context.Background()

	chunks := testChunks(
		"apple banana apple", // len 3, tf(apple)=2
		"apple cherry",       // len 2, tf(apple)=1
		"banana cherry date", // len 3, no apple
	)
	require.NoError(t, idx.Build(ctx, chunks))

	results, err := idx.Search(ctx, "apple", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	n, df := 3.0, 2.0
	avgdl := 8.0 / 3.0
	idf := math.Log(1 + (n-df+0.5)/(df+0.5))
	score := func(tf, docLen float64) float64 {
		return idf * tf * (cfg.K1 + 1) / (tf + cfg.K1*(1-cfg.B+cfg.B*docLen/avgdl))
	}

	assert.Equal(t, "chunk_0", results[0].ChunkID)
	assert.InDelta(t, score(2, 3), results[0].Score, 1e-9)
	assert.Equal(t, "chunk_1", results[1].ChunkID)
	assert.InDelta(t, score(1, 2), results[1].Score, 1e-9)
}

func TestMemoryBM25ConfigurableParameters(t *testing.T) {
	ctx := context.Background()
	chunks := testChunks(
		"term term filler filler filler filler filler filler",
		"term other",
	)

	// With b=0 there is no length normalization: the higher-tf document
	// wins regardless of its length.
	noNorm := NewMemoryBM25Index(BM25Config{K1: 1.2, B: 0})
	require.NoError(t, noNorm.Build(ctx, chunks))
	results, err := noNorm.Search(ctx, "term", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "chunk_0", results[0].ChunkID)

	// With full normalization the short document catches up.
	fullNorm := NewMemoryBM25Index(BM25Config{K1: 1.2, B: 1.0})
	require.NoError(t, fullNorm.Build(ctx, chunks))
	results, err = fullNorm.Search(ctx, "term", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "chunk_1", results[0].ChunkID)
}

func TestMemoryBM25Determinism(t *testing.T) {
	idx := NewMemoryBM25Index(DefaultBM25Config())
	ctx := context.Background()

	require.NoError(t, idx.Build(ctx, testChunks(
		"shared words here",
		"shared words here",
		"shared words here",
		"shared words here",
	)))

	first, err := idx.Search(ctx, "shared words", 10)
	require.NoError(t, err)
	require.Len(t, first, 4)

	// Equal scores break ties by insertion order, identically every call.
	for i := 1; i < len(first); i++ {
		assert.Equal(t, first[i-1].Score, first[i].Score)
	}
	for i, r := range first {
		assert.Equal(t, fmt.Sprintf("chunk_%d", i), r.ChunkID)
	}

	for range 20 {
		again, err := idx.Search(ctx, "shared words", 10)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMemoryBM25Limit(t *testing.T) {
	idx := NewMemoryBM25Index(DefaultBM25Config())
	ctx := context.Background()
	require.NoError(t, idx.Build(ctx, testChunks("x a", "x b", "x c", "x d", "x e")))

	results, err := idx.Search(ctx, "x", 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	results, err = idx.Search(ctx, "x", 100)
	require.NoError(t, err)
	assert.Len(t, results, 5)

	results, err = idx.Search(ctx, "x", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryBM25BuildRejectsMalformedChunks(t *testing.T) {
	idx := NewMemoryBM25Index(DefaultBM25Config())
	ctx := context.Background()
	require.NoError(t, idx.Build(ctx, testChunks("original corpus")))

	err := idx.Build(ctx, []*Chunk{{ID: "", Text: "no id"}})
	require.Error(t, err)
	assert.Equal(t, derrors.ErrCodeIndexBuild, derrors.GetCode(err))

	err = idx.Build(ctx, []*Chunk{
		{ID: "dup", Text: "one"},
		{ID: "dup", Text: "two"},
	})
	require.Error(t, err)
	assert.Equal(t, derrors.ErrCodeIndexBuild, derrors.GetCode(err))

	// A failed build leaves the previous snapshot serving queries.
	results, err := idx.Search(ctx, "original", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "chunk_0", results[0].ChunkID)
}

func TestMemoryBM25AtomicRebuild(t *testing.T) {
	idx := NewMemoryBM25Index(DefaultBM25Config())
	ctx := context.Background()

	makeGen := func(marker string, size int) []*Chunk {
		chunks := make([]*Chunk, size)
		for i := range chunks {
			chunks[i] = &Chunk{
				ID:   fmt.Sprintf("%s_%d", marker, i),
				Text: "common " + marker,
			}
		}
		return chunks
	}
	genA := makeGen("alpha", 3)
	genB := makeGen("beta", 7)
	require.NoError(t, idx.Build(ctx, genA))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if i%2 == 0 {
				_ = idx.Build(ctx, genB)
			} else {
				_ = idx.Build(ctx, genA)
			}
		}
		close(stop)
	}()

	// Every concurrent reader must observe a complete generation: either
	// all 3 alpha chunks or all 7 beta chunks, never a mix or a subset.
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				results, err := idx.Search(ctx, "common", 100)
				assert.NoError(t, err)
				if len(results) == 0 {
					continue
				}
				marker := results[0].ChunkID[:4]
				switch marker {
				case "alph":
					assert.Len(t, results, 3)
				case "beta":
					assert.Len(t, results, 7)
				default:
					t.Errorf("unexpected chunk ID %s", results[0].ChunkID)
				}
				for _, r := range results[1:] {
					assert.Equal(t, marker, r.ChunkID[:4])
				}
			}
		}()
	}
	wg.Wait()
}

func TestMemoryBM25AllIDs(t *testing.T) {
	idx := NewMemoryBM25Index(DefaultBM25Config())
	ctx := context.Background()
	require.NoError(t, idx.Build(ctx, testChunks("a", "b", "c")))

	ids, err := idx.AllIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk_0", "chunk_1", "chunk_2"}, ids)
}

func TestMemoryBM25Stats(t *testing.T) {
	idx := NewMemoryBM25Index(DefaultBM25Config())
	ctx := context.Background()
	require.NoError(t, idx.Build(ctx, testChunks("alpha beta", "gamma delta epsilon", "alpha")))

	stats := idx.Stats()
	assert.Equal(t, 3, stats.ChunkCount)
	assert.Equal(t, 5, stats.TermCount)
	assert.InDelta(t, 2.0, stats.AvgDocLength, 1e-9)
}

func TestMemoryBM25CancelledContext(t *testing.T) {
	idx := NewMemoryBM25Index(DefaultBM25Config())
	require.NoError(t, idx.Build(context.Background(), testChunks("some text")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := idx.Search(ctx, "some", 10)
	assert.ErrorIs(t, err, context.Canceled)
}
