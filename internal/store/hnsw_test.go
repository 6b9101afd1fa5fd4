package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHNSW(t *testing.T, dims int) *HNSWStore {
	t.Helper()
	s, err := NewHNSWStore(DefaultVectorStoreConfig(dims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHNSWRequiresPositiveDimensions(t *testing.T) {
	_, err := NewHNSWStore(VectorStoreConfig{Dimensions: 0})
	assert.Error(t, err)
}

func TestHNSWAddAndSearch(t *testing.T) {
	s := newTestHNSW(t, 3)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx,
		[]string{"x", "y", "diag"},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {1, 1, 0}},
	))
	assert.Equal(t, 3, s.Count())

	results, err := s.Search(ctx, []float32{1, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "x", results[0].ChunkID)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.GreaterOrEqual(t, results[0].Score, float32(0))
	assert.LessOrEqual(t, results[0].Score, float32(1))
}

func TestHNSWScoreIdenticalVector(t *testing.T) {
	s := newTestHNSW(t, 4)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []string{"a"}, [][]float32{{0.5, 0.5, 0.5, 0.5}}))

	results, err := s.Search(ctx, []float32{0.5, 0.5, 0.5, 0.5}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-5)
	assert.InDelta(t, 0.0, float64(results[0].Distance), 1e-5)
}

func TestHNSWDimensionMismatch(t *testing.T) {
	s := newTestHNSW(t, 3)
	ctx := context.Background()

	err := s.Add(ctx, []string{"a"}, [][]float32{{1, 2}})
	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	_, err = s.Search(ctx, []float32{1, 2, 3, 4}, 1)
	assert.ErrorAs(t, err, &dimErr)
}

func TestHNSWLengthMismatch(t *testing.T) {
	s := newTestHNSW(t, 3)
	err := s.Add(context.Background(), []string{"a", "b"}, [][]float32{{1, 0, 0}})
	assert.Error(t, err)
}

func TestHNSWEmptyStore(t *testing.T) {
	s := newTestHNSW(t, 3)

	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, s.Count())
	assert.Empty(t, s.AllIDs())
}

func TestHNSWReplaceExistingID(t *testing.T) {
	s := newTestHNSW(t, 3)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []string{"a"}, [][]float32{{1, 0, 0}}))
	require.NoError(t, s.Add(ctx, []string{"a"}, [][]float32{{0, 1, 0}}))
	assert.Equal(t, 1, s.Count())

	// The replacement vector, not the original, answers queries.
	results, err := s.Search(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ChunkID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-5)
}

func TestHNSWDelete(t *testing.T) {
	s := newTestHNSW(t, 3)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0, 0}, {0, 1, 0}}))
	require.NoError(t, s.Delete(ctx, []string{"a"}))

	assert.Equal(t, 1, s.Count())
	assert.Equal(t, []string{"b"}, s.AllIDs())

	// Deleted vectors never surface in results.
	results, err := s.Search(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ChunkID)
	}

	// Deleting an unknown ID is a no-op.
	assert.NoError(t, s.Delete(ctx, []string{"missing"}))
}

func TestHNSWClosed(t *testing.T) {
	s, err := NewHNSWStore(DefaultVectorStoreConfig(3))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Error(t, s.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0}}))
	_, err = s.Search(context.Background(), []float32{1, 0, 0}, 1)
	assert.Error(t, err)
	assert.Zero(t, s.Count())
}
