package ingest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "github.com/docfusion/docfusion/internal/errors"
)

func wordsText(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

func TestNewChunkerRejectsOverlapGEQSize(t *testing.T) {
	_, err := NewChunker(100, 100)
	require.Error(t, err)
	assert.Equal(t, derrors.ErrCodeInvalidInput, derrors.GetCode(err))

	_, err = NewChunker(100, 150)
	require.Error(t, err)
}

func TestNewChunkerDefaults(t *testing.T) {
	c, err := NewChunker(0, -1)
	require.NoError(t, err)
	assert.Equal(t, DefaultChunkSize, c.chunkSize)
	assert.Equal(t, DefaultChunkOverlap, c.chunkOverlap)
}

func TestChunkOverlappingWindows(t *testing.T) {
	c, err := NewChunker(10, 3)
	require.NoError(t, err)

	chunks := c.Chunk("doc", Page{Number: 1, Text: wordsText(24)}, 0)
	// step=7: windows [0,10), [7,17), [14,24).
	require.Len(t, chunks, 3)

	assert.Equal(t, "doc_0", chunks[0].ID)
	assert.Equal(t, "doc_1", chunks[1].ID)
	assert.Equal(t, "doc_2", chunks[2].ID)

	first := strings.Fields(chunks[0].Text)
	second := strings.Fields(chunks[1].Text)
	assert.Equal(t, "w0", first[0])
	assert.Equal(t, "w9", first[len(first)-1])
	// The second window starts 3 words before the first one ended.
	assert.Equal(t, "w7", second[0])
	assert.Equal(t, 10, chunks[0].TokenCount)
	assert.Equal(t, 10, chunks[1].TokenCount)
	assert.Equal(t, 10, chunks[2].TokenCount)
}

func TestChunkShortText(t *testing.T) {
	c, err := NewChunker(400, 100)
	require.NoError(t, err)

	chunks := c.Chunk("doc", Page{Number: 2, Section: "Intro", Text: "just a few words"}, 0)
	require.Len(t, chunks, 1)
	assert.Equal(t, "just a few words", chunks[0].Text)
	assert.Equal(t, 4, chunks[0].TokenCount)
	assert.Equal(t, 2, chunks[0].Page)
	assert.Equal(t, "Intro", chunks[0].Section)
}

func TestChunkEmptyText(t *testing.T) {
	c, err := NewChunker(10, 2)
	require.NoError(t, err)
	assert.Empty(t, c.Chunk("doc", Page{Text: "   \n\t  "}, 0))
}

func TestChunkStartOrdinal(t *testing.T) {
	c, err := NewChunker(5, 0)
	require.NoError(t, err)

	chunks := c.Chunk("doc", Page{Text: wordsText(12)}, 7)
	require.Len(t, chunks, 3)
	assert.Equal(t, "doc_7", chunks[0].ID)
	assert.Equal(t, 7, chunks[0].Ordinal)
	assert.Equal(t, "doc_9", chunks[2].ID)
}

func TestChunkCopiesPageMetadata(t *testing.T) {
	c, err := NewChunker(5, 0)
	require.NoError(t, err)

	meta := map[string]string{"filename": "a.txt"}
	chunks := c.Chunk("doc", Page{Text: wordsText(10), Metadata: meta}, 0)
	require.Len(t, chunks, 2)

	// Each chunk owns a copy; mutating one does not leak into the others.
	chunks[0].Metadata["filename"] = "changed"
	assert.Equal(t, "a.txt", chunks[1].Metadata["filename"])
	assert.Equal(t, "a.txt", meta["filename"])
}

func TestChunkDocumentOrdinalsSpanPages(t *testing.T) {
	c, err := NewChunker(5, 0)
	require.NoError(t, err)

	pages := []Page{
		{Number: 1, Section: "A", Text: wordsText(10)}, // 2 chunks
		{Number: 2, Section: "B", Text: wordsText(7)},  // 2 chunks
	}
	chunks := c.ChunkDocument("doc", pages)
	require.Len(t, chunks, 4)

	for i, chunk := range chunks {
		assert.Equal(t, fmt.Sprintf("doc_%d", i), chunk.ID)
		assert.Equal(t, i, chunk.Ordinal)
	}
	assert.Equal(t, "A", chunks[1].Section)
	assert.Equal(t, "B", chunks[2].Section)
}

func TestChunkDocumentNoPages(t *testing.T) {
	c, err := NewChunker(5, 0)
	require.NoError(t, err)
	chunks := c.ChunkDocument("doc", nil)
	assert.NotNil(t, chunks)
	assert.Empty(t, chunks)
}
