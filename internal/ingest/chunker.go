// Package ingest loads source documents, splits them into overlapping
// chunks, and feeds them to the retrieval engine.
package ingest

import (
	"fmt"
	"strings"
	"time"

	derrors "github.com/docfusion/docfusion/internal/errors"
	"github.com/docfusion/docfusion/internal/store"
)

// Chunking defaults, in words. Word count approximates token count well
// enough for sizing retrieval windows.
const (
	DefaultChunkSize    = 400
	DefaultChunkOverlap = 100
)

// Chunker splits document text into overlapping word windows.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker. Overlap must be smaller than the chunk
// size or the window would never advance.
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = DefaultChunkOverlap
	}
	if chunkOverlap >= chunkSize {
		return nil, derrors.New(derrors.ErrCodeInvalidInput,
			fmt.Sprintf("chunk overlap %d must be smaller than chunk size %d", chunkOverlap, chunkSize), nil)
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// Chunk splits the page's text into overlapping chunks. Chunk IDs are
// "<documentID>_<n>" with n continuing from startOrdinal, so callers
// chunking a document page by page get document-wide ordinals.
func (c *Chunker) Chunk(documentID string, page Page, startOrdinal int) []*store.Chunk {
	words := strings.Fields(page.Text)
	if len(words) == 0 {
		return []*store.Chunk{}
	}

	step := c.chunkSize - c.chunkOverlap
	chunks := make([]*store.Chunk, 0, (len(words)+step-1)/step)
	now := time.Now().UTC()

	for start, n := 0, startOrdinal; start < len(words); start, n = start+step, n+1 {
		end := start + c.chunkSize
		if end > len(words) {
			end = len(words)
		}
		window := words[start:end]

		meta := make(map[string]string, len(page.Metadata))
		for k, v := range page.Metadata {
			meta[k] = v
		}

		chunks = append(chunks, &store.Chunk{
			ID:         fmt.Sprintf("%s_%d", documentID, n),
			DocumentID: documentID,
			Text:       strings.Join(window, " "),
			Page:       page.Number,
			Section:    page.Section,
			TokenCount: len(window),
			Ordinal:    n,
			Metadata:   meta,
			CreatedAt:  now,
		})

		if end == len(words) {
			break
		}
	}
	return chunks
}

// ChunkDocument chunks all pages of a document in order.
func (c *Chunker) ChunkDocument(documentID string, pages []Page) []*store.Chunk {
	var all []*store.Chunk
	for _, page := range pages {
		all = append(all, c.Chunk(documentID, page, len(all))...)
	}
	if all == nil {
		all = []*store.Chunk{}
	}
	return all
}
