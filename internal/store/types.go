// Package store provides the retrieval indices (BM25 keyword index, vector
// store) and chunk metadata persistence (SQLite).
package store

import (
	"context"
	"fmt"
	"time"
)

// Chunk is the atomic retrievable unit of document text.
// Chunks are immutable once created; the retrieval indices reference them
// by ID and never mutate them.
type Chunk struct {
	ID         string            // <document_id>_<n>
	DocumentID string            // Parent document ID
	Text       string            // Chunk text
	Page       int               // 1-indexed page number, 0 if unknown
	Section    string            // Section heading, empty if unknown
	TokenCount int               // Approximate token count
	Ordinal    int               // Position within the document (0-indexed)
	Metadata   map[string]string // Loader-supplied metadata
	CreatedAt  time.Time
}

// Document represents an ingested source document.
type Document struct {
	ID         string // SHA256(path)
	Name       string // File name
	Path       string // Absolute path at ingestion time
	SizeBytes  int64
	ChunkCount int
	IngestedAt time.Time
}

// Conversation is a QA session over the corpus.
type Conversation struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single turn in a conversation.
type Message struct {
	ID             string
	ConversationID string
	Role           string // "user" or "assistant"
	Content        string
	CreatedAt      time.Time
}

// BM25Result is a single keyword search hit.
type BM25Result struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// IndexStats describes the active keyword index snapshot.
type IndexStats struct {
	ChunkCount   int
	TermCount    int
	AvgDocLength float64
}

// BM25Index provides keyword search over the chunk corpus.
//
// Build fully replaces the index contents. Implementations must guarantee
// that Search calls issued while a Build is in progress observe either the
// fully-old or fully-new index, never a partial one.
type BM25Index interface {
	// Build replaces the index with one built from chunks. An empty chunk
	// slice yields a valid, always-empty index.
	Build(ctx context.Context, chunks []*Chunk) error

	// Search returns up to limit chunks scored by BM25, descending.
	// Chunks with no matching terms are excluded entirely.
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	// AllIDs returns all chunk IDs in the index (for consistency checks).
	AllIDs() ([]string, error)

	// Stats returns statistics for the active snapshot.
	Stats() *IndexStats

	Close() error
}

// BM25Config configures BM25 scoring.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.5).
	K1 float64

	// B is the document length normalization parameter (default: 0.75).
	B float64
}

// DefaultBM25Config returns the standard BM25 parameters.
func DefaultBM25Config() BM25Config {
	return BM25Config{K1: 1.5, B: 0.75}
}

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	ChunkID  string
	Distance float32 // Cosine distance, 0 (identical) to 2 (opposite)
	Score    float32 // Normalized similarity: 1 - distance/2, range [0,1]
}

// VectorStore provides approximate nearest-neighbor search over chunk
// embeddings. Cosine similarity is assumed; Score is always reported in
// [0,1] so downstream tie-breaking is metric-independent.
type VectorStore interface {
	// Add inserts vectors with their chunk IDs. Existing IDs are replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds the k nearest neighbors to the query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by chunk ID.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns all chunk IDs in the store (for consistency checks).
	AllIDs() []string

	// Count returns number of stored vectors.
	Count() int

	Close() error
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the embedding dimension.
	Dimensions int

	// M is HNSW max connections per layer (default: 16).
	M int

	// EfSearch is HNSW query-time search width (default: 20).
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible HNSW defaults.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   20,
	}
}

// MetadataStore persists documents, chunks, and conversations.
type MetadataStore interface {
	// Document operations
	SaveDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context) ([]*Document, error)
	DeleteDocument(ctx context.Context, id string) error

	// Chunk operations
	SaveChunks(ctx context.Context, chunks []*Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	AllChunks(ctx context.Context) ([]*Chunk, error)
	DeleteChunksByDocument(ctx context.Context, documentID string) error

	// Conversation operations
	SaveConversation(ctx context.Context, conv *Conversation) error
	ListConversations(ctx context.Context) ([]*Conversation, error)
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessages(ctx context.Context, conversationID string) ([]*Message, error)

	Close() error
}

// ErrDimensionMismatch indicates an embedding dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
