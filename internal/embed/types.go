// Package embed provides embedding generation for query and chunk text.
package embed

import (
	"context"
	"time"
)

// Common embedding constants.
const (
	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// MaxBatchSize caps batch size to prevent memory exhaustion.
	MaxBatchSize = 256

	// DefaultTimeout is the default timeout for embedding requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for
	// transient HTTP failures.
	DefaultMaxRetries = 3
)

// StaticDimensions is the embedding dimension of the static embedder.
const StaticDimensions = 256

// Embedder generates fixed-length embedding vectors for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector length.
	Dimensions() int

	// ModelName returns the model identifier (used for cache keys).
	ModelName() string

	Close() error
}

// HTTPConfig configures the HTTP embedder.
type HTTPConfig struct {
	// BaseURL is the endpoint root, e.g. "https://api.openai.com/v1".
	BaseURL string

	// APIKey is sent as a Bearer token when non-empty.
	APIKey string

	// Model is the embedding model name.
	Model string

	// Dimensions is the expected embedding dimension.
	Dimensions int

	// BatchSize is the maximum texts per request.
	BatchSize int

	// Timeout bounds each HTTP request.
	Timeout time.Duration

	// MaxRetries is the number of retry attempts for transient failures.
	MaxRetries int
}
