package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	derrors "github.com/docfusion/docfusion/internal/errors"
)

// HTTPEmbedder generates embeddings via an OpenAI-compatible
// /embeddings endpoint.
type HTTPEmbedder struct {
	config HTTPConfig
	client *http.Client
	logger *slog.Logger
}

var _ Embedder = (*HTTPEmbedder)(nil)

// NewHTTPEmbedder creates an HTTP embedder. The base URL and model must be
// set; other fields fall back to defaults.
func NewHTTPEmbedder(config HTTPConfig, logger *slog.Logger) (*HTTPEmbedder, error) {
	if config.BaseURL == "" {
		return nil, derrors.New(derrors.ErrCodeInvalidInput, "embedder base URL is required", nil)
	}
	if config.Model == "" {
		return nil, derrors.New(derrors.ErrCodeInvalidInput, "embedder model is required", nil)
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BatchSize > MaxBatchSize {
		config.BatchSize = MaxBatchSize
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPEmbedder{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With("component", "embed.http"),
	}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed generates an embedding for a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for the given texts, preserving order.
// Oversized inputs are split into batches of at most BatchSize.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *HTTPEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, derrors.New(derrors.ErrCodeEmbeddingFailed, "marshal embedding request", err)
	}

	var lastErr error
	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			e.logger.Debug("retrying embedding request",
				"attempt", attempt+1,
				"backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, derrors.New(derrors.ErrCodeNetworkTimeout, "embedding request cancelled", ctx.Err())
			case <-time.After(backoff):
			}
		}

		vecs, err := e.doRequest(ctx, body, len(texts))
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, derrors.New(derrors.ErrCodeEmbeddingFailed,
		fmt.Sprintf("embedding failed after %d attempts", e.config.MaxRetries), lastErr)
}

func (e *HTTPEmbedder) doRequest(ctx context.Context, body []byte, want int) ([][]float32, error) {
	url := e.config.BaseURL + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, string(msg))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) != want {
		return nil, fmt.Errorf("embedding endpoint returned %d vectors, want %d", len(parsed.Data), want)
	}

	// Responses may arrive out of order; the index field is authoritative.
	out := make([][]float32, want)
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= want {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		if e.config.Dimensions > 0 && len(d.Embedding) != e.config.Dimensions {
			return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(d.Embedding), e.config.Dimensions)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("embedding endpoint omitted vector %d", i)
		}
	}
	return out, nil
}

// Dimensions returns the configured embedding dimension.
func (e *HTTPEmbedder) Dimensions() int { return e.config.Dimensions }

// ModelName returns the configured model name.
func (e *HTTPEmbedder) ModelName() string { return e.config.Model }

// Close is a no-op; the HTTP client holds no persistent resources.
func (e *HTTPEmbedder) Close() error { return nil }
