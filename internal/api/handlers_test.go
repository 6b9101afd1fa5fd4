package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfusion/docfusion/internal/embed"
	"github.com/docfusion/docfusion/internal/ingest"
	"github.com/docfusion/docfusion/internal/search"
	"github.com/docfusion/docfusion/internal/store"
)

// newTestServer wires a full in-process stack: SQLite metadata in a temp
// dir, in-memory BM25, HNSW vectors, and the static embedder.
func newTestServer(t *testing.T) (*Server, search.Retriever) {
	t.Helper()
	dir := t.TempDir()

	metadata, err := store.NewSQLiteStore(filepath.Join(dir, "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = metadata.Close() })

	keyword := store.NewMemoryBM25Index(store.DefaultBM25Config())
	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(32))
	require.NoError(t, err)
	embedder := embed.NewStaticEmbedder(32)

	engine, err := search.NewEngine(keyword, vector, embedder, metadata, search.DefaultEngineConfig(), nil)
	require.NoError(t, err)

	chunker, err := ingest.NewChunker(50, 10)
	require.NoError(t, err)
	pipeline := ingest.NewPipeline(chunker, engine, metadata, ingest.NewDirLock(dir), nil)
	checker := search.NewConsistencyChecker(metadata, keyword, vector, nil)

	srv := NewServer(Config{Version: "test", DefaultTopK: 5}, engine, pipeline, metadata, checker, nil)
	return srv, engine
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func ingestCorpus(t *testing.T, srv *Server) string {
	t.Helper()
	docs := t.TempDir()
	content := "# Search\nhybrid retrieval fuses keyword and vector rankings\n\n# Storage\nchunks live in sqlite with stable identifiers\n"
	require.NoError(t, os.WriteFile(filepath.Join(docs, "guide.md"), []byte(content), 0o644))

	rec := doRequest(t, srv, http.MethodPost, "/v1/documents", IngestRequest{Path: docs})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return docs
}

func TestHealthAndVersion(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, rec)["status"])

	rec = doRequest(t, srv, http.MethodGet, "/version", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", decodeBody[map[string]string](t, rec)["version"])
}

func TestSearchEndToEnd(t *testing.T) {
	srv, _ := newTestServer(t)
	ingestCorpus(t, srv)

	rec := doRequest(t, srv, http.MethodPost, "/v1/search", SearchRequest{
		Query: "hybrid retrieval",
		Mode:  "keyword",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[SearchResponse](t, rec)
	assert.Equal(t, "keyword", resp.Mode)
	require.NotEmpty(t, resp.Results)
	assert.Contains(t, resp.Results[0].Text, "hybrid retrieval")
	assert.NotEmpty(t, resp.Results[0].ChunkID)
	assert.Contains(t, resp.Results[0].MatchedTerms, "hybrid")
}

func TestSearchHybridMode(t *testing.T) {
	srv, _ := newTestServer(t)
	ingestCorpus(t, srv)

	rec := doRequest(t, srv, http.MethodPost, "/v1/search", SearchRequest{Query: "sqlite identifiers"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[SearchResponse](t, rec)
	assert.Equal(t, "hybrid", resp.Mode)
	require.NotEmpty(t, resp.Results)
	// Hybrid hits carry provenance from at least one retriever.
	assert.NotEmpty(t, resp.Results[0].Ranks)
}

func TestSearchValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/v1/search", SearchRequest{Query: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/v1/search", SearchRequest{Query: "q", Mode: "semantic"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	zero := 0
	rec = doRequest(t, srv, http.MethodPost, "/v1/search", SearchRequest{Query: "q", TopK: &zero})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	negative := -3
	rec = doRequest(t, srv, http.MethodPost, "/v1/search", SearchRequest{Query: "q", TopK: &negative})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	badWeight := -1.0
	rec = doRequest(t, srv, http.MethodPost, "/v1/search", SearchRequest{Query: "q", VectorWeight: &badWeight})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/search", bytes.NewReader([]byte("{not json")))
	recBad := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recBad, req)
	assert.Equal(t, http.StatusBadRequest, recBad.Code)
}

func TestSearchEmptyCorpus(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/v1/search", SearchRequest{Query: "anything"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[SearchResponse](t, rec)
	assert.Empty(t, resp.Results)
}

func TestSearchTopKLimit(t *testing.T) {
	srv, _ := newTestServer(t)
	docs := t.TempDir()
	for i := 0; i < 5; i++ {
		name := filepath.Join(docs, fmt.Sprintf("doc%d.txt", i))
		require.NoError(t, os.WriteFile(name, []byte(fmt.Sprintf("shared corpus text number %d", i)), 0o644))
	}
	rec := doRequest(t, srv, http.MethodPost, "/v1/documents", IngestRequest{Path: docs})
	require.Equal(t, http.StatusCreated, rec.Code)

	two := 2
	rec = doRequest(t, srv, http.MethodPost, "/v1/search", SearchRequest{Query: "shared corpus", TopK: &two})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[SearchResponse](t, rec).Results, 2)
}

func TestIngestAndListDocuments(t *testing.T) {
	srv, _ := newTestServer(t)
	ingestCorpus(t, srv)

	rec := doRequest(t, srv, http.MethodGet, "/v1/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string][]store.Document](t, rec)
	require.Len(t, body["documents"], 1)
	assert.Equal(t, "guide.md", body["documents"][0].Name)
}

func TestIngestValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/v1/documents", IngestRequest{Path: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/v1/documents", IngestRequest{Path: "/nonexistent/path"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDeleteDocument(t *testing.T) {
	srv, _ := newTestServer(t)
	ingestCorpus(t, srv)

	rec := doRequest(t, srv, http.MethodGet, "/v1/documents", nil)
	body := decodeBody[map[string][]store.Document](t, rec)
	require.Len(t, body["documents"], 1)
	id := body["documents"][0].ID

	rec = doRequest(t, srv, http.MethodDelete, "/v1/documents/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, srv, http.MethodGet, "/v1/documents", nil)
	assert.Empty(t, decodeBody[map[string][]store.Document](t, rec)["documents"])

	// Deleted content no longer surfaces in search.
	rec = doRequest(t, srv, http.MethodPost, "/v1/search", SearchRequest{Query: "hybrid retrieval", Mode: "keyword"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[SearchResponse](t, rec).Results)
}

func TestDeleteDocumentNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodDelete, "/v1/documents/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ingestCorpus(t, srv)

	rec := doRequest(t, srv, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decodeBody[map[string]any](t, rec)
	assert.Greater(t, stats["keyword_chunks"].(float64), 0.0)
	assert.Greater(t, stats["vector_count"].(float64), 0.0)
}

func TestConsistencyEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ingestCorpus(t, srv)

	rec := doRequest(t, srv, http.MethodGet, "/v1/consistency", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["consistent"])
}

func TestConversationLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/v1/conversations", map[string]string{"title": "setup questions"})
	require.Equal(t, http.StatusCreated, rec.Code)
	conv := decodeBody[store.Conversation](t, rec)
	require.NotEmpty(t, conv.ID)
	assert.Equal(t, "setup questions", conv.Title)

	rec = doRequest(t, srv, http.MethodPost, "/v1/conversations/"+conv.ID+"/messages",
		map[string]string{"role": "user", "content": "how do I configure the port?"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/v1/conversations/"+conv.ID+"/messages",
		map[string]string{"role": "robot", "content": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/v1/conversations/"+conv.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decodeBody[map[string][]store.Message](t, rec)
	require.Len(t, msgs["messages"], 1)
	assert.Equal(t, "how do I configure the port?", msgs["messages"][0].Content)

	rec = doRequest(t, srv, http.MethodGet, "/v1/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	convs := decodeBody[map[string][]store.Conversation](t, rec)
	assert.Len(t, convs["conversations"], 1)
}
