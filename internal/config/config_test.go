package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.InDelta(t, 1.5, cfg.Search.K1, 1e-9)
	assert.InDelta(t, 0.75, cfg.Search.B, 1e-9)
	assert.Equal(t, 60, cfg.Search.KRRF)
	assert.InDelta(t, 1.0, cfg.Search.VectorWeight, 1e-9)
	assert.InDelta(t, 1.0, cfg.Search.KeywordWeight, 1e-9)
	assert.Equal(t, 4, cfg.Search.OverFetchMultiplier)
	assert.Equal(t, 5, cfg.Search.DefaultTopK)
	assert.Equal(t, "fail", cfg.Search.OnSubretrieverFailure)
	assert.Equal(t, "memory", cfg.Search.KeywordBackend)
	assert.Equal(t, "hnsw", cfg.Search.VectorBackend)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, 256, cfg.Embeddings.Dimensions)
	assert.Equal(t, 400, cfg.Ingest.ChunkSize)
	assert.Equal(t, 100, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 8642, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.RetrievalTimeout())
	assert.Equal(t, 2*time.Second, cfg.WatchDebounce())
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	content := `
data_dir: /tmp/df-test
search:
  k1: 1.2
  b: 0.5
  k_rrf: 30
  default_top_k: 10
  on_subretriever_failure: fallback
embeddings:
  provider: http
  base_url: http://localhost:11434/v1
  model: nomic-embed-text
server:
  port: 9001
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docfusion.yaml"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/df-test", cfg.DataDir)
	assert.InDelta(t, 1.2, cfg.Search.K1, 1e-9)
	assert.InDelta(t, 0.5, cfg.Search.B, 1e-9)
	assert.Equal(t, 30, cfg.Search.KRRF)
	assert.Equal(t, 10, cfg.Search.DefaultTopK)
	assert.Equal(t, "fallback", cfg.Search.OnSubretrieverFailure)
	assert.Equal(t, "http", cfg.Embeddings.Provider)
	assert.Equal(t, 9001, cfg.Server.Port)

	// Unspecified fields keep defaults.
	assert.Equal(t, 4, cfg.Search.OverFetchMultiplier)
	assert.Equal(t, 400, cfg.Ingest.ChunkSize)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DOCFUSION_DATA_DIR", "/tmp/env-data")
	t.Setenv("DOCFUSION_K1", "2.0")
	t.Setenv("DOCFUSION_DEFAULT_TOP_K", "7")
	t.Setenv("DOCFUSION_ON_SUBRETRIEVER_FAILURE", "fallback")
	t.Setenv("DOCFUSION_LOG_LEVEL", "debug")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "/tmp/env-data", cfg.DataDir)
	assert.InDelta(t, 2.0, cfg.Search.K1, 1e-9)
	assert.Equal(t, 7, cfg.Search.DefaultTopK)
	assert.Equal(t, "fallback", cfg.Search.OnSubretrieverFailure)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docfusion.yaml"),
		[]byte("search:\n  default_top_k: 3\n"), 0o644))
	t.Setenv("DOCFUSION_DEFAULT_TOP_K", "9")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Search.DefaultTopK)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docfusion.yaml"),
		[]byte("search: [not a map"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero k1", func(c *Config) { c.Search.K1 = 0 }},
		{"negative k1", func(c *Config) { c.Search.K1 = -1 }},
		{"b above one", func(c *Config) { c.Search.B = 1.5 }},
		{"negative b", func(c *Config) { c.Search.B = -0.1 }},
		{"zero k_rrf", func(c *Config) { c.Search.KRRF = 0 }},
		{"negative weight", func(c *Config) { c.Search.VectorWeight = -1 }},
		{"zero over_fetch", func(c *Config) { c.Search.OverFetchMultiplier = 0 }},
		{"zero top_k", func(c *Config) { c.Search.DefaultTopK = 0 }},
		{"zero timeout", func(c *Config) { c.Search.RetrievalTimeoutMS = 0 }},
		{"bad failure policy", func(c *Config) { c.Search.OnSubretrieverFailure = "ignore" }},
		{"bad keyword backend", func(c *Config) { c.Search.KeywordBackend = "elastic" }},
		{"bad vector backend", func(c *Config) { c.Search.VectorBackend = "faiss" }},
		{"pgvector without dsn", func(c *Config) { c.Search.VectorBackend = "pgvector" }},
		{"bad provider", func(c *Config) { c.Embeddings.Provider = "openai" }},
		{"http without base_url", func(c *Config) { c.Embeddings.Provider = "http" }},
		{"zero dimensions", func(c *Config) { c.Embeddings.Dimensions = 0 }},
		{"overlap >= chunk size", func(c *Config) { c.Ingest.ChunkOverlap = c.Ingest.ChunkSize }},
		{"bad debounce", func(c *Config) { c.Ingest.WatchDebounce = "soon" }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidatePgvectorWithDSN(t *testing.T) {
	cfg := NewConfig()
	cfg.Search.VectorBackend = "pgvector"
	cfg.Search.PostgresDSN = "postgres://localhost/docfusion"
	assert.NoError(t, cfg.Validate())
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Search.DefaultTopK = 12
	cfg.DataDir = "/tmp/rt"

	path := filepath.Join(dir, "docfusion.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 12, loaded.Search.DefaultTopK)
	assert.Equal(t, "/tmp/rt", loaded.DataDir)
}

func TestWatchDebounceFallback(t *testing.T) {
	cfg := NewConfig()
	cfg.Ingest.WatchDebounce = ""
	assert.Equal(t, 2*time.Second, cfg.WatchDebounce())
}
