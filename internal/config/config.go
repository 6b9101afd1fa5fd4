// Package config loads docfusion configuration from YAML files and
// DOCFUSION_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete docfusion configuration.
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	Search     SearchConfig     `yaml:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SearchConfig configures hybrid retrieval.
//
// Precedence, lowest to highest: built-in defaults, config file, then
// DOCFUSION_* environment variables.
type SearchConfig struct {
	// K1 is the BM25 term frequency saturation parameter.
	K1 float64 `yaml:"k1"`

	// B is the BM25 document length normalization parameter.
	B float64 `yaml:"b"`

	// KRRF is the RRF damping constant. Higher values flatten the
	// difference between adjacent ranks.
	KRRF int `yaml:"k_rrf"`

	// VectorWeight and KeywordWeight are the fusion weights. They need
	// not sum to 1; RRF scores are not normalized.
	VectorWeight  float64 `yaml:"vector_weight"`
	KeywordWeight float64 `yaml:"keyword_weight"`

	// OverFetchMultiplier scales top_k when querying each sub-retriever.
	OverFetchMultiplier int `yaml:"over_fetch_multiplier"`

	// DefaultTopK is used when a request omits top_k.
	DefaultTopK int `yaml:"default_top_k"`

	// RetrievalTimeoutMS bounds each retrieval request in milliseconds.
	RetrievalTimeoutMS int `yaml:"retrieval_timeout_ms"`

	// OnSubretrieverFailure is "fail" (default) or "fallback".
	OnSubretrieverFailure string `yaml:"on_subretriever_failure"`

	// KeywordBackend selects the keyword index backend: "memory"
	// (default, exact BM25 scoring) or "bleve" (persistent).
	KeywordBackend string `yaml:"keyword_backend"`

	// VectorBackend selects the vector store backend: "hnsw" (default,
	// in-process) or "pgvector" (PostgreSQL).
	VectorBackend string `yaml:"vector_backend"`

	// PostgresDSN is required when VectorBackend is "pgvector".
	PostgresDSN string `yaml:"postgres_dsn"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "http" (OpenAI-compatible endpoint) or "static"
	// (deterministic offline vectors).
	Provider   string `yaml:"provider"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
	CacheSize  int    `yaml:"cache_size"`
}

// IngestConfig configures document loading and chunking.
type IngestConfig struct {
	// ChunkSize and ChunkOverlap are in words.
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	// Watch enables filesystem watching for automatic re-ingestion.
	Watch bool `yaml:"watch"`

	// WatchDebounce is how long to wait after the last change before
	// re-ingesting, e.g. "2s".
	WatchDebounce string `yaml:"watch_debounce"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Search: SearchConfig{
			K1:                    1.5,
			B:                     0.75,
			KRRF:                  60,
			VectorWeight:          1.0,
			KeywordWeight:         1.0,
			OverFetchMultiplier:   4,
			DefaultTopK:           5,
			RetrievalTimeoutMS:    10000,
			OnSubretrieverFailure: "fail",
			KeywordBackend:        "memory",
			VectorBackend:         "hnsw",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Dimensions: 256,
			BatchSize:  32,
			CacheSize:  1000,
		},
		Ingest: IngestConfig{
			ChunkSize:     400,
			ChunkOverlap:  100,
			WatchDebounce: "2s",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8642,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docfusion"
	}
	return filepath.Join(home, ".docfusion")
}

// Load builds the configuration: defaults, then the config file in dir
// (docfusion.yaml or docfusion.yml), then environment overrides, then
// validation.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{"docfusion.yaml", "docfusion.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}
	// No config file is fine, defaults apply.
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies DOCFUSION_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCFUSION_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("DOCFUSION_K1"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Search.K1 = f
		}
	}
	if v := os.Getenv("DOCFUSION_B"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.Search.B = f
		}
	}
	if v := os.Getenv("DOCFUSION_K_RRF"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.KRRF = k
		}
	}
	if v := os.Getenv("DOCFUSION_VECTOR_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			c.Search.VectorWeight = f
		}
	}
	if v := os.Getenv("DOCFUSION_KEYWORD_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			c.Search.KeywordWeight = f
		}
	}
	if v := os.Getenv("DOCFUSION_OVER_FETCH_MULTIPLIER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.OverFetchMultiplier = n
		}
	}
	if v := os.Getenv("DOCFUSION_DEFAULT_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.DefaultTopK = n
		}
	}
	if v := os.Getenv("DOCFUSION_RETRIEVAL_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.RetrievalTimeoutMS = n
		}
	}
	if v := os.Getenv("DOCFUSION_ON_SUBRETRIEVER_FAILURE"); v != "" {
		c.Search.OnSubretrieverFailure = v
	}
	if v := os.Getenv("DOCFUSION_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("DOCFUSION_EMBEDDINGS_BASE_URL"); v != "" {
		c.Embeddings.BaseURL = v
	}
	if v := os.Getenv("DOCFUSION_EMBEDDINGS_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	}
	if v := os.Getenv("DOCFUSION_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("DOCFUSION_POSTGRES_DSN"); v != "" {
		c.Search.PostgresDSN = v
	}
	if v := os.Getenv("DOCFUSION_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the final configuration.
func (c *Config) Validate() error {
	if c.Search.K1 <= 0 {
		return fmt.Errorf("k1 must be positive, got %f", c.Search.K1)
	}
	if c.Search.B < 0 || c.Search.B > 1 {
		return fmt.Errorf("b must be between 0 and 1, got %f", c.Search.B)
	}
	if c.Search.KRRF <= 0 {
		return fmt.Errorf("k_rrf must be positive, got %d", c.Search.KRRF)
	}
	if c.Search.VectorWeight < 0 || c.Search.KeywordWeight < 0 {
		return fmt.Errorf("retriever weights must be non-negative")
	}
	if c.Search.OverFetchMultiplier <= 0 {
		return fmt.Errorf("over_fetch_multiplier must be positive, got %d", c.Search.OverFetchMultiplier)
	}
	if c.Search.DefaultTopK <= 0 {
		return fmt.Errorf("default_top_k must be positive, got %d", c.Search.DefaultTopK)
	}
	if c.Search.RetrievalTimeoutMS <= 0 {
		return fmt.Errorf("retrieval_timeout_ms must be positive, got %d", c.Search.RetrievalTimeoutMS)
	}

	switch strings.ToLower(c.Search.OnSubretrieverFailure) {
	case "fail", "fallback":
	default:
		return fmt.Errorf("on_subretriever_failure must be 'fail' or 'fallback', got %s", c.Search.OnSubretrieverFailure)
	}

	switch strings.ToLower(c.Search.KeywordBackend) {
	case "", "memory", "bleve":
	default:
		return fmt.Errorf("keyword_backend must be 'memory' or 'bleve', got %s", c.Search.KeywordBackend)
	}

	switch strings.ToLower(c.Search.VectorBackend) {
	case "", "hnsw", "pgvector":
	default:
		return fmt.Errorf("vector_backend must be 'hnsw' or 'pgvector', got %s", c.Search.VectorBackend)
	}
	if strings.ToLower(c.Search.VectorBackend) == "pgvector" && c.Search.PostgresDSN == "" {
		return fmt.Errorf("postgres_dsn is required when vector_backend is 'pgvector'")
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "http", "static":
	default:
		return fmt.Errorf("embeddings.provider must be 'http' or 'static', got %s", c.Embeddings.Provider)
	}
	if strings.ToLower(c.Embeddings.Provider) == "http" && c.Embeddings.BaseURL == "" {
		return fmt.Errorf("embeddings.base_url is required when provider is 'http'")
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}

	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap)
	}
	if _, err := time.ParseDuration(c.Ingest.WatchDebounce); c.Ingest.WatchDebounce != "" && err != nil {
		return fmt.Errorf("watch_debounce is not a valid duration: %s", c.Ingest.WatchDebounce)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	return nil
}

// RetrievalTimeout returns the retrieval timeout as a duration.
func (c *Config) RetrievalTimeout() time.Duration {
	return time.Duration(c.Search.RetrievalTimeoutMS) * time.Millisecond
}

// WatchDebounce returns the watch debounce as a duration.
func (c *Config) WatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Ingest.WatchDebounce)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
