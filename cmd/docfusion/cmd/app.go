package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/docfusion/docfusion/internal/config"
	"github.com/docfusion/docfusion/internal/embed"
	"github.com/docfusion/docfusion/internal/ingest"
	"github.com/docfusion/docfusion/internal/logging"
	"github.com/docfusion/docfusion/internal/search"
	"github.com/docfusion/docfusion/internal/store"
)

// app holds the wired components shared by the CLI commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	engine   *search.Engine
	metadata store.MetadataStore
	pipeline *ingest.Pipeline
	checker  *search.ConsistencyChecker
	cleanup  func()
}

// openApp loads config and wires stores, embedder, and engine. The
// in-process indices (memory BM25, HNSW) are rebuilt from the metadata
// store, so a fresh process starts with a complete index.
func openApp(ctx context.Context, rebuild bool) (*app, error) {
	cfg, err := config.Load(flagConfigDir)
	if err != nil {
		return nil, err
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagDebug {
		cfg.Logging.Level = "debug"
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	logCfg := logging.DefaultConfig(cfg.DataDir)
	logCfg.Level = cfg.Logging.Level
	if cfg.Logging.File != "" {
		logCfg.FilePath = cfg.Logging.File
	}
	logCfg.WriteToStderr = flagDebug
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	metadata, err := store.NewSQLiteStore(filepath.Join(cfg.DataDir, "metadata.db"))
	if err != nil {
		logCleanup()
		return nil, err
	}

	keyword, err := store.NewBM25IndexWithBackend(cfg.DataDir,
		store.BM25Config{K1: cfg.Search.K1, B: cfg.Search.B},
		cfg.Search.KeywordBackend)
	if err != nil {
		_ = metadata.Close()
		logCleanup()
		return nil, err
	}

	var vector store.VectorStore
	switch strings.ToLower(cfg.Search.VectorBackend) {
	case "pgvector":
		vector, err = store.NewPGVectorStore(ctx, cfg.Search.PostgresDSN, cfg.Embeddings.Dimensions)
	default:
		vector, err = store.NewHNSWStore(store.VectorStoreConfig{Dimensions: cfg.Embeddings.Dimensions})
	}
	if err != nil {
		_ = keyword.Close()
		_ = metadata.Close()
		logCleanup()
		return nil, err
	}

	embedder, err := buildEmbedder(cfg, logger)
	if err != nil {
		_ = vector.Close()
		_ = keyword.Close()
		_ = metadata.Close()
		logCleanup()
		return nil, err
	}

	engine, err := search.NewEngine(keyword, vector, embedder, metadata, search.EngineConfig{
		DefaultTopK:         cfg.Search.DefaultTopK,
		RRFConstant:         cfg.Search.KRRF,
		OverFetchMultiplier: cfg.Search.OverFetchMultiplier,
		DefaultWeights: search.Weights{
			Vector:  cfg.Search.VectorWeight,
			Keyword: cfg.Search.KeywordWeight,
		},
		Timeout:   cfg.RetrievalTimeout(),
		OnFailure: search.FailurePolicy(cfg.Search.OnSubretrieverFailure),
	}, logger)
	if err != nil {
		_ = embedder.Close()
		_ = vector.Close()
		_ = keyword.Close()
		_ = metadata.Close()
		logCleanup()
		return nil, err
	}

	if rebuild {
		if err := engine.Rebuild(ctx); err != nil {
			_ = engine.Close()
			logCleanup()
			return nil, fmt.Errorf("rebuild indices: %w", err)
		}
	}

	chunker, err := ingest.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	if err != nil {
		_ = engine.Close()
		logCleanup()
		return nil, err
	}
	lock := ingest.NewDirLock(cfg.DataDir)
	pipeline := ingest.NewPipeline(chunker, engine, metadata, lock, logger)
	checker := search.NewConsistencyChecker(metadata, keyword, vector, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		engine:   engine,
		metadata: metadata,
		pipeline: pipeline,
		checker:  checker,
		cleanup:  logCleanup,
	}, nil
}

func buildEmbedder(cfg *config.Config, logger *slog.Logger) (embed.Embedder, error) {
	var inner embed.Embedder
	switch strings.ToLower(cfg.Embeddings.Provider) {
	case "http":
		httpEmbedder, err := embed.NewHTTPEmbedder(embed.HTTPConfig{
			BaseURL:    cfg.Embeddings.BaseURL,
			APIKey:     cfg.Embeddings.APIKey,
			Model:      cfg.Embeddings.Model,
			Dimensions: cfg.Embeddings.Dimensions,
			BatchSize:  cfg.Embeddings.BatchSize,
		}, logger)
		if err != nil {
			return nil, err
		}
		inner = httpEmbedder
	default:
		inner = embed.NewStaticEmbedder(cfg.Embeddings.Dimensions)
	}
	return embed.NewCachedEmbedder(inner, cfg.Embeddings.CacheSize), nil
}

// close releases all resources.
func (a *app) close() {
	if err := a.engine.Close(); err != nil {
		a.logger.Warn("close failed", "error", err.Error())
	}
	a.cleanup()
}
