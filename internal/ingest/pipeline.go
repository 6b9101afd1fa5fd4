package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/docfusion/docfusion/internal/search"
	"github.com/docfusion/docfusion/internal/store"
)

// Pipeline ties loading, chunking, and indexing together.
type Pipeline struct {
	chunker   *Chunker
	retriever search.Retriever
	metadata  store.MetadataStore
	lock      *DirLock
	logger    *slog.Logger
}

// NewPipeline creates an ingestion pipeline. The lock guards the data
// directory against concurrent ingests from other processes.
func NewPipeline(chunker *Chunker, retriever search.Retriever, metadata store.MetadataStore, lock *DirLock, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		chunker:   chunker,
		retriever: retriever,
		metadata:  metadata,
		lock:      lock,
		logger:    logger.With("component", "ingest.pipeline"),
	}
}

// Stats summarizes an ingestion run.
type Stats struct {
	Documents int
	Chunks    int
}

// IngestPath ingests a file or directory tree. Re-ingesting a path
// replaces that document's previous chunks.
func (p *Pipeline) IngestPath(ctx context.Context, path string) (*Stats, error) {
	if p.lock != nil {
		acquired, err := p.lock.TryLock()
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, fmt.Errorf("another ingest is in progress (lock: %s)", p.lock.Path())
		}
		defer func() { _ = p.lock.Unlock() }()
	}

	docs, err := loadPath(path)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	for _, doc := range docs {
		n, err := p.ingestDocument(ctx, doc)
		if err != nil {
			return stats, fmt.Errorf("ingest %s: %w", doc.Document.Path, err)
		}
		stats.Documents++
		stats.Chunks += n
	}

	p.logger.Info("ingest complete",
		"path", path,
		"documents", stats.Documents,
		"chunks", stats.Chunks)
	return stats, nil
}

func (p *Pipeline) ingestDocument(ctx context.Context, doc *LoadedDocument) (int, error) {
	chunks := p.chunker.ChunkDocument(doc.Document.ID, doc.Pages)
	doc.Document.ChunkCount = len(chunks)

	// Replace any earlier version of the document before re-indexing.
	if existing, err := p.metadata.GetDocument(ctx, doc.Document.ID); err == nil && existing != nil {
		if err := p.retriever.Delete(ctx, doc.Document.ID); err != nil {
			return 0, fmt.Errorf("remove previous version: %w", err)
		}
	}

	if err := p.metadata.SaveDocument(ctx, doc.Document); err != nil {
		return 0, fmt.Errorf("save document: %w", err)
	}
	if len(chunks) == 0 {
		p.logger.Warn("document produced no chunks", "path", doc.Document.Path)
		return 0, nil
	}
	if err := p.retriever.Index(ctx, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

func loadPath(path string) ([]*LoadedDocument, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	doc, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return []*LoadedDocument{doc}, nil
}
