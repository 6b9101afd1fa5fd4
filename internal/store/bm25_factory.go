package store

import (
	"fmt"
	"path/filepath"
)

// BM25Backend represents the BM25 index backend type.
type BM25Backend string

const (
	// BM25BackendMemory is the exact in-memory BM25 implementation
	// (default). Rebuilt from the metadata store on startup.
	BM25BackendMemory BM25Backend = "memory"

	// BM25BackendBleve uses Bleve v2 with on-disk persistence. Useful for
	// corpora too large to re-score in memory; k1/b tuning does not apply.
	BM25BackendBleve BM25Backend = "bleve"
)

// NewBM25IndexWithBackend creates a BM25Index using the specified backend.
//
// backend options:
//   - "memory" (default): exact BM25 scoring, atomic snapshot rebuild
//   - "bleve": Bleve v2 persistent index
//
// dataDir is only used by the bleve backend; empty keeps bleve in memory.
func NewBM25IndexWithBackend(dataDir string, config BM25Config, backend string) (BM25Index, error) {
	switch backend {
	case string(BM25BackendMemory), "":
		return NewMemoryBM25Index(config), nil

	case string(BM25BackendBleve):
		var path string
		if dataDir != "" {
			path = filepath.Join(dataDir, "keyword.bleve")
		}
		return NewBleveBM25Index(path)

	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: memory, bleve)", backend)
	}
}
