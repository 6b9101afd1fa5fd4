package search

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docfusion/docfusion/internal/store"
)

// InconsistencyType categorizes detected cross-store issues.
type InconsistencyType int

const (
	// InconsistencyOrphanKeyword indicates a keyword index entry without
	// matching metadata.
	InconsistencyOrphanKeyword InconsistencyType = iota
	// InconsistencyOrphanVector indicates a vector entry without matching
	// metadata.
	InconsistencyOrphanVector
	// InconsistencyMissingKeyword indicates a metadata chunk missing from
	// the keyword index.
	InconsistencyMissingKeyword
	// InconsistencyMissingVector indicates a metadata chunk missing from
	// the vector store.
	InconsistencyMissingVector
)

// String returns a stable label for the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanKeyword:
		return "orphan_keyword"
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingKeyword:
		return "missing_keyword"
	case InconsistencyMissingVector:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected cross-store issue.
type Inconsistency struct {
	Type    InconsistencyType
	ChunkID string
	Details string
}

// CheckResult is the outcome of a consistency check.
type CheckResult struct {
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// ConsistencyChecker validates that the keyword index and vector store
// agree with the metadata store, which is the source of truth.
type ConsistencyChecker struct {
	metadata store.MetadataStore
	keyword  store.BM25Index
	vector   store.VectorStore
	logger   *slog.Logger
}

// NewConsistencyChecker creates a checker over the given stores.
func NewConsistencyChecker(metadata store.MetadataStore, keyword store.BM25Index, vector store.VectorStore, logger *slog.Logger) *ConsistencyChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsistencyChecker{
		metadata: metadata,
		keyword:  keyword,
		vector:   vector,
		logger:   logger.With("component", "search.consistency"),
	}
}

// Check scans all stores for inconsistencies. The three store scans run
// concurrently; the whole check fails if the metadata scan fails, since
// metadata is the source of truth. O(n) in total entries.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	var issues []Inconsistency

	var (
		chunks     []*store.Chunk
		keywordIDs []string
		vectorIDs  []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		chunks, err = c.metadata.AllChunks(gctx)
		return err
	})
	g.Go(func() error {
		ids, err := c.keyword.AllIDs()
		if err != nil {
			c.logger.Warn("failed to list keyword index IDs", "error", err.Error())
			return nil
		}
		keywordIDs = ids
		return nil
	})
	g.Go(func() error {
		vectorIDs = c.vector.AllIDs()
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	metadataIDs := make(map[string]bool, len(chunks))
	for _, ch := range chunks {
		metadataIDs[ch.ID] = true
	}

	for _, id := range keywordIDs {
		if !metadataIDs[id] {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyOrphanKeyword,
				ChunkID: id,
				Details: "keyword index entry without matching metadata",
			})
		}
	}
	for _, id := range vectorIDs {
		if !metadataIDs[id] {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyOrphanVector,
				ChunkID: id,
				Details: "vector entry without matching metadata",
			})
		}
	}

	keywordSet := make(map[string]bool, len(keywordIDs))
	for _, id := range keywordIDs {
		keywordSet[id] = true
	}
	vectorSet := make(map[string]bool, len(vectorIDs))
	for _, id := range vectorIDs {
		vectorSet[id] = true
	}

	for id := range metadataIDs {
		if !keywordSet[id] {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyMissingKeyword,
				ChunkID: id,
				Details: "chunk missing from keyword index",
			})
		}
		if !vectorSet[id] {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyMissingVector,
				ChunkID: id,
				Details: "chunk missing from vector store",
			})
		}
	}

	return &CheckResult{
		Checked:         len(metadataIDs),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// Repair fixes detected inconsistencies. Vector orphans are deleted
// best-effort; keyword issues and missing vectors are fixed by a full
// rebuild, since the keyword index only supports atomic replacement.
func (c *ConsistencyChecker) Repair(ctx context.Context, retriever Retriever, issues []Inconsistency) error {
	var orphanVector []string
	var needsRebuild bool

	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphanVector:
			orphanVector = append(orphanVector, issue.ChunkID)
		case InconsistencyOrphanKeyword, InconsistencyMissingKeyword, InconsistencyMissingVector:
			needsRebuild = true
		}
	}

	if len(orphanVector) > 0 {
		if err := c.vector.Delete(ctx, orphanVector); err != nil {
			c.logger.Warn("failed to delete orphan vector entries",
				"count", len(orphanVector),
				"error", err.Error())
		} else {
			c.logger.Info("deleted orphan vector entries", "count", len(orphanVector))
		}
	}

	if needsRebuild {
		c.logger.Info("rebuilding indices to repair inconsistencies")
		return retriever.Rebuild(ctx)
	}
	return nil
}

// QuickCheck verifies only that entry counts match across stores.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (bool, error) {
	chunks, err := c.metadata.AllChunks(ctx)
	if err != nil {
		return false, err
	}
	metadataCount := len(chunks)

	keywordCount := 0
	if stats := c.keyword.Stats(); stats != nil {
		keywordCount = stats.ChunkCount
	}
	vectorCount := c.vector.Count()

	consistent := metadataCount == keywordCount && metadataCount == vectorCount
	if !consistent {
		c.logger.Debug("store counts mismatch",
			"metadata", metadataCount,
			"keyword", keywordCount,
			"vector", vectorCount)
	}
	return consistent, nil
}
