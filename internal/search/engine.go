package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/docfusion/docfusion/internal/embed"
	derrors "github.com/docfusion/docfusion/internal/errors"
	"github.com/docfusion/docfusion/internal/store"
)

// Engine implements hybrid retrieval over a BM25 keyword index and a
// vector store, fusing both ranked lists with RRF.
type Engine struct {
	keyword  store.BM25Index
	vector   store.VectorStore
	embedder embed.Embedder
	metadata store.MetadataStore
	config   EngineConfig
	fusion   *RRFFusion
	logger   *slog.Logger
	mu       sync.RWMutex
}

var _ Retriever = (*Engine)(nil)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// NewEngine creates a hybrid retrieval engine. All dependencies are
// required; config zero values fall back to defaults.
func NewEngine(
	keyword store.BM25Index,
	vector store.VectorStore,
	embedder embed.Embedder,
	metadata store.MetadataStore,
	config EngineConfig,
	logger *slog.Logger,
) (*Engine, error) {
	if keyword == nil {
		return nil, fmt.Errorf("%w: keyword index is required", ErrNilDependency)
	}
	if vector == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if metadata == nil {
		return nil, fmt.Errorf("%w: metadata store is required", ErrNilDependency)
	}
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultEngineConfig()
	if config.DefaultTopK <= 0 {
		config.DefaultTopK = def.DefaultTopK
	}
	if config.RRFConstant <= 0 {
		config.RRFConstant = def.RRFConstant
	}
	if config.OverFetchMultiplier <= 0 {
		config.OverFetchMultiplier = def.OverFetchMultiplier
	}
	if config.DefaultWeights == (Weights{}) {
		config.DefaultWeights = def.DefaultWeights
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.OnFailure == "" {
		config.OnFailure = def.OnFailure
	}

	return &Engine{
		keyword:  keyword,
		vector:   vector,
		embedder: embedder,
		metadata: metadata,
		config:   config,
		fusion:   NewRRFFusionWithK(config.RRFConstant),
		logger:   logger.With("component", "search.engine"),
	}, nil
}

// Retrieve executes a query in the requested mode and returns the top-k
// enriched results. Invalid parameters are rejected before any index or
// embedder work starts.
func (e *Engine) Retrieve(ctx context.Context, query string, opts Options) ([]*Result, error) {
	start := time.Now()

	opts, err := e.validate(opts)
	if err != nil {
		return nil, err
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return []*Result{}, nil
	}

	timeout := e.config.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Over-fetch so fusion has enough candidates to re-rank. Consensus
	// across retrievers can promote chunks ranked below top-k in either
	// individual list.
	fetchK := opts.TopK * e.config.OverFetchMultiplier

	lists, rawByID, matchedTerms, err := e.dispatch(ctx, query, opts.Mode, fetchK)
	if err != nil {
		return nil, err
	}

	weights := map[string]float64{
		RetrieverVector:  opts.Weights.Vector,
		RetrieverKeyword: opts.Weights.Keyword,
	}
	fused := e.fusion.Fuse(lists, weights)
	if len(fused) > opts.TopK {
		fused = fused[:opts.TopK]
	}

	results, err := e.enrich(ctx, fused, rawByID, matchedTerms, opts.Mode)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("retrieval complete",
		"mode", string(opts.Mode),
		"top_k", opts.TopK,
		"results", len(results),
		"duration", time.Since(start))
	return results, nil
}

// validate applies defaults and rejects invalid request options.
func (e *Engine) validate(opts Options) (Options, error) {
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}
	switch opts.Mode {
	case ModeVector, ModeKeyword, ModeHybrid:
	default:
		return opts, derrors.InvalidParameter(fmt.Sprintf("unknown retrieval mode %q", opts.Mode))
	}

	if opts.TopK <= 0 {
		return opts, derrors.InvalidParameter(fmt.Sprintf("top_k must be positive, got %d", opts.TopK))
	}

	if opts.Weights == nil {
		w := e.config.DefaultWeights
		opts.Weights = &w
	}
	if opts.Weights.Vector < 0 || opts.Weights.Keyword < 0 {
		return opts, derrors.InvalidParameter("retriever weights must be non-negative")
	}
	return opts, nil
}

// dispatch runs the sub-retrievers selected by mode and returns their
// ranked lists keyed by retriever name, plus raw scores and matched terms
// for provenance. In hybrid mode both run concurrently; failures are
// resolved per the configured failure policy.
func (e *Engine) dispatch(ctx context.Context, query string, mode Mode, fetchK int) (
	lists map[string][]RankedResult,
	rawByID map[string]map[string]float64,
	matchedTerms map[string][]string,
	err error,
) {
	lists = make(map[string][]RankedResult, 2)
	rawByID = make(map[string]map[string]float64, 2)
	matchedTerms = make(map[string][]string)

	var (
		keywordResults []*store.BM25Result
		vectorResults  []*store.VectorResult
		keywordErr     error
		vectorErr      error
	)

	// Each side captures its own error so the failure policy can be
	// resolved after both finish. A context deadline surfaces as a
	// sub-retriever error and flows through the same policy.
	var wg sync.WaitGroup

	if mode == ModeKeyword || mode == ModeHybrid {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keywordResults, keywordErr = e.keyword.Search(ctx, query, fetchK)
		}()
	}

	if mode == ModeVector || mode == ModeHybrid {
		wg.Add(1)
		go func() {
			defer wg.Done()
			embedding, embedErr := e.embedder.Embed(ctx, query)
			if embedErr != nil {
				vectorErr = embedErr
				return
			}
			vectorResults, vectorErr = e.vector.Search(ctx, embedding, fetchK)
		}()
	}

	wg.Wait()

	switch mode {
	case ModeKeyword:
		if keywordErr != nil {
			return nil, nil, nil, derrors.Retrieval("keyword search failed", keywordErr)
		}
	case ModeVector:
		if vectorErr != nil {
			return nil, nil, nil, derrors.Retrieval("vector search failed", vectorErr)
		}
	case ModeHybrid:
		if keywordErr != nil && vectorErr != nil {
			return nil, nil, nil, derrors.Retrieval("all sub-retrievers failed",
				errors.Join(keywordErr, vectorErr))
		}
		if keywordErr != nil || vectorErr != nil {
			failed, cause := RetrieverKeyword, keywordErr
			if vectorErr != nil {
				failed, cause = RetrieverVector, vectorErr
			}
			if e.config.OnFailure == PolicyFail {
				return nil, nil, nil, derrors.Retrieval(
					fmt.Sprintf("%s sub-retriever failed", failed), cause)
			}
			e.logger.Warn("sub-retriever failed, degrading to partial results",
				"failed", failed,
				"error", cause.Error())
		}
	}

	if keywordErr == nil && (mode == ModeKeyword || mode == ModeHybrid) {
		list := make([]RankedResult, len(keywordResults))
		raw := make(map[string]float64, len(keywordResults))
		for i, r := range keywordResults {
			list[i] = RankedResult{ChunkID: r.ChunkID, Rank: i + 1, Score: r.Score}
			raw[r.ChunkID] = r.Score
			if len(r.MatchedTerms) > 0 {
				matchedTerms[r.ChunkID] = r.MatchedTerms
			}
		}
		lists[RetrieverKeyword] = list
		rawByID[RetrieverKeyword] = raw
	}

	if vectorErr == nil && (mode == ModeVector || mode == ModeHybrid) {
		list := make([]RankedResult, len(vectorResults))
		raw := make(map[string]float64, len(vectorResults))
		for i, r := range vectorResults {
			list[i] = RankedResult{ChunkID: r.ChunkID, Rank: i + 1, Score: float64(r.Score)}
			raw[r.ChunkID] = float64(r.Score)
		}
		lists[RetrieverVector] = list
		rawByID[RetrieverVector] = raw
	}

	return lists, rawByID, matchedTerms, nil
}

// enrich fetches full chunk records for the fused results in a single
// batch query, preserving fused order. In single-retriever modes the
// result score is the raw sub-retriever score rather than the RRF value.
func (e *Engine) enrich(
	ctx context.Context,
	fused []*FusedResult,
	rawByID map[string]map[string]float64,
	matchedTerms map[string][]string,
	mode Mode,
) ([]*Result, error) {
	if len(fused) == 0 {
		return []*Result{}, nil
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
	}
	chunks, err := e.metadata.GetChunks(ctx, ids)
	if err != nil {
		return nil, derrors.Retrieval("fetch chunk metadata", err)
	}

	chunkByID := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		chunkByID[c.ID] = c
	}

	results := make([]*Result, 0, len(fused))
	for _, f := range fused {
		chunk, ok := chunkByID[f.ChunkID]
		if !ok {
			// Index entry with no metadata row: a stale index. Skip it
			// rather than return a hollow citation.
			e.logger.Warn("chunk in index but not in metadata store, skipping",
				"chunk_id", f.ChunkID)
			continue
		}

		score := f.Score
		switch mode {
		case ModeKeyword:
			score = rawByID[RetrieverKeyword][f.ChunkID]
		case ModeVector:
			score = rawByID[RetrieverVector][f.ChunkID]
		}

		results = append(results, &Result{
			Chunk:        chunk,
			Score:        score,
			Ranks:        f.Ranks,
			RawScores:    f.RawScores,
			MatchedTerms: matchedTerms[f.ChunkID],
		})
	}
	return results, nil
}

// Index saves chunks to the metadata store, embeds and adds them to the
// vector store, then rebuilds the keyword index from the full corpus so
// readers always see a complete snapshot.
func (e *Engine) Index(ctx context.Context, chunks []*store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.metadata.SaveChunks(ctx, chunks); err != nil {
		return fmt.Errorf("save chunks: %w", err)
	}

	texts := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
		ids[i] = c.ID
	}
	embeddings, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("generate embeddings: %w", err)
	}
	if err := e.vector.Add(ctx, ids, embeddings); err != nil {
		return fmt.Errorf("add vectors: %w", err)
	}

	return e.rebuildKeyword(ctx)
}

// Delete removes a document's chunks from all stores and rebuilds the
// keyword index. Metadata is the source of truth; vector orphans are
// tolerated and filtered out during enrichment.
func (e *Engine) Delete(ctx context.Context, documentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	chunks, err := e.metadata.AllChunks(ctx)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	var ids []string
	for _, c := range chunks {
		if c.DocumentID == documentID {
			ids = append(ids, c.ID)
		}
	}

	if err := e.metadata.DeleteChunksByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	if len(ids) > 0 {
		if err := e.vector.Delete(ctx, ids); err != nil {
			e.logger.Warn("vector delete failed, orphans remain until next rebuild",
				"error", err.Error(),
				"count", len(ids))
		}
	}

	return e.rebuildKeyword(ctx)
}

// Rebuild reconstructs both indices from the metadata store.
func (e *Engine) Rebuild(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	chunks, err := e.metadata.AllChunks(ctx)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		ids := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
			ids[i] = c.ID
		}
		embeddings, err := e.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("generate embeddings: %w", err)
		}
		if err := e.vector.Add(ctx, ids, embeddings); err != nil {
			return fmt.Errorf("add vectors: %w", err)
		}
	}

	if err := e.keyword.Build(ctx, chunks); err != nil {
		return err
	}

	e.logger.Info("indices rebuilt", "chunks", len(chunks))
	return nil
}

// rebuildKeyword rebuilds the keyword index from all stored chunks. The
// caller must hold the write lock. Queries against the old snapshot keep
// working until the swap.
func (e *Engine) rebuildKeyword(ctx context.Context) error {
	all, err := e.metadata.AllChunks(ctx)
	if err != nil {
		return fmt.Errorf("list chunks for rebuild: %w", err)
	}
	return e.keyword.Build(ctx, all)
}

// Stats returns engine statistics.
func (e *Engine) Stats() *EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return &EngineStats{
		KeywordStats: e.keyword.Stats(),
		VectorCount:  e.vector.Count(),
	}
}

// Close releases all resources.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if err := e.keyword.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.vector.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.embedder.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.metadata.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
