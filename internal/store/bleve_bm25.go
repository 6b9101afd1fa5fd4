package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
)

const (
	// TextTokenizerName is the name of the custom text tokenizer.
	TextTokenizerName = "text_tokenizer"

	// TextAnalyzerName is the name of the custom text analyzer.
	TextAnalyzerName = "text_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(TextTokenizerName, textTokenizerConstructor)
}

// BleveBM25Index wraps Bleve v2 for BM25 keyword search over large corpora.
//
// Unlike MemoryBM25Index it persists to disk, at the cost of Bleve's own
// BM25 parameterization (k1/b are not tunable per query). Build satisfies
// the replace contract by constructing a fresh index beside the active one
// and swapping under the write lock, so concurrent Search calls never see a
// half-built index.
type BleveBM25Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// bleveChunk is the document structure for Bleve indexing.
type bleveChunk struct {
	Text string `json:"text"`
}

// NewBleveBM25Index creates a new Bleve-backed BM25 index.
// If path is empty, the index lives in memory.
func NewBleveBM25Index(path string) (*BleveBM25Index, error) {
	idx, err := openBleve(path)
	if err != nil {
		return nil, err
	}
	return &BleveBM25Index{index: idx, path: path}, nil
}

func openBleve(path string) (bleve.Index, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("create index mapping: %w", err)
	}

	if path == "" {
		return bleve.NewMemOnly(indexMapping)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, indexMapping)
	}
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return idx, nil
}

// createIndexMapping creates the Bleve index mapping using the same
// tokenization rules as the memory backend.
func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(TextAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     TextTokenizerName,
		"token_filters": []string{},
	})
	if err != nil {
		return nil, fmt.Errorf("add custom analyzer: %w", err)
	}

	indexMapping.DefaultAnalyzer = TextAnalyzerName
	return indexMapping, nil
}

// Build replaces the index contents with the given chunks.
// A fresh index is built off to the side and swapped in under the write
// lock; on any failure the previous index stays active.
func (b *BleveBM25Index) Build(ctx context.Context, chunks []*Chunk) error {
	buildPath := ""
	if b.path != "" {
		buildPath = b.path + ".rebuild"
		// Leftover from an interrupted rebuild.
		_ = os.RemoveAll(buildPath)
	}

	fresh, err := openBleve(buildPath)
	if err != nil {
		return fmt.Errorf("create rebuild index: %w", err)
	}

	batch := fresh.NewBatch()
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			_ = fresh.Close()
			return err
		}
		if c == nil || c.ID == "" {
			_ = fresh.Close()
			return fmt.Errorf("chunk with empty ID at position %d", i)
		}
		if err := batch.Index(c.ID, bleveChunk{Text: c.Text}); err != nil {
			_ = fresh.Close()
			return fmt.Errorf("index chunk %s: %w", c.ID, err)
		}
	}
	if err := fresh.Batch(batch); err != nil {
		_ = fresh.Close()
		return fmt.Errorf("execute batch: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		_ = fresh.Close()
		return fmt.Errorf("index is closed")
	}

	old := b.index
	if buildPath != "" {
		// Swap directories: close both, rename, reopen.
		if err := fresh.Close(); err != nil {
			return fmt.Errorf("close rebuild index: %w", err)
		}
		if old != nil {
			_ = old.Close()
		}
		if err := os.RemoveAll(b.path); err != nil {
			return fmt.Errorf("remove old index: %w", err)
		}
		if err := os.Rename(buildPath, b.path); err != nil {
			return fmt.Errorf("swap index: %w", err)
		}
		reopened, err := bleve.Open(b.path)
		if err != nil {
			return fmt.Errorf("reopen index: %w", err)
		}
		b.index = reopened
		return nil
	}

	b.index = fresh
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Search returns chunks matching query, scored by Bleve's BM25.
func (b *BleveBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]*BM25Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(queryStr) == "" || limit <= 0 {
		return []*BM25Result{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("text")

	searchRequest := bleve.NewSearchRequest(matchQuery)
	searchRequest.Size = limit
	searchRequest.IncludeLocations = true

	result, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*BM25Result, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &BM25Result{
			ChunkID:      hit.ID,
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit),
		})
	}
	return results, nil
}

// AllIDs returns all chunk IDs in the index.
func (b *BleveBM25Index) AllIDs() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}

	docCount, _ := b.index.DocCount()
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(docCount)

	result, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search for all IDs: %w", err)
	}

	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Stats returns index statistics. Bleve does not expose term count or
// average document length directly.
func (b *BleveBM25Index) Stats() *IndexStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return &IndexStats{}
	}

	docCount, _ := b.index.DocCount()
	return &IndexStats{ChunkCount: int(docCount)}
}

// Close closes the index.
func (b *BleveBM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// extractMatchedTerms extracts matched terms from a search hit.
func extractMatchedTerms(hit *search.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field == "text" {
			for term := range locations {
				terms[term] = struct{}{}
			}
		}
	}

	result := make([]string, 0, len(terms))
	for term := range terms {
		result = append(result, term)
	}
	return result
}

// Verify interface implementation
var _ BM25Index = (*BleveBM25Index)(nil)

// textTokenizerConstructor creates the custom tokenizer for Bleve.
func textTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveTextTokenizer{}, nil
}

// bleveTextTokenizer implements analysis.Tokenizer on top of Tokenize so the
// Bleve backend splits terms exactly like the memory backend.
type bleveTextTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *bleveTextTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := Tokenize(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0

	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}

	return result
}
