package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/docfusion/docfusion/internal/search"
)

type searchOptions struct {
	mode          string
	topK          int
	vectorWeight  float64
	keywordWeight float64
	format        string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the ingested documents",
		Long: `Search the ingested documents with hybrid retrieval.

Examples:
  docfusion search "connection timeout settings"
  docfusion search "bm25 scoring" --mode keyword --top-k 3
  docfusion search "vector databases" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd, query, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "Retrieval mode: vector, keyword, hybrid")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Number of results (default from config)")
	cmd.Flags().Float64Var(&opts.vectorWeight, "vector-weight", -1, "Fusion weight for vector results")
	cmd.Flags().Float64Var(&opts.keywordWeight, "keyword-weight", -1, "Fusion weight for keyword results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	app, err := openApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer app.close()

	mode, err := search.ParseMode(opts.mode)
	if err != nil {
		return err
	}

	searchOpts := search.Options{Mode: mode, TopK: opts.topK}
	if searchOpts.TopK <= 0 {
		searchOpts.TopK = app.cfg.Search.DefaultTopK
	}
	if opts.vectorWeight >= 0 || opts.keywordWeight >= 0 {
		weights := search.Weights{
			Vector:  app.cfg.Search.VectorWeight,
			Keyword: app.cfg.Search.KeywordWeight,
		}
		if opts.vectorWeight >= 0 {
			weights.Vector = opts.vectorWeight
		}
		if opts.keywordWeight >= 0 {
			weights.Keyword = opts.keywordWeight
		}
		searchOpts.Weights = &weights
	}

	results, err := app.engine.Retrieve(cmd.Context(), query, searchOpts)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		cmd.Println("No results.")
		return nil
	}

	bold := color.New(color.Bold).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	for i, res := range results {
		cmd.Printf("%s %s  %s\n",
			bold(fmt.Sprintf("%d.", i+1)),
			cyan(res.Chunk.ID),
			faint(formatProvenance(res)))
		cmd.Printf("   %s\n\n", truncateText(res.Chunk.Text, 300))
	}
	return nil
}

// truncateText shortens s to at most max bytes without splitting a
// multi-byte rune, appending an ellipsis when anything was cut.
func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func formatProvenance(res *search.Result) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("score=%.4f", res.Score))
	if rank, ok := res.Ranks[search.RetrieverKeyword]; ok {
		parts = append(parts, fmt.Sprintf("keyword#%d", rank))
	}
	if rank, ok := res.Ranks[search.RetrieverVector]; ok {
		parts = append(parts, fmt.Sprintf("vector#%d", rank))
	}
	if len(res.MatchedTerms) > 0 {
		parts = append(parts, "terms="+strings.Join(res.MatchedTerms, ","))
	}
	return strings.Join(parts, " ")
}
