package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer app.close()

			docs, err := app.metadata.ListDocuments(cmd.Context())
			if err != nil {
				return err
			}
			stats := app.engine.Stats()

			bold := color.New(color.Bold).SprintFunc()
			cmd.Println(bold("Index statistics"))
			cmd.Printf("  documents:       %d\n", len(docs))
			cmd.Printf("  vectors:         %d\n", stats.VectorCount)
			if ks := stats.KeywordStats; ks != nil {
				cmd.Printf("  keyword chunks:  %d\n", ks.ChunkCount)
				cmd.Printf("  distinct terms:  %d\n", ks.TermCount)
				cmd.Printf("  avg doc length:  %.1f\n", ks.AvgDocLength)
			}
			return nil
		},
	}
}
