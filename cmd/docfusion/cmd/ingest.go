package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Ingest documents into the index",
		Long: `Ingest a file or directory of documents (.txt, .md) into the
retrieval index. Re-ingesting a path replaces its previous chunks.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer app.close()

			stats, err := app.pipeline.IngestPath(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen).SprintFunc()
			cmd.Printf("%s ingested %d documents (%d chunks)\n",
				green("✓"), stats.Documents, stats.Chunks)
			return nil
		},
	}
	return cmd
}
