package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check cross-store index consistency",
		Long: `Verify that the keyword index and vector store agree with the
metadata store. With --repair, orphans are removed and missing entries
are fixed by rebuilding.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer app.close()

			result, err := app.checker.Check(cmd.Context())
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen).SprintFunc()
			red := color.New(color.FgRed).SprintFunc()

			if len(result.Inconsistencies) == 0 {
				cmd.Printf("%s %d chunks consistent across all stores (%s)\n",
					green("✓"), result.Checked, result.Duration.Round(0))
				return nil
			}

			cmd.Printf("%s found %d inconsistencies in %d chunks:\n",
				red("✗"), len(result.Inconsistencies), result.Checked)
			for _, issue := range result.Inconsistencies {
				cmd.Printf("  [%s] %s: %s\n", issue.Type, issue.ChunkID, issue.Details)
			}

			if repair {
				if err := app.checker.Repair(cmd.Context(), app.engine, result.Inconsistencies); err != nil {
					return err
				}
				cmd.Printf("%s repaired\n", green("✓"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Repair detected inconsistencies")
	return cmd
}
