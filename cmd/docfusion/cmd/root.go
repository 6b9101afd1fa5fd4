// Package cmd provides the CLI commands for docfusion.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docfusion/docfusion/pkg/version"
)

var (
	flagConfigDir string
	flagDataDir   string
	flagDebug     bool
)

// NewRootCmd creates the root command for the docfusion CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docfusion",
		Short: "Hybrid document retrieval engine",
		Long: `docfusion indexes document collections and answers queries with
hybrid retrieval: BM25 keyword search and vector similarity search,
fused with Reciprocal Rank Fusion.

Get started:
  docfusion ingest ./docs
  docfusion search "how do I configure timeouts"`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("docfusion version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", ".", "Directory containing docfusion.yaml")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Data directory (overrides config)")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command with signal-aware context.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		root.PrintErrln("Error:", err.Error())
		return err
	}
	return nil
}
