package cmd

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/docfusion/docfusion/internal/api"
	"github.com/docfusion/docfusion/internal/ingest"
	"github.com/docfusion/docfusion/internal/watcher"
	"github.com/docfusion/docfusion/pkg/version"
)

func newServeCmd() *cobra.Command {
	var watchPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Run the HTTP API server. With --watch, changes under the given
directory trigger automatic re-ingestion.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, watchPath)
		},
	}

	cmd.Flags().StringVarP(&watchPath, "watch", "w", "", "Directory to watch for document changes")
	return cmd
}

func runServe(cmd *cobra.Command, watchPath string) error {
	ctx := cmd.Context()

	app, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer app.close()

	server := api.NewServer(api.Config{
		Host:        app.cfg.Server.Host,
		Port:        app.cfg.Server.Port,
		Version:     version.Version,
		DefaultTopK: app.cfg.Search.DefaultTopK,
	}, app.engine, app.pipeline, app.metadata, app.checker, app.logger)

	if watchPath != "" {
		w, err := watcher.New(watcher.Options{
			DebounceWindow: app.cfg.WatchDebounce(),
			Extensions:     []string{".txt", ".md", ".markdown"},
		}, app.logger)
		if err != nil {
			return err
		}
		go func() {
			if err := w.Start(ctx, watchPath); err != nil && ctx.Err() == nil {
				app.logger.Error("watcher stopped", "error", err.Error())
			}
		}()
		go handleWatchEvents(ctx, app, w)
		defer func() { _ = w.Stop() }()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// handleWatchEvents re-ingests changed paths. Deletes remove the document;
// creates and modifies re-ingest the file.
func handleWatchEvents(ctx context.Context, app *app, w *watcher.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.Events():
			if !ok {
				return
			}
			for _, ev := range batch {
				switch ev.Operation {
				case watcher.OpDelete:
					if err := app.engine.Delete(ctx, ingestDocID(ev.Path)); err != nil {
						app.logger.Warn("remove deleted document failed",
							"path", ev.Path, "error", err.Error())
					}
				default:
					if _, err := app.pipeline.IngestPath(ctx, ev.Path); err != nil {
						app.logger.Warn("re-ingest failed",
							"path", ev.Path, "error", err.Error())
					}
				}
			}
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			app.logger.Warn("watch error", "error", err.Error())
		}
	}
}

func ingestDocID(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return ingest.DocumentID(abs)
}
