// Package watcher watches document directories and batches change events
// so the corpus can be re-ingested automatically.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Operation describes what happened to a file.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns a stable label for the operation.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is a single observed change.
type FileEvent struct {
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Options configures the watcher.
type Options struct {
	// DebounceWindow is how long to wait after the last change before
	// emitting a batch (default: 2s).
	DebounceWindow time.Duration

	// EventBufferSize is the batch channel capacity (default: 10).
	EventBufferSize int

	// Extensions limits events to these file extensions (lowercase,
	// with dot). Empty means all files.
	Extensions []string
}

// WithDefaults fills unset options.
func (o Options) WithDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 2 * time.Second
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = 10
	}
	return o
}

// Watcher wraps fsnotify with recursive directory watching and debounced
// event batches.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	errors    chan error
	stopCh    chan struct{}
	opts      Options
	logger    *slog.Logger

	mu      sync.Mutex
	stopped bool
}

// New creates a watcher with the given options.
func New(opts Options, logger *slog.Logger) (*Watcher, error) {
	opts = opts.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		fsWatcher: fsw,
		debouncer: NewDebouncer(opts.DebounceWindow, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
		logger:    logger.With("component", "watcher"),
	}, nil
}

// Start watches the directory tree rooted at path until the context is
// cancelled or Stop is called. It blocks; run it in a goroutine.
func (w *Watcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	if err := w.addRecursive(absPath); err != nil {
		return fmt.Errorf("watch directories: %w", err)
	}
	w.logger.Info("watching for changes", "path", absPath)

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// Events returns batches of debounced file events.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Errors returns watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Stop shuts the watcher down. Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	return w.fsWatcher.Close()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return
	}
	if len(w.opts.Extensions) > 0 {
		ext := strings.ToLower(filepath.Ext(event.Name))
		found := false
		for _, e := range w.opts.Extensions {
			if ext == e {
				found = true
				break
			}
		}
		if !found {
			// New directories still need to be added to the watch set.
			if event.Op.Has(fsnotify.Create) {
				if err := w.addRecursive(event.Name); err == nil {
					return
				}
			}
			return
		}
	}

	var op Operation
	switch {
	case event.Op.Has(fsnotify.Create):
		op = OpCreate
	case event.Op.Has(fsnotify.Write):
		op = OpModify
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      event.Name,
		Operation: op,
		Timestamp: time.Now(),
	})
}

func (w *Watcher) emitError(err error) {
	select {
	case w.errors <- err:
	default:
		w.logger.Warn("watcher error channel full, dropping error", "error", err.Error())
	}
}
