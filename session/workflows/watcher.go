package workflows

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultRulesDebounce is how long to wait for more changes before reloading.
const defaultRulesDebounce = 500 * time.Millisecond

// RulesWatcher hot-reloads the session-rules.yaml overlay. Editors write
// files in bursts, so changes are debounced before the reload callback runs.
type RulesWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration
	onReload func(*RulesFile)

	pending bool
}

// NewRulesWatcher creates a watcher for the overlay file. onReload is called
// with each successfully parsed overlay; parse failures keep the previous
// rules in effect.
func NewRulesWatcher(path string, logger *slog.Logger, onReload func(*RulesFile)) (*RulesWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RulesWatcher{
		path:     path,
		watcher:  fsw,
		logger:   logger,
		debounce: defaultRulesDebounce,
		onReload: onReload,
	}, nil
}

// Start begins watching. The containing directory is watched rather than the
// file itself so atomic rename-replace saves are observed.
func (w *RulesWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("Session rules watcher started", "path", w.path)
	return nil
}

// Stop stops the watcher.
func (w *RulesWatcher) Stop() error {
	return w.watcher.Close()
}

func (w *RulesWatcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.pending = true
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Rules watcher error", "error", err)

		case <-ticker.C:
			if !w.pending {
				continue
			}
			w.pending = false
			w.reload()
		}
	}
}

func (w *RulesWatcher) reload() {
	rules, err := LoadRules(w.path)
	if err != nil {
		w.logger.Warn("Failed to reload session rules, keeping previous",
			"path", w.path,
			"error", err)
		return
	}
	w.logger.Info("Reloaded session rules",
		"path", w.path,
		"overrides", len(rules.Overrides))
	w.onReload(rules)
}
