package drift

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/memoryhub/memoryhub/internal/storage/sqlite"
)

// debounceDelay mirrors the teacher's watchIssues debounce window
// (cmd/bd/list.go) for collapsing bursts of editor saves into one refresh.
const debounceDelay = 500 * time.Millisecond

// Watch recursively watches workspaceRoot and enqueues an incremental_refresh
// catalog job (instead of redrawing a TUI, per the teacher's watchIssues) any
// time a supported-suffix file is written, debounced. It returns once ctx is
// cancelled or the watcher fails to start; callers typically run it in its
// own goroutine alongside the periodic worker loop.
func Watch(ctx context.Context, store *sqlite.Store, workspaceRoot string, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := addTree(watcher, workspaceRoot); err != nil {
		return err
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	enqueue := func() {
		err := store.RunInTransaction(ctx, func(tx *sqlite.Tx) error {
			_, err := tx.EnqueueCatalogJob(ctx, "incremental_refresh", nil)
			return err
		})
		if err != nil {
			logger.Warn("drift watch: failed to enqueue refresh job", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !supportedSuffixes[strings.ToLower(filepath.Ext(event.Name))] {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, enqueue)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("drift watch: watcher error", "error", err)
		}
	}
}

// addTree registers workspaceRoot and every subdirectory with the watcher;
// fsnotify is not recursive on its own. Excluded directories mirror the
// indexer's own walk so the watcher never opens thousands of vendor/build
// directory handles.
func addTree(watcher *fsnotify.Watcher, workspaceRoot string) error {
	return filepath.WalkDir(workspaceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() != "." && excludedDirs[d.Name()] {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
