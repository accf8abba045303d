// Command memoryhubd is the Memory Hub daemon: a line-delimited JSON-RPC
// 2.0 server over stdio (spec.md §5/§6), one SQLite store per project
// under <root>/projects/<project_id>/memory.db, plus a background catalog
// worker loop that drains pending catalog jobs on a timer. Wiring follows
// the teacher's daemon entrypoint (cmd/bd/main.go, daemon_event_loop.go):
// a signal-aware context, a background worker goroutine, and a blocking
// read loop on the main goroutine.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/memoryhub/memoryhub/internal/catalog/brief"
	"github.com/memoryhub/memoryhub/internal/catalog/worker"
	"github.com/memoryhub/memoryhub/internal/config"
	"github.com/memoryhub/memoryhub/internal/drift"
	"github.com/memoryhub/memoryhub/internal/otelsetup"
	"github.com/memoryhub/memoryhub/internal/rpcdispatch"
	"github.com/memoryhub/memoryhub/internal/storage/sqlite"

	"github.com/redis/go-redis/v9"
)

func main() {
	root := ""
	if len(os.Args) > 1 {
		root = os.Args[1]
	}
	cfg := config.Load(root)

	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := otelsetup.Setup(os.Stderr)
	if err != nil {
		logger.Error("failed to set up metrics", "error", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownMetrics(shutdownCtx); err != nil {
				logger.Error("failed to shut down metrics", "error", err)
			}
		}()
	}

	registry := newStoreRegistry(cfg, logger)
	defer registry.closeAll()

	var cache *brief.Cache
	if cfg.RedisAddr != "" {
		cache = brief.NewCache(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}

	dispatcher := rpcdispatch.New(registry.open, cache, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runCatalogWorkerLoop(ctx, cfg, registry, logger)
	}()

	if cfg.LiveWatch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runWatchLauncherLoop(ctx, cfg, registry, logger)
		}()
	}

	runStdioLoop(ctx, dispatcher, logger)
	stop()
	wg.Wait()
}

// runStdioLoop reads one JSON-RPC request per line from stdin and writes one
// JSON-RPC response per line to stdout, until stdin closes or ctx is done.
func runStdioLoop(ctx context.Context, dispatcher *rpcdispatch.Dispatcher, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	writer := bufio.NewWriter(os.Stdout)
	defer writer.Flush()

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := dispatcher.Handle(ctx, line)
		if _, err := writer.Write(resp); err != nil {
			logger.Error("failed to write response", "error", err)
			return
		}
		if err := writer.WriteByte('\n'); err != nil {
			logger.Error("failed to write response terminator", "error", err)
			return
		}
		if err := writer.Flush(); err != nil {
			logger.Error("failed to flush response", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error("stdio read loop ended with an error", "error", err)
	}
}

// runCatalogWorkerLoop periodically drains pending catalog jobs for every
// project that currently has an open store, mirroring the teacher's
// debounced-ticker daemon loop (daemon_event_loop.go) but on a plain
// interval, since catalog jobs are enqueued by Push rather than by a file
// watcher.
func runCatalogWorkerLoop(ctx context.Context, cfg *config.Config, registry *storeRegistry, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, store := range registry.snapshot() {
				stats, err := worker.Run(ctx, store, cfg.WorkerBatchLimit, cfg.LeaseSeconds, logger)
				if err != nil {
					logger.Error("catalog worker run failed", "error", err)
					continue
				}
				if stats.Processed > 0 {
					logger.Info("catalog worker drained jobs", "processed", stats.Processed, "succeeded", stats.Succeeded, "failed", stats.Failed)
				}
			}
		}
	}
}

// runWatchLauncherLoop polls open project stores for a bound workspace_root
// and starts one drift.Watch goroutine per project the first time its
// workspace is seen, so a live editor session keeps the catalog fresh
// between pushes without waiting on the plain ticker.
func runWatchLauncherLoop(ctx context.Context, cfg *config.Config, registry *storeRegistry, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	watching := map[string]bool{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, store := range registry.snapshot() {
				projectID := store.ProjectID()
				if watching[projectID] {
					continue
				}
				meta, err := store.GetProjectMeta(ctx)
				if err != nil || meta.WorkspaceRoot == "" {
					continue
				}
				watching[projectID] = true
				go func(store *sqlite.Store, workspaceRoot string) {
					if err := drift.Watch(ctx, store, workspaceRoot, logger); err != nil {
						logger.Warn("live watch stopped", "project_id", store.ProjectID(), "error", err)
					}
				}(store, meta.WorkspaceRoot)
			}
		}
	}
}

// storeRegistry lazily opens and caches one *sqlite.Store per project,
// since the per-call StoreOpener contract (rpcdispatch.StoreOpener) would
// otherwise reopen a fresh connection pool on every single tool call.
type storeRegistry struct {
	cfg    *config.Config
	logger *slog.Logger

	mu     sync.Mutex
	stores map[string]*sqlite.Store
}

func newStoreRegistry(cfg *config.Config, logger *slog.Logger) *storeRegistry {
	return &storeRegistry{cfg: cfg, logger: logger, stores: map[string]*sqlite.Store{}}
}

func (r *storeRegistry) open(ctx context.Context, projectID string) (*sqlite.Store, error) {
	if projectID == "" {
		return nil, errors.New("project_id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if store, ok := r.stores[projectID]; ok {
		return store, nil
	}

	dbPath := r.cfg.ProjectDBPath(projectID)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating project directory: %w", err)
	}
	store, err := sqlite.Open(ctx, projectID, dbPath, r.logger)
	if err != nil {
		return nil, err
	}
	r.stores[projectID] = store
	return store, nil
}

func (r *storeRegistry) snapshot() []*sqlite.Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*sqlite.Store, 0, len(r.stores))
	for _, store := range r.stores {
		out = append(out, store)
	}
	return out
}

func (r *storeRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for projectID, store := range r.stores {
		if err := store.Close(); err != nil {
			r.logger.Error("failed to close project store", "project_id", projectID, "error", err)
		}
	}
}
