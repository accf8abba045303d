// Package brief implements catalog.health.check and catalog.brief.generate
// (spec.md §4.6): freshness/coverage/drift rollup, first-use synchronous
// indexing, best-effort inline worker runs on stale reads, scored file/edge
// selection, and an LRU+TTL brief cache. The two-tier cache shape is
// grounded on ipiton-alert-history-service's
// internal/infrastructure/template/cache.go (TwoTierTemplateCache), which
// layers an in-process LRU in front of an optional Redis tier.
package brief

import (
	"context"

	"github.com/memoryhub/memoryhub/internal/catalog/worker"
	"github.com/memoryhub/memoryhub/internal/drift"
	"github.com/memoryhub/memoryhub/internal/memtypes"
	"github.com/memoryhub/memoryhub/internal/storage/sqlite"
)

// Health computes catalog.health.check's result (spec §4.6).
func Health(ctx context.Context, store *sqlite.Store) (*memtypes.CatalogHealthResult, error) {
	meta, err := store.GetCatalogMeta(ctx)
	if err != nil {
		return nil, err
	}

	pending, err := store.CountPendingOrRunningJobs(ctx)
	if err != nil {
		return nil, err
	}

	link, err := store.LatestConsistencyLink(ctx)
	if err != nil {
		return nil, err
	}

	result := &memtypes.CatalogHealthResult{PendingJobs: pending}
	if link != nil {
		result.ConsistencyStatus = link.ConsistencyStatus
	} else {
		result.ConsistencyStatus = memtypes.ConsistencyUnknown
	}

	if meta == nil {
		result.Freshness = memtypes.FreshnessUnknown
		return result, nil
	}

	result.CatalogVersion = meta.CatalogVersion
	result.TotalFiles = meta.TotalFiles
	result.IndexedFiles = meta.IndexedFiles
	result.CoveragePct = meta.CoveragePct
	result.Coverage = meta.CoveragePct / 100.0
	result.LastFullRebuild = meta.LastFullRebuild

	driftScore, err := currentDriftScore(ctx, store)
	if err != nil {
		return nil, err
	}
	result.DriftScore = driftScore

	if pending > 0 || driftScore > 0 {
		result.Freshness = memtypes.FreshnessStale
	} else {
		result.Freshness = memtypes.FreshnessFresh
	}
	return result, nil
}

// currentDriftScore re-derives drift against the bound workspace root using
// the currently indexed file hashes as the known set (spec §4.7).
func currentDriftScore(ctx context.Context, store *sqlite.Store) (float64, error) {
	projectMeta, err := store.GetProjectMeta(ctx)
	if err != nil {
		return 0, err
	}
	if projectMeta.WorkspaceRoot == "" {
		return 0, nil
	}

	files, err := store.ListCatalogFiles(ctx)
	if err != nil {
		return 0, err
	}
	known := make(map[string]string, len(files))
	for _, f := range files {
		known[f.Path] = f.ContentHash
	}

	report, err := drift.Detect(ctx, projectMeta.WorkspaceRoot, known)
	if err != nil {
		return 0, err
	}
	return report.DriftScore, nil
}

// EnsureFresh implements the brief generator's "best-effort inline worker
// run" step: if the catalog has never been built and a workspace is bound it
// runs a full synchronous index; if it's stale it runs up to 5 worker jobs
// inline; either way it then re-reads health (spec §4.6). An unknown catalog
// with no bound workspace is returned as is, without a worker run.
func EnsureFresh(ctx context.Context, store *sqlite.Store) (*memtypes.CatalogHealthResult, error) {
	health, err := Health(ctx, store)
	if err != nil {
		return nil, err
	}

	if health.Freshness == memtypes.FreshnessUnknown {
		projectMeta, err := store.GetProjectMeta(ctx)
		if err != nil {
			return nil, err
		}
		if projectMeta.WorkspaceRoot != "" {
			if err := seedInitialIndex(ctx, store); err != nil {
				return nil, err
			}
			return Health(ctx, store)
		}
	}

	if health.Freshness == memtypes.FreshnessStale {
		if _, err := worker.Run(ctx, store, inlineWorkerBudget, worker.DefaultLeaseSeconds, nil); err != nil {
			return nil, err
		}
		return Health(ctx, store)
	}

	return health, nil
}

const inlineWorkerBudget = 5

// seedInitialIndex enqueues and immediately runs one full_index job so the
// very first catalog_brief/catalog_health call on a fresh project returns a
// populated snapshot rather than "unknown" (spec §4.6: "On first use per
// project, if no catalog rows exist, synchronously build and store a full
// snapshot").
func seedInitialIndex(ctx context.Context, store *sqlite.Store) error {
	if err := store.RunInTransaction(ctx, func(tx *sqlite.Tx) error {
		_, err := tx.EnqueueCatalogJob(ctx, "full_index", nil)
		return err
	}); err != nil {
		return err
	}
	_, err := worker.Run(ctx, store, 1, worker.DefaultLeaseSeconds, nil)
	return err
}
