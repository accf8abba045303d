// Package worker claims catalog-refresh jobs from the lease-based queue,
// rebuilds the catalog snapshot outside the writer's lock, and commits the
// rebuild in one short write transaction, per spec.md §4.5. The
// claim/batch/backoff shape is grounded on the teacher's claim-and-retry
// idiom (internal/storage/sqlite/claim_test.go) plus
// github.com/cenkalti/backoff/v4 for the lock-contention retry the teacher
// doesn't itself need (its single-writer CLI has no worker pool).
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/memoryhub/memoryhub/internal/catalog/indexer"
	"github.com/memoryhub/memoryhub/internal/memtypes"
	"github.com/memoryhub/memoryhub/internal/storage/sqlite"
)

// DefaultBatchLimit bounds how many jobs one Run call processes (spec §4.5).
const DefaultBatchLimit = 20

// DefaultLeaseSeconds is the lease window a claimed job holds before it is
// reclaimable by another worker.
const DefaultLeaseSeconds = 120

// maxLockRetries and lockRetryBaseDelay bound the lock-contention backoff
// on each transactional step (spec §4.5 step 1 / §5: "max 3 attempts, base
// delay 100 ms, exponential").
const maxLockRetries = 3

var lockRetryBaseDelay = 100 * time.Millisecond

// BatchStats reports one Run call's outcome.
type BatchStats struct {
	Processed    int `json:"processed"`
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	LockFailures int `json:"lock_failures"`
}

// jobPayload is the JSON shape enqueued by the sync engine's push step and
// consumed here (spec §4.2 step 8, §4.5 step 4).
type jobPayload struct {
	FilesTouched  []string `json:"files_touched"`
	MemoryVersion *int64   `json:"memory_version"`
	SyncID        string   `json:"sync_id"`
}

// Run processes up to batchLimit jobs from store's queue, single-process.
// A claim or commit that exhausts its lock-contention retries stops the
// batch early and is reported via LockFailures rather than propagated as a
// fatal error.
func Run(ctx context.Context, store *sqlite.Store, batchLimit, leaseSeconds int, logger *slog.Logger) (BatchStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	if leaseSeconds <= 0 {
		leaseSeconds = DefaultLeaseSeconds
	}

	var stats BatchStats
	for i := 0; i < batchLimit; i++ {
		job, lockExhausted, err := claimWithBackoff(ctx, store, leaseSeconds)
		if lockExhausted {
			stats.LockFailures++
			break
		}
		if err != nil {
			return stats, err
		}
		if job == nil {
			break
		}

		stats.Processed++
		if err := processJob(ctx, store, job, logger); err != nil {
			if errors.Is(err, errLockExhausted) {
				stats.LockFailures++
				stats.Failed++
				break
			}
			stats.Failed++
			logger.ErrorContext(ctx, "catalog job processing failed", "job_id", job.JobID, "error", err)
			continue
		}
		stats.Succeeded++
	}
	return stats, nil
}

var errLockExhausted = errors.New("lock contention retries exhausted")

func isLockContention(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}

// claimWithBackoff wraps ClaimNextCatalogJob in a bounded exponential
// backoff that only retries genuine lock contention; a clean "nothing
// claimable" result returns immediately.
func claimWithBackoff(ctx context.Context, store *sqlite.Store, leaseSeconds int) (*memtypes.CatalogJob, bool, error) {
	var job *memtypes.CatalogJob
	attempts := 0
	op := func() error {
		attempts++
		j, err := store.ClaimNextCatalogJob(ctx, leaseSeconds)
		if err != nil {
			if isLockContention(err) {
				return err // retryable
			}
			return backoff.Permanent(err)
		}
		job = j
		return nil
	}

	b := backoff.WithMaxRetries(backoffPolicy(), maxLockRetries-1)
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if err != nil {
		if isLockContention(err) {
			return nil, true, nil
		}
		return nil, false, err
	}
	return job, false, nil
}

func backoffPolicy() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = lockRetryBaseDelay
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0
	return eb
}

// processJob builds the snapshot outside any write transaction (the
// indexing walk must not hold the writer's lock, per spec §4.1 design
// notes), then replaces the catalog tables and marks the job done inside a
// single short write transaction. Any failure marks the job failed per
// §4.1's backoff rules.
func processJob(ctx context.Context, store *sqlite.Store, job *memtypes.CatalogJob, logger *slog.Logger) error {
	var payload jobPayload
	if len(job.Payload) > 0 {
		_ = json.Unmarshal(job.Payload, &payload)
	}

	meta, err := store.GetProjectMeta(ctx)
	if err != nil {
		return failJob(ctx, store, job.JobID, err)
	}
	if meta.WorkspaceRoot == "" {
		return failJob(ctx, store, job.JobID, errors.New("project has no bound workspace_root"))
	}

	snap, err := indexer.Index(meta.WorkspaceRoot)
	if err != nil {
		return failJob(ctx, store, job.JobID, err)
	}
	catalogVersion := indexer.CatalogVersion(snap.Files, snap.Edges)

	memoryVersion := meta.MemoryVersion
	if payload.MemoryVersion != nil {
		memoryVersion = *payload.MemoryVersion
	}
	syncID := payload.SyncID
	if syncID == "" {
		syncID = "job:" + job.JobID
	}

	commitErr := commitWithBackoff(ctx, store, func(tx *sqlite.Tx) error {
		if err := tx.ReplaceCatalogSnapshot(ctx, sqlite.CatalogSnapshot{
			CatalogVersion: catalogVersion, Files: snap.Files, Edges: snap.Edges, FullRebuild: snap.FullRebuild,
		}); err != nil {
			return err
		}
		if err := tx.InsertConsistencyLink(ctx, syncID, memoryVersion, catalogVersion, memtypes.ConsistencyOK); err != nil {
			return err
		}
		return tx.MarkJobDone(ctx, job.JobID)
	})
	if commitErr != nil {
		return failJob(ctx, store, job.JobID, commitErr)
	}
	logger.InfoContext(ctx, "catalog job completed", "job_id", job.JobID, "catalog_version", catalogVersion, "files", len(snap.Files))
	return nil
}

func commitWithBackoff(ctx context.Context, store *sqlite.Store, fn func(tx *sqlite.Tx) error) error {
	op := func() error {
		err := store.RunInTransaction(ctx, fn)
		if err != nil && isLockContention(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	b := backoff.WithMaxRetries(backoffPolicy(), maxLockRetries-1)
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if err != nil && isLockContention(err) {
		return errLockExhausted
	}
	return err
}

func failJob(ctx context.Context, store *sqlite.Store, jobID string, cause error) error {
	err := store.RunInTransaction(ctx, func(tx *sqlite.Tx) error {
		return tx.MarkJobFailed(ctx, jobID, cause.Error())
	})
	if err != nil {
		return err
	}
	return cause
}
