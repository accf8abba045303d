package sqlite

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

func TestClaimNextCatalogJob_SingleClaimant(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var jobID string
	err := store.RunInTransaction(ctx, func(tx *Tx) error {
		id, err := tx.EnqueueCatalogJob(ctx, "incremental_refresh", json.RawMessage(`{}`))
		jobID = id
		return err
	})
	require.NoError(t, err)

	job, err := store.ClaimNextCatalogJob(ctx, 30)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, jobID, job.JobID)
	require.Equal(t, memtypes.JobRunning, job.Status)
	require.Equal(t, 1, job.Attempts)

	none, err := store.ClaimNextCatalogJob(ctx, 30)
	require.NoError(t, err)
	require.Nil(t, none)
}

// TestClaimNextCatalogJob_ConcurrentWorkersClaimEachJobExactlyOnce exercises
// spec §8 scenario 4: N jobs, multiple concurrent claimants, every job
// claimed by exactly one worker.
func TestClaimNextCatalogJob_ConcurrentWorkersClaimEachJobExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const numJobs = 60
	err := store.RunInTransaction(ctx, func(tx *Tx) error {
		for i := 0; i < numJobs; i++ {
			if _, err := tx.EnqueueCatalogJob(ctx, "incremental_refresh", json.RawMessage(`{}`)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	claimedIDs := make(chan string, numJobs*2)
	var g errgroup.Group
	for w := 0; w < 6; w++ {
		g.Go(func() error {
			for {
				job, err := store.ClaimNextCatalogJob(ctx, 30)
				if err != nil {
					return err
				}
				if job == nil {
					return nil
				}
				claimedIDs <- job.JobID
				if err := store.RunInTransaction(ctx, func(tx *Tx) error {
					return tx.MarkJobDone(ctx, job.JobID)
				}); err != nil {
					return err
				}
			}
		})
	}
	require.NoError(t, g.Wait())
	close(claimedIDs)

	seen := map[string]int{}
	for id := range claimedIDs {
		seen[id]++
	}
	require.Len(t, seen, numJobs)
	for id, count := range seen {
		require.Equal(t, 1, count, "job %s claimed more than once", id)
	}

	pending, err := store.CountPendingOrRunningJobs(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, pending)
}

func TestMarkJobFailed_BackoffThenFailedAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var jobID string
	err := store.RunInTransaction(ctx, func(tx *Tx) error {
		id, err := tx.EnqueueCatalogJob(ctx, "incremental_refresh", json.RawMessage(`{}`))
		jobID = id
		return err
	})
	require.NoError(t, err)

	for i := 0; i < memtypes.DefaultMaxAttempts; i++ {
		job, err := store.ClaimNextCatalogJob(ctx, 0)
		require.NoError(t, err)
		require.NotNil(t, job)
		require.Equal(t, jobID, job.JobID)

		err = store.RunInTransaction(ctx, func(tx *Tx) error {
			return tx.MarkJobFailed(ctx, jobID, "boom")
		})
		require.NoError(t, err)

		// Move the backoff's next_retry_at into the past so the next
		// iteration can claim the job without waiting.
		_, err = store.db.Exec(`UPDATE catalog_jobs SET next_retry_at = ? WHERE job_id = ? AND status = 'pending'`,
			formatTime(time.Now().Add(-time.Second)), jobID)
		require.NoError(t, err)
	}

	var status string
	var attempts int
	require.NoError(t, store.db.QueryRow(`SELECT status, attempts FROM catalog_jobs WHERE job_id = ?`, jobID).Scan(&status, &attempts))
	require.Equal(t, "failed", status)
	require.Equal(t, memtypes.DefaultMaxAttempts, attempts)
}

func TestClaimNextCatalogJob_ReclaimsExpiredLease(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var jobID string
	err := store.RunInTransaction(ctx, func(tx *Tx) error {
		id, err := tx.EnqueueCatalogJob(ctx, "incremental_refresh", json.RawMessage(`{}`))
		jobID = id
		return err
	})
	require.NoError(t, err)

	// Lease of 0 seconds expires immediately.
	job, err := store.ClaimNextCatalogJob(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, jobID, job.JobID)

	reclaimed, err := store.ClaimNextCatalogJob(ctx, 30)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	require.Equal(t, jobID, reclaimed.JobID)
	require.Equal(t, 2, reclaimed.Attempts)
}

func TestClaimNextCatalogJob_ReclaimsNullLease(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var jobID string
	err := store.RunInTransaction(ctx, func(tx *Tx) error {
		id, err := tx.EnqueueCatalogJob(ctx, "incremental_refresh", json.RawMessage(`{}`))
		jobID = id
		return err
	})
	require.NoError(t, err)

	_, err = store.db.Exec(`UPDATE catalog_jobs SET status = 'running', lease_expires_at = NULL WHERE job_id = ?`, jobID)
	require.NoError(t, err)

	reclaimed, err := store.ClaimNextCatalogJob(ctx, 30)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	require.Equal(t, jobID, reclaimed.JobID)
}
