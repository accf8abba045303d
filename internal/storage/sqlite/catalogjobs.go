package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

// EnqueueCatalogJob inserts a pending job. Must run inside a write transaction.
func (tx *Tx) EnqueueCatalogJob(ctx context.Context, jobType string, payload json.RawMessage) (string, error) {
	jobID := uuid.NewString()
	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO catalog_jobs (job_id, project_id, job_type, payload, status, attempts, max_attempts, created_at)
		VALUES (?, ?, ?, ?, 'pending', 0, ?, ?)
	`, jobID, tx.projectID, jobType, string(payload), memtypes.DefaultMaxAttempts, formatTime(time.Now()))
	if err != nil {
		return "", wrapDBError("enqueue catalog job", err)
	}
	return jobID, nil
}

// maxClaimRetries bounds the conditional-update retry loop in
// ClaimNextCatalogJob, per spec §4.1 step 3 ("bounded retry, up to 8").
const maxClaimRetries = 8

// ClaimNextCatalogJob implements spec §4.1's claim_next_catalog_job: select
// a claimable candidate (pending with next_retry_at <= now or null, OR
// running with an elapsed or null lease), ordered by
// COALESCE(next_retry_at, created_at) then created_at, and attempt a
// conditional UPDATE bound to the observed status/lease. If a competing
// worker won (zero rows updated), retry against another candidate, up to
// maxClaimRetries times.
func (s *Store) ClaimNextCatalogJob(ctx context.Context, leaseSeconds int) (*memtypes.CatalogJob, error) {
	var claimed *memtypes.CatalogJob
	for attempt := 0; attempt < maxClaimRetries; attempt++ {
		var done bool
		err := s.RunInTransaction(ctx, func(tx *Tx) error {
			now := time.Now()
			nowStr := formatTime(now)

			row := tx.tx.QueryRowContext(ctx, `
				SELECT job_id, status, attempts, max_attempts, next_retry_at, lease_expires_at
				FROM catalog_jobs
				WHERE project_id = ?
				  AND (
				    (status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= ?))
				    OR (status = 'running' AND (lease_expires_at IS NULL OR lease_expires_at <= ?))
				  )
				ORDER BY COALESCE(next_retry_at, created_at) ASC, created_at ASC
				LIMIT 1
			`, tx.projectID, nowStr, nowStr)

			var jobID, status string
			var attempts, maxAttempts int
			var nextRetryAt, leaseExpiresAt sql.NullString
			if err := row.Scan(&jobID, &status, &attempts, &maxAttempts, &nextRetryAt, &leaseExpiresAt); err != nil {
				if err == sql.ErrNoRows {
					done = true
					return nil
				}
				return wrapDBError("select claimable job", err)
			}

			newLease := formatTime(now.Add(time.Duration(leaseSeconds) * time.Second))
			res, err := tx.tx.ExecContext(ctx, `
				UPDATE catalog_jobs SET status = 'running', attempts = attempts + 1, lease_expires_at = ?
				WHERE job_id = ? AND project_id = ? AND status = ?
				  AND (
				    (? = 'pending' AND (? IS NULL OR ? <= ?))
				    OR (? = 'running' AND (? IS NULL OR ? <= ?))
				  )
			`, newLease, jobID, tx.projectID, status,
				status, nextRetryAtArg(nextRetryAt), nextRetryAtArg(nextRetryAt), nowStr,
				status, leaseExpiresAtArg(leaseExpiresAt), leaseExpiresAtArg(leaseExpiresAt), nowStr)
			if err != nil {
				return wrapDBError("claim job", err)
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				return ErrAlreadyClaimed
			}

			var payload string
			if err := tx.tx.QueryRowContext(ctx, `SELECT payload FROM catalog_jobs WHERE job_id = ?`, jobID).Scan(&payload); err != nil {
				return wrapDBError("reload claimed job payload", err)
			}
			claimed = &memtypes.CatalogJob{
				JobID: jobID, ProjectID: tx.projectID, Status: memtypes.JobRunning,
				Attempts: attempts + 1, MaxAttempts: maxAttempts, Payload: json.RawMessage(payload),
			}
			done = true
			return nil
		})
		if err == ErrAlreadyClaimed {
			continue // competing worker won; try again against (possibly) another candidate
		}
		if err != nil {
			return nil, err
		}
		if done {
			return claimed, nil
		}
	}
	return nil, nil
}

func nextRetryAtArg(ns sql.NullString) any {
	if ns.Valid {
		return ns.String
	}
	return nil
}

func leaseExpiresAtArg(ns sql.NullString) any {
	if ns.Valid {
		return ns.String
	}
	return nil
}

// MarkJobDone transitions a claimed job to done. Must run inside a write transaction.
func (tx *Tx) MarkJobDone(ctx context.Context, jobID string) error {
	_, err := tx.tx.ExecContext(ctx, `
		UPDATE catalog_jobs SET status = 'done', lease_expires_at = NULL WHERE job_id = ? AND project_id = ?
	`, jobID, tx.projectID)
	return wrapDBError("mark job done", err)
}

// MarkJobFailed applies spec §4.1's failure backoff: attempts >= max_attempts
// => failed, else pending with next_retry_at = now + min(300, 2^attempts)
// seconds. Lease is cleared. Must run inside a write transaction.
func (tx *Tx) MarkJobFailed(ctx context.Context, jobID, lastError string) error {
	var attempts, maxAttempts int
	if err := tx.tx.QueryRowContext(ctx, `
		SELECT attempts, max_attempts FROM catalog_jobs WHERE job_id = ? AND project_id = ?
	`, jobID, tx.projectID).Scan(&attempts, &maxAttempts); err != nil {
		return wrapDBError("read job for failure", err)
	}

	if attempts >= maxAttempts {
		_, err := tx.tx.ExecContext(ctx, `
			UPDATE catalog_jobs SET status = 'failed', last_error = ?, lease_expires_at = NULL WHERE job_id = ?
		`, lastError, jobID)
		return wrapDBError("mark job failed", err)
	}

	jobRetryCounter.Add(ctx, 1)
	backoff := math.Min(300, math.Pow(2, float64(attempts)))
	nextRetry := formatTime(time.Now().Add(time.Duration(backoff) * time.Second))
	_, err := tx.tx.ExecContext(ctx, `
		UPDATE catalog_jobs SET status = 'pending', last_error = ?, next_retry_at = ?, lease_expires_at = NULL WHERE job_id = ?
	`, lastError, nextRetry, jobID)
	return wrapDBError("mark job pending with backoff", err)
}

// CountPendingOrRunningJobs reports how many jobs are not yet terminal, for
// catalog_health's pending_jobs and freshness verdict.
func (s *Store) CountPendingOrRunningJobs(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM catalog_jobs WHERE project_id = ? AND status IN ('pending', 'running')
	`, s.projectID).Scan(&n)
	return n, wrapDBError("count pending jobs", err)
}
