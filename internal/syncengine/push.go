package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/memoryhub/memoryhub/internal/memtypes"
	"github.com/memoryhub/memoryhub/internal/storage/sqlite"
)

// handoffSummary is the JSON shape stored in a HandoffPacket's Summary
// column (spec §4.2 step 7: "summary, counts, files_touched, new/closed
// loop summaries, and the first three new loops as next_actions").
type handoffSummary struct {
	SessionSummary  string   `json:"session_summary"`
	RoleDeltaCount  int      `json:"role_delta_count"`
	LoopsNewCount   int      `json:"loops_new_count"`
	LoopsClosed     int      `json:"loops_closed_count"`
	FilesTouched    []string `json:"files_touched,omitempty"`
	NewLoopTitles   []string `json:"new_loop_titles,omitempty"`
	NextActions     []string `json:"next_actions,omitempty"`
}

// decisionConfidence is the fixed confidence assigned to a decision folded
// into a role delta (spec §4.2: decisions_delta is "syntactic sugar", no
// confidence field of its own).
const decisionConfidence = 1.0

var slugNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugNonAlnum.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// foldDecisions turns decisions_delta entries into role_deltas with
// role=architect per spec §4.2: "decisions_delta is syntactic sugar; each
// entry is folded into a role_deltas entry with role=architect, memory_key
// = decision_id or 'decision::'+slug(title)+'::'+index".
func foldDecisions(decisions []memtypes.DecisionDelta) ([]memtypes.RoleDelta, error) {
	out := make([]memtypes.RoleDelta, 0, len(decisions))
	for i, d := range decisions {
		key := d.DecisionID
		if key == "" {
			key = fmt.Sprintf("decision::%s::%d", slugify(d.Title), i)
		}
		value, err := json.Marshal(struct {
			Title     string `json:"title"`
			Rationale string `json:"rationale"`
			Status    string `json:"status"`
		}{d.Title, d.Rationale, d.Status})
		if err != nil {
			return nil, err
		}
		out = append(out, memtypes.RoleDelta{
			Role: memtypes.RoleArchitect, MemoryKey: key, Value: value, Confidence: decisionConfidence,
		})
	}
	return out, nil
}

// roleKey uniquely identifies a (role, memory_key) pair for dedup.
func roleKey(role memtypes.Role, memoryKey string) string {
	return string(role) + "\x00" + memoryKey
}

// Push implements session.sync.push (spec §4.2): enforces workspace
// binding before opening a transaction, detects conflicts against the
// caller's context_stamp, and on success bumps memory_version, writes
// role deltas / open loops / a handoff packet, enqueues a catalog refresh,
// and records a degraded consistency link — all atomically.
func (e *Engine) Push(ctx context.Context, req memtypes.PushRequest) (*memtypes.PushResult, *memtypes.BusinessError) {
	start := time.Now()
	syncID := newSyncID()
	reqJSON, _ := json.Marshal(req)

	allDeltas := make([]memtypes.RoleDelta, 0, len(req.RoleDeltas)+len(req.DecisionsDelta))
	allDeltas = append(allDeltas, req.RoleDeltas...)
	folded, err := foldDecisions(req.DecisionsDelta)
	if err != nil {
		return e.pushFailure(ctx, syncID, reqJSON, start, memtypes.NewBusinessErrorf(memtypes.ErrInvalidPushPayload, "folding decisions_delta: %v", err))
	}
	allDeltas = append(allDeltas, folded...)

	if err := e.store.EnforceWorkspaceBinding(ctx, req.WorkspaceRoot); err != nil {
		if errors.Is(err, sqlite.ErrWorkspaceMismatch) {
			return e.pushFailure(ctx, syncID, reqJSON, start, memtypes.NewBusinessError(memtypes.ErrWorkspaceMismatch, "workspace_root does not match the project's bound workspace"))
		}
		return e.pushFailure(ctx, syncID, reqJSON, start, memtypes.NewBusinessErrorf(memtypes.ErrToolCallFailed, "enforcing workspace binding: %v", err).WithRetryable(true))
	}

	catalogMeta, err := e.store.GetCatalogMeta(ctx)
	if err != nil {
		return e.pushFailure(ctx, syncID, reqJSON, start, memtypes.NewBusinessErrorf(memtypes.ErrToolCallFailed, "reading catalog meta: %v", err).WithRetryable(true))
	}
	catalogVersion := ""
	if catalogMeta != nil {
		catalogVersion = catalogMeta.CatalogVersion
	}

	var result *memtypes.PushResult
	txErr := e.store.RunInTransaction(ctx, func(tx *sqlite.Tx) error {
		current, err := tx.CurrentMemoryVersion(ctx)
		if err != nil {
			return err
		}

		if req.ContextStamp != nil && !req.ContextStamp.Force && req.ContextStamp.MemoryVersion < current {
			conflicts, err := detectConflicts(ctx, tx, allDeltas, req.ContextStamp.MemoryVersion)
			if err != nil {
				return err
			}
			if len(conflicts) > 0 {
				conflictCounter.Add(ctx, 1)
				result = &memtypes.PushResult{
					SyncID: syncID, MemoryVersion: current,
					ConsistencyStamp: memtypes.ConsistencyStamp{MemoryVersion: current, CatalogVersion: catalogVersion, Consistency: memtypes.ConsistencyDegraded},
					Conflicts: conflicts, Status: "needs_resolution",
				}
				respJSON, _ := json.Marshal(result)
				return tx.InsertSyncAudit(ctx, syncID, memtypes.DirectionPush, reqJSON, respJSON, string(memtypes.ErrConflictDetected), latencyMs(start))
			}
		}

		newVersion, err := tx.BumpMemoryVersion(ctx)
		if err != nil {
			return err
		}

		for _, d := range allDeltas {
			if err := tx.UpsertRoleDelta(ctx, d.Role, d.MemoryKey, d.Value, d.Confidence, d.SourceRefs, newVersion, req.ClientID); err != nil {
				return err
			}
		}

		newLoops, err := tx.InsertOpenLoops(ctx, req.OpenLoopsNew)
		if err != nil {
			return err
		}
		closedCount, err := tx.CloseOpenLoops(ctx, req.OpenLoopsClosed, req.ClientID)
		if err != nil {
			return err
		}

		summary := buildHandoffSummary(req, allDeltas, newLoops, closedCount)
		summaryJSON, err := json.Marshal(summary)
		if err != nil {
			return err
		}
		handoff, err := tx.InsertHandoffPacket(ctx, req.SessionID, summaryJSON, newVersion)
		if err != nil {
			return err
		}

		jobPayload, err := json.Marshal(struct {
			FilesTouched  []string `json:"files_touched"`
			MemoryVersion int64    `json:"memory_version"`
			SyncID        string   `json:"sync_id"`
		}{req.FilesTouched, newVersion, syncID})
		if err != nil {
			return err
		}
		jobID, err := tx.EnqueueCatalogJob(ctx, "incremental_refresh", jobPayload)
		if err != nil {
			return err
		}

		if err := tx.InsertConsistencyLink(ctx, syncID, newVersion, catalogVersion, memtypes.ConsistencyDegraded); err != nil {
			return err
		}

		result = &memtypes.PushResult{
			SyncID: syncID, MemoryVersion: newVersion,
			ConsistencyStamp: memtypes.ConsistencyStamp{MemoryVersion: newVersion, CatalogVersion: catalogVersion, Consistency: memtypes.ConsistencyDegraded},
			Conflicts: []memtypes.Conflict{}, Status: "ok",
			Applied: &memtypes.AppliedSummary{
				RoleDeltas: len(allDeltas), OpenLoopsNew: len(newLoops), OpenLoopsClosed: closedCount, Handoff: handoff.HandoffID,
			},
			CatalogJob: &memtypes.CatalogJobRef{JobID: jobID, Status: memtypes.JobPending},
		}
		respJSON, _ := json.Marshal(result)
		return tx.InsertSyncAudit(ctx, syncID, memtypes.DirectionPush, reqJSON, respJSON, "", latencyMs(start))
	})

	pushCounter.Add(ctx, 1)
	pushLatency.Record(ctx, float64(latencyMs(start)))

	if txErr != nil {
		return e.pushFailure(ctx, syncID, reqJSON, start, memtypes.NewBusinessErrorf(memtypes.ErrToolCallFailed, "push transaction failed: %v", txErr).WithRetryable(true))
	}
	return result, nil
}

// detectConflicts implements spec §4.2 step 4: for each unique (role,
// memory_key) in the payload, look up the newest RoleStateVersions row
// with memory_version > base; any hit is a conflict.
func detectConflicts(ctx context.Context, tx *sqlite.Tx, deltas []memtypes.RoleDelta, base int64) ([]memtypes.Conflict, error) {
	seen := map[string]bool{}
	var conflicts []memtypes.Conflict
	for _, d := range deltas {
		key := roleKey(d.Role, d.MemoryKey)
		if seen[key] {
			continue
		}
		seen[key] = true

		newer, err := tx.NewestVersionNewerThan(ctx, d.Role, d.MemoryKey, base)
		if err != nil {
			return nil, err
		}
		if newer == nil {
			continue
		}
		conflicts = append(conflicts, memtypes.Conflict{
			Role: d.Role, MemoryKey: d.MemoryKey, Theirs: newer.Value,
			CurrentVersion: newer.MemoryVersion, UpdatedByClient: newer.WriterClientID,
		})
	}
	return conflicts, nil
}

func buildHandoffSummary(req memtypes.PushRequest, deltas []memtypes.RoleDelta, newLoops []memtypes.OpenLoop, closedCount int) handoffSummary {
	titles := make([]string, 0, len(newLoops))
	for _, l := range newLoops {
		titles = append(titles, l.Title)
	}
	nextActions := titles
	if len(nextActions) > 3 {
		nextActions = nextActions[:3]
	}
	return handoffSummary{
		SessionSummary: req.SessionSummary,
		RoleDeltaCount: len(deltas),
		LoopsNewCount:  len(newLoops),
		LoopsClosed:    closedCount,
		FilesTouched:   req.FilesTouched,
		NewLoopTitles:  titles,
		NextActions:    nextActions,
	}
}

func (e *Engine) pushFailure(ctx context.Context, syncID string, reqJSON []byte, start time.Time, berr *memtypes.BusinessError) (*memtypes.PushResult, *memtypes.BusinessError) {
	e.auditStandalone(ctx, syncID, memtypes.DirectionPush, reqJSON, nil, string(berr.Code), start)
	return nil, berr
}
