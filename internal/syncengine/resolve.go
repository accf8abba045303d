package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

// ResolveConflict implements session.sync.resolve_conflict (spec §4.2):
// accept_theirs records no writes, keep_mine force-replays the caller's
// deltas, and merge_note wraps each delta in a {mine, theirs, note} blob
// before force-replaying. All three re-use Push for the actual write path
// except accept_theirs, which never writes.
func (e *Engine) ResolveConflict(ctx context.Context, req memtypes.ResolveConflictRequest) (*memtypes.ResolveConflictResult, *memtypes.BusinessError) {
	start := time.Now()
	syncID := newSyncID()
	reqJSON, _ := json.Marshal(req)

	switch req.Strategy {
	case memtypes.StrategyAcceptTheirs:
		return e.resolveAcceptTheirs(ctx, req, syncID, reqJSON, start)
	case memtypes.StrategyKeepMine:
		return e.resolveViaPush(ctx, req, req.RoleDeltas, syncID, start)
	case memtypes.StrategyMergeNote:
		merged, berr := e.buildMergeNoteDeltas(ctx, req.RoleDeltas)
		if berr != nil {
			e.auditStandalone(ctx, syncID, memtypes.DirectionResolveConflict, reqJSON, nil, string(berr.Code), start)
			return nil, berr
		}
		return e.resolveViaPush(ctx, req, merged, syncID, start)
	default:
		berr := memtypes.NewBusinessErrorf(memtypes.ErrInvalidConflictStrategy, "unrecognized strategy %q", req.Strategy)
		e.auditStandalone(ctx, syncID, memtypes.DirectionResolveConflict, reqJSON, nil, string(berr.Code), start)
		return nil, berr
	}
}

func (e *Engine) resolveAcceptTheirs(ctx context.Context, req memtypes.ResolveConflictRequest, syncID string, reqJSON []byte, start time.Time) (*memtypes.ResolveConflictResult, *memtypes.BusinessError) {
	meta, err := e.store.GetProjectMeta(ctx)
	if err != nil {
		berr := memtypes.NewBusinessErrorf(memtypes.ErrToolCallFailed, "reading project meta: %v", err).WithRetryable(true)
		e.auditStandalone(ctx, syncID, memtypes.DirectionResolveConflict, reqJSON, nil, string(berr.Code), start)
		return nil, berr
	}
	catalogMeta, err := e.store.GetCatalogMeta(ctx)
	if err != nil {
		berr := memtypes.NewBusinessErrorf(memtypes.ErrToolCallFailed, "reading catalog meta: %v", err).WithRetryable(true)
		e.auditStandalone(ctx, syncID, memtypes.DirectionResolveConflict, reqJSON, nil, string(berr.Code), start)
		return nil, berr
	}
	catalogVersion := ""
	if catalogMeta != nil {
		catalogVersion = catalogMeta.CatalogVersion
	}
	consistency := memtypes.ConsistencyUnknown
	if link, err := e.store.LatestConsistencyLink(ctx); err == nil && link != nil {
		consistency = link.ConsistencyStatus
	}

	result := &memtypes.ResolveConflictResult{
		SyncID: syncID, Status: "no_write", Strategy: memtypes.StrategyAcceptTheirs,
		MemoryVersion: meta.MemoryVersion,
		ConsistencyStamp: memtypes.ConsistencyStamp{
			MemoryVersion: meta.MemoryVersion, CatalogVersion: catalogVersion, Consistency: consistency,
		},
		Conflicts: []memtypes.Conflict{},
	}
	respJSON, _ := json.Marshal(result)
	e.auditStandalone(ctx, syncID, memtypes.DirectionResolveConflict, reqJSON, respJSON, "", start)
	return result, nil
}

// buildMergeNoteDeltas reads the current value for each (role, memory_key)
// and wraps mine/theirs/note into the value that gets force-written, per
// spec §4.2's merge_note strategy.
func (e *Engine) buildMergeNoteDeltas(ctx context.Context, deltas []memtypes.RoleDelta) ([]memtypes.RoleDelta, *memtypes.BusinessError) {
	out := make([]memtypes.RoleDelta, 0, len(deltas))
	for _, d := range deltas {
		current, err := e.store.GetRoleStateCurrentValue(ctx, d.Role, d.MemoryKey)
		if err != nil {
			return nil, memtypes.NewBusinessErrorf(memtypes.ErrToolCallFailed, "reading current value for merge_note: %v", err).WithRetryable(true)
		}
		var theirs json.RawMessage
		if current != nil {
			theirs = current.Value
		}
		merged := memtypes.MergeNoteValue{
			Resolution: "merge_note",
			Mine:       d.Value,
			Theirs:     theirs,
			Note:       fmt.Sprintf("merge_note resolution for %s/%s", d.Role, d.MemoryKey),
		}
		value, err := json.Marshal(merged)
		if err != nil {
			return nil, memtypes.NewBusinessErrorf(memtypes.ErrToolCallFailed, "encoding merge_note value: %v", err)
		}
		out = append(out, memtypes.RoleDelta{
			Role: d.Role, MemoryKey: d.MemoryKey, Value: value, Confidence: d.Confidence, SourceRefs: d.SourceRefs,
		})
	}
	return out, nil
}

// resolveViaPush force-replays deltas through Push (context_stamp=null),
// per spec §4.2's keep_mine and merge_note strategies.
func (e *Engine) resolveViaPush(ctx context.Context, req memtypes.ResolveConflictRequest, deltas []memtypes.RoleDelta, syncID string, start time.Time) (*memtypes.ResolveConflictResult, *memtypes.BusinessError) {
	pushReq := memtypes.PushRequest{
		ProjectID: req.ProjectID, ClientID: req.ClientID, SessionID: req.SessionID,
		WorkspaceRoot:  req.WorkspaceRoot,
		ContextStamp:   &memtypes.ContextStamp{Force: true},
		SessionSummary: fmt.Sprintf("resolve_conflict: %s", req.Strategy),
		RoleDeltas:     deltas,
	}
	reqJSON, _ := json.Marshal(req)
	pushResult, berr := e.Push(ctx, pushReq)
	if berr != nil {
		e.auditStandalone(ctx, syncID, memtypes.DirectionResolveConflict, reqJSON, nil, string(berr.Code), start)
		return nil, berr
	}

	result := &memtypes.ResolveConflictResult{
		SyncID: syncID, Status: pushResult.Status, Strategy: req.Strategy,
		MemoryVersion: pushResult.MemoryVersion, ConsistencyStamp: pushResult.ConsistencyStamp,
		Conflicts: pushResult.Conflicts,
	}
	respJSON, _ := json.Marshal(result)
	e.auditStandalone(ctx, syncID, memtypes.DirectionResolveConflict, reqJSON, respJSON, "", start)
	return result, nil
}
