package syncengine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/memoryhub/memoryhub/internal/catalog/brief"
	"github.com/memoryhub/memoryhub/internal/memtypes"
	"github.com/memoryhub/memoryhub/internal/policy"
)

// Pull implements session.sync.pull (spec §4.2): read-only over role
// memory, open loops, and the latest handoff; the catalog half may
// enqueue a refresh job if the catalog is stale, but pull never writes
// role state or bumps memory_version.
func (e *Engine) Pull(ctx context.Context, req memtypes.PullRequest) (*memtypes.ContextBrief, *memtypes.BusinessError) {
	start := time.Now()
	syncID := newSyncID()
	reqJSON, _ := json.Marshal(req)

	taskType := policy.ClassifyTask(req.TaskPrompt, req.TaskType)
	roles := policy.SelectRoles(taskType)

	rolePayloads := make([]memtypes.RolePayload, 0, len(roles))
	for _, role := range roles {
		current, err := e.store.GetRoleStateCurrentTop(ctx, role, maxRolePayloadItems)
		if err != nil {
			return e.pullFailure(ctx, syncID, reqJSON, start, err)
		}
		items := make([]memtypes.RolePayloadItem, 0, len(current))
		for _, c := range current {
			items = append(items, memtypes.RolePayloadItem{
				MemoryKey: c.MemoryKey, Value: c.Value, Confidence: c.Confidence,
				Version: c.Version, SourceRefs: c.SourceRefs,
			})
		}
		rolePayloads = append(rolePayloads, memtypes.RolePayload{Role: role, Items: items})
	}

	openLoops, err := e.store.TopOpenLoops(ctx, maxOpenLoopsTop)
	if err != nil {
		return e.pullFailure(ctx, syncID, reqJSON, start, err)
	}

	handoff, err := e.store.LatestHandoffPacket(ctx)
	if err != nil {
		return e.pullFailure(ctx, syncID, reqJSON, start, err)
	}

	catalogResult, err := brief.Generate(ctx, e.store, e.cache, req.TaskPrompt, taskType, req.MaxTokens)
	if err != nil {
		return e.pullFailure(ctx, syncID, reqJSON, start, err)
	}

	projectMeta, err := e.store.GetProjectMeta(ctx)
	if err != nil {
		return e.pullFailure(ctx, syncID, reqJSON, start, err)
	}

	stamp := memtypes.ConsistencyStamp{
		MemoryVersion:  projectMeta.MemoryVersion,
		CatalogVersion: catalogResult.CatalogVersion,
		Consistency:    catalogResult.ConsistencyStatus,
	}
	if link, linkErr := e.store.LatestConsistencyLink(ctx); linkErr == nil && link != nil {
		stamp.Consistency = link.ConsistencyStatus
	}

	memoryBrief := policy.MemoryContextBrief(policy.BriefInput{
		Roles: rolePayloads, OpenLoops: openLoops, Handoff: handoff, MaxTokens: req.MaxTokens,
	})

	result := &memtypes.ContextBrief{
		SyncID:             syncID,
		ContextBrief:        policy.ComposeContextBrief(memoryBrief, catalogResult.CatalogBrief),
		MemoryContextBrief:  memoryBrief,
		CatalogBrief:        catalogResult.CatalogBrief,
		RolePayloads:        rolePayloads,
		OpenLoopsTop:        openLoops,
		HandoffLatest:       handoff,
		ConsistencyStamp:    stamp,
		Evidence:            catalogResult.Evidence,
		Trace: memtypes.PullTrace{
			ResolvedTaskType: taskType,
			SourcesUsed:      []string{"role_state", "open_loops", "handoff", "catalog"},
			Catalog: memtypes.CatalogTrace{
				Freshness:        catalogResult.Freshness,
				CacheHit:         catalogResult.CacheHit,
				RefreshRequested: catalogResult.RefreshRequested,
			},
		},
	}

	respJSON, _ := json.Marshal(result)
	e.auditStandalone(ctx, syncID, memtypes.DirectionPull, reqJSON, respJSON, "", start)
	return result, nil
}

func (e *Engine) pullFailure(ctx context.Context, syncID string, reqJSON []byte, start time.Time, err error) (*memtypes.ContextBrief, *memtypes.BusinessError) {
	berr := memtypes.NewBusinessErrorf(memtypes.ErrToolCallFailed, "pull failed: %v", err).WithRetryable(true)
	e.auditStandalone(ctx, syncID, memtypes.DirectionPull, reqJSON, nil, string(berr.Code), start)
	return nil, berr
}
