package syncengine

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memoryhub/memoryhub/internal/memtypes"
	"github.com/memoryhub/memoryhub/internal/storage/sqlite"
)

func newTestEngine(t *testing.T, projectID string) *Engine {
	t.Helper()
	dbPath := t.TempDir() + "/" + projectID + ".db"
	store, err := sqlite.Open(context.Background(), projectID, dbPath, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return New(store, nil, slog.Default())
}

// TestPull_FreshProjectReturnsEmptyWellFormedBrief exercises spec §8
// scenario 1: a new project, empty store.
func TestPull_FreshProjectReturnsEmptyWellFormedBrief(t *testing.T) {
	eng := newTestEngine(t, "p1")

	brief, berr := eng.Pull(context.Background(), memtypes.PullRequest{
		ProjectID: "p1", ClientID: "c1", SessionID: "s1",
		TaskPrompt: "plan roadmap", TaskType: memtypes.TaskAuto, MaxTokens: 1200,
	})
	require.Nil(t, berr)
	require.Equal(t, memtypes.TaskPlanning, brief.Trace.ResolvedTaskType)
	require.Equal(t, int64(0), brief.ConsistencyStamp.MemoryVersion)

	var sawPM, sawArchitect bool
	for _, rp := range brief.RolePayloads {
		if rp.Role == memtypes.RolePM {
			sawPM = true
			require.Empty(t, rp.Items)
		}
		if rp.Role == memtypes.RoleArchitect {
			sawArchitect = true
			require.Empty(t, rp.Items)
		}
	}
	require.True(t, sawPM)
	require.True(t, sawArchitect)
}

// TestPushThenPull exercises spec §8 scenario 2.
func TestPushThenPull(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, "p2")

	pushResult, berr := eng.Push(ctx, memtypes.PushRequest{
		ProjectID: "p2", ClientID: "c1", SessionID: "s1", WorkspaceRoot: "/ws",
		SessionSummary: "seed",
		RoleDeltas: []memtypes.RoleDelta{
			{Role: memtypes.RolePM, MemoryKey: "goal", Value: json.RawMessage(`"Build sync"`), Confidence: 0.95},
		},
		FilesTouched: []string{"src/main.py"},
	})
	require.Nil(t, berr)
	require.Equal(t, int64(1), pushResult.MemoryVersion)
	require.Equal(t, "ok", pushResult.Status)
	require.Equal(t, memtypes.ConsistencyDegraded, pushResult.ConsistencyStamp.Consistency)
	require.NotNil(t, pushResult.CatalogJob)
	require.Equal(t, memtypes.JobPending, pushResult.CatalogJob.Status)

	brief, berr := eng.Pull(ctx, memtypes.PullRequest{
		ProjectID: "p2", ClientID: "c1", SessionID: "s2",
		TaskPrompt: "create roadmap", TaskType: memtypes.TaskAuto, MaxTokens: 1200,
	})
	require.Nil(t, berr)
	require.Equal(t, int64(1), brief.ConsistencyStamp.MemoryVersion)

	var pmItems []memtypes.RolePayloadItem
	for _, rp := range brief.RolePayloads {
		if rp.Role == memtypes.RolePM {
			pmItems = rp.Items
		}
	}
	require.Len(t, pmItems, 1)
	require.Equal(t, "goal", pmItems[0].MemoryKey)
	require.JSONEq(t, `"Build sync"`, string(pmItems[0].Value))
}

// TestConflictThenMergeNote exercises spec §8 scenario 3.
func TestConflictThenMergeNote(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, "p3")

	push := func(clientID string, stamp *memtypes.ContextStamp, value string) *memtypes.PushResult {
		res, berr := eng.Push(ctx, memtypes.PushRequest{
			ProjectID: "p3", ClientID: clientID, SessionID: "s-" + clientID, WorkspaceRoot: "/ws",
			ContextStamp:   stamp,
			SessionSummary: "runtime constraint",
			RoleDeltas: []memtypes.RoleDelta{
				{Role: memtypes.RoleArchitect, MemoryKey: "constraint.runtime", Value: json.RawMessage(`"` + value + `"`), Confidence: 0.9},
			},
		})
		require.Nil(t, berr)
		return res
	}

	push("client_a", &memtypes.ContextStamp{Force: true}, "python")
	second := push("client_a", &memtypes.ContextStamp{MemoryVersion: 1}, "python3.12")
	require.Equal(t, int64(2), second.MemoryVersion)

	conflictResult, berr := eng.Push(ctx, memtypes.PushRequest{
		ProjectID: "p3", ClientID: "client_b", SessionID: "s-client_b", WorkspaceRoot: "/ws",
		ContextStamp:   &memtypes.ContextStamp{MemoryVersion: 1},
		SessionSummary: "runtime constraint from b",
		RoleDeltas: []memtypes.RoleDelta{
			{Role: memtypes.RoleArchitect, MemoryKey: "constraint.runtime", Value: json.RawMessage(`"cpython"`), Confidence: 0.9},
		},
	})
	require.Nil(t, berr)
	require.Equal(t, "needs_resolution", conflictResult.Status)
	require.NotEmpty(t, conflictResult.Conflicts)

	resolveResult, berr := eng.ResolveConflict(ctx, memtypes.ResolveConflictRequest{
		ProjectID: "p3", ClientID: "client_b", SessionID: "s-client_b", WorkspaceRoot: "/ws",
		Strategy: memtypes.StrategyMergeNote,
		RoleDeltas: []memtypes.RoleDelta{
			{Role: memtypes.RoleArchitect, MemoryKey: "constraint.runtime", Value: json.RawMessage(`"cpython"`), Confidence: 0.9},
		},
	})
	require.Nil(t, berr)
	require.GreaterOrEqual(t, resolveResult.MemoryVersion, int64(3))

	current, err := storeFor(t, eng).GetRoleStateCurrentValue(ctx, memtypes.RoleArchitect, "constraint.runtime")
	require.NoError(t, err)
	var merged memtypes.MergeNoteValue
	require.NoError(t, json.Unmarshal(current.Value, &merged))
	require.Equal(t, "merge_note", merged.Resolution)
	require.JSONEq(t, `"cpython"`, string(merged.Mine))
	require.JSONEq(t, `"python3.12"`, string(merged.Theirs))
}

// TestWorkspaceMismatchLeavesStateUnchanged exercises spec §8 scenario 5.
func TestWorkspaceMismatchLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, "p5")

	_, berr := eng.Push(ctx, memtypes.PushRequest{
		ProjectID: "p5", ClientID: "c1", SessionID: "s1", WorkspaceRoot: "/ws_a",
		SessionSummary: "seed",
		RoleDeltas: []memtypes.RoleDelta{
			{Role: memtypes.RolePM, MemoryKey: "goal", Value: json.RawMessage(`"x"`), Confidence: 0.5},
		},
	})
	require.Nil(t, berr)

	_, berr = eng.Push(ctx, memtypes.PushRequest{
		ProjectID: "p5", ClientID: "c1", SessionID: "s2", WorkspaceRoot: "/ws_b",
		SessionSummary: "other workspace",
		RoleDeltas: []memtypes.RoleDelta{
			{Role: memtypes.RolePM, MemoryKey: "goal", Value: json.RawMessage(`"y"`), Confidence: 0.5},
		},
	})
	require.NotNil(t, berr)
	require.Equal(t, memtypes.ErrWorkspaceMismatch, berr.Code)

	meta, err := storeFor(t, eng).GetProjectMeta(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), meta.MemoryVersion)

	current, err := storeFor(t, eng).GetRoleStateCurrentValue(ctx, memtypes.RolePM, "goal")
	require.NoError(t, err)
	require.JSONEq(t, `"x"`, string(current.Value))
}

// storeFor extracts the underlying store for assertions that need to read
// tables the Engine API doesn't expose directly.
func storeFor(t *testing.T, eng *Engine) *sqlite.Store {
	t.Helper()
	return eng.store
}
