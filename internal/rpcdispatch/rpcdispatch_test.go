package rpcdispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memoryhub/memoryhub/internal/storage/sqlite"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	stores := map[string]*sqlite.Store{}
	opener := func(ctx context.Context, projectID string) (*sqlite.Store, error) {
		if store, ok := stores[projectID]; ok {
			return store, nil
		}
		dbPath := t.TempDir() + "/" + projectID + ".db"
		store, err := sqlite.Open(ctx, projectID, dbPath, slog.Default())
		if err != nil {
			return nil, err
		}
		t.Cleanup(func() { store.Close() })
		stores[projectID] = store
		return store, nil
	}
	return New(opener, nil, slog.Default())
}

func call(t *testing.T, d *Dispatcher, name string, arguments any) Response {
	t.Helper()
	argJSON, err := json.Marshal(arguments)
	require.NoError(t, err)
	params, err := json.Marshal(toolCallParams{Name: name, Arguments: argJSON})
	require.NoError(t, err)
	req, err := json.Marshal(Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/call", Params: params})
	require.NoError(t, err)

	raw := d.Handle(context.Background(), req)
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func TestHandle_ParseErrorOnGarbageInput(t *testing.T) {
	d := newTestDispatcher(t)
	raw := d.Handle(context.Background(), []byte("not json"))
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeParseError, resp.Error.Code)
}

func TestHandle_UnknownMethod(t *testing.T) {
	d := newTestDispatcher(t)
	req, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "tools/list"})
	raw := d.Handle(context.Background(), req)
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestHandle_UnknownTool(t *testing.T) {
	d := newTestDispatcher(t)
	resp := call(t, d, "session.sync.teleport", map[string]any{"project_id": "p1"})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestHandle_MalformedParamsShape(t *testing.T) {
	d := newTestDispatcher(t)
	req, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "tools/call", Params: json.RawMessage(`[]`)})
	raw := d.Handle(context.Background(), req)
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestHandle_PullOnFreshProjectSucceeds(t *testing.T) {
	d := newTestDispatcher(t)
	resp := call(t, d, "session.sync.pull", map[string]any{
		"project_id": "p1", "client_id": "c1", "session_id": "s1",
		"task_prompt": "plan roadmap", "task_type": "auto", "max_tokens": 1200,
	})
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
}

func TestHandle_PushMissingRequiredFieldIsBusinessError(t *testing.T) {
	d := newTestDispatcher(t)
	resp := call(t, d, "session.sync.push", map[string]any{"project_id": "p1"})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeBusinessError, resp.Error.Code)
}

func TestHandle_PushThenAuditListSeesEntry(t *testing.T) {
	d := newTestDispatcher(t)
	pushResp := call(t, d, "session.sync.push", map[string]any{
		"project_id": "p2", "client_id": "c1", "session_id": "s1", "workspace_root": "/ws",
		"session_summary": "seed",
		"role_deltas": []map[string]any{
			{"role": "pm", "memory_key": "goal", "value": "done", "confidence": 0.9},
		},
	})
	require.Nil(t, pushResp.Error)

	auditResp := call(t, d, "session.sync.audit.list", map[string]any{"project_id": "p2", "direction": "push", "limit": 10})
	require.Nil(t, auditResp.Error)
	require.NotNil(t, auditResp.Result)
}

func TestHandle_CatalogHealthCheck(t *testing.T) {
	d := newTestDispatcher(t)
	resp := call(t, d, "catalog.health.check", map[string]any{"project_id": "p3"})
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
}
