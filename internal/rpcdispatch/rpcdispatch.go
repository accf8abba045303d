// Package rpcdispatch implements the JSON-RPC 2.0 tool surface described
// in spec.md §6: a `tools/call` method carrying {name, arguments}, mapped
// onto the session-sync engine and catalog pipeline. The teacher's own
// internal/rpc/protocol.go defines a custom, non-standard Operation/Args
// envelope that does not satisfy the spec's explicit JSON-RPC 2.0
// requirement, so this package is written fresh against the JSON-RPC 2.0
// envelope shape, keeping only the teacher's one-stable-code-per-error-
// class idiom from internal/rpc/errors.go.
package rpcdispatch

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/memoryhub/memoryhub/internal/catalog/brief"
	"github.com/memoryhub/memoryhub/internal/memtypes"
	"github.com/memoryhub/memoryhub/internal/storage/sqlite"
	"github.com/memoryhub/memoryhub/internal/syncengine"
	"github.com/memoryhub/memoryhub/internal/validation"
)

// JSON-RPC 2.0 error codes (spec §6).
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeBusinessError  = -32010
	CodeInternalError  = -32000
)

// Request is one JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// toolCallParams is the `tools/call` params shape: {name, arguments}.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Response is one JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// StoreOpener resolves the *sqlite.Store for a project, creating and
// caching it on first use. The dispatcher never closes a store it is
// handed back — store lifetime is owned by whatever sits behind
// StoreOpener (cmd/memoryhubd keeps one open connection pool per project
// for the life of the daemon process and closes them all at shutdown).
type StoreOpener func(ctx context.Context, projectID string) (*sqlite.Store, error)

// Dispatcher routes JSON-RPC requests onto the session-sync engine and
// catalog pipeline, resolving each call's project store through openStore
// and recording a SyncAudit row for every failure.
type Dispatcher struct {
	openStore StoreOpener
	cache     *brief.Cache
	logger    *slog.Logger
}

// New builds a Dispatcher. cache may be nil to disable catalog-brief caching.
func New(openStore StoreOpener, cache *brief.Cache, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{openStore: openStore, cache: cache, logger: logger}
}

// Handle parses one JSON-RPC request and returns its JSON-RPC response, both
// as raw bytes, ready to write one per line in the line-delimited transport.
func (d *Dispatcher) Handle(ctx context.Context, rawRequest []byte) []byte {
	var req Request
	if err := json.Unmarshal(rawRequest, &req); err != nil {
		return d.encode(nil, errorResponse(CodeParseError, "failed to parse request", nil))
	}

	if req.Method != "tools/call" {
		return d.encode(req.ID, errorResponse(CodeMethodNotFound, "unknown method: "+req.Method, nil))
	}

	var call toolCallParams
	if err := json.Unmarshal(req.Params, &call); err != nil || call.Name == "" {
		return d.encode(req.ID, errorResponse(CodeInvalidParams, "tools/call requires {name, arguments}", nil))
	}

	handler, ok := handlers[call.Name]
	if !ok {
		return d.encode(req.ID, errorResponse(CodeMethodNotFound, "unknown tool: "+call.Name, nil))
	}

	result, berr := handler(ctx, d, call.Arguments)
	if berr != nil {
		d.auditToolError(ctx, call.Arguments, directionFor(call.Name), berr)
		return d.encode(req.ID, businessErrorResponse(berr))
	}
	return d.encode(req.ID, Response{JSONRPC: "2.0", Result: result})
}

func (d *Dispatcher) encode(id json.RawMessage, resp Response) []byte {
	resp.JSONRPC = "2.0"
	resp.ID = id
	data, err := json.Marshal(resp)
	if err != nil {
		// Marshaling our own response object should never fail; fall back to
		// a minimal internal-error envelope rather than returning nothing.
		return []byte(`{"jsonrpc":"2.0","error":{"code":-32000,"message":"failed to encode response"}}`)
	}
	return data
}

func errorResponse(code int, message string, data any) Response {
	return Response{Error: &RPCError{Code: code, Message: message, Data: data}}
}

func businessErrorResponse(berr *memtypes.BusinessError) Response {
	return errorResponse(CodeBusinessError, berr.Message, berr)
}

// projectIDProbe extracts project_id from an otherwise-unparsed arguments
// blob for best-effort audit logging when a handler fails before it can
// build a structured request.
type projectIDProbe struct {
	ProjectID string `json:"project_id"`
}

// auditToolError records a failure audit row. If the arguments carry a
// recoverable project_id, the row is written to that project's store with
// the tool's mapped direction; otherwise the failure is only logged, since
// SyncAudit is partitioned by project_id and there is nowhere to write it.
func (d *Dispatcher) auditToolError(ctx context.Context, arguments json.RawMessage, direction string, berr *memtypes.BusinessError) {
	var probe projectIDProbe
	if err := json.Unmarshal(arguments, &probe); err != nil || probe.ProjectID == "" {
		d.logger.WarnContext(ctx, "tool call failed before a project could be resolved for audit", "error", berr.Error())
		return
	}
	store, err := d.openStore(ctx, probe.ProjectID)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to open store for audit logging", "project_id", probe.ProjectID, "error", err)
		return
	}
	if err := store.InsertSyncAuditStandalone(ctx, "", direction, arguments, nil, string(berr.Code), 0); err != nil {
		d.logger.ErrorContext(ctx, "failed to record audit row", "project_id", probe.ProjectID, "error", err)
	}
}

func directionFor(toolName string) string {
	switch toolName {
	case toolPull:
		return memtypes.DirectionPull
	case toolPush:
		return memtypes.DirectionPush
	case toolResolveConflict:
		return memtypes.DirectionResolveConflict
	case toolCatalogBriefGenerate:
		return memtypes.DirectionCatalogBrief
	case toolCatalogHealthCheck:
		return memtypes.DirectionCatalogHealth
	default:
		return memtypes.DirectionToolError
	}
}

// Tool names (spec §6).
const (
	toolPull                 = "session.sync.pull"
	toolPush                 = "session.sync.push"
	toolResolveConflict      = "session.sync.resolve_conflict"
	toolAuditList            = "session.sync.audit.list"
	toolCatalogBriefGenerate = "catalog.brief.generate"
	toolCatalogHealthCheck   = "catalog.health.check"
)

type handlerFunc func(ctx context.Context, d *Dispatcher, arguments json.RawMessage) (any, *memtypes.BusinessError)

var handlers = map[string]handlerFunc{
	toolPull:                 handlePull,
	toolPush:                 handlePush,
	toolResolveConflict:      handleResolveConflict,
	toolAuditList:            handleAuditList,
	toolCatalogBriefGenerate: handleCatalogBriefGenerate,
	toolCatalogHealthCheck:   handleCatalogHealthCheck,
}

func handlePull(ctx context.Context, d *Dispatcher, arguments json.RawMessage) (any, *memtypes.BusinessError) {
	req, berr := validation.ParsePullArgs(arguments)
	if berr != nil {
		return nil, berr
	}
	store, err := d.openStore(ctx, req.ProjectID)
	if err != nil {
		return nil, storeOpenError(err)
	}
	return syncengine.New(store, d.cache, d.logger).Pull(ctx, *req)
}

func handlePush(ctx context.Context, d *Dispatcher, arguments json.RawMessage) (any, *memtypes.BusinessError) {
	req, berr := validation.ParsePushArgs(arguments)
	if berr != nil {
		return nil, berr
	}
	store, err := d.openStore(ctx, req.ProjectID)
	if err != nil {
		return nil, storeOpenError(err)
	}
	return syncengine.New(store, d.cache, d.logger).Push(ctx, *req)
}

func handleResolveConflict(ctx context.Context, d *Dispatcher, arguments json.RawMessage) (any, *memtypes.BusinessError) {
	req, berr := validation.ParseResolveConflictArgs(arguments)
	if berr != nil {
		return nil, berr
	}
	store, err := d.openStore(ctx, req.ProjectID)
	if err != nil {
		return nil, storeOpenError(err)
	}
	return syncengine.New(store, d.cache, d.logger).ResolveConflict(ctx, *req)
}

func handleAuditList(ctx context.Context, d *Dispatcher, arguments json.RawMessage) (any, *memtypes.BusinessError) {
	projectID, direction, limit, berr := validation.ParseAuditListArgs(arguments)
	if berr != nil {
		return nil, berr
	}
	store, err := d.openStore(ctx, projectID)
	if err != nil {
		return nil, storeOpenError(err)
	}
	items, err := store.ListSyncAudit(ctx, direction, limit)
	if err != nil {
		return nil, memtypes.NewBusinessErrorf(memtypes.ErrToolCallFailed, "listing sync audit: %v", err).WithRetryable(true)
	}
	return struct {
		Items []memtypes.SyncAudit `json:"items"`
	}{Items: items}, nil
}

func handleCatalogBriefGenerate(ctx context.Context, d *Dispatcher, arguments json.RawMessage) (any, *memtypes.BusinessError) {
	projectID, taskPrompt, taskType, maxTokens, berr := validation.ParseCatalogBriefArgs(arguments)
	if berr != nil {
		return nil, berr
	}
	store, err := d.openStore(ctx, projectID)
	if err != nil {
		return nil, storeOpenError(err)
	}
	result, err := brief.Generate(ctx, store, d.cache, taskPrompt, taskType, maxTokens)
	if err != nil {
		return nil, memtypes.NewBusinessErrorf(memtypes.ErrToolCallFailed, "generating catalog brief: %v", err).WithRetryable(true)
	}
	return result, nil
}

func handleCatalogHealthCheck(ctx context.Context, d *Dispatcher, arguments json.RawMessage) (any, *memtypes.BusinessError) {
	projectID, berr := validation.ParseCatalogHealthArgs(arguments)
	if berr != nil {
		return nil, berr
	}
	store, err := d.openStore(ctx, projectID)
	if err != nil {
		return nil, storeOpenError(err)
	}
	result, err := brief.Health(ctx, store)
	if err != nil {
		return nil, memtypes.NewBusinessErrorf(memtypes.ErrToolCallFailed, "checking catalog health: %v", err).WithRetryable(true)
	}
	return result, nil
}

func storeOpenError(err error) *memtypes.BusinessError {
	return memtypes.NewBusinessErrorf(memtypes.ErrToolCallFailed, "opening project store: %v", err).WithRetryable(true)
}
