package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

func TestParseContextStamp_Null_Forces(t *testing.T) {
	stamp, berr := ParseContextStamp(nil)
	require.Nil(t, berr)
	require.True(t, stamp.Force)
}

func TestParseContextStamp_LegacyString(t *testing.T) {
	stamp, berr := ParseContextStamp(json.RawMessage(`"v3"`))
	require.Nil(t, berr)
	require.False(t, stamp.Force)
	require.Equal(t, int64(3), stamp.MemoryVersion)
}

func TestParseContextStamp_ObjectZeroIsValid(t *testing.T) {
	stamp, berr := ParseContextStamp(json.RawMessage(`{"memory_version":0}`))
	require.Nil(t, berr)
	require.Equal(t, int64(0), stamp.MemoryVersion)
}

func TestParseContextStamp_NegativeRejected(t *testing.T) {
	_, berr := ParseContextStamp(json.RawMessage(`{"memory_version":-1}`))
	require.NotNil(t, berr)
	require.Equal(t, memtypes.ErrInvalidContextStamp, berr.Code)
}

func TestParseContextStamp_GarbageRejected(t *testing.T) {
	_, berr := ParseContextStamp(json.RawMessage(`"banana"`))
	require.NotNil(t, berr)
	require.Equal(t, memtypes.ErrInvalidContextStamp, berr.Code)
}

func TestValidateProjectID_RejectsBadPattern(t *testing.T) {
	require.NotNil(t, ValidateProjectID(""))
	require.NotNil(t, ValidateProjectID("has space"))
	require.NotNil(t, ValidateProjectID("has..dots"))
	require.Nil(t, ValidateProjectID("valid-project.1"))
}

func TestParsePushArgs_RejectsBadConfidence(t *testing.T) {
	raw := json.RawMessage(`{
		"project_id":"p1","client_id":"c1","session_id":"s1","workspace_root":"/ws",
		"session_summary":"x","role_deltas":[{"role":"pm","memory_key":"k","value":"v","confidence":1.5}]
	}`)
	_, berr := ParsePushArgs(raw)
	require.NotNil(t, berr)
	require.Equal(t, memtypes.ErrInvalidPushPayload, berr.Code)
}

func TestParsePushArgs_FoldsOpenLoopsClosedStringAndObject(t *testing.T) {
	raw := json.RawMessage(`{
		"project_id":"p1","client_id":"c1","session_id":"s1","workspace_root":"/ws",
		"session_summary":"x","open_loops_closed":["by-title",{"loop_id":"abc"}]
	}`)
	req, berr := ParsePushArgs(raw)
	require.Nil(t, berr)
	require.Len(t, req.OpenLoopsClosed, 2)
	require.Equal(t, "by-title", req.OpenLoopsClosed[0].Title)
	require.Equal(t, "abc", req.OpenLoopsClosed[1].LoopID)
}

func TestParseAuditListArgs_LimitBounds(t *testing.T) {
	_, _, _, berr := ParseAuditListArgs(json.RawMessage(`{"project_id":"p1","limit":501}`))
	require.NotNil(t, berr)
	require.Equal(t, memtypes.ErrInvalidAuditQuery, berr.Code)

	_, _, limit, berr := ParseAuditListArgs(json.RawMessage(`{"project_id":"p1"}`))
	require.Nil(t, berr)
	require.Equal(t, 100, limit)
}

func TestParseResolveConflictArgs_RejectsUnknownStrategy(t *testing.T) {
	_, berr := ParseResolveConflictArgs(json.RawMessage(`{
		"project_id":"p1","client_id":"c1","session_id":"s1","strategy":"guess"
	}`))
	require.NotNil(t, berr)
	require.Equal(t, memtypes.ErrInvalidConflictStrategy, berr.Code)
}
