package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

func TestClassifyTask_ExplicitTypeHonored(t *testing.T) {
	require.Equal(t, memtypes.TaskDesign, ClassifyTask("anything here", memtypes.TaskDesign))
}

func TestClassifyTask_KeywordMatch(t *testing.T) {
	require.Equal(t, memtypes.TaskPlanning, ClassifyTask("plan roadmap", memtypes.TaskAuto))
	require.Equal(t, memtypes.TaskTest, ClassifyTask("write tests for the widget", memtypes.TaskAuto))
}

func TestClassifyTask_DefaultsToPlanning(t *testing.T) {
	require.Equal(t, memtypes.TaskPlanning, ClassifyTask("do the thing", memtypes.TaskAuto))
}

func TestSelectRoles_FixedTable(t *testing.T) {
	require.Equal(t, []memtypes.Role{memtypes.RolePM, memtypes.RoleArchitect}, SelectRoles(memtypes.TaskPlanning))
	require.Equal(t, []memtypes.Role{memtypes.RoleArchitect, memtypes.RoleDev}, SelectRoles(memtypes.TaskImplement))
	require.Equal(t, []memtypes.Role{memtypes.RoleQA, memtypes.RoleDev, memtypes.RoleArchitect}, SelectRoles(memtypes.TaskTest))
}

func TestMemoryContextBrief_HasExpectedSectionHeaders(t *testing.T) {
	brief := MemoryContextBrief(BriefInput{MaxTokens: 1200})
	require.True(t, strings.HasPrefix(brief, "Roles:\n"))
	require.Contains(t, brief, "Open Loops (Top):\n")
	require.Contains(t, brief, "Latest Handoff:\n")
}

func TestMemoryContextBrief_TruncatesWithSuffix(t *testing.T) {
	roles := []memtypes.RolePayload{{
		Role: memtypes.RolePM,
		Items: []memtypes.RolePayloadItem{
			{MemoryKey: "k1", Value: []byte(`"` + strings.Repeat("x", 5000) + `"`)},
		},
	}}
	brief := MemoryContextBrief(BriefInput{Roles: roles, MaxTokens: 1})
	require.True(t, strings.HasSuffix(brief, truncationSuffix))
	require.LessOrEqual(t, len(brief), 400)
}

func TestBriefLimit_FloorsAt400(t *testing.T) {
	require.Equal(t, 400, briefLimit(1))
	require.Equal(t, 4800, briefLimit(1200))
}
