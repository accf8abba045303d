package brief

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

func TestGenerate_FirstCallBuildsSnapshotAndReturnsBrief(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeWorkspaceFile(t, root, "src/auth.py", "import os\nfrom hashlib import sha256\n")
	writeWorkspaceFile(t, root, "src/other.py", "import sys\n")
	store := newTestStore(t, root)

	cache := NewCache(nil)
	result, err := Generate(ctx, store, cache, "fix the auth module", memtypes.TaskImplement, 500)
	require.NoError(t, err)
	require.Equal(t, memtypes.FreshnessFresh, result.Freshness)
	require.False(t, result.CacheHit)
	require.Contains(t, result.CatalogBrief, "auth.py")
	require.Contains(t, result.Evidence, "src/auth.py")
}

func TestGenerate_SecondCallWithSamePromptIsCacheHit(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeWorkspaceFile(t, root, "src/auth.py", "import os\n")
	store := newTestStore(t, root)
	cache := NewCache(nil)

	_, err := Generate(ctx, store, cache, "auth work", memtypes.TaskImplement, 500)
	require.NoError(t, err)

	result, err := Generate(ctx, store, cache, "auth work", memtypes.TaskImplement, 500)
	require.NoError(t, err)
	require.True(t, result.CacheHit)
}

func TestGenerate_StaleWithZeroPendingEnqueuesIncrementalRefresh(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeWorkspaceFile(t, root, "src/a.py", "import os\n")
	store := newTestStore(t, root)

	_, err := Generate(ctx, store, NewCache(nil), "anything", memtypes.TaskPlanning, 200)
	require.NoError(t, err)

	// force staleness by recording drift: modify the file after indexing.
	writeWorkspaceFile(t, root, "src/a.py", "import os\nimport sys\n")

	result, err := Generate(ctx, store, NewCache(nil), "anything", memtypes.TaskPlanning, 200)
	require.NoError(t, err)
	require.NotEqual(t, memtypes.FreshnessFresh, result.Freshness)
	require.True(t, result.RefreshRequested)
}

func TestScoreFiles_PrefersPromptTermMatches(t *testing.T) {
	files := []memtypes.CatalogFile{
		{Path: "src/auth.py", ImportCount: 1},
		{Path: "src/unrelated.py", ImportCount: 1},
	}
	scored := scoreFiles(files, nil, memtypes.TaskImplement, []string{"auth"})
	require.Equal(t, "src/auth.py", scored[0].Path)
	require.Greater(t, scored[0].Score, scored[1].Score)
}

func TestSelectEdges_FiltersByConfidenceAndSelectedFiles(t *testing.T) {
	selected := []scoredFile{{CatalogFile: memtypes.CatalogFile{Path: "a.py"}}}
	edges := []memtypes.CatalogEdge{
		{FromFile: "a.py", ToModule: "os", Confidence: 1.0},
		{FromFile: "a.py", ToModule: "weak", Confidence: 0.1},
		{FromFile: "b.py", ToModule: "sys", Confidence: 1.0},
	}
	out := selectEdges(edges, selected)
	require.Len(t, out, 1)
	require.Equal(t, "os", out[0].ToModule)
}

func TestTruncateBytes_AppendsSuffixWhenOverLimit(t *testing.T) {
	s := truncateBytes("0123456789", 5)
	require.LessOrEqual(t, len(s), 5+len(truncationSuffix))
	require.Contains(t, s, truncationSuffix)
}

func TestShortCatalogVersion_EncodesHashPrefixAsBase36(t *testing.T) {
	short := shortCatalogVersion("sha256:deadbeef")
	require.Len(t, short, 8)

	require.Empty(t, shortCatalogVersion(""))
	require.Empty(t, shortCatalogVersion("sha256:not-hex"))
}

func TestRender_IncludesCatalogHeaderWhenVersionKnown(t *testing.T) {
	out := render(nil, nil, 500, "sha256:deadbeef")
	require.Contains(t, out, "Catalog ")
	require.Contains(t, out, "Files:")
}

func TestGenerate_NeverPanicsOnEmptyWorkspace(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, t.TempDir())
	_, err := Generate(ctx, store, NewCache(nil), "anything", memtypes.TaskAuto, 100)
	require.NoError(t, err)
}
