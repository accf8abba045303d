package drift

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

func TestHashCompare_DriftScoreInBounds(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("import os\n"), 0o644))

	report := hashCompare(root, map[string]string{"a.py": "stale-hash"})
	require.GreaterOrEqual(t, report.DriftScore, 0.0)
	require.LessOrEqual(t, report.DriftScore, 1.0)
	require.Equal(t, memtypes.DriftHashCompare, report.Method)
	require.Contains(t, report.ChangedFiles, "a.py")
}

func TestHashCompare_MatchingKnownHashIsZeroDrift(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("import os\n"), 0o644))

	sum := sha256Hex(t, filepath.Join(root, "a.py"))
	report := hashCompare(root, map[string]string{"a.py": sum})
	require.Equal(t, 0.0, report.DriftScore)
}

func TestDetect_FallsBackToHashCompareOutsideGitRepo(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("import os\n"), 0o644))

	report, err := Detect(context.Background(), root, map[string]string{})
	require.NoError(t, err)
	require.Equal(t, memtypes.DriftHashCompare, report.Method)
}

func sha256Hex(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
