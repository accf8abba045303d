package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestIndex_ExcludesDirsAndUnsupportedSuffixes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/main.py", "import os\n")
	writeFile(t, root, "node_modules/pkg/index.js", "require('x')\n")
	writeFile(t, root, "README.md", "not indexed\n")

	snap, err := Index(root)
	require.NoError(t, err)
	require.Len(t, snap.Files, 1)
	require.Equal(t, "src/main.py", snap.Files[0].Path)
}

func TestIndex_PythonStatementScanYieldsASTConfidence(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "mod.py", "import os\nfrom collections import OrderedDict\n")

	snap, err := Index(root)
	require.NoError(t, err)
	require.Len(t, snap.Edges, 2)
	for _, e := range snap.Edges {
		require.Equal(t, memtypes.SourceAST, e.SourceType)
		require.Equal(t, 1.0, e.Confidence)
	}
}

func TestIndex_JSFallbackYieldsInferredConfidence(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.js", `import React from "react";
const fs = require("fs");
`)

	snap, err := Index(root)
	require.NoError(t, err)
	require.NotEmpty(t, snap.Edges)
	for _, e := range snap.Edges {
		require.Equal(t, memtypes.SourceInferred, e.SourceType)
		require.Equal(t, 0.5, e.Confidence)
	}
}

func TestIndex_SkipsOversizedFiles(t *testing.T) {
	root := t.TempDir()
	big := make([]byte, MaxFileSize+1)
	writeFile(t, root, "big.py", string(big))

	snap, err := Index(root)
	require.NoError(t, err)
	require.Empty(t, snap.Files)
}

func TestCatalogVersion_IsOrderIndependent(t *testing.T) {
	files := []memtypes.CatalogFile{
		{Path: "b.py", ContentHash: "h2"},
		{Path: "a.py", ContentHash: "h1"},
	}
	edges := []memtypes.CatalogEdge{
		{FromFile: "b.py", ToModule: "os"},
		{FromFile: "a.py", ToModule: "sys"},
	}
	v1 := CatalogVersion(files, edges)

	reversedFiles := []memtypes.CatalogFile{files[1], files[0]}
	reversedEdges := []memtypes.CatalogEdge{edges[1], edges[0]}
	v2 := CatalogVersion(reversedFiles, reversedEdges)

	require.Equal(t, v1, v2)
}

func TestIndex_HashesBytesVerbatimForCRLF(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "crlf.py", "import os\r\n")

	snap, err := Index(root)
	require.NoError(t, err)
	require.Len(t, snap.Files, 1)

	raw, err := os.ReadFile(filepath.Join(root, "crlf.py"))
	require.NoError(t, err)
	require.Contains(t, string(raw), "\r\n")
	sum := sha256.Sum256(raw)
	require.Equal(t, hex.EncodeToString(sum[:]), snap.Files[0].ContentHash)
}
