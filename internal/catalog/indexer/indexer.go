// Package indexer walks a workspace root, hashes and classifies source
// files, and extracts import edges, producing the snapshot the catalog
// worker writes wholesale into the store (spec.md §4.4). No single teacher
// file walks a tree this way; the walk/exclude/size-cap shape is built
// directly from the spec, hashing with stdlib crypto/sha256 as the
// teacher's own content-hash idioms do elsewhere in the pack.
package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

// MaxFileSize bounds which files are indexed (spec §4.4: size <= 1 MB).
const MaxFileSize = 1 << 20

// excludedDirs are never descended into.
var excludedDirs = map[string]bool{
	".git": true, "node_modules": true, "build": true, "dist": true,
	".venv": true, "venv": true, "__pycache__": true, ".mypy_cache": true,
	"target": true, ".gradle": true, ".idea": true, ".vscode": true,
	"vendor": true, ".dart_tool": true, ".pub-cache": true,
}

// supportedSuffixes maps a file extension to its inferred language.
var supportedSuffixes = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".dart": "dart",
}

// Snapshot is the walk's output: the full file/edge set for one workspace.
type Snapshot struct {
	WorkspaceRoot string
	Files         []memtypes.CatalogFile
	Edges         []memtypes.CatalogEdge
	FullRebuild   bool
}

// Index performs a full recursive walk of root and returns a Snapshot with
// FullRebuild set. Files are read and hashed as raw bytes — never through a
// text-decoding reader — so the same bytes are compared by the drift
// detector's hash-compare path and CRLF-vs-LF never flaps drift (spec §9
// open question).
func Index(root string) (Snapshot, error) {
	snap := Snapshot{WorkspaceRoot: root, FullRebuild: true}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() != "." && excludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		lang, ok := supportedSuffixes[strings.ToLower(filepath.Ext(path))]
		if !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > MaxFileSize {
			return nil
		}

		raw, err := os.ReadFile(path) // #nosec G304 - root is operator-supplied workspace
		if err != nil {
			return nil // unreadable file: skip rather than fail the whole walk
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		hash := sha256.Sum256(raw)
		edges := extractImports(lang, raw)

		snap.Files = append(snap.Files, memtypes.CatalogFile{
			Path: rel, ContentHash: hex.EncodeToString(hash[:]), Language: lang, ImportCount: len(edges),
		})
		for _, e := range edges {
			e.FromFile = rel
			snap.Edges = append(snap.Edges, e)
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("indexing %s: %w", root, err)
	}
	return snap, nil
}

var (
	pyImportPattern     = regexp.MustCompile(`(?m)^\s*import\s+([A-Za-z_][\w.]*)`)
	pyFromImportPattern = regexp.MustCompile(`(?m)^\s*from\s+([A-Za-z_][\w.]*)\s+import\s`)

	esImportFromPattern = regexp.MustCompile(`import\s+(?:[\w*${}\s,]+from\s+)?["']([^"']+)["']`)
	esBareImportPattern = regexp.MustCompile(`^\s*import\s+["']([^"']+)["']`)
	esRequirePattern     = regexp.MustCompile(`require\(\s*["']([^"']+)["']\s*\)`)
)

// extractImports dispatches to the python statement scan or the JS/TS/Dart
// regex fallback. The python path is a line-oriented statement scan, not a
// full syntactic parse — see DESIGN.md's Open Question decision for why:
// no Python parser exists anywhere in the retrieved example pack.
func extractImports(language string, content []byte) []memtypes.CatalogEdge {
	if language == "python" {
		return extractPythonImports(content)
	}
	return extractRegexImports(content)
}

func extractPythonImports(content []byte) []memtypes.CatalogEdge {
	text := string(content)
	seen := map[string]bool{}
	var edges []memtypes.CatalogEdge

	for _, m := range pyImportPattern.FindAllStringSubmatch(text, -1) {
		mod := m[1]
		if !seen[mod] {
			seen[mod] = true
			edges = append(edges, memtypes.CatalogEdge{ToModule: mod, EdgeType: "import", Confidence: 1.0, SourceType: memtypes.SourceAST})
		}
	}
	for _, m := range pyFromImportPattern.FindAllStringSubmatch(text, -1) {
		mod := m[1]
		if !seen[mod] {
			seen[mod] = true
			edges = append(edges, memtypes.CatalogEdge{ToModule: mod, EdgeType: "import", Confidence: 1.0, SourceType: memtypes.SourceAST})
		}
	}
	if len(edges) == 0 {
		return extractRegexImports(content)
	}
	return edges
}

func extractRegexImports(content []byte) []memtypes.CatalogEdge {
	text := string(content)
	seen := map[string]bool{}
	var edges []memtypes.CatalogEdge

	add := func(mod string) {
		if mod == "" || seen[mod] {
			return
		}
		seen[mod] = true
		edges = append(edges, memtypes.CatalogEdge{ToModule: mod, EdgeType: "import", Confidence: 0.5, SourceType: memtypes.SourceInferred})
	}

	for _, m := range esImportFromPattern.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, line := range strings.Split(text, "\n") {
		if m := esBareImportPattern.FindStringSubmatch(line); m != nil {
			add(m[1])
		}
	}
	for _, m := range esRequirePattern.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	return edges
}

// CatalogVersion computes sha256 over the sorted file list and sorted
// edges, per spec §4.4: "catalog_version is sha256: over the sorted file
// list and sorted edges."
func CatalogVersion(files []memtypes.CatalogFile, edges []memtypes.CatalogEdge) string {
	fileLines := make([]string, len(files))
	for i, f := range files {
		fileLines[i] = fmt.Sprintf("%s|%s|%s|%d", f.Path, f.ContentHash, f.Language, f.ImportCount)
	}
	sort.Strings(fileLines)

	edgeLines := make([]string, len(edges))
	for i, e := range edges {
		edgeLines[i] = fmt.Sprintf("%s|%s|%s|%.4f|%s", e.FromFile, e.ToModule, e.EdgeType, e.Confidence, e.SourceType)
	}
	sort.Strings(edgeLines)

	h := sha256.New()
	for _, l := range fileLines {
		h.Write([]byte(l))
		h.Write([]byte("\n"))
	}
	for _, l := range edgeLines {
		h.Write([]byte(l))
		h.Write([]byte("\n"))
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
