// Package drift computes workspace-vs-catalog drift: a git-diff-based
// method with a content-hash fallback, per spec.md §4.7. The subprocess
// idiom is grounded on the teacher's internal/git package (gitdir.go calls
// exec.Command("git", ...) and treats a non-zero exit as "not available"
// rather than fatal).
package drift

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

var supportedSuffixes = map[string]bool{
	".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".dart": true,
}

// excludedDirs mirrors the indexer's own exclude list so the live watcher
// never opens watch handles on vendor/build directories.
var excludedDirs = map[string]bool{
	".git": true, "node_modules": true, "build": true, "dist": true,
	".venv": true, "venv": true, "__pycache__": true, ".mypy_cache": true,
	"target": true, ".gradle": true, ".idea": true, ".vscode": true,
	"vendor": true, ".dart_tool": true, ".pub-cache": true,
}

// Detect computes drift between workspaceRoot and the known catalog files
// (path -> content hash). It prefers `git diff` against HEAD plus untracked
// files; on any failure of the git path it falls back to a full hash
// compare. TotalFiles is the denominator of the method used: the known file
// count for git diff, the union of known and current files for hash compare.
func Detect(ctx context.Context, workspaceRoot string, known map[string]string) (memtypes.DriftReport, error) {
	if report, ok := tryGitDiff(ctx, workspaceRoot, known); ok {
		return report, nil
	}
	return hashCompare(workspaceRoot, known), nil
}

func tryGitDiff(ctx context.Context, workspaceRoot string, known map[string]string) (memtypes.DriftReport, bool) {
	changedSet := map[string]bool{}

	diffOut, err := runGit(ctx, workspaceRoot, "diff", "--name-only", "HEAD")
	if err != nil {
		return memtypes.DriftReport{}, false
	}
	addChangedLines(changedSet, diffOut)

	untrackedOut, err := runGit(ctx, workspaceRoot, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return memtypes.DriftReport{}, false
	}
	addChangedLines(changedSet, untrackedOut)

	var changed []string
	for f := range changedSet {
		if supportedSuffixes[strings.ToLower(filepath.Ext(f))] {
			changed = append(changed, f)
		}
	}

	knownCount := len(known)
	score := float64(len(changed)) / float64(max1(knownCount))
	if score > 1.0 {
		score = 1.0
	}

	return memtypes.DriftReport{
		Method: memtypes.DriftGitDiff, DriftScore: score, ChangedFiles: changed, TotalFiles: knownCount,
	}, true
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return out.String(), nil
}

func addChangedLines(set map[string]bool, out string) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			set[line] = true
		}
	}
}

// hashCompare reads current supported files under workspaceRoot and
// compares content hashes against known, unioning both file sets for the
// denominator per spec §4.7. Reads raw bytes — never re-normalized — so
// this agrees with the indexer's own hashing and CRLF never flaps drift.
func hashCompare(workspaceRoot string, known map[string]string) memtypes.DriftReport {
	current := map[string]string{}
	_ = filepath.WalkDir(workspaceRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !supportedSuffixes[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		raw, err := os.ReadFile(path) // #nosec G304 - workspaceRoot is operator-supplied
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(workspaceRoot, path)
		if err != nil {
			rel = path
		}
		sum := sha256.Sum256(raw)
		current[filepath.ToSlash(rel)] = hex.EncodeToString(sum[:])
		return nil
	})

	allKeys := map[string]bool{}
	for k := range known {
		allKeys[k] = true
	}
	for k := range current {
		allKeys[k] = true
	}

	var changed []string
	for k := range allKeys {
		if known[k] != current[k] {
			changed = append(changed, k)
		}
	}

	total := len(allKeys)
	score := float64(len(changed)) / float64(max1(total))
	if score > 1.0 {
		score = 1.0
	}

	return memtypes.DriftReport{
		Method: memtypes.DriftHashCompare, DriftScore: score, ChangedFiles: changed, TotalFiles: total,
	}
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
