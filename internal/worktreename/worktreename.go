// Package worktreename implements the sanitisation and uniqueness-probing
// rules for worktree branch names and directory paths. Ported line-for-line
// in semantics from the original daemon's sanitize_worktree_name,
// unique_worktree_path, and unique_worktree_path_for_rename.
package worktreename

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xlab/codex-monitor-daemon/internal/daemonerr"
)

// Sanitize maps any character outside [A-Za-z0-9._-] to '-', trims leading
// and trailing '-', and substitutes "worktree" if the result is empty.
func Sanitize(branch string) string {
	var b strings.Builder
	b.Grow(len(branch))
	for _, r := range branch {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	trimmed := strings.Trim(b.String(), "-")
	if trimmed == "" {
		return "worktree"
	}
	return trimmed
}

// UniquePath resolves baseDir/name, probing baseDir/name-2 .. baseDir/name-999
// if it already exists on disk.
func UniquePath(baseDir, name string) (string, error) {
	candidate := filepath.Join(baseDir, name)
	if !exists(candidate) {
		return candidate, nil
	}
	for i := 2; i < 1000; i++ {
		next := filepath.Join(baseDir, fmt.Sprintf("%s-%d", name, i))
		if !exists(next) {
			return next, nil
		}
	}
	return "", daemonerr.Externalf("Failed to find an available worktree path under %s.", baseDir)
}

// UniquePathForRename is like UniquePath except currentPath itself is
// considered free (renaming a worktree into its own directory is fine).
func UniquePathForRename(baseDir, name, currentPath string) (string, error) {
	candidate := filepath.Join(baseDir, name)
	if candidate == currentPath || !exists(candidate) {
		return candidate, nil
	}
	for i := 2; i < 1000; i++ {
		next := filepath.Join(baseDir, fmt.Sprintf("%s-%d", name, i))
		if next == currentPath || !exists(next) {
			return next, nil
		}
	}
	return "", daemonerr.Externalf("Failed to find an available worktree path under %s.", baseDir)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
