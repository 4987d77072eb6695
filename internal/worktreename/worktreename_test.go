package worktreename

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeReplacesDisallowedCharacters(t *testing.T) {
	if got := Sanitize("feature/foo bar"); got != "feature-foo-bar" {
		t.Errorf("Sanitize = %q", got)
	}
}

func TestSanitizeTrimsLeadingTrailingDashes(t *testing.T) {
	if got := Sanitize("/feature/"); got != "feature" {
		t.Errorf("Sanitize = %q", got)
	}
}

func TestSanitizeEmptyResultFallsBackToWorktree(t *testing.T) {
	if got := Sanitize("///"); got != "worktree" {
		t.Errorf("Sanitize = %q, want worktree", got)
	}
}

func TestSanitizeKeepsDotsUnderscoresDigits(t *testing.T) {
	if got := Sanitize("v1.2_release"); got != "v1.2_release" {
		t.Errorf("Sanitize = %q", got)
	}
}

func TestUniquePathReturnsBaseWhenFree(t *testing.T) {
	dir := t.TempDir()
	got, err := UniquePath(dir, "feature")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != filepath.Join(dir, "feature") {
		t.Errorf("UniquePath = %q", got)
	}
}

func TestUniquePathProbesNumberedSuffixes(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "feature"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "feature-2"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	got, err := UniquePath(dir, "feature")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != filepath.Join(dir, "feature-3") {
		t.Errorf("UniquePath = %q, want feature-3", got)
	}
}

func TestUniquePathForRenameTreatsCurrentPathAsFree(t *testing.T) {
	dir := t.TempDir()
	current := filepath.Join(dir, "feature")
	if err := os.Mkdir(current, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	got, err := UniquePathForRename(dir, "feature", current)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != current {
		t.Errorf("UniquePathForRename = %q, want current path reused", got)
	}
}
