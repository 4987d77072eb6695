package workspacehome

import (
	"path/filepath"
	"testing"

	"github.com/xlab/codex-monitor-daemon/internal/catalog"
)

func TestResolveMainWorkspaceUsesOwnPath(t *testing.T) {
	entry := &catalog.Entry{Path: "/workspaces/main", Kind: catalog.KindMain}
	got := Resolve("/data", entry, "")
	want := filepath.Join("/workspaces/main", ".codex")
	if got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}

func TestResolveWorktreeSharesParentHome(t *testing.T) {
	entry := &catalog.Entry{Path: "/data/worktrees/p/feature", Kind: catalog.KindWorktree, ParentID: "p"}
	got := Resolve("/data", entry, "/workspaces/main")
	want := filepath.Join("/workspaces/main", ".codex")
	if got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}

func TestResolveWorktreeWithoutParentPathFallsBackToOwnPath(t *testing.T) {
	entry := &catalog.Entry{Path: "/data/worktrees/p/feature", Kind: catalog.KindWorktree, ParentID: "p"}
	got := Resolve("/data", entry, "")
	want := filepath.Join("/data/worktrees/p/feature", ".codex")
	if got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}
