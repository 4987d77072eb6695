package daemonstate

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/xlab/codex-monitor-daemon/internal/eventbus"
	"github.com/xlab/codex-monitor-daemon/internal/gitdriver"
)

func writeFakeCodex(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-codex.sh")
	script := `#!/bin/sh
while IFS= read -r line; do
  id=$(echo "$line" | grep -o '"id":[0-9]*' | head -1 | cut -d: -f2)
  if [ -n "$id" ]; then
    printf '{"id":%s,"result":{"ok":true}}\n' "$id"
  fi
done
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-q", "-b", "main")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("write README: %v", err)
	}
	run("add", "README.md")
	run("commit", "-q", "-m", "initial")
	return dir
}

func newDaemon(t *testing.T) *Daemon {
	t.Helper()
	d, err := Load(t.TempDir(), gitdriver.New(), eventbus.New(8))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return d
}

func TestAddWorkspaceRejectsNonDirectory(t *testing.T) {
	d := newDaemon(t)
	_, err := d.AddWorkspace(context.Background(), filepath.Join(t.TempDir(), "does-not-exist"), nil, "test")
	if err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestAddWorkspaceThenConnectIsIdempotent(t *testing.T) {
	d := newDaemon(t)
	bin := writeFakeCodex(t)
	repo := initRepo(t)

	info, err := d.AddWorkspace(context.Background(), repo, &bin, "test")
	if err != nil {
		t.Fatalf("AddWorkspace: %v", err)
	}
	if !info.Connected {
		t.Error("expected connected=true after add")
	}

	if err := d.ConnectWorkspace("test", info.ID); err != nil {
		t.Fatalf("ConnectWorkspace should be a no-op when already connected: %v", err)
	}
}

func TestAddWorktreeFromMainWorkspace(t *testing.T) {
	d := newDaemon(t)
	bin := writeFakeCodex(t)
	repo := initRepo(t)

	parent, err := d.AddWorkspace(context.Background(), repo, &bin, "test")
	if err != nil {
		t.Fatalf("AddWorkspace: %v", err)
	}

	wt, err := d.AddWorktree(context.Background(), parent.ID, "feature-x", "test")
	if err != nil {
		t.Fatalf("AddWorktree: %v", err)
	}
	if wt.Worktree == nil || wt.Worktree.Branch != "feature-x" {
		t.Errorf("worktree info = %+v", wt.Worktree)
	}

	list := d.ListWorkspaces()
	if len(list) != 2 {
		t.Fatalf("expected 2 workspaces, got %d", len(list))
	}
}

func TestAddWorktreeFromWorktreeIsRejected(t *testing.T) {
	d := newDaemon(t)
	bin := writeFakeCodex(t)
	repo := initRepo(t)

	parent, err := d.AddWorkspace(context.Background(), repo, &bin, "test")
	if err != nil {
		t.Fatalf("AddWorkspace: %v", err)
	}
	wt, err := d.AddWorktree(context.Background(), parent.ID, "feature-x", "test")
	if err != nil {
		t.Fatalf("AddWorktree: %v", err)
	}

	_, err = d.AddWorktree(context.Background(), wt.ID, "feature-y", "test")
	if err == nil {
		t.Fatal("expected error creating a worktree from a worktree")
	}
}

func TestRemoveWorkspaceRemovesChildren(t *testing.T) {
	d := newDaemon(t)
	bin := writeFakeCodex(t)
	repo := initRepo(t)

	parent, err := d.AddWorkspace(context.Background(), repo, &bin, "test")
	if err != nil {
		t.Fatalf("AddWorkspace: %v", err)
	}
	if _, err := d.AddWorktree(context.Background(), parent.ID, "feature-x", "test"); err != nil {
		t.Fatalf("AddWorktree: %v", err)
	}

	if err := d.RemoveWorkspace(context.Background(), parent.ID); err != nil {
		t.Fatalf("RemoveWorkspace: %v", err)
	}
	if len(d.ListWorkspaces()) != 0 {
		t.Errorf("expected no workspaces left, got %+v", d.ListWorkspaces())
	}
}

func TestRemoveWorktreeRequiresWorktreeKind(t *testing.T) {
	d := newDaemon(t)
	bin := writeFakeCodex(t)
	repo := initRepo(t)

	parent, err := d.AddWorkspace(context.Background(), repo, &bin, "test")
	if err != nil {
		t.Fatalf("AddWorkspace: %v", err)
	}
	if err := d.RemoveWorktree(context.Background(), parent.ID); err == nil {
		t.Fatal("expected error calling RemoveWorktree on a main workspace")
	}
}

func TestRenameWorktreeRejectsUnchangedName(t *testing.T) {
	d := newDaemon(t)
	bin := writeFakeCodex(t)
	repo := initRepo(t)

	parent, err := d.AddWorkspace(context.Background(), repo, &bin, "test")
	if err != nil {
		t.Fatalf("AddWorkspace: %v", err)
	}
	wt, err := d.AddWorktree(context.Background(), parent.ID, "feature-x", "test")
	if err != nil {
		t.Fatalf("AddWorktree: %v", err)
	}

	_, err = d.RenameWorktree(context.Background(), wt.ID, "feature-x", "test")
	if err == nil {
		t.Fatal("expected error renaming a worktree to its current branch name")
	}
}

func TestGetCodexConfigPathUsesCodexHomeEnv(t *testing.T) {
	d := newDaemon(t)
	t.Setenv("CODEX_HOME", "/custom/home")
	path, err := d.GetCodexConfigPath()
	if err != nil {
		t.Fatalf("GetCodexConfigPath: %v", err)
	}
	if path != filepath.Join("/custom/home", "config.toml") {
		t.Errorf("path = %q", path)
	}
}

func TestGetAppSettingsRereadsExternalConfigLive(t *testing.T) {
	d := newDaemon(t)

	settings := d.GetAppSettings()
	if settings.ExperimentalSteerEnabled {
		t.Fatalf("expected steer flag unset before external config exists")
	}

	// Write the external experimental-flags file directly, bypassing
	// UpdateAppSettings entirely, to prove GetAppSettings merges it live
	// rather than from a startup-time cache.
	externalPath := filepath.Join(d.DataDir(), "config.toml.json")
	if err := os.WriteFile(externalPath, []byte(`{"steer": true}`), 0o644); err != nil {
		t.Fatalf("write external config: %v", err)
	}

	settings = d.GetAppSettings()
	if !settings.ExperimentalSteerEnabled {
		t.Error("expected GetAppSettings to reflect the external config file written after Load()")
	}
}

func TestUpdateAppSettingsRoundTrips(t *testing.T) {
	d := newDaemon(t)
	settings := d.GetAppSettings()
	settings.CodexBin = "/usr/local/bin/codex"

	updated, err := d.UpdateAppSettings(settings)
	if err != nil {
		t.Fatalf("UpdateAppSettings: %v", err)
	}
	if updated.CodexBin != "/usr/local/bin/codex" {
		t.Errorf("CodexBin = %q", updated.CodexBin)
	}
	if d.GetAppSettings().CodexBin != "/usr/local/bin/codex" {
		t.Error("settings not reflected by GetAppSettings")
	}
}
