// Package gitdriver is a thin, testable façade over the external git CLI.
// It is grounded on the original Rust daemon's run_git_command and the
// teacher's execInContainer (internal/server/git.go): both shell out, both
// coerce output to UTF-8 lossily, both report whichever of
// stdout/stderr is non-empty as the error detail.
package gitdriver

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/xlab/codex-monitor-daemon/internal/daemonerr"
)

// Driver is the interface Daemon State depends on, so tests can substitute
// a fake implementation.
type Driver interface {
	Run(ctx context.Context, dir string, args ...string) (stdout, stderr string, err error)
	BranchExists(ctx context.Context, dir, branch string) (bool, error)
	RemoteExists(ctx context.Context, dir, remote string) (bool, error)
	RemoteBranchExists(ctx context.Context, dir, remote, branch string) (bool, error)
	RemoteBranchExistsLive(ctx context.Context, dir, remote, branch string) (bool, error)
	ListRemotes(ctx context.Context, dir string) ([]string, error)
	FindRemoteForBranch(ctx context.Context, dir string, remotes []string, branch string) (string, bool, error)
	FindRemoteTrackingBranch(ctx context.Context, dir string, remotes []string, branch string) (string, bool, error)
	AddWorktree(ctx context.Context, dir, path, branch string, createBranch bool, startPoint string) error
	RemoveWorktree(ctx context.Context, dir, path string, force bool) error
	PruneWorktrees(ctx context.Context, dir string) error
	MoveWorktree(ctx context.Context, dir, oldPath, newPath string) error
	RenameBranch(ctx context.Context, dir, oldName, newName string) error
	SetUpstream(ctx context.Context, dir, branch, upstream string) error
	Push(ctx context.Context, dir string, args ...string) error
}

// CLI shells out to the real git binary.
type CLI struct {
	// Binary is the git executable name/path; defaults to "git".
	Binary string
}

// New returns a CLI driver.
func New() *CLI {
	return &CLI{Binary: "git"}
}

func (c *CLI) binary() string {
	if c.Binary == "" {
		return "git"
	}
	return c.Binary
}

// Run executes git with args in dir and returns UTF-8-coerced stdout/stderr.
func (c *CLI) Run(ctx context.Context, dir string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, c.binary(), args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return toValidUTF8(stdout.String()), toValidUTF8(stderr.String()), err
}

func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// gitError builds the External error per the taxonomy: git stderr (or
// stdout if stderr is empty, else "Git command failed."), surfaced verbatim.
func gitError(stdout, stderr string) error {
	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = strings.TrimSpace(stdout)
	}
	if detail == "" {
		detail = "Git command failed."
	}
	return &daemonerr.External{Message: detail}
}

func (c *CLI) run(ctx context.Context, dir string, args ...string) error {
	stdout, stderr, err := c.Run(ctx, dir, args...)
	if err != nil {
		return gitError(stdout, stderr)
	}
	return nil
}

// BranchExists reports whether a local branch exists (cached, no network).
func (c *CLI) BranchExists(ctx context.Context, dir, branch string) (bool, error) {
	_, _, err := c.Run(ctx, dir, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err == nil {
		return true, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, nil
}

// RemoteExists reports whether a remote is configured, via `git remote
// get-url <remote>` (status only, matching the original's exact check).
func (c *CLI) RemoteExists(ctx context.Context, dir, remote string) (bool, error) {
	_, _, err := c.Run(ctx, dir, "remote", "get-url", remote)
	return err == nil, nil
}

// RemoteBranchExists is the cached check: a local ref refs/remotes/<remote>/<branch>.
func (c *CLI) RemoteBranchExists(ctx context.Context, dir, remote, branch string) (bool, error) {
	_, _, err := c.Run(ctx, dir, "show-ref", "--verify", "--quiet", fmt.Sprintf("refs/remotes/%s/%s", remote, branch))
	return err == nil, nil
}

// RemoteBranchExistsLive asks the remote directly via ls-remote --heads,
// using the fully-qualified ref so a partial name match can't false-positive.
func (c *CLI) RemoteBranchExistsLive(ctx context.Context, dir, remote, branch string) (bool, error) {
	stdout, stderr, err := c.Run(ctx, dir, "ls-remote", "--heads", remote, "refs/heads/"+branch)
	if err != nil {
		return false, gitError(stdout, stderr)
	}
	return strings.TrimSpace(stdout) != "", nil
}

// ListRemotes returns configured remotes in git's listing order.
func (c *CLI) ListRemotes(ctx context.Context, dir string) ([]string, error) {
	stdout, stderr, err := c.Run(ctx, dir, "remote")
	if err != nil {
		return nil, gitError(stdout, stderr)
	}
	var remotes []string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			remotes = append(remotes, line)
		}
	}
	return remotes, nil
}

// FindRemoteForBranch checks "origin" first (only if it exists and has the
// branch live), then every other configured remote, live. Returns the bare
// remote name.
func (c *CLI) FindRemoteForBranch(ctx context.Context, dir string, remotes []string, branch string) (string, bool, error) {
	originExists, err := c.RemoteExists(ctx, dir, "origin")
	if err != nil {
		return "", false, err
	}
	if originExists {
		ok, err := c.RemoteBranchExistsLive(ctx, dir, "origin", branch)
		if err != nil {
			return "", false, err
		}
		if ok {
			return "origin", true, nil
		}
	}
	for _, remote := range remotes {
		if remote == "origin" {
			continue
		}
		ok, err := c.RemoteBranchExistsLive(ctx, dir, remote, branch)
		if err != nil {
			return "", false, err
		}
		if ok {
			return remote, true, nil
		}
	}
	return "", false, nil
}

// FindRemoteTrackingBranch checks "origin" first (cached), then every other
// configured remote (cached). Returns the "<remote>/<branch>" start-point ref.
func (c *CLI) FindRemoteTrackingBranch(ctx context.Context, dir string, remotes []string, branch string) (string, bool, error) {
	ok, err := c.RemoteBranchExists(ctx, dir, "origin", branch)
	if err != nil {
		return "", false, err
	}
	if ok {
		return "origin/" + branch, true, nil
	}
	for _, remote := range remotes {
		if remote == "origin" {
			continue
		}
		ok, err := c.RemoteBranchExists(ctx, dir, remote, branch)
		if err != nil {
			return "", false, err
		}
		if ok {
			return remote + "/" + branch, true, nil
		}
	}
	return "", false, nil
}

// AddWorktree runs `git worktree add [-b branch] path [startPoint]`.
func (c *CLI) AddWorktree(ctx context.Context, dir, path, branch string, createBranch bool, startPoint string) error {
	args := []string{"worktree", "add"}
	if createBranch {
		args = append(args, "-b", branch, path)
		if startPoint != "" {
			args = append(args, startPoint)
		}
	} else {
		args = append(args, path, branch)
	}
	return c.run(ctx, dir, args...)
}

// RemoveWorktree runs `git worktree remove [--force] path`.
func (c *CLI) RemoveWorktree(ctx context.Context, dir, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	return c.run(ctx, dir, args...)
}

// PruneWorktrees runs `git worktree prune --expire now` (best-effort).
func (c *CLI) PruneWorktrees(ctx context.Context, dir string) error {
	return c.run(ctx, dir, "worktree", "prune", "--expire", "now")
}

// MoveWorktree runs `git worktree move oldPath newPath`.
func (c *CLI) MoveWorktree(ctx context.Context, dir, oldPath, newPath string) error {
	return c.run(ctx, dir, "worktree", "move", oldPath, newPath)
}

// RenameBranch runs `git branch -m oldName newName`.
func (c *CLI) RenameBranch(ctx context.Context, dir, oldName, newName string) error {
	return c.run(ctx, dir, "branch", "-m", oldName, newName)
}

// SetUpstream runs `git branch --set-upstream-to=upstream branch`.
func (c *CLI) SetUpstream(ctx context.Context, dir, branch, upstream string) error {
	return c.run(ctx, dir, "branch", fmt.Sprintf("--set-upstream-to=%s", upstream), branch)
}

// Push runs `git push <args...>`.
func (c *CLI) Push(ctx context.Context, dir string, args ...string) error {
	full := append([]string{"push"}, args...)
	return c.run(ctx, dir, full...)
}

var _ Driver = (*CLI)(nil)
