// Package workspacehome resolves the per-workspace home directory: a pure
// function of workspace metadata (and, for worktrees, the parent's path)
// that the child agent uses for its own state and that the approval-rule
// appender targets. The spec treats this resolver as an external
// collaborator with unspecified internals; this is a reasonable concrete
// implementation so the daemon has somewhere real to write.
package workspacehome

import (
	"path/filepath"

	"github.com/xlab/codex-monitor-daemon/internal/catalog"
)

// Resolve returns the home directory for entry. parentPath is the parent
// workspace's path when entry is a worktree (used so worktrees share their
// parent's persisted agent state), and is ignored otherwise.
func Resolve(dataDir string, entry *catalog.Entry, parentPath string) string {
	homeRoot := entry.Path
	if entry.IsWorktree() && parentPath != "" {
		homeRoot = parentPath
	}
	return filepath.Join(homeRoot, ".codex")
}
