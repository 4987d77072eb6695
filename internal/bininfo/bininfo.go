// Package bininfo validates that a configured codex binary path actually
// exists and is executable before a Workspace Session spawns it, so a
// misconfigured codex_bin surfaces as a clear daemonerr.External instead of
// an opaque exec.Command start failure. Grounded on the unix/non-unix split
// in steveyegge-beads' internal/lockfile (flock via golang.org/x/sys/unix on
// unix, a portable stdlib fallback elsewhere).
package bininfo

import "github.com/xlab/codex-monitor-daemon/internal/daemonerr"

// CheckExecutable reports whether path names a directly-runnable binary.
// It fails if the path is empty, does not exist, is a directory, or (on
// unix) lacks the executable bit for the daemon's own user. The path is
// checked as given; it is not resolved or made absolute.
func CheckExecutable(path string) error {
	if path == "" {
		return daemonerr.Externalf("no codex binary configured")
	}
	return checkExecutable(path)
}
