//go:build unix

package bininfo

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/xlab/codex-monitor-daemon/internal/daemonerr"
)

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return daemonerr.Externalf("codex binary %q not found: %v", path, err)
	}
	if info.IsDir() {
		return daemonerr.Externalf("codex binary %q is a directory", path)
	}
	if err := unix.Access(path, unix.X_OK); err != nil {
		return daemonerr.Externalf("codex binary %q is not executable: %v", path, err)
	}
	return nil
}
