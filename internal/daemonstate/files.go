package daemonstate

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xlab/codex-monitor-daemon/internal/daemonerr"
)

const maxWorkspaceFileBytes = 400_000

var skippedDirNames = map[string]bool{
	".git":             true,
	"node_modules":     true,
	"dist":             true,
	"target":           true,
	"release-artifacts": true,
}

// ListWorkspaceFiles walks workspaceID's root and returns every regular
// file's path relative to the root, normalised to forward slashes, sorted,
// capped at maxFiles. Directories matching skippedDirNames are pruned at any
// depth below the root itself.
func (d *Daemon) ListWorkspaceFiles(workspaceID string) ([]string, error) {
	entry := d.workspaces.get(workspaceID)
	if entry == nil {
		return nil, daemonerr.StateConflictf("workspace not found")
	}
	return listWorkspaceFilesInner(entry.Path, 20000), nil
}

func listWorkspaceFilesInner(root string, maxFiles int) []string {
	var results []string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == root {
			return nil
		}
		if d.IsDir() {
			if skippedDirNames[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		normalized := strings.ReplaceAll(rel, "\\", "/")
		if normalized != "" {
			results = append(results, normalized)
		}
		if len(results) >= maxFiles {
			return filepath.SkipAll
		}
		return nil
	})
	sort.Strings(results)
	return results
}

// WorkspaceFileResponse is the result of read_workspace_file.
type WorkspaceFileResponse struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

// ReadWorkspaceFile reads relativePath under workspaceID's root, rejecting
// any path that escapes the (canonicalised) root, capping the read at
// maxWorkspaceFileBytes and reporting truncation, and requiring the result
// to be valid UTF-8.
func (d *Daemon) ReadWorkspaceFile(workspaceID, relativePath string) (WorkspaceFileResponse, error) {
	entry := d.workspaces.get(workspaceID)
	if entry == nil {
		return WorkspaceFileResponse{}, daemonerr.StateConflictf("workspace not found")
	}
	return readWorkspaceFileInner(entry.Path, relativePath)
}

func readWorkspaceFileInner(root, relativePath string) (WorkspaceFileResponse, error) {
	canonicalRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return WorkspaceFileResponse{}, daemonerr.Externalf("Failed to resolve workspace root: %v", err)
	}
	candidate := filepath.Join(canonicalRoot, relativePath)
	canonicalPath, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return WorkspaceFileResponse{}, daemonerr.Externalf("Failed to open file: %v", err)
	}
	if !isWithinRoot(canonicalRoot, canonicalPath) {
		return WorkspaceFileResponse{}, &daemonerr.SandboxViolation{Message: "Invalid file path"}
	}

	info, err := os.Stat(canonicalPath)
	if err != nil {
		return WorkspaceFileResponse{}, daemonerr.Externalf("Failed to read file metadata: %v", err)
	}
	if !info.Mode().IsRegular() {
		return WorkspaceFileResponse{}, daemonerr.BadRequestf("Path is not a file")
	}

	f, err := os.Open(canonicalPath)
	if err != nil {
		return WorkspaceFileResponse{}, daemonerr.Externalf("Failed to open file: %v", err)
	}
	defer f.Close()

	buf := make([]byte, maxWorkspaceFileBytes+1)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return WorkspaceFileResponse{}, daemonerr.Externalf("Failed to read file: %v", err)
	}
	buf = buf[:n]

	truncated := len(buf) > maxWorkspaceFileBytes
	if truncated {
		buf = buf[:maxWorkspaceFileBytes]
	}

	if !utf8.Valid(buf) {
		return WorkspaceFileResponse{}, daemonerr.BadRequestf("File is not valid UTF-8")
	}

	return WorkspaceFileResponse{Content: string(buf), Truncated: truncated}, nil
}

func isWithinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "..")
}
