package daemonstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/xlab/codex-monitor-daemon/internal/daemonerr"
	"github.com/xlab/codex-monitor-daemon/internal/workspacehome"
)

// RememberApprovalRule appends a command-prefix approval rule to the
// workspace's rules file, trimming and filtering command arguments.
func (d *Daemon) RememberApprovalRule(workspaceID string, command []string) (rulesPath string, err error) {
	var trimmed []string
	for _, c := range command {
		c = strings.TrimSpace(c)
		if c != "" {
			trimmed = append(trimmed, c)
		}
	}
	if len(trimmed) == 0 {
		return "", daemonerr.BadRequestf("empty command")
	}

	entry := d.workspaces.get(workspaceID)
	if entry == nil {
		return "", daemonerr.StateConflictf("workspace not found")
	}
	var parentPath string
	if entry.ParentID != "" {
		if parent := d.workspaces.get(entry.ParentID); parent != nil {
			parentPath = parent.Path
		}
	}

	codexHome := workspacehome.Resolve(d.dataDir, entry, parentPath)
	path := defaultRulesPath(codexHome)
	if err := appendPrefixRule(path, trimmed); err != nil {
		return "", err
	}
	return path, nil
}

func defaultRulesPath(codexHome string) string {
	return filepath.Join(codexHome, "rules.json")
}

// appendPrefixRule appends a command prefix to the rules file's JSON array,
// creating the file and its directory if absent. The whole array is
// rewritten atomically so a crash mid-write can't corrupt it.
func appendPrefixRule(path string, command []string) error {
	var rules [][]string
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// start with an empty rule set
	case err != nil:
		return daemonerr.Externalf("Failed to read rules file: %v", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &rules); err != nil {
			return daemonerr.Externalf("Failed to parse rules file: %v", err)
		}
	}

	for _, existing := range rules {
		if equalStringSlices(existing, command) {
			return nil
		}
	}
	rules = append(rules, command)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return daemonerr.Externalf("Failed to update rules file: %v", err)
	}
	encoded, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return daemonerr.Externalf("Failed to encode rules file: %v", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-rules-*")
	if err != nil {
		return daemonerr.Externalf("Failed to update rules file: %v", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		return daemonerr.Externalf("Failed to update rules file: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return daemonerr.Externalf("Failed to update rules file: %v", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return daemonerr.Externalf("Failed to update rules file: %v", err)
	}
	return nil
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
