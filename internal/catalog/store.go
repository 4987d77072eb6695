package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Store is the durable, file-backed catalog of workspace entries and daemon
// settings. It holds no lock of its own — callers (internal/daemonstate) are
// responsible for serialising access, matching the plan-under-lock /
// persist-under-lock contract described for Daemon State.
type Store struct {
	dataDir          string
	workspacesPath   string
	settingsPath     string
	externalCfgPath  string
}

// externalConfig is the shape of the separate experimental-flags file that
// AppSettings.* experimental fields are mirrored into/from.
type externalConfig struct {
	Collab             bool `json:"collab"`
	CollaborationModes bool `json:"collaborationModes"`
	Steer              bool `json:"steer"`
	UnifiedExec        bool `json:"unifiedExec"`
}

// New creates a Store rooted at dataDir. It does not touch the filesystem.
func New(dataDir string) *Store {
	return &Store{
		dataDir:         dataDir,
		workspacesPath:  filepath.Join(dataDir, "workspaces.json"),
		settingsPath:    filepath.Join(dataDir, "settings.json"),
		externalCfgPath: filepath.Join(dataDir, "config.toml.json"),
	}
}

// DataDir returns the root data directory.
func (s *Store) DataDir() string { return s.dataDir }

// WorktreesRoot returns the root directory under which worktrees for a given
// parent workspace id are materialised: <data_dir>/worktrees/<parent_id>/.
func (s *Store) WorktreesRoot(parentID string) string {
	return filepath.Join(s.dataDir, "worktrees", parentID)
}

// EnsureDataDir creates the data directory if absent. The worktrees
// subdirectory is not created here.
func (s *Store) EnsureDataDir() error {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// LoadWorkspaces reads workspaces.json. A missing file is treated as empty.
func (s *Store) LoadWorkspaces() ([]*Entry, error) {
	data, err := os.ReadFile(s.workspacesPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read workspaces file: %w", err)
	}
	var entries []*Entry
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse workspaces file: %w", err)
	}
	return entries, nil
}

// SaveWorkspaces atomically rewrites workspaces.json from a whole-file
// snapshot: write to a temp file in the same directory, then rename over the
// target. Readers never observe a partial write.
func (s *Store) SaveWorkspaces(entries []*Entry) error {
	if entries == nil {
		entries = []*Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode workspaces: %w", err)
	}
	return s.atomicWrite(s.workspacesPath, data)
}

// LoadSettings reads settings.json, merging the external config file on top
// for the experimental flags (reads merge external over daemon-local).
func (s *Store) LoadSettings() (AppSettings, error) {
	var settings AppSettings
	data, err := os.ReadFile(s.settingsPath)
	switch {
	case os.IsNotExist(err):
		// leave zero value
	case err != nil:
		return settings, fmt.Errorf("failed to read settings file: %w", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &settings); err != nil {
			return settings, fmt.Errorf("failed to parse settings file: %w", err)
		}
	}

	external, err := s.loadExternalConfig()
	if err != nil {
		return settings, err
	}
	if external != nil {
		settings.ExperimentalCollabEnabled = external.Collab
		settings.ExperimentalCollaborationModes = external.CollaborationModes
		settings.ExperimentalSteerEnabled = external.Steer
		settings.ExperimentalUnifiedExecEnabled = external.UnifiedExec
	}
	return settings, nil
}

// SaveSettings writes every experimental flag to the external config file
// (best-effort) and then atomically persists the daemon settings file.
func (s *Store) SaveSettings(settings AppSettings) error {
	_ = s.saveExternalConfig(externalConfig{
		Collab:             settings.ExperimentalCollabEnabled,
		CollaborationModes: settings.ExperimentalCollaborationModes,
		Steer:              settings.ExperimentalSteerEnabled,
		UnifiedExec:        settings.ExperimentalUnifiedExecEnabled,
	})

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return s.atomicWrite(s.settingsPath, data)
}

func (s *Store) loadExternalConfig() (*externalConfig, error) {
	data, err := os.ReadFile(s.externalCfgPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read external config: %w", err)
	}
	var cfg externalConfig
	if len(data) == 0 {
		return &cfg, nil
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse external config: %w", err)
	}
	return &cfg, nil
}

func (s *Store) saveExternalConfig(cfg externalConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode external config: %w", err)
	}
	return s.atomicWrite(s.externalCfgPath, data)
}

func (s *Store) atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename temp file into place: %w", err)
	}
	return nil
}

// SortWorkspaces sorts entries by settings.sort_order ascending (absent
// sorts last), tiebreak by name ascending. Sorts in place and also returns
// the slice for convenience.
func SortWorkspaces(entries []*Entry) []*Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		oi, oj := entries[i].Settings.SortOrder, entries[j].Settings.SortOrder
		switch {
		case oi == nil && oj == nil:
			return entries[i].Name < entries[j].Name
		case oi == nil:
			return false
		case oj == nil:
			return true
		case *oi != *oj:
			return *oi < *oj
		default:
			return entries[i].Name < entries[j].Name
		}
	})
	return entries
}
