// Package daemonstate is the Daemon State: the in-memory catalog of
// workspace entries plus the live sessions map, and every operation a
// client can invoke against them. It is grounded on the teacher's
// agentsessions.Manager (map-of-id-to-live-thing guarded by its own mutex,
// plan-under-lock / release-for-external-work / reacquire-and-persist) and
// on the original daemon's DaemonState methods, whose exact error strings
// and persistence-ordering rules it reproduces.
package daemonstate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/xlab/codex-monitor-daemon/internal/catalog"
	"github.com/xlab/codex-monitor-daemon/internal/daemonerr"
	"github.com/xlab/codex-monitor-daemon/internal/eventbus"
	"github.com/xlab/codex-monitor-daemon/internal/gitdriver"
	"github.com/xlab/codex-monitor-daemon/internal/session"
	"github.com/xlab/codex-monitor-daemon/internal/workspacehome"
	"github.com/xlab/codex-monitor-daemon/internal/worktreename"
)

// WorkspaceInfo is the response shape for every workspace-returning RPC
// method: an Entry enriched with its current connected status.
type WorkspaceInfo struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	Path     string               `json:"path"`
	Connected bool                `json:"connected"`
	CodexBin string               `json:"codex_bin,omitempty"`
	Kind     catalog.Kind         `json:"kind"`
	ParentID string               `json:"parentId,omitempty"`
	Worktree *catalog.WorktreeInfo `json:"worktree,omitempty"`
	Settings catalog.Settings     `json:"settings"`
}

func infoFromEntry(e *catalog.Entry, connected bool) WorkspaceInfo {
	return WorkspaceInfo{
		ID:        e.ID,
		Name:      e.Name,
		Path:      e.Path,
		Connected: connected,
		CodexBin:  e.CodexBin,
		Kind:      e.Kind,
		ParentID:  e.ParentID,
		Worktree:  e.Worktree,
		Settings:  e.Settings,
	}
}

// Daemon owns the catalog and the sessions map. Lock ordering, when more
// than one is held, is always workspaces -> sessions -> settings.
type Daemon struct {
	dataDir string
	store   *catalog.Store
	git     gitdriver.Driver
	bus     *eventbus.Bus

	workspaces sessionSafeMap
	sessions   sessionMap
	settings   settingsBox

	// persistMu serialises every write through store, which has no lock
	// of its own.
	persistMu sync.Mutex
}

// Load reads the persisted catalog and settings and constructs a Daemon.
func Load(dataDir string, git gitdriver.Driver, bus *eventbus.Bus) (*Daemon, error) {
	store := catalog.New(dataDir)
	if err := store.EnsureDataDir(); err != nil {
		return nil, err
	}
	entries, err := store.LoadWorkspaces()
	if err != nil {
		return nil, err
	}
	settings, err := store.LoadSettings()
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		dataDir: dataDir,
		store:   store,
		git:     git,
		bus:     bus,
	}
	d.workspaces.init()
	d.sessions.init()
	for _, e := range entries {
		d.workspaces.put(e)
	}
	d.settings.set(settings)
	return d, nil
}

// DataDir returns the data directory backing this daemon's storage.
func (d *Daemon) DataDir() string { return d.dataDir }

// KillSession removes and kills a workspace's live session, if any.
func (d *Daemon) KillSession(workspaceID string) {
	s := d.sessions.remove(workspaceID)
	if s == nil {
		return
	}
	s.Kill()
}

// ListWorkspaces returns every catalog entry enriched with live connection
// status, sorted by settings.sort_order (nil sorts last) then name.
func (d *Daemon) ListWorkspaces() []WorkspaceInfo {
	entries := d.workspaces.values()
	result := make([]WorkspaceInfo, 0, len(entries))
	for _, e := range entries {
		result = append(result, infoFromEntry(e, d.sessions.has(e.ID)))
	}
	sortWorkspaceInfos(result)
	return result
}

func sortWorkspaceInfos(list []WorkspaceInfo) {
	sort.SliceStable(list, func(i, j int) bool {
		oi, oj := list[i].Settings.SortOrder, list[j].Settings.SortOrder
		switch {
		case oi == nil && oj == nil:
			return list[i].Name < list[j].Name
		case oi == nil:
			return false
		case oj == nil:
			return true
		case *oi != *oj:
			return *oi < *oj
		default:
			return list[i].Name < list[j].Name
		}
	})
}

// IsWorkspacePathDir reports whether path is a directory on disk.
func (d *Daemon) IsWorkspacePathDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func (d *Daemon) defaultBin() string {
	return d.settings.get().CodexBin
}

func (d *Daemon) persistWorkspaces() error {
	d.persistMu.Lock()
	defer d.persistMu.Unlock()
	return d.store.SaveWorkspaces(d.workspaces.values())
}

// AddWorkspace creates a new main-kind workspace at path and spawns its
// session. The entry is persisted only once the spawn succeeds.
func (d *Daemon) AddWorkspace(ctx context.Context, path string, codexBin *string, clientVersion string) (WorkspaceInfo, error) {
	if !d.IsWorkspacePathDir(path) {
		return WorkspaceInfo{}, daemonerr.BadRequestf("Workspace path must be a folder.")
	}

	name := filepath.Base(path)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "Workspace"
	}

	entry := &catalog.Entry{
		ID:       uuid.NewString(),
		Name:     name,
		Path:     path,
		Kind:     catalog.KindMain,
		Settings: catalog.Settings{},
	}
	if codexBin != nil {
		entry.CodexBin = *codexBin
	}

	codexHome := workspacehome.Resolve(d.dataDir, entry, "")
	sess, err := session.Spawn(session.SpawnConfig{
		Entry:         entry,
		DefaultBin:    d.defaultBin(),
		ClientVersion: clientVersion,
		WorkspaceHome: codexHome,
		Bus:           d.bus,
	})
	if err != nil {
		return WorkspaceInfo{}, err
	}

	d.workspaces.put(entry)
	if err := d.persistWorkspaces(); err != nil {
		d.workspaces.remove(entry.ID)
		sess.Kill()
		return WorkspaceInfo{}, err
	}
	d.sessions.put(entry.ID, sess)

	return infoFromEntry(entry, true), nil
}

// AddWorktree creates a worktree of an existing main workspace for branch,
// materialising it via `git worktree add` against the best available
// starting point (local branch, remote-tracking branch, or fresh).
func (d *Daemon) AddWorktree(ctx context.Context, parentID, branch, clientVersion string) (WorkspaceInfo, error) {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		return WorkspaceInfo{}, daemonerr.BadRequestf("Branch name is required.")
	}

	parent := d.workspaces.get(parentID)
	if parent == nil {
		return WorkspaceInfo{}, daemonerr.StateConflictf("parent workspace not found")
	}
	if parent.IsWorktree() {
		return WorkspaceInfo{}, daemonerr.StateConflictf("Cannot create a worktree from another worktree.")
	}

	worktreeRoot := d.store.WorktreesRoot(parent.ID)
	if err := os.MkdirAll(worktreeRoot, 0o755); err != nil {
		return WorkspaceInfo{}, daemonerr.Externalf("Failed to create worktree directory: %v", err)
	}

	safeName := worktreename.Sanitize(branch)
	worktreePath, err := worktreename.UniquePath(worktreeRoot, safeName)
	if err != nil {
		return WorkspaceInfo{}, err
	}

	repoPath := parent.Path
	branchExists, err := d.git.BranchExists(ctx, repoPath, branch)
	if err != nil {
		return WorkspaceInfo{}, err
	}
	switch {
	case branchExists:
		if err := d.git.AddWorktree(ctx, repoPath, worktreePath, branch, false, ""); err != nil {
			return WorkspaceInfo{}, err
		}
	default:
		remotes, err := d.git.ListRemotes(ctx, repoPath)
		if err != nil {
			return WorkspaceInfo{}, err
		}
		remoteRef, found, err := d.git.FindRemoteTrackingBranch(ctx, repoPath, remotes, branch)
		if err != nil {
			return WorkspaceInfo{}, err
		}
		if found {
			if err := d.git.AddWorktree(ctx, repoPath, worktreePath, branch, true, remoteRef); err != nil {
				return WorkspaceInfo{}, err
			}
		} else if err := d.git.AddWorktree(ctx, repoPath, worktreePath, branch, true, ""); err != nil {
			return WorkspaceInfo{}, err
		}
	}

	entry := &catalog.Entry{
		ID:       uuid.NewString(),
		Name:     branch,
		Path:     worktreePath,
		CodexBin: parent.CodexBin,
		Kind:     catalog.KindWorktree,
		ParentID: parent.ID,
		Worktree: &catalog.WorktreeInfo{Branch: branch},
		Settings: catalog.Settings{},
	}

	codexHome := workspacehome.Resolve(d.dataDir, entry, parent.Path)
	sess, err := session.Spawn(session.SpawnConfig{
		Entry:         entry,
		DefaultBin:    d.defaultBin(),
		ClientVersion: clientVersion,
		WorkspaceHome: codexHome,
		Bus:           d.bus,
	})
	if err != nil {
		// Orphan worktree on spawn failure, matching the original's behavior:
		// the git worktree stays on disk, uncataloged, and is not cleaned
		// up by the daemon.
		return WorkspaceInfo{}, err
	}

	d.workspaces.put(entry)
	if err := d.persistWorkspaces(); err != nil {
		d.workspaces.remove(entry.ID)
		sess.Kill()
		return WorkspaceInfo{}, err
	}
	d.sessions.put(entry.ID, sess)

	return infoFromEntry(entry, true), nil
}

// RemoveWorkspace tears down a main workspace and every worktree derived
// from it. A worktree whose `git worktree remove` fails (for a reason other
// than the worktree already being gone) is left cataloged and reported as a
// failure; the parent is only removed if every child succeeded.
func (d *Daemon) RemoveWorkspace(ctx context.Context, id string) error {
	entry := d.workspaces.get(id)
	if entry == nil {
		return daemonerr.StateConflictf("workspace not found")
	}
	if entry.IsWorktree() {
		return daemonerr.StateConflictf("Use remove_worktree for worktree agents.")
	}
	children := d.workspaces.childrenOf(id)

	repoPath := entry.Path
	type failure struct {
		id  string
		err string
	}
	var failures []failure
	var removedChildIDs []string

	for _, child := range children {
		if pathExists(child.Path) {
			err := d.git.RemoveWorktree(ctx, repoPath, child.Path, true)
			if err != nil {
				if isMissingWorktreeError(err) {
					if fsErr := os.RemoveAll(child.Path); fsErr != nil {
						failures = append(failures, failure{child.ID, fmt.Sprintf("Failed to remove worktree folder: %v", fsErr)})
						continue
					}
				} else {
					failures = append(failures, failure{child.ID, err.Error()})
					continue
				}
			}
		}
		d.KillSession(child.ID)
		removedChildIDs = append(removedChildIDs, child.ID)
	}

	_ = d.git.PruneWorktrees(ctx, repoPath)

	idsToRemove := removedChildIDs
	if len(failures) == 0 {
		d.KillSession(id)
		idsToRemove = append(idsToRemove, id)
	}

	if len(idsToRemove) > 0 {
		for _, rid := range idsToRemove {
			d.workspaces.remove(rid)
		}
		if err := d.persistWorkspaces(); err != nil {
			return err
		}
	}

	if len(failures) == 0 {
		return nil
	}

	var msg strings.Builder
	msg.WriteString("Failed to remove one or more worktrees; parent workspace was not removed.")
	for _, f := range failures {
		fmt.Fprintf(&msg, "\n- %s: %s", f.id, f.err)
	}
	return &daemonerr.Partial{Message: msg.String()}
}

// RemoveWorktree tears down a single worktree workspace and its catalog entry.
func (d *Daemon) RemoveWorktree(ctx context.Context, id string) error {
	entry := d.workspaces.get(id)
	if entry == nil {
		return daemonerr.StateConflictf("workspace not found")
	}
	if !entry.IsWorktree() {
		return daemonerr.StateConflictf("Not a worktree workspace.")
	}
	if entry.ParentID == "" {
		return daemonerr.StateConflictf("worktree parent not found")
	}
	parent := d.workspaces.get(entry.ParentID)
	if parent == nil {
		return daemonerr.StateConflictf("worktree parent not found")
	}

	if pathExists(entry.Path) {
		err := d.git.RemoveWorktree(ctx, parent.Path, entry.Path, true)
		if err != nil {
			if isMissingWorktreeError(err) {
				if pathExists(entry.Path) {
					if fsErr := os.RemoveAll(entry.Path); fsErr != nil {
						return daemonerr.Externalf("Failed to remove worktree folder: %v", fsErr)
					}
				}
			} else {
				return err
			}
		}
	}
	_ = d.git.PruneWorktrees(ctx, parent.Path)

	d.KillSession(entry.ID)
	d.workspaces.remove(entry.ID)
	return d.persistWorkspaces()
}

// RenameWorktree renames a worktree's branch (and, if its directory name
// depended on the old branch, its directory), best-effort compensating the
// branch rename if the directory move fails, and respawning its session if
// one was connected.
func (d *Daemon) RenameWorktree(ctx context.Context, id, branch, clientVersion string) (WorkspaceInfo, error) {
	trimmed := strings.TrimSpace(branch)
	if trimmed == "" {
		return WorkspaceInfo{}, daemonerr.BadRequestf("Branch name is required.")
	}

	entry := d.workspaces.get(id)
	if entry == nil {
		return WorkspaceInfo{}, daemonerr.StateConflictf("workspace not found")
	}
	if !entry.IsWorktree() {
		return WorkspaceInfo{}, daemonerr.StateConflictf("Not a worktree workspace.")
	}
	if entry.ParentID == "" {
		return WorkspaceInfo{}, daemonerr.StateConflictf("worktree parent not found")
	}
	parent := d.workspaces.get(entry.ParentID)
	if parent == nil {
		return WorkspaceInfo{}, daemonerr.StateConflictf("worktree parent not found")
	}

	if entry.Worktree == nil {
		return WorkspaceInfo{}, daemonerr.StateConflictf("worktree metadata missing")
	}
	oldBranch := entry.Worktree.Branch
	if oldBranch == trimmed {
		return WorkspaceInfo{}, daemonerr.StateConflictf("Branch name is unchanged.")
	}

	parentRoot := parent.Path
	finalBranch, err := d.uniqueBranchName(ctx, parentRoot, trimmed)
	if err != nil {
		return WorkspaceInfo{}, err
	}
	if finalBranch == oldBranch {
		return WorkspaceInfo{}, daemonerr.StateConflictf("Branch name is unchanged.")
	}

	if err := d.git.RenameBranch(ctx, parentRoot, oldBranch, finalBranch); err != nil {
		return WorkspaceInfo{}, err
	}

	worktreeRoot := d.store.WorktreesRoot(parent.ID)
	if err := os.MkdirAll(worktreeRoot, 0o755); err != nil {
		return WorkspaceInfo{}, daemonerr.Externalf("Failed to create worktree directory: %v", err)
	}

	safeName := worktreename.Sanitize(finalBranch)
	currentPath := entry.Path
	nextPath, err := worktreename.UniquePathForRename(worktreeRoot, safeName, currentPath)
	if err != nil {
		return WorkspaceInfo{}, err
	}

	if nextPath != entry.Path {
		if err := d.git.MoveWorktree(ctx, parentRoot, entry.Path, nextPath); err != nil {
			_ = d.git.RenameBranch(ctx, parentRoot, finalBranch, oldBranch)
			return WorkspaceInfo{}, err
		}
	}

	entry.Name = finalBranch
	entry.Path = nextPath
	entry.Worktree = &catalog.WorktreeInfo{Branch: finalBranch}
	d.workspaces.put(entry)
	if err := d.persistWorkspaces(); err != nil {
		return WorkspaceInfo{}, err
	}

	wasConnected := d.sessions.has(entry.ID)
	if wasConnected {
		d.KillSession(entry.ID)
		codexHome := workspacehome.Resolve(d.dataDir, entry, parent.Path)
		sess, err := session.Spawn(session.SpawnConfig{
			Entry:         entry,
			DefaultBin:    d.defaultBin(),
			ClientVersion: clientVersion,
			WorkspaceHome: codexHome,
			Bus:           d.bus,
		})
		if err != nil {
			// Respawn failure is logged, not propagated: the rename itself
			// succeeded, so the caller should see connected=false rather
			// than an error about the rename.
			slog.Warn("rename_worktree: respawn failed after rename", "workspace_id", entry.ID, "error", err)
		} else {
			d.sessions.put(entry.ID, sess)
		}
	}

	return infoFromEntry(entry, d.sessions.has(entry.ID)), nil
}

// uniqueBranchName probes desired, then desired-2..desired-999, for the
// first name that doesn't already exist as a local branch.
func (d *Daemon) uniqueBranchName(ctx context.Context, repoPath, desired string) (string, error) {
	exists, err := d.git.BranchExists(ctx, repoPath, desired)
	if err != nil {
		return "", err
	}
	if !exists {
		return desired, nil
	}
	for i := 2; i < 1000; i++ {
		candidate := fmt.Sprintf("%s-%d", desired, i)
		exists, err := d.git.BranchExists(ctx, repoPath, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", daemonerr.Externalf("Unable to find an available branch name.")
}

// RenameWorktreeUpstream pushes an already-locally-renamed branch to its
// remote under the new name, deletes the old remote branch if it existed,
// and points the local branch's upstream at the new remote ref.
func (d *Daemon) RenameWorktreeUpstream(ctx context.Context, id, oldBranch, newBranch string) error {
	oldBranch = strings.TrimSpace(oldBranch)
	newBranch = strings.TrimSpace(newBranch)
	if oldBranch == "" || newBranch == "" {
		return daemonerr.BadRequestf("Branch name is required.")
	}
	if oldBranch == newBranch {
		return daemonerr.StateConflictf("Branch name is unchanged.")
	}

	entry := d.workspaces.get(id)
	if entry == nil {
		return daemonerr.StateConflictf("workspace not found")
	}
	if !entry.IsWorktree() {
		return daemonerr.StateConflictf("Not a worktree workspace.")
	}
	if entry.ParentID == "" {
		return daemonerr.StateConflictf("worktree parent not found")
	}
	parent := d.workspaces.get(entry.ParentID)
	if parent == nil {
		return daemonerr.StateConflictf("worktree parent not found")
	}

	parentRoot := parent.Path
	localExists, err := d.git.BranchExists(ctx, parentRoot, newBranch)
	if err != nil {
		return err
	}
	if !localExists {
		return daemonerr.StateConflictf("Local branch not found.")
	}

	remotes, err := d.git.ListRemotes(ctx, parentRoot)
	if err != nil {
		return err
	}
	remoteForOld, foundForOld, err := d.git.FindRemoteForBranch(ctx, parentRoot, remotes, oldBranch)
	if err != nil {
		return err
	}

	remoteName := remoteForOld
	if !foundForOld {
		originExists, err := d.git.RemoteExists(ctx, parentRoot, "origin")
		if err != nil {
			return err
		}
		if !originExists {
			return daemonerr.StateConflictf("No git remote configured for this worktree.")
		}
		remoteName = "origin"
	}

	remoteHasNew, err := d.git.RemoteBranchExistsLive(ctx, parentRoot, remoteName, newBranch)
	if err != nil {
		return err
	}
	if remoteHasNew {
		return daemonerr.StateConflictf("Remote branch already exists.")
	}

	if foundForOld {
		if err := d.git.Push(ctx, parentRoot, remoteName, newBranch+":"+newBranch); err != nil {
			return err
		}
		if err := d.git.Push(ctx, parentRoot, remoteName, ":"+oldBranch); err != nil {
			return err
		}
	} else if err := d.git.Push(ctx, parentRoot, remoteName, newBranch); err != nil {
		return err
	}

	return d.git.SetUpstream(ctx, parentRoot, newBranch, remoteName+"/"+newBranch)
}

// UpdateWorkspaceSettings replaces a workspace's settings blob.
func (d *Daemon) UpdateWorkspaceSettings(id string, settings catalog.Settings) (WorkspaceInfo, error) {
	entry := d.workspaces.get(id)
	if entry == nil {
		return WorkspaceInfo{}, daemonerr.StateConflictf("workspace not found")
	}
	entry.Settings = settings
	d.workspaces.put(entry)
	if err := d.persistWorkspaces(); err != nil {
		return WorkspaceInfo{}, err
	}
	return infoFromEntry(entry, d.sessions.has(id)), nil
}

// UpdateWorkspaceCodexBin overrides the per-workspace codex binary path.
func (d *Daemon) UpdateWorkspaceCodexBin(id string, codexBin *string) (WorkspaceInfo, error) {
	entry := d.workspaces.get(id)
	if entry == nil {
		return WorkspaceInfo{}, daemonerr.StateConflictf("workspace not found")
	}
	if codexBin != nil {
		entry.CodexBin = *codexBin
	} else {
		entry.CodexBin = ""
	}
	d.workspaces.put(entry)
	if err := d.persistWorkspaces(); err != nil {
		return WorkspaceInfo{}, err
	}
	return infoFromEntry(entry, d.sessions.has(id)), nil
}

// ConnectWorkspace spawns a session for id if one isn't already running.
func (d *Daemon) ConnectWorkspace(clientVersion, id string) error {
	if d.sessions.has(id) {
		return nil
	}
	entry := d.workspaces.get(id)
	if entry == nil {
		return daemonerr.StateConflictf("workspace not found")
	}

	var parentPath string
	if entry.IsWorktree() {
		if parent := d.workspaces.get(entry.ParentID); parent != nil {
			parentPath = parent.Path
		}
	}
	codexHome := workspacehome.Resolve(d.dataDir, entry, parentPath)
	sess, err := session.Spawn(session.SpawnConfig{
		Entry:         entry,
		DefaultBin:    d.defaultBin(),
		ClientVersion: clientVersion,
		WorkspaceHome: codexHome,
		Bus:           d.bus,
	})
	if err != nil {
		return err
	}
	d.sessions.put(id, sess)
	return nil
}

// GetAppSettings returns the current daemon-wide settings. The experimental
// flags are re-read from the external config file on every call (per spec,
// they're live-mergeable, not a startup-time snapshot), so this always
// re-invokes the store rather than trusting the in-memory cache.
func (d *Daemon) GetAppSettings() catalog.AppSettings {
	settings, err := d.store.LoadSettings()
	if err != nil {
		slog.Warn("failed to reload settings, serving cached copy", "error", err)
		return d.settings.get()
	}
	d.settings.set(settings)
	return settings
}

// UpdateAppSettings persists new settings and echoes them back.
func (d *Daemon) UpdateAppSettings(settings catalog.AppSettings) (catalog.AppSettings, error) {
	d.persistMu.Lock()
	err := d.store.SaveSettings(settings)
	d.persistMu.Unlock()
	if err != nil {
		return catalog.AppSettings{}, err
	}
	d.settings.set(settings)
	return settings, nil
}

// GetCodexConfigPath resolves config.toml under the global (non-workspace)
// CODEX_HOME: $CODEX_HOME if set, else ~/.codex.
func (d *Daemon) GetCodexConfigPath() (string, error) {
	if home := os.Getenv("CODEX_HOME"); home != "" {
		return filepath.Join(home, "config.toml"), nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", daemonerr.Externalf("Unable to resolve CODEX_HOME")
	}
	return filepath.Join(userHome, ".codex", "config.toml"), nil
}

// GetSession returns the live session for workspaceID, used by every
// session-passthrough RPC method.
func (d *Daemon) GetSession(workspaceID string) (*session.Session, error) {
	s := d.sessions.get(workspaceID)
	if s == nil {
		return nil, daemonerr.StateConflictf("workspace not connected")
	}
	return s, nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isMissingWorktreeError(err error) bool {
	return strings.Contains(err.Error(), "is not a working tree")
}
