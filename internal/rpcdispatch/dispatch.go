package rpcdispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xlab/codex-monitor-daemon/internal/catalog"
	"github.com/xlab/codex-monitor-daemon/internal/daemonstate"
)

// Dispatch routes method/params at an authenticated connection onto the
// corresponding Daemon State operation and returns the JSON-serialisable
// result (or an error whose message is the exact wire text to report).
func Dispatch(ctx context.Context, d *daemonstate.Daemon, method string, rawParams json.RawMessage, clientVersion string) (any, error) {
	var params any
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &params); err != nil {
			return nil, fmt.Errorf("invalid params")
		}
	}

	switch method {
	case "ping":
		return map[string]any{"ok": true}, nil

	case "list_workspaces":
		return d.ListWorkspaces(), nil

	case "is_workspace_path_dir":
		path, err := parseString(params, "path")
		if err != nil {
			return nil, err
		}
		return d.IsWorkspacePathDir(path), nil

	case "add_workspace":
		path, err := parseString(params, "path")
		if err != nil {
			return nil, err
		}
		codexBin := parseOptionalString(params, "codex_bin")
		return d.AddWorkspace(ctx, path, codexBin, clientVersion)

	case "add_worktree":
		parentID, err := parseString(params, "parentId")
		if err != nil {
			return nil, err
		}
		branch, err := parseString(params, "branch")
		if err != nil {
			return nil, err
		}
		return d.AddWorktree(ctx, parentID, branch, clientVersion)

	case "connect_workspace":
		id, err := parseString(params, "id")
		if err != nil {
			return nil, err
		}
		if err := d.ConnectWorkspace(clientVersion, id); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil

	case "remove_workspace":
		id, err := parseString(params, "id")
		if err != nil {
			return nil, err
		}
		if err := d.RemoveWorkspace(ctx, id); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil

	case "remove_worktree":
		id, err := parseString(params, "id")
		if err != nil {
			return nil, err
		}
		if err := d.RemoveWorktree(ctx, id); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil

	case "rename_worktree":
		id, err := parseString(params, "id")
		if err != nil {
			return nil, err
		}
		branch, err := parseString(params, "branch")
		if err != nil {
			return nil, err
		}
		return d.RenameWorktree(ctx, id, branch, clientVersion)

	case "rename_worktree_upstream":
		id, err := parseString(params, "id")
		if err != nil {
			return nil, err
		}
		oldBranch, err := parseString(params, "oldBranch")
		if err != nil {
			return nil, err
		}
		newBranch, err := parseString(params, "newBranch")
		if err != nil {
			return nil, err
		}
		if err := d.RenameWorktreeUpstream(ctx, id, oldBranch, newBranch); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil

	case "update_workspace_settings":
		id, err := parseString(params, "id")
		if err != nil {
			return nil, err
		}
		var settings catalog.Settings
		if err := decodeInto(parseOptionalValue(params, "settings"), &settings); err != nil {
			return nil, err
		}
		return d.UpdateWorkspaceSettings(id, settings)

	case "update_workspace_codex_bin":
		id, err := parseString(params, "id")
		if err != nil {
			return nil, err
		}
		codexBin := parseOptionalString(params, "codex_bin")
		return d.UpdateWorkspaceCodexBin(id, codexBin)

	case "list_workspace_files":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		return d.ListWorkspaceFiles(workspaceID)

	case "read_workspace_file":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		path, err := parseString(params, "path")
		if err != nil {
			return nil, err
		}
		return d.ReadWorkspaceFile(workspaceID, path)

	case "get_app_settings":
		return d.GetAppSettings(), nil

	case "update_app_settings":
		var settings catalog.AppSettings
		if err := decodeInto(parseOptionalValue(params, "settings"), &settings); err != nil {
			return nil, err
		}
		return d.UpdateAppSettings(settings)

	case "get_codex_config_path":
		return d.GetCodexConfigPath()

	case "start_thread":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		return d.StartThread(ctx, workspaceID)

	case "resume_thread":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		threadID, err := parseString(params, "threadId")
		if err != nil {
			return nil, err
		}
		return d.ResumeThread(ctx, workspaceID, threadID)

	case "list_threads":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		cursor := parseOptionalString(params, "cursor")
		limit := parseOptionalU32(params, "limit")
		return d.ListThreads(ctx, workspaceID, cursor, limit)

	case "archive_thread":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		threadID, err := parseString(params, "threadId")
		if err != nil {
			return nil, err
		}
		return d.ArchiveThread(ctx, workspaceID, threadID)

	case "send_user_message":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		threadID, err := parseString(params, "threadId")
		if err != nil {
			return nil, err
		}
		text, err := parseString(params, "text")
		if err != nil {
			return nil, err
		}
		return d.SendUserMessage(ctx, workspaceID, daemonstate.SendUserMessageParams{
			ThreadID:          threadID,
			Text:              text,
			Model:             parseOptionalString(params, "model"),
			Effort:            parseOptionalString(params, "effort"),
			AccessMode:        parseOptionalString(params, "accessMode"),
			Images:            parseOptionalStringArray(params, "images"),
			CollaborationMode: parseOptionalValue(params, "collaborationMode"),
		})

	case "turn_interrupt":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		threadID, err := parseString(params, "threadId")
		if err != nil {
			return nil, err
		}
		turnID, err := parseString(params, "turnId")
		if err != nil {
			return nil, err
		}
		return d.TurnInterrupt(ctx, workspaceID, threadID, turnID)

	case "start_review":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		threadID, err := parseString(params, "threadId")
		if err != nil {
			return nil, err
		}
		m, ok := asObject(params)
		if !ok {
			return nil, fmt.Errorf("missing `target`")
		}
		target, ok := m["target"]
		if !ok {
			return nil, fmt.Errorf("missing `target`")
		}
		delivery := parseOptionalString(params, "delivery")
		return d.StartReview(ctx, workspaceID, threadID, target, delivery)

	case "model_list":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		return d.ModelList(ctx, workspaceID)

	case "collaboration_mode_list":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		return d.CollaborationModeList(ctx, workspaceID)

	case "account_rate_limits":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		return d.AccountRateLimits(ctx, workspaceID)

	case "skills_list":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		return d.SkillsList(ctx, workspaceID)

	case "respond_to_server_request":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		m, ok := asObject(params)
		if !ok {
			return nil, fmt.Errorf("missing requestId")
		}
		requestIDFloat, ok := m["requestId"].(float64)
		if !ok {
			return nil, fmt.Errorf("missing requestId")
		}
		result, ok := m["result"]
		if !ok {
			return nil, fmt.Errorf("missing `result`")
		}
		if err := d.RespondToServerRequest(workspaceID, uint64(requestIDFloat), result); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil

	case "remember_approval_rule":
		workspaceID, err := parseString(params, "workspaceId")
		if err != nil {
			return nil, err
		}
		command, err := parseStringArray(params, "command")
		if err != nil {
			return nil, err
		}
		rulesPath, err := d.RememberApprovalRule(workspaceID, command)
		if err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "rulesPath": rulesPath}, nil

	default:
		return nil, fmt.Errorf("unknown method: %s", method)
	}
}

// decodeInto round-trips an already-decoded any value through JSON to fill a
// typed struct, the same way the original deserialises the "settings" key
// straight into WorkspaceSettings/AppSettings and surfaces serde's own
// message on failure.
func decodeInto(value any, target any) error {
	if value == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
