package daemonstate

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/xlab/codex-monitor-daemon/internal/daemonerr"
)

// The methods in this file all share the same shape: resolve the live
// session for workspaceID, assemble a params object in the exact shape the
// child app-server protocol expects, and forward it as a request. An
// unconnected workspace is reported by GetSession; every other error not
// explicitly constructed here (such as a session that closed mid-flight)
// surfaces through session.Session.SendRequest.

func (d *Daemon) StartThread(ctx context.Context, workspaceID string) (json.RawMessage, error) {
	s, err := d.GetSession(workspaceID)
	if err != nil {
		return nil, err
	}
	return s.SendRequest(ctx, "thread/start", map[string]any{
		"cwd":            s.WorkspacePath(),
		"approvalPolicy": "on-request",
	})
}

func (d *Daemon) ResumeThread(ctx context.Context, workspaceID, threadID string) (json.RawMessage, error) {
	s, err := d.GetSession(workspaceID)
	if err != nil {
		return nil, err
	}
	return s.SendRequest(ctx, "thread/resume", map[string]any{"threadId": threadID})
}

func (d *Daemon) ListThreads(ctx context.Context, workspaceID string, cursor *string, limit *uint32) (json.RawMessage, error) {
	s, err := d.GetSession(workspaceID)
	if err != nil {
		return nil, err
	}
	return s.SendRequest(ctx, "thread/list", map[string]any{"cursor": cursor, "limit": limit})
}

func (d *Daemon) ArchiveThread(ctx context.Context, workspaceID, threadID string) (json.RawMessage, error) {
	s, err := d.GetSession(workspaceID)
	if err != nil {
		return nil, err
	}
	return s.SendRequest(ctx, "thread/archive", map[string]any{"threadId": threadID})
}

// SendUserMessageParams bundles send_user_message's optional fields.
type SendUserMessageParams struct {
	ThreadID          string
	Text              string
	Model             *string
	Effort            *string
	AccessMode        *string
	Images            []string
	CollaborationMode any
}

func (d *Daemon) SendUserMessage(ctx context.Context, workspaceID string, p SendUserMessageParams) (json.RawMessage, error) {
	s, err := d.GetSession(workspaceID)
	if err != nil {
		return nil, err
	}

	accessMode := "current"
	if p.AccessMode != nil {
		accessMode = *p.AccessMode
	}

	var sandboxPolicy map[string]any
	switch accessMode {
	case "full-access":
		sandboxPolicy = map[string]any{"type": "dangerFullAccess"}
	case "read-only":
		sandboxPolicy = map[string]any{"type": "readOnly"}
	default:
		sandboxPolicy = map[string]any{
			"type":          "workspaceWrite",
			"writableRoots": []string{s.WorkspacePath()},
			"networkAccess": true,
		}
	}

	approvalPolicy := "on-request"
	if accessMode == "full-access" {
		approvalPolicy = "never"
	}

	var input []map[string]any
	if trimmed := strings.TrimSpace(p.Text); trimmed != "" {
		input = append(input, map[string]any{"type": "text", "text": trimmed})
	}
	for _, path := range p.Images {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "data:") || strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
			input = append(input, map[string]any{"type": "image", "url": trimmed})
		} else {
			input = append(input, map[string]any{"type": "localImage", "path": trimmed})
		}
	}
	if len(input) == 0 {
		return nil, daemonerr.BadRequestf("empty user message")
	}

	params := map[string]any{
		"threadId":          p.ThreadID,
		"input":             input,
		"cwd":                s.WorkspacePath(),
		"approvalPolicy":    approvalPolicy,
		"sandboxPolicy":     sandboxPolicy,
		"model":             p.Model,
		"effort":            p.Effort,
		"collaborationMode": p.CollaborationMode,
	}
	return s.SendRequest(ctx, "turn/start", params)
}

func (d *Daemon) TurnInterrupt(ctx context.Context, workspaceID, threadID, turnID string) (json.RawMessage, error) {
	s, err := d.GetSession(workspaceID)
	if err != nil {
		return nil, err
	}
	return s.SendRequest(ctx, "turn/interrupt", map[string]any{"threadId": threadID, "turnId": turnID})
}

func (d *Daemon) StartReview(ctx context.Context, workspaceID, threadID string, target any, delivery *string) (json.RawMessage, error) {
	s, err := d.GetSession(workspaceID)
	if err != nil {
		return nil, err
	}
	params := map[string]any{"threadId": threadID, "target": target}
	if delivery != nil {
		params["delivery"] = *delivery
	}
	return s.SendRequest(ctx, "review/start", params)
}

func (d *Daemon) ModelList(ctx context.Context, workspaceID string) (json.RawMessage, error) {
	s, err := d.GetSession(workspaceID)
	if err != nil {
		return nil, err
	}
	return s.SendRequest(ctx, "model/list", map[string]any{})
}

func (d *Daemon) CollaborationModeList(ctx context.Context, workspaceID string) (json.RawMessage, error) {
	s, err := d.GetSession(workspaceID)
	if err != nil {
		return nil, err
	}
	return s.SendRequest(ctx, "collaborationMode/list", map[string]any{})
}

func (d *Daemon) AccountRateLimits(ctx context.Context, workspaceID string) (json.RawMessage, error) {
	s, err := d.GetSession(workspaceID)
	if err != nil {
		return nil, err
	}
	return s.SendRequest(ctx, "account/rateLimits/read", nil)
}

func (d *Daemon) SkillsList(ctx context.Context, workspaceID string) (json.RawMessage, error) {
	s, err := d.GetSession(workspaceID)
	if err != nil {
		return nil, err
	}
	return s.SendRequest(ctx, "skills/list", map[string]any{"cwd": s.WorkspacePath()})
}

func (d *Daemon) RespondToServerRequest(workspaceID string, requestID uint64, result any) error {
	s, err := d.GetSession(workspaceID)
	if err != nil {
		return err
	}
	return s.SendResponse(requestID, result)
}
