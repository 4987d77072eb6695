// Package session implements the Workspace Session: one child "codex"
// process, its two concurrent I/O pumps, and the outstanding-request table
// that correlates child responses back to callers. Grounded on the
// teacher's internal/acp/session_host.go (process lifecycle, mutex-per-
// concern layout, non-blocking broadcast) and process.go (stdio piping),
// adapted from a docker-exec-wrapped ACP agent to a directly-spawned
// line-JSON-RPC child with no container indirection.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/xlab/codex-monitor-daemon/internal/bininfo"
	"github.com/xlab/codex-monitor-daemon/internal/catalog"
	"github.com/xlab/codex-monitor-daemon/internal/daemonerr"
	"github.com/xlab/codex-monitor-daemon/internal/eventbus"
)

// frame is the on-the-wire shape exchanged with the child over stdio.
type frame struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *frameError     `json:"error,omitempty"`
}

type frameError struct {
	Message string `json:"message"`
}

func (f *frame) hasResultOrError() bool {
	return f.Result != nil || f.Error != nil
}

type pending struct {
	resultCh chan pendingResult
}

type pendingResult struct {
	result json.RawMessage
	err    error
}

// Session owns a single child process and its JSON-RPC conversation.
type Session struct {
	WorkspaceID   string
	workspacePath string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bufio.Scanner

	writeCh chan frame
	bus     *eventbus.Bus

	nextID uint64

	mu       sync.Mutex
	outst    map[uint64]*pending
	closed   bool
	closedCh chan struct{}

	done chan struct{} // closed once teardown has fully completed
}

// SpawnConfig bundles the inputs needed to launch a child per §4.1.
type SpawnConfig struct {
	Entry           *catalog.Entry
	DefaultBin      string
	ClientVersion   string
	WorkspaceHome   string
	Bus             *eventbus.Bus
}

// Spawn launches the child with cwd = workspace path and starts both pumps.
func Spawn(cfg SpawnConfig) (*Session, error) {
	bin := cfg.Entry.CodexBin
	if bin == "" {
		bin = cfg.DefaultBin
	}
	if bin == "" {
		return nil, daemonerr.Externalf("no codex binary configured")
	}
	if err := bininfo.CheckExecutable(bin); err != nil {
		return nil, err
	}

	cmd := exec.Command(bin)
	cmd.Dir = cfg.Entry.Path
	cmd.Env = append(os.Environ(),
		"CODEX_CLIENT_VERSION="+cfg.ClientVersion,
		"CODEX_HOME="+cfg.WorkspaceHome,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, daemonerr.Externalf("failed to create stdin pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, daemonerr.Externalf("failed to create stdout pipe: %v", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, daemonerr.Externalf("failed to create stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderrPipe.Close()
		return nil, daemonerr.Externalf("failed to start codex process: %v", err)
	}

	s := &Session{
		WorkspaceID:   cfg.Entry.ID,
		workspacePath: cfg.Entry.Path,
		cmd:           cmd,
		stdin:       stdin,
		stderr:      bufio.NewScanner(stderrPipe),
		writeCh:     make(chan frame, 64),
		bus:         cfg.Bus,
		outst:       make(map[uint64]*pending),
		closedCh:    make(chan struct{}),
		done:        make(chan struct{}),
	}

	go s.writerPump()
	go s.readerPump(stdout)
	go s.stderrPump()

	return s, nil
}

func (s *Session) stderrPump() {
	for s.stderr.Scan() {
		slog.Debug("codex stderr", "workspace_id", s.WorkspaceID, "line", s.stderr.Text())
	}
}

// writerPump is the only writer to the child's stdin.
func (s *Session) writerPump() {
	enc := json.NewEncoder(s.stdin)
	for f := range s.writeCh {
		if err := enc.Encode(f); err != nil {
			slog.Warn("codex write failed", "workspace_id", s.WorkspaceID, "error", err)
			return
		}
	}
}

// readerPump reads newline-delimited JSON frames from child stdout.
func (s *Session) readerPump(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var f frame
		if err := json.Unmarshal(line, &f); err != nil {
			continue // malformed frame from the child is dropped
		}
		s.routeInbound(f)
	}
	s.teardown()
}

func (s *Session) routeInbound(f frame) {
	switch {
	case f.ID != nil && f.hasResultOrError():
		s.mu.Lock()
		p, ok := s.outst[*f.ID]
		if ok {
			delete(s.outst, *f.ID)
		}
		s.mu.Unlock()
		if !ok {
			return
		}
		if f.Error != nil {
			p.resultCh <- pendingResult{err: fmt.Errorf("%s", f.Error.Message)}
		} else {
			p.resultCh <- pendingResult{result: f.Result}
		}
	case f.ID != nil && f.Method != "":
		// server-to-client request: publish as an AppServer event carrying the id.
		s.publish(map[string]any{
			"workspaceId": s.WorkspaceID,
			"id":          *f.ID,
			"method":      f.Method,
			"params":      json.RawMessage(f.Params),
		})
	default:
		s.publish(map[string]any{
			"workspaceId": s.WorkspaceID,
			"method":      f.Method,
			"params":      json.RawMessage(f.Params),
		})
	}
}

func (s *Session) publish(payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Kind: eventbus.KindAppServer, Payload: payload})
}

// PublishTerminalOutput lets callers (e.g. a PTY-less passthrough) tag a
// payload as TerminalOutput instead of AppServer.
func (s *Session) PublishTerminalOutput(payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Kind: eventbus.KindTerminalOutput, Payload: payload})
}

// WorkspacePath returns the filesystem path of the workspace this session
// was spawned for, used to fill in "cwd"/"writableRoots" on pass-through
// requests.
func (s *Session) WorkspacePath() string { return s.workspacePath }

// SendRequest allocates a fresh id, enqueues the frame, and blocks until the
// reply is fulfilled or the session tears down.
func (s *Session) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}

	id := atomic.AddUint64(&s.nextID, 1)
	p := &pending{resultCh: make(chan pendingResult, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, &daemonerr.SessionClosed{}
	}
	s.outst[id] = p
	s.mu.Unlock()

	select {
	case s.writeCh <- frame{ID: &id, Method: method, Params: rawParams}:
	case <-s.closedCh:
		return nil, &daemonerr.SessionClosed{}
	}

	select {
	case res := <-p.resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return res.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closedCh:
		return nil, &daemonerr.SessionClosed{}
	}
}

// SendResponse enqueues a reply to a server-to-client request without
// awaiting anything.
func (s *Session) SendResponse(id uint64, result any) error {
	rawResult, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	select {
	case s.writeCh <- frame{ID: &id, Result: rawResult}:
		return nil
	case <-s.closedCh:
		return &daemonerr.SessionClosed{}
	}
}

// Kill tears the session down: kills the child, closes stdin, drains the
// reader to EOF (via the process exiting), and fails every pending slot.
func (s *Session) Kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.stdin.Close()
	_ = s.cmd.Wait()
	s.teardown()
	<-s.done
}

func (s *Session) teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pendingCopy := s.outst
	s.outst = make(map[uint64]*pending)
	s.mu.Unlock()

	close(s.closedCh)
	close(s.writeCh)
	for _, p := range pendingCopy {
		p.resultCh <- pendingResult{err: &daemonerr.SessionClosed{}}
	}
	close(s.done)
}
