package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xlab/codex-monitor-daemon/internal/catalog"
	"github.com/xlab/codex-monitor-daemon/internal/daemonerr"
	"github.com/xlab/codex-monitor-daemon/internal/eventbus"
)

// writeEchoScript writes a shell script that, for every line it reads,
// extracts the JSON-RPC id and replies with a success result. It stands in
// for a real codex child for the purposes of exercising Session's wire
// framing.
func writeEchoScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-codex.sh")
	script := `#!/bin/sh
while IFS= read -r line; do
  id=$(echo "$line" | grep -o '"id":[0-9]*' | head -1 | cut -d: -f2)
  if [ -n "$id" ]; then
    printf '{"id":%s,"result":{"ok":true}}\n' "$id"
  fi
done
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// writeSilentScript writes a shell script that reads forever but never
// replies, so Kill's teardown path can be exercised deterministically.
func writeSilentScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "silent-codex.sh")
	script := "#!/bin/sh\nwhile IFS= read -r line; do :; done\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func spawnWith(t *testing.T, bin string) *Session {
	t.Helper()
	entry := &catalog.Entry{ID: "ws-1", Path: t.TempDir(), CodexBin: bin, Kind: catalog.KindMain}
	s, err := Spawn(SpawnConfig{
		Entry:         entry,
		ClientVersion: "test",
		WorkspaceHome: t.TempDir(),
		Bus:           eventbus.New(8),
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t.Cleanup(s.Kill)
	return s
}

func TestSendRequestRoundTrip(t *testing.T) {
	s := spawnWith(t, writeEchoScript(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := s.SendRequest(ctx, "ping", map[string]any{})
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if string(result) != `{"ok":true}` {
		t.Errorf("result = %s, want {\"ok\":true}", result)
	}
}

func TestWorkspacePathReturnsEntryPath(t *testing.T) {
	wsPath := t.TempDir()
	entry := &catalog.Entry{ID: "ws-1", Path: wsPath, CodexBin: writeEchoScript(t), Kind: catalog.KindMain}
	s, err := Spawn(SpawnConfig{Entry: entry, ClientVersion: "test", WorkspaceHome: t.TempDir(), Bus: eventbus.New(8)})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer s.Kill()
	if s.WorkspacePath() != wsPath {
		t.Errorf("WorkspacePath = %q", s.WorkspacePath())
	}
}

func TestKillFailsOutstandingRequestsWithSessionClosed(t *testing.T) {
	s := spawnWith(t, writeSilentScript(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := s.SendRequest(ctx, "never-answered", map[string]any{})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	s.Kill()

	select {
	case err := <-done:
		if _, ok := err.(*daemonerr.SessionClosed); !ok {
			t.Errorf("err = %v, want *daemonerr.SessionClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SendRequest did not return after Kill")
	}
}

func TestSendRequestAfterKillReturnsSessionClosed(t *testing.T) {
	s := spawnWith(t, writeEchoScript(t))
	s.Kill()

	_, err := s.SendRequest(context.Background(), "ping", map[string]any{})
	if _, ok := err.(*daemonerr.SessionClosed); !ok {
		t.Errorf("err = %v, want *daemonerr.SessionClosed", err)
	}
}

func TestSpawnFailsWithNoBinaryConfigured(t *testing.T) {
	entry := &catalog.Entry{ID: "ws-1", Path: t.TempDir(), Kind: catalog.KindMain}
	_, err := Spawn(SpawnConfig{Entry: entry, ClientVersion: "test", WorkspaceHome: t.TempDir(), Bus: eventbus.New(8)})
	if err == nil {
		t.Fatal("expected error when no codex binary is configured")
	}
}
