package daemonstate

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestListWorkspaceFilesInnerSkipsIgnoredDirs(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "a.txt"), "a")
	mustWrite(t, filepath.Join(root, "node_modules", "pkg", "index.js"), "x")
	mustWrite(t, filepath.Join(root, "src", "b.go"), "b")

	files := listWorkspaceFilesInner(root, 20000)
	if len(files) != 2 {
		t.Fatalf("files = %v", files)
	}
	if files[0] != "a.txt" || files[1] != filepath.ToSlash(filepath.Join("src", "b.go")) {
		t.Errorf("files = %v", files)
	}
}

func TestListWorkspaceFilesInnerRespectsMaxFiles(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 10; i++ {
		mustWrite(t, filepath.Join(root, "f"+string(rune('a'+i))+".txt"), "x")
	}
	files := listWorkspaceFilesInner(root, 3)
	if len(files) != 3 {
		t.Errorf("files = %v, want 3", files)
	}
}

func TestReadWorkspaceFileInnerRejectsPathEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	mustWrite(t, filepath.Join(outside, "secret.txt"), "top secret")

	_, err := readWorkspaceFileInner(root, "../"+filepath.Base(outside)+"/secret.txt")
	if err == nil {
		t.Fatal("expected sandbox violation error")
	}
}

func TestReadWorkspaceFileInnerReturnsContent(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "hello.txt"), "hello world")

	resp, err := readWorkspaceFileInner(root, "hello.txt")
	if err != nil {
		t.Fatalf("readWorkspaceFileInner: %v", err)
	}
	if resp.Content != "hello world" || resp.Truncated {
		t.Errorf("resp = %+v", resp)
	}
}

func TestReadWorkspaceFileInnerTruncatesLargeFiles(t *testing.T) {
	root := t.TempDir()
	big := bytes.Repeat([]byte("a"), maxWorkspaceFileBytes+100)
	mustWrite(t, filepath.Join(root, "big.txt"), string(big))

	resp, err := readWorkspaceFileInner(root, "big.txt")
	if err != nil {
		t.Fatalf("readWorkspaceFileInner: %v", err)
	}
	if !resp.Truncated || len(resp.Content) != maxWorkspaceFileBytes {
		t.Errorf("truncated=%v len=%d", resp.Truncated, len(resp.Content))
	}
}

func TestReadWorkspaceFileInnerRejectsNonUTF8(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "bin.dat"), "")
	if err := os.WriteFile(filepath.Join(root, "bin.dat"), []byte{0xff, 0xfe, 0x00, 0x01}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := readWorkspaceFileInner(root, "bin.dat")
	if err == nil {
		t.Fatal("expected error for non-UTF8 content")
	}
}

func TestReadWorkspaceFileInnerRejectsDirectory(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "subdir"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	_, err := readWorkspaceFileInner(root, "subdir")
	if err == nil {
		t.Fatal("expected error reading a directory as a file")
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}
