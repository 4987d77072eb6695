package bininfo

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckExecutableRejectsEmptyPath(t *testing.T) {
	if err := CheckExecutable(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestCheckExecutableRejectsMissingFile(t *testing.T) {
	if err := CheckExecutable(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestCheckExecutableRejectsDirectory(t *testing.T) {
	if err := CheckExecutable(t.TempDir()); err == nil {
		t.Fatal("expected error for a directory")
	}
}

func TestCheckExecutableAcceptsExecutableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bin.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := CheckExecutable(path); err != nil {
		t.Fatalf("CheckExecutable: %v", err)
	}
}

func TestCheckExecutableRejectsNonExecutableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bin.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := CheckExecutable(path); err == nil {
		t.Fatal("expected error for non-executable file")
	}
}
