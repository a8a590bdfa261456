package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDurationAndIntFallbacks(t *testing.T) {
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_BAD_DURATION", "soon")
	t.Setenv("TEST_INT", "7")
	t.Setenv("TEST_BAD_INT", "seven")

	if got := Duration("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
	if got := Duration("TEST_BAD_DURATION", time.Second); got != time.Second {
		t.Fatalf("expected fallback, got %s", got)
	}
	if got := Int("TEST_INT", 1); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
	if got := Int("TEST_BAD_INT", 1); got != 1 {
		t.Fatalf("expected fallback, got %d", got)
	}
}

func TestList(t *testing.T) {
	t.Setenv("TEST_LIST", " a, ,b ,c")
	got := List("TEST_LIST", "")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected list: %#v", got)
	}
}

func TestLoadKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("CFG_FROM_FILE=file\nCFG_PRESET=file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("CFG_PRESET", "process")
	t.Setenv("CFG_FROM_FILE", "")
	os.Unsetenv("CFG_FROM_FILE")

	if err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := os.Getenv("CFG_FROM_FILE"); got != "file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("CFG_PRESET"); got != "process" {
		t.Fatalf("expected process value to win, got %q", got)
	}
	if err := Load(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
}
