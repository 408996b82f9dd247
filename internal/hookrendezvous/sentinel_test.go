package hookrendezvous

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteSentinelAtomicNoTempLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session-a", "response")

	if err := WriteSentinel(path, "yes"); err != nil {
		t.Fatalf("WriteSentinel: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "yes" {
		t.Fatalf("content = %q, want yes", got)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file should not remain after rename")
	}
}

func TestResponsePathWithSuffix(t *testing.T) {
	got := ResponsePath("/tmp/afkd/sessions", "work", "permission")
	want := filepath.Join("/tmp/afkd/sessions", "work", "response_permission")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestResponsePathNoSuffix(t *testing.T) {
	got := ResponsePath("/tmp/afkd/sessions", "work", "")
	want := filepath.Join("/tmp/afkd/sessions", "work", "response")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
