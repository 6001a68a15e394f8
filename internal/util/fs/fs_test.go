package fs

import (
	"os"
	"testing"
)

func TestMkdirP(t *testing.T) {
	tmp := t.TempDir()
	nested := tmp + "/a/b/c"
	if err := MkdirP(nested); err != nil {
		t.Fatalf("MkdirP failed: %v", err)
	}
	info, err := os.Stat(nested)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("expected directory at %s", nested)
	}
	// idempotent on an existing path
	if err := MkdirP(nested); err != nil {
		t.Fatalf("MkdirP on existing dir: %v", err)
	}
}

func TestMkdirPEmptyPath(t *testing.T) {
	if err := MkdirP(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
