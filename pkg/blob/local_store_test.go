package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalStore(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir, "http://localhost:8000/files/")
	ctx := context.Background()

	key := "uploads/2026/01/02/test.txt"
	content := "hello world"
	url, err := store.Save(ctx, key, strings.NewReader(content), "text/plain")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if url != "http://localhost:8000/files/uploads/2026/01/02/test.txt" {
		t.Errorf("unexpected url %s", url)
	}

	expectedPath := filepath.Join(tmpDir, "uploads", "2026", "01", "02", "test.txt")
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Errorf("file was not created at expected path: %s", expectedPath)
	}

	reader, err := store.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	data, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if string(data) != content {
		t.Errorf("content mismatch: got %s, want %s", data, content)
	}

	// Overwrite keeps a single file.
	if _, err := store.Save(ctx, key, strings.NewReader("v2"), "text/plain"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(expectedPath))
	if len(entries) != 1 {
		t.Errorf("expected no temp files left behind, got %d entries", len(entries))
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Open(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store := NewLocalStore(t.TempDir(), "http://localhost/files")
	ctx := context.Background()

	for _, key := range []string{"../escape.txt", "/etc/passwd", "a/../../b", ""} {
		if _, err := store.Save(ctx, key, strings.NewReader("x"), ""); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Save(%q): expected ErrInvalidKey, got %v", key, err)
		}
		if _, err := store.Open(ctx, key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Open(%q): expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestNewKey(t *testing.T) {
	key := NewKey("uploads", "image/png")
	if !strings.HasPrefix(key, "uploads/") || !strings.HasSuffix(key, ".png") {
		t.Errorf("unexpected key %s", key)
	}
	if NewKey("uploads", "image/png") == key {
		t.Error("keys should be unique")
	}
	if got := ExtensionFor("video/mp4"); got != ".mp4" {
		t.Errorf("ExtensionFor(video/mp4) = %q", got)
	}
	if got := ExtensionFor("not a type"); got != "" {
		t.Errorf("expected empty extension, got %q", got)
	}
}
