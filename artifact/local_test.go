package artifact

import (
	"context"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestNewLocalStore(t *testing.T) {
	tests := []struct {
		name      string
		baseDir   string
		wantError bool
	}{
		{
			name:      "valid base directory",
			baseDir:   t.TempDir(),
			wantError: false,
		},
		{
			name:      "creates non-existent directory",
			baseDir:   filepath.Join(t.TempDir(), "new-dir"),
			wantError: false,
		},
		{
			name:      "empty base directory",
			baseDir:   "",
			wantError: true,
		},
		{
			name:      "dot as base directory",
			baseDir:   ".",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewLocalStore(tt.baseDir)
			if tt.wantError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if store == nil {
				t.Fatal("expected store but got nil")
			}
		})
	}
}

func TestLocalStore_PutWritesToDisk(t *testing.T) {
	ctx := context.Background()
	baseDir := t.TempDir()
	store, err := NewLocalStore(baseDir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := store.Put(ctx, "runs/a/screenshots/0001.png", strings.NewReader("png"), ContentTypePNG); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(baseDir, "runs", "a", "screenshots", "0001.png"))
	if err != nil {
		t.Fatalf("failed to read stored file: %v", err)
	}
	if string(content) != "png" {
		t.Errorf("content mismatch: got %q, want %q", string(content), "png")
	}

	url, err := store.URL(ctx, "runs/a/screenshots/0001.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(url, baseDir) {
		t.Errorf("url %q is not under %q", url, baseDir)
	}

	if err := store.Put(ctx, "../outside.txt", strings.NewReader("x"), ""); err == nil {
		t.Error("expected traversal to be rejected")
	}
}

func TestFsStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewFsStore(afero.NewMemMapFs())

	t.Run("get stored artifact", func(t *testing.T) {
		if err := store.Put(ctx, "a/b.txt", strings.NewReader("hello"), "text/plain"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		r, err := store.Get(ctx, "a/b.txt")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer r.Close()
		data, _ := io.ReadAll(r)
		if string(data) != "hello" {
			t.Errorf("content mismatch: got %q", string(data))
		}
	})

	t.Run("exists", func(t *testing.T) {
		ok, err := store.Exists(ctx, "a/b.txt")
		if err != nil || !ok {
			t.Errorf("expected artifact to exist, got %v, %v", ok, err)
		}
		ok, err = store.Exists(ctx, "a/missing.txt")
		if err != nil || ok {
			t.Errorf("expected artifact to be missing, got %v, %v", ok, err)
		}
	})

	t.Run("url without base dir is the key", func(t *testing.T) {
		url, err := store.URL(ctx, "a/b.txt")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if url != "a/b.txt" {
			t.Errorf("url mismatch: got %q", url)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := store.Delete(ctx, "a/b.txt"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := store.Get(ctx, "a/b.txt"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound but got: %v", err)
		}
		if err := store.Delete(ctx, "a/b.txt"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound but got: %v", err)
		}
		if _, err := store.URL(ctx, "a/b.txt"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound but got: %v", err)
		}
	})
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		want      string
		wantError bool
	}{
		{name: "simple", key: "test.png", want: "test.png"},
		{name: "nested", key: "runs/1/screenshots/0001.png", want: "runs/1/screenshots/0001.png"},
		{name: "dot prefix is cleaned", key: "./test.png", want: "test.png"},
		{name: "inner traversal is cleaned", key: "runs/../test.png", want: "test.png"},
		{name: "empty", key: "", wantError: true},
		{name: "traversal", key: "../outside.png", wantError: true},
		{name: "deep traversal", key: "a/../../outside.png", wantError: true},
		{name: "windows traversal", key: `..\..\windows`, wantError: true},
		{name: "absolute", key: "/etc/passwd", wantError: true},
		{name: "dot", key: ".", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cleanKey(tt.key)
			if tt.wantError {
				if err == nil {
					t.Errorf("expected error for key %q but got none", tt.key)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for key %q: %v", tt.key, err)
			}
			if got != tt.want {
				t.Errorf("cleanKey(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestSaveScreenshot(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	store := NewFsStore(fs)
	payload := base64.StdEncoding.EncodeToString([]byte("\x89PNG fake"))

	key, err := SaveScreenshot(ctx, store, "run-1", 3, "data:image/png;base64,"+payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "runs/run-1/screenshots/0003.png" {
		t.Errorf("key mismatch: got %q", key)
	}
	data, err := afero.ReadFile(fs, key)
	if err != nil {
		t.Fatalf("failed to read screenshot: %v", err)
	}
	if string(data) != "\x89PNG fake" {
		t.Errorf("content mismatch: got %q", string(data))
	}

	if _, err := SaveScreenshot(ctx, store, "run-1", 4, "%%%"); err == nil {
		t.Error("expected invalid base64 to fail")
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	if _, err := New(ctx, Config{Type: "local", BaseDir: t.TempDir()}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := New(ctx, Config{Type: "local"}); err == nil {
		t.Error("expected missing base_dir to fail")
	}
	if _, err := New(ctx, Config{Type: "s3", Region: "us-east-1"}); err == nil {
		t.Error("expected missing bucket to fail")
	}
	if _, err := New(ctx, Config{Type: "gcs"}); err == nil {
		t.Error("expected unsupported type to fail")
	}
}
