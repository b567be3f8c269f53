package jsonbackend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/FranksOps/mailmark/internal/records"
	"github.com/FranksOps/mailmark/internal/storage"
)

func TestJSONBackend(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "mailmark.json")

	b, err := New(filePath)
	if err != nil {
		t.Fatalf("Failed to create JSON backend: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second).UTC()

	if _, err := b.Get(ctx, storage.KeyEmailMappings); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	in := records.Store{
		"github.com": {
			{Email: "alice.smith@acme.io", SourceURL: "https://github.com/login", LastSeen: now, UseCount: 2},
			{Email: "bob.builder@acme.io", LastSeen: now.Add(-time.Hour), UseCount: 1},
		},
	}
	if err := storage.SaveStore(ctx, b, in); err != nil {
		t.Fatalf("Failed to save store: %v", err)
	}
	if err := storage.SaveSettings(ctx, b, records.TrackingSettings{IsPaused: true}); err != nil {
		t.Fatalf("Failed to save settings: %v", err)
	}

	// A fresh backend over the same file sees the same data.
	reopened, err := New(filePath)
	if err != nil {
		t.Fatalf("Failed to reopen JSON backend: %v", err)
	}

	out, err := storage.LoadStore(ctx, reopened)
	if err != nil {
		t.Fatalf("Failed to load store: %v", err)
	}
	list := out["github.com"]
	if len(list) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(list))
	}
	if list[0].Email != "alice.smith@acme.io" || !list[0].LastSeen.Equal(now) {
		t.Errorf("Unexpected first record: %+v", list[0])
	}

	st, err := storage.LoadSettings(ctx, reopened)
	if err != nil || !st.IsPaused {
		t.Errorf("Expected paused settings, got %+v, %v", st, err)
	}

	entries, _ := os.ReadDir(tmpDir)
	if len(entries) != 1 {
		t.Errorf("Expected only the data file in %s, found %d entries", tmpDir, len(entries))
	}
}

func TestJSONBackend_RejectsInvalidJSON(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "mailmark.json"))
	if err != nil {
		t.Fatalf("Failed to create JSON backend: %v", err)
	}

	if err := b.Set(context.Background(), "k", []byte("{oops")); err == nil {
		t.Fatal("Expected error for invalid JSON value")
	}
}

func TestJSONBackend_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailmark.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path); err == nil {
		t.Fatal("Expected decode error for corrupt file")
	}
}
