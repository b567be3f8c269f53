package jsonbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/FranksOps/mailmark/internal/storage"
)

// ensure jsonBackend implements storage.Backend
var _ storage.Backend = (*jsonBackend)(nil)

// jsonBackend keeps every key in one JSON document on disk. Values must be
// valid JSON; they are embedded verbatim.
type jsonBackend struct {
	mu   sync.Mutex
	path string
	doc  map[string]json.RawMessage
}

// New creates a JSON-file-backed storage.Backend, loading filePath if it exists.
func New(filePath string) (storage.Backend, error) {
	b := &jsonBackend{
		path: filePath,
		doc:  make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(filePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return b, nil
	case err != nil:
		return nil, fmt.Errorf("json backend read: %w", err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &b.doc); err != nil {
			return nil, fmt.Errorf("json backend decode %s: %w", filePath, err)
		}
	}
	return b, nil
}

func (b *jsonBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.doc[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (b *jsonBackend) Set(ctx context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("json backend set %s: value is not valid JSON", key)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	prev, had := b.doc[key]
	b.doc[key] = append(json.RawMessage(nil), value...)
	if err := b.flush(); err != nil {
		if had {
			b.doc[key] = prev
		} else {
			delete(b.doc, key)
		}
		return err
	}
	return nil
}

// flush writes the document to a temp file and renames it into place so a
// crash never leaves a half-written file behind.
func (b *jsonBackend) flush() error {
	data, err := json.MarshalIndent(b.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("json backend encode: %w", err)
	}

	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, ".mailmark-*.json")
	if err != nil {
		return fmt.Errorf("json backend temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("json backend write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("json backend close: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("json backend rename: %w", err)
	}
	return nil
}

func (b *jsonBackend) Close() error {
	return nil
}
