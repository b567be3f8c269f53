// Package storage persists the record store and tracking settings as
// opaque values under fixed keys.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/FranksOps/mailmark/internal/records"
)

// Keys used by every backend.
const (
	KeyEmailMappings    = "emailMappings"
	KeyTrackingSettings = "trackingSettings"
)

// ErrNotFound is returned by Get when a key has never been written.
var ErrNotFound = errors.New("storage: key not found")

// Backend is a minimal key-value store.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// LoadStore reads the record store. A missing key yields an empty store.
func LoadStore(ctx context.Context, b Backend) (records.Store, error) {
	data, err := b.Get(ctx, KeyEmailMappings)
	if errors.Is(err, ErrNotFound) {
		return records.Store{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", KeyEmailMappings, err)
	}

	store := records.Store{}
	if len(data) == 0 {
		return store, nil
	}
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyEmailMappings, err)
	}
	return store, nil
}

// EncodeStore is the canonical serialized form of a store.
func EncodeStore(s records.Store) ([]byte, error) {
	if s == nil {
		s = records.Store{}
	}
	return json.Marshal(s)
}

// SaveStore writes the full record store.
func SaveStore(ctx context.Context, b Backend, s records.Store) error {
	data, err := EncodeStore(s)
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeyEmailMappings, err)
	}
	if err := b.Set(ctx, KeyEmailMappings, data); err != nil {
		return fmt.Errorf("save %s: %w", KeyEmailMappings, err)
	}
	return nil
}

// LoadSettings reads the tracking settings, defaulting to not paused.
func LoadSettings(ctx context.Context, b Backend) (records.TrackingSettings, error) {
	var st records.TrackingSettings
	data, err := b.Get(ctx, KeyTrackingSettings)
	if errors.Is(err, ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("load %s: %w", KeyTrackingSettings, err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("decode %s: %w", KeyTrackingSettings, err)
	}
	return st, nil
}

// SaveSettings writes the tracking settings.
func SaveSettings(ctx context.Context, b Backend, st records.TrackingSettings) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeyTrackingSettings, err)
	}
	if err := b.Set(ctx, KeyTrackingSettings, data); err != nil {
		return fmt.Errorf("save %s: %w", KeyTrackingSettings, err)
	}
	return nil
}
