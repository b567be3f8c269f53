// Package backends opens a storage.Backend by name.
package backends

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/FranksOps/mailmark/internal/storage"
	"github.com/FranksOps/mailmark/internal/storage/jsonbackend"
	"github.com/FranksOps/mailmark/internal/storage/postgres"
	"github.com/FranksOps/mailmark/internal/storage/remote"
	"github.com/FranksOps/mailmark/internal/storage/sqlite"
)

// Kinds accepted by Open.
const (
	KindMemory   = "memory"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
	KindJSON     = "json"
	KindRemote   = "remote"
)

// Config selects and configures a backend. DSN is a file path for sqlite and
// json, a connection string for postgres and the base URL for remote.
type Config struct {
	Kind              string        `mapstructure:"kind" validate:"omitempty,oneof=memory sqlite postgres json remote"`
	DSN               string        `mapstructure:"dsn"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
}

// Open creates the backend described by cfg.
func Open(ctx context.Context, cfg Config) (storage.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case KindMemory, "":
		return storage.NewMemory(), nil
	case KindSQLite:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("sqlite backend requires a dsn")
		}
		return sqlite.New(cfg.DSN)
	case KindPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres backend requires a dsn")
		}
		return postgres.New(ctx, cfg.DSN)
	case KindJSON:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("json backend requires a file path")
		}
		return jsonbackend.New(cfg.DSN)
	case KindRemote:
		return remote.New(remote.Config{
			BaseURL:           cfg.DSN,
			APIKey:            cfg.APIKey,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Kind)
	}
}
