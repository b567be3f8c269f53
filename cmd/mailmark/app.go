package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/FranksOps/mailmark/internal/config"
	"github.com/FranksOps/mailmark/internal/message"
	"github.com/FranksOps/mailmark/internal/metrics"
	"github.com/FranksOps/mailmark/internal/reconcile"
	"github.com/FranksOps/mailmark/internal/service"
	"github.com/FranksOps/mailmark/internal/storage"
	"github.com/FranksOps/mailmark/internal/storage/backends"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flagKeys maps command-line flags onto configuration keys. A flag only
// overrides the config file and environment when it is set explicitly.
var flagKeys = map[string]string{
	"storage":      "storage.kind",
	"dsn":          "storage.dsn",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"log-file":     "log.file",
	"port":         "server.port",
	"allow-origin": "server.allow_origin",
	"metrics-port": "metrics.port",
	"depth":        "scan.max_depth",
	"concurrency":  "scan.concurrency",
	"max-pages":    "scan.max_pages",
	"rps":          "scan.rps",
	"robots":       "scan.respect_robots",
	"sitemaps":     "scan.use_sitemaps",
	"fingerprint":  "scan.fingerprint",
	"timeout":      "scan.timeout",
	"proxies":      "scan.proxy_file",
	"strategy":     "sync.strategy",
	"interval":     "sync.interval",
}

// app carries what every subcommand needs once configuration is loaded.
type app struct {
	configPath string
	cfg        config.Config
	logger     *slog.Logger
	logCloser  io.Closer
}

func (a *app) load(cmd *cobra.Command) error {
	v := viper.New()
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	cfg, err := config.Load(v, a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, closer, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.logger = logger
	a.logCloser = closer
	slog.SetDefault(logger)
	return nil
}

func (a *app) close() {
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// session is an open service with its backends.
type session struct {
	svc    *service.Service
	local  storage.Backend
	remote storage.Backend
	syncer *reconcile.Syncer
}

func (s *session) Close() {
	s.svc.Close()
	_ = s.local.Close()
	if s.remote != nil {
		_ = s.remote.Close()
	}
}

// open connects the configured storage, starts the service and, when a
// remote peer is configured, prepares a syncer over the same backend.
func (a *app) open(ctx context.Context) (*session, error) {
	local, err := backends.Open(ctx, a.cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	local = metrics.InstrumentBackend(storageName(a.cfg.Storage), local)

	svc, err := service.New(ctx, local, service.Options{Rules: a.cfg.Rules, Logger: a.logger})
	if err != nil {
		_ = local.Close()
		return nil, fmt.Errorf("start service: %w", err)
	}
	s := &session{svc: svc, local: local}

	if a.cfg.SyncEnabled() {
		remote, err := backends.Open(ctx, a.cfg.Remote)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open remote: %w", err)
		}
		s.remote = metrics.InstrumentBackend("remote", remote)
		s.syncer = reconcile.NewSyncer(local, s.remote, a.cfg.Rules.RecordCap, a.logger)
	}
	return s, nil
}

// dispatcher builds the message dispatcher for s.
func (a *app) dispatcher(s *session, extra ...message.Option) (*message.Dispatcher, error) {
	opts := append([]message.Option{message.WithLogger(a.logger)}, extra...)
	if s.syncer != nil {
		strategy, err := a.cfg.SyncStrategy()
		if err != nil {
			return nil, err
		}
		opts = append(opts, message.WithSyncer(s.syncer, strategy))
	}
	return message.NewDispatcher(s.svc, opts...), nil
}

var errSyncDisabled = errors.New("sync is not configured: set remote.kind and remote.dsn")

func storageName(c backends.Config) string {
	if c.Kind == "" {
		return backends.KindMemory
	}
	return c.Kind
}
