package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/FranksOps/mailmark/internal/message"
	"github.com/FranksOps/mailmark/internal/metrics"
	"github.com/FranksOps/mailmark/internal/observer"
	"github.com/FranksOps/mailmark/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP message server",
		Long: `Start an HTTP server that accepts messages on POST /message and exposes
/mappings, /stats, /report, /health and /metrics. With a remote configured and
sync.interval set, the store is synced in the background.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), a)
		},
	}
	cmd.Flags().Int("port", 0, "Port to listen on")
	cmd.Flags().String("allow-origin", "", "Value for Access-Control-Allow-Origin")
	cmd.Flags().Int("metrics-port", 0, "Also serve /metrics on a separate port")
	cmd.Flags().Duration("interval", 0, "Background sync interval (0 disables)")
	cmd.Flags().String("strategy", "", "Sync strategy: local_wins, remote_wins or latest_wins")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	// One long-lived observer so settle tasks survive across requests.
	obs, err := observer.New(a.cfg.Rules, s.svc, a.logger)
	if err != nil {
		return err
	}
	defer obs.Close()

	d, err := a.dispatcher(s, message.WithObserver(obs))
	if err != nil {
		return err
	}

	if port := a.cfg.Metrics.Port; port > 0 {
		ms, err := metrics.Start(fmt.Sprintf(":%d", port), a.logger)
		if err != nil {
			return err
		}
		defer func() { _ = ms.Stop(context.Background()) }()
	}

	srv := server.New(server.Config{
		Port:        a.cfg.Server.Port,
		AllowOrigin: a.cfg.Server.AllowOrigin,
	}, s.svc, d, a.logger)

	strategy, err := a.cfg.SyncStrategy()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	if s.syncer != nil && a.cfg.Sync.Interval > 0 {
		a.logger.Info("background sync enabled", "interval", a.cfg.Sync.Interval, "strategy", strategy.String())
		g.Go(func() error {
			err := s.svc.RunSync(gctx, s.syncer, strategy, a.cfg.Sync.Interval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}
