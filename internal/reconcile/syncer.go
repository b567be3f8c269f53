package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/FranksOps/mailmark/internal/records"
	"github.com/FranksOps/mailmark/internal/storage"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"
)

// Result is the structured outcome of one sync round.
type Result struct {
	Success       bool          `json:"success"`
	Error         string        `json:"error,omitempty"`
	Strategy      string        `json:"strategy"`
	Domains       int           `json:"domains"`
	Emails        int           `json:"emails"`
	RemoteWritten bool          `json:"remoteWritten"`
	LocalWritten  bool          `json:"localWritten"`
	Duration      time.Duration `json:"duration"`
}

// Syncer mirrors records between a local and a remote backend.
type Syncer struct {
	local  storage.Backend
	remote storage.Backend
	cap    int
	logger *slog.Logger

	// OnResult, when set, is called after every round.
	OnResult func(Result)
}

// NewSyncer creates a Syncer. A nil logger uses slog.Default().
func NewSyncer(local, remote storage.Backend, cap int, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{local: local, remote: remote, cap: cap, logger: logger}
}

// Sync runs one round: load both stores concurrently, merge, and write the
// result to remote then local. Writes whose content is unchanged are skipped.
// A failure after the remote write leaves the stores diverged; the result
// reports which side was written.
func (s *Syncer) Sync(ctx context.Context, strategy Strategy) Result {
	start := time.Now()
	res := Result{Strategy: strategy.String()}
	finish := func(err error) Result {
		res.Duration = time.Since(start)
		if err != nil {
			res.Error = err.Error()
			s.logger.Error("sync failed", "strategy", res.Strategy, "remote_written", res.RemoteWritten, "error", err)
		} else {
			res.Success = true
			s.logger.Info("sync complete", "strategy", res.Strategy, "domains", res.Domains, "emails", res.Emails,
				"remote_written", res.RemoteWritten, "local_written", res.LocalWritten, "duration", res.Duration)
		}
		if s.OnResult != nil {
			s.OnResult(res)
		}
		return res
	}

	if s.remote == nil {
		return finish(errors.New("sync: no remote backend configured"))
	}

	var local, remote records.Store
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		local, err = storage.LoadStore(gctx, s.local)
		if err != nil {
			return fmt.Errorf("local: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		remote, err = storage.LoadStore(gctx, s.remote)
		if err != nil {
			return fmt.Errorf("remote: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return finish(err)
	}

	merged := Merge(local, remote, strategy, s.cap)
	st := merged.Statistics()
	res.Domains, res.Emails = st.DomainCount, st.EmailCount

	mergedSum, err := fingerprint(merged)
	if err != nil {
		return finish(err)
	}

	if sum, err := fingerprint(remote); err != nil || sum != mergedSum {
		if err := storage.SaveStore(ctx, s.remote, merged); err != nil {
			return finish(fmt.Errorf("remote: %w", err))
		}
		res.RemoteWritten = true
	}
	if sum, err := fingerprint(local); err != nil || sum != mergedSum {
		if err := storage.SaveStore(ctx, s.local, merged); err != nil {
			return finish(fmt.Errorf("local: %w", err))
		}
		res.LocalWritten = true
	}
	return finish(nil)
}

// fingerprint hashes the canonical encoding of a store. encoding/json sorts
// map keys, so equal stores hash equally.
func fingerprint(s records.Store) (uint64, error) {
	data, err := storage.EncodeStore(s)
	if err != nil {
		return 0, fmt.Errorf("fingerprint: %w", err)
	}
	return xxh3.Hash(data), nil
}
