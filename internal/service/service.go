// Package service owns the record book and tracking settings. Every call is
// executed on a single goroutine, so concurrent callers never interleave
// read-modify-write cycles against the backend.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/FranksOps/mailmark/internal/emailcheck"
	"github.com/FranksOps/mailmark/internal/metrics"
	"github.com/FranksOps/mailmark/internal/reconcile"
	"github.com/FranksOps/mailmark/internal/records"
	"github.com/FranksOps/mailmark/internal/rootdomain"
	"github.com/FranksOps/mailmark/internal/rules"
	"github.com/FranksOps/mailmark/internal/storage"
)

var (
	// ErrClosed is returned for calls made after Close.
	ErrClosed = errors.New("service: closed")
	// ErrRejected wraps a validator rejection of a login email.
	ErrRejected = errors.New("email rejected")
	// ErrInvalidDomain is returned when no root domain can be derived.
	ErrInvalidDomain = errors.New("invalid domain")
)

// Detection methods carried by Login.Method.
const (
	MethodOAuth  = "oauth"
	MethodForm   = "form"
	MethodPage   = "page"
	MethodManual = "manual"
)

// Login is one detected sign-in.
type Login struct {
	Email     string    `json:"email" validate:"required"`
	Domain    string    `json:"domain"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Method    string    `json:"method"`
}

// Outcome reports what RecordLogin did.
type Outcome struct {
	Recorded bool                `json:"recorded"`
	Paused   bool                `json:"paused,omitempty"`
	IsNew    bool                `json:"isNew"`
	Domain   string              `json:"domain"`
	Record   records.EmailRecord `json:"record"`
}

// Options configures a Service.
type Options struct {
	Rules  rules.Ruleset
	Logger *slog.Logger
	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

type state struct {
	book     *records.Book
	settings records.TrackingSettings
}

// Service is the single owner of persisted record state.
type Service struct {
	backend   storage.Backend
	logger    *slog.Logger
	validator *emailcheck.Validator
	norm      *rootdomain.Normalizer
	now       func() time.Time

	st    state
	calls chan func(*state)
	done  chan struct{}
	once  sync.Once
}

// New loads the persisted store and settings from backend and starts the
// owning goroutine.
func New(ctx context.Context, backend storage.Backend, opts Options) (*Service, error) {
	r := opts.Rules.WithDefaults()
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("service rules: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	store, err := storage.LoadStore(ctx, backend)
	if err != nil {
		return nil, err
	}
	settings, err := storage.LoadSettings(ctx, backend)
	if err != nil {
		return nil, err
	}

	norm := rootdomain.New(r)
	s := &Service{
		backend:   backend,
		logger:    logger,
		validator: emailcheck.New(r),
		norm:      norm,
		now:       now,
		st: state{
			book:     records.NewBook(store, r.RecordCap, records.WithClock(now), records.WithNormalizer(norm)),
			settings: settings,
		},
		calls: make(chan func(*state)),
		done:  make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

func (s *Service) loop() {
	for {
		select {
		case fn := <-s.calls:
			fn(&s.st)
		case <-s.done:
			return
		}
	}
}

// Close stops the owning goroutine. It does not close the backend.
func (s *Service) Close() {
	s.once.Do(func() { close(s.done) })
}

// do runs fn on the owning goroutine and waits for it to finish.
func (s *Service) do(ctx context.Context, fn func(*state) error) error {
	result := make(chan error, 1)
	call := func(st *state) { result <- fn(st) }

	select {
	case s.calls <- call:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// Once accepted the call always completes, so wait for it even if ctx
	// ends; the result must not be lost.
	return <-result
}

// mutate applies fn to the book and persists the full store. If persisting
// fails the book is restored to its state before fn ran.
func (s *Service) mutate(ctx context.Context, op string, st *state, fn func(*records.Book) error) error {
	before := st.book.Snapshot()
	if err := fn(st.book); err != nil {
		return err
	}
	if err := storage.SaveStore(ctx, s.backend, st.book.Snapshot()); err != nil {
		st.book.Replace(before)
		s.logger.Error("persist failed, state rolled back", "op", op, "error", err)
		return err
	}
	return nil
}

// Mappings returns a copy of every domain's record list.
func (s *Service) Mappings(ctx context.Context) (records.Store, error) {
	var out records.Store
	err := s.do(ctx, func(st *state) error {
		out = st.book.Snapshot()
		return nil
	})
	return out, err
}

// Statistics aggregates the current store.
func (s *Service) Statistics(ctx context.Context) (records.Stats, error) {
	var out records.Stats
	err := s.do(ctx, func(st *state) error {
		out = st.book.Statistics()
		return nil
	})
	return out, err
}

// ClearAll removes every record.
func (s *Service) ClearAll(ctx context.Context) error {
	return s.do(ctx, func(st *state) error {
		return s.mutate(ctx, "clear", st, func(b *records.Book) error {
			b.Clear()
			return nil
		})
	})
}

// RecordLogin upserts a detected login. While tracking is paused it records
// nothing and returns Outcome.Paused. A domain is derived from Source when
// Login.Domain is empty.
func (s *Service) RecordLogin(ctx context.Context, l Login) (Outcome, error) {
	var out Outcome

	email := emailcheck.Normalize(l.Email)
	if ok, reason := s.validator.Check(email); !ok {
		metrics.RecordRejection(reason)
		return out, fmt.Errorf("%w: %s (%s)", ErrRejected, email, reason)
	}

	domain := s.domainFor(l)
	if domain == "" {
		return out, ErrInvalidDomain
	}
	method := l.Method
	if method == "" {
		method = MethodPage
	}

	err := s.do(ctx, func(st *state) error {
		out.Domain = domain
		if st.settings.IsPaused {
			out.Paused = true
			return nil
		}
		return s.mutate(ctx, "record_login", st, func(b *records.Book) error {
			out.IsNew = b.IsNew(domain, email)
			out.Record = b.UpsertAt(domain, email, l.Source, l.Timestamp)
			out.Recorded = true
			return nil
		})
	})
	if err != nil {
		return Outcome{}, err
	}

	if out.Recorded {
		metrics.RecordCapture(method, out.IsNew)
		s.logger.Info("login recorded", "domain", domain, "email", email, "method", method, "new", out.IsNew)
	}
	return out, nil
}

func (s *Service) domainFor(l Login) string {
	if d := strings.TrimSpace(l.Domain); d != "" {
		return s.domainKey(d)
	}
	if l.Source != "" {
		return s.norm.FromURL(l.Source)
	}
	return ""
}

// domainKey normalizes a bare host, or the host of anything URL-shaped
// ("acme.io/login", "acme.io:8443", "https://acme.io").
func (s *Service) domainKey(d string) string {
	d = strings.TrimSpace(d)
	if net.ParseIP(d) == nil && strings.ContainsAny(d, "/:?#") {
		return s.norm.FromURL(d)
	}
	return s.norm.Normalize(d)
}

// AddEmail manually records email for domain with an optional description.
func (s *Service) AddEmail(ctx context.Context, domain, email, description string) (records.EmailRecord, error) {
	var rec records.EmailRecord
	d := s.domainKey(domain)
	if d == "" {
		return rec, ErrInvalidDomain
	}
	e := emailcheck.Normalize(email)
	if !emailcheck.WellFormed(e) {
		return rec, fmt.Errorf("%w: %s (%s)", ErrRejected, e, emailcheck.ReasonShape)
	}

	err := s.do(ctx, func(st *state) error {
		return s.mutate(ctx, "add_email", st, func(b *records.Book) error {
			rec = b.Add(d, e, strings.TrimSpace(description))
			return nil
		})
	})
	return rec, err
}

// EditEmail renames oldEmail to newEmail for domain.
func (s *Service) EditEmail(ctx context.Context, domain, oldEmail, newEmail, description string) error {
	if !emailcheck.WellFormed(emailcheck.Normalize(newEmail)) {
		return fmt.Errorf("%w: %s (%s)", ErrRejected, newEmail, emailcheck.ReasonShape)
	}
	return s.do(ctx, func(st *state) error {
		return s.mutate(ctx, "edit_email", st, func(b *records.Book) error {
			if !b.Edit(domain, oldEmail, newEmail, description) {
				return records.ErrNotFound
			}
			return nil
		})
	})
}

// DeleteEmail removes one email from domain.
func (s *Service) DeleteEmail(ctx context.Context, domain, email string) error {
	return s.do(ctx, func(st *state) error {
		return s.mutate(ctx, "delete_email", st, func(b *records.Book) error {
			if !b.Remove(domain, email) {
				return records.ErrNotFound
			}
			return nil
		})
	})
}

// DeleteDomain removes every record for domain.
func (s *Service) DeleteDomain(ctx context.Context, domain string) error {
	return s.do(ctx, func(st *state) error {
		return s.mutate(ctx, "delete_domain", st, func(b *records.Book) error {
			if !b.RemoveDomain(domain) {
				return records.ErrNotFound
			}
			return nil
		})
	})
}

// IsNewEmail reports whether email has never been recorded for domain.
func (s *Service) IsNewEmail(ctx context.Context, domain, email string) (bool, error) {
	var isNew bool
	err := s.do(ctx, func(st *state) error {
		isNew = st.book.IsNew(domain, email)
		return nil
	})
	return isNew, err
}

// Settings returns the tracking settings.
func (s *Service) Settings(ctx context.Context) (records.TrackingSettings, error) {
	var out records.TrackingSettings
	err := s.do(ctx, func(st *state) error {
		out = st.settings
		return nil
	})
	return out, err
}

// TogglePause flips the pause flag and returns the new settings.
func (s *Service) TogglePause(ctx context.Context) (records.TrackingSettings, error) {
	var out records.TrackingSettings
	err := s.do(ctx, func(st *state) error {
		var err error
		out, err = s.setPaused(ctx, st, !st.settings.IsPaused)
		return err
	})
	return out, err
}

// SetPaused sets the pause flag.
func (s *Service) SetPaused(ctx context.Context, paused bool) (records.TrackingSettings, error) {
	var out records.TrackingSettings
	err := s.do(ctx, func(st *state) error {
		var err error
		out, err = s.setPaused(ctx, st, paused)
		return err
	})
	return out, err
}

func (s *Service) setPaused(ctx context.Context, st *state, paused bool) (records.TrackingSettings, error) {
	next := records.TrackingSettings{IsPaused: paused}
	if err := storage.SaveSettings(ctx, s.backend, next); err != nil {
		s.logger.Error("persist settings failed", "paused", paused, "error", err)
		return st.settings, err
	}
	st.settings = next
	s.logger.Info("tracking settings changed", "paused", paused)
	return next, nil
}

// Reload replaces in-memory state with what the backend holds, e.g. after a
// sync wrote to it from outside the service.
func (s *Service) Reload(ctx context.Context) error {
	return s.do(ctx, func(st *state) error {
		store, err := storage.LoadStore(ctx, s.backend)
		if err != nil {
			return err
		}
		settings, err := storage.LoadSettings(ctx, s.backend)
		if err != nil {
			return err
		}
		st.book.Replace(store)
		st.settings = settings
		return nil
	})
}

// Sync runs one sync round on the owning goroutine, so no record call can
// interleave with it, then reloads the store if the local side was written.
func (s *Service) Sync(ctx context.Context, syncer *reconcile.Syncer, strategy reconcile.Strategy) (reconcile.Result, error) {
	var res reconcile.Result
	err := s.do(ctx, func(st *state) error {
		res = syncer.Sync(ctx, strategy)
		metrics.RecordSync(res.Strategy, res.Success)
		if !res.LocalWritten {
			return nil
		}
		store, err := storage.LoadStore(ctx, s.backend)
		if err != nil {
			return err
		}
		st.book.Replace(store)
		return nil
	})
	return res, err
}

// Import merges incoming into the store with the given strategy, incoming
// playing the local side, and returns the resulting statistics.
func (s *Service) Import(ctx context.Context, incoming records.Store, strategy reconcile.Strategy) (records.Stats, error) {
	var st records.Stats
	err := s.do(ctx, func(state *state) error {
		return s.mutate(ctx, "import", state, func(b *records.Book) error {
			b.Replace(reconcile.Merge(incoming, b.Snapshot(), strategy, b.Cap()))
			st = b.Statistics()
			return nil
		})
	})
	if err == nil {
		s.logger.Info("records imported", "domains", st.DomainCount, "emails", st.EmailCount, "strategy", strategy.String())
	}
	return st, err
}

// RunSync runs a sync round every interval until ctx is done. Rounds go
// through Sync, so they are serialized with record calls.
func (s *Service) RunSync(ctx context.Context, syncer *reconcile.Syncer, strategy reconcile.Strategy, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("service: sync interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sync(ctx, syncer, strategy); err != nil {
				if errors.Is(err, ErrClosed) {
					return err
				}
				s.logger.Warn("periodic sync", "err", err)
			}
		}
	}
}
