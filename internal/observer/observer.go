// Package observer turns completed navigations, requests and form submits
// into login records. Only URLs matching the trigger patterns are examined,
// except form submits and pages the analyzer classifies as sign-in pages.
package observer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/FranksOps/mailmark/internal/analyzer"
	"github.com/FranksOps/mailmark/internal/extract"
	"github.com/FranksOps/mailmark/internal/metrics"
	"github.com/FranksOps/mailmark/internal/rules"
	"github.com/FranksOps/mailmark/internal/service"
	"github.com/google/uuid"
)

// Kind classifies an Event.
type Kind string

const (
	KindNavigation Kind = "navigation"
	KindRequest    Kind = "request"
	KindFormSubmit Kind = "formSubmit"
	KindVisibility Kind = "visibility"
)

// Event is one completed network or page occurrence.
type Event struct {
	ID    string
	TabID string
	Kind  Kind
	// URL is the request or navigation target.
	URL string
	// PageURL is the top-level page the event happened in; when set it
	// decides the domain the login is recorded against.
	PageURL     string
	ContentType string
	Body        []byte
	Time        time.Time
}

// NewEvent fills in an ID and timestamp.
func NewEvent(kind Kind, tab, url string) Event {
	return Event{
		ID:    uuid.NewString(),
		TabID: tab,
		Kind:  kind,
		URL:   url,
		Time:  time.Now(),
	}
}

// Recorder persists detected logins.
type Recorder interface {
	RecordLogin(ctx context.Context, l service.Login) (service.Outcome, error)
}

// Observer extracts emails from events and hands them to a Recorder.
type Observer struct {
	rules     rules.Ruleset
	patterns  *Patterns
	extractor *extract.Extractor
	recorder  Recorder
	settler   *Settler
	logger    *slog.Logger
}

// New creates an Observer.
func New(r rules.Ruleset, rec Recorder, logger *slog.Logger) (*Observer, error) {
	r = r.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	p, err := CompilePatterns(r.OAuthPatterns)
	if err != nil {
		return nil, err
	}
	return &Observer{
		rules:     r,
		patterns:  p,
		extractor: extract.New(r, nil),
		recorder:  rec,
		settler:   NewSettler(logger),
		logger:    logger,
	}, nil
}

// Patterns exposes the compiled trigger patterns.
func (o *Observer) Patterns() *Patterns { return o.patterns }

// Submit routes ev through the settle queue. Navigations and visibility
// changes wait for the page to settle and are superseded by a later event on
// the same tab; other kinds are observed immediately.
func (o *Observer) Submit(ctx context.Context, ev Event) {
	if !o.Deferred(ev) {
		o.Observe(ctx, ev)
		return
	}
	o.settler.Schedule(ev.TabID, o.rules.SettleDelay, func(settled context.Context) {
		if ctx.Err() != nil {
			return
		}
		o.Observe(settled, ev)
	})
}

// Deferred reports whether Submit queues ev behind its tab's settle delay
// rather than observing it at once.
func (o *Observer) Deferred(ev Event) bool {
	return ev.TabID != "" && (ev.Kind == KindNavigation || ev.Kind == KindVisibility)
}

// TabClosed cancels any pending settle task for tab.
func (o *Observer) TabClosed(tab string) {
	o.settler.Cancel(tab)
}

// Close cancels pending settle tasks and waits for running ones.
func (o *Observer) Close() {
	o.settler.Close()
}

// Observe examines ev and records the first valid email it yields.
// Extraction failures are dropped silently.
func (o *Observer) Observe(ctx context.Context, ev Event) (service.Outcome, bool) {
	method, ok := o.qualify(ev)
	metrics.RecordEvent(string(ev.Kind), ok)
	if !ok {
		return service.Outcome{}, false
	}

	email, strategy, found := o.find(ev)
	if !found {
		o.logger.Debug("no email candidate", "event", ev.ID, "url", ev.URL)
		return service.Outcome{}, false
	}

	source := ev.URL
	domainFrom := ev.PageURL
	if domainFrom == "" {
		domainFrom = ev.URL
	}
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	out, err := o.recorder.RecordLogin(ctx, service.Login{
		Email:     email,
		Domain:    domainFrom,
		Timestamp: ts,
		Source:    source,
		Method:    method,
	})
	switch {
	case errors.Is(err, service.ErrRejected), errors.Is(err, service.ErrInvalidDomain):
		o.logger.Debug("candidate dropped", "event", ev.ID, "error", err)
		return service.Outcome{}, false
	case err != nil:
		o.logger.Warn("record login failed", "event", ev.ID, "url", ev.URL, "error", err)
		return service.Outcome{}, false
	}

	o.logger.Debug("event captured", "event", ev.ID, "strategy", strategy, "recorded", out.Recorded)
	return out, out.Recorded
}

// qualify decides whether ev is examined and which method it is tagged with.
func (o *Observer) qualify(ev Event) (string, bool) {
	switch ev.Kind {
	case KindFormSubmit:
		return service.MethodForm, true
	case KindNavigation, KindRequest:
		if o.patterns.Match(ev.URL) {
			return service.MethodOAuth, true
		}
	}
	if isHTML(ev) && analyzer.ScoreLoginPage(ev.Body, ev.URL, o.rules.LoginTerms).IsLogin {
		return service.MethodPage, true
	}
	return "", false
}

// find tries the URL, then a JSON body, then an HTML body, then plain text.
func (o *Observer) find(ev Event) (string, extract.Kind, bool) {
	if email, ok := o.extractor.First(extract.URLQuery(ev.URL)); ok {
		return email, extract.KindURLQuery, true
	}
	if len(ev.Body) == 0 {
		return "", 0, false
	}
	if isJSON(ev) {
		if email, ok := o.extractor.First(extract.JSON(ev.Body)); ok {
			return email, extract.KindJSON, true
		}
	}
	if isHTML(ev) {
		if email, ok := o.extractor.First(extract.DOM(ev.Body)); ok {
			return email, extract.KindDOM, true
		}
		return "", 0, false
	}
	if email, ok := o.extractor.First(extract.HTMLText(string(ev.Body))); ok {
		return email, extract.KindHTMLText, true
	}
	return "", 0, false
}

func isJSON(ev Event) bool {
	ct := strings.ToLower(ev.ContentType)
	if strings.Contains(ct, "json") {
		return true
	}
	if ct != "" {
		return false
	}
	b := bytes.TrimSpace(ev.Body)
	return len(b) > 0 && (b[0] == '{' || b[0] == '[')
}

func isHTML(ev Event) bool {
	if len(ev.Body) == 0 {
		return false
	}
	ct := strings.ToLower(ev.ContentType)
	if strings.Contains(ct, "html") {
		return true
	}
	if ct != "" {
		return false
	}
	head := bytes.ToLower(bytes.TrimSpace(ev.Body[:min(len(ev.Body), 512)]))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html")) || bytes.Contains(head, []byte("<form"))
}
