// Package message implements the request/reply boundary used by every
// front end: a type tag plus a JSON payload in, {success, error, data} out.
package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/FranksOps/mailmark/internal/observer"
	"github.com/FranksOps/mailmark/internal/reconcile"
	"github.com/FranksOps/mailmark/internal/service"
	"github.com/go-playground/validator/v10"
)

// Request types.
const (
	TypeGetEmailMappings  = "getEmailMappings"
	TypeClearAllData      = "clearAllData"
	TypeLoginDetected     = "loginDetected"
	TypeAddEmail          = "addEmail"
	TypeEditEmail         = "editEmail"
	TypeDeleteEmail       = "deleteEmail"
	TypeDeleteDomain      = "deleteDomain"
	TypeCheckNewEmail     = "checkNewEmail"
	TypeGetTrackingStatus = "getTrackingStatus"
	TypeToggleTracking    = "toggleTracking"
	TypeGetStatistics     = "getStatistics"
	TypeSyncNow           = "syncNow"
	TypePageEvent         = "pageEvent"
	TypeTabClosed         = "tabClosed"
)

// Request is one inbound message.
type Request struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reply is the answer to a Request.
type Reply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// LoginPayload is the loginDetected payload. Timestamp is milliseconds since
// the Unix epoch; zero means now.
type LoginPayload struct {
	Email     string `json:"email" validate:"required,max=254"`
	Domain    string `json:"domain" validate:"required_without=Source,max=253"`
	Timestamp int64  `json:"timestamp" validate:"gte=0"`
	Source    string `json:"source" validate:"omitempty,max=4096"`
	Method    string `json:"method" validate:"omitempty,oneof=oauth form page manual"`
}

// EmailPayload addresses one email of a domain.
type EmailPayload struct {
	Domain      string `json:"domain" validate:"required,max=253"`
	Email       string `json:"email" validate:"required,email"`
	Description string `json:"description" validate:"max=200"`
}

// EditPayload renames an email.
type EditPayload struct {
	Domain      string `json:"domain" validate:"required,max=253"`
	OldEmail    string `json:"oldEmail" validate:"required"`
	NewEmail    string `json:"newEmail" validate:"required,email"`
	Description string `json:"description" validate:"max=200"`
}

// DomainPayload addresses a domain.
type DomainPayload struct {
	Domain string `json:"domain" validate:"required,max=253"`
}

// SyncPayload selects a merge strategy.
type SyncPayload struct {
	Strategy string `json:"strategy" validate:"omitempty,oneof=local_wins remote_wins latest_wins"`
}

// PageEventPayload is a completed navigation, request, form submit or
// visibility change reported by a front end. Body carries the response or
// page content as text.
type PageEventPayload struct {
	TabID       string `json:"tabId" validate:"max=128"`
	Kind        string `json:"kind" validate:"required,oneof=navigation request formSubmit visibility"`
	URL         string `json:"url" validate:"required,max=8192"`
	PageURL     string `json:"pageUrl" validate:"omitempty,max=8192"`
	ContentType string `json:"contentType" validate:"max=256"`
	Body        string `json:"body"`
	Timestamp   int64  `json:"timestamp" validate:"gte=0"`
}

// TabPayload addresses a browser tab.
type TabPayload struct {
	TabID string `json:"tabId" validate:"required,max=128"`
}

// EventResult answers a pageEvent. Queued events wait for their tab to
// settle and report nothing else.
type EventResult struct {
	Queued   bool             `json:"queued"`
	Recorded bool             `json:"recorded"`
	Outcome  *service.Outcome `json:"outcome,omitempty"`
}

// ErrUnknownType is reported for unrecognized request types.
var ErrUnknownType = errors.New("unknown message type")

// Dispatcher routes requests to the service.
type Dispatcher struct {
	svc      *service.Service
	syncer   *reconcile.Syncer
	strategy reconcile.Strategy
	observer *observer.Observer
	validate *validator.Validate
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSyncer enables syncNow with a default strategy.
func WithSyncer(s *reconcile.Syncer, strategy reconcile.Strategy) Option {
	return func(d *Dispatcher) {
		d.syncer = s
		d.strategy = strategy
	}
}

// WithObserver enables pageEvent and tabClosed. The observer must outlive the
// Dispatcher; the caller closes it.
func WithObserver(o *observer.Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a Dispatcher for svc.
func NewDispatcher(svc *service.Service, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Handle executes req and never panics on bad input: every failure becomes
// a Reply with Success false.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Reply {
	data, err := d.route(ctx, req)
	if err != nil {
		d.logger.Debug("message failed", "type", req.Type, "error", err)
		return Reply{Success: false, Error: err.Error()}
	}
	return Reply{Success: true, Data: data}
}

func (d *Dispatcher) route(ctx context.Context, req Request) (any, error) {
	switch req.Type {
	case TypeGetEmailMappings:
		return d.svc.Mappings(ctx)

	case TypeClearAllData:
		return nil, d.svc.ClearAll(ctx)

	case TypeLoginDetected:
		var p LoginPayload
		if err := d.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		var ts time.Time
		if p.Timestamp > 0 {
			ts = time.UnixMilli(p.Timestamp).UTC()
		}
		return d.svc.RecordLogin(ctx, service.Login{
			Email:     p.Email,
			Domain:    p.Domain,
			Timestamp: ts,
			Source:    p.Source,
			Method:    p.Method,
		})

	case TypeAddEmail:
		var p EmailPayload
		if err := d.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return d.svc.AddEmail(ctx, p.Domain, p.Email, p.Description)

	case TypeEditEmail:
		var p EditPayload
		if err := d.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return nil, d.svc.EditEmail(ctx, p.Domain, p.OldEmail, p.NewEmail, p.Description)

	case TypeDeleteEmail:
		var p EmailPayload
		if err := d.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return nil, d.svc.DeleteEmail(ctx, p.Domain, p.Email)

	case TypeDeleteDomain:
		var p DomainPayload
		if err := d.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return nil, d.svc.DeleteDomain(ctx, p.Domain)

	case TypeCheckNewEmail:
		var p EmailPayload
		if err := d.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		isNew, err := d.svc.IsNewEmail(ctx, p.Domain, p.Email)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"isNew": isNew}, nil

	case TypeGetTrackingStatus:
		return d.svc.Settings(ctx)

	case TypeToggleTracking:
		return d.svc.TogglePause(ctx)

	case TypeGetStatistics:
		return d.svc.Statistics(ctx)

	case TypeSyncNow:
		return d.syncNow(ctx, req.Payload)

	case TypePageEvent:
		return d.pageEvent(ctx, req.Payload)

	case TypeTabClosed:
		if d.observer == nil {
			return nil, errEventsDisabled
		}
		var p TabPayload
		if err := d.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		d.observer.TabClosed(p.TabID)
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, req.Type)
	}
}

var errEventsDisabled = errors.New("page events are not enabled")

func (d *Dispatcher) pageEvent(ctx context.Context, payload json.RawMessage) (any, error) {
	if d.observer == nil {
		return nil, errEventsDisabled
	}
	var p PageEventPayload
	if err := d.decode(payload, &p); err != nil {
		return nil, err
	}
	ev := observer.NewEvent(observer.Kind(p.Kind), p.TabID, p.URL)
	ev.PageURL = p.PageURL
	ev.ContentType = p.ContentType
	ev.Body = []byte(p.Body)
	if p.Timestamp > 0 {
		ev.Time = time.UnixMilli(p.Timestamp).UTC()
	}

	if d.observer.Deferred(ev) {
		// The settle task outlives this request.
		d.observer.Submit(context.WithoutCancel(ctx), ev)
		return EventResult{Queued: true}, nil
	}
	out, ok := d.observer.Observe(ctx, ev)
	if !ok {
		return EventResult{}, nil
	}
	return EventResult{Recorded: true, Outcome: &out}, nil
}

func (d *Dispatcher) syncNow(ctx context.Context, payload json.RawMessage) (any, error) {
	if d.syncer == nil {
		return nil, errors.New("sync is not configured")
	}
	var p SyncPayload
	if err := d.decode(payload, &p); err != nil {
		return nil, err
	}
	strategy := d.strategy
	if p.Strategy != "" {
		s, err := reconcile.ParseStrategy(p.Strategy)
		if err != nil {
			return nil, err
		}
		strategy = s
	}

	res, err := d.svc.Sync(ctx, d.syncer, strategy)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return res, errors.New(res.Error)
	}
	return res, nil
}

// decode unmarshals and validates a payload. An absent payload decodes as
// the zero value so that validation reports the missing fields.
func (d *Dispatcher) decode(raw json.RawMessage, v any) error {
	if len(raw) > 0 && strings.TrimSpace(string(raw)) != "null" {
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
	}
	if err := d.validate.Struct(v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
