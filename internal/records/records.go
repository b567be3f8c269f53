// Package records implements the per-domain email history: a mapping from
// root domain to a bounded, most-recently-touched-first list of records.
package records

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/FranksOps/mailmark/internal/emailcheck"
	"github.com/FranksOps/mailmark/internal/rootdomain"
)

// DefaultCap is the number of records kept per domain when none is configured.
const DefaultCap = 5

// ErrNotFound is returned when a domain or email has no record.
var ErrNotFound = errors.New("record not found")

// EmailRecord is one observed email for a domain.
type EmailRecord struct {
	Email       string    `json:"email"`
	SourceURL   string    `json:"sourceUrl"`
	LastSeen    time.Time `json:"lastSeen"`
	UseCount    int       `json:"useCount"`
	Description string    `json:"description,omitempty"`
}

// DomainRecordList is ordered most-recently-touched first.
type DomainRecordList []EmailRecord

// Index returns the position of email in the list, or -1.
func (l DomainRecordList) Index(email string) int {
	for i, r := range l {
		if r.Email == email {
			return i
		}
	}
	return -1
}

// Store maps a root domain to its record list.
type Store map[string]DomainRecordList

// Clone returns a deep copy of s.
func (s Store) Clone() Store {
	out := make(Store, len(s))
	for d, l := range s {
		cp := make(DomainRecordList, len(l))
		copy(cp, l)
		out[d] = cp
	}
	return out
}

// Domains returns the domain keys sorted alphabetically.
func (s Store) Domains() []string {
	keys := make([]string, 0, len(s))
	for d := range s {
		keys = append(keys, d)
	}
	sort.Strings(keys)
	return keys
}

// TrackingSettings gates whether extraction events are persisted.
type TrackingSettings struct {
	IsPaused bool `json:"isPaused"`
}

// Book applies the record operations to a Store. It is not safe for
// concurrent use; the service package serializes access to it.
type Book struct {
	store Store
	cap   int
	now   func() time.Time
	norm  func(string) string
}

// Option configures a Book.
type Option func(*Book)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Book) { b.now = now }
}

// WithNormalizer overrides the domain normalizer.
func WithNormalizer(n *rootdomain.Normalizer) Option {
	return func(b *Book) { b.norm = n.Normalize }
}

// NewBook wraps store (which may be nil) with the given per-domain cap.
func NewBook(store Store, cap int, opts ...Option) *Book {
	if store == nil {
		store = make(Store)
	}
	if cap <= 0 {
		cap = DefaultCap
	}
	b := &Book{
		store: store,
		cap:   cap,
		now:   time.Now,
		norm:  rootdomain.Normalize,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Cap returns the per-domain record limit.
func (b *Book) Cap() int { return b.cap }

// Snapshot returns a deep copy of the current store.
func (b *Book) Snapshot() Store { return b.store.Clone() }

// Replace swaps the whole store, e.g. after a sync.
func (b *Book) Replace(s Store) {
	if s == nil {
		s = make(Store)
	}
	b.store = s.Clone()
}

// List returns a copy of one domain's records.
func (b *Book) List(domain string) DomainRecordList {
	l := b.store[b.norm(domain)]
	cp := make(DomainRecordList, len(l))
	copy(cp, l)
	return cp
}

// Upsert records that email was seen on domain. An existing record has its
// count incremented, timestamp and source refreshed and moves to the head;
// a new record is inserted at the head and the list is truncated to the cap.
func (b *Book) Upsert(domain, email, sourceURL string) EmailRecord {
	return b.touch(domain, email, sourceURL, "", b.now())
}

// UpsertAt is Upsert with an explicit observation time. A time older than
// the domain's newer records places the record behind them, and never moves
// an existing record's LastSeen backwards.
func (b *Book) UpsertAt(domain, email, sourceURL string, seen time.Time) EmailRecord {
	if seen.IsZero() {
		seen = b.now()
	}
	return b.touch(domain, email, sourceURL, "", seen)
}

// Add inserts or refreshes a manually entered email with a description.
func (b *Book) Add(domain, email, description string) EmailRecord {
	return b.touch(domain, email, "", description, b.now())
}

func (b *Book) touch(domain, email, sourceURL, description string, seen time.Time) EmailRecord {
	d := b.norm(domain)
	e := emailcheck.Normalize(email)
	list := b.store[d]

	var rec EmailRecord
	if i := list.Index(e); i >= 0 {
		rec = list[i]
		rec.UseCount++
		if seen.After(rec.LastSeen) {
			rec.LastSeen = seen
		}
		if sourceURL != "" {
			rec.SourceURL = sourceURL
		}
		if description != "" {
			rec.Description = description
		}
		list = append(list[:i:i], list[i+1:]...)
	} else {
		rec = EmailRecord{
			Email:       e,
			SourceURL:   sourceURL,
			LastSeen:    seen,
			UseCount:    1,
			Description: description,
		}
	}

	// Lists stay ordered by LastSeen, newest first. A current timestamp
	// lands at the head; a back-dated one slots in behind newer records.
	at := 0
	for at < len(list) && list[at].LastSeen.After(rec.LastSeen) {
		at++
	}
	next := make(DomainRecordList, 0, len(list)+1)
	next = append(next, list[:at]...)
	next = append(next, rec)
	next = append(next, list[at:]...)
	if len(next) > b.cap {
		next = next[:b.cap]
	}
	b.store[d] = next
	return rec
}

// Remove deletes one email. The domain key is dropped when its list empties.
func (b *Book) Remove(domain, email string) bool {
	d := b.norm(domain)
	list, ok := b.store[d]
	if !ok {
		return false
	}
	i := list.Index(emailcheck.Normalize(email))
	if i < 0 {
		return false
	}
	list = append(list[:i:i], list[i+1:]...)
	if len(list) == 0 {
		delete(b.store, d)
	} else {
		b.store[d] = list
	}
	return true
}

// RemoveDomain deletes every record for domain.
func (b *Book) RemoveDomain(domain string) bool {
	d := b.norm(domain)
	if _, ok := b.store[d]; !ok {
		return false
	}
	delete(b.store, d)
	return true
}

// Clear empties the store.
func (b *Book) Clear() {
	b.store = make(Store)
}

// Edit renames oldEmail to newEmail in place and refreshes its timestamp.
// A non-empty description replaces the old one. Renaming onto an email that
// already exists for the domain folds the two records together.
func (b *Book) Edit(domain, oldEmail, newEmail, description string) bool {
	d := b.norm(domain)
	list := b.store[d]
	oldE, newE := emailcheck.Normalize(oldEmail), emailcheck.Normalize(newEmail)
	i := list.Index(oldE)
	if i < 0 || newE == "" {
		return false
	}

	list = append(DomainRecordList(nil), list...)
	rec := list[i]
	rec.Email = newE
	rec.LastSeen = b.now()
	if description != "" {
		rec.Description = strings.TrimSpace(description)
	}

	if j := list.Index(newE); j >= 0 && j != i {
		rec.UseCount += list[j].UseCount
		if rec.Description == "" {
			rec.Description = list[j].Description
		}
		list[i] = rec
		list = append(list[:j:j], list[j+1:]...)
	} else {
		list[i] = rec
	}
	b.store[d] = list
	return true
}

// IsNew reports whether email has never been recorded for domain.
func (b *Book) IsNew(domain, email string) bool {
	return b.store[b.norm(domain)].Index(emailcheck.Normalize(email)) < 0
}
