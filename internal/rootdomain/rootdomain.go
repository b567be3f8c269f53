// Package rootdomain maps hostnames onto the root domain that email records
// are grouped under.
package rootdomain

import (
	"net"
	"net/url"
	"strings"

	"github.com/FranksOps/mailmark/internal/rules"
)

// Normalizer collapses hostnames to a root domain using a fixed set of
// multi-part public suffixes.
type Normalizer struct {
	suffixes map[string]struct{}
}

// New builds a Normalizer from the ruleset's multi-part suffixes.
func New(r rules.Ruleset) *Normalizer {
	n := &Normalizer{suffixes: make(map[string]struct{}, len(r.MultiPartSuffixes))}
	for _, s := range r.MultiPartSuffixes {
		n.suffixes[strings.ToLower(s)] = struct{}{}
	}
	return n
}

var defaultNormalizer = New(rules.Default())

// Normalize uses the default ruleset.
func Normalize(host string) string {
	return defaultNormalizer.Normalize(host)
}

// FromURL uses the default ruleset.
func FromURL(raw string) string {
	return defaultNormalizer.FromURL(raw)
}

// Normalize returns the root domain of host. It never fails: IP literals,
// empty or malformed input are returned lower-cased and otherwise unchanged.
func (n *Normalizer) Normalize(host string) string {
	h := trimWWW(strings.ToLower(strings.TrimSpace(host)))
	if net.ParseIP(h) != nil {
		return h
	}

	labels := strings.Split(h, ".")
	if len(labels) <= 2 {
		return h
	}
	for _, l := range labels {
		if l == "" {
			return h
		}
	}

	lastTwo := strings.Join(labels[len(labels)-2:], ".")
	if _, ok := n.suffixes[lastTwo]; ok {
		return trimWWW(strings.Join(labels[len(labels)-3:], "."))
	}
	return lastTwo
}

// trimWWW drops every leading "www." label, so a root chosen from the
// trailing labels can never itself start with one.
func trimWWW(h string) string {
	for strings.HasPrefix(h, "www.") {
		h = h[len("www."):]
	}
	return h
}

// FromURL extracts and normalizes the host of a URL. A missing scheme is
// tolerated; unparseable input yields "".
func (n *Normalizer) FromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	return n.Normalize(host)
}
