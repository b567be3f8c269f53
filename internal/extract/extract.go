// Package extract proposes email addresses from page material: DOM
// snapshots, URLs, JSON payloads and raw HTML/text.
//
// Each input kind has an ordered list of strategies. First returns the
// earliest candidate that passes validation; All returns every valid match
// in strategy order with duplicates removed. Malformed input yields no
// candidates rather than an error.
package extract

import (
	"regexp"
	"strings"

	"github.com/FranksOps/mailmark/internal/emailcheck"
	"github.com/FranksOps/mailmark/internal/rules"
)

// Kind identifies the shape of a Source.
type Kind int

const (
	KindDOM Kind = iota
	KindURLQuery
	KindJSON
	KindHTMLText
)

func (k Kind) String() string {
	switch k {
	case KindDOM:
		return "dom"
	case KindURLQuery:
		return "url"
	case KindJSON:
		return "json"
	case KindHTMLText:
		return "text"
	default:
		return "unknown"
	}
}

// Source is one piece of material to extract from.
type Source struct {
	Kind Kind
	Data []byte
}

// DOM wraps an HTML document snapshot.
func DOM(html []byte) Source { return Source{Kind: KindDOM, Data: html} }

// URLQuery wraps a raw URL whose query and fragment are inspected.
func URLQuery(rawURL string) Source { return Source{Kind: KindURLQuery, Data: []byte(rawURL)} }

// JSON wraps a raw JSON payload.
func JSON(payload []byte) Source { return Source{Kind: KindJSON, Data: payload} }

// HTMLText wraps raw HTML or plain text that is scanned with a regex.
func HTMLText(text string) Source { return Source{Kind: KindHTMLText, Data: []byte(text)} }

// emailRe finds email-like substrings inside larger text.
var emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// Extractor applies the per-kind strategies.
type Extractor struct {
	rules     rules.Ruleset
	validator *emailcheck.Validator
}

// New creates an Extractor. A nil validator is built from r.
func New(r rules.Ruleset, v *emailcheck.Validator) *Extractor {
	if v == nil {
		v = emailcheck.New(r)
	}
	return &Extractor{rules: r, validator: v}
}

// First returns the first valid candidate in strategy order.
func (e *Extractor) First(src Source) (string, bool) {
	for _, candidates := range e.candidates(src) {
		for _, c := range candidates {
			c = clean(c)
			if e.validator.Valid(c) {
				return emailcheck.Normalize(c), true
			}
		}
	}
	return "", false
}

// All returns every distinct valid candidate in strategy order.
func (e *Extractor) All(src Source) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, candidates := range e.candidates(src) {
		for _, c := range candidates {
			c = clean(c)
			if !e.validator.Valid(c) {
				continue
			}
			n := emailcheck.Normalize(c)
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}

// candidates returns one candidate list per strategy, highest priority first.
func (e *Extractor) candidates(src Source) [][]string {
	if len(src.Data) == 0 {
		return nil
	}
	switch src.Kind {
	case KindDOM:
		return e.fromDOM(src.Data)
	case KindURLQuery:
		return e.fromURL(string(src.Data))
	case KindJSON:
		return e.fromJSON(src.Data)
	case KindHTMLText:
		return [][]string{scanText(string(src.Data))}
	default:
		return nil
	}
}

func clean(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "mailto:")
	return strings.TrimRight(s, ".,;:")
}
