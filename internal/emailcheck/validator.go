// Package emailcheck filters candidate strings down to plausible user email
// addresses. It is a heuristic filter, not an RFC 5322 validator.
package emailcheck

import (
	"regexp"
	"strings"

	"github.com/FranksOps/mailmark/internal/rules"
)

// Rejection reasons reported by Check.
const (
	ReasonShape      = "shape"
	ReasonDenylist   = "denylist"
	ReasonPlusSigns  = "plus_signs"
	ReasonDigits     = "digit_local"
	ReasonHexRun     = "hex_run"
	ReasonLongTLD    = "long_tld"
	ReasonLength     = "length"
	ReasonSuspicious = "suspicious_local"
)

var (
	shapeRe       = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	digitsOnlyRe  = regexp.MustCompile(`^[0-9]{10,}$`)
	hexRunRe      = regexp.MustCompile(`[0-9a-fA-F]{32,}`)
	pureHexRe     = regexp.MustCompile(`^[0-9a-fA-F]{8,}$`)
	pureDigitsRe  = regexp.MustCompile(`^[0-9]{6,}$`)
	underscoresRe = regexp.MustCompile(`_{10,}`)
	dotsRe        = regexp.MustCompile(`\.{5,}`)
)

// Validator accepts or rejects candidate emails against a ruleset.
type Validator struct {
	denylist  []string
	providers map[string]struct{}
}

// New creates a Validator from the ruleset's deny and allow lists.
func New(r rules.Ruleset) *Validator {
	v := &Validator{
		providers: make(map[string]struct{}, len(r.ProviderAllowlist)),
	}
	for _, d := range r.Denylist {
		v.denylist = append(v.denylist, strings.ToLower(d))
	}
	for _, p := range r.ProviderAllowlist {
		v.providers[strings.ToLower(p)] = struct{}{}
	}
	return v
}

// Valid reports whether candidate passes every check.
func (v *Validator) Valid(candidate string) bool {
	ok, _ := v.Check(candidate)
	return ok
}

// Check runs the checks in order and returns the first rejection reason.
func (v *Validator) Check(candidate string) (bool, string) {
	c := strings.TrimSpace(candidate)
	if !shapeRe.MatchString(c) {
		return false, ReasonShape
	}

	lower := strings.ToLower(c)
	for _, frag := range v.denylist {
		if strings.Contains(lower, frag) {
			return false, ReasonDenylist
		}
	}

	at := strings.LastIndex(lower, "@")
	local, domain := lower[:at], lower[at+1:]

	if strings.Count(local, "+") > 1 {
		return false, ReasonPlusSigns
	}
	if digitsOnlyRe.MatchString(local) {
		return false, ReasonDigits
	}
	if hexRunRe.MatchString(c) {
		return false, ReasonHexRun
	}
	tld := domain[strings.LastIndex(domain, ".")+1:]
	if len(tld) > 9 {
		return false, ReasonLongTLD
	}

	if _, ok := v.providers[domain]; ok {
		return true, ""
	}

	if len(local) < 2 || len(local) > 30 || len(domain) < 4 || len(domain) > 50 {
		return false, ReasonLength
	}
	if pureHexRe.MatchString(local) || pureDigitsRe.MatchString(local) ||
		underscoresRe.MatchString(local) || dotsRe.MatchString(local) {
		return false, ReasonSuspicious
	}
	return true, ""
}

// Normalize lower-cases and trims an email address.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// WellFormed reports whether s has the basic shape of an email address,
// without applying any of the heuristic checks.
func WellFormed(s string) bool {
	return shapeRe.MatchString(strings.TrimSpace(s))
}
