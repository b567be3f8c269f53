package observer

import (
	"fmt"
	"regexp"
	"strings"
)

// Patterns matches URLs against the OAuth/login trigger list. Entries are
// case-insensitive substrings, or regular expressions when prefixed "re:".
type Patterns struct {
	substrings []string
	regexps    []*regexp.Regexp
}

// CompilePatterns builds a matcher from raw pattern entries.
func CompilePatterns(raw []string) (*Patterns, error) {
	p := &Patterns{}
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if expr, ok := strings.CutPrefix(r, "re:"); ok {
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return nil, fmt.Errorf("pattern %q: %w", r, err)
			}
			p.regexps = append(p.regexps, re)
			continue
		}
		p.substrings = append(p.substrings, strings.ToLower(r))
	}
	return p, nil
}

// Match reports whether url hits any pattern.
func (p *Patterns) Match(url string) bool {
	if p == nil || url == "" {
		return false
	}
	lower := strings.ToLower(url)
	for _, s := range p.substrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	for _, re := range p.regexps {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}
