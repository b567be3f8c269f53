package analyzer

import "strings"

// TermMatch records where a login term appeared on a page.
type TermMatch struct {
	Term     string   `json:"term"`
	URL      string   `json:"url"`
	Count    int      `json:"count"`
	Snippets []string `json:"snippets"`
}

// FindTermMatches looks for each term, case-insensitively, in a page's
// visible snippets (headings, buttons, labels). Runs of whitespace count as a
// single space. One TermMatch is returned per term found, in term order.
func FindTermMatches(snippets []string, url string, terms []string) []TermMatch {
	kept := make([]string, 0, len(snippets))
	lowered := make([]string, 0, len(snippets))
	for _, s := range snippets {
		s = strings.Join(strings.Fields(s), " ")
		if s == "" {
			continue
		}
		kept = append(kept, s)
		lowered = append(lowered, strings.ToLower(s))
	}
	if len(kept) == 0 {
		return nil
	}

	var out []TermMatch
	for _, term := range terms {
		needle := strings.ToLower(strings.Join(strings.Fields(term), " "))
		if needle == "" {
			continue
		}
		m := TermMatch{Term: term, URL: url}
		for i, l := range lowered {
			if n := strings.Count(l, needle); n > 0 {
				m.Count += n
				m.Snippets = append(m.Snippets, kept[i])
			}
		}
		if m.Count > 0 {
			out = append(out, m)
		}
	}
	return out
}
