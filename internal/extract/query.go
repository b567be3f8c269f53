package extract

import (
	"net/url"
	"sort"
	"strings"
)

func (e *Extractor) fromURL(raw string) [][]string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}

	query := u.Query()
	fragment, _ := url.ParseQuery(u.Fragment)

	return [][]string{
		e.keyedParams(query),
		scanParams(query),
		e.keyedParams(fragment),
		scanParams(fragment),
	}
}

// keyedParams returns values of identity parameters such as login_hint,
// ordered by the ruleset's key priority.
func (e *Extractor) keyedParams(values url.Values) []string {
	type hit struct {
		rank  int
		value string
	}
	var hits []hit
	for k, vs := range values {
		rank := e.rules.FieldKeyRank(k)
		if rank < 0 {
			continue
		}
		for _, v := range vs {
			hits = append(hits, hit{rank: rank, value: v})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank < hits[j].rank
		}
		return hits[i].value < hits[j].value
	})

	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.value)
	}
	return out
}

// scanParams regex-scans every parameter value in key order, which also
// catches addresses nested inside redirect_uri style values.
func scanParams(values url.Values) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		for _, v := range values[k] {
			out = append(out, scanText(v)...)
		}
	}
	return out
}
