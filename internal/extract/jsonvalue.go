package extract

import (
	"sort"

	"github.com/tidwall/gjson"
)

// visitFunc is called for every scalar reached by walk, with the nearest
// object key (empty inside top-level arrays).
type visitFunc func(key string, v gjson.Result)

// walk visits a parsed JSON value depth-first. gjson results form a tagged
// union (String, Number, True, False, Null, JSON); containers are recursed
// into until maxDepth, below which the subtree is skipped. The input is a
// byte tree, so there are no cycles to guard against.
func walk(v gjson.Result, key string, depth, maxDepth int, visit visitFunc) {
	if depth > maxDepth {
		return
	}
	switch {
	case v.IsObject():
		v.ForEach(func(k, child gjson.Result) bool {
			walk(child, k.String(), depth+1, maxDepth, visit)
			return true
		})
	case v.IsArray():
		v.ForEach(func(_, child gjson.Result) bool {
			walk(child, key, depth+1, maxDepth, visit)
			return true
		})
	default:
		visit(key, v)
	}
}

func (e *Extractor) fromJSON(payload []byte) [][]string {
	if !gjson.ValidBytes(payload) {
		return nil
	}
	root := gjson.ParseBytes(payload)

	type hit struct {
		rank  int
		order int
		value string
	}
	var keyed []hit
	var scanned []string
	order := 0

	walk(root, "", 0, e.rules.MaxJSONDepth, func(key string, v gjson.Result) {
		if v.Type != gjson.String {
			return
		}
		s := v.String()
		if rank := e.rules.FieldKeyRank(key); rank >= 0 {
			keyed = append(keyed, hit{rank: rank, order: order, value: s})
			order++
		}
		scanned = append(scanned, scanText(s)...)
	})

	sort.SliceStable(keyed, func(i, j int) bool {
		if keyed[i].rank != keyed[j].rank {
			return keyed[i].rank < keyed[j].rank
		}
		return keyed[i].order < keyed[j].order
	})
	byKey := make([]string, 0, len(keyed))
	for _, h := range keyed {
		byKey = append(byKey, h.value)
	}

	return [][]string{byKey, scanned}
}
