// Package reconcile merges a local and a remote record store and writes the
// result back to both.
package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/FranksOps/mailmark/internal/records"
)

// Strategy decides which copy of a record survives when both stores hold it.
type Strategy int

const (
	LatestWins Strategy = iota
	LocalWins
	RemoteWins
)

func (s Strategy) String() string {
	switch s {
	case LocalWins:
		return "local_wins"
	case RemoteWins:
		return "remote_wins"
	default:
		return "latest_wins"
	}
}

// ParseStrategy accepts local_wins, remote_wins or latest_wins. Empty input
// yields LatestWins.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "latest_wins", "latest":
		return LatestWins, nil
	case "local_wins", "local":
		return LocalWins, nil
	case "remote_wins", "remote":
		return RemoteWins, nil
	default:
		return LatestWins, fmt.Errorf("unknown sync strategy %q", s)
	}
}

// Merge combines local and remote. The result starts as a copy of remote;
// records only present locally are added and records present in both are
// resolved by s. With LatestWins a tie keeps the remote record. Every list is
// re-sorted by LastSeen, newest first, and truncated to cap.
func Merge(local, remote records.Store, s Strategy, cap int) records.Store {
	if cap <= 0 {
		cap = records.DefaultCap
	}
	out := remote.Clone()

	for domain, localList := range local {
		merged := out[domain]
		for _, lr := range localList {
			i := merged.Index(lr.Email)
			if i < 0 {
				merged = append(merged, lr)
				continue
			}
			if pickLocal(lr, merged[i], s) {
				merged[i] = lr
			}
		}
		out[domain] = merged
	}

	for domain, list := range out {
		if len(list) == 0 {
			delete(out, domain)
			continue
		}
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].LastSeen.After(list[j].LastSeen)
		})
		if len(list) > cap {
			list = list[:cap]
		}
		out[domain] = list
	}
	return out
}

func pickLocal(local, remote records.EmailRecord, s Strategy) bool {
	switch s {
	case LocalWins:
		return true
	case RemoteWins:
		return false
	default:
		return local.LastSeen.After(remote.LastSeen)
	}
}
