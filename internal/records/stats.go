package records

import (
	"sort"
	"time"
)

// DomainStats summarizes one domain.
type DomainStats struct {
	Domain     string    `json:"domain"`
	EmailCount int       `json:"emailCount"`
	TotalUses  int       `json:"totalUses"`
	LastSeen   time.Time `json:"lastSeen"`
	TopEmail   string    `json:"topEmail"`
}

// Stats aggregates the whole store.
type Stats struct {
	DomainCount int           `json:"domainCount"`
	EmailCount  int           `json:"emailCount"`
	TotalUses   int           `json:"totalUses"`
	PerDomain   []DomainStats `json:"perDomain"`
}

// Statistics aggregates s. PerDomain is ordered by total uses, busiest first.
func (s Store) Statistics() Stats {
	st := Stats{PerDomain: make([]DomainStats, 0, len(s))}
	for domain, list := range s {
		ds := DomainStats{Domain: domain, EmailCount: len(list)}
		top := -1
		for _, r := range list {
			ds.TotalUses += r.UseCount
			if r.LastSeen.After(ds.LastSeen) {
				ds.LastSeen = r.LastSeen
			}
			if r.UseCount > top {
				top = r.UseCount
				ds.TopEmail = r.Email
			}
		}
		st.DomainCount++
		st.EmailCount += ds.EmailCount
		st.TotalUses += ds.TotalUses
		st.PerDomain = append(st.PerDomain, ds)
	}

	sort.Slice(st.PerDomain, func(i, j int) bool {
		a, b := st.PerDomain[i], st.PerDomain[j]
		if a.TotalUses != b.TotalUses {
			return a.TotalUses > b.TotalUses
		}
		return a.Domain < b.Domain
	})
	return st
}

// Statistics aggregates the book's store.
func (b *Book) Statistics() Stats {
	return b.store.Statistics()
}
