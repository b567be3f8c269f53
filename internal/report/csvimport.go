package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/FranksOps/mailmark/internal/emailcheck"
	"github.com/FranksOps/mailmark/internal/records"
	"github.com/FranksOps/mailmark/internal/rootdomain"
)

// ReadCSV parses an export written by WriteCSV back into a store. Rows with
// the wrong number of columns, an unusable domain or a malformed email are
// skipped and counted. Lists are ordered newest first; a domain/email pair
// listed twice keeps the newer row.
func ReadCSV(r io.Reader) (records.Store, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return records.Store{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("report: read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	if !strings.EqualFold(strings.Join(header, ","), strings.Join(CSVHeader, ",")) {
		return nil, 0, fmt.Errorf("report: unexpected csv header %q", header)
	}

	store := records.Store{}
	skipped := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("report: read csv: %w", err)
		}
		if len(row) != len(CSVHeader) {
			skipped++
			continue
		}

		domain := rootdomain.Normalize(row[0])
		email := emailcheck.Normalize(row[1])
		if domain == "" || !emailcheck.WellFormed(email) {
			skipped++
			continue
		}
		seen, _ := time.Parse(time.RFC3339, row[3])
		count, _ := strconv.Atoi(row[4])
		if count < 1 {
			count = 1
		}
		rec := records.EmailRecord{
			Email:       email,
			SourceURL:   row[2],
			LastSeen:    seen.UTC(),
			UseCount:    count,
			Description: row[5],
		}

		list := store[domain]
		if i := list.Index(email); i >= 0 {
			if rec.LastSeen.After(list[i].LastSeen) {
				list[i] = rec
			}
			continue
		}
		store[domain] = append(list, rec)
	}

	for _, list := range store {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].LastSeen.After(list[j].LastSeen)
		})
	}
	return store, skipped, nil
}
