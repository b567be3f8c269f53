// Package report renders the record store and its statistics for humans and
// for export.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"strconv"
	"text/template"
	"time"

	"github.com/FranksOps/mailmark/internal/records"
)

// Domain is one domain's statistics together with its records.
type Domain struct {
	records.DomainStats
	Records records.DomainRecordList `json:"records"`
}

// Report is a point-in-time view of the whole store.
type Report struct {
	GeneratedAt time.Time `json:"generatedAt"`
	DomainCount int       `json:"domainCount"`
	EmailCount  int       `json:"emailCount"`
	TotalUses   int       `json:"totalUses"`
	Domains     []Domain  `json:"domains"`
}

// Build assembles a Report from store. Domains follow the statistics order,
// busiest first.
func Build(store records.Store, at time.Time) Report {
	st := store.Statistics()
	r := Report{
		GeneratedAt: at.UTC(),
		DomainCount: st.DomainCount,
		EmailCount:  st.EmailCount,
		TotalUses:   st.TotalUses,
		Domains:     make([]Domain, 0, len(st.PerDomain)),
	}
	for _, ds := range st.PerDomain {
		list := make(records.DomainRecordList, len(store[ds.Domain]))
		copy(list, store[ds.Domain])
		r.Domains = append(r.Domains, Domain{DomainStats: ds, Records: list})
	}
	return r
}

// WriteJSON writes the report to the provided writer in JSON format.
func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}
	return nil
}

const textTmpl = `Mailmark Summary
----------------
Generated:  {{.GeneratedAt.Format "2006-01-02 15:04:05"}}
Domains:    {{.DomainCount}}
Emails:     {{.EmailCount}}
Total uses: {{.TotalUses}}
{{range .Domains}}
{{.Domain}} ({{.EmailCount}} emails, {{.TotalUses}} uses, last seen {{.LastSeen.Format "2006-01-02 15:04"}})
{{- range .Records}}
  {{.Email}}  x{{.UseCount}}  {{.LastSeen.Format "2006-01-02 15:04"}}{{if .Description}}  "{{.Description}}"{{end}}
{{- end}}
{{else}}
No emails recorded.
{{end}}`

var textReport = template.Must(template.New("textReport").Parse(textTmpl))

// WriteText writes a human-readable text report to the provided writer.
func WriteText(w io.Writer, r Report) error {
	if err := textReport.Execute(w, r); err != nil {
		return fmt.Errorf("report: render text: %w", err)
	}
	return nil
}

const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Mailmark Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>Mailmark Report</h1>
  <p><strong>Generated:</strong> {{.GeneratedAt.Format "2006-01-02 15:04:05"}}</p>

  <div class="stat-card">
    <div>Domains</div>
    <div class="stat-val">{{.DomainCount}}</div>
  </div>
  <div class="stat-card">
    <div>Emails</div>
    <div class="stat-val">{{.EmailCount}}</div>
  </div>
  <div class="stat-card">
    <div>Total Uses</div>
    <div class="stat-val">{{.TotalUses}}</div>
  </div>
{{range .Domains}}
  <h3>{{.Domain}}</h3>
  <table>
    <tr><th>Email</th><th>Uses</th><th>Last Seen</th><th>Source</th><th>Description</th></tr>
    {{- range .Records}}
    <tr><td>{{.Email}}</td><td>{{.UseCount}}</td><td>{{.LastSeen.Format "2006-01-02 15:04"}}</td><td>{{.SourceURL}}</td><td>{{.Description}}</td></tr>
    {{- end}}
  </table>
{{else}}
  <p>No emails recorded.</p>
{{end}}
</body>
</html>
`

var htmlReport = htmltemplate.Must(htmltemplate.New("htmlReport").Parse(htmlTmpl))

// WriteHTML writes an HTML report to the provided writer. Values are
// escaped by html/template.
func WriteHTML(w io.Writer, r Report) error {
	if err := htmlReport.Execute(w, r); err != nil {
		return fmt.Errorf("report: render html: %w", err)
	}
	return nil
}

// CSVHeader is the first row written by WriteCSV.
var CSVHeader = []string{"domain", "email", "source_url", "last_seen", "use_count", "description"}

// WriteCSV exports every record, one row per domain/email pair.
func WriteCSV(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("report: write csv header: %w", err)
	}
	for _, d := range r.Domains {
		for _, rec := range d.Records {
			row := []string{
				d.Domain,
				rec.Email,
				rec.SourceURL,
				rec.LastSeen.UTC().Format(time.RFC3339),
				strconv.Itoa(rec.UseCount),
				rec.Description,
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("report: write csv row: %w", err)
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("report: flush csv: %w", err)
	}
	return nil
}

// Writer renders a report in one format.
type Writer func(io.Writer, Report) error

// ForFormat returns the writer for "text", "json", "html" or "csv".
func ForFormat(format string) (Writer, error) {
	switch format {
	case "", "text":
		return WriteText, nil
	case "json":
		return WriteJSON, nil
	case "html":
		return WriteHTML, nil
	case "csv":
		return WriteCSV, nil
	}
	return nil, fmt.Errorf("report: unknown format %q", format)
}
