package scraper

import (
	"bytes"
	"compress/gzip"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
)

const urlsetTmpl = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">%s</urlset>`

func urlset(locs ...string) string {
	var b strings.Builder
	for _, l := range locs {
		b.WriteString("<url><loc>" + l + "</loc></url>")
	}
	return strings.Replace(urlsetTmpl, "%s", b.String(), 1)
}

func sitemapIndex(locs ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, l := range locs {
		b.WriteString("<sitemap><loc>" + l + "</loc></sitemap>")
	}
	b.WriteString("</sitemapindex>")
	return b.String()
}

func xmlHandler(body func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(body()))
	}
}

func TestSitemapReader_Flat(t *testing.T) {
	ts := httptest.NewServer(xmlHandler(func() string {
		return urlset("https://acme.io/", " https://acme.io/login ")
	}))
	defer ts.Close()

	urls, err := NewSitemapReader(newTestFetcher(t, FetchConfig{}), nil).Read(context.Background(), ts.URL+"/sitemap.xml", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(urls) != 2 || urls[0] != "https://acme.io/" || urls[1] != "https://acme.io/login" {
		t.Errorf("urls = %v", urls)
	}
}

func TestSitemapReader_Index(t *testing.T) {
	var base string
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap_index.xml", xmlHandler(func() string {
		// The self reference must not loop.
		return sitemapIndex(base+"/pages.xml", base+"/accounts.xml", base+"/sitemap_index.xml", base+"/gone.xml")
	}))
	mux.HandleFunc("/pages.xml", xmlHandler(func() string {
		return urlset("https://acme.io/pricing")
	}))
	mux.HandleFunc("/accounts.xml", xmlHandler(func() string {
		return urlset("https://acme.io/signin", "https://acme.io/signup")
	}))
	ts := httptest.NewServer(mux)
	defer ts.Close()
	base = ts.URL

	urls, err := NewSitemapReader(newTestFetcher(t, FetchConfig{}), slog.Default()).Read(context.Background(), ts.URL+"/sitemap_index.xml", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sort.Strings(urls)
	want := []string{"https://acme.io/pricing", "https://acme.io/signin", "https://acme.io/signup"}
	if strings.Join(urls, ",") != strings.Join(want, ",") {
		t.Errorf("urls = %v, want %v", urls, want)
	}
}

func TestSitemapReader_FilterAndLimit(t *testing.T) {
	ts := httptest.NewServer(xmlHandler(func() string {
		return urlset("https://acme.io/a/login", "https://acme.io/blog", "https://acme.io/b/login", "https://acme.io/c/login")
	}))
	defer ts.Close()

	isLogin := func(u string) bool { return strings.HasSuffix(u, "/login") }
	urls, err := NewSitemapReader(newTestFetcher(t, FetchConfig{}), nil).Read(context.Background(), ts.URL, isLogin, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(urls, ",") != "https://acme.io/a/login,https://acme.io/b/login" {
		t.Errorf("urls = %v", urls)
	}
}

func TestSitemapReader_Gzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(urlset("https://acme.io/signin")))
	_ = zw.Close()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/gzip")
		_, _ = w.Write(buf.Bytes())
	}))
	defer ts.Close()

	urls, err := NewSitemapReader(newTestFetcher(t, FetchConfig{}), nil).Read(context.Background(), ts.URL+"/sitemap.xml.gz", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(urls) != 1 || urls[0] != "https://acme.io/signin" {
		t.Errorf("urls = %v", urls)
	}
}

func TestSitemapReader_BadStatus(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	_, err := NewSitemapReader(newTestFetcher(t, FetchConfig{}), nil).Read(context.Background(), ts.URL+"/sitemap.xml", nil, 0)
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Errorf("expected status error, got: %v", err)
	}
}

func TestSitemapReader_NotXML(t *testing.T) {
	ts := httptest.NewServer(xmlHandler(func() string { return "this is not xml" }))
	defer ts.Close()

	_, err := NewSitemapReader(newTestFetcher(t, FetchConfig{}), nil).Read(context.Background(), ts.URL+"/sitemap.xml", nil, 0)
	if err == nil || !strings.Contains(err.Error(), "not a sitemap or index") {
		t.Errorf("expected parsing error, got: %v", err)
	}
}
