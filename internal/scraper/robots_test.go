package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const robotsBody = `
User-agent: *
Disallow: /account/
Allow: /account/login
Disallow: /*?sid=

User-agent: BadBot
Disallow: /

Sitemap: https://acme.io/sitemap.xml
Sitemap: https://acme.io/sitemap-accounts.xml
`

func serveRobots(t *testing.T, hits *atomic.Int32, body string, delay time.Duration) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		if hits != nil {
			hits.Add(1)
		}
		time.Sleep(delay)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestRobotsPolicy_Allowed(t *testing.T) {
	ts := serveRobots(t, nil, robotsBody, 0)
	policy := NewRobotsPolicy(newTestFetcher(t, FetchConfig{}), nil)

	tests := []struct {
		path  string
		agent string
		want  bool
	}{
		{"/pricing", "mailmark", true},
		{"/account/settings", "mailmark", false},
		{"/account/login", "mailmark", true},
		{"/signin?sid=42", "mailmark", false},
		{"/signin?next=/", "mailmark", true},
		{"/pricing", "BadBot", false},
	}
	for _, tt := range tests {
		got, err := policy.Allowed(context.Background(), ts.URL+tt.path, tt.agent)
		if err != nil {
			t.Fatalf("Allowed(%s): %v", tt.path, err)
		}
		if got != tt.want {
			t.Errorf("Allowed(%s, %s) = %v, want %v", tt.path, tt.agent, got, tt.want)
		}
	}
}

func TestRobotsPolicy_InvalidURL(t *testing.T) {
	policy := NewRobotsPolicy(newTestFetcher(t, FetchConfig{}), nil)
	if _, err := policy.Allowed(context.Background(), "http://%zz", "*"); err == nil {
		t.Fatal("expected an error for a malformed url")
	}
}

func TestRobotsPolicy_FetchesOncePerOrigin(t *testing.T) {
	var hits atomic.Int32
	ts := serveRobots(t, &hits, "User-agent: *\nDisallow:\n", 50*time.Millisecond)
	policy := NewRobotsPolicy(newTestFetcher(t, FetchConfig{}), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if ok, _ := policy.Allowed(context.Background(), ts.URL+"/p"+strings.Repeat("x", i), "*"); !ok {
				t.Errorf("path %d should be allowed", i)
			}
		}(i)
	}
	wg.Wait()

	if n := hits.Load(); n != 1 {
		t.Errorf("robots.txt fetched %d times, want 1", n)
	}
}

func TestRobotsPolicy_MissingFileAllows(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()
	policy := NewRobotsPolicy(newTestFetcher(t, FetchConfig{}), nil)

	allowed, err := policy.Allowed(context.Background(), ts.URL+"/anything", "Bot")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Error("a missing robots.txt must allow everything")
	}
}

func TestRobotsPolicy_Sitemaps(t *testing.T) {
	ts := serveRobots(t, nil, robotsBody, 0)
	policy := NewRobotsPolicy(newTestFetcher(t, FetchConfig{}), nil)

	for _, origin := range []string{ts.URL, strings.TrimPrefix(ts.URL, "http://")} {
		got := policy.Sitemaps(context.Background(), origin)
		if len(got) != 2 || got[1] != "https://acme.io/sitemap-accounts.xml" {
			t.Errorf("Sitemaps(%s) = %v", origin, got)
		}
	}
}
