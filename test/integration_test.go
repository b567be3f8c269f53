//go:build integration

package test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/mailmark/internal/fingerprint"
	"github.com/FranksOps/mailmark/internal/message"
	"github.com/FranksOps/mailmark/internal/observer"
	"github.com/FranksOps/mailmark/internal/pipeline"
	"github.com/FranksOps/mailmark/internal/reconcile"
	"github.com/FranksOps/mailmark/internal/records"
	"github.com/FranksOps/mailmark/internal/report"
	"github.com/FranksOps/mailmark/internal/rules"
	"github.com/FranksOps/mailmark/internal/scraper"
	"github.com/FranksOps/mailmark/internal/server"
	"github.com/FranksOps/mailmark/internal/service"
	"github.com/FranksOps/mailmark/internal/storage"
	"github.com/FranksOps/mailmark/internal/storage/jsonbackend"
	"github.com/FranksOps/mailmark/internal/storage/sqlite"
	"github.com/FranksOps/mailmark/pkg/proxy"
	"github.com/FranksOps/mailmark/pkg/ratelimit"
	"github.com/FranksOps/mailmark/pkg/useragent"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const signInPage = `<html><head><title>Sign in to Acme</title></head><body>
<form action="/session" method="post">
<input type="email" name="email" value="grace.hopper@acme.io">
<input type="password" name="password">
<button>Sign in</button>
</form></body></html>`

func html(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func newSQLiteService(t *testing.T) (*service.Service, storage.Backend) {
	t.Helper()
	backend, err := sqlite.New(filepath.Join(t.TempDir(), "mailmark.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	svc, err := service.New(context.Background(), backend, service.Options{Rules: rules.Default(), Logger: quiet})
	if err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc, backend
}

func newPipeline(t *testing.T, svc *service.Service, fcfg scraper.FetchConfig, crawl scraper.CrawlConfig) *pipeline.Pipeline {
	t.Helper()
	fetcher, err := scraper.NewFetcher(fcfg)
	if err != nil {
		t.Fatalf("create fetcher: %v", err)
	}
	obs, err := observer.New(rules.Default(), svc, quiet)
	if err != nil {
		t.Fatalf("create observer: %v", err)
	}
	t.Cleanup(obs.Close)
	return pipeline.New(fetcher, obs, pipeline.Config{Crawl: crawl}, quiet)
}

func TestIntegration_ScanToCSVExport(t *testing.T) {
	var uaSeen atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		uaSeen.Store(r.UserAgent())
		html(w, http.StatusOK, `<html><body><a href="/account/login">Log in</a> <a href="/blog">Blog</a> <a href="/verify">x</a></body></html>`)
	})
	mux.HandleFunc("/account/login", func(w http.ResponseWriter, r *http.Request) {
		html(w, http.StatusOK, signInPage)
	})
	mux.HandleFunc("/blog", func(w http.ResponseWriter, r *http.Request) {
		html(w, http.StatusOK, `<html><body>Write to press.desk@acme.io</body></html>`)
	})
	mux.HandleFunc("/verify", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		html(w, http.StatusForbidden, `<html><body>cf-browser-verification</body></html>`)
	})
	site := httptest.NewServer(mux)
	defer site.Close()

	svc, backend := newSQLiteService(t)
	p := newPipeline(t, svc, scraper.FetchConfig{
		Timeout:     5 * time.Second,
		Fingerprint: fingerprint.ProfileGo,
		UAPool:      useragent.NewPool([]string{"MailmarkIntegration/1.0"}),
		Limiter:     ratelimit.NewLimiter(0, 0),
	}, scraper.CrawlConfig{MaxDepth: 1, Concurrency: 2})

	sum, err := p.Scan(context.Background(), []string{site.URL})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if sum.Pages != 4 || sum.Walled != 1 || sum.Recorded != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if got, _ := uaSeen.Load().(string); got != "MailmarkIntegration/1.0" {
		t.Errorf("expected pooled User-Agent, got %q", got)
	}

	// The store survives a restart of the service over the same database.
	persisted, err := storage.LoadStore(context.Background(), backend)
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	// Loopback seeds are recorded under their literal address.
	list := persisted["127.0.0.1"]
	if len(list) != 1 || list[0].Email != "grace.hopper@acme.io" {
		t.Fatalf("unexpected persisted records: %+v", persisted)
	}
	if !strings.HasSuffix(list[0].SourceURL, "/account/login") {
		t.Errorf("source = %q, want the sign-in page", list[0].SourceURL)
	}

	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, report.Build(persisted, time.Now())); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 2 || rows[1][1] != "grace.hopper@acme.io" || rows[1][4] != "1" {
		t.Errorf("unexpected csv export: %v", rows)
	}
}

func TestIntegration_ScanThroughProxy(t *testing.T) {
	var proxyHits atomic.Int32
	// Acts as a forward proxy for shop.acme.io, which does not resolve.
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxyHits.Add(1)
		if r.URL.Host != "shop.acme.io" {
			http.Error(w, "unexpected host", http.StatusBadGateway)
			return
		}
		html(w, http.StatusOK, signInPage)
	}))
	defer proxySrv.Close()

	pool := proxy.NewPool(proxy.Config{})
	if err := pool.Add(proxySrv.URL); err != nil {
		t.Fatalf("add proxy: %v", err)
	}

	svc, _ := newSQLiteService(t)
	p := newPipeline(t, svc, scraper.FetchConfig{
		Timeout:     5 * time.Second,
		Fingerprint: fingerprint.ProfileGo,
		ProxyPool:   pool,
	}, scraper.CrawlConfig{Concurrency: 1})

	sum, err := p.Scan(context.Background(), []string{"http://shop.acme.io/signin"})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if proxyHits.Load() == 0 {
		t.Fatal("expected the proxy to be used")
	}
	if sum.Recorded != 1 || sum.NewEmails != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	m, err := svc.Mappings(context.Background())
	if err != nil {
		t.Fatalf("mappings: %v", err)
	}
	if got := m["acme.io"]; len(got) != 1 || got[0].Email != "grace.hopper@acme.io" {
		t.Errorf("expected login recorded under acme.io, got %+v", m)
	}
}

func TestIntegration_ServerAndSync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, local := newSQLiteService(t)
	remote, err := jsonbackend.New(filepath.Join(t.TempDir(), "remote.json"))
	if err != nil {
		t.Fatalf("open remote: %v", err)
	}
	defer remote.Close()
	if err := storage.SaveStore(ctx, remote, records.Store{
		"github.com": {{Email: "linus.t@acme.io", LastSeen: time.Unix(1700000000, 0).UTC(), UseCount: 3}},
	}); err != nil {
		t.Fatalf("seed remote: %v", err)
	}

	syncer := reconcile.NewSyncer(local, remote, 5, quiet)
	d := message.NewDispatcher(svc, message.WithSyncer(syncer, reconcile.LatestWins), message.WithLogger(quiet))
	srv := server.New(server.Config{}, svc, d, quiet)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	base := "http://" + ln.Addr().String()

	post := func(body string) message.Reply {
		t.Helper()
		resp, err := http.Post(base+"/message", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		var reply message.Reply
		if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
			t.Fatalf("decode reply: %v", err)
		}
		return reply
	}

	if r := post(`{"type":"loginDetected","payload":{"email":"ada.l@acme.io","source":"https://accounts.acme.io/oauth/authorize"}}`); !r.Success {
		t.Fatalf("loginDetected failed: %s", r.Error)
	}
	if r := post(`{"type":"syncNow"}`); !r.Success {
		t.Fatalf("syncNow failed: %s", r.Error)
	}

	resp, err := http.Get(base + "/mappings")
	if err != nil {
		t.Fatalf("get mappings: %v", err)
	}
	var store records.Store
	err = json.NewDecoder(resp.Body).Decode(&store)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode mappings: %v", err)
	}
	if len(store["acme.io"]) != 1 || len(store["github.com"]) != 1 {
		t.Fatalf("expected local and remote records merged, got %+v", store)
	}

	remoteStore, err := storage.LoadStore(ctx, remote)
	if err != nil {
		t.Fatalf("load remote: %v", err)
	}
	if len(remoteStore["acme.io"]) != 1 {
		t.Errorf("expected sync to push acme.io to the remote, got %+v", remoteStore)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("server shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
