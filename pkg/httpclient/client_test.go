package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FranksOps/mailmark/pkg/ratelimit"
)

// newSite serves the small set of routes the tests below exercise.
func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	})
	mux.HandleFunc("/hop/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/hop/b", http.StatusFound)
	})
	mux.HandleFunc("/hop/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ok", http.StatusFound)
	})
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc123"})
	})
	mux.HandleFunc("/account", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sid"); err != nil || c.Value != "abc123" {
			w.WriteHeader(http.StatusForbidden)
		}
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Agent", r.Header.Get("User-Agent"))
		w.Header().Set("X-Seen-Lang", r.Header.Get("Accept-Language"))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, c *Client, ctx context.Context, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := c.Do(ctx, req)
	if err == nil {
		t.Cleanup(func() { resp.Body.Close() })
	}
	return resp, err
}

func TestClient_TimeoutApplies(t *testing.T) {
	ts := newSite(t)
	c, err := New(Config{Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := get(t, c, context.Background(), ts.URL+"/slow"); err == nil {
		t.Fatal("slow response should time out")
	}
}

func TestClient_DefaultTimeout(t *testing.T) {
	c, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Timeout != 30*time.Second {
		t.Errorf("default timeout = %v", c.Timeout)
	}
}

func TestClient_RedirectPolicy(t *testing.T) {
	ts := newSite(t)
	tests := []struct {
		name     string
		max      int
		wantErr  bool
		wantCode int
	}{
		{name: "follows within limit", max: 5, wantCode: http.StatusOK},
		{name: "stops past limit", max: 1, wantErr: true},
		{name: "negative disables", max: -1, wantCode: http.StatusFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(Config{MaxRedirects: tt.max})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			resp, err := get(t, c, context.Background(), ts.URL+"/hop/a")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected redirect error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Do: %v", err)
			}
			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
		})
	}
}

func TestClient_CookieJar(t *testing.T) {
	ts := newSite(t)
	for _, jar := range []bool{true, false} {
		c, err := New(Config{UseCookieJar: jar})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := get(t, c, context.Background(), ts.URL+"/login"); err != nil {
			t.Fatalf("login: %v", err)
		}
		resp, err := get(t, c, context.Background(), ts.URL+"/account")
		if err != nil {
			t.Fatalf("account: %v", err)
		}
		want := http.StatusForbidden
		if jar {
			want = http.StatusOK
		}
		if resp.StatusCode != want {
			t.Errorf("jar=%v: status = %d, want %d", jar, resp.StatusCode, want)
		}
	}
}

func TestClient_NilContext(t *testing.T) {
	c, _ := New(Config{})
	req, _ := http.NewRequest(http.MethodGet, "http://127.0.0.1:1/", nil)
	if _, err := c.Do(nil, req); !errors.Is(err, ErrNilContext) {
		t.Errorf("err = %v, want ErrNilContext", err)
	}
}

func TestClient_CancelledContext(t *testing.T) {
	ts := newSite(t)
	c, _ := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := get(t, c, ctx, ts.URL+"/slow"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestClient_DefaultHeadersFillGaps(t *testing.T) {
	ts := newSite(t)
	c, err := New(Config{Headers: http.Header{
		"User-Agent":      {"mailmark"},
		"Accept-Language": {"en-US"},
	}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/echo", nil)
	req.Header.Set("User-Agent", "custom/1.0")
	resp, err := c.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Seen-Agent"); got != "custom/1.0" {
		t.Errorf("caller header overridden: %q", got)
	}
	if got := resp.Header.Get("X-Seen-Lang"); got != "en-US" {
		t.Errorf("default header missing: %q", got)
	}
	if req.Header.Get("Accept-Language") != "" {
		t.Error("defaults leaked into the caller's request")
	}
}

func TestClient_LimiterPaces(t *testing.T) {
	ts := newSite(t)
	c, err := New(Config{Limiter: ratelimit.NewLimiter(20, 0)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := get(t, c, context.Background(), ts.URL+"/ok"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	// Burst of one at 20 rps: two waits of ~50ms each.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("three paced requests took %v", elapsed)
	}
}

func TestClient_LimiterHonorsContext(t *testing.T) {
	ts := newSite(t)
	c, _ := New(Config{Limiter: ratelimit.NewLimiter(0.5, 0)})
	if _, err := get(t, c, context.Background(), ts.URL+"/ok"); err != nil {
		t.Fatalf("first request: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := get(t, c, ctx, ts.URL+"/ok"); err == nil {
		t.Fatal("second request should fail waiting for a token")
	}
}
