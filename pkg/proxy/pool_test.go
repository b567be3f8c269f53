package proxy

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestPool(t *testing.T, cfg Config, urls ...string) (*Pool, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	pool := NewPool(cfg)
	pool.now = c.now
	if err := pool.Add(urls...); err != nil {
		t.Fatalf("add proxies: %v", err)
	}
	return pool, c
}

func TestPool_AddAndNext(t *testing.T) {
	pool, _ := newTestPool(t, Config{}, "127.0.0.1:8080", "http://127.0.0.1:8081", "socks5://127.0.0.1:9050")

	want := []string{
		"http://127.0.0.1:8080",
		"http://127.0.0.1:8081",
		"socks5://127.0.0.1:9050",
		"http://127.0.0.1:8080",
	}
	for i, w := range want {
		if u := pool.Next(); u == nil || u.String() != w {
			t.Errorf("call %d: expected %s, got %v", i, w, u)
		}
	}
}

func TestPool_AddRejectsInvalid(t *testing.T) {
	pool := NewPool(Config{})
	for _, raw := range []string{"ftp://proxy.local:21", "http://", "http://%zz"} {
		if err := pool.Add("http://good.local:3128", raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
	if pool.Len() != 0 {
		t.Errorf("expected nothing added on error, got %d", pool.Len())
	}
}

func TestPool_AddSkipsDuplicates(t *testing.T) {
	pool, _ := newTestPool(t, Config{}, "proxy.local:3128", "http://proxy.local:3128")
	if pool.Len() != 1 {
		t.Errorf("expected 1 proxy, got %d", pool.Len())
	}
}

func TestPool_HealthTracking(t *testing.T) {
	pool, c := newTestPool(t, Config{MaxFailures: 2, Cooldown: time.Minute}, "http://a", "http://b")

	uA := pool.Next()
	if uA.String() != "http://a" {
		t.Fatalf("expected http://a, got %v", uA)
	}
	_ = pool.MarkFailure(uA)
	_ = pool.MarkFailure(uA)

	if got := pool.Healthy(); got != 1 {
		t.Errorf("expected 1 healthy proxy, got %d", got)
	}
	for i := 0; i < 2; i++ {
		if u := pool.Next(); u.String() != "http://b" {
			t.Fatalf("expected http://b while a cools down, got %v", u)
		}
	}

	c.advance(2 * time.Minute)
	if u := pool.Next(); u.String() != "http://a" {
		t.Fatalf("expected http://a after cooldown, got %v", u)
	}
	if got := pool.Healthy(); got != 2 {
		t.Errorf("expected 2 healthy proxies, got %d", got)
	}
}

func TestPool_SuccessForgivesFailure(t *testing.T) {
	pool, _ := newTestPool(t, Config{MaxFailures: 2}, "http://a")
	u := pool.Next()

	_ = pool.MarkFailure(u)
	_ = pool.MarkSuccess(u)
	_ = pool.MarkFailure(u)

	if pool.Next() == nil {
		t.Error("expected proxy to stay enabled")
	}
}

func TestPool_AllDisabled(t *testing.T) {
	pool, _ := newTestPool(t, Config{MaxFailures: 1, Cooldown: time.Hour}, "http://a")

	_ = pool.MarkFailure(pool.Next())
	if u := pool.Next(); u != nil {
		t.Errorf("expected nil when all proxies disabled, got %v", u)
	}
}

func TestPool_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.txt")
	content := `
# office egress
http://proxy1.local
proxy2.local:80

socks5://proxy3.local:1080
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write proxy file: %v", err)
	}

	pool := NewPool(Config{})
	if err := pool.LoadFile(path); err != nil {
		t.Fatalf("load file: %v", err)
	}

	expected := []string{"http://proxy1.local", "http://proxy2.local:80", "socks5://proxy3.local:1080"}
	for i, e := range expected {
		u := pool.Next()
		if u == nil || u.String() != e {
			t.Errorf("entry %d: expected %s, got %v", i, e, u)
		}
	}
}

func TestPool_LoadFileErrors(t *testing.T) {
	pool := NewPool(Config{})
	if err := pool.LoadFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(path, []byte("# nothing\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := pool.LoadFile(path); err == nil {
		t.Error("expected error for list without proxies")
	}
}

func TestPool_MarkUnknown(t *testing.T) {
	pool, _ := newTestPool(t, Config{}, "http://a")
	unknown, _ := url.Parse("http://unknown")

	if err := pool.MarkSuccess(unknown); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := pool.MarkFailure(unknown); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := pool.MarkFailure(nil); err == nil {
		t.Error("expected error for nil URL")
	}
}

func TestPool_Empty(t *testing.T) {
	pool := NewPool(Config{})
	if u := pool.Next(); u != nil {
		t.Errorf("expected nil on empty pool, got %v", u)
	}
	if pool.Healthy() != 0 {
		t.Error("expected no healthy proxies")
	}
}
