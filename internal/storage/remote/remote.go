// Package remote stores values in a hosted key-value HTTP API:
// GET and PUT {base}/kv/{key}, authenticated with a bearer API key.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FranksOps/mailmark/internal/storage"
	"github.com/FranksOps/mailmark/pkg/httpclient"
	"github.com/FranksOps/mailmark/pkg/ratelimit"
)

// ensure remoteBackend implements storage.Backend
var _ storage.Backend = (*remoteBackend)(nil)

// maxBody caps how much of a response is read.
const maxBody = 8 << 20

// Config configures the remote backend.
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

type remoteBackend struct {
	base   *url.URL
	client *httpclient.Client
}

// New creates a remote storage.Backend.
func New(cfg Config) (storage.Backend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote base URL: %w", err)
	}

	headers := http.Header{"Accept": {"application/json"}}
	if cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: 3,
		Transport:    cfg.Transport,
		Headers:      headers,
		Limiter:      ratelimit.NewLimiter(cfg.RequestsPerSecond, 0),
	})
	if err != nil {
		return nil, err
	}

	return &remoteBackend{base: base, client: client}, nil
}

func (b *remoteBackend) keyURL(key string) string {
	return b.base.JoinPath("kv", key).String()
}

func (b *remoteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, b.keyURL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("remote get %s: %w", key, err)
	}

	resp, err := b.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("remote get %s: %w", key, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("remote get %s: read body: %w", key, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, storage.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, &StatusError{Op: "get", Key: key, Code: resp.StatusCode, Body: snippet(body)}
	}
	return body, nil
}

func (b *remoteBackend) Set(ctx context.Context, key string, value []byte) error {
	req, err := http.NewRequest(http.MethodPut, b.keyURL(key), bytes.NewReader(value))
	if err != nil {
		return fmt.Errorf("remote set %s: %w", key, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("remote set %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: "set", Key: key, Code: resp.StatusCode, Body: snippet(body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (b *remoteBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

// StatusError reports a non-success response from the remote API.
type StatusError struct {
	Op   string
	Key  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote %s %s: status %d", e.Op, e.Key, e.Code)
	}
	return fmt.Sprintf("remote %s %s: status %d: %s", e.Op, e.Key, e.Code, e.Body)
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
