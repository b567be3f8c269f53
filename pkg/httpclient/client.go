package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/FranksOps/mailmark/pkg/ratelimit"
)

// ErrNilContext is returned by Do when called without a context.
var ErrNilContext = errors.New("httpclient: context cannot be nil")

// Config configures a Client. A zero Timeout means 30s. MaxRedirects of zero
// makes any redirect an error; a negative value returns the redirect itself.
type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	UseCookieJar bool
	// Transport replaces http.DefaultTransport, e.g. with a proxy-aware or
	// fingerprinting round tripper.
	Transport http.RoundTripper
	// Headers are set on every request that does not already carry them.
	Headers http.Header
	// Limiter, when set, paces every request made through Do.
	Limiter *ratelimit.Limiter
}

// Client is an http.Client that fills default headers and waits on an
// optional limiter before each request.
type Client struct {
	*http.Client
	headers http.Header
	limiter *ratelimit.Limiter
}

// New builds a Client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &http.Client{
		Timeout: cfg.Timeout,
	}

	if cfg.MaxRedirects >= 0 {
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("httpclient: stopped after %d redirects", cfg.MaxRedirects)
			}
			return nil
		}
	} else {
		// Negative means hand back the first redirect response.
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	if cfg.UseCookieJar {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("httpclient cookie jar: %w", err)
		}
		c.Jar = jar
	}

	if cfg.Transport != nil {
		c.Transport = cfg.Transport
	}

	return &Client{Client: c, headers: cfg.Headers.Clone(), limiter: cfg.Limiter}, nil
}

// Do sends req under ctx. Caller headers win over the configured defaults,
// and req itself is never mutated.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("httpclient wait: %w", err)
	}

	out := req.Clone(ctx)
	for k, vs := range c.headers {
		if out.Header.Get(k) == "" {
			out.Header[k] = append([]string(nil), vs...)
		}
	}

	resp, err := c.Client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("httpclient %s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	return resp, nil
}
