package scraper

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FranksOps/mailmark/internal/bypass"
	"github.com/FranksOps/mailmark/internal/fingerprint"
	"github.com/FranksOps/mailmark/internal/metrics"
	"github.com/FranksOps/mailmark/pkg/httpclient"
	"github.com/FranksOps/mailmark/pkg/proxy"
	"github.com/FranksOps/mailmark/pkg/ratelimit"
	"github.com/FranksOps/mailmark/pkg/useragent"
	"github.com/google/uuid"
)

type contextKey string

const proxyKey contextKey = "proxy_url"

// DefaultMaxBodyBytes bounds how much of a response body is kept.
const DefaultMaxBodyBytes = 5 << 20

// Page is the outcome of fetching one URL. Transport failures are reported
// in Error rather than as a Go error so callers can still record them.
type Page struct {
	ID           string
	URL          string
	FinalURL     string
	StatusCode   int
	Headers      http.Header
	ContentType  string
	Body         []byte
	Duration     time.Duration
	DetectedBot  bool
	DetectionSrc string
	FetchedAt    time.Time
	Error        string
}

// Failed reports whether the fetch did not produce a response.
func (p *Page) Failed() bool { return p.Error != "" }

// IsHTML reports whether the response declared an HTML media type.
func (p *Page) IsHTML() bool {
	return p.ContentType == "text/html" || p.ContentType == "application/xhtml+xml"
}

// FetchConfig configures a single scrape action.
type FetchConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	MaxBodyBytes int64
	UseCookieJar bool
	ProxyPool    *proxy.Pool
	UAPool       *useragent.Pool
	Fingerprint  fingerprint.Profile
	Limiter      *ratelimit.Limiter
	// InsecureSkipVerify is forwarded to the TLS transport.
	InsecureSkipVerify bool
}

// Fetcher performs single URL fetches with fingerprinting, proxy rotation
// and bot-wall detection.
type Fetcher struct {
	config FetchConfig
	client *httpclient.Client
}

// NewFetcher initializes a new Fetcher with the given configuration.
// A single client is held across requests so cookie jars persist for the
// lifetime of the Fetcher.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 10
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}

	// The proxy is chosen per request and carried on the request context.
	proxyFunc := func(req *http.Request) (*url.URL, error) {
		if u, ok := req.Context().Value(proxyKey).(*url.URL); ok && u != nil {
			return u, nil
		}
		if ip := net.ParseIP(req.URL.Hostname()); ip != nil && ip.IsLoopback() {
			return nil, nil
		}
		return http.ProxyFromEnvironment(req)
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint, fingerprint.Options{
		Proxy:              proxyFunc,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("scraper: setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		Transport:    transport,
		Headers: http.Header{
			"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,application/json;q=0.8,*/*;q=0.7"},
			"Accept-Language": {"en-US,en;q=0.5"},
		},
		Limiter: cfg.Limiter,
	})
	if err != nil {
		return nil, fmt.Errorf("scraper: create client: %w", err)
	}

	return &Fetcher{config: cfg, client: client}, nil
}

// Fetch executes a GET request to targetURL and captures the response into
// a Page. The returned error is reserved for misuse; network failures land
// in Page.Error.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	start := time.Now()
	page := &Page{
		ID:        uuid.New().String(),
		URL:       targetURL,
		FetchedAt: start.UTC(),
	}
	defer func() {
		page.Duration = time.Since(start)
		domain := ""
		if u, err := url.Parse(targetURL); err == nil {
			domain = u.Hostname()
		}
		metrics.RecordFetch(metrics.Fetch{
			Domain:       domain,
			StatusCode:   page.StatusCode,
			Failed:       page.Failed(),
			DetectedBot:  page.DetectedBot,
			DetectionSrc: page.DetectionSrc,
			Bytes:        len(page.Body),
			Duration:     page.Duration,
		})
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		page.Error = fmt.Sprintf("create request: %v", err)
		return page, nil
	}

	var activeProxy *url.URL
	if f.config.ProxyPool != nil {
		activeProxy = f.config.ProxyPool.Next()
	}
	if activeProxy != nil {
		req = req.WithContext(context.WithValue(req.Context(), proxyKey, activeProxy))
	}

	req.Header.Set("User-Agent", f.config.UAPool.Next())

	resp, err := f.client.Do(req.Context(), req)
	if err != nil {
		if activeProxy != nil {
			_ = f.config.ProxyPool.MarkFailure(activeProxy)
			metrics.ProxyFailures.WithLabelValues(activeProxy.String()).Inc()
		}
		page.Error = fmt.Sprintf("request failed: %v", err)
		return page, nil
	}
	defer resp.Body.Close()

	if activeProxy != nil {
		_ = f.config.ProxyPool.MarkSuccess(activeProxy)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes))
	if err != nil {
		page.Error = fmt.Sprintf("read body: %v", err)
	}

	page.StatusCode = resp.StatusCode
	page.Headers = resp.Header
	page.Body = body
	page.FinalURL = resp.Request.URL.String()
	page.ContentType = mediaType(resp.Header.Get("Content-Type"))

	verdict := bypass.Analyze(bypass.Response{
		StatusCode: page.StatusCode,
		Headers:    page.Headers,
		Body:       page.Body,
	}, bypass.DefaultDetectors())
	page.DetectedBot = verdict.Detected
	page.DetectionSrc = verdict.Source

	return page, nil
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mt
}
