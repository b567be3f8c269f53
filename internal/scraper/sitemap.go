package scraper

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/oxffaa/gopher-parse-sitemap"
)

// maxIndexNesting bounds how many sitemap indexes deep Read follows.
const maxIndexNesting = 3

// maxSitemapBytes caps a decompressed sitemap, the protocol's own limit.
const maxSitemapBytes = 50 << 20

var errSitemapFull = errors.New("sitemap: limit reached")

// SitemapReader expands sitemaps and sitemap indexes into page URLs.
type SitemapReader struct {
	fetcher *Fetcher
	logger  *slog.Logger
}

// NewSitemapReader returns a reader that downloads through fetcher.
func NewSitemapReader(fetcher *Fetcher, logger *slog.Logger) *SitemapReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &SitemapReader{fetcher: fetcher, logger: logger}
}

// Read returns the page URLs listed by sitemapURL, following nested indexes.
// Only URLs accepted by keep are returned (nil keeps everything), and parsing
// stops once limit URLs are collected (0 means no limit). Each nested sitemap
// is downloaded at most once. Gzipped sitemaps are accepted.
func (s *SitemapReader) Read(ctx context.Context, sitemapURL string, keep func(string) bool, limit int) ([]string, error) {
	w := &sitemapWalk{r: s, keep: keep, limit: limit, seen: make(map[string]struct{})}
	if err := w.visit(ctx, sitemapURL, 0); err != nil {
		return nil, err
	}
	return w.urls, nil
}

type sitemapWalk struct {
	r     *SitemapReader
	keep  func(string) bool
	limit int
	seen  map[string]struct{}
	urls  []string
}

func (w *sitemapWalk) full() bool { return w.limit > 0 && len(w.urls) >= w.limit }

func (w *sitemapWalk) visit(ctx context.Context, loc string, depth int) error {
	w.seen[loc] = struct{}{}
	w.r.logger.Debug("reading sitemap", "url", loc, "depth", depth)

	body, err := w.r.download(ctx, loc)
	if err != nil {
		return err
	}

	entries := 0
	err = sitemap.Parse(bytes.NewReader(body), func(e sitemap.Entry) error {
		entries++
		u := strings.TrimSpace(e.GetLocation())
		if u == "" || (w.keep != nil && !w.keep(u)) {
			return nil
		}
		w.urls = append(w.urls, u)
		if w.full() {
			return errSitemapFull
		}
		return nil
	})
	if errors.Is(err, errSitemapFull) || (err == nil && entries > 0) {
		return nil
	}

	var nested []string
	indexErr := sitemap.ParseIndex(bytes.NewReader(body), func(e sitemap.IndexEntry) error {
		if u := strings.TrimSpace(e.GetLocation()); u != "" {
			nested = append(nested, u)
		}
		return nil
	})
	if indexErr != nil || len(nested) == 0 {
		if cause := errors.Join(err, indexErr); cause != nil {
			return fmt.Errorf("sitemap: %s: not a sitemap or index: %w", loc, cause)
		}
		return fmt.Errorf("sitemap: %s: not a sitemap or index", loc)
	}

	for _, n := range nested {
		if w.full() || ctx.Err() != nil {
			break
		}
		if _, dup := w.seen[n]; dup {
			continue
		}
		if depth >= maxIndexNesting {
			w.r.logger.Warn("sitemap index nesting too deep", "url", n)
			break
		}
		if err := w.visit(ctx, n, depth+1); err != nil {
			w.r.logger.Warn("nested sitemap skipped", "url", n, "err", err)
		}
	}
	return nil
}

func (s *SitemapReader) download(ctx context.Context, loc string) ([]byte, error) {
	page, err := s.fetcher.Fetch(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("sitemap: fetch %s: %w", loc, err)
	}
	if page.Failed() {
		return nil, fmt.Errorf("sitemap: fetch %s: %s", loc, page.Error)
	}
	if page.StatusCode >= 400 {
		return nil, fmt.Errorf("sitemap: %s: status %d", loc, page.StatusCode)
	}
	if !bytes.HasPrefix(page.Body, []byte{0x1f, 0x8b}) {
		return page.Body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("sitemap: %s: gzip: %w", loc, err)
	}
	defer zr.Close()
	body, err := io.ReadAll(io.LimitReader(zr, maxSitemapBytes))
	if err != nil {
		return nil, fmt.Errorf("sitemap: %s: gzip: %w", loc, err)
	}
	return body, nil
}
