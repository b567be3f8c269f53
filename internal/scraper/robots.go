package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// RobotsPolicy answers robots.txt questions per origin. Each origin's file
// is fetched at most once; concurrent callers for the same origin share the
// in-flight fetch.
type RobotsPolicy struct {
	fetcher *Fetcher
	logger  *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	rules map[string]*robotstxt.RobotsData // nil entry: no usable file, allow all
}

// NewRobotsPolicy returns a policy that fetches robots.txt through fetcher.
func NewRobotsPolicy(fetcher *Fetcher, logger *slog.Logger) *RobotsPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	return &RobotsPolicy{
		fetcher: fetcher,
		logger:  logger,
		rules:   make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether agent may fetch rawURL. An unreachable robots.txt
// allows everything.
func (p *RobotsPolicy) Allowed(ctx context.Context, rawURL, agent string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("robots: invalid url: %w", err)
	}
	data, err := p.load(ctx, u.Scheme+"://"+u.Host)
	if err != nil {
		p.logger.Debug("robots.txt unavailable, allowing", "origin", u.Host, "err", err)
		return true, nil
	}
	if data == nil {
		return true, nil
	}
	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.FindGroup(agent).Test(path), nil
}

// Sitemaps lists the Sitemap entries declared by origin's robots.txt. A bare
// host is treated as http.
func (p *RobotsPolicy) Sitemaps(ctx context.Context, origin string) []string {
	if !strings.Contains(origin, "://") {
		origin = "http://" + origin
	}
	data, err := p.load(ctx, strings.TrimSuffix(origin, "/"))
	if err != nil || data == nil {
		return nil
	}
	return data.Sitemaps
}

func (p *RobotsPolicy) cached(origin string) (*robotstxt.RobotsData, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	data, ok := p.rules[origin]
	return data, ok
}

func (p *RobotsPolicy) load(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	if data, ok := p.cached(origin); ok {
		return data, nil
	}
	v, err, _ := p.group.Do(origin, func() (any, error) {
		if data, ok := p.cached(origin); ok {
			return data, nil
		}
		data, keep, err := p.fetch(ctx, origin)
		if keep {
			p.mu.Lock()
			p.rules[origin] = data
			p.mu.Unlock()
		}
		return data, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*robotstxt.RobotsData), nil
}

// fetch retrieves and parses origin's robots.txt. keep is false for
// transient failures, which are retried on the next lookup.
func (p *RobotsPolicy) fetch(ctx context.Context, origin string) (data *robotstxt.RobotsData, keep bool, err error) {
	target := origin + "/robots.txt"
	page, err := p.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, true, fmt.Errorf("robots: fetch %s: %w", target, err)
	}
	if page.Failed() {
		return nil, false, fmt.Errorf("robots: fetch %s: %s", target, page.Error)
	}
	if page.StatusCode >= 400 {
		return nil, true, nil
	}
	data, err = robotstxt.FromBytes(page.Body)
	if err != nil {
		return nil, true, fmt.Errorf("robots: parse %s: %w", target, err)
	}
	return data, true, nil
}
