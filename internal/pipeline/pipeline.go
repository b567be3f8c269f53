// Package pipeline drives the crawler as an active event source: every
// fetched page becomes an observer event, so a scan of a site records the
// emails its login pages expose the same way a live session would.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/FranksOps/mailmark/internal/observer"
	"github.com/FranksOps/mailmark/internal/scraper"
)

// DefaultMaxSitemapSeeds bounds how many sitemap URLs are added as seeds.
const DefaultMaxSitemapSeeds = 200

// ErrNoSeeds is returned when no seed is an absolute http(s) URL.
var ErrNoSeeds = errors.New("pipeline: no valid seed URLs")

// Config tunes a scan. Crawl.OnPage is owned by the pipeline and ignored.
type Config struct {
	Crawl           scraper.CrawlConfig
	UseSitemaps     bool
	MaxSitemapSeeds int
}

// Summary counts what a scan saw.
type Summary struct {
	Seeds     int           `json:"seeds"`
	Pages     int           `json:"pages"`
	Failed    int           `json:"failed"`
	Walled    int           `json:"walled"`
	Recorded  int           `json:"recorded"`
	NewEmails int           `json:"newEmails"`
	Emails    []string      `json:"emails,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Pipeline wires fetcher, crawler and observer together.
type Pipeline struct {
	fetcher  *scraper.Fetcher
	observer *observer.Observer
	cfg      Config
	logger   *slog.Logger
}

// New returns a Pipeline. A nil logger falls back to slog.Default().
func New(fetcher *scraper.Fetcher, obs *observer.Observer, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSitemapSeeds <= 0 {
		cfg.MaxSitemapSeeds = DefaultMaxSitemapSeeds
	}
	return &Pipeline{fetcher: fetcher, observer: obs, cfg: cfg, logger: logger}
}

// Scan crawls from seeds and feeds every usable page to the observer.
// Without explicit crawl domains the crawl stays on the seeds' hosts.
// Bot-walled and failed fetches are counted but never observed.
func (p *Pipeline) Scan(ctx context.Context, seeds []string) (Summary, error) {
	start := time.Now()
	valid, hosts := normalizeSeeds(seeds)
	if len(valid) == 0 {
		return Summary{}, ErrNoSeeds
	}

	crawlCfg := p.cfg.Crawl
	if len(crawlCfg.Domains) == 0 {
		crawlCfg.Domains = hosts
	}
	if crawlCfg.Prioritize == nil {
		crawlCfg.Prioritize = p.observer.Patterns().Match
	}

	if p.cfg.UseSitemaps {
		valid = append(valid, p.sitemapSeeds(ctx, valid)...)
	}

	var (
		mu   sync.Mutex
		sum  = Summary{Seeds: len(valid)}
		seen = make(map[string]struct{})
	)
	crawlCfg.OnPage = func(ctx context.Context, page *scraper.Page) {
		mu.Lock()
		sum.Pages++
		switch {
		case page.Failed():
			sum.Failed++
		case page.DetectedBot:
			sum.Walled++
		}
		mu.Unlock()
		if page.Failed() || page.DetectedBot {
			return
		}

		ev := observer.NewEvent(observer.KindRequest, "", page.URL)
		ev.PageURL = page.URL
		ev.ContentType = page.ContentType
		ev.Body = page.Body
		ev.Time = page.FetchedAt

		out, ok := p.observer.Observe(ctx, ev)
		if !ok {
			return
		}
		p.logger.Info("email recorded", "domain", out.Domain, "email", out.Record.Email, "url", page.URL, "new", out.IsNew)

		mu.Lock()
		defer mu.Unlock()
		sum.Recorded++
		if out.IsNew {
			sum.NewEmails++
		}
		key := out.Domain + "\x00" + out.Record.Email
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			sum.Emails = append(sum.Emails, out.Record.Email)
		}
	}

	crawler := scraper.NewCrawler(crawlCfg, p.fetcher, p.logger)
	err := crawler.Run(ctx, valid)

	mu.Lock()
	defer mu.Unlock()
	sum.Duration = time.Since(start)
	if err != nil {
		return sum, fmt.Errorf("pipeline: crawl: %w", err)
	}
	p.logger.Info("scan complete",
		"seeds", sum.Seeds, "pages", sum.Pages, "walled", sum.Walled,
		"recorded", sum.Recorded, "new", sum.NewEmails, "duration", sum.Duration)
	return sum, nil
}

// sitemapSeeds collects sitemap URLs that look like sign-in entry points.
func (p *Pipeline) sitemapSeeds(ctx context.Context, seeds []string) []string {
	robots := scraper.NewRobotsPolicy(p.fetcher, p.logger)
	sr := scraper.NewSitemapReader(p.fetcher, p.logger)
	patterns := p.observer.Patterns()

	var out []string
	done := make(map[string]struct{})
	for _, seed := range seeds {
		u, _ := url.Parse(seed)
		origin := u.Scheme + "://" + u.Host
		if _, ok := done[origin]; ok {
			continue
		}
		done[origin] = struct{}{}

		maps := robots.Sitemaps(ctx, origin)
		if len(maps) == 0 {
			maps = []string{origin + "/sitemap.xml"}
		}
		for _, m := range maps {
			urls, err := sr.Read(ctx, m, patterns.Match, p.cfg.MaxSitemapSeeds-len(out))
			if err != nil {
				p.logger.Debug("sitemap skipped", "url", m, "err", err)
				continue
			}
			out = append(out, urls...)
			if len(out) >= p.cfg.MaxSitemapSeeds {
				return out
			}
		}
	}
	return out
}

func normalizeSeeds(seeds []string) (valid, hosts []string) {
	seenHost := make(map[string]struct{})
	for _, s := range seeds {
		u, err := url.Parse(s)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		if u.Path == "" {
			u.Path = "/"
		}
		valid = append(valid, u.String())
		if _, ok := seenHost[u.Host]; !ok {
			seenHost[u.Host] = struct{}{}
			hosts = append(hosts, u.Host)
		}
	}
	return valid, hosts
}
