package scraper

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/FranksOps/mailmark/pkg/ratelimit"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
)

// PageFunc receives every fetched page, including failed and bot-walled
// ones. It may be called concurrently.
type PageFunc func(ctx context.Context, page *Page)

// DefaultQueueSize bounds the BFS queue when CrawlConfig.QueueSize is unset.
const DefaultQueueSize = 10000

// CrawlConfig provides parameters for the BFS crawler.
type CrawlConfig struct {
	MaxDepth    int
	Concurrency int
	// MaxPages stops scheduling new URLs once this many have been claimed
	// (0 = unlimited).
	MaxPages int
	// OnPage is invoked once per fetched URL.
	OnPage PageFunc
	// Prioritize, when set, marks links that are queued ahead of their
	// siblings, e.g. sign-in pages.
	Prioritize func(rawURL string) bool
	// Domains keeps the crawl on these hosts and their subdomains. Entries
	// may carry a port.
	Domains []string
	// RespectRobots checks robots.txt before every fetch.
	RespectRobots bool
	// UserAgent is the agent name matched against robots.txt groups.
	UserAgent string
	// RequestsPerSecond limits the fetch rate (0 = unlimited).
	RequestsPerSecond float64
	// Jitter applies randomness to the rate limiter (0.0 to 1.0).
	Jitter float64
	// QueueSize limits the BFS queue (0 = DefaultQueueSize).
	QueueSize int
}

// Crawler walks pages breadth first from a set of seeds.
type Crawler struct {
	cfg     CrawlConfig
	fetcher *Fetcher
	logger  *slog.Logger
	robots  *RobotsPolicy
	limiter *ratelimit.Limiter
	visited *visitSet
}

type job struct {
	URL   string
	Depth int
}

// NewCrawler creates a new BFS crawler.
func NewCrawler(cfg CrawlConfig, fetcher *Fetcher, logger *slog.Logger) *Crawler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "*"
	}
	if logger == nil {
		logger = slog.Default()
	}

	var robots *RobotsPolicy
	if cfg.RespectRobots {
		robots = NewRobotsPolicy(fetcher, logger)
	}

	return &Crawler{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logger,
		robots:  robots,
		limiter: ratelimit.NewLimiter(cfg.RequestsPerSecond, cfg.Jitter),
		visited: newVisitSet(cfg.MaxPages),
	}
}

// Run crawls from seeds until every reachable in-scope URL within MaxDepth
// has been fetched or ctx ends. It returns ctx.Err() on cancellation.
func (c *Crawler) Run(ctx context.Context, seeds []string) error {
	defer c.limiter.Stop()

	queue := make(chan job, c.cfg.QueueSize)
	var pending sync.WaitGroup

	for i, seed := range c.order(seeds) {
		if len(queue) == cap(queue) {
			c.logger.Warn("seed queue full, dropping remaining seeds", "dropped", len(seeds)-i)
			break
		}
		if u, ok := c.claim(seed); ok {
			pending.Add(1)
			queue <- job{URL: u}
		}
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	for i := 0; i < c.cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case j := <-queue:
					c.process(gctx, j, queue, &pending)
					pending.Done()
				}
			}
		})
	}

	idle := make(chan struct{})
	go func() {
		pending.Wait()
		close(idle)
	}()

	select {
	case <-gctx.Done():
	case <-idle:
	}
	stop()
	_ = g.Wait()

	return ctx.Err()
}

func (c *Crawler) process(ctx context.Context, j job, queue chan<- job, pending *sync.WaitGroup) {
	if c.robots != nil {
		allowed, err := c.robots.Allowed(ctx, j.URL, c.cfg.UserAgent)
		switch {
		case err != nil:
			c.logger.Warn("robots.txt check failed, fetching anyway", "url", j.URL, "err", err)
		case !allowed:
			c.logger.Debug("url blocked by robots.txt", "url", j.URL)
			return
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return
	}

	c.logger.Debug("fetching", "url", j.URL, "depth", j.Depth)
	page, err := c.fetcher.Fetch(ctx, j.URL)
	if err != nil {
		c.logger.Error("fetch error", "url", j.URL, "err", err)
		return
	}
	switch {
	case page.Failed():
		c.logger.Debug("fetch failed", "url", j.URL, "err", page.Error)
	case page.DetectedBot:
		c.logger.Info("bot wall detected", "url", j.URL, "source", page.DetectionSrc, "status", page.StatusCode)
	}

	if c.cfg.OnPage != nil {
		c.cfg.OnPage(ctx, page)
	}

	// Walled pages only carry challenge links.
	if j.Depth >= c.cfg.MaxDepth || page.Failed() || page.DetectedBot || !page.IsHTML() {
		return
	}

	base := j.URL
	if page.FinalURL != "" {
		base = page.FinalURL
	}
	for _, link := range c.order(extractLinks(base, page.Body)) {
		u, ok := c.claim(link)
		if !ok {
			continue
		}
		pending.Add(1)
		select {
		case queue <- job{URL: u, Depth: j.Depth + 1}:
		case <-ctx.Done():
			pending.Done()
			return
		}
	}
}

// claim normalizes rawURL and reserves it if it is crawlable, in scope and
// not yet seen.
func (c *Crawler) claim(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	if !c.inScope(u) {
		return "", false
	}
	key := u.String()
	return key, c.visited.add(key)
}

func (c *Crawler) inScope(u *url.URL) bool {
	if len(c.cfg.Domains) == 0 {
		return true
	}
	host := u.Hostname()
	for _, d := range c.cfg.Domains {
		d = strings.ToLower(d)
		if u.Host == d || host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// order moves prioritized URLs to the front, keeping relative order.
func (c *Crawler) order(urls []string) []string {
	if c.cfg.Prioritize == nil || len(urls) < 2 {
		return urls
	}
	first := make([]string, 0, len(urls))
	var rest []string
	for _, u := range urls {
		if c.cfg.Prioritize(u) {
			first = append(first, u)
		} else {
			rest = append(rest, u)
		}
	}
	return append(first, rest...)
}

// visitSet records claimed URLs, optionally up to a limit.
type visitSet struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	limit int
}

func newVisitSet(limit int) *visitSet {
	return &visitSet{seen: make(map[string]struct{}), limit: limit}
}

// add reports whether key was newly added.
func (s *visitSet) add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	if s.limit > 0 && len(s.seen) >= s.limit {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

func extractLinks(baseURL string, body []byte) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := base.ResolveReference(u)
		resolved.Fragment = ""
		links = append(links, resolved.String())
	})
	return links
}
