package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/FranksOps/mailmark/internal/fingerprint"
	"github.com/FranksOps/mailmark/internal/observer"
	"github.com/FranksOps/mailmark/internal/pipeline"
	"github.com/FranksOps/mailmark/internal/scraper"
	"github.com/FranksOps/mailmark/pkg/proxy"
	"github.com/FranksOps/mailmark/pkg/useragent"
	"github.com/spf13/cobra"
)

func newScanCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "scan <seed-url>...",
		Short: "Crawl sites and record emails exposed by their sign-in pages",
		Long: `Crawl from the given seed URLs and treat every fetched page like an
observed browser request: sign-in pages and OAuth redirects are searched for an
email, which is recorded against the page's root domain.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runScan(ctx, a, args, asJSON, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.Int("depth", 0, "Maximum link depth from each seed")
	f.Int("concurrency", 0, "Number of concurrent fetches")
	f.Int("max-pages", 0, "Stop after this many pages (0 = config default)")
	f.Float64("rps", 0, "Maximum requests per second (0 = unlimited)")
	f.Bool("robots", true, "Respect robots.txt")
	f.Bool("sitemaps", false, "Seed from sign-in URLs listed in sitemaps")
	f.String("fingerprint", "", "TLS fingerprint: chrome, firefox, safari, go or random")
	f.Duration("timeout", 0, "Per-request timeout")
	f.String("proxies", "", "File with one proxy URL per line")
	f.BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}

func runScan(ctx context.Context, a *app, seeds []string, asJSON bool, out io.Writer) error {
	sc := a.cfg.Scan

	profile, err := fingerprint.ParseProfile(sc.Fingerprint)
	if err != nil {
		return err
	}

	var pool *proxy.Pool
	if sc.ProxyFile != "" {
		pool = proxy.NewPool(proxy.Config{})
		if err := pool.LoadFile(sc.ProxyFile); err != nil {
			return err
		}
		a.logger.Info("proxies loaded", "file", sc.ProxyFile, "count", pool.Len())
	}
	var uas *useragent.Pool
	if len(sc.UserAgents) > 0 {
		uas = useragent.NewPool(sc.UserAgents)
	}

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:      sc.Timeout,
		UseCookieJar: true,
		ProxyPool:    pool,
		UAPool:       uas,
		Fingerprint:  profile,
	})
	if err != nil {
		return err
	}

	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	obs, err := observer.New(a.cfg.Rules, s.svc, a.logger)
	if err != nil {
		return err
	}
	defer obs.Close()

	p := pipeline.New(fetcher, obs, pipeline.Config{
		Crawl: scraper.CrawlConfig{
			MaxDepth:          sc.MaxDepth,
			Concurrency:       sc.Concurrency,
			MaxPages:          sc.MaxPages,
			RespectRobots:     sc.RespectRobots,
			UserAgent:         "mailmark",
			RequestsPerSecond: sc.RequestsPerSecond,
			Jitter:            sc.Jitter,
			QueueSize:         sc.QueueSize,
		},
		UseSitemaps: sc.UseSitemaps,
	}, a.logger)

	sum, err := p.Scan(ctx, seeds)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}
	fmt.Fprintf(out, "Scanned %d pages from %d seeds in %s (%d failed, %d bot walls)\n",
		sum.Pages, sum.Seeds, sum.Duration.Round(time.Millisecond), sum.Failed, sum.Walled)
	fmt.Fprintf(out, "Recorded %d logins, %d new\n", sum.Recorded, sum.NewEmails)
	if len(sum.Emails) > 0 {
		fmt.Fprintf(out, "Emails: %s\n", strings.Join(sum.Emails, ", "))
	}
	return nil
}
