// Package frontier expands a crawl seed into the ordered list of pages a job
// will visit. Expansion is sitemap-first: the site's sitemap tree is probed
// and walked, and only when it yields nothing does a bounded same-site link
// crawl take over. Every discovered URL passes the job's crawl policy before
// it becomes a candidate.
package frontier

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/html"
	"github.com/scrapeline/scrapeline/internal/scrape"
)

const (
	defaultSitemapTimeout    = 10 * time.Second
	defaultMaxSitemapFetches = 100
)

// Config holds frontier tuning knobs.
type Config struct {
	// SitemapTimeout bounds each individual sitemap fetch.
	SitemapTimeout time.Duration
	// MaxSitemapFetches caps the number of sitemap documents walked per
	// expansion, guarding against pathological sitemap indexes.
	MaxSitemapFetches int
}

// Frontier discovers the URLs a crawl job should visit. All network access
// goes through the injected backend, so callers pick the transport and tests
// substitute a fake.
type Frontier struct {
	fetcher scrape.Backend
	cfg     Config
	logger  *zap.Logger
}

// New returns a Frontier that fetches pages and sitemaps through fetcher.
func New(fetcher scrape.Backend, cfg Config, logger *zap.Logger) *Frontier {
	if cfg.SitemapTimeout <= 0 {
		cfg.SitemapTimeout = defaultSitemapTimeout
	}
	if cfg.MaxSitemapFetches <= 0 {
		cfg.MaxSitemapFetches = defaultMaxSitemapFetches
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Frontier{fetcher: fetcher, cfg: cfg, logger: logger}
}

// Expand resolves the crawl frontier for seed under the given policy. The
// seed is always the first candidate, at depth zero; discoveries follow in
// the order they were first seen, deduplicated, filtered, and truncated to
// policy.MaxCrawledLinks. Depth counts hops from the seed.
func (f *Frontier) Expand(ctx context.Context, seed string, policy scrape.CrawlPolicy) ([]scrape.Candidate, error) {
	seedURL, err := url.Parse(strings.TrimSpace(seed))
	if err != nil {
		return nil, fmt.Errorf("parse seed url: %w", err)
	}
	if seedURL.Host == "" || (seedURL.Scheme != "http" && seedURL.Scheme != "https") {
		return nil, fmt.Errorf("seed %q is not an absolute http(s) url", seed)
	}

	filter, err := newPolicyFilter(policy)
	if err != nil {
		return nil, err
	}

	exp := newExpansion(policy)
	exp.add(scrape.Candidate{URL: seedURL.String()})

	leaves := f.fromSitemaps(ctx, seedURL, policy.MaxDepth)
	for _, leaf := range leaves {
		if exp.full() {
			break
		}
		if !sameSite(seedURL, leaf.URL) || !filter.allows(leaf.URL, leaf.Depth) {
			continue
		}
		exp.add(leaf)
	}

	// A site without a usable sitemap falls back to walking its links.
	if len(leaves) == 0 {
		f.crawlLinks(ctx, seedURL, policy, filter, exp)
	}

	return exp.candidates, ctx.Err()
}

// crawlLinks walks same-site anchors breadth-first from the seed, keeping
// each fetched page's body on its candidate so the scrape pipeline can reuse
// it. Pages that fail to fetch are skipped and the walk continues.
func (f *Frontier) crawlLinks(ctx context.Context, seedURL *url.URL, policy scrape.CrawlPolicy, filter *policyFilter, exp *expansion) {
	type item struct {
		url   string
		depth int
	}
	queue := []item{{url: seedURL.String()}}
	queued := map[string]struct{}{normalizeKey(seedURL.String()): {}}

	for len(queue) > 0 {
		if ctx.Err() != nil {
			return
		}
		page := queue[0]
		queue = queue[1:]

		res, err := f.fetcher.Fetch(ctx, scrape.BackendRequest{URL: page.url})
		if err != nil {
			f.logger.Debug("frontier fetch failed", zap.String("url", page.url), zap.Error(err))
			continue
		}
		if res.StatusCode >= 400 || res.HTML == "" {
			continue
		}
		exp.attachHTML(page.url, res.HTML)

		if policy.MaxDepth > 0 && page.depth >= policy.MaxDepth {
			continue
		}
		childDepth := page.depth + 1
		for _, link := range html.Links(page.url, res.HTML) {
			if exp.full() {
				return
			}
			if !sameSite(seedURL, link) || !filter.allows(link, childDepth) {
				continue
			}
			if !exp.add(scrape.Candidate{URL: link, Depth: childDepth}) {
				continue
			}
			key := normalizeKey(link)
			if _, ok := queued[key]; !ok {
				queued[key] = struct{}{}
				queue = append(queue, item{url: link, depth: childDepth})
			}
		}
	}
}

// expansion accumulates candidates in discovery order with dedup and a hard
// size limit.
type expansion struct {
	limit      int
	seen       map[string]int
	candidates []scrape.Candidate
}

func newExpansion(policy scrape.CrawlPolicy) *expansion {
	return &expansion{
		limit: policy.MaxCrawledLinks,
		seen:  make(map[string]int),
	}
}

// add appends the candidate unless its normalized URL was already taken.
func (e *expansion) add(c scrape.Candidate) bool {
	key := normalizeKey(c.URL)
	if _, ok := e.seen[key]; ok {
		return false
	}
	e.seen[key] = len(e.candidates)
	e.candidates = append(e.candidates, c)
	return true
}

// full reports whether the candidate limit has been reached.
func (e *expansion) full() bool {
	return e.limit > 0 && len(e.candidates) >= e.limit
}

// attachHTML stores a fetched page body on the candidate for rawURL.
func (e *expansion) attachHTML(rawURL, body string) {
	if i, ok := e.seen[normalizeKey(rawURL)]; ok {
		e.candidates[i].HTML = body
	}
}

// normalizeKey is the dedup key for a URL: the URL itself minus any trailing
// slash. Case is preserved because paths may be case-sensitive.
func normalizeKey(rawURL string) string {
	if rawURL == "/" {
		return rawURL
	}
	return strings.TrimSuffix(rawURL, "/")
}

// sameSite reports whether link stays on the seed's site. Hosts compare
// case-insensitively and a leading "www." is ignored, so the www and naked
// forms of a domain crawl as one site.
func sameSite(seedURL *url.URL, link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return siteKey(u.Host) == siteKey(seedURL.Host)
}

func siteKey(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}
