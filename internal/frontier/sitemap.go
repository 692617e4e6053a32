package frontier

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/scrape"
)

// Sitemap document shapes per sitemaps.org. A fetched document is tried as
// an index first; anything that is not an index falls through to urlset.
type sitemapIndex struct {
	Sitemaps []sitemapRef `xml:"sitemap"`
}

type sitemapRef struct {
	Location string `xml:"loc"`
}

type urlSet struct {
	URLs []urlEntry `xml:"url"`
}

type urlEntry struct {
	Location   string  `xml:"loc"`
	LastMod    string  `xml:"lastmod"`
	ChangeFreq string  `xml:"changefreq"`
	Priority   float64 `xml:"priority"`
}

// defaultSitemapLevels bounds sitemap-index recursion when the policy itself
// carries no depth bound.
const defaultSitemapLevels = 3

// fromSitemaps probes the conventional sitemap location for the seed's site
// and walks the tree it finds. A seed that already points at a sitemap is
// walked directly. Returns nil when the site exposes no usable sitemap.
func (f *Frontier) fromSitemaps(ctx context.Context, seedURL *url.URL, maxDepth int) []scrape.Candidate {
	maxLevel := maxDepth
	if maxLevel <= 0 {
		maxLevel = defaultSitemapLevels
	}
	w := &sitemapWalk{
		frontier: f,
		visited:  make(map[string]struct{}),
		budget:   f.cfg.MaxSitemapFetches,
		maxLevel: maxLevel,
	}
	return w.walk(ctx, sitemapURL(seedURL), 1)
}

// sitemapURL picks the sitemap to probe: the seed itself when it already
// names one, otherwise the conventional /sitemap.xml at the site root.
func sitemapURL(seedURL *url.URL) string {
	if strings.HasSuffix(seedURL.Path, "sitemap.xml") {
		return seedURL.String()
	}
	return seedURL.Scheme + "://" + seedURL.Host + "/sitemap.xml"
}

// sitemapWalk carries the shared state of one sitemap traversal. The visited
// set guards against indexes that reference themselves, the budget against
// unbounded fan-out.
type sitemapWalk struct {
	frontier *Frontier
	visited  map[string]struct{}
	budget   int
	maxLevel int
}

// walk fetches one sitemap document and returns the page URLs beneath it.
// Every call returns a slice it owns; parents merge child results. Failed
// fetches and parses log and contribute nothing.
func (w *sitemapWalk) walk(ctx context.Context, smURL string, level int) []scrape.Candidate {
	if level > w.maxLevel || w.budget <= 0 || ctx.Err() != nil {
		return nil
	}
	key := normalizeKey(smURL)
	if _, ok := w.visited[key]; ok {
		return nil
	}
	w.visited[key] = struct{}{}
	w.budget--

	data, err := w.frontier.fetchSitemap(ctx, smURL)
	if err != nil {
		w.frontier.logger.Debug("sitemap fetch failed", zap.String("url", smURL), zap.Error(err))
		return nil
	}

	children, leaves, err := parseSitemap(data)
	if err != nil {
		w.frontier.logger.Debug("sitemap parse failed", zap.String("url", smURL), zap.Error(err))
		return nil
	}

	out := make([]scrape.Candidate, 0, len(leaves))
	for _, leaf := range leaves {
		out = append(out, scrape.Candidate{
			URL:        leaf.Location,
			Depth:      level,
			LastMod:    leaf.LastMod,
			ChangeFreq: leaf.ChangeFreq,
			Priority:   leaf.Priority,
		})
	}
	for _, child := range children {
		out = append(out, w.walk(ctx, child, level+1)...)
	}
	return out
}

// fetchSitemap retrieves one sitemap document through the page backend.
func (f *Frontier) fetchSitemap(ctx context.Context, smURL string) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.cfg.SitemapTimeout)
	defer cancel()

	res, err := f.fetcher.Fetch(fetchCtx, scrape.BackendRequest{URL: smURL})
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	if len(res.Body) > 0 {
		return res.Body, nil
	}
	return []byte(res.HTML), nil
}

// parseSitemap decodes a sitemap document. It returns child sitemap URLs
// when the document is an index, page entries when it is a urlset.
func parseSitemap(data []byte) (children []string, leaves []urlEntry, err error) {
	var index sitemapIndex
	if err := xml.Unmarshal(data, &index); err == nil && len(index.Sitemaps) > 0 {
		children = make([]string, 0, len(index.Sitemaps))
		for _, ref := range index.Sitemaps {
			if loc := strings.TrimSpace(ref.Location); loc != "" {
				children = append(children, loc)
			}
		}
		return children, nil, nil
	}

	var set urlSet
	if err := xml.Unmarshal(data, &set); err != nil {
		return nil, nil, fmt.Errorf("decode sitemap: %w", err)
	}
	leaves = make([]urlEntry, 0, len(set.URLs))
	for _, entry := range set.URLs {
		entry.Location = strings.TrimSpace(entry.Location)
		if entry.Location == "" {
			continue
		}
		entry.LastMod = strings.TrimSpace(entry.LastMod)
		entry.ChangeFreq = strings.TrimSpace(entry.ChangeFreq)
		leaves = append(leaves, entry)
	}
	return nil, leaves, nil
}
