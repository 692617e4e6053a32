// Package cmd defines and implements the CLI commands for the scrapeline
// executable.
package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/hash/sha256"
	"github.com/scrapeline/scrapeline/internal/scrape"
	localstorage "github.com/scrapeline/scrapeline/internal/storage/local"
)

type crawlOptions struct {
	outDir   string
	maxDepth int
	maxLinks int
	includes []string
	excludes []string
	onlyMain bool
}

// newCrawlCmd creates and configures the 'crawl' subcommand. It expands a
// seed URL into a frontier and writes every scraped document to an output
// directory.
func newCrawlCmd() *cobra.Command {
	var opts crawlOptions

	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawls a site and writes the documents to disk",
		Long: `Expands the seed URL into a frontier (sitemap first, link walk as the
fallback), scrapes every page through the backend chain, and writes each
document's markdown plus a metadata JSON file to the output directory.`,

		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawlCommand(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "crawl-output", "output directory for documents")
	cmd.Flags().IntVar(&opts.maxDepth, "max-depth", 2, "link-crawl and sitemap recursion depth")
	cmd.Flags().IntVar(&opts.maxLinks, "max-links", 100, "maximum number of pages to crawl")
	cmd.Flags().StringSliceVar(&opts.includes, "include", nil, "glob patterns a URL must match")
	cmd.Flags().StringSliceVar(&opts.excludes, "exclude", nil, "glob patterns that drop a URL")
	cmd.Flags().BoolVar(&opts.onlyMain, "only-main-content", false, "strip navigation, footers, and other page chrome")

	return cmd
}

func runCrawlCommand(cmd *cobra.Command, seed string, opts crawlOptions) error {
	pipeline, err := resolvePipeline(cmd.Context())
	if err != nil {
		return err
	}
	logger := pipeline.Logger()

	sink, err := localstorage.New(localstorage.Config{BaseDir: opts.outDir})
	if err != nil {
		return fmt.Errorf("init output directory: %w", err)
	}

	policy := scrape.CrawlPolicy{
		MaxDepth:        opts.maxDepth,
		MaxCrawledLinks: opts.maxLinks,
		Includes:        opts.includes,
		Excludes:        opts.excludes,
	}
	candidates, err := pipeline.Expander().Expand(cmd.Context(), seed, policy)
	if err != nil {
		return fmt.Errorf("expand %s: %w", seed, err)
	}
	logger.Info("frontier expanded", zap.String("seed", seed), zap.Int("pages", len(candidates)))

	pageOpts := scrape.PageOptions{OnlyMainContent: opts.onlyMain}
	hasher := sha256.New()
	written, failed := 0, 0
	for i, candidate := range candidates {
		if cmd.Context().Err() != nil {
			logger.Warn("crawl interrupted", zap.Int("remaining", len(candidates)-i))
			break
		}

		doc := pipeline.Scraper().Scrape(cmd.Context(), scrape.ScrapeRequest{
			URL:          candidate.URL,
			Options:      pageOpts,
			ExistingHTML: candidate.HTML,
		})
		if doc.Content == "" && doc.Metadata.Error != "" {
			logger.Warn("page failed", zap.String("url", candidate.URL), zap.String("error", doc.Metadata.Error))
			failed++
			continue
		}

		key := documentKey(candidate.URL, i, hasher)
		if _, err := sink.Put(cmd.Context(), key+".md", "text/markdown", []byte(doc.Markdown)); err != nil {
			return fmt.Errorf("write document %s: %w", candidate.URL, err)
		}
		meta, err := json.MarshalIndent(doc.Metadata, "", "  ")
		if err != nil {
			return fmt.Errorf("encode metadata %s: %w", candidate.URL, err)
		}
		if _, err := sink.Put(cmd.Context(), key+".json", "application/json", meta); err != nil {
			return fmt.Errorf("write metadata %s: %w", candidate.URL, err)
		}
		written++
	}

	logger.Info("crawl finished",
		zap.String("dir", opts.outDir),
		zap.Int("written", written),
		zap.Int("failed", failed),
	)
	return nil
}

// documentKey builds the per-page file stem: hostname directory, frontier
// position, and a short hash of the URL so distinct pages never collide.
func documentKey(rawURL string, index int, h scrape.Hasher) string {
	sum := h.Sum([]byte(rawURL))
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return fmt.Sprintf("page-%04d-%s", index, sum[:12])
	}
	return fmt.Sprintf("%s/%04d-%s", u.Hostname(), index, sum[:12])
}
