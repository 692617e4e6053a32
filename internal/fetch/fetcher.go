package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/html"
	"github.com/scrapeline/scrapeline/internal/metrics"
	"github.com/scrapeline/scrapeline/internal/scrape"
)

// Config controls the fallback pipeline.
type Config struct {
	BaseTimeout time.Duration
	Overrides   []OverrideRule
}

// Fetcher implements scrape.PageScraper. It tries backends in selector order
// until one yields usable content, then normalizes the winner into a
// Document. Failures never surface as errors; they are recorded on the
// document metadata.
type Fetcher struct {
	selector    *Selector
	cleaner     *html.Cleaner
	converter   scrape.MarkdownConverter
	extractor   scrape.PDFExtractor
	rules       []OverrideRule
	baseTimeout time.Duration
	logger      *zap.Logger
}

// NewFetcher builds a Fetcher.
func NewFetcher(
	selector *Selector,
	cleaner *html.Cleaner,
	converter scrape.MarkdownConverter,
	extractor scrape.PDFExtractor,
	cfg Config,
	logger *zap.Logger,
) *Fetcher {
	baseTimeout := cfg.BaseTimeout
	if baseTimeout <= 0 {
		baseTimeout = 15 * time.Second
	}
	return &Fetcher{
		selector:    selector,
		cleaner:     cleaner,
		converter:   converter,
		extractor:   extractor,
		rules:       cfg.Overrides,
		baseTimeout: baseTimeout,
		logger:      logger,
	}
}

// Scrape fetches one page and produces its Document.
func (f *Fetcher) Scrape(ctx context.Context, request scrape.ScrapeRequest) scrape.Document {
	opts := request.Options

	// Pages already fetched upstream skip the backends entirely when they
	// carry enough content.
	if provided := strings.TrimSpace(request.ExistingHTML); utf8.RuneCountInString(provided) >= scrape.MinContentChars {
		doc, err := f.assemble(request.URL, opts, scrape.BackendResult{URL: request.URL, HTML: request.ExistingHTML})
		if err == nil {
			return doc
		}
		f.logger.Warn("provided html failed normalization",
			zap.String("url", request.URL), zap.Error(err))
	}

	order := f.selector.Order(request.URL, opts)
	if len(order) == 0 {
		return failureDocument(request.URL, 0, "no fetch backends configured")
	}

	var (
		lastStatus int
		lastReason string
	)
	for _, backend := range order {
		res, err := f.attempt(ctx, backend, request.URL, opts)
		if err != nil {
			lastReason = err.Error()
			f.logger.Debug("fetch attempt failed",
				zap.String("backend", backend.Name()),
				zap.String("url", request.URL),
				zap.Error(err))
			continue
		}

		if rule := matchOverride(f.rules, request.URL, res.HTML); rule != nil {
			res = f.applyOverride(ctx, rule, request.URL, opts, res)
		}

		if res.IsPDF() {
			doc, ok := f.pdfDocument(ctx, request.URL, res)
			if !ok {
				lastStatus = res.StatusCode
				lastReason = "pdf extraction failed"
				continue
			}
			metrics.ObserveScrapedPage(request.URL, res.StatusCode, len(res.Body))
			return doc
		}

		doc, err := f.assemble(request.URL, opts, res)
		if err != nil {
			lastStatus = res.StatusCode
			lastReason = err.Error()
			continue
		}

		// A definitive 404 is never retried against other backends.
		if utf8.RuneCountInString(doc.Content) >= scrape.MinContentChars || res.StatusCode == http.StatusNotFound {
			metrics.ObserveScrapedPage(request.URL, res.StatusCode, len(res.Body))
			return doc
		}
		lastStatus = res.StatusCode
		lastReason = fmt.Sprintf("%s returned insufficient content", backend.Name())
	}

	return failureDocument(request.URL, lastStatus, lastReason)
}

// attempt runs one backend fetch under the per-attempt budget.
func (f *Fetcher) attempt(ctx context.Context, backend scrape.Backend, pageURL string, opts scrape.PageOptions) (scrape.BackendResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.attemptTimeout(opts))
	defer cancel()

	start := time.Now()
	res, err := backend.Fetch(attemptCtx, scrape.BackendRequest{
		URL:        pageURL,
		WaitMS:     opts.WaitFor,
		Screenshot: opts.Screenshot,
		Headers:    opts.Headers,
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveFetchAttempt(backend.Name(), outcome, time.Since(start))
	return res, err
}

// attemptTimeout is the base budget plus however long the page is asked to
// wait after load.
func (f *Fetcher) attemptTimeout(opts scrape.PageOptions) time.Duration {
	timeout := f.baseTimeout
	if opts.Timeout > 0 {
		timeout = time.Duration(opts.Timeout) * time.Millisecond
	}
	return timeout + time.Duration(opts.WaitFor)*time.Millisecond
}

// applyOverride re-fetches through the rule's backend. The original result
// is kept when the override cannot improve on it.
func (f *Fetcher) applyOverride(ctx context.Context, rule *OverrideRule, pageURL string, opts scrape.PageOptions, original scrape.BackendResult) scrape.BackendResult {
	res := original
	if rule.Backend != "" {
		backend, ok := f.selector.Lookup(rule.Backend)
		if !ok {
			f.logger.Warn("override backend not configured", zap.String("backend", rule.Backend))
			return original
		}
		f.logger.Debug("scraping override matched",
			zap.String("url", pageURL),
			zap.String("backend", rule.Backend))
		overrideOpts := opts
		overrideOpts.WaitFor += rule.WaitMS
		refetched, err := f.attempt(ctx, backend, pageURL, overrideOpts)
		if err != nil {
			f.logger.Warn("override fetch failed",
				zap.String("backend", rule.Backend),
				zap.String("url", pageURL),
				zap.Error(err))
			return original
		}
		res = refetched
	}
	if rule.PDF && !res.IsPDF() {
		res.ContentType = "application/pdf"
	}
	return res
}

func (f *Fetcher) pdfDocument(ctx context.Context, pageURL string, res scrape.BackendResult) (scrape.Document, bool) {
	text, err := f.extractor.Extract(ctx, res.Body)
	if err != nil {
		f.logger.Warn("pdf extraction failed", zap.String("url", pageURL), zap.Error(err))
		return scrape.Document{}, false
	}
	return scrape.Document{
		Content:  text,
		Markdown: text,
		Metadata: scrape.Metadata{
			SourceURL:  pageURL,
			StatusCode: res.StatusCode,
		},
	}, true
}

// assemble normalizes a fetched page into its Document.
func (f *Fetcher) assemble(pageURL string, opts scrape.PageOptions, res scrape.BackendResult) (scrape.Document, error) {
	cleaned, err := f.cleaner.Clean(res.HTML, opts.OnlyMainContent)
	if err != nil {
		return scrape.Document{}, fmt.Errorf("clean html: %w", err)
	}
	converted, err := f.converter.Convert(cleaned)
	if err != nil {
		return scrape.Document{}, fmt.Errorf("convert markdown: %w", err)
	}
	text := strings.TrimSpace(converted)

	meta := html.Metadata(res.HTML)
	meta.SourceURL = pageURL
	meta.StatusCode = res.StatusCode

	doc := scrape.Document{
		Content:  text,
		Markdown: text,
		Links:    html.Links(pageURL, res.HTML),
		Metadata: meta,
	}
	if opts.IncludeHTML {
		doc.HTML = cleaned
	}
	if opts.IncludeRawHTML {
		doc.RawHTML = res.HTML
	}
	if opts.Screenshot {
		doc.Screenshot = res.Screenshot
	}
	return doc, nil
}

// failureDocument is the result when every backend came back empty or
// failed. The source URL always survives so callers can tell which page the
// failure belongs to.
func failureDocument(pageURL string, statusCode int, reason string) scrape.Document {
	if reason == "" {
		reason = "all fetch attempts failed"
	}
	return scrape.Document{
		Metadata: scrape.Metadata{
			SourceURL:  pageURL,
			StatusCode: statusCode,
			Error:      reason,
		},
	}
}
