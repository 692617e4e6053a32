// Package httpfetch implements the plain-HTTP fetch backend using gocolly.
package httpfetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/scrapeline/scrapeline/internal/scrape"
)

// Name is the backend tag used in selector orders and override rules.
const Name = "http"

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Backend implements scrape.Backend using the Colly collector. It never
// executes JavaScript.
type Backend struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Backend.
func New(cfg Config) *Backend {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	// Error statuses still carry a usable body and status code.
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())

	return &Backend{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Name implements scrape.Backend.
func (b *Backend) Name() string { return Name }

// Renders implements scrape.Backend.
func (b *Backend) Renders() bool { return false }

// Fetch executes a single HTTP GET using Colly. Responses with an HTTP error
// status are returned as results, not errors, so callers can act on the code.
func (b *Backend) Fetch(ctx context.Context, request scrape.BackendRequest) (scrape.BackendResult, error) {
	var (
		result   scrape.BackendResult
		fetchErr error
	)
	collector := b.buildCollector(ctx, request, &result, &fetchErr)

	visitErr := b.runCollector(ctx, collector, request.URL)
	if result.StatusCode != 0 {
		return result, nil
	}
	if fetchErr != nil {
		return scrape.BackendResult{}, fmt.Errorf("http response failed: %w", fetchErr)
	}
	if visitErr != nil {
		return scrape.BackendResult{}, fmt.Errorf("http visit failed: %w", visitErr)
	}
	return scrape.BackendResult{}, fmt.Errorf("no response received for %s", request.URL)
}

func (b *Backend) buildCollector(
	ctx context.Context,
	request scrape.BackendRequest,
	result *scrape.BackendResult,
	fetchErr *error,
) *colly.Collector {
	collector := b.baseCollector.Clone()
	if b.cfg.UserAgent != "" {
		collector.UserAgent = b.cfg.UserAgent
	}
	collector.SetRequestTimeout(b.requestTimeout(ctx))

	b.configureCollectorHooks(collector, request, result, fetchErr)
	return collector
}

// requestTimeout caps the collector timeout at the context deadline so one
// attempt never outlives its share of the fetch budget.
func (b *Backend) requestTimeout(ctx context.Context) time.Duration {
	timeout := b.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}
	return timeout
}

func (b *Backend) configureCollectorHooks(
	hooks collectorHooks,
	request scrape.BackendRequest,
	result *scrape.BackendResult,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, value := range request.Headers {
			r.Headers.Set(key, value)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = resultFromResponse(r)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		// Colly reports non-2xx statuses here. Keep the response so the
		// caller sees the real status code instead of a transport error.
		if r != nil && r.StatusCode > 0 {
			*result = resultFromResponse(r)
			return
		}
		*fetchErr = err
	})
}

func resultFromResponse(r *colly.Response) scrape.BackendResult {
	res := scrape.BackendResult{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Body:       append([]byte(nil), r.Body...),
	}
	if r.Headers != nil {
		res.ContentType = r.Headers.Get("Content-Type")
	}
	res.HTML = string(res.Body)
	return res
}

func (b *Backend) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("http fetch canceled: %w", ctx.Err())
	case err := <-done:
		return err
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
