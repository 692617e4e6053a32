// Package proxy implements fetch backends that route requests through a
// scraping proxy service.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/scrape"
)

// Backend tags used in selector orders and override rules.
const (
	Name         = "proxy"
	NameRendered = "proxy-rendered"
)

// Config points the backend at the proxy service.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Backend implements scrape.Backend against the proxy service. The service
// forwards the upstream status code and Content-Type, so PDF detection and
// the 404 short-circuit work the same as for a direct fetch.
type Backend struct {
	cfg      Config
	rendered bool
	client   *http.Client
	logger   *zap.Logger
}

// New builds the plain variant. The proxy fetches without JavaScript.
func New(cfg Config, logger *zap.Logger) *Backend {
	return newBackend(cfg, false, logger)
}

// NewRendered builds the JavaScript-rendering variant.
func NewRendered(cfg Config, logger *zap.Logger) *Backend {
	return newBackend(cfg, true, logger)
}

func newBackend(cfg Config, rendered bool, logger *zap.Logger) *Backend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Backend{
		cfg:      cfg,
		rendered: rendered,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Name implements scrape.Backend.
func (b *Backend) Name() string {
	if b.rendered {
		return NameRendered
	}
	return Name
}

// Renders implements scrape.Backend.
func (b *Backend) Renders() bool { return b.rendered }

// Fetch requests the target URL through the proxy service.
func (b *Backend) Fetch(ctx context.Context, request scrape.BackendRequest) (scrape.BackendResult, error) {
	wantJSON := b.rendered && request.Screenshot

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.requestURL(request, wantJSON), nil)
	if err != nil {
		return scrape.BackendResult{}, fmt.Errorf("build proxy request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return scrape.BackendResult{}, fmt.Errorf("call proxy service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return scrape.BackendResult{}, fmt.Errorf("read proxy response: %w", err)
	}

	if wantJSON {
		return b.decodeJSONResult(request.URL, resp.StatusCode, body)
	}

	res := scrape.BackendResult{
		URL:         request.URL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}
	if !res.IsPDF() {
		res.HTML = string(body)
	}
	return res, nil
}

// requestURL assembles the proxy query. transparent_status_code makes the
// service mirror the upstream status instead of collapsing errors to 500.
func (b *Backend) requestURL(request scrape.BackendRequest, wantJSON bool) string {
	params := url.Values{}
	params.Set("api_key", b.cfg.APIKey)
	params.Set("url", request.URL)
	params.Set("render_js", strconv.FormatBool(b.rendered))
	params.Set("transparent_status_code", "true")
	if b.rendered && request.WaitMS > 0 {
		params.Set("wait", strconv.FormatInt(request.WaitMS, 10))
	}
	if wantJSON {
		params.Set("screenshot", "true")
		params.Set("json_response", "true")
	}
	if len(request.Headers) > 0 {
		params.Set("forward_headers", "true")
	}

	u := b.cfg.URL + "?" + params.Encode()
	return u
}

type jsonResult struct {
	Body              string `json:"body"`
	Screenshot        string `json:"screenshot"`
	InitialStatusCode int    `json:"initial-status-code"`
}

func (b *Backend) decodeJSONResult(pageURL string, status int, body []byte) (scrape.BackendResult, error) {
	var decoded jsonResult
	if err := json.Unmarshal(body, &decoded); err != nil {
		return scrape.BackendResult{}, fmt.Errorf("decode proxy json response: %w", err)
	}
	if decoded.InitialStatusCode > 0 {
		status = decoded.InitialStatusCode
	}
	return scrape.BackendResult{
		URL:         pageURL,
		StatusCode:  status,
		ContentType: "text/html; charset=utf-8",
		HTML:        decoded.Body,
		Body:        []byte(decoded.Body),
		Screenshot:  decoded.Screenshot,
	}, nil
}
