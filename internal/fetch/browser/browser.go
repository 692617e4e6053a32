// Package browser implements a fetch backend that delegates rendering to an
// external headless-browser service.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/scrape"
)

// Name is the backend tag used in selector orders and override rules.
const Name = "browser"

// Config points the backend at the rendering service.
type Config struct {
	URL       string
	UserAgent string
	Timeout   time.Duration
}

// Backend implements scrape.Backend against the rendering service's HTTP API.
type Backend struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Backend.
func New(cfg Config, logger *zap.Logger) *Backend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Backend{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Name implements scrape.Backend.
func (b *Backend) Name() string { return Name }

// Renders implements scrape.Backend.
func (b *Backend) Renders() bool { return true }

type renderRequest struct {
	URL           string            `json:"url"`
	WaitAfterLoad int64             `json:"wait_after_load"`
	Timeout       int64             `json:"timeout"`
	Headers       map[string]string `json:"headers,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
}

type renderResponse struct {
	Content        string `json:"content"`
	PageStatusCode int    `json:"pageStatusCode"`
	PageError      string `json:"pageError"`
}

// Fetch posts the target URL to the rendering service and returns the
// rendered DOM.
func (b *Backend) Fetch(ctx context.Context, request scrape.BackendRequest) (scrape.BackendResult, error) {
	payload := renderRequest{
		URL:           request.URL,
		WaitAfterLoad: request.WaitMS,
		Timeout:       b.timeoutMS(ctx),
		Headers:       request.Headers,
		UserAgent:     b.cfg.UserAgent,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return scrape.BackendResult{}, fmt.Errorf("marshal render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return scrape.BackendResult{}, fmt.Errorf("build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return scrape.BackendResult{}, fmt.Errorf("call rendering service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return scrape.BackendResult{}, fmt.Errorf("rendering service status %d: %s", resp.StatusCode, string(raw))
	}

	var rendered renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&rendered); err != nil {
		return scrape.BackendResult{}, fmt.Errorf("decode render response: %w", err)
	}
	if rendered.Content == "" && rendered.PageError != "" {
		return scrape.BackendResult{}, fmt.Errorf("rendering service: %s", rendered.PageError)
	}

	status := rendered.PageStatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if rendered.PageError != "" {
		b.logger.Debug("rendering service reported page error",
			zap.String("url", request.URL),
			zap.String("page_error", rendered.PageError))
	}

	return scrape.BackendResult{
		URL:         request.URL,
		StatusCode:  status,
		ContentType: "text/html; charset=utf-8",
		HTML:        rendered.Content,
		Body:        []byte(rendered.Content),
	}, nil
}

// timeoutMS converts the remaining context budget into the millisecond
// timeout the service expects.
func (b *Backend) timeoutMS(ctx context.Context) int64 {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			return remaining.Milliseconds()
		}
	}
	return (30 * time.Second).Milliseconds()
}
