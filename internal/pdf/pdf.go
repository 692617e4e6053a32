// Package pdf extracts text from PDF streams, preferring an external parse
// service and falling back to local extraction.
package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// Config points the client at the parse service. An empty ServiceURL keeps
// extraction local.
type Config struct {
	ServiceURL   string
	APIKey       string
	PollInterval time.Duration
	PollAttempts int
}

// Client implements scrape.PDFExtractor. The remote path uploads the stream
// and polls for the parsed markdown; any remote failure degrades to the local
// parser rather than failing the fetch.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 20
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Extract returns the text content of the PDF.
func (c *Client) Extract(ctx context.Context, data []byte) (string, error) {
	if c.cfg.ServiceURL == "" {
		return extractLocal(data)
	}
	text, err := c.extractRemote(ctx, data)
	if err != nil {
		c.logger.Warn("pdf parse service failed, using local extraction", zap.Error(err))
		return extractLocal(data)
	}
	return text, nil
}

type uploadResponse struct {
	ID string `json:"id"`
}

type resultResponse struct {
	Markdown string `json:"markdown"`
}

func (c *Client) extractRemote(ctx context.Context, data []byte) (string, error) {
	id, err := c.upload(ctx, data)
	if err != nil {
		return "", err
	}

	resultURL := fmt.Sprintf("%s/job/%s/result/markdown", strings.TrimSuffix(c.cfg.ServiceURL, "/"), id)
	for attempt := 0; attempt < c.cfg.PollAttempts; attempt++ {
		text, ready, err := c.pollResult(ctx, resultURL)
		if err != nil {
			return "", err
		}
		if ready {
			return text, nil
		}
		if err := sleepCtx(ctx, c.cfg.PollInterval); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("pdf parse job %s not ready after %d attempts", id, c.cfg.PollAttempts)
}

func (c *Client) upload(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "document.pdf")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	uploadURL := strings.TrimSuffix(c.cfg.ServiceURL, "/") + "/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload pdf: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload pdf: unexpected status %d", resp.StatusCode)
	}

	var up uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if up.ID == "" {
		return "", fmt.Errorf("upload response missing job id")
	}
	return up.ID, nil
}

func (c *Client) pollResult(ctx context.Context, resultURL string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return "", false, fmt.Errorf("build result request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("poll result: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var res resultResponse
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return "", false, fmt.Errorf("decode result: %w", err)
		}
		return res.Markdown, true, nil
	case http.StatusAccepted, http.StatusNotFound:
		// Parse job still running.
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for reuse
		return "", false, nil
	default:
		return "", false, fmt.Errorf("poll result: unexpected status %d", resp.StatusCode)
	}
}

func extractLocal(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	text, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(text); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pdf poll wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
