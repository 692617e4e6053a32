package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/scrape"
)

func TestFetchPlainPassthrough(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "key", q.Get("api_key"))
		assert.Equal(t, "https://example.com/page", q.Get("url"))
		assert.Equal(t, "false", q.Get("render_js"))
		assert.Equal(t, "true", q.Get("transparent_status_code"))
		assert.Empty(t, q.Get("wait"))

		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>through the proxy</body></html>"))
	}))
	defer srv.Close()

	b := New(Config{URL: srv.URL, APIKey: "key"}, zap.NewNop())
	res, err := b.Fetch(context.Background(), scrape.BackendRequest{URL: "https://example.com/page"})
	require.NoError(t, err)
	assert.Equal(t, Name, b.Name())
	assert.False(t, b.Renders())
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.HTML, "through the proxy")
}

func TestFetchRenderedAddsWait(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("render_js"))
		assert.Equal(t, "2000", q.Get("wait"))
		w.Write([]byte("<html>rendered</html>"))
	}))
	defer srv.Close()

	b := NewRendered(Config{URL: srv.URL, APIKey: "key"}, zap.NewNop())
	res, err := b.Fetch(context.Background(), scrape.BackendRequest{URL: "https://example.com", WaitMS: 2000})
	require.NoError(t, err)
	assert.Equal(t, NameRendered, b.Name())
	assert.True(t, b.Renders())
	assert.Contains(t, res.HTML, "rendered")
}

func TestFetchMirrorsUpstreamStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("not found upstream"))
	}))
	defer srv.Close()

	b := New(Config{URL: srv.URL, APIKey: "key"}, zap.NewNop())
	res, err := b.Fetch(context.Background(), scrape.BackendRequest{URL: "https://example.com/missing"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestFetchPDFKeepsBytes(t *testing.T) {
	t.Parallel()

	pdfBytes := []byte("%PDF-1.4 stream")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(pdfBytes)
	}))
	defer srv.Close()

	b := New(Config{URL: srv.URL, APIKey: "key"}, zap.NewNop())
	res, err := b.Fetch(context.Background(), scrape.BackendRequest{URL: "https://example.com/report.pdf"})
	require.NoError(t, err)
	assert.True(t, res.IsPDF())
	assert.Equal(t, pdfBytes, res.Body)
	assert.Empty(t, res.HTML)
}

func TestFetchScreenshotJSONResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("screenshot"))
		assert.Equal(t, "true", q.Get("json_response"))
		json.NewEncoder(w).Encode(map[string]any{
			"body":                "<html>shot</html>",
			"screenshot":          "aGVsbG8=",
			"initial-status-code": 200,
		})
	}))
	defer srv.Close()

	b := NewRendered(Config{URL: srv.URL, APIKey: "key"}, zap.NewNop())
	res, err := b.Fetch(context.Background(), scrape.BackendRequest{URL: "https://example.com", Screenshot: true})
	require.NoError(t, err)
	assert.Equal(t, "aGVsbG8=", res.Screenshot)
	assert.Contains(t, res.HTML, "shot")
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
