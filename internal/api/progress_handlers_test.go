package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/store"
)

func TestProgressHandlerListJobSites(t *testing.T) {
	t.Parallel()

	jobID := uuid.New()
	repo := &mockProgressRepo{sites: []store.SiteStats{
		{JobID: jobID, Site: "example.com", StatusClass: "2xx", Visits: 7, Bytes: 4096, LastUpdate: time.Unix(1700000000, 0).UTC()},
		{JobID: jobID, Site: "example.com", StatusClass: "4xx", Visits: 1, Bytes: 512, LastUpdate: time.Unix(1700000100, 0).UTC()},
		{JobID: jobID, Site: "example.org", StatusClass: "2xx", Visits: 3, Bytes: 2048, LastUpdate: time.Unix(1700000200, 0).UTC()},
	}}
	handler := NewProgressHandler(repo, zap.NewNop())

	req := withJobIDParam(httptest.NewRequest(http.MethodGet, "/v0/crawl/status/"+jobID.String()+"/sites", nil), jobID.String())
	rec := httptest.NewRecorder()
	handler.ListJobSites(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sites []siteDTO `json:"sites"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sites, 3)
	require.Equal(t, "example.com", body.Sites[0].Site)
	require.Equal(t, int64(7), body.Sites[0].Visits)
	require.Equal(t, int64(4096), body.Sites[0].BytesTotal)
}

func TestProgressHandlerListJobSitesPaginates(t *testing.T) {
	t.Parallel()

	jobID := uuid.New()
	repo := &mockProgressRepo{sites: []store.SiteStats{
		{JobID: jobID, Site: "a.example", StatusClass: "2xx", Visits: 1},
		{JobID: jobID, Site: "b.example", StatusClass: "2xx", Visits: 2},
		{JobID: jobID, Site: "c.example", StatusClass: "2xx", Visits: 3},
	}}
	handler := NewProgressHandler(repo, zap.NewNop())

	target := "/v0/crawl/status/" + jobID.String() + "/sites?limit=1&offset=1"
	req := withJobIDParam(httptest.NewRequest(http.MethodGet, target, nil), jobID.String())
	rec := httptest.NewRecorder()
	handler.ListJobSites(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sites []siteDTO `json:"sites"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sites, 1)
	require.Equal(t, "b.example", body.Sites[0].Site)

	// Offsets past the end return an empty page, not an error.
	target = "/v0/crawl/status/" + jobID.String() + "/sites?offset=10"
	req = withJobIDParam(httptest.NewRequest(http.MethodGet, target, nil), jobID.String())
	rec = httptest.NewRecorder()
	handler.ListJobSites(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Empty(t, body.Sites)
}

func TestProgressHandlerListJobSitesInvalidLimit(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(&mockProgressRepo{}, zap.NewNop())
	jobID := uuid.New()
	req := withJobIDParam(httptest.NewRequest(
		http.MethodGet, "/v0/crawl/status/"+jobID.String()+"/sites?limit=-1", nil), jobID.String())
	rec := httptest.NewRecorder()

	handler.ListJobSites(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressHandlerNilRepo(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(nil, zap.NewNop())
	req := withJobIDParam(httptest.NewRequest(http.MethodGet, "/sites", nil), uuid.NewString())
	rec := httptest.NewRecorder()

	handler.ListJobSites(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProgressHandlerRepoError(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(&mockProgressRepo{err: context.DeadlineExceeded}, zap.NewNop())
	jobID := uuid.New()
	req := withJobIDParam(httptest.NewRequest(
		http.MethodGet, "/v0/crawl/status/"+jobID.String()+"/sites", nil), jobID.String())
	rec := httptest.NewRecorder()

	handler.ListJobSites(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type mockProgressRepo struct {
	sites []store.SiteStats
	err   error
}

func (m *mockProgressRepo) UpsertSiteStats(context.Context, store.SiteStats) error {
	return m.err
}

func (m *mockProgressRepo) ListSiteStats(context.Context, uuid.UUID) ([]store.SiteStats, error) {
	return m.sites, m.err
}

func withJobIDParam(r *http.Request, jobID string) *http.Request {
	ctx := chi.NewRouteContext()
	ctx.URLParams.Add("job_id", jobID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, ctx))
}
