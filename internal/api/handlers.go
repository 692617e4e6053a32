package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/job"
	"github.com/scrapeline/scrapeline/internal/ratelimit"
	"github.com/scrapeline/scrapeline/internal/scrape"
	"github.com/scrapeline/scrapeline/internal/store"
)

type scrapeRequest struct {
	URL         string             `json:"url"`
	PageOptions scrape.PageOptions `json:"pageOptions"`
}

type scrapeResponse struct {
	Success bool            `json:"success"`
	Data    scrape.Document `json:"data"`
}

type crawlRequest struct {
	URL            string             `json:"url"`
	CrawlerOptions scrape.CrawlPolicy `json:"crawlerOptions"`
	PageOptions    scrape.PageOptions `json:"pageOptions"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	// Data carries the documents of a completed job; PartialData carries
	// whatever has finished so far on a job in any other state.
	Data        []scrape.Document `json:"data,omitempty"`
	PartialData []scrape.Document `json:"partial_data,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// scrapePage fetches one URL synchronously through the page pipeline.
// Successful non-preview scrapes bill one unit.
func (s *Server) scrapePage(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateTargetURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.blocklist.IsBlocked(req.URL) {
		writeError(w, http.StatusForbidden, blockedURLMessage)
		return
	}

	mode := ratelimit.ModeScrape
	if identity.Preview {
		mode = ratelimit.ModePreview
	}
	if s.gate != nil {
		if decision := s.gate.Allow(r.Context(), identity.TeamID, identity.Plan, mode); !decision.Allowed {
			writeRateLimited(w, decision.RetryAfter)
			return
		}
	}

	doc := s.scraper.Scrape(r.Context(), scrape.ScrapeRequest{URL: req.URL, Options: req.PageOptions})
	success := doc.Metadata.Error == ""
	if success && !identity.Preview && s.biller != nil {
		s.biller.BillTeam(r.Context(), identity.TeamID, 1)
	}
	writeJSON(w, http.StatusOK, scrapeResponse{Success: success, Data: doc})
}

// submitCrawl starts an async crawl job and returns its id. Preview tokens
// cannot start crawls; the coordinator gates, expands, and persists.
func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	if identity.Preview {
		writeError(w, http.StatusForbidden, "preview tokens cannot start crawl jobs")
		return
	}
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateTargetURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.blocklist.IsBlocked(req.URL) {
		writeError(w, http.StatusForbidden, blockedURLMessage)
		return
	}

	policy := req.CrawlerOptions
	if policy.MaxDepth <= 0 {
		policy.MaxDepth = s.cfg.Crawl.MaxDepthDefault
	}
	if policy.MaxCrawledLinks <= 0 {
		policy.MaxCrawledLinks = s.cfg.Crawl.MaxLinksDefault
	}

	created, err := s.jobs.Submit(r.Context(), job.SubmitRequest{
		TeamID:  identity.TeamID,
		Plan:    identity.Plan,
		Seed:    req.URL,
		Policy:  policy,
		Options: req.PageOptions,
	})
	if err != nil {
		var limited *job.RateLimitError
		if errors.As(err, &limited) {
			writeRateLimited(w, limited.RetryAfter)
			return
		}
		s.logger.Error("crawl submit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"jobId": created.ID.String()})
}

// getCrawlStatus reports a job's progress. Completed jobs carry their full
// document set; anything else carries the documents finished so far. Jobs
// belonging to other teams read as absent.
func (s *Server) getCrawlStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Status polling shares the crawlStatus bucket for preview identities
	// too; burning the tiny preview budget on polls would strand jobs.
	if s.gate != nil {
		if decision := s.gate.Allow(r.Context(), identity.TeamID, identity.Plan, ratelimit.ModeCrawlStatus); !decision.Allowed {
			writeRateLimited(w, decision.RetryAfter)
			return
		}
	}

	snap, err := s.jobs.Progress(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("job progress failed", zap.String("job_id", jobID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if snap.Job.TeamID != identity.TeamID {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	resp := statusResponse{
		Status:  string(snap.Job.Status),
		Current: snap.Job.Current,
		Total:   snap.Job.Total,
		Error:   snap.Job.Error,
	}
	if snap.Job.Status == scrape.StatusCompleted {
		resp.Data = snap.Documents
	} else if len(snap.Documents) > 0 {
		resp.PartialData = snap.Documents
	}
	writeJSON(w, http.StatusOK, resp)
}

// cancelCrawl stops a running job. Unlike status reads, a team mismatch here
// is an explicit 403 so a bad cancel is distinguishable from a missing job.
func (s *Server) cancelCrawl(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch err := s.jobs.Cancel(r.Context(), jobID, identity.TeamID); {
	case errors.Is(err, job.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "job does not belong to caller")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case err != nil:
		s.logger.Error("job cancel failed", zap.String("job_id", jobID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": string(scrape.StatusCancelled)})
	}
}

func parseJobID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "job_id")
	jobID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("invalid job_id")
	}
	return jobID, nil
}

// validateTargetURL rejects targets the fetch backends cannot reach before
// any quota is spent on them.
func validateTargetURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("url scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("url host is required")
	}
	return nil
}
