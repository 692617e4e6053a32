package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/store"
)

const (
	defaultSitesLimit = 100
	maxSitesLimit     = 1000
	progressTimeout   = 3 * time.Second
)

// ProgressHandler exposes the read-only per-site fetch aggregates the
// progress pipeline's store sink collapses for each job.
type ProgressHandler struct {
	repo    store.ProgressRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the repository and logger. A nil repo is allowed
// and turns the endpoints into 503s.
func NewProgressHandler(repo store.ProgressRepository, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		repo:    repo,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// ListJobSites handles GET /v0/crawl/status/{job_id}/sites?limit=&offset=.
// It returns {"sites": [...]} on success, 400 for invalid parameters, 503
// when the repository is missing, or 500 for repository errors.
func (h *ProgressHandler) ListJobSites(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultSitesLimit, maxSitesLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sites, err := h.repo.ListSiteStats(ctx, jobID)
	if err != nil {
		h.logger.Error("list job sites failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list job sites")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sites": toSiteDTOs(pageOf(sites, limit, offset)),
	})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

// pageOf windows the full aggregate list; the repository returns every row
// for the job and the handler does the slicing.
func pageOf(sites []store.SiteStats, limit, offset int) []store.SiteStats {
	if offset >= len(sites) {
		return nil
	}
	end := offset + limit
	if end > len(sites) {
		end = len(sites)
	}
	return sites[offset:end]
}

func toSiteDTOs(in []store.SiteStats) []siteDTO {
	out := make([]siteDTO, 0, len(in))
	for _, s := range in {
		out = append(out, siteDTO{
			Site:        s.Site,
			StatusClass: s.StatusClass,
			Visits:      s.Visits,
			BytesTotal:  s.Bytes,
			LastUpdate:  s.LastUpdate,
		})
	}
	return out
}

type siteDTO struct {
	Site        string    `json:"site"`
	StatusClass string    `json:"status_class"`
	Visits      int64     `json:"visits"`
	BytesTotal  int64     `json:"bytes_total"`
	LastUpdate  time.Time `json:"last_update"`
}
