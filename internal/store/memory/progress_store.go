package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/scrapeline/scrapeline/internal/store"
)

type statsKey struct {
	jobID       uuid.UUID
	site        string
	statusClass string
}

// ProgressStore aggregates site stats in memory. Used by single-node
// deployments and tests.
type ProgressStore struct {
	mu    sync.Mutex
	stats map[statsKey]store.SiteStats
}

// NewProgressStore returns an empty ProgressStore.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{stats: make(map[statsKey]store.SiteStats)}
}

// UpsertSiteStats folds the delta into the matching aggregate row.
func (s *ProgressStore) UpsertSiteStats(_ context.Context, delta store.SiteStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := statsKey{jobID: delta.JobID, site: delta.Site, statusClass: delta.StatusClass}
	row, ok := s.stats[key]
	if !ok {
		s.stats[key] = delta
		return nil
	}
	row.Visits += delta.Visits
	row.Bytes += delta.Bytes
	if delta.LastUpdate.After(row.LastUpdate) {
		row.LastUpdate = delta.LastUpdate
	}
	s.stats[key] = row
	return nil
}

// ListSiteStats returns the job's aggregates ordered by site then status class.
func (s *ProgressStore) ListSiteStats(_ context.Context, jobID uuid.UUID) ([]store.SiteStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.SiteStats
	for key, row := range s.stats {
		if key.jobID == jobID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Site != out[j].Site {
			return out[i].Site < out[j].Site
		}
		return out[i].StatusClass < out[j].StatusClass
	})
	return out, nil
}
