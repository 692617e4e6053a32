package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/progress"
	"github.com/scrapeline/scrapeline/internal/store"
)

// StoreSink persists per-site fetch aggregates via a store.ProgressRepository.
// It collapses each batch into one delta per (job, site, status class) to
// reduce write amplification. Job lifecycle persistence belongs to the job
// store; this sink only owns fetch aggregates.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type statsKey struct {
	jobID       uuid.UUID
	site        string
	statusClass string
}

// Consume collapses site deltas and forwards them to the repository. It
// respects ctx deadlines and returns repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}

	deltas := make(map[statsKey]*store.SiteStats)
	for _, evt := range batch {
		if evt.Stage != progress.StageFetchDone || evt.Site == "" {
			continue
		}
		key := statsKey{jobID: evt.JobID, site: evt.Site, statusClass: string(evt.StatusClass)}
		delta := deltas[key]
		if delta == nil {
			delta = &store.SiteStats{
				JobID:       evt.JobID,
				Site:        evt.Site,
				StatusClass: string(evt.StatusClass),
			}
			deltas[key] = delta
		}
		delta.Visits += evt.Visits
		delta.Bytes += evt.Bytes
		if evt.TS.After(delta.LastUpdate) {
			delta.LastUpdate = evt.TS
		}
	}

	for _, delta := range deltas {
		if delta.Visits == 0 && delta.Bytes == 0 {
			continue
		}
		if err := s.repo.UpsertSiteStats(ctx, *delta); err != nil {
			return fmt.Errorf("upsert site stats: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
