// Package store defines the sentinel errors and persistence contracts shared
// by the job store implementations. The JobStore contract itself lives in
// internal/scrape; this package must not import database drivers.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a job id has no row.
var ErrNotFound = errors.New("job not found")

// ErrAlreadyExists is returned when creating a job whose id is taken.
var ErrAlreadyExists = errors.New("job already exists")

// SiteStats is one aggregate row of fetch activity for a job, keyed by
// (job, site, status class).
type SiteStats struct {
	JobID       uuid.UUID
	Site        string
	StatusClass string
	Visits      int64
	Bytes       int64
	LastUpdate  time.Time
}

// ProgressRepository persists the per-site fetch aggregates collapsed by the
// progress pipeline's store sink.
type ProgressRepository interface {
	// UpsertSiteStats adds the delta's visit and byte counts to the matching
	// row, creating it when absent. LastUpdate keeps the newest timestamp.
	UpsertSiteStats(ctx context.Context, delta SiteStats) error
	// ListSiteStats returns a job's aggregates ordered by site then status
	// class.
	ListSiteStats(ctx context.Context, jobID uuid.UUID) ([]SiteStats, error)
}
