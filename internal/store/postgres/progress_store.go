package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/scrapeline/scrapeline/internal/store"
)

// ProgressStore persists per-site fetch aggregates.
//
// Expected schema:
//
//	site_stats(job_id uuid, site text, status_class text, visits bigint,
//	     bytes bigint, last_update timestamptz,
//	     primary key (job_id, site, status_class))
type ProgressStore struct {
	pool dbPool
}

// NewProgressStoreWithPool constructs a store over an existing pool. The pool
// is shared with the JobStore and closed by its owner.
func NewProgressStoreWithPool(pool dbPool) (*ProgressStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProgressStore{pool: pool}, nil
}

// UpsertSiteStats folds the delta into the matching aggregate row.
func (s *ProgressStore) UpsertSiteStats(ctx context.Context, delta store.SiteStats) error {
	const query = `
		INSERT INTO site_stats (job_id, site, status_class, visits, bytes, last_update)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id, site, status_class) DO UPDATE
		SET visits = site_stats.visits + EXCLUDED.visits,
		    bytes = site_stats.bytes + EXCLUDED.bytes,
		    last_update = GREATEST(site_stats.last_update, EXCLUDED.last_update)`

	_, err := s.pool.Exec(ctx, query,
		delta.JobID, delta.Site, delta.StatusClass, delta.Visits, delta.Bytes, delta.LastUpdate)
	if err != nil {
		return fmt.Errorf("upsert site stats: %w", err)
	}
	return nil
}

// ListSiteStats returns the job's aggregates ordered by site then status class.
func (s *ProgressStore) ListSiteStats(ctx context.Context, jobID uuid.UUID) ([]store.SiteStats, error) {
	const query = `
		SELECT job_id, site, status_class, visits, bytes, last_update
		FROM site_stats
		WHERE job_id = $1
		ORDER BY site, status_class`

	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list site stats: %w", err)
	}
	defer rows.Close()

	var out []store.SiteStats
	for rows.Next() {
		var row store.SiteStats
		if err := rows.Scan(&row.JobID, &row.Site, &row.StatusClass, &row.Visits, &row.Bytes, &row.LastUpdate); err != nil {
			return nil, fmt.Errorf("scan site stats row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate site stats rows: %w", err)
	}
	return out, nil
}
