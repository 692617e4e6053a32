// Package postgres provides the Postgres-backed job store.
//
// Expected schema:
//
//	jobs(id uuid primary key, team_id text, seed text, policy jsonb,
//	     options jsonb, status text, current int, total int, error text,
//	     created_at timestamptz, updated_at timestamptz)
//	job_results(job_id uuid, idx int, url text, ref text, status_code int,
//	     primary key (job_id, idx))
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scrapeline/scrapeline/internal/scrape"
	"github.com/scrapeline/scrapeline/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStore persists jobs and result references in Postgres.
type JobStore struct {
	pool dbPool
}

// NewJobStore connects a pool using the provided config.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewJobStoreWithPool(pool dbPool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// ProgressStore derives a progress store sharing this store's pool. The
// JobStore stays the pool owner; closing it closes both.
func (s *JobStore) ProgressStore() (*ProgressStore, error) {
	return NewProgressStoreWithPool(s.pool)
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a job row.
func (s *JobStore) CreateJob(ctx context.Context, job *scrape.Job) error {
	policyJSON, err := json.Marshal(job.Policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	optionsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO jobs (
	id, team_id, seed, policy, options, status, current, total, error,
	created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		job.ID, job.TeamID, job.Seed, policyJSON, optionsJSON,
		string(job.Status), job.Current, job.Total, job.Error,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job row by id.
func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*scrape.Job, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, team_id, seed, policy, options, status, current, total, error,
       created_at, updated_at
FROM jobs WHERE id = $1`, id)

	var (
		job         scrape.Job
		status      string
		policyJSON  []byte
		optionsJSON []byte
	)
	err := row.Scan(
		&job.ID, &job.TeamID, &job.Seed, &policyJSON, &optionsJSON,
		&status, &job.Current, &job.Total, &job.Error,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}
	job.Status = scrape.JobStatus(status)
	if err := json.Unmarshal(policyJSON, &job.Policy); err != nil {
		return nil, fmt.Errorf("unmarshal policy: %w", err)
	}
	if err := json.Unmarshal(optionsJSON, &job.Options); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	return &job, nil
}

// UpdateJobStatus moves a job to the given status.
func (s *JobStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status scrape.JobStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE jobs SET status = $2, error = $3, updated_at = now() WHERE id = $1`,
		id, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SetProgress updates a job's processed/total counters.
func (s *JobStore) SetProgress(ctx context.Context, id uuid.UUID, current, total int) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE jobs SET current = $2, total = $3, updated_at = now() WHERE id = $1`,
		id, current, total)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AppendResultRef records one result reference, replacing any earlier row
// for the same index so retried tasks stay idempotent.
func (s *JobStore) AppendResultRef(ctx context.Context, ref scrape.ResultRef) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO job_results (job_id, idx, url, ref, status_code)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (job_id, idx) DO UPDATE
SET url = EXCLUDED.url, ref = EXCLUDED.ref, status_code = EXCLUDED.status_code`,
		ref.JobID, ref.Index, ref.URL, ref.Ref, ref.StatusCode)
	if err != nil {
		return fmt.Errorf("insert result ref: %w", err)
	}
	return nil
}

// ListResultRefs returns a job's result references ordered by index.
func (s *JobStore) ListResultRefs(ctx context.Context, jobID uuid.UUID) ([]scrape.ResultRef, error) {
	rows, err := s.pool.Query(ctx, `
SELECT job_id, idx, url, ref, status_code
FROM job_results WHERE job_id = $1 ORDER BY idx`, jobID)
	if err != nil {
		return nil, fmt.Errorf("select result refs: %w", err)
	}
	defer rows.Close()

	var out []scrape.ResultRef
	for rows.Next() {
		var ref scrape.ResultRef
		if err := rows.Scan(&ref.JobID, &ref.Index, &ref.URL, &ref.Ref, &ref.StatusCode); err != nil {
			return nil, fmt.Errorf("scan result ref: %w", err)
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result refs: %w", err)
	}
	return out, nil
}
