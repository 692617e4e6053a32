// Package memory provides an in-memory job store for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrapeline/scrapeline/internal/scrape"
	"github.com/scrapeline/scrapeline/internal/store"
)

// JobStore keeps jobs and result references in process memory.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]scrape.Job
	results map[uuid.UUID][]scrape.ResultRef
}

// NewJobStore constructs an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[uuid.UUID]scrape.Job),
		results: make(map[uuid.UUID][]scrape.ResultRef),
	}
}

// CreateJob stores a new job row.
func (s *JobStore) CreateJob(_ context.Context, job *scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return store.ErrAlreadyExists
	}
	s.jobs[job.ID] = *job
	return nil
}

// GetJob fetches a job by id. Callers own the returned copy.
func (s *JobStore) GetJob(_ context.Context, id uuid.UUID) (*scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &job, nil
}

// UpdateJobStatus moves a job to the given status.
func (s *JobStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status scrape.JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.Status = status
	job.Error = errMsg
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return nil
}

// SetProgress updates a job's processed/total counters.
func (s *JobStore) SetProgress(_ context.Context, id uuid.UUID, current, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.Current = current
	job.Total = total
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return nil
}

// AppendResultRef records one result reference. A ref with an index already
// recorded replaces the earlier row, matching the postgres upsert.
func (s *JobStore) AppendResultRef(_ context.Context, ref scrape.ResultRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := s.results[ref.JobID]
	for i := range refs {
		if refs[i].Index == ref.Index {
			refs[i] = ref
			return nil
		}
	}
	s.results[ref.JobID] = append(refs, ref)
	return nil
}

// ListResultRefs returns a job's result references ordered by index.
// Callers own the returned slice.
func (s *JobStore) ListResultRefs(_ context.Context, jobID uuid.UUID) ([]scrape.ResultRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := s.results[jobID]
	out := make([]scrape.ResultRef, len(refs))
	copy(out, refs)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}
