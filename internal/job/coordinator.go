// Package job coordinates crawl jobs: admission through the rate gate,
// frontier dispatch, the shared fetch worker pool, progress snapshots,
// cancellation, and billing.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/billing"
	"github.com/scrapeline/scrapeline/internal/metrics"
	"github.com/scrapeline/scrapeline/internal/progress"
	"github.com/scrapeline/scrapeline/internal/ratelimit"
	"github.com/scrapeline/scrapeline/internal/scrape"
)

// DefaultEventsTopic receives job lifecycle events when no topic is
// configured.
const DefaultEventsTopic = "crawl-events"

const (
	defaultWorkers   = 8
	defaultRetention = time.Hour
)

// ErrNotAuthorized reports a job owned by a different team.
var ErrNotAuthorized = errors.New("job does not belong to caller")

// ErrRateLimited reports an admission rejection. Errors matching it are
// RateLimitError values carrying a retry-after hint.
var ErrRateLimited = errors.New("rate limited")

// RateLimitError is returned by Submit when the rate gate rejects the
// request. No job is created for a rejected request.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Unwrap lets errors.Is match ErrRateLimited.
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// Config tunes the coordinator and its worker pool.
type Config struct {
	// Workers is the size of the fetch worker pool.
	Workers int
	// EventsTopic receives job lifecycle events. Empty falls back to
	// DefaultEventsTopic.
	EventsTopic string
	// ArchivePrefix prefixes blob keys for archived page artifacts.
	ArchivePrefix string
	// Retention is how long a terminal job's documents stay queryable in
	// memory before eviction. Durable rows and result refs outlive it.
	Retention time.Duration
	// BaseContext parents the per-job dispatch contexts so enqueueing
	// outlives the submitting request. Defaults to context.Background().
	BaseContext context.Context
}

// Deps are the coordinator's collaborators. Scraper, Expander, Store, Queue,
// IDs, Clock, and Hasher are required; the rest degrade to no-ops when nil.
type Deps struct {
	Scraper   scrape.PageScraper
	Expander  scrape.Expander
	Store     scrape.JobStore
	Blobs     scrape.BlobStore
	Queue     scrape.TaskQueue
	Publisher scrape.Publisher
	Biller    billing.Biller
	Gate      *ratelimit.Gate
	Progress  progress.Emitter
	IDs       scrape.IDGenerator
	Clock     scrape.Clock
	Hasher    scrape.Hasher
}

// SubmitRequest describes one crawl ask from an already-authenticated caller.
type SubmitRequest struct {
	TeamID  string
	Plan    ratelimit.Plan
	Seed    string
	Policy  scrape.CrawlPolicy
	Options scrape.PageOptions
}

// Snapshot is a point-in-time view of one job. Documents are present while
// the job is live in memory; after retention eviction only the job row and
// the durable Refs remain.
type Snapshot struct {
	Job       scrape.Job
	Documents []scrape.Document
	Refs      []scrape.ResultRef
}

// jobState is the in-memory record of one job. The job row and the document
// slice are guarded by mu; ID, TeamID, Seed, Policy, and Options never change
// after construction.
type jobState struct {
	mu   sync.Mutex
	job  scrape.Job
	docs []scrape.Document
	// activated flips once when the first worker moves the job to active,
	// so only that worker persists the transition.
	activated bool

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *jobState) terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job.Status.Terminal()
}

// Coordinator owns the job registry and the worker pool that drains the task
// queue. Workers never see job structs directly; every mutation goes through
// the per-job lock.
type Coordinator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu   sync.RWMutex
	jobs map[uuid.UUID]*jobState

	pending atomic.Int64
}

// NewCoordinator validates dependencies and applies config defaults.
func NewCoordinator(cfg Config, deps Deps, logger *zap.Logger) (*Coordinator, error) {
	switch {
	case deps.Scraper == nil:
		return nil, fmt.Errorf("scraper is required")
	case deps.Expander == nil:
		return nil, fmt.Errorf("expander is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("job store is required")
	case deps.Queue == nil:
		return nil, fmt.Errorf("task queue is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case deps.Hasher == nil:
		return nil, fmt.Errorf("hasher is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.EventsTopic == "" {
		cfg.EventsTopic = DefaultEventsTopic
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:    cfg,
		deps:   deps,
		logger: logger.Named("job"),
		jobs:   make(map[uuid.UUID]*jobState),
	}, nil
}

// Submit admits, expands, and dispatches one crawl job. The rate gate and
// the frontier expansion run synchronously; everything after that is handed
// to the worker pool. The returned Job is a point-in-time copy.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*scrape.Job, error) {
	if c.deps.Gate != nil {
		decision := c.deps.Gate.Allow(ctx, req.TeamID, req.Plan, ratelimit.ModeCrawl)
		if !decision.Allowed {
			return nil, &RateLimitError{RetryAfter: decision.RetryAfter}
		}
	}

	candidates, err := c.deps.Expander.Expand(ctx, req.Seed, req.Policy)
	if err != nil {
		return nil, fmt.Errorf("expand frontier: %w", err)
	}

	now := c.deps.Clock.Now()
	job := scrape.Job{
		ID:        c.deps.IDs.New(),
		TeamID:    req.TeamID,
		Seed:      req.Seed,
		Policy:    req.Policy,
		Options:   req.Options,
		Status:    scrape.StatusQueued,
		Total:     len(candidates),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if req.Policy.ReturnOnlyURLs {
		return c.completeURLOnly(ctx, job, candidates)
	}

	if err := c.deps.Store.CreateJob(ctx, &job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	state := c.register(job, nil)
	c.emit(progress.Event{JobID: job.ID, TS: now, Stage: progress.StageJobStart, Note: job.Seed})
	c.publishLifecycle(ctx, job, "crawl.started")
	go c.feed(state, candidates)

	c.logger.Info("job submitted",
		zap.Stringer("job_id", job.ID),
		zap.String("team_id", job.TeamID),
		zap.String("seed", job.Seed),
		zap.Int("total", job.Total),
	)
	snapshot := job
	return &snapshot, nil
}

// completeURLOnly finishes a returnOnlyUrls job at submission: the frontier
// itself is the result, one URL-only document per candidate, billed as a
// single unit regardless of frontier size.
func (c *Coordinator) completeURLOnly(ctx context.Context, job scrape.Job, candidates []scrape.Candidate) (*scrape.Job, error) {
	job.Status = scrape.StatusCompleted
	job.Current = job.Total
	if err := c.deps.Store.CreateJob(ctx, &job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	docs := make([]scrape.Document, 0, len(candidates))
	for i, cand := range candidates {
		docs = append(docs, scrape.Document{
			Metadata: scrape.Metadata{SourceURL: cand.URL},
			Index:    i,
		})
		ref := scrape.ResultRef{JobID: job.ID, Index: i, URL: cand.URL}
		if err := c.deps.Store.AppendResultRef(ctx, ref); err != nil {
			c.logger.Warn("append result ref failed",
				zap.Stringer("job_id", job.ID),
				zap.Error(err),
			)
			break
		}
	}

	state := c.register(job, docs)
	c.evictAfter(state)

	if c.deps.Biller != nil {
		c.deps.Biller.BillTeam(ctx, job.TeamID, 1)
	}
	c.emit(progress.Event{JobID: job.ID, TS: job.CreatedAt, Stage: progress.StageJobStart, Note: job.Seed})
	c.emit(progress.Event{JobID: job.ID, TS: job.CreatedAt, Stage: progress.StageJobDone})
	c.publishLifecycle(ctx, job, "crawl.completed")
	metrics.ObserveJob(string(scrape.StatusCompleted))

	c.logger.Info("url-only job completed",
		zap.Stringer("job_id", job.ID),
		zap.String("team_id", job.TeamID),
		zap.Int("urls", job.Total),
	)
	snapshot := job
	return &snapshot, nil
}

// register adds a job to the in-memory registry and hands back its state.
func (c *Coordinator) register(job scrape.Job, docs []scrape.Document) *jobState {
	ctx, cancel := context.WithCancel(c.cfg.BaseContext)
	state := &jobState{job: job, docs: docs, ctx: ctx, cancel: cancel}
	if docs == nil && job.Total > 0 {
		state.docs = make([]scrape.Document, 0, job.Total)
	}
	c.mu.Lock()
	c.jobs[job.ID] = state
	c.mu.Unlock()
	return state
}

func (c *Coordinator) lookup(id uuid.UUID) (*jobState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.jobs[id]
	return state, ok
}

// feed pushes the job's tasks onto the shared queue in frontier order. It
// stops early when the job reaches a terminal state, so a cancelled job does
// not keep filling the queue.
func (c *Coordinator) feed(state *jobState, candidates []scrape.Candidate) {
	for i, cand := range candidates {
		if state.terminal() {
			return
		}
		task := scrape.Task{
			JobID:        state.job.ID,
			URL:          cand.URL,
			Index:        i,
			Depth:        cand.Depth,
			ExistingHTML: cand.HTML,
		}
		if err := c.deps.Queue.Enqueue(state.ctx, task); err != nil {
			c.logger.Warn("task enqueue failed",
				zap.Stringer("job_id", state.job.ID),
				zap.String("url", cand.URL),
				zap.Error(err),
			)
			return
		}
		metrics.SetQueueDepth(int(c.pending.Add(1)))
	}
}

// Progress returns the job's current snapshot. It never blocks on job
// completion. Jobs evicted from memory fall back to the durable store, which
// has the row and the result refs but not the documents.
func (c *Coordinator) Progress(ctx context.Context, jobID uuid.UUID) (Snapshot, error) {
	if state, ok := c.lookup(jobID); ok {
		state.mu.Lock()
		snap := Snapshot{
			Job:       state.job,
			Documents: append([]scrape.Document(nil), state.docs...),
		}
		state.mu.Unlock()
		return snap, nil
	}

	job, err := c.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("get job: %w", err)
	}
	refs, err := c.deps.Store.ListResultRefs(ctx, jobID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list result refs: %w", err)
	}
	return Snapshot{Job: *job, Refs: refs}, nil
}

// Cancel stops a job on behalf of the owning team. The terminal flip under
// the job lock is the cancellation point: partial billing snapshots the
// document count at the flip, and a fetch finishing after it is dropped, not
// billed. Cancelling a job already in a terminal state is a no-op.
func (c *Coordinator) Cancel(ctx context.Context, jobID uuid.UUID, teamID string) error {
	state, ok := c.lookup(jobID)
	if !ok {
		job, err := c.deps.Store.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		if job.TeamID != teamID {
			return ErrNotAuthorized
		}
		// Evicted jobs are terminal by construction; nothing left to stop.
		return nil
	}

	state.mu.Lock()
	if state.job.TeamID != teamID {
		state.mu.Unlock()
		return ErrNotAuthorized
	}
	if state.job.Status.Terminal() {
		state.mu.Unlock()
		return nil
	}
	partial := state.job.Current
	state.job.Status = scrape.StatusCancelled
	state.job.Error = "canceled by user"
	state.job.UpdatedAt = c.deps.Clock.Now()
	job := state.job
	state.mu.Unlock()

	state.cancel()

	if partial > 0 && c.deps.Biller != nil {
		c.deps.Biller.BillTeam(ctx, teamID, partial)
	}

	// Persist even when the caller's request context has already gone away;
	// the terminal state must not be lost with it.
	persistCtx := context.WithoutCancel(ctx)
	if err := c.deps.Store.UpdateJobStatus(persistCtx, jobID, scrape.StatusCancelled, job.Error); err != nil {
		c.logger.Error("persist cancelled status failed",
			zap.Stringer("job_id", jobID),
			zap.Error(err),
		)
	}

	c.emit(progress.Event{JobID: jobID, TS: job.UpdatedAt, Stage: progress.StageJobCancelled, Note: job.Error})
	c.publishLifecycle(persistCtx, job, "crawl.cancelled")
	metrics.ObserveJob(string(scrape.StatusCancelled))
	c.evictAfter(state)

	c.logger.Info("job cancelled",
		zap.Stringer("job_id", jobID),
		zap.String("team_id", teamID),
		zap.Int("partial_docs", partial),
	)
	return nil
}

// finishJob completes a job whose last task just landed. The terminal flip
// under the job lock is the only billing guard: whichever of completion and
// cancellation flips first is the one that bills.
func (c *Coordinator) finishJob(ctx context.Context, state *jobState) {
	state.mu.Lock()
	if state.job.Status.Terminal() {
		state.mu.Unlock()
		return
	}
	state.job.Status = scrape.StatusCompleted
	state.job.UpdatedAt = c.deps.Clock.Now()
	job := state.job
	docCount := len(state.docs)
	state.mu.Unlock()

	state.cancel()

	if docCount > 0 && c.deps.Biller != nil {
		c.deps.Biller.BillTeam(ctx, job.TeamID, docCount)
	}
	if err := c.deps.Store.UpdateJobStatus(ctx, job.ID, scrape.StatusCompleted, ""); err != nil {
		c.logger.Error("persist completed status failed",
			zap.Stringer("job_id", job.ID),
			zap.Error(err),
		)
	}

	c.emit(progress.Event{
		JobID: job.ID,
		TS:    job.UpdatedAt,
		Stage: progress.StageJobDone,
		Dur:   job.UpdatedAt.Sub(job.CreatedAt),
	})
	c.publishLifecycle(ctx, job, "crawl.completed")
	metrics.ObserveJob(string(scrape.StatusCompleted))
	c.evictAfter(state)

	c.logger.Info("job completed",
		zap.Stringer("job_id", job.ID),
		zap.String("team_id", job.TeamID),
		zap.Int("documents", docCount),
	)
}

// failJob moves a job to failed after an unrecoverable coordinator error.
// Per-URL fetch failures never come through here; those are ordinary results.
func (c *Coordinator) failJob(ctx context.Context, state *jobState, cause error) {
	state.mu.Lock()
	if state.job.Status.Terminal() {
		state.mu.Unlock()
		return
	}
	state.job.Status = scrape.StatusFailed
	state.job.Error = cause.Error()
	state.job.UpdatedAt = c.deps.Clock.Now()
	job := state.job
	state.mu.Unlock()

	state.cancel()

	if err := c.deps.Store.UpdateJobStatus(ctx, job.ID, scrape.StatusFailed, job.Error); err != nil {
		c.logger.Error("persist failed status failed",
			zap.Stringer("job_id", job.ID),
			zap.Error(err),
		)
	}

	c.emit(progress.Event{JobID: job.ID, TS: job.UpdatedAt, Stage: progress.StageJobError, Note: job.Error})
	c.publishLifecycle(ctx, job, "crawl.failed")
	metrics.ObserveJob(string(scrape.StatusFailed))
	c.evictAfter(state)

	c.logger.Error("job failed",
		zap.Stringer("job_id", job.ID),
		zap.String("error", job.Error),
	)
}

// evictAfter drops the in-memory record once the retention window passes.
// The job row and result refs stay queryable through the store.
func (c *Coordinator) evictAfter(state *jobState) {
	time.AfterFunc(c.cfg.Retention, func() {
		state.cancel()
		c.mu.Lock()
		delete(c.jobs, state.job.ID)
		c.mu.Unlock()
	})
}

func (c *Coordinator) emit(evt progress.Event) {
	if c.deps.Progress == nil {
		return
	}
	c.deps.Progress.Emit(evt)
}

func (c *Coordinator) publishLifecycle(ctx context.Context, job scrape.Job, event string) {
	if c.deps.Publisher == nil {
		return
	}
	payload := map[string]any{
		"event":     event,
		"job_id":    job.ID.String(),
		"team_id":   job.TeamID,
		"status":    string(job.Status),
		"current":   job.Current,
		"total":     job.Total,
		"timestamp": c.deps.Clock.Now().Format(time.RFC3339),
	}
	if _, err := c.deps.Publisher.Publish(ctx, c.cfg.EventsTopic, payload); err != nil {
		c.logger.Warn("lifecycle publish failed",
			zap.String("event", event),
			zap.Stringer("job_id", job.ID),
			zap.Error(err),
		)
	}
}
