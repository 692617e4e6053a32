package job

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/metrics"
	"github.com/scrapeline/scrapeline/internal/progress"
	"github.com/scrapeline/scrapeline/internal/scrape"
)

const dequeueRetryDelay = 250 * time.Millisecond

// Run operates the fetch worker pool until ctx ends or the task queue
// closes. It blocks; callers run it in a goroutine next to the HTTP server.
func (c *Coordinator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			c.runWorker(ctx, c.logger.Named("worker").With(zap.Int("index", index)))
		}(i)
	}
	wg.Wait()
}

func (c *Coordinator) runWorker(ctx context.Context, logger *zap.Logger) {
	for {
		task, err := c.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, scrape.ErrQueueClosed) {
				return
			}
			logger.Error("queue dequeue failed", zap.Error(err))
			time.Sleep(dequeueRetryDelay)
			continue
		}
		metrics.SetQueueDepth(int(c.pending.Add(-1)))

		metrics.IncActiveWorkers()
		c.processTask(ctx, logger, task)
		metrics.DecActiveWorkers()
	}
}

// processTask runs one URL through the scrape pipeline and folds the result
// into the owning job. Tasks for unknown or already-terminal jobs are
// dropped; that is how cancellation stops new work.
func (c *Coordinator) processTask(ctx context.Context, logger *zap.Logger, task scrape.Task) {
	state, ok := c.lookup(task.JobID)
	if !ok {
		logger.Debug("task for unknown job dropped",
			zap.Stringer("job_id", task.JobID),
			zap.String("url", task.URL),
		)
		return
	}
	if !c.beginTask(ctx, state) {
		return
	}

	site := metrics.SanitizeSite(task.URL)
	start := c.deps.Clock.Now()
	c.emit(progress.Event{
		JobID: task.JobID,
		TS:    start,
		Stage: progress.StageFetchStart,
		Site:  site,
		URL:   task.URL,
	})

	doc := c.deps.Scraper.Scrape(ctx, scrape.ScrapeRequest{
		URL:          task.URL,
		Options:      state.job.Options,
		ExistingHTML: task.ExistingHTML,
	})
	doc.Index = task.Index

	ref := scrape.ResultRef{
		JobID:      task.JobID,
		Index:      task.Index,
		URL:        task.URL,
		Ref:        c.archive(ctx, logger, task.JobID, &doc),
		StatusCode: doc.Metadata.StatusCode,
	}
	c.completeTask(ctx, logger, state, doc, ref)

	done := c.deps.Clock.Now()
	c.emit(progress.Event{
		JobID:       task.JobID,
		TS:          done,
		Stage:       progress.StageFetchDone,
		Site:        site,
		URL:         task.URL,
		Bytes:       int64(len(doc.Content)),
		Visits:      1,
		StatusClass: progress.ClassifyStatus(doc.Metadata.StatusCode),
		Dur:         done.Sub(start),
		Note:        doc.Metadata.Error,
	})
}

// beginTask gates a dequeued task against its job's state and moves a queued
// job to active on its first task. Only the activating worker persists the
// transition.
func (c *Coordinator) beginTask(ctx context.Context, state *jobState) bool {
	state.mu.Lock()
	if state.job.Status.Terminal() {
		state.mu.Unlock()
		return false
	}
	activate := !state.activated
	if activate {
		state.activated = true
		state.job.Status = scrape.StatusActive
		state.job.UpdatedAt = c.deps.Clock.Now()
	}
	state.mu.Unlock()

	if activate {
		if err := c.deps.Store.UpdateJobStatus(ctx, state.job.ID, scrape.StatusActive, ""); err != nil {
			c.logger.Warn("persist active status failed",
				zap.Stringer("job_id", state.job.ID),
				zap.Error(err),
			)
		}
	}
	return true
}

// completeTask appends the document under the job lock and advances
// progress. Error documents count exactly like successes. Results land in
// completion order; Document.Index carries the submission position.
func (c *Coordinator) completeTask(ctx context.Context, logger *zap.Logger, state *jobState, doc scrape.Document, ref scrape.ResultRef) {
	state.mu.Lock()
	if state.job.Status.Terminal() {
		state.mu.Unlock()
		logger.Debug("result for finished job dropped",
			zap.Stringer("job_id", ref.JobID),
			zap.String("url", ref.URL),
		)
		return
	}
	state.docs = append(state.docs, doc)
	state.job.Current++
	state.job.UpdatedAt = c.deps.Clock.Now()
	current, total := state.job.Current, state.job.Total
	state.mu.Unlock()

	if err := c.persistResult(ctx, ref, current, total); err != nil {
		if ctx.Err() != nil {
			// Shutdown races a completing task; keep the job as-is.
			logger.Warn("result persist skipped during shutdown",
				zap.Stringer("job_id", ref.JobID),
				zap.Error(err),
			)
			return
		}
		c.failJob(ctx, state, err)
		return
	}

	if current >= total {
		c.finishJob(ctx, state)
	}
}

func (c *Coordinator) persistResult(ctx context.Context, ref scrape.ResultRef, current, total int) error {
	if err := c.deps.Store.AppendResultRef(ctx, ref); err != nil {
		return fmt.Errorf("append result ref: %w", err)
	}
	if err := c.deps.Store.SetProgress(ctx, ref.JobID, current, total); err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

// archive stores the page body, and the screenshot when one was captured, in
// the blob store. It returns the body's reference. Failure documents with no
// body produce no artifact; archive errors log and leave the reference empty.
func (c *Coordinator) archive(ctx context.Context, logger *zap.Logger, jobID uuid.UUID, doc *scrape.Document) string {
	if c.deps.Blobs == nil {
		return ""
	}

	var ref string
	if body, contentType, ext := archiveBody(*doc); len(body) > 0 {
		key := c.blobKey(jobID, c.deps.Hasher.Sum(body), ext)
		uri, err := c.deps.Blobs.Put(ctx, key, contentType, body)
		if err != nil {
			logger.Warn("page archive failed",
				zap.Stringer("job_id", jobID),
				zap.String("url", doc.Metadata.SourceURL),
				zap.Error(err),
			)
		} else {
			ref = uri
		}
	}

	if doc.Screenshot != "" {
		// A screenshot that does not decode is already a reference; keep it.
		img, err := base64.StdEncoding.DecodeString(doc.Screenshot)
		if err == nil {
			key := c.blobKey(jobID, c.deps.Hasher.Sum(img), ".png")
			uri, putErr := c.deps.Blobs.Put(ctx, key, "image/png", img)
			if putErr != nil {
				logger.Warn("screenshot archive failed",
					zap.Stringer("job_id", jobID),
					zap.Error(putErr),
				)
			} else {
				doc.Screenshot = uri
			}
		}
	}
	return ref
}

// archiveBody picks the richest representation the document carries.
func archiveBody(doc scrape.Document) ([]byte, string, string) {
	switch {
	case doc.RawHTML != "":
		return []byte(doc.RawHTML), "text/html; charset=utf-8", ".html"
	case doc.HTML != "":
		return []byte(doc.HTML), "text/html; charset=utf-8", ".html"
	case doc.Content != "":
		return []byte(doc.Content), "text/plain; charset=utf-8", ".txt"
	default:
		return nil, "", ""
	}
}

func (c *Coordinator) blobKey(jobID uuid.UUID, hash, ext string) string {
	prefix := strings.Trim(c.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s%s", jobID, hash, ext)
	}
	return fmt.Sprintf("%s/%s/%s%s", prefix, jobID, hash, ext)
}
