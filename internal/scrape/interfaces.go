package scrape

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrQueueClosed is returned by TaskQueue.Dequeue once the queue has been
// closed and drained. Workers treat it as a shutdown signal.
var ErrQueueClosed = errors.New("task queue closed")

// Backend is one independently operated page-fetching service (headless
// browser, proxied HTTP, plain HTTP) fronted by the fallback loop.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Name identifies the backend in selector orders, domain overrides,
	// logs, and metrics labels.
	Name() string
	// Renders reports whether the backend executes JavaScript and honors
	// wait/screenshot/header hints.
	Renders() bool
	Fetch(ctx context.Context, req BackendRequest) (BackendResult, error)
}

// PageScraper runs the full pipeline for one URL: backend fallback, PDF
// routing, cleaning, conversion, link and metadata extraction. It never
// returns an error; failures are encoded in the Document's metadata.
type PageScraper interface {
	Scrape(ctx context.Context, req ScrapeRequest) Document
}

// Expander turns a seed URL into the ordered, deduplicated frontier for one
// crawl job.
type Expander interface {
	Expand(ctx context.Context, seed string, policy CrawlPolicy) ([]Candidate, error)
}

// MarkdownConverter turns cleaned HTML into markdown text.
type MarkdownConverter interface {
	Convert(page string) (string, error)
}

// PDFExtractor pulls text out of a PDF byte stream. The pipeline routes here
// instead of HTML cleaning when a backend response identifies as a PDF.
type PDFExtractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// JobStore persists job rows and result references. Implementations must be
// safe for concurrent use from many workers.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status JobStatus, errMsg string) error
	SetProgress(ctx context.Context, id uuid.UUID, current, total int) error
	AppendResultRef(ctx context.Context, ref ResultRef) error
	ListResultRefs(ctx context.Context, jobID uuid.UUID) ([]ResultRef, error)
}

// BlobStore archives page artifacts (raw HTML, screenshots) and returns a
// stable reference URI.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Publisher emits job lifecycle and billing events to an external topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// TaskQueue is the shared queue of per-URL fetch tasks drained by the worker
// pool. Dequeue blocks until a task arrives, the context ends, or the queue
// closes.
type TaskQueue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
	Close() error
}

// Clock abstracts wall time so tests can pin it.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints job identifiers.
type IDGenerator interface {
	New() uuid.UUID
}

// Hasher produces a stable content hash used in blob keys.
type Hasher interface {
	Sum(data []byte) string
}
