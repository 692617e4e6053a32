package scrape

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus captures the lifecycle of a crawl job.
type JobStatus string

// Job lifecycle states. A job moves queued -> active -> terminal.
const (
	StatusQueued    JobStatus = "queued"
	StatusActive    JobStatus = "active"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// PageOptions controls how a single page is fetched and rendered into a
// Document. Passed by value through the pipeline and never mutated after a
// job is accepted.
type PageOptions struct {
	// OnlyMainContent additionally strips the configured non-content
	// selectors (nav, footer, ads) from the cleaned HTML.
	OnlyMainContent bool `json:"onlyMainContent,omitempty"`
	// IncludeHTML populates Document.HTML with the cleaned HTML.
	IncludeHTML bool `json:"includeHtml,omitempty"`
	// IncludeRawHTML populates Document.RawHTML with the unmodified body.
	IncludeRawHTML bool `json:"includeRawHtml,omitempty"`
	// WaitFor is the extra time, in milliseconds, a rendering backend
	// should wait after load before snapshotting the page.
	WaitFor int64 `json:"waitFor,omitempty"`
	// Screenshot requests a page screenshot from a capable backend.
	Screenshot bool `json:"screenshot,omitempty"`
	// Headers are sent verbatim on the outbound page request.
	Headers map[string]string `json:"headers,omitempty"`
	// Timeout overrides the per-backend base timeout, in milliseconds.
	Timeout int64 `json:"timeout,omitempty"`
}

// NeedsRendering reports whether the request hints require a backend that
// executes JavaScript or forwards custom headers.
func (o PageOptions) NeedsRendering() bool {
	return o.WaitFor > 0 || o.Screenshot || len(o.Headers) > 0
}

// CrawlPolicy bounds frontier expansion for one crawl job. Immutable for the
// lifetime of the job.
type CrawlPolicy struct {
	// MaxDepth bounds link-crawl depth and sitemap-index recursion.
	MaxDepth int `json:"maxDepth,omitempty"`
	// MaxCrawledLinks truncates the frontier in discovery order.
	MaxCrawledLinks int `json:"maxCrawledLinks,omitempty"`
	// Includes, when non-empty, keeps only URLs matching at least one
	// glob pattern.
	Includes []string `json:"includes,omitempty"`
	// Excludes drops URLs matching any glob pattern.
	Excludes []string `json:"excludes,omitempty"`
	// ReturnOnlyURLs completes the job with URL-only documents, skipping
	// page fetches entirely.
	ReturnOnlyURLs bool `json:"returnOnlyUrls,omitempty"`
}

// Metadata is the per-page metadata block attached to every Document.
// SourceURL is always populated, even on total fetch failure.
type Metadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language,omitempty"`
	Keywords    string `json:"keywords,omitempty"`
	Robots      string `json:"robots,omitempty"`
	OGTitle     string `json:"ogTitle,omitempty"`
	OGImage     string `json:"ogImage,omitempty"`
	SourceURL   string `json:"sourceURL"`
	StatusCode  int    `json:"pageStatusCode,omitempty"`
	Error       string `json:"pageError,omitempty"`
}

// Document is the normalized result of fetching one URL. Constructed once per
// fetch, immutable afterwards, owned by the coordinator that aggregates it.
type Document struct {
	// Content is the page text; non-empty on success, empty on total failure.
	Content string `json:"content"`
	// Markdown mirrors Content in markdown form.
	Markdown string `json:"markdown,omitempty"`
	// HTML is the cleaned HTML, present only when requested.
	HTML string `json:"html,omitempty"`
	// RawHTML is the unmodified page body, present only when requested.
	RawHTML string `json:"rawHtml,omitempty"`
	// Links are the outbound URLs discovered on the page, first-seen order.
	Links []string `json:"linksOnPage,omitempty"`
	// Screenshot is a base64 image or a blob reference, when requested.
	Screenshot string `json:"screenshot,omitempty"`
	Metadata   Metadata `json:"metadata"`
	// Index is the task's position in the original frontier order; results
	// arrive in completion order and callers sort by Index when they need
	// submission order back.
	Index int `json:"index"`
}

// Job is one crawl unit. The coordinator owns the struct; workers only ever
// see task-scoped copies.
type Job struct {
	ID        uuid.UUID
	TeamID    string
	Seed      string
	Policy    CrawlPolicy
	Options   PageOptions
	Status    JobStatus
	Current   int
	Total     int
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Task is one per-URL fetch unit drained by the worker pool.
type Task struct {
	JobID uuid.UUID
	URL   string
	// Index preserves the frontier discovery position.
	Index int
	Depth int
	// ExistingHTML carries a page body the frontier already fetched, so the
	// pipeline can skip the backend loop.
	ExistingHTML string
}

// ResultRef points at an archived artifact (raw HTML, screenshot) for one
// task result. This is the durable shape; full documents stay in memory.
type ResultRef struct {
	JobID      uuid.UUID
	Index      int
	URL        string
	Ref        string
	StatusCode int
}

// BackendRequest is the wire-level ask handed to a fetch backend.
type BackendRequest struct {
	URL        string
	WaitMS     int64
	Screenshot bool
	Headers    map[string]string
}

// BackendResult is what a fetch backend returns before normalization.
type BackendResult struct {
	// URL is the final URL after redirects, when the backend reports it.
	URL         string
	StatusCode  int
	ContentType string
	// HTML is the page body for HTML responses.
	HTML string
	// Body holds the raw bytes for non-HTML responses (PDF streams).
	Body []byte
	// Screenshot is a base64-encoded capture, when one was requested and
	// the backend supports it.
	Screenshot string
}

// IsPDF reports whether the response identified itself as a PDF stream.
func (r BackendResult) IsPDF() bool {
	return strings.Contains(strings.ToLower(r.ContentType), "application/pdf")
}

// Candidate is one frontier entry: a URL to fetch, its depth from the seed,
// and optionally the HTML the frontier already downloaded while discovering it.
// Candidates found through a sitemap carry the sitemap's scheduling hints.
type Candidate struct {
	URL   string
	Depth int
	HTML  string

	LastMod    string
	ChangeFreq string
	Priority   float64
}

// ScrapeRequest is the input to the page pipeline.
type ScrapeRequest struct {
	URL     string
	Options PageOptions
	// ExistingHTML, when its trimmed length is at least MinContentChars,
	// bypasses the backend loop entirely.
	ExistingHTML string
}

// MinContentChars is the trimmed-text length at which a fetch attempt counts
// as successful and the fallback loop stops.
const MinContentChars = 100
