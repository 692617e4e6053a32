package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/scrapeline/scrapeline/internal/scrape"
	"github.com/scrapeline/scrapeline/internal/store"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	s := NewJobStore()
	ctx := context.Background()
	id := uuid.New()
	job := &scrape.Job{ID: id, TeamID: "team-1", Seed: "http://site.test", Status: scrape.StatusQueued}

	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := s.CreateJob(ctx, job); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("duplicate CreateJob() error = %v, want ErrAlreadyExists", err)
	}
	if err := s.UpdateJobStatus(ctx, id, scrape.StatusActive, ""); err != nil {
		t.Fatalf("UpdateJobStatus() error = %v", err)
	}
	if err := s.SetProgress(ctx, id, 2, 10); err != nil {
		t.Fatalf("SetProgress() error = %v", err)
	}

	got, err := s.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Status != scrape.StatusActive || got.Current != 2 || got.Total != 10 {
		t.Fatalf("unexpected job state: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("expected UpdatedAt to be set on update")
	}

	got.Current = 99
	again, err := s.GetJob(ctx, id)
	if err != nil || again.Current != 2 {
		t.Fatalf("expected GetJob to return a copy, got %+v err=%v", again, err)
	}
}

func TestJobStoreResultRefs(t *testing.T) {
	t.Parallel()

	s := NewJobStore()
	ctx := context.Background()
	id := uuid.New()

	// Results arrive in completion order, not index order.
	if err := s.AppendResultRef(ctx, scrape.ResultRef{JobID: id, Index: 1, URL: "http://site.test/b", StatusCode: 200}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendResultRef(ctx, scrape.ResultRef{JobID: id, Index: 0, URL: "http://site.test/a", StatusCode: 200}); err != nil {
		t.Fatal(err)
	}
	// A retried index replaces the earlier row.
	if err := s.AppendResultRef(ctx, scrape.ResultRef{JobID: id, Index: 1, URL: "http://site.test/b", StatusCode: 404}); err != nil {
		t.Fatal(err)
	}

	refs, err := s.ListResultRefs(ctx, id)
	if err != nil {
		t.Fatalf("ListResultRefs() error = %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("len(refs) = %d, want 2", len(refs))
	}
	if refs[0].Index != 0 || refs[1].Index != 1 {
		t.Fatalf("refs not ordered by index: %+v", refs)
	}
	if refs[1].StatusCode != 404 {
		t.Fatalf("expected replaced ref, got %+v", refs[1])
	}
}

func TestJobStoreUnknownJob(t *testing.T) {
	t.Parallel()

	s := NewJobStore()
	ctx := context.Background()
	id := uuid.New()

	if _, err := s.GetJob(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetJob() error = %v, want ErrNotFound", err)
	}
	if err := s.UpdateJobStatus(ctx, id, scrape.StatusFailed, "boom"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("UpdateJobStatus() error = %v, want ErrNotFound", err)
	}
	if err := s.SetProgress(ctx, id, 1, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("SetProgress() error = %v, want ErrNotFound", err)
	}
}
