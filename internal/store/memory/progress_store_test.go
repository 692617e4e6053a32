package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/scrapeline/scrapeline/internal/store"
)

func TestProgressStoreAggregates(t *testing.T) {
	t.Parallel()

	s := NewProgressStore()
	ctx := context.Background()
	jobID := uuid.New()
	early := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	late := early.Add(time.Minute)

	deltas := []store.SiteStats{
		{JobID: jobID, Site: "site.test", StatusClass: "2xx", Visits: 1, Bytes: 100, LastUpdate: late},
		{JobID: jobID, Site: "site.test", StatusClass: "2xx", Visits: 2, Bytes: 50, LastUpdate: early},
		{JobID: jobID, Site: "site.test", StatusClass: "4xx", Visits: 1, Bytes: 10, LastUpdate: early},
		{JobID: jobID, Site: "cdn.test", StatusClass: "2xx", Visits: 1, Bytes: 7, LastUpdate: early},
		{JobID: uuid.New(), Site: "other.test", StatusClass: "2xx", Visits: 9, Bytes: 9, LastUpdate: early},
	}
	for _, d := range deltas {
		if err := s.UpsertSiteStats(ctx, d); err != nil {
			t.Fatalf("UpsertSiteStats() error = %v", err)
		}
	}

	got, err := s.ListSiteStats(ctx, jobID)
	if err != nil {
		t.Fatalf("ListSiteStats() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %d: %+v", len(got), got)
	}

	// Ordered by site then status class.
	if got[0].Site != "cdn.test" || got[1].StatusClass != "2xx" || got[2].StatusClass != "4xx" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if got[1].Visits != 3 || got[1].Bytes != 150 {
		t.Fatalf("expected folded 2xx row, got %+v", got[1])
	}
	if !got[1].LastUpdate.Equal(late) {
		t.Fatalf("expected newest timestamp kept, got %v", got[1].LastUpdate)
	}
}

func TestProgressStoreEmptyJob(t *testing.T) {
	t.Parallel()

	s := NewProgressStore()
	got, err := s.ListSiteStats(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ListSiteStats() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no rows, got %+v", got)
	}
}
