package memory

import (
	"context"
	"testing"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()
	ctx := context.Background()

	id, err := p.Publish(ctx, "billing", map[string]any{"teamId": "team-1", "units": 3})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if id == "" {
		t.Fatal("expected a pseudo id")
	}
	if _, err := p.Publish(ctx, "jobs", "done"); err != nil {
		t.Fatal(err)
	}

	msgs := p.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].Topic != "billing" || msgs[1].Topic != "jobs" {
		t.Fatalf("unexpected topics: %+v", msgs)
	}

	// Messages() hands out a copy.
	msgs[0].Topic = "mutated"
	if p.Messages()[0].Topic != "billing" {
		t.Fatal("expected Messages to return a copy")
	}
}
