package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryExactCapacity(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	limit := Limit{Capacity: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		decision, err := store.Consume(ctx, "team-1:crawl", limit)
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if !decision.Allowed {
			t.Fatalf("consume %d rejected, want allowed", i)
		}
	}

	decision, err := store.Consume(ctx, "team-1:crawl", limit)
	if err != nil {
		t.Fatal(err)
	}
	if decision.Allowed {
		t.Fatal("consumption beyond capacity should be rejected")
	}
	if decision.RetryAfter <= 0 {
		t.Fatalf("RetryAfter = %v, want positive hint", decision.RetryAfter)
	}
}

func TestMemoryRefills(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	// One token per 50ms.
	limit := Limit{Capacity: 1, Window: 50 * time.Millisecond}

	if d, _ := store.Consume(ctx, "k", limit); !d.Allowed {
		t.Fatal("first consume should pass")
	}
	if d, _ := store.Consume(ctx, "k", limit); d.Allowed {
		t.Fatal("second immediate consume should be rejected")
	}

	time.Sleep(70 * time.Millisecond)

	if d, _ := store.Consume(ctx, "k", limit); !d.Allowed {
		t.Fatal("consume after refill window should pass")
	}
}

func TestMemoryKeysAreIndependent(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	limit := Limit{Capacity: 1, Window: time.Minute}

	if d, _ := store.Consume(ctx, "team-a:crawl", limit); !d.Allowed {
		t.Fatal("team-a should pass")
	}
	if d, _ := store.Consume(ctx, "team-a:crawl", limit); d.Allowed {
		t.Fatal("team-a should now be exhausted")
	}
	if d, _ := store.Consume(ctx, "team-b:crawl", limit); !d.Allowed {
		t.Fatal("team-b must not be affected by team-a's bucket")
	}
}

func TestMemoryUnlimitedWhenCapacityZero(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if d, _ := store.Consume(ctx, "k", Limit{}); !d.Allowed {
			t.Fatalf("consume %d rejected under unlimited bucket", i)
		}
	}
}
