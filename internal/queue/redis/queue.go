// Package redis provides a Redis-backed task queue so multiple service
// processes can share one crawl workload.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scrapeline/scrapeline/internal/scrape"
)

// defaultKey is the list tasks are pushed onto unless the deployment
// overrides it.
const defaultKey = "scrapeline:tasks"

// popTimeout bounds each blocking pop so Dequeue can notice context
// cancellation between rounds.
const popTimeout = 2 * time.Second

// Queue stores tasks as JSON entries in a Redis list. LPUSH plus BRPOP keeps
// dequeue order equal to enqueue order across processes.
type Queue struct {
	client redis.UniversalClient
	key    string
}

// NewQueue wraps the given client. The client is shared infrastructure owned
// by the caller; Close on the queue does not close it.
func NewQueue(client redis.UniversalClient, key string) *Queue {
	if key == "" {
		key = defaultKey
	}
	return &Queue{client: client, key: key}
}

// Enqueue appends one task to the list.
func (q *Queue) Enqueue(ctx context.Context, task scrape.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// Dequeue blocks until a task arrives or the context ends.
func (q *Queue) Dequeue(ctx context.Context) (scrape.Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return scrape.Task{}, fmt.Errorf("dequeue canceled: %w", err)
		}

		vals, err := q.client.BRPop(ctx, popTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			// Timed out with nothing queued; poll again.
			continue
		}
		if err != nil {
			return scrape.Task{}, fmt.Errorf("dequeue task: %w", err)
		}
		if len(vals) != 2 {
			return scrape.Task{}, fmt.Errorf("unexpected brpop reply of %d values", len(vals))
		}

		var task scrape.Task
		if err := json.Unmarshal([]byte(vals[1]), &task); err != nil {
			return scrape.Task{}, fmt.Errorf("decode task: %w", err)
		}
		return task, nil
	}
}

// Close releases nothing; the underlying client outlives the queue.
func (q *Queue) Close() error {
	return nil
}
