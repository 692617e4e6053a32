package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Memory is an in-process bucket store. Buckets are created lazily per key
// with the first-seen limit and live for the process lifetime.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewMemory returns an empty in-process bucket store.
func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]*rate.Limiter)}
}

// Consume takes one token from the key's bucket without blocking.
func (m *Memory) Consume(_ context.Context, key string, limit Limit) (Decision, error) {
	m.mu.Lock()
	bucket, ok := m.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(refillRate(limit), burst(limit))
		m.buckets[key] = bucket
	}
	m.mu.Unlock()

	reservation := bucket.Reserve()
	if !reservation.OK() {
		return Decision{RetryAfter: limit.Window}, nil
	}
	if delay := reservation.Delay(); delay > 0 {
		// Taking the token would mean waiting; hand it back and reject.
		reservation.Cancel()
		return Decision{RetryAfter: delay}, nil
	}
	return Decision{Allowed: true, Remaining: int(bucket.Tokens())}, nil
}

func refillRate(limit Limit) rate.Limit {
	if limit.Capacity <= 0 {
		return rate.Inf
	}
	window := limit.Window
	if window <= 0 {
		window = time.Minute
	}
	return rate.Every(window / time.Duration(limit.Capacity))
}

func burst(limit Limit) int {
	if limit.Capacity <= 0 {
		return 1
	}
	return limit.Capacity
}
