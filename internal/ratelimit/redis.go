package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window bucket store shared across instances. The first
// consumption in a window creates the counter and its TTL; the TTL owns
// bucket expiry, so idle buckets vanish on their own.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis returns a bucket store over the given redis client. Keys are
// namespaced under prefix.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &Redis{client: client, prefix: prefix}
}

// Consume counts one request against the key's current window.
func (r *Redis) Consume(ctx context.Context, key string, limit Limit) (Decision, error) {
	if limit.Capacity <= 0 {
		return Decision{Allowed: true}, nil
	}
	window := limit.Window
	if window <= 0 {
		window = time.Minute
	}
	bucketKey := r.prefix + key

	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, bucketKey)
	pipe.ExpireNX(ctx, bucketKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("consume %s: %w", bucketKey, err)
	}

	count := incr.Val()
	if count > int64(limit.Capacity) {
		ttl, err := r.client.TTL(ctx, bucketKey).Result()
		if err != nil || ttl <= 0 {
			ttl = window
		}
		return Decision{RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true, Remaining: limit.Capacity - int(count)}, nil
}
