// Package ratelimit gates inbound requests with token buckets keyed by
// client identity and request mode. Bucket shapes come from a plan table;
// the backing store is in-process or shared via redis.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/metrics"
)

// Mode is the request class being limited. Each mode has its own bucket per
// identity.
type Mode string

const (
	ModeCrawl       Mode = "crawl"
	ModeScrape      Mode = "scrape"
	ModeCrawlStatus Mode = "crawlStatus"
	ModeSearch      Mode = "search"
	ModePreview     Mode = "preview"
)

// Plan is a subscription tier. Unknown plans fall back to starter shapes.
type Plan string

const (
	PlanStarter  Plan = "starter"
	PlanStandard Plan = "standard"
	PlanScale    Plan = "scale"
)

// Limit is one bucket shape: Capacity tokens replenished over Window.
// A non-positive capacity means unlimited.
type Limit struct {
	Capacity int
	Window   time.Duration
}

// Decision is the outcome of one consumption attempt.
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter hints when the next token becomes available. Zero when
	// Allowed.
	RetryAfter time.Duration
}

// Store hands out tokens for bucket keys. Buckets are created lazily on
// first consumption and expire under the store's own policy.
type Store interface {
	Consume(ctx context.Context, key string, limit Limit) (Decision, error)
}

var planLimits = map[Plan]map[Mode]Limit{
	PlanStarter: {
		ModeCrawl:       {Capacity: 3, Window: time.Minute},
		ModeScrape:      {Capacity: 20, Window: time.Minute},
		ModeSearch:      {Capacity: 20, Window: time.Minute},
		ModeCrawlStatus: {Capacity: 150, Window: time.Minute},
	},
	PlanStandard: {
		ModeCrawl:       {Capacity: 10, Window: time.Minute},
		ModeScrape:      {Capacity: 50, Window: time.Minute},
		ModeSearch:      {Capacity: 40, Window: time.Minute},
		ModeCrawlStatus: {Capacity: 250, Window: time.Minute},
	},
	PlanScale: {
		ModeCrawl:       {Capacity: 50, Window: time.Minute},
		ModeScrape:      {Capacity: 500, Window: time.Minute},
		ModeSearch:      {Capacity: 500, Window: time.Minute},
		ModeCrawlStatus: {Capacity: 500, Window: time.Minute},
	},
}

// previewLimit applies to the shared preview identity regardless of plan.
var previewLimit = Limit{Capacity: 5, Window: time.Minute}

// defaultLimit covers modes missing from the table.
var defaultLimit = Limit{Capacity: 20, Window: time.Minute}

// PlanLimit resolves the bucket shape for a plan and mode. Preview mode has
// one fixed shape for everyone.
func PlanLimit(plan Plan, mode Mode) Limit {
	if mode == ModePreview {
		return previewLimit
	}
	modes, ok := planLimits[plan]
	if !ok {
		modes = planLimits[PlanStarter]
	}
	limit, ok := modes[mode]
	if !ok {
		return defaultLimit
	}
	return limit
}

// Key builds the bucket key for an identity and mode.
func Key(identity string, mode Mode) string {
	return identity + ":" + string(mode)
}

// PreviewIdentity is the bucket identity for unauthenticated preview
// traffic, keyed per client IP so one caller cannot drain the shared pool.
func PreviewIdentity(clientIP string) string {
	return "preview:" + clientIP
}

// Limits overrides the package plan table for one Gate. A plan/mode pair
// present in Plans replaces the table entry; absent pairs keep the table
// shape. Preview counts as set when its window is positive.
type Limits struct {
	Preview Limit
	Plans   map[Plan]map[Mode]Limit
}

// Gate is the ingress rate gate. It resolves the plan table and consults
// the bucket store. A store failure logs and admits the request, so a
// limiter outage degrades to unlimited instead of refusing all traffic.
type Gate struct {
	store  Store
	limits Limits
	logger *zap.Logger
}

// NewGate returns a Gate over the given bucket store using the package plan
// table.
func NewGate(store Store, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{store: store, logger: logger.Named("ratelimit")}
}

// NewGateWithLimits returns a Gate whose bucket shapes come from limits
// where set.
func NewGateWithLimits(store Store, limits Limits, logger *zap.Logger) *Gate {
	g := NewGate(store, logger)
	g.limits = limits
	return g
}

// limitFor resolves the bucket shape, preferring the Gate's own table.
func (g *Gate) limitFor(plan Plan, mode Mode) Limit {
	if mode == ModePreview {
		if g.limits.Preview.Window > 0 {
			return g.limits.Preview
		}
		return previewLimit
	}
	if modes, ok := g.limits.Plans[plan]; ok {
		if limit, ok := modes[mode]; ok {
			return limit
		}
	}
	return PlanLimit(plan, mode)
}

// Allow consumes one token for the identity in the given mode.
func (g *Gate) Allow(ctx context.Context, identity string, plan Plan, mode Mode) Decision {
	limit := g.limitFor(plan, mode)
	decision, err := g.store.Consume(ctx, Key(identity, mode), limit)
	if err != nil {
		g.logger.Warn("bucket store failed, admitting request",
			zap.String("mode", string(mode)),
			zap.Error(err),
		)
		decision = Decision{Allowed: true}
	}
	metrics.ObserveRateLimit(string(mode), decision.Allowed)
	return decision
}
