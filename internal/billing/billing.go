// Package billing emits usage events for scraped pages.
//
// Charges are advisory: a failed publish is logged and counted but never
// fails the job that earned it.
package billing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/metrics"
	"github.com/scrapeline/scrapeline/internal/scrape"
)

// DefaultTopic is the topic billing events are published to unless the
// deployment overrides it.
const DefaultTopic = "billing-events"

// publishTimeout bounds a single billing publish. Billing runs detached from
// the job context, which may already be cancelled when partial work is billed.
const publishTimeout = 10 * time.Second

// Event is one usage charge for a team.
type Event struct {
	TeamID   string    `json:"team_id"`
	Units    int       `json:"units"`
	BilledAt time.Time `json:"billed_at"`
}

// Biller records page units consumed by a team.
type Biller interface {
	// BillTeam charges the team for the given number of page units. It never
	// blocks the caller on billing infrastructure and never returns an error.
	BillTeam(ctx context.Context, teamID string, units int)
}

// Publisher bills teams by publishing events to a billing topic.
type Publisher struct {
	publisher scrape.Publisher
	topic     string
	clock     scrape.Clock
	logger    *zap.Logger
}

// NewPublisher creates a Publisher. An empty topic falls back to DefaultTopic
// and a nil logger is replaced with a no-op one.
func NewPublisher(pub scrape.Publisher, topic string, clk scrape.Clock, logger *zap.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		publisher: pub,
		topic:     topic,
		clock:     clk,
		logger:    logger.Named("billing"),
	}
}

// BillTeam publishes one Event for the team. Zero or negative units and empty
// team IDs are dropped silently, so callers can bill whatever count they
// finished with.
func (p *Publisher) BillTeam(ctx context.Context, teamID string, units int) {
	if teamID == "" || units <= 0 {
		return
	}

	// Detach from the caller: cancelling a job must not lose the charge for
	// the pages it already scraped.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	event := Event{
		TeamID:   teamID,
		Units:    units,
		BilledAt: p.clock.Now(),
	}

	id, err := p.publisher.Publish(ctx, p.topic, event)
	if err != nil {
		metrics.ObserveBilledUnits("dropped", units)
		p.logger.Warn("billing event dropped",
			zap.String("team_id", teamID),
			zap.Int("units", units),
			zap.Error(err),
		)
		return
	}

	metrics.ObserveBilledUnits("published", units)
	p.logger.Debug("billed team",
		zap.String("team_id", teamID),
		zap.Int("units", units),
		zap.String("message_id", id),
	)
}

// LogOnly is a Biller for deployments without a billing topic. Charges are
// written to the log so usage stays auditable.
type LogOnly struct {
	clock  scrape.Clock
	logger *zap.Logger
}

// NewLogOnly creates a LogOnly biller.
func NewLogOnly(clk scrape.Clock, logger *zap.Logger) *LogOnly {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogOnly{clock: clk, logger: logger.Named("billing")}
}

// BillTeam logs the charge.
func (l *LogOnly) BillTeam(_ context.Context, teamID string, units int) {
	if teamID == "" || units <= 0 {
		return
	}
	metrics.ObserveBilledUnits("logged", units)
	l.logger.Info("billed team",
		zap.String("team_id", teamID),
		zap.Int("units", units),
		zap.Time("billed_at", l.clock.Now()),
	)
}
