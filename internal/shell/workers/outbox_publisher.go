package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/launchpadhq/launchpad/internal/core/domain"
	"github.com/launchpadhq/launchpad/internal/shell/store"
)

// =============================================================================
// Event Sink
// =============================================================================

// EventSink receives deployment events drained from the outbox. Implementations
// deliver to a webhook, a message broker, or just a log.
type EventSink interface {
	Publish(ctx context.Context, event domain.DeploymentEvent) error
}

// LogSink writes events to the structured log. It is the default sink.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Publish(ctx context.Context, event domain.DeploymentEvent) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("deployment event",
		"event_id", event.ID,
		"deployment_id", event.DeploymentID,
		"type", string(event.Type),
		"detail", event.Detail,
	)
	return nil
}

// =============================================================================
// Outbox Publisher
// =============================================================================

// OutboxPublisherConfig configures the outbox publisher worker.
type OutboxPublisherConfig struct {
	// Interval is the time between drain cycles.
	// Default: 10 seconds.
	Interval time.Duration

	// BatchSize is the maximum number of events drained per cycle.
	// Default: 100.
	BatchSize int
}

// DefaultOutboxPublisherConfig returns the default configuration.
func DefaultOutboxPublisherConfig() OutboxPublisherConfig {
	return OutboxPublisherConfig{
		Interval:  10 * time.Second,
		BatchSize: 100,
	}
}

// OutboxPublisher drains unpublished deployment events and forwards them to
// the configured sink. Events that fail to publish stay in the outbox for the
// next cycle.
type OutboxPublisher struct {
	store  store.Store
	sink   EventSink
	config OutboxPublisherConfig
	logger *slog.Logger

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOutboxPublisher creates a new outbox publisher worker.
func NewOutboxPublisher(s store.Store, sink EventSink, config OutboxPublisherConfig, logger *slog.Logger) *OutboxPublisher {
	if config.Interval == 0 {
		config.Interval = 10 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = LogSink{Logger: logger}
	}

	return &OutboxPublisher{
		store:  s,
		sink:   sink,
		config: config,
		logger: logger.With("component", "outbox_publisher"),
	}
}

// Start begins the outbox publisher background goroutine.
func (p *OutboxPublisher) Start() {
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.wg.Add(1)
	go p.run()

	p.logger.Info("outbox publisher started", "interval", p.config.Interval)
}

// Stop gracefully stops the outbox publisher.
func (p *OutboxPublisher) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("outbox publisher stopped")
}

func (p *OutboxPublisher) run() {
	defer p.wg.Done()

	p.runCycle(p.ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.runCycle(p.ctx)
		}
	}
}

// runCycle drains one batch of unpublished events.
func (p *OutboxPublisher) runCycle(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, p.config.Interval)
	defer cancel()

	events, err := p.store.ListUnpublishedEvents(ctx, p.config.BatchSize)
	if err != nil {
		p.logger.Error("failed to list unpublished events", "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	published := make([]string, 0, len(events))
	for _, event := range events {
		if err := p.sink.Publish(ctx, event); err != nil {
			p.logger.Warn("failed to publish event",
				"event_id", event.ID,
				"deployment_id", event.DeploymentID,
				"error", err,
			)
			continue
		}
		published = append(published, event.ID)
	}

	if len(published) == 0 {
		return
	}
	if err := p.store.MarkEventsPublished(ctx, published, time.Now().UTC()); err != nil {
		p.logger.Error("failed to mark events published", "error", err)
		return
	}
	p.logger.Debug("published events", "count", len(published))
}

// DrainNow runs an immediate drain cycle. Useful for manual triggering and
// tests.
func (p *OutboxPublisher) DrainNow(ctx context.Context) {
	p.runCycle(ctx)
}
