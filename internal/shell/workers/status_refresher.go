// Package workers contains background workers for Launchpad.
package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/launchpadhq/launchpad/internal/shell/deploy"
	"github.com/launchpadhq/launchpad/internal/shell/store"
)

// StatusRefresherConfig configures the status refresher worker.
type StatusRefresherConfig struct {
	// Interval is the time between refresh cycles.
	// Default: 30 seconds.
	Interval time.Duration

	// BatchSize is the maximum number of running deployments refreshed per
	// cycle. Default: 50.
	BatchSize int

	// MaxConcurrent is the maximum number of deployments refreshed
	// concurrently. Default: 5.
	MaxConcurrent int
}

// DefaultStatusRefresherConfig returns the default configuration.
func DefaultStatusRefresherConfig() StatusRefresherConfig {
	return StatusRefresherConfig{
		Interval:      30 * time.Second,
		BatchSize:     50,
		MaxConcurrent: 5,
	}
}

// StatusRefresher periodically polls the CI provider for running deployments
// and finalizes the ones whose remote run has concluded.
type StatusRefresher struct {
	store   store.Store
	service *deploy.Service
	config  StatusRefresherConfig
	logger  *slog.Logger

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStatusRefresher creates a new status refresher worker.
func NewStatusRefresher(s store.Store, svc *deploy.Service, config StatusRefresherConfig, logger *slog.Logger) *StatusRefresher {
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 50
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = 5
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &StatusRefresher{
		store:   s,
		service: svc,
		config:  config,
		logger:  logger.With("component", "status_refresher"),
	}
}

// Start begins the status refresher background goroutine.
func (s *StatusRefresher) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.run()

	s.logger.Info("status refresher started",
		"interval", s.config.Interval,
		"batch_size", s.config.BatchSize,
	)
}

// Stop gracefully stops the status refresher. It waits for any in-progress
// refreshes to complete.
func (s *StatusRefresher) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("status refresher stopped")
}

func (s *StatusRefresher) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.runCycle(s.ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(s.ctx)
		}
	}
}

// runCycle refreshes one batch of running deployments.
func (s *StatusRefresher) runCycle(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.config.Interval)
	defer cancel()

	running, err := s.store.ListRunningDeployments(ctx, s.config.BatchSize)
	if err != nil {
		s.logger.Error("failed to list running deployments", "error", err)
		return
	}

	if len(running) == 0 {
		return
	}

	s.logger.Debug("starting refresh cycle", "deployment_count", len(running))

	sem := make(chan struct{}, s.config.MaxConcurrent)
	var wg sync.WaitGroup

	for i := range running {
		deploymentID := running[i].ID

		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}

			if _, err := s.service.RefreshStatus(ctx, deploymentID); err != nil {
				s.logger.Warn("failed to refresh deployment status",
					"deployment_id", deploymentID,
					"error", err,
				)
			}
		}()
	}

	wg.Wait()
	s.logger.Debug("completed refresh cycle", "deployment_count", len(running))
}

// RefreshAllNow runs an immediate refresh cycle. Useful for manual
// triggering and tests.
func (s *StatusRefresher) RefreshAllNow(ctx context.Context) {
	s.runCycle(ctx)
}
