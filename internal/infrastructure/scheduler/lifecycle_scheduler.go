// Package scheduler drives periodic background work for the download engine.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RequestAdvancer advances due bulk requests. Satisfied by the download
// lifecycle service.
type RequestAdvancer interface {
	AdvanceDueRequests(ctx context.Context, limit int, now time.Time) (int, error)
}

// LifecycleSchedulerConfig holds configuration for the lifecycle scheduler
type LifecycleSchedulerConfig struct {
	TickInterval time.Duration
	BatchLimit   int
}

// DefaultLifecycleSchedulerConfig returns default configuration
func DefaultLifecycleSchedulerConfig() LifecycleSchedulerConfig {
	return LifecycleSchedulerConfig{
		TickInterval: 15 * time.Minute,
		BatchLimit:   50,
	}
}

// LifecycleScheduler ticks the advancer on a fixed interval. Multiple
// instances may run concurrently against the same database; the advancer's
// claim step keeps them from working the same request twice.
type LifecycleScheduler struct {
	advancer RequestAdvancer
	config   LifecycleSchedulerConfig
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLifecycleScheduler creates a new lifecycle scheduler
func NewLifecycleScheduler(advancer RequestAdvancer, config LifecycleSchedulerConfig, logger *zap.Logger) *LifecycleScheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = 15 * time.Minute
	}
	if config.BatchLimit <= 0 {
		config.BatchLimit = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleScheduler{
		advancer: advancer,
		config:   config,
		logger:   logger,
	}
}

// Start starts the background tick loop
func (s *LifecycleScheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.tickLoop(ctx)

	s.logger.Info("lifecycle scheduler started",
		zap.Duration("tick_interval", s.config.TickInterval),
		zap.Int("batch_limit", s.config.BatchLimit),
	)
	return nil
}

// Stop gracefully stops the scheduler, waiting for an in-flight tick
func (s *LifecycleScheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("lifecycle scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *LifecycleScheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	// Advance immediately on startup so a restart never waits a full
	// interval to resume in-flight requests
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one advancement pass
func (s *LifecycleScheduler) tick(ctx context.Context) {
	advanced, err := s.advancer.AdvanceDueRequests(ctx, s.config.BatchLimit, time.Now())
	if err != nil {
		s.logger.Error("lifecycle advancement pass failed", zap.Error(err))
		return
	}
	if advanced > 0 {
		s.logger.Info("advanced due bulk requests", zap.Int("count", advanced))
	}
}
