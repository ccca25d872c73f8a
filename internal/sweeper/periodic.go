package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hookline/hookline/internal/adapter"
	"github.com/hookline/hookline/internal/logger"
)

// sweepFunc runs one sweep cycle. Cycles must be idempotent: a crash between
// cycles or a concurrent run from another process must never corrupt state.
type sweepFunc func(ctx context.Context) error

// periodicSweeper owns the run loop shared by all sweepers: start-once
// semantics, context-aware interval sleep and graceful stop with join.
type periodicSweeper struct {
	name      string
	interval  time.Duration
	clock     adapter.Clock
	sweep     sweepFunc
	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

func newPeriodic(name string, interval time.Duration, clock adapter.Clock, sweep sweepFunc) *periodicSweeper {
	return &periodicSweeper{
		name:      name,
		interval:  interval,
		clock:     clock,
		sweep:     sweep,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Name returns the sweeper's name
func (s *periodicSweeper) Name() string {
	return s.name
}

// Start begins the sweeper's main loop
// This is a blocking call that runs until the context is canceled
func (s *periodicSweeper) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("sweeper %s already running", s.name)
	}
	defer func() {
		s.running.Store(false)
		close(s.stoppedCh) // Signal that we've stopped
	}()

	logger.InfoCtx(ctx, "Starting sweeper",
		zap.String("sweeper", s.name),
		zap.Duration("interval", s.interval),
	)

	for {
		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "Sweeper stopping due to context cancellation",
				zap.String("sweeper", s.name), zap.Error(ctx.Err()))
			return nil
		case <-s.stopChan:
			logger.InfoCtx(ctx, "Sweeper stop requested", zap.String("sweeper", s.name))
			return nil
		default:
			if err := s.sweep(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.ErrorCtx(ctx, err, zap.String("sweeper", s.name))
				}
			}
			if !s.sleep(ctx, s.interval) {
				return nil
			}
		}
	}
}

// Stop gracefully stops the sweeper with timeout support
func (s *periodicSweeper) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil // Already stopped
	}

	logger.InfoCtx(ctx, "Stopping sweeper", zap.String("sweeper", s.name))

	close(s.stopChan)

	// Wait for main loop to exit, but respect context cancellation
	select {
	case <-s.stoppedCh:
		logger.InfoCtx(ctx, "Sweeper stopped gracefully", zap.String("sweeper", s.name))
		return nil
	case <-ctx.Done():
		logger.WarnCtx(ctx, "Sweeper stop interrupted by context timeout", zap.String("sweeper", s.name))
		return ctx.Err()
	}
}

// sleep sleeps for the given duration but can be interrupted by context
// cancellation or a stop request. Returns true if sleep completed normally.
func (s *periodicSweeper) sleep(ctx context.Context, duration time.Duration) bool {
	select {
	case <-s.clock.After(duration):
		return true
	case <-ctx.Done():
		return false
	case <-s.stopChan:
		return false
	}
}
