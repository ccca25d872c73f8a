package sweeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hookline/hookline/internal/adapter"
	"github.com/hookline/hookline/internal/logger"
	"github.com/hookline/hookline/internal/store"
)

// PlaygroundCleanupSweeperConfig holds configuration for the playground cleanup sweeper
type PlaygroundCleanupSweeperConfig struct {
	PurgeAfter time.Duration // Expired sessions older than this are deleted
	Interval   time.Duration // Time to sleep between sweep cycles
}

// playgroundCleanupSweeper runs the two-phase teardown of anonymous sessions:
// active sessions past their TTL flip to expired, and sessions that have been
// expired for PurgeAfter are deleted outright. Phases run in this order so a
// session is never deleted while still marked active.
type playgroundCleanupSweeper struct {
	*periodicSweeper
	config *PlaygroundCleanupSweeperConfig
	store  store.Store
	clock  adapter.Clock
}

// NewPlaygroundCleanupSweeper creates a new playground cleanup sweeper
func NewPlaygroundCleanupSweeper(config *PlaygroundCleanupSweeperConfig, st store.Store, clock adapter.Clock) Sweeper {
	s := &playgroundCleanupSweeper{
		config: config,
		store:  st,
		clock:  clock,
	}
	s.periodicSweeper = newPeriodic("playground-cleanup-sweeper", config.Interval, clock, s.runSweepCycle)
	return s
}

// runSweepCycle runs a single sweep cycle
func (s *playgroundCleanupSweeper) runSweepCycle(ctx context.Context) error {
	now := s.clock.Now()

	expired, err := s.store.ExpirePlaygroundSessions(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to expire playground sessions: %w", err)
	}

	purged, err := s.store.DeletePlaygroundSessionsBefore(ctx, now.Add(-s.config.PurgeAfter))
	if err != nil {
		return fmt.Errorf("failed to purge playground sessions: %w", err)
	}

	if expired > 0 || purged > 0 {
		logger.InfoCtx(ctx, "Playground cleanup completed",
			zap.Int64("expired", expired),
			zap.Int64("purged", purged),
		)
	}
	return nil
}
