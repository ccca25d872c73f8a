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

// RateLimitCleanupSweeperConfig holds configuration for the rate limit cleanup sweeper
type RateLimitCleanupSweeperConfig struct {
	KeepFor  time.Duration // Buckets older than this are removed
	Interval time.Duration // Time to sleep between sweep cycles
}

// rateLimitCleanupSweeper removes hour buckets that can no longer influence an
// admission decision. Deleting a bucket that traffic could still hit would
// reset a live counter, so KeepFor must stay comfortably above one hour.
type rateLimitCleanupSweeper struct {
	*periodicSweeper
	config *RateLimitCleanupSweeperConfig
	store  store.Store
	clock  adapter.Clock
}

// NewRateLimitCleanupSweeper creates a new rate limit cleanup sweeper
func NewRateLimitCleanupSweeper(config *RateLimitCleanupSweeperConfig, st store.Store, clock adapter.Clock) Sweeper {
	s := &rateLimitCleanupSweeper{
		config: config,
		store:  st,
		clock:  clock,
	}
	s.periodicSweeper = newPeriodic("ratelimit-cleanup-sweeper", config.Interval, clock, s.runSweepCycle)
	return s
}

// runSweepCycle runs a single sweep cycle
func (s *rateLimitCleanupSweeper) runSweepCycle(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.config.KeepFor)

	removed, err := s.store.DeleteRateLimitsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete stale rate limit buckets: %w", err)
	}
	if removed > 0 {
		logger.InfoCtx(ctx, "Rate limit cleanup completed",
			zap.Time("cutoff", cutoff),
			zap.Int64("removed", removed),
		)
	}
	return nil
}
