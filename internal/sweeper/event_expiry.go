package sweeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hookline/hookline/internal/adapter"
	"github.com/hookline/hookline/internal/domain"
	"github.com/hookline/hookline/internal/logger"
	"github.com/hookline/hookline/internal/store"
)

// EventExpirySweeperConfig holds configuration for the event expiry sweeper
type EventExpirySweeperConfig struct {
	Interval time.Duration // Time to sleep between sweep cycles
}

// eventExpirySweeper removes stored events past their tier's retention window,
// cascading to the delivery records that reference them.
type eventExpirySweeper struct {
	*periodicSweeper
	store store.Store
	clock adapter.Clock
}

// NewEventExpirySweeper creates a new event expiry sweeper
func NewEventExpirySweeper(config *EventExpirySweeperConfig, st store.Store, clock adapter.Clock) Sweeper {
	s := &eventExpirySweeper{
		store: st,
		clock: clock,
	}
	s.periodicSweeper = newPeriodic("event-expiry-sweeper", config.Interval, clock, s.runSweepCycle)
	return s
}

// runSweepCycle runs a single sweep cycle
func (s *eventExpirySweeper) runSweepCycle(ctx context.Context) error {
	startTime := s.clock.Now()
	var total int64

	longest := domain.TierFree.Limits().EventRetention
	for _, tier := range []domain.Tier{domain.TierFree, domain.TierPro, domain.TierBusiness} {
		retention := tier.Limits().EventRetention
		if retention > longest {
			longest = retention
		}

		removed, err := s.store.DeleteEventsForTierBefore(ctx, tier, startTime.Add(-retention))
		if err != nil {
			return fmt.Errorf("failed to expire events for tier %s: %w", tier, err)
		}
		if removed > 0 {
			logger.InfoCtx(ctx, "Expired events",
				zap.String("tier", string(tier)),
				zap.Int64("removed", removed),
			)
		}
		total += removed
	}

	// safety net for events orphaned by endpoint or billing changes: nothing
	// outlives the longest retention window
	removed, err := s.store.DeleteEventsBefore(ctx, startTime.Add(-longest))
	if err != nil {
		return fmt.Errorf("failed to expire orphaned events: %w", err)
	}
	total += removed

	if total > 0 {
		logger.InfoCtx(ctx, "Event expiry sweep completed",
			zap.Duration("duration", s.clock.Since(startTime)),
			zap.Int64("removed", total),
		)
	}
	return nil
}
