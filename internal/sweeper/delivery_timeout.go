package sweeper

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/hookline/hookline/internal/adapter"
	"github.com/hookline/hookline/internal/domain"
	"github.com/hookline/hookline/internal/logger"
	"github.com/hookline/hookline/internal/store"
)

// DeliveryTimeoutSweeperConfig holds configuration for the delivery timeout sweeper
type DeliveryTimeoutSweeperConfig struct {
	BatchSize      int           // Stuck deliveries to claim per cycle
	WorkerPoolSize int           // Concurrent workers
	StuckAfter     time.Duration // In-progress deliveries older than this are timed out
	Interval       time.Duration // Time to sleep between sweep cycles
}

// deliveryTimeoutSweeper finds deliveries that entered in_progress but never
// received an acknowledgement and transitions them to timeout. The transition
// is conditional on the row still being in_progress, so a late ack that won
// the race is never overwritten.
type deliveryTimeoutSweeper struct {
	*periodicSweeper
	config *DeliveryTimeoutSweeperConfig
	store  store.Store
	clock  adapter.Clock
}

// NewDeliveryTimeoutSweeper creates a new delivery timeout sweeper
func NewDeliveryTimeoutSweeper(config *DeliveryTimeoutSweeperConfig, st store.Store, clock adapter.Clock) Sweeper {
	s := &deliveryTimeoutSweeper{
		config: config,
		store:  st,
		clock:  clock,
	}
	s.periodicSweeper = newPeriodic("delivery-timeout-sweeper", config.Interval, clock, s.runSweepCycle)
	return s
}

// runSweepCycle runs a single sweep cycle
func (s *deliveryTimeoutSweeper) runSweepCycle(ctx context.Context) error {
	startTime := s.clock.Now()
	cutoff := startTime.Add(-s.config.StuckAfter)

	stuck, err := s.store.ListStuckDeliveries(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list stuck deliveries: %w", err)
	}
	if len(stuck) == 0 {
		return nil
	}

	logger.InfoCtx(ctx, "Found stuck deliveries", zap.Int("count", len(stuck)))

	var timedOut, raced atomic.Int32
	pool := pond.NewPool(
		s.config.WorkerPoolSize,
		pond.WithQueueSize(s.config.BatchSize),
		pond.WithContext(ctx),
	)

	for _, d := range stuck {
		pool.Submit(func() {
			now := s.clock.Now()
			applied, err := s.store.UpdateDeliveryStatus(ctx, d.ID,
				[]domain.DeliveryStatus{domain.DeliveryStatusInProgress},
				domain.DeliveryStatusTimeout, &now)
			if err != nil {
				logger.ErrorCtx(ctx, err, zap.String("delivery_id", d.ID))
				return
			}
			if !applied {
				// an ack landed between the list and the update; the
				// terminal result it recorded stands
				raced.Add(1)
				return
			}
			timedOut.Add(1)
		})
	}
	pool.StopAndWait()

	logger.InfoCtx(ctx, "Delivery timeout sweep completed",
		zap.Duration("duration", s.clock.Since(startTime)),
		zap.Int("scanned", len(stuck)),
		zap.Int32("timed_out", timedOut.Load()),
		zap.Int32("raced", raced.Load()),
	)
	return nil
}
