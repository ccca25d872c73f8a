// Package tracker resolves in-flight deliveries from session acknowledgements.
package tracker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hookline/hookline/internal/adapter"
	"github.com/hookline/hookline/internal/domain"
	"github.com/hookline/hookline/internal/logger"
	"github.com/hookline/hookline/internal/registry"
	"github.com/hookline/hookline/internal/store"
)

// Tracker drains acknowledgement queues and applies the resulting terminal
// delivery transitions. Every update is conditional on the row still being
// in progress: acks that arrive after the timeout sweep already settled the
// delivery are logged and dropped, never overwriting a terminal state.
type Tracker struct {
	store    store.Store
	registry *registry.Registry
	clock    adapter.Clock

	wg sync.WaitGroup
}

// New creates a delivery tracker
func New(st store.Store, reg *registry.Registry, clock adapter.Clock) *Tracker {
	return &Tracker{
		store:    st,
		registry: reg,
		clock:    clock,
	}
}

// Watch drains the connection's acknowledgement queue until the context is
// canceled. It is started once per registered connection and returns when
// the session ends.
func (t *Tracker) Watch(ctx context.Context, conn *registry.Connection) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ack, ok := <-conn.Acks():
				if !ok {
					return
				}
				if err := t.HandleAck(ctx, ack); err != nil {
					logger.ErrorCtx(ctx, err,
						zap.String("delivery_id", ack.DeliveryID),
						zap.String("connection_id", ack.ConnectionID),
					)
				}
			}
		}
	}()
}

// Wait blocks until every Watch loop has returned
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// HandleAck settles one delivery from a session acknowledgement
func (t *Tracker) HandleAck(ctx context.Context, ack registry.Ack) error {
	to := domain.DeliveryStatusSuccess
	if !ack.OK {
		to = domain.DeliveryStatusFailed
	}

	now := t.clock.Now()
	applied, err := t.store.UpdateDeliveryStatus(ctx, ack.DeliveryID,
		[]domain.DeliveryStatus{domain.DeliveryStatusInProgress}, to, &now)
	if err != nil {
		return fmt.Errorf("failed to settle delivery %s: %w", ack.DeliveryID, err)
	}
	if !applied {
		// the delivery is unknown or already terminal, most likely the
		// timeout sweep won the race
		logger.WarnCtx(ctx, "Dropping stale acknowledgement",
			zap.String("delivery_id", ack.DeliveryID),
			zap.String("connection_id", ack.ConnectionID),
			zap.Bool("ok", ack.OK),
			zap.String("reason", ack.Reason),
		)
		return nil
	}

	logger.DebugCtx(ctx, "Delivery settled",
		zap.String("delivery_id", ack.DeliveryID),
		zap.String("status", string(to)),
	)
	return nil
}

// HandleDisconnect removes a session from the registry after its transport
// dropped. Deliveries the session left in progress are deliberately not
// touched here; the timeout sweep settles them once they go stale.
func (t *Tracker) HandleDisconnect(ctx context.Context, conn *registry.Connection) {
	if conn.State() == registry.SessionConnected {
		if err := conn.TransitionState(registry.SessionDisconnected); err != nil {
			logger.WarnCtx(ctx, "Session disconnect transition rejected",
				zap.String("connection_id", conn.ID),
				zap.Error(err),
			)
		}
	}

	if t.registry.Unregister(conn.EndpointID, conn.ID) {
		logger.InfoCtx(ctx, "Session disconnected",
			zap.String("connection_id", conn.ID),
			zap.String("endpoint_id", conn.EndpointID),
		)
	}
}
