package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hookline/hookline/internal/adapter"
	"github.com/hookline/hookline/internal/logger"
	"github.com/hookline/hookline/internal/registry"
)

// SessionReaperConfig holds configuration for the session reaper
type SessionReaperConfig struct {
	IdleAfter time.Duration // Sessions silent for longer than this are demoted to disconnected
	StopAfter time.Duration // Demoted sessions silent for longer than this are stopped and evicted
	Interval  time.Duration // Time to sleep between sweep cycles
}

// sessionReaper winds down forwarding sessions whose transport went silent,
// in two stages. A session that misses heartbeats is first demoted to
// disconnected but keeps its connection slot, giving the client a window to
// reconnect. A session that stays silent past StopAfter is stopped and
// evicted; deliveries it left in progress are picked up by the delivery
// timeout sweeper.
type sessionReaper struct {
	*periodicSweeper
	config   *SessionReaperConfig
	registry *registry.Registry
	clock    adapter.Clock
}

// NewSessionReaper creates a new session reaper
func NewSessionReaper(config *SessionReaperConfig, reg *registry.Registry, clock adapter.Clock) Sweeper {
	s := &sessionReaper{
		config:   config,
		registry: reg,
		clock:    clock,
	}
	s.periodicSweeper = newPeriodic("session-reaper", config.Interval, clock, s.runSweepCycle)
	return s
}

// runSweepCycle runs a single sweep cycle
func (s *sessionReaper) runSweepCycle(ctx context.Context) error {
	// collect first so the sweep does not mutate shards mid-iteration
	var demote, evict []*registry.Connection
	s.registry.Each(func(conn *registry.Connection) {
		silent := s.clock.Since(conn.LastHeartbeat())
		switch conn.State() {
		case registry.SessionConnecting, registry.SessionConnected:
			if silent >= s.config.IdleAfter {
				demote = append(demote, conn)
			}
		case registry.SessionDisconnected, registry.SessionReconnecting:
			if silent >= s.config.StopAfter {
				evict = append(evict, conn)
			}
		}
	})

	for _, conn := range demote {
		if err := conn.TransitionState(registry.SessionDisconnected); err != nil {
			// the transport raced us; pick it up again next cycle
			continue
		}
		logger.InfoCtx(ctx, "Demoted silent session",
			zap.String("connection_id", conn.ID),
			zap.String("endpoint_id", conn.EndpointID),
			zap.Time("last_heartbeat", conn.LastHeartbeat()),
		)
	}

	for _, conn := range evict {
		// a reconnect attempt that went silent cannot stop cleanly
		target := registry.SessionStopped
		if conn.State() == registry.SessionReconnecting {
			target = registry.SessionFailed
		}
		if err := conn.TransitionState(target); err != nil {
			logger.DebugCtx(ctx, "Session already terminal during reap",
				zap.String("connection_id", conn.ID),
				zap.String("state", string(conn.State())),
			)
		}
		if s.registry.Unregister(conn.EndpointID, conn.ID) {
			logger.InfoCtx(ctx, "Evicted inactive session",
				zap.String("connection_id", conn.ID),
				zap.String("endpoint_id", conn.EndpointID),
				zap.Time("last_heartbeat", conn.LastHeartbeat()),
			)
		}
	}
	return nil
}
