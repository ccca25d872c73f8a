// Package ingest implements the admission and fanout pipeline: one inbound
// webhook request becomes one stored event, zero-or-more delivery attempts
// and zero-or-more pushes to live forwarding sessions.
package ingest

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/hookline/hookline/internal/adapter"
	"github.com/hookline/hookline/internal/blocklist"
	"github.com/hookline/hookline/internal/domain"
	"github.com/hookline/hookline/internal/logger"
	"github.com/hookline/hookline/internal/messaging"
	"github.com/hookline/hookline/internal/registry"
	"github.com/hookline/hookline/internal/store"
)

// Inbound is the snapshot of one received webhook request, already parsed
// by the transport layer.
type Inbound struct {
	Method  string
	Headers map[string]string
	Body    []byte
}

// Result is what admission hands back to a synchronous caller: the persisted
// event plus an immediate delivery summary.
type Result struct {
	Event      *domain.Event      `json:"event"`
	Deliveries []*domain.Delivery `json:"deliveries"`
}

// Pipeline accepts inbound events, applies admission control, persists them
// and fans them out to the live connections of the target endpoint. The
// optional publisher mirrors admitted events to a broker; the optional
// blocklist refuses abusive endpoints before any state is touched.
type Pipeline struct {
	store     store.Store
	registry  *registry.Registry
	publisher messaging.Publisher
	blocked   blocklist.Blocklist
	clock     adapter.Clock
}

// New creates an ingestion pipeline. publisher and blocked may be nil.
func New(st store.Store, reg *registry.Registry, pub messaging.Publisher, blocked blocklist.Blocklist, clock adapter.Clock) *Pipeline {
	return &Pipeline{
		store:     st,
		registry:  reg,
		publisher: pub,
		blocked:   blocked,
		clock:     clock,
	}
}

// Ingest admits, persists and fans out one inbound event.
//
// Admission runs before any row is written: a request refused by the
// blocklist, an absent or soft-deleted endpoint, or a full rate-limit
// bucket leaves no partial state behind. The rate-limit increment is a
// single atomic ceiling-guarded upsert, so a burst of k concurrent requests
// against a ceiling of C admits exactly min(k, C) of them.
func (p *Pipeline) Ingest(ctx context.Context, endpointID string, in Inbound) (*Result, error) {
	endpoint, err := p.resolveEndpoint(ctx, endpointID)
	if err != nil {
		return nil, err
	}

	limits, err := p.resolveLimits(ctx, endpoint.UserID)
	if err != nil {
		return nil, err
	}

	now := p.clock.Now()
	bucket := domain.HourBucket(now)
	count, admitted, err := p.store.IncrementRateLimit(ctx, endpoint.ID, bucket, limits.RateLimitPerHour)
	if err != nil {
		return nil, domain.NewInfraError("increment rate limit", err)
	}
	if !admitted {
		return nil, &domain.RateLimitError{
			Limit:   limits.RateLimitPerHour,
			Current: count,
			ResetAt: domain.BucketResetAt(now),
		}
	}

	event, err := domain.NewEvent(endpoint.ID, in.Method, in.Headers, in.Body, now)
	if err != nil {
		return nil, err
	}
	if err := p.store.CreateEvent(ctx, event); err != nil {
		return nil, domain.NewInfraError("persist event", err)
	}

	deliveries, err := p.fanout(ctx, event, domain.AttemptTypeInitial)
	if err != nil {
		return nil, err
	}

	p.mirror(ctx, event)

	return &Result{Event: event, Deliveries: deliveries}, nil
}

// Replay creates a brand-new delivery attempt of a stored event against each
// currently live connection. It never mutates the event's earlier deliveries;
// terminal attempts stay terminal.
func (p *Pipeline) Replay(ctx context.Context, eventID string) (*Result, error) {
	event, err := p.store.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, domain.NewInfraError("resolve event", err)
	}
	if event == nil {
		return nil, domain.NewNotFoundError("event", eventID)
	}
	if _, err := p.resolveEndpoint(ctx, event.EndpointID); err != nil {
		return nil, err
	}

	deliveries, err := p.fanout(ctx, event, domain.AttemptTypeReplay)
	if err != nil {
		return nil, err
	}
	return &Result{Event: event, Deliveries: deliveries}, nil
}

// resolveEndpoint loads the target endpoint, treating soft-deleted and
// blocked endpoints the same as absent ones.
func (p *Pipeline) resolveEndpoint(ctx context.Context, endpointID string) (*domain.Endpoint, error) {
	if endpointID == "" {
		return nil, domain.NewValidationError("endpoint ID is required")
	}
	if p.blocked != nil && p.blocked.IsEndpointBlocked(endpointID) {
		return nil, domain.NewNotFoundError("endpoint", endpointID)
	}

	endpoint, err := p.store.GetEndpointByID(ctx, endpointID)
	if err != nil {
		return nil, domain.NewInfraError("resolve endpoint", err)
	}
	if endpoint == nil || endpoint.IsDeleted() {
		return nil, domain.NewNotFoundError("endpoint", endpointID)
	}
	if p.blocked != nil && p.blocked.IsUserBlocked(endpoint.UserID) {
		return nil, domain.NewNotFoundError("endpoint", endpointID)
	}
	return endpoint, nil
}

// resolveLimits derives the owner's quota ceilings. Owners without a billing
// record count as free tier.
func (p *Pipeline) resolveLimits(ctx context.Context, userID string) (domain.TierLimits, error) {
	sub, err := p.store.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return domain.TierLimits{}, domain.NewInfraError("resolve subscription", err)
	}
	tier := domain.TierFree
	if sub != nil {
		tier = sub.Tier
	}
	return tier.Limits(), nil
}

// fanout creates one delivery per live connection and pushes the event onto
// each connection's outbound queue. With no live connection the event stays
// stored with zero deliveries; a reconnecting client does not retroactively
// receive it. A queue that refuses the frame fails that delivery immediately
// instead of stalling ingestion.
func (p *Pipeline) fanout(ctx context.Context, event *domain.Event, attempt domain.AttemptType) ([]*domain.Delivery, error) {
	conns := p.registry.Connections(event.EndpointID)
	if len(conns) == 0 {
		return nil, nil
	}

	now := p.clock.Now()
	deliveries := make([]*domain.Delivery, 0, len(conns))
	for _, conn := range conns {
		d, err := domain.NewDelivery(event.ID, conn.ID, attempt, now)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	if err := p.store.CreateDeliveries(ctx, deliveries); err != nil {
		return nil, domain.NewInfraError("persist deliveries", err)
	}

	for i, conn := range conns {
		d := deliveries[i]
		if err := p.markInProgress(ctx, d); err != nil {
			return nil, err
		}

		if err := p.registry.SendToOne(event.EndpointID, conn.ID, registry.Frame{
			DeliveryID: d.ID,
			Event:      event,
		}); err != nil {
			// the session's queue is full or the session vanished between
			// the snapshot and the push; the attempt fails, ingestion
			// carries on with the remaining connections
			p.markFailed(ctx, d)
			logger.WarnCtx(ctx, "Dropped push to connection",
				zap.String("connection_id", conn.ID),
				zap.String("delivery_id", d.ID),
				zap.Error(err),
			)
		}
	}

	return deliveries, nil
}

func (p *Pipeline) markInProgress(ctx context.Context, d *domain.Delivery) error {
	applied, err := p.store.UpdateDeliveryStatus(ctx, d.ID,
		[]domain.DeliveryStatus{domain.DeliveryStatusPending},
		domain.DeliveryStatusInProgress, nil)
	if err != nil {
		return domain.NewInfraError("start delivery", err)
	}
	if applied {
		_ = d.Transition(domain.DeliveryStatusInProgress, p.clock.Now())
	}
	return nil
}

func (p *Pipeline) markFailed(ctx context.Context, d *domain.Delivery) {
	now := p.clock.Now()
	applied, err := p.store.UpdateDeliveryStatus(ctx, d.ID,
		[]domain.DeliveryStatus{domain.DeliveryStatusInProgress},
		domain.DeliveryStatusFailed, &now)
	if err != nil {
		logger.ErrorCtx(ctx, err, zap.String("delivery_id", d.ID))
		return
	}
	if applied {
		_ = d.Transition(domain.DeliveryStatusFailed, now)
	}
}

// mirror publishes the admitted event to the broker in the background.
// Best-effort: retries with exponential backoff for a short window and gives
// up; the admission result never waits on it.
func (p *Pipeline) mirror(ctx context.Context, event *domain.Event) {
	if p.publisher == nil {
		return
	}

	go func() {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxInterval = 5 * time.Second
		b.MaxElapsedTime = 30 * time.Second

		operation := func() error {
			return p.publisher.PublishEvent(context.WithoutCancel(ctx), event)
		}
		if err := backoff.Retry(operation, b); err != nil {
			logger.WarnCtx(ctx, "Event mirror publish failed",
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
		}
	}()
}
