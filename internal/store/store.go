package store

import (
	"context"
	"time"

	"github.com/hookline/hookline/internal/domain"
)

// Store defines the persistence contracts consumed by the relay core.
// Lookups return (nil, nil) when the entity is absent; updates signal
// not-found instead of failing silently.
type Store interface {
	// CreateEndpoint persists a new endpoint
	CreateEndpoint(ctx context.Context, endpoint *domain.Endpoint) error
	// GetEndpointByID retrieves an endpoint by ID, soft-deleted included
	GetEndpointByID(ctx context.Context, id string) (*domain.Endpoint, error)
	// UpdateEndpoint persists endpoint mutations; reports whether the row existed
	UpdateEndpoint(ctx context.Context, endpoint *domain.Endpoint) (bool, error)
	// ListEndpointsByUser returns the user's endpoints, newest first
	ListEndpointsByUser(ctx context.Context, userID string, includeDeleted bool, limit, offset int) ([]*domain.Endpoint, error)
	// CountEndpointsByUser counts the user's live endpoints for quota checks
	CountEndpointsByUser(ctx context.Context, userID string) (int64, error)

	// CreateDestination persists a new destination
	CreateDestination(ctx context.Context, destination *domain.Destination) error
	// GetDestinationByID retrieves a destination by ID
	GetDestinationByID(ctx context.Context, id string) (*domain.Destination, error)
	// UpdateDestination persists destination mutations; reports whether the row existed
	UpdateDestination(ctx context.Context, destination *domain.Destination) (bool, error)
	// DeleteDestination removes a destination; reports whether the row existed
	DeleteDestination(ctx context.Context, id string) (bool, error)
	// ListDestinationsByEndpoint returns an endpoint's destinations
	ListDestinationsByEndpoint(ctx context.Context, endpointID string) ([]*domain.Destination, error)

	// CreateEvent persists a received event snapshot
	CreateEvent(ctx context.Context, event *domain.Event) error
	// GetEventByID retrieves an event by ID
	GetEventByID(ctx context.Context, id string) (*domain.Event, error)
	// ListEventsByEndpoint returns an endpoint's events in ingestion order, newest first
	ListEventsByEndpoint(ctx context.Context, endpointID string, limit, offset int) ([]*domain.Event, error)
	// DeleteEventsBefore removes events received before the cutoff, cascading
	// to their deliveries. Idempotent; returns the number of events removed.
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// DeleteEventsForTierBefore removes events received before the cutoff on
	// endpoints whose owner is on the given tier. Owners without a billing row
	// count as free. Cascades to deliveries; idempotent.
	DeleteEventsForTierBefore(ctx context.Context, tier domain.Tier, cutoff time.Time) (int64, error)

	// CreateDeliveries persists a batch of fanout deliveries
	CreateDeliveries(ctx context.Context, deliveries []*domain.Delivery) error
	// GetDeliveryByID retrieves a delivery by ID
	GetDeliveryByID(ctx context.Context, id string) (*domain.Delivery, error)
	// ListDeliveriesByEvent returns the delivery attempts for an event
	ListDeliveriesByEvent(ctx context.Context, eventID string) ([]*domain.Delivery, error)
	// UpdateDeliveryStatus conditionally transitions a delivery: the update
	// applies only if the persisted status is still in allowedFrom. Reports
	// whether a row was affected so the caller knows its precondition held.
	UpdateDeliveryStatus(ctx context.Context, id string, allowedFrom []domain.DeliveryStatus, to domain.DeliveryStatus, finishedAt *time.Time) (bool, error)
	// ListStuckDeliveries returns up to limit deliveries still in progress
	// that started before the cutoff, oldest first
	ListStuckDeliveries(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Delivery, error)

	// IncrementRateLimit atomically upserts-and-increments the counter for
	// (endpoint, bucket), but only while the count is below ceiling. The
	// increment happens exactly once per admitted call regardless of
	// concurrent ingestion, so the stored count equals the number of
	// admitted events. Returns the resulting count and whether this call
	// was admitted; when not admitted the count equals the ceiling.
	IncrementRateLimit(ctx context.Context, endpointID string, bucket time.Time, ceiling int) (int, bool, error)
	// GetRateLimit retrieves a counter row
	GetRateLimit(ctx context.Context, endpointID string, bucket time.Time) (*domain.RateLimit, error)
	// DeleteRateLimitsBefore removes buckets older than the cutoff. Idempotent.
	DeleteRateLimitsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// CreatePlaygroundSession persists a new anonymous session
	CreatePlaygroundSession(ctx context.Context, session *domain.PlaygroundSession) error
	// GetPlaygroundSessionByToken retrieves a session by its anonymous token
	GetPlaygroundSessionByToken(ctx context.Context, token string) (*domain.PlaygroundSession, error)
	// ExpirePlaygroundSessions marks active sessions past their expiry as
	// expired. Idempotent; returns the number of rows transitioned.
	ExpirePlaygroundSessions(ctx context.Context, now time.Time) (int64, error)
	// DeletePlaygroundSessionsBefore removes sessions that expired before the
	// cutoff and soft-deletes their throwaway endpoints. Idempotent.
	DeletePlaygroundSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// GetSubscriptionByUser retrieves the owner's plan record
	GetSubscriptionByUser(ctx context.Context, userID string) (*domain.Subscription, error)
}
