package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hookline/hookline/internal/domain"
	"github.com/hookline/hookline/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// AutoMigrate creates or updates the relay tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&schema.Endpoint{},
		&schema.Destination{},
		&schema.Event{},
		&schema.Delivery{},
		&schema.RateLimit{},
		&schema.PlaygroundSession{},
		&schema.Subscription{},
	)
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values fall back to defaults: 20 open, 5 idle,
// 5m lifetime, 10m idle time.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// =============================================================================
// Endpoints
// =============================================================================

func (s *pgStore) CreateEndpoint(ctx context.Context, endpoint *domain.Endpoint) error {
	if err := s.db.WithContext(ctx).Create(endpointToSchema(endpoint)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.NewConflictError("endpoint name %q already exists for this user", endpoint.Name)
		}
		return fmt.Errorf("failed to create endpoint: %w", err)
	}
	return nil
}

func (s *pgStore) GetEndpointByID(ctx context.Context, id string) (*domain.Endpoint, error) {
	var row schema.Endpoint
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get endpoint: %w", err)
	}
	return endpointToDomain(&row), nil
}

func (s *pgStore) UpdateEndpoint(ctx context.Context, endpoint *domain.Endpoint) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&schema.Endpoint{}).
		Where("id = ?", endpoint.ID).
		Updates(map[string]interface{}{
			"name":       endpoint.Name,
			"deleted_at": endpoint.DeletedAt,
			"updated_at": endpoint.UpdatedAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to update endpoint: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *pgStore) ListEndpointsByUser(ctx context.Context, userID string, includeDeleted bool, limit, offset int) ([]*domain.Endpoint, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if !includeDeleted {
		query = query.Where("deleted_at IS NULL")
	}

	var rows []schema.Endpoint
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}

	endpoints := make([]*domain.Endpoint, len(rows))
	for i := range rows {
		endpoints[i] = endpointToDomain(&rows[i])
	}
	return endpoints, nil
}

func (s *pgStore) CountEndpointsByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&schema.Endpoint{}).
		Where("user_id = ? AND deleted_at IS NULL", userID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count endpoints: %w", err)
	}
	return count, nil
}

// =============================================================================
// Destinations
// =============================================================================

func (s *pgStore) CreateDestination(ctx context.Context, destination *domain.Destination) error {
	if err := s.db.WithContext(ctx).Create(destinationToSchema(destination)).Error; err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	return nil
}

func (s *pgStore) GetDestinationByID(ctx context.Context, id string) (*domain.Destination, error) {
	var row schema.Destination
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get destination: %w", err)
	}
	return destinationToDomain(&row), nil
}

func (s *pgStore) UpdateDestination(ctx context.Context, destination *domain.Destination) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&schema.Destination{}).
		Where("id = ?", destination.ID).
		Updates(map[string]interface{}{
			"kind":       string(destination.Kind),
			"label":      destination.Label,
			"updated_at": destination.UpdatedAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to update destination: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *pgStore) DeleteDestination(ctx context.Context, id string) (bool, error) {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&schema.Destination{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete destination: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *pgStore) ListDestinationsByEndpoint(ctx context.Context, endpointID string) ([]*domain.Destination, error) {
	var rows []schema.Destination
	err := s.db.WithContext(ctx).
		Where("endpoint_id = ?", endpointID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list destinations: %w", err)
	}

	destinations := make([]*domain.Destination, len(rows))
	for i := range rows {
		destinations[i] = destinationToDomain(&rows[i])
	}
	return destinations, nil
}

// =============================================================================
// Events
// =============================================================================

func (s *pgStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	row, err := eventToSchema(event)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

func (s *pgStore) GetEventByID(ctx context.Context, id string) (*domain.Event, error) {
	var row schema.Event
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return eventToDomain(&row)
}

func (s *pgStore) ListEventsByEndpoint(ctx context.Context, endpointID string, limit, offset int) ([]*domain.Event, error) {
	var rows []schema.Event
	// ULIDs sort in ingestion order, so ordering by id preserves the
	// per-endpoint event sequence
	err := s.db.WithContext(ctx).
		Where("endpoint_id = ?", endpointID).
		Order("id DESC").
		Limit(limit).Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]*domain.Event, len(rows))
	for i := range rows {
		event, err := eventToDomain(&rows[i])
		if err != nil {
			return nil, err
		}
		events[i] = event
	}
	return events, nil
}

func (s *pgStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// cascade deliveries first so no delivery ever references a missing event
		if err := tx.
			Where("event_id IN (?)", tx.Model(&schema.Event{}).Select("id").Where("received_at < ?", cutoff)).
			Delete(&schema.Delivery{}).Error; err != nil {
			return fmt.Errorf("failed to delete expired deliveries: %w", err)
		}

		result := tx.Where("received_at < ?", cutoff).Delete(&schema.Event{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete expired events: %w", result.Error)
		}
		removed = result.RowsAffected
		return nil
	})
	return removed, err
}

func (s *pgStore) DeleteEventsForTierBefore(ctx context.Context, tier domain.Tier, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// owners without a billing row are treated as free
		endpointIDs := tx.Model(&schema.Endpoint{}).
			Select("endpoints.id").
			Joins("LEFT JOIN subscriptions ON subscriptions.user_id = endpoints.user_id").
			Where("COALESCE(subscriptions.tier, 'free') = ?", string(tier))

		expiredEventIDs := tx.Model(&schema.Event{}).
			Select("id").
			Where("received_at < ? AND endpoint_id IN (?)", cutoff, endpointIDs)

		if err := tx.
			Where("event_id IN (?)", expiredEventIDs).
			Delete(&schema.Delivery{}).Error; err != nil {
			return fmt.Errorf("failed to delete expired deliveries: %w", err)
		}

		result := tx.
			Where("received_at < ? AND endpoint_id IN (?)", cutoff, endpointIDs).
			Delete(&schema.Event{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete expired events: %w", result.Error)
		}
		removed = result.RowsAffected
		return nil
	})
	return removed, err
}

// =============================================================================
// Deliveries
// =============================================================================

func (s *pgStore) CreateDeliveries(ctx context.Context, deliveries []*domain.Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	rows := make([]*schema.Delivery, len(deliveries))
	for i, d := range deliveries {
		rows[i] = deliveryToSchema(d)
	}
	if err := s.db.WithContext(ctx).Create(rows).Error; err != nil {
		return fmt.Errorf("failed to create deliveries: %w", err)
	}
	return nil
}

func (s *pgStore) GetDeliveryByID(ctx context.Context, id string) (*domain.Delivery, error) {
	var row schema.Delivery
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return deliveryToDomain(&row), nil
}

func (s *pgStore) ListDeliveriesByEvent(ctx context.Context, eventID string) ([]*domain.Delivery, error) {
	var rows []schema.Delivery
	err := s.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("started_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}

	deliveries := make([]*domain.Delivery, len(rows))
	for i := range rows {
		deliveries[i] = deliveryToDomain(&rows[i])
	}
	return deliveries, nil
}

func (s *pgStore) UpdateDeliveryStatus(ctx context.Context, id string, allowedFrom []domain.DeliveryStatus, to domain.DeliveryStatus, finishedAt *time.Time) (bool, error) {
	froms := make([]string, len(allowedFrom))
	for i, st := range allowedFrom {
		froms[i] = string(st)
	}

	updates := map[string]interface{}{"status": string(to)}
	if finishedAt != nil {
		updates["finished_at"] = finishedAt
	}

	// conditional update: only applies while the persisted status is still in
	// the allowed set, so a repeat or stale transition is a no-op
	result := s.db.WithContext(ctx).
		Model(&schema.Delivery{}).
		Where("id = ? AND status IN ?", id, froms).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update delivery status: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *pgStore) ListStuckDeliveries(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Delivery, error) {
	var rows []schema.Delivery
	err := s.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", string(domain.DeliveryStatusInProgress), cutoff).
		Order("started_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck deliveries: %w", err)
	}

	deliveries := make([]*domain.Delivery, len(rows))
	for i := range rows {
		deliveries[i] = deliveryToDomain(&rows[i])
	}
	return deliveries, nil
}

// =============================================================================
// Rate limits
// =============================================================================

func (s *pgStore) IncrementRateLimit(ctx context.Context, endpointID string, bucket time.Time, ceiling int) (int, bool, error) {
	row := schema.RateLimit{
		EndpointID: endpointID,
		Bucket:     bucket,
		Count:      1,
	}

	// single atomic upsert: insert the first count of the bucket or increment
	// the existing one, never read-then-write. The DO UPDATE is guarded on
	// count < ceiling so the stored count never exceeds the ceiling and
	// always equals the number of admitted events.
	result := s.db.WithContext(ctx).
		Clauses(
			clause.OnConflict{
				Columns: []clause.Column{{Name: "endpoint_id"}, {Name: "bucket"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"count": gorm.Expr("rate_limits.count + 1"),
				}),
				Where: clause.Where{Exprs: []clause.Expression{
					gorm.Expr("rate_limits.count < ?", ceiling),
				}},
			},
			clause.Returning{Columns: []clause.Column{{Name: "count"}}},
		).
		Create(&row)
	if result.Error != nil {
		return 0, false, fmt.Errorf("failed to increment rate limit: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// the guard held the counter at the ceiling
		return ceiling, false, nil
	}
	return row.Count, true, nil
}

func (s *pgStore) GetRateLimit(ctx context.Context, endpointID string, bucket time.Time) (*domain.RateLimit, error) {
	var row schema.RateLimit
	err := s.db.WithContext(ctx).
		Where("endpoint_id = ? AND bucket = ?", endpointID, bucket).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get rate limit: %w", err)
	}
	return &domain.RateLimit{EndpointID: row.EndpointID, Bucket: row.Bucket, Count: row.Count}, nil
}

func (s *pgStore) DeleteRateLimitsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("bucket < ?", cutoff).Delete(&schema.RateLimit{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete rate limits: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// =============================================================================
// Playground sessions
// =============================================================================

func (s *pgStore) CreatePlaygroundSession(ctx context.Context, session *domain.PlaygroundSession) error {
	if err := s.db.WithContext(ctx).Create(playgroundSessionToSchema(session)).Error; err != nil {
		return fmt.Errorf("failed to create playground session: %w", err)
	}
	return nil
}

func (s *pgStore) GetPlaygroundSessionByToken(ctx context.Context, token string) (*domain.PlaygroundSession, error) {
	var row schema.PlaygroundSession
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get playground session: %w", err)
	}
	return playgroundSessionToDomain(&row), nil
}

func (s *pgStore) ExpirePlaygroundSessions(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&schema.PlaygroundSession{}).
		Where("status = ? AND expires_at <= ?", string(domain.PlaygroundSessionActive), now).
		Update("status", string(domain.PlaygroundSessionExpired))
	if result.Error != nil {
		return 0, fmt.Errorf("failed to expire playground sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *pgStore) DeletePlaygroundSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// retire the throwaway endpoints backing the purged sessions
		purgedEndpointIDs := tx.Model(&schema.PlaygroundSession{}).
			Select("endpoint_id").
			Where("status = ? AND expires_at < ?", string(domain.PlaygroundSessionExpired), cutoff)

		now := time.Now().UTC()
		if err := tx.Model(&schema.Endpoint{}).
			Where("id IN (?) AND deleted_at IS NULL", purgedEndpointIDs).
			Updates(map[string]interface{}{
				"deleted_at": now,
				"updated_at": now,
			}).Error; err != nil {
			return fmt.Errorf("failed to retire playground endpoints: %w", err)
		}

		result := tx.
			Where("status = ? AND expires_at < ?", string(domain.PlaygroundSessionExpired), cutoff).
			Delete(&schema.PlaygroundSession{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete playground sessions: %w", result.Error)
		}
		removed = result.RowsAffected
		return nil
	})
	return removed, err
}

// =============================================================================
// Subscriptions
// =============================================================================

func (s *pgStore) GetSubscriptionByUser(ctx context.Context, userID string) (*domain.Subscription, error) {
	var row schema.Subscription
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return subscriptionToDomain(&row), nil
}
