package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hookline/hookline/internal/domain"
	"github.com/hookline/hookline/internal/store/schema"
)

var (
	testDB      *gorm.DB
	pgContainer *postgres.PostgresContainer
)

// TestMain sets up the test database before running tests
func TestMain(m *testing.M) {
	ctx := context.Background()

	// Check if we should use an external database (for CI or local development)
	dbHost := os.Getenv("TEST_DB_HOST")
	dbPort := os.Getenv("TEST_DB_PORT")
	dbUser := os.Getenv("TEST_DB_USER")
	dbPassword := os.Getenv("TEST_DB_PASSWORD")
	dbName := os.Getenv("TEST_DB_NAME")

	var dsn string
	var err error

	if dbHost != "" {
		// Use external database
		if dbPort == "" {
			dbPort = "5432"
		}
		if dbUser == "" {
			dbUser = "postgres"
		}
		if dbPassword == "" {
			dbPassword = "postgres"
		}
		if dbName == "" {
			dbName = "test_db"
		}

		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			dbHost, dbPort, dbUser, dbPassword, dbName)

		fmt.Printf("Using external database: %s:%s/%s\n", dbHost, dbPort, dbName)
	} else {
		// Start a PostgreSQL container for testing
		pgContainer, err = postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("test_db"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			fmt.Printf("Failed to start PostgreSQL container: %v\n", err)
			os.Exit(1)
		}

		dsn, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Printf("Failed to get connection string: %v\n", err)
			terminateContainer(ctx)
			os.Exit(1)
		}

		fmt.Printf("Started PostgreSQL container\n")
	}

	// Connect to the database
	testDB, err = gorm.Open(pgdriver.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		terminateContainer(ctx)
		os.Exit(1)
	}

	if err := AutoMigrate(testDB); err != nil {
		fmt.Printf("Failed to migrate database: %v\n", err)
		terminateContainer(ctx)
		os.Exit(1)
	}

	code := m.Run()

	terminateContainer(ctx)
	os.Exit(code)
}

func terminateContainer(ctx context.Context) {
	if pgContainer != nil {
		if err := pgContainer.Terminate(ctx); err != nil {
			fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
		}
	}
}

// truncateAll wipes relay tables between tests
func truncateAll(t *testing.T) {
	t.Helper()
	for _, table := range []string{
		"deliveries", "events", "rate_limits", "playground_sessions",
		"destinations", "endpoints", "subscriptions",
	} {
		require.NoError(t, testDB.Exec("TRUNCATE TABLE "+table+" CASCADE").Error)
	}
}

func seedEndpoint(t *testing.T, s Store, userID, name string) *domain.Endpoint {
	t.Helper()
	ep, err := domain.NewEndpoint(userID, name, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, s.CreateEndpoint(context.Background(), ep))
	return ep
}

func seedEvent(t *testing.T, s Store, endpointID string, at time.Time) *domain.Event {
	t.Helper()
	evt, err := domain.NewEvent(endpointID, "POST", map[string]string{"X-Test": "1"}, []byte(`{}`), at)
	require.NoError(t, err)
	require.NoError(t, s.CreateEvent(context.Background(), evt))
	return evt
}

func TestPGStore_EndpointLifecycle(t *testing.T) {
	truncateAll(t)
	ctx := context.Background()
	s := NewPGStore(testDB)

	ep := seedEndpoint(t, s, "user-1", "orders")

	got, err := s.GetEndpointByID(ctx, ep.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "orders", got.Name)
	assert.False(t, got.IsDeleted())

	// absent lookups return nil, nil
	got, err = s.GetEndpointByID(ctx, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Nil(t, got)

	// duplicate name for the same user conflicts
	dup, err := domain.NewEndpoint("user-1", "orders", time.Now().UTC())
	require.NoError(t, err)
	err = s.CreateEndpoint(ctx, dup)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	// soft delete round trip
	ep.Delete(time.Now().UTC())
	ok, err := s.UpdateEndpoint(ctx, ep)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = s.GetEndpointByID(ctx, ep.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted())

	count, err := s.CountEndpointsByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	// updating a missing row signals not-found
	ghost, err := domain.NewEndpoint("user-1", "ghost", time.Now().UTC())
	require.NoError(t, err)
	ok, err = s.UpdateEndpoint(ctx, ghost)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPGStore_IncrementRateLimit_Sequential(t *testing.T) {
	truncateAll(t)
	ctx := context.Background()
	s := NewPGStore(testDB)
	bucket := domain.HourBucket(time.Now())

	for i := 1; i <= 5; i++ {
		count, admitted, err := s.IncrementRateLimit(ctx, "ep-1", bucket, 5)
		require.NoError(t, err)
		assert.True(t, admitted)
		assert.Equal(t, i, count)
	}

	// the sixth hits the ceiling; the counter stays at exactly the number
	// of admitted events
	count, admitted, err := s.IncrementRateLimit(ctx, "ep-1", bucket, 5)
	require.NoError(t, err)
	assert.False(t, admitted)
	assert.Equal(t, 5, count)

	// a different bucket counts independently
	count, admitted, err = s.IncrementRateLimit(ctx, "ep-1", bucket.Add(time.Hour), 5)
	require.NoError(t, err)
	assert.True(t, admitted)
	assert.Equal(t, 1, count)

	rl, err := s.GetRateLimit(ctx, "ep-1", bucket)
	require.NoError(t, err)
	require.NotNil(t, rl)
	assert.Equal(t, 5, rl.Count)
}

func TestPGStore_IncrementRateLimit_Concurrent(t *testing.T) {
	truncateAll(t)
	ctx := context.Background()
	s := NewPGStore(testDB)
	bucket := domain.HourBucket(time.Now())

	const (
		n       = 50
		ceiling = 30
	)
	var admittedCount atomic.Int32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, admitted, err := s.IncrementRateLimit(ctx, "ep-1", bucket, ceiling)
			assert.NoError(t, err)
			if admitted {
				admittedCount.Add(1)
			}
		}()
	}
	wg.Wait()

	// exactly ceiling of the n racing increments win; the stored count
	// matches the number of admitted events with no over/under count
	assert.EqualValues(t, ceiling, admittedCount.Load())

	rl, err := s.GetRateLimit(ctx, "ep-1", bucket)
	require.NoError(t, err)
	require.NotNil(t, rl)
	assert.Equal(t, ceiling, rl.Count)
}

func TestPGStore_DeleteRateLimitsBefore(t *testing.T) {
	truncateAll(t)
	ctx := context.Background()
	s := NewPGStore(testDB)

	old := domain.HourBucket(time.Now().Add(-48 * time.Hour))
	current := domain.HourBucket(time.Now())

	_, _, err := s.IncrementRateLimit(ctx, "ep-1", old, 100)
	require.NoError(t, err)
	_, _, err = s.IncrementRateLimit(ctx, "ep-1", current, 100)
	require.NoError(t, err)

	removed, err := s.DeleteRateLimitsBefore(ctx, domain.HourBucket(time.Now().Add(-24*time.Hour)))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	// idempotent: running again removes nothing
	removed, err = s.DeleteRateLimitsBefore(ctx, domain.HourBucket(time.Now().Add(-24*time.Hour)))
	require.NoError(t, err)
	assert.EqualValues(t, 0, removed)
}

func TestPGStore_UpdateDeliveryStatus_Conditional(t *testing.T) {
	truncateAll(t)
	ctx := context.Background()
	s := NewPGStore(testDB)
	now := time.Now().UTC()

	ep := seedEndpoint(t, s, "user-1", "orders")
	evt := seedEvent(t, s, ep.ID, now)

	d, err := domain.NewDelivery(evt.ID, "conn-1", domain.AttemptTypeInitial, now)
	require.NoError(t, err)
	require.NoError(t, s.CreateDeliveries(ctx, []*domain.Delivery{d}))

	// pending -> in_progress
	ok, err := s.UpdateDeliveryStatus(ctx, d.ID,
		[]domain.DeliveryStatus{domain.DeliveryStatusPending},
		domain.DeliveryStatusInProgress, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	// in_progress -> success
	finished := now.Add(time.Second)
	ok, err = s.UpdateDeliveryStatus(ctx, d.ID,
		[]domain.DeliveryStatus{domain.DeliveryStatusInProgress},
		domain.DeliveryStatusSuccess, &finished)
	require.NoError(t, err)
	assert.True(t, ok)

	// a stale transition finds its precondition gone and affects no row
	ok, err = s.UpdateDeliveryStatus(ctx, d.ID,
		[]domain.DeliveryStatus{domain.DeliveryStatusInProgress},
		domain.DeliveryStatusTimeout, &finished)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetDeliveryByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusSuccess, got.Status)
	require.NotNil(t, got.FinishedAt)
}

func TestPGStore_ListStuckDeliveries(t *testing.T) {
	truncateAll(t)
	ctx := context.Background()
	s := NewPGStore(testDB)
	now := time.Now().UTC()

	ep := seedEndpoint(t, s, "user-1", "orders")
	evt := seedEvent(t, s, ep.ID, now)

	mkDelivery := func(startedAt time.Time, status domain.DeliveryStatus) *domain.Delivery {
		d, err := domain.NewDelivery(evt.ID, "conn-1", domain.AttemptTypeInitial, startedAt)
		require.NoError(t, err)
		d.Status = status
		require.NoError(t, s.CreateDeliveries(ctx, []*domain.Delivery{d}))
		return d
	}

	stuck := mkDelivery(now.Add(-90*time.Second), domain.DeliveryStatusInProgress)
	mkDelivery(now.Add(-10*time.Second), domain.DeliveryStatusInProgress) // fresh
	mkDelivery(now.Add(-90*time.Second), domain.DeliveryStatusSuccess)    // terminal

	found, err := s.ListStuckDeliveries(ctx, now.Add(-60*time.Second), 50)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, stuck.ID, found[0].ID)
}

func TestPGStore_DeleteEventsBefore_Cascades(t *testing.T) {
	truncateAll(t)
	ctx := context.Background()
	s := NewPGStore(testDB)
	now := time.Now().UTC()

	ep := seedEndpoint(t, s, "user-1", "orders")
	oldEvt := seedEvent(t, s, ep.ID, now.Add(-10*24*time.Hour))
	newEvt := seedEvent(t, s, ep.ID, now)

	d, err := domain.NewDelivery(oldEvt.ID, "conn-1", domain.AttemptTypeInitial, now.Add(-10*24*time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.CreateDeliveries(ctx, []*domain.Delivery{d}))

	removed, err := s.DeleteEventsBefore(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	// event and its deliveries are gone; fresh event survives
	got, err := s.GetEventByID(ctx, oldEvt.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	gotDelivery, err := s.GetDeliveryByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Nil(t, gotDelivery)

	got, err = s.GetEventByID(ctx, newEvt.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	// deleting an already-deleted window is a no-op, not a failure
	removed, err = s.DeleteEventsBefore(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 0, removed)
}

func TestPGStore_ListEventsByEndpoint_Order(t *testing.T) {
	truncateAll(t)
	ctx := context.Background()
	s := NewPGStore(testDB)
	now := time.Now().UTC()

	ep := seedEndpoint(t, s, "user-1", "orders")
	first := seedEvent(t, s, ep.ID, now)
	second := seedEvent(t, s, ep.ID, now.Add(5*time.Millisecond))
	third := seedEvent(t, s, ep.ID, now.Add(10*time.Millisecond))

	events, err := s.ListEventsByEndpoint(ctx, ep.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, third.ID, events[0].ID)
	assert.Equal(t, second.ID, events[1].ID)
	assert.Equal(t, first.ID, events[2].ID)
}

func TestPGStore_PlaygroundSessions(t *testing.T) {
	truncateAll(t)
	ctx := context.Background()
	s := NewPGStore(testDB)
	now := time.Now().UTC()

	liveEP := seedEndpoint(t, s, "playground", "pg-live")
	lapsedEP := seedEndpoint(t, s, "playground", "pg-lapsed")

	live, err := domain.NewPlaygroundSession(liveEP.ID, time.Hour, now)
	require.NoError(t, err)
	lapsed, err := domain.NewPlaygroundSession(lapsedEP.ID, time.Minute, now.Add(-2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.CreatePlaygroundSession(ctx, live))
	require.NoError(t, s.CreatePlaygroundSession(ctx, lapsed))

	got, err := s.GetPlaygroundSessionByToken(ctx, live.Token)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, live.ID, got.ID)

	expired, err := s.ExpirePlaygroundSessions(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, expired)

	// idempotent
	expired, err = s.ExpirePlaygroundSessions(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 0, expired)

	removed, err := s.DeletePlaygroundSessionsBefore(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	got, err = s.GetPlaygroundSessionByToken(ctx, lapsed.Token)
	require.NoError(t, err)
	assert.Nil(t, got)

	// the purge retires the throwaway endpoint backing the lapsed session
	retired, err := s.GetEndpointByID(ctx, lapsedEP.ID)
	require.NoError(t, err)
	require.NotNil(t, retired)
	assert.True(t, retired.IsDeleted())

	kept, err := s.GetEndpointByID(ctx, liveEP.ID)
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.False(t, kept.IsDeleted())
}

func TestPGStore_Subscriptions(t *testing.T) {
	truncateAll(t)
	ctx := context.Background()
	s := NewPGStore(testDB)

	require.NoError(t, testDB.Create(&schema.Subscription{
		ID:     "sub-1",
		UserID: "user-1",
		Tier:   string(domain.TierPro),
	}).Error)

	sub, err := s.GetSubscriptionByUser(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, domain.TierPro, sub.Tier)

	// users without a billing record have no row; the caller defaults the tier
	sub, err = s.GetSubscriptionByUser(ctx, "user-2")
	require.NoError(t, err)
	assert.Nil(t, sub)
}
