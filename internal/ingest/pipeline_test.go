package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/internal/adapter"
	"github.com/hookline/hookline/internal/domain"
	"github.com/hookline/hookline/internal/mocks"
	"github.com/hookline/hookline/internal/registry"
	"github.com/hookline/hookline/internal/store"
)

// fakeStore implements the slice of the store the pipeline touches. The
// rate-limit counter honors the ceiling-guarded upsert contract.
type fakeStore struct {
	store.Store

	mu sync.Mutex

	endpoints     map[string]*domain.Endpoint
	subscriptions map[string]*domain.Subscription

	events     map[string]*domain.Event
	eventOrder []string

	deliveries map[string]*domain.Delivery

	buckets map[string]int

	createEventErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		endpoints:     make(map[string]*domain.Endpoint),
		subscriptions: make(map[string]*domain.Subscription),
		events:        make(map[string]*domain.Event),
		deliveries:    make(map[string]*domain.Delivery),
		buckets:       make(map[string]int),
	}
}

func (f *fakeStore) GetEndpointByID(_ context.Context, id string) (*domain.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpoints[id], nil
}

func (f *fakeStore) GetSubscriptionByUser(_ context.Context, userID string) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscriptions[userID], nil
}

func (f *fakeStore) IncrementRateLimit(_ context.Context, endpointID string, bucket time.Time, ceiling int) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := endpointID + bucket.Format(time.RFC3339)
	if f.buckets[key] >= ceiling {
		return ceiling, false, nil
	}
	f.buckets[key]++
	return f.buckets[key], true, nil
}

func (f *fakeStore) CreateEvent(_ context.Context, event *domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createEventErr != nil {
		return f.createEventErr
	}
	f.events[event.ID] = event
	f.eventOrder = append(f.eventOrder, event.ID)
	return nil
}

func (f *fakeStore) GetEventByID(_ context.Context, id string) (*domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[id], nil
}

func (f *fakeStore) CreateDeliveries(_ context.Context, deliveries []*domain.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range deliveries {
		copied := *d
		f.deliveries[d.ID] = &copied
	}
	return nil
}

func (f *fakeStore) UpdateDeliveryStatus(_ context.Context, id string, allowedFrom []domain.DeliveryStatus, to domain.DeliveryStatus, finishedAt *time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[id]
	if !ok {
		return false, nil
	}
	for _, from := range allowedFrom {
		if d.Status == from {
			d.Status = to
			d.FinishedAt = finishedAt
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) delivery(id string) *domain.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deliveries[id]
}

func (f *fakeStore) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func seedEndpoint(t *testing.T, fs *fakeStore, userID string) *domain.Endpoint {
	t.Helper()
	ep, err := domain.NewEndpoint(userID, "orders", time.Now().UTC())
	require.NoError(t, err)
	fs.endpoints[ep.ID] = ep
	return ep
}

// fakeBlocklist blocks fixed IDs
type fakeBlocklist struct {
	endpoints map[string]bool
	users     map[string]bool
}

func (f *fakeBlocklist) IsEndpointBlocked(id string) bool { return f.endpoints[id] }
func (f *fakeBlocklist) IsUserBlocked(id string) bool     { return f.users[id] }

// fakePublisher records published events
type fakePublisher struct {
	published chan *domain.Event
}

func (f *fakePublisher) PublishEvent(_ context.Context, event *domain.Event) error {
	f.published <- event
	return nil
}

func (f *fakePublisher) Close() {}

func inbound() Inbound {
	return Inbound{
		Method:  "POST",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    []byte(`{"order":42}`),
	}
}

func TestIngest_UnknownEndpoint(t *testing.T) {
	fs := newFakeStore()
	p := New(fs, registry.New(), nil, nil, adapter.NewClock())

	_, err := p.Ingest(context.Background(), "missing", inbound())
	assert.True(t, domain.IsNotFound(err))
	assert.Zero(t, fs.eventCount())
}

func TestIngest_SoftDeletedEndpoint(t *testing.T) {
	fs := newFakeStore()
	ep := seedEndpoint(t, fs, "user-1")
	ep.Delete(time.Now().UTC())
	p := New(fs, registry.New(), nil, nil, adapter.NewClock())

	_, err := p.Ingest(context.Background(), ep.ID, inbound())
	assert.True(t, domain.IsNotFound(err))
}

func TestIngest_BlockedEndpoint(t *testing.T) {
	fs := newFakeStore()
	ep := seedEndpoint(t, fs, "user-1")
	blocked := &fakeBlocklist{endpoints: map[string]bool{ep.ID: true}}
	p := New(fs, registry.New(), nil, blocked, adapter.NewClock())

	_, err := p.Ingest(context.Background(), ep.ID, inbound())
	assert.True(t, domain.IsNotFound(err))
	assert.Zero(t, fs.eventCount())
}

func TestIngest_NoConnections(t *testing.T) {
	fs := newFakeStore()
	ep := seedEndpoint(t, fs, "user-1")
	p := New(fs, registry.New(), nil, nil, adapter.NewClock())

	res, err := p.Ingest(context.Background(), ep.ID, inbound())
	require.NoError(t, err)

	// the event is stored and forwarded to nobody
	assert.Equal(t, 1, fs.eventCount())
	assert.Empty(t, res.Deliveries)
	assert.Equal(t, ep.ID, res.Event.EndpointID)
	assert.Equal(t, "POST", res.Event.Method)
}

func TestIngest_FanoutToLiveConnections(t *testing.T) {
	fs := newFakeStore()
	ep := seedEndpoint(t, fs, "user-1")
	reg := registry.New()
	now := time.Now().UTC()

	authed := registry.NewConnection(ep.ID, "user-1", 8, now)
	anon := registry.NewConnection(ep.ID, "", 8, now)
	require.NoError(t, reg.Register(authed, 10))
	require.NoError(t, reg.Register(anon, 10))

	p := New(fs, reg, nil, nil, adapter.NewClock())
	res, err := p.Ingest(context.Background(), ep.ID, inbound())
	require.NoError(t, err)

	require.Len(t, res.Deliveries, 2)
	for _, d := range res.Deliveries {
		assert.Equal(t, domain.DeliveryStatusInProgress, d.Status)
		assert.Equal(t, domain.AttemptTypeInitial, d.AttemptType)
		assert.Equal(t, res.Event.ID, d.EventID)

		persisted := fs.delivery(d.ID)
		require.NotNil(t, persisted)
		assert.Equal(t, domain.DeliveryStatusInProgress, persisted.Status)
	}

	// each connection received exactly the event it must acknowledge
	for _, conn := range []*registry.Connection{authed, anon} {
		select {
		case frame := <-conn.Frames():
			assert.Equal(t, res.Event.ID, frame.Event.ID)
			assert.NotEmpty(t, frame.DeliveryID)
		default:
			t.Fatalf("connection %s received no frame", conn.ID)
		}
	}
}

func TestIngest_FullQueueFailsDelivery(t *testing.T) {
	fs := newFakeStore()
	ep := seedEndpoint(t, fs, "user-1")
	reg := registry.New()

	conn := registry.NewConnection(ep.ID, "", 1, time.Now().UTC())
	require.NoError(t, reg.Register(conn, 10))

	p := New(fs, reg, nil, nil, adapter.NewClock())

	// first event fills the queue of one
	_, err := p.Ingest(context.Background(), ep.ID, inbound())
	require.NoError(t, err)

	// second push finds the queue full; its delivery fails instead of blocking
	res, err := p.Ingest(context.Background(), ep.ID, inbound())
	require.NoError(t, err)
	require.Len(t, res.Deliveries, 1)
	assert.Equal(t, domain.DeliveryStatusFailed, res.Deliveries[0].Status)

	persisted := fs.delivery(res.Deliveries[0].ID)
	assert.Equal(t, domain.DeliveryStatusFailed, persisted.Status)
	require.NotNil(t, persisted.FinishedAt)
}

func TestIngest_RateLimited(t *testing.T) {
	fs := newFakeStore()
	ep := seedEndpoint(t, fs, "user-1")
	// free tier: 100 events per hour
	p := New(fs, registry.New(), nil, nil, adapter.NewClock())

	ceiling := domain.TierFree.Limits().RateLimitPerHour
	for i := 0; i < ceiling; i++ {
		_, err := p.Ingest(context.Background(), ep.ID, inbound())
		require.NoError(t, err)
	}

	_, err := p.Ingest(context.Background(), ep.ID, inbound())
	require.Error(t, err)
	assert.Equal(t, domain.KindRateLimited, domain.KindOf(err))

	rle, ok := err.(*domain.RateLimitError)
	require.True(t, ok)
	assert.Equal(t, ceiling, rle.Limit)
	assert.Equal(t, ceiling, rle.Current)
	assert.Zero(t, rle.Remaining())
	assert.True(t, rle.ResetAt.After(time.Now().UTC()))

	// the rejected event left no partial state: exactly ceiling events stored
	assert.Equal(t, ceiling, fs.eventCount())
}

func TestIngest_TierCeilingFromSubscription(t *testing.T) {
	fs := newFakeStore()
	ep := seedEndpoint(t, fs, "user-1")
	fs.subscriptions["user-1"] = &domain.Subscription{
		ID:     "sub-1",
		UserID: "user-1",
		Tier:   domain.TierPro,
	}
	p := New(fs, registry.New(), nil, nil, adapter.NewClock())

	// the pro ceiling admits more than the free one
	for i := 0; i < domain.TierFree.Limits().RateLimitPerHour+1; i++ {
		_, err := p.Ingest(context.Background(), ep.ID, inbound())
		require.NoError(t, err)
	}
}

func TestIngest_MirrorsAdmittedEvents(t *testing.T) {
	fs := newFakeStore()
	ep := seedEndpoint(t, fs, "user-1")
	pub := &fakePublisher{published: make(chan *domain.Event, 1)}
	p := New(fs, registry.New(), pub, nil, adapter.NewClock())

	res, err := p.Ingest(context.Background(), ep.ID, inbound())
	require.NoError(t, err)

	select {
	case mirrored := <-pub.published:
		assert.Equal(t, res.Event.ID, mirrored.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not mirrored")
	}
}

func TestIngest_MirrorRetriesTransientPublishFailure(t *testing.T) {
	fs := newFakeStore()
	ep := seedEndpoint(t, fs, "user-1")

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	pub := mocks.NewMockPublisher(ctrl)

	calls := make(chan struct{}, 2)
	gomock.InOrder(
		pub.EXPECT().PublishEvent(gomock.Any(), gomock.Any()).DoAndReturn(
			func(context.Context, *domain.Event) error {
				calls <- struct{}{}
				return errors.New("broker unavailable")
			}),
		pub.EXPECT().PublishEvent(gomock.Any(), gomock.Any()).DoAndReturn(
			func(context.Context, *domain.Event) error {
				calls <- struct{}{}
				return nil
			}),
	)

	p := New(fs, registry.New(), pub, nil, adapter.NewClock())

	// admission must not wait for the broker
	_, err := p.Ingest(context.Background(), ep.ID, inbound())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatal("mirror publish was not retried")
		}
	}
}

func TestIngest_EventOrderPerEndpoint(t *testing.T) {
	fs := newFakeStore()
	ep := seedEndpoint(t, fs, "user-1")
	p := New(fs, registry.New(), nil, nil, adapter.NewClock())

	for i := 0; i < 5; i++ {
		_, err := p.Ingest(context.Background(), ep.ID, inbound())
		require.NoError(t, err)
	}

	// ULID event IDs sort in admission order
	for i := 1; i < len(fs.eventOrder); i++ {
		assert.Less(t, fs.eventOrder[i-1], fs.eventOrder[i])
	}
}

func TestReplay(t *testing.T) {
	fs := newFakeStore()
	ep := seedEndpoint(t, fs, "user-1")
	reg := registry.New()
	p := New(fs, reg, nil, nil, adapter.NewClock())

	// ingest with nobody listening
	res, err := p.Ingest(context.Background(), ep.ID, inbound())
	require.NoError(t, err)
	require.Empty(t, res.Deliveries)

	// a client connects and replays the missed event
	conn := registry.NewConnection(ep.ID, "user-1", 8, time.Now().UTC())
	require.NoError(t, reg.Register(conn, 10))

	replayed, err := p.Replay(context.Background(), res.Event.ID)
	require.NoError(t, err)
	require.Len(t, replayed.Deliveries, 1)
	assert.Equal(t, domain.AttemptTypeReplay, replayed.Deliveries[0].AttemptType)
	assert.Equal(t, domain.DeliveryStatusInProgress, replayed.Deliveries[0].Status)

	select {
	case frame := <-conn.Frames():
		assert.Equal(t, res.Event.ID, frame.Event.ID)
	default:
		t.Fatal("replay pushed no frame")
	}
}

func TestReplay_UnknownEvent(t *testing.T) {
	fs := newFakeStore()
	p := New(fs, registry.New(), nil, nil, adapter.NewClock())

	_, err := p.Replay(context.Background(), "missing")
	assert.True(t, domain.IsNotFound(err))
}
