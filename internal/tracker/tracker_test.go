package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/internal/adapter"
	"github.com/hookline/hookline/internal/domain"
	"github.com/hookline/hookline/internal/registry"
	"github.com/hookline/hookline/internal/store"
)

type fakeStore struct {
	store.Store

	mu      sync.Mutex
	updates []settle
	applied bool
	err     error
}

type settle struct {
	id          string
	allowedFrom []domain.DeliveryStatus
	to          domain.DeliveryStatus
	finishedAt  *time.Time
}

func (f *fakeStore) UpdateDeliveryStatus(_ context.Context, id string, allowedFrom []domain.DeliveryStatus, to domain.DeliveryStatus, finishedAt *time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, settle{id: id, allowedFrom: allowedFrom, to: to, finishedAt: finishedAt})
	return f.applied, f.err
}

func (f *fakeStore) settled() []settle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]settle(nil), f.updates...)
}

func TestHandleAckSuccess(t *testing.T) {
	fs := &fakeStore{applied: true}
	tr := New(fs, registry.New(), adapter.NewClock())

	err := tr.HandleAck(context.Background(), registry.Ack{
		ConnectionID: "conn-1",
		DeliveryID:   "d1",
		OK:           true,
	})
	require.NoError(t, err)

	updates := fs.settled()
	require.Len(t, updates, 1)
	assert.Equal(t, "d1", updates[0].id)
	assert.Equal(t, []domain.DeliveryStatus{domain.DeliveryStatusInProgress}, updates[0].allowedFrom)
	assert.Equal(t, domain.DeliveryStatusSuccess, updates[0].to)
	require.NotNil(t, updates[0].finishedAt)
	assert.WithinDuration(t, time.Now(), *updates[0].finishedAt, 5*time.Second)
}

func TestHandleAckFailure(t *testing.T) {
	fs := &fakeStore{applied: true}
	tr := New(fs, registry.New(), adapter.NewClock())

	err := tr.HandleAck(context.Background(), registry.Ack{
		DeliveryID: "d2",
		OK:         false,
		Reason:     "consumer rejected payload",
	})
	require.NoError(t, err)

	updates := fs.settled()
	require.Len(t, updates, 1)
	assert.Equal(t, domain.DeliveryStatusFailed, updates[0].to)
}

func TestHandleAckStaleIsDropped(t *testing.T) {
	// the timeout sweep already settled the delivery: no error, no retry
	fs := &fakeStore{applied: false}
	tr := New(fs, registry.New(), adapter.NewClock())

	err := tr.HandleAck(context.Background(), registry.Ack{DeliveryID: "d3", OK: true})
	require.NoError(t, err)
	require.Len(t, fs.settled(), 1)
}

func TestHandleAckStoreError(t *testing.T) {
	fs := &fakeStore{err: errors.New("db down")}
	tr := New(fs, registry.New(), adapter.NewClock())

	err := tr.HandleAck(context.Background(), registry.Ack{DeliveryID: "d4", OK: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestWatchDrainsAcks(t *testing.T) {
	fs := &fakeStore{applied: true}
	reg := registry.New()
	tr := New(fs, reg, adapter.NewClock())

	conn := registry.NewConnection("ep-1", "user-1", 8, time.Now())
	require.NoError(t, reg.Register(conn, 10))

	ctx, cancel := context.WithCancel(context.Background())
	tr.Watch(ctx, conn)

	require.True(t, conn.PushAck(registry.Ack{ConnectionID: conn.ID, DeliveryID: "d1", OK: true}))
	require.True(t, conn.PushAck(registry.Ack{ConnectionID: conn.ID, DeliveryID: "d2", OK: false}))

	assert.Eventually(t, func() bool { return len(fs.settled()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	tr.Wait()

	updates := fs.settled()
	assert.Equal(t, domain.DeliveryStatusSuccess, updates[0].to)
	assert.Equal(t, domain.DeliveryStatusFailed, updates[1].to)
}

func TestHandleDisconnectFreesSlotAndLeavesDeliveries(t *testing.T) {
	fs := &fakeStore{applied: true}
	reg := registry.New()
	tr := New(fs, reg, adapter.NewClock())

	conn := registry.NewConnection("ep-1", "user-1", 8, time.Now())
	require.NoError(t, reg.Register(conn, 1))
	require.NoError(t, conn.TransitionState(registry.SessionConnected))

	tr.HandleDisconnect(context.Background(), conn)

	assert.Equal(t, 0, reg.ConnectionCount("ep-1"))
	assert.Equal(t, registry.SessionDisconnected, conn.State())
	// in-flight deliveries are left for the timeout sweep
	assert.Empty(t, fs.settled())

	// the freed slot is immediately reusable
	next := registry.NewConnection("ep-1", "user-1", 8, time.Now())
	require.NoError(t, reg.Register(next, 1))
}
