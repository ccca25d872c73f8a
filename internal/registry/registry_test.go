package registry_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/internal/domain"
	"github.com/hookline/hookline/internal/registry"
)

func newConn(t *testing.T, endpointID, userID string) *registry.Connection {
	t.Helper()
	return registry.NewConnection(endpointID, userID, 4, time.Now())
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	r := registry.New()

	c1 := newConn(t, "ep-1", "user-1")
	c2 := newConn(t, "ep-1", "")

	require.NoError(t, r.Register(c1, 2))
	require.NoError(t, r.Register(c2, 2))
	assert.Equal(t, 2, r.ConnectionCount("ep-1"))

	// cap reached
	c3 := newConn(t, "ep-1", "")
	err := r.Register(c3, 2)
	assert.Equal(t, domain.KindLimitExceeded, domain.KindOf(err))

	// other endpoints are unaffected
	other := newConn(t, "ep-2", "")
	require.NoError(t, r.Register(other, 2))

	assert.True(t, r.Unregister("ep-1", c1.ID))
	assert.Equal(t, 1, r.ConnectionCount("ep-1"))

	// unregistering twice reports absence
	assert.False(t, r.Unregister("ep-1", c1.ID))

	// last connection removes the bucket entirely
	assert.True(t, r.Unregister("ep-1", c2.ID))
	assert.Equal(t, 0, r.ConnectionCount("ep-1"))
}

func TestRegistry_RegisterRace(t *testing.T) {
	r := registry.New()
	const attempts = 32
	const maxConns = 5

	var succeeded, limited atomic.Int32
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			conn := registry.NewConnection("ep-1", "", 4, time.Now())
			switch err := r.Register(conn, maxConns); {
			case err == nil:
				succeeded.Add(1)
			case domain.IsKind(err, domain.KindLimitExceeded):
				limited.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// only maxConns of the racing registrations get past the limit
	assert.EqualValues(t, maxConns, succeeded.Load())
	assert.EqualValues(t, attempts-maxConns, limited.Load())
	assert.Equal(t, maxConns, r.ConnectionCount("ep-1"))
}

func TestRegistry_BroadcastToEndpoint(t *testing.T) {
	r := registry.New()
	c1 := newConn(t, "ep-1", "user-1")
	c2 := newConn(t, "ep-1", "")
	require.NoError(t, r.Register(c1, 10))
	require.NoError(t, r.Register(c2, 10))

	frame := registry.Frame{DeliveryID: "d-1"}
	delivered, dropped := r.BroadcastToEndpoint("ep-1", frame)
	assert.Len(t, delivered, 2)
	assert.Empty(t, dropped)

	got := <-c1.Frames()
	assert.Equal(t, "d-1", got.DeliveryID)
	got = <-c2.Frames()
	assert.Equal(t, "d-1", got.DeliveryID)
}

func TestRegistry_Broadcast_SlowConsumerDropped(t *testing.T) {
	r := registry.New()
	slow := registry.NewConnection("ep-1", "", 1, time.Now())
	require.NoError(t, r.Register(slow, 10))

	// fill the bounded queue; the next offer must drop, not block
	_, dropped := r.BroadcastToEndpoint("ep-1", registry.Frame{DeliveryID: "d-1"})
	assert.Empty(t, dropped)
	_, dropped = r.BroadcastToEndpoint("ep-1", registry.Frame{DeliveryID: "d-2"})
	assert.Equal(t, []string{slow.ID}, dropped)
}

func TestRegistry_SendToOne(t *testing.T) {
	r := registry.New()
	c1 := newConn(t, "ep-1", "")
	require.NoError(t, r.Register(c1, 10))

	require.NoError(t, r.SendToOne("ep-1", c1.ID, registry.Frame{DeliveryID: "d-1"}))
	got := <-c1.Frames()
	assert.Equal(t, "d-1", got.DeliveryID)

	err := r.SendToOne("ep-1", "missing", registry.Frame{})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	err = r.SendToOne("ep-2", c1.ID, registry.Frame{})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestRegistry_FindAuthenticatedConnection(t *testing.T) {
	r := registry.New()

	anon := newConn(t, "ep-1", "")
	require.NoError(t, r.Register(anon, 10))
	assert.Nil(t, r.FindAuthenticatedConnection("ep-1"))

	authed := newConn(t, "ep-1", "user-1")
	require.NoError(t, r.Register(authed, 10))
	found := r.FindAuthenticatedConnection("ep-1")
	require.NotNil(t, found)
	assert.Equal(t, authed.ID, found.ID)
}

func TestRegistry_UnregisterClosesFrames(t *testing.T) {
	r := registry.New()
	c1 := newConn(t, "ep-1", "")
	require.NoError(t, r.Register(c1, 10))
	require.True(t, r.Unregister("ep-1", c1.ID))

	_, open := <-c1.Frames()
	assert.False(t, open)
}

func TestConnection_PushAckBounded(t *testing.T) {
	c := registry.NewConnection("ep-1", "", 2, time.Now())
	assert.True(t, c.PushAck(registry.Ack{DeliveryID: "d-1"}))
	assert.True(t, c.PushAck(registry.Ack{DeliveryID: "d-2"}))
	// queue full: the ack is dropped rather than blocking the transport
	assert.False(t, c.PushAck(registry.Ack{DeliveryID: "d-3"}))
}

func TestSessionStateMachine(t *testing.T) {
	tests := []struct {
		from, to registry.SessionState
		allowed  bool
	}{
		{registry.SessionConnecting, registry.SessionConnected, true},
		{registry.SessionConnecting, registry.SessionDisconnected, true},
		{registry.SessionConnecting, registry.SessionFailed, true},
		{registry.SessionConnected, registry.SessionDisconnected, true},
		{registry.SessionConnected, registry.SessionStopped, true},
		{registry.SessionDisconnected, registry.SessionReconnecting, true},
		{registry.SessionDisconnected, registry.SessionStopped, true},
		{registry.SessionDisconnected, registry.SessionFailed, true},
		{registry.SessionReconnecting, registry.SessionConnected, true},
		{registry.SessionReconnecting, registry.SessionFailed, true},
		{registry.SessionConnecting, registry.SessionStopped, false},
		{registry.SessionStopped, registry.SessionConnected, false},
		{registry.SessionFailed, registry.SessionReconnecting, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, registry.CanTransitionSession(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}

	assert.True(t, registry.SessionStopped.IsTerminal())
	assert.True(t, registry.SessionFailed.IsTerminal())
	assert.False(t, registry.SessionConnected.IsTerminal())
}

func TestConnection_TransitionState(t *testing.T) {
	c := registry.NewConnection("ep-1", "", 4, time.Now())
	assert.Equal(t, registry.SessionConnecting, c.State())

	require.NoError(t, c.TransitionState(registry.SessionConnected))
	require.NoError(t, c.TransitionState(registry.SessionDisconnected))
	require.NoError(t, c.TransitionState(registry.SessionStopped))

	err := c.TransitionState(registry.SessionConnected)
	require.Error(t, err)
	assert.Equal(t, registry.SessionStopped, c.State())
}

func TestRegistry_Each(t *testing.T) {
	r := registry.New()
	for _, ep := range []string{"ep-1", "ep-2", "ep-3"} {
		require.NoError(t, r.Register(newConn(t, ep, ""), 10))
	}

	var visited int
	r.Each(func(*registry.Connection) { visited++ })
	assert.Equal(t, 3, visited)
}
