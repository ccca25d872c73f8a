package registry

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hookline/hookline/internal/domain"
)

const (
	// shardCount fixes the number of independently locked buckets so that
	// contention on one endpoint never blocks operations on another
	shardCount = 32

	// DefaultQueueSize bounds a connection's outbound and ack queues
	DefaultQueueSize = 64
)

// Frame is one outbound push to a forwarding session: the event payload plus
// the delivery the session must acknowledge.
type Frame struct {
	DeliveryID string        `json:"delivery_id"`
	Event      *domain.Event `json:"event"`
}

// Ack is the session's answer to a frame, written by the transport layer and
// drained by the delivery tracker.
type Ack struct {
	ConnectionID string `json:"connection_id"`
	DeliveryID   string `json:"delivery_id"`
	OK           bool   `json:"ok"`
	Reason       string `json:"reason,omitempty"`
}

// Connection is one live forwarding session. It belongs to exactly one
// endpoint and is owned exclusively by the registry. The outbound queue is
// bounded: a slow or dead consumer drops frames instead of stalling
// ingestion.
type Connection struct {
	ID         string
	EndpointID string
	// UserID is empty for anonymous (playground) sessions
	UserID string

	send      chan Frame
	acks      chan Ack
	closeOnce sync.Once

	mu            sync.Mutex
	state         SessionState
	lastHeartbeat time.Time
}

// NewConnection creates a session in the Connecting state
func NewConnection(endpointID, userID string, queueSize int, now time.Time) *Connection {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Connection{
		ID:            uuid.NewString(),
		EndpointID:    endpointID,
		UserID:        userID,
		send:          make(chan Frame, queueSize),
		acks:          make(chan Ack, queueSize),
		state:         SessionConnecting,
		lastHeartbeat: now,
	}
}

// Frames returns the outbound queue for the transport's send loop to drain
func (c *Connection) Frames() <-chan Frame {
	return c.send
}

// Acks returns the inbound acknowledgement queue for the tracker to drain
func (c *Connection) Acks() <-chan Ack {
	return c.acks
}

// PushAck enqueues an acknowledgement from the transport. Returns false when
// the queue is full; the ack is dropped and the delivery is left for the
// timeout sweep.
func (c *Connection) PushAck(ack Ack) bool {
	select {
	case c.acks <- ack:
		return true
	default:
		return false
	}
}

// enqueue offers a frame to the outbound queue without blocking
func (c *Connection) enqueue(frame Frame) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// State returns the current session state
func (c *Connection) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TransitionState applies a session state change, enforcing the session
// machine. Invalid transitions report an error and leave the state untouched.
func (c *Connection) TransitionState(to SessionState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !CanTransitionSession(c.state, to) {
		return domain.NewConflictError("session transition %s -> %s is not permitted", c.state, to)
	}
	c.state = to
	return nil
}

// Heartbeat records liveness at the given time
func (c *Connection) Heartbeat(now time.Time) {
	c.mu.Lock()
	c.lastHeartbeat = now
	c.mu.Unlock()
}

// LastHeartbeat returns the most recent liveness timestamp
func (c *Connection) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// close shuts the outbound queue so the transport's send loop terminates
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

type shard struct {
	mu sync.RWMutex
	// endpoint ID -> connection ID -> connection
	buckets map[string]map[string]*Connection
}

// Registry is the concurrent in-memory directory of live forwarding
// sessions per endpoint. State is sharded by endpoint identity so
// cross-endpoint operations never contend.
type Registry struct {
	shards [shardCount]*shard
}

// New creates an empty registry
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{buckets: make(map[string]map[string]*Connection)}
	}
	return r
}

func (r *Registry) shardFor(endpointID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(endpointID))
	return r.shards[h.Sum32()%shardCount]
}

// Register adds a connection under its endpoint's bucket. The cap check and
// the insert happen under one lock, so no two concurrent registrations can
// both slip past the limit.
func (r *Registry) Register(conn *Connection, maxConnections int) error {
	s := r.shardFor(conn.EndpointID)
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.buckets[conn.EndpointID]
	if len(bucket) >= maxConnections {
		return domain.NewLimitExceededError("endpoint %s already has %d of %d connections",
			conn.EndpointID, len(bucket), maxConnections)
	}
	if bucket == nil {
		bucket = make(map[string]*Connection)
		s.buckets[conn.EndpointID] = bucket
	}
	bucket[conn.ID] = conn
	return nil
}

// Unregister removes a connection and closes its outbound queue. The last
// connection removes the endpoint's bucket entry entirely. Reports whether
// the connection was present.
func (r *Registry) Unregister(endpointID, connectionID string) bool {
	s := r.shardFor(endpointID)
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.buckets[endpointID]
	if !ok {
		return false
	}
	conn, ok := bucket[connectionID]
	if !ok {
		return false
	}
	delete(bucket, connectionID)
	if len(bucket) == 0 {
		delete(s.buckets, endpointID)
	}
	conn.close()
	return true
}

// Connections returns a snapshot of the endpoint's live connections
func (r *Registry) Connections(endpointID string) []*Connection {
	s := r.shardFor(endpointID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := s.buckets[endpointID]
	conns := make([]*Connection, 0, len(bucket))
	for _, conn := range bucket {
		conns = append(conns, conn)
	}
	return conns
}

// ConnectionCount returns the current count for capacity and telemetry decisions
func (r *Registry) ConnectionCount(endpointID string) int {
	s := r.shardFor(endpointID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets[endpointID])
}

// BroadcastToEndpoint offers the frame to every connection on the endpoint.
// Fire-and-forget per connection; returns the IDs of connections whose queue
// was full (their frames were dropped).
func (r *Registry) BroadcastToEndpoint(endpointID string, frame Frame) (delivered, dropped []string) {
	for _, conn := range r.Connections(endpointID) {
		if conn.enqueue(frame) {
			delivered = append(delivered, conn.ID)
		} else {
			dropped = append(dropped, conn.ID)
		}
	}
	return delivered, dropped
}

// SendToOne offers the frame to exactly one connection. NotFound when the
// connection is absent; Infra when the queue is full.
func (r *Registry) SendToOne(endpointID, connectionID string, frame Frame) error {
	s := r.shardFor(endpointID)
	s.mu.RLock()
	conn, ok := s.buckets[endpointID][connectionID]
	s.mu.RUnlock()

	if !ok {
		return domain.NewNotFoundError("connection", connectionID)
	}
	if !conn.enqueue(frame) {
		return domain.NewInfraError("connection "+connectionID+" outbound queue full", nil)
	}
	return nil
}

// FindAuthenticatedConnection returns the first connection for the endpoint
// carrying an authenticated user identity, preferring it over anonymous
// viewers when only one message can be routed. Nil when none qualifies.
func (r *Registry) FindAuthenticatedConnection(endpointID string) *Connection {
	s := r.shardFor(endpointID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, conn := range s.buckets[endpointID] {
		if conn.UserID != "" {
			return conn
		}
	}
	return nil
}

// Each visits every live connection across all shards. The callback runs
// outside shard locks so it may call back into the registry.
func (r *Registry) Each(fn func(*Connection)) {
	for _, s := range r.shards {
		s.mu.RLock()
		conns := make([]*Connection, 0)
		for _, bucket := range s.buckets {
			for _, conn := range bucket {
				conns = append(conns, conn)
			}
		}
		s.mu.RUnlock()

		for _, conn := range conns {
			fn(conn)
		}
	}
}
