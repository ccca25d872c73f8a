// Package ws carries forwarding sessions over WebSocket: frames out,
// acknowledgements and heartbeats in.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hookline/hookline/internal/adapter"
	"github.com/hookline/hookline/internal/api/middleware"
	"github.com/hookline/hookline/internal/domain"
	"github.com/hookline/hookline/internal/logger"
	"github.com/hookline/hookline/internal/registry"
	"github.com/hookline/hookline/internal/store"
	"github.com/hookline/hookline/internal/tracker"
)

const (
	// writeWait bounds a single frame write to a slow socket
	writeWait = 10 * time.Second

	// pongWait is how long a session may stay silent before the read loop
	// gives up. Clients send heartbeats well inside this window.
	pongWait = 60 * time.Second
)

// inboundMessage is what a session sends us: an acknowledgement for a
// delivered frame, or a bare heartbeat.
type inboundMessage struct {
	Type       string `json:"type"` // "ack" or "heartbeat"
	DeliveryID string `json:"delivery_id,omitempty"`
	OK         bool   `json:"ok,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Transport upgrades HTTP requests into registered forwarding sessions
type Transport struct {
	store     store.Store
	registry  *registry.Registry
	tracker   *tracker.Tracker
	clock     adapter.Clock
	queueSize int
	upgrader  websocket.Upgrader
}

// New creates a WebSocket transport
func New(st store.Store, reg *registry.Registry, tr *tracker.Tracker, clock adapter.Clock, queueSize int) *Transport {
	return &Transport{
		store:     st,
		registry:  reg,
		tracker:   tr,
		clock:     clock,
		queueSize: queueSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// cross-origin is already policed by the CORS middleware;
			// endpoint ownership is checked before the upgrade
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Listen handles GET /api/v1/endpoints/:endpoint_id/listen for
// authenticated tenants
func (t *Transport) Listen(c *gin.Context) {
	endpointID := c.Param("endpoint_id")

	endpoint, err := t.store.GetEndpointByID(c.Request.Context(), endpointID)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if endpoint == nil || endpoint.IsDeleted() {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	if subject := middleware.Subject(c); subject != "" && endpoint.UserID != subject {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	t.serve(c, endpoint, endpoint.UserID)
}

// ListenPlayground handles GET /api/v1/playground/:token/listen for
// anonymous trial sessions
func (t *Transport) ListenPlayground(c *gin.Context) {
	session, err := t.store.GetPlaygroundSessionByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if session == nil || session.IsExpired(t.clock.Now()) {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	endpoint, err := t.store.GetEndpointByID(c.Request.Context(), session.EndpointID)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if endpoint == nil || endpoint.IsDeleted() {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	// anonymous sessions carry no user identity
	t.serve(c, endpoint, "")
}

// serve upgrades the request, registers the session under the owner's
// connection cap and runs the read and write loops until either side ends
// the session.
func (t *Transport) serve(c *gin.Context, endpoint *domain.Endpoint, userID string) {
	ctx := c.Request.Context()

	sub, err := t.store.GetSubscriptionByUser(ctx, endpoint.UserID)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	tier := domain.TierFree
	if sub != nil {
		tier = sub.Tier
	}
	maxConns := tier.Limits().MaxConnectionsPerEndpoint

	conn := registry.NewConnection(endpoint.ID, userID, t.queueSize, t.clock.Now())
	if err := t.registry.Register(conn, maxConns); err != nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error": gin.H{
				"code":    domain.KindLimitExceeded,
				"message": err.Error(),
			},
		})
		return
	}

	socket, err := t.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already replied to the client
		t.registry.Unregister(endpoint.ID, conn.ID)
		return
	}

	if err := conn.TransitionState(registry.SessionConnected); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("connection_id", conn.ID))
		t.registry.Unregister(endpoint.ID, conn.ID)
		_ = socket.Close()
		return
	}

	logger.InfoCtx(ctx, "Session connected",
		zap.String("connection_id", conn.ID),
		zap.String("endpoint_id", endpoint.ID),
		zap.Bool("anonymous", userID == ""),
	)

	t.tracker.Watch(ctx, conn)
	go t.writeLoop(socket, conn)
	t.readLoop(ctx, socket, conn)
}

// writeLoop drains the connection's outbound queue onto the socket. It ends
// when the registry closes the queue or a write fails.
func (t *Transport) writeLoop(socket *websocket.Conn, conn *registry.Connection) {
	for frame := range conn.Frames() {
		_ = socket.SetWriteDeadline(time.Now().Add(writeWait))
		if err := socket.WriteJSON(frame); err != nil {
			_ = socket.Close()
			return
		}
	}
	_ = socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	_ = socket.Close()
}

// readLoop consumes acknowledgements and heartbeats until the socket drops,
// then hands the session to the tracker for teardown.
func (t *Transport) readLoop(ctx context.Context, socket *websocket.Conn, conn *registry.Connection) {
	defer t.tracker.HandleDisconnect(ctx, conn)

	_ = socket.SetReadDeadline(time.Now().Add(pongWait))
	for {
		var msg inboundMessage
		if err := socket.ReadJSON(&msg); err != nil {
			return
		}
		_ = socket.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case "heartbeat":
			conn.Heartbeat(t.clock.Now())

		case "ack":
			conn.Heartbeat(t.clock.Now())
			ok := conn.PushAck(registry.Ack{
				ConnectionID: conn.ID,
				DeliveryID:   msg.DeliveryID,
				OK:           msg.OK,
				Reason:       msg.Reason,
			})
			if !ok {
				// the timeout sweep settles the delivery instead
				logger.WarnCtx(ctx, "Acknowledgement queue full, dropping ack",
					zap.String("connection_id", conn.ID),
					zap.String("delivery_id", msg.DeliveryID),
				)
			}

		default:
			logger.WarnCtx(ctx, "Unknown session message type",
				zap.String("connection_id", conn.ID),
				zap.String("type", msg.Type),
			)
		}
	}
}
