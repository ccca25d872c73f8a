package rest

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hookline/hookline/internal/adapter"
	"github.com/hookline/hookline/internal/api/middleware"
	"github.com/hookline/hookline/internal/domain"
	"github.com/hookline/hookline/internal/ingest"
	"github.com/hookline/hookline/internal/store"
)

// PlaygroundOwner is the synthetic tenant that owns anonymous trial endpoints
const PlaygroundOwner = "playground"

// Handler defines the interface for REST API handlers
// This interface allows for easy mocking and testing
type Handler interface {
	// IngestEvent receives one inbound webhook and fans it out
	// POST /e/:endpoint_id
	IngestEvent(c *gin.Context)

	// CreateEndpoint creates a new endpoint for the authenticated tenant
	// POST /api/v1/endpoints
	CreateEndpoint(c *gin.Context)

	// ListEndpoints lists the tenant's endpoints
	// GET /api/v1/endpoints?include_deleted=<bool>&limit=<limit>&offset=<offset>
	ListEndpoints(c *gin.Context)

	// GetEndpoint retrieves a single endpoint
	// GET /api/v1/endpoints/:endpoint_id
	GetEndpoint(c *gin.Context)

	// DeleteEndpoint soft-deletes an endpoint
	// DELETE /api/v1/endpoints/:endpoint_id
	DeleteEndpoint(c *gin.Context)

	// RestoreEndpoint clears an endpoint's soft-delete flag
	// POST /api/v1/endpoints/:endpoint_id/restore
	RestoreEndpoint(c *gin.Context)

	// CreateDestination registers a forwarding target for an endpoint
	// POST /api/v1/endpoints/:endpoint_id/destinations
	CreateDestination(c *gin.Context)

	// ListDestinations lists an endpoint's forwarding targets
	// GET /api/v1/endpoints/:endpoint_id/destinations
	ListDestinations(c *gin.Context)

	// DeleteDestination removes a forwarding target
	// DELETE /api/v1/destinations/:destination_id
	DeleteDestination(c *gin.Context)

	// ListEvents lists an endpoint's received events, newest first
	// GET /api/v1/endpoints/:endpoint_id/events?limit=<limit>&offset=<offset>
	ListEvents(c *gin.Context)

	// GetEvent retrieves a single event
	// GET /api/v1/events/:event_id
	GetEvent(c *gin.Context)

	// ReplayEvent creates fresh delivery attempts of a stored event against
	// the endpoint's currently live connections
	// POST /api/v1/events/:event_id/replay
	ReplayEvent(c *gin.Context)

	// ListDeliveries lists the delivery attempts of an event
	// GET /api/v1/events/:event_id/deliveries
	ListDeliveries(c *gin.Context)

	// CreatePlaygroundSession creates an anonymous trial session with its own
	// short-lived endpoint
	// POST /api/v1/playground
	CreatePlaygroundSession(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	store         store.Store
	pipeline      *ingest.Pipeline
	clock         adapter.Clock
	playgroundTTL time.Duration
}

// NewHandler creates a new REST API handler
func NewHandler(st store.Store, pipeline *ingest.Pipeline, clock adapter.Clock, playgroundTTL time.Duration) Handler {
	return &handler{
		store:         st,
		pipeline:      pipeline,
		clock:         clock,
		playgroundTTL: playgroundTTL,
	}
}

// HealthCheck returns the health status of the API
func (h *handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// IngestEvent receives one inbound webhook and fans it out
func (h *handler) IngestEvent(c *gin.Context) {
	endpointID := c.Param("endpoint_id")
	if endpointID == "" {
		respondBadRequest(c, "Endpoint ID is required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, domain.MaxEventBodySize+1))
	if err != nil {
		respondBadRequest(c, "Failed to read request body")
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for name, values := range c.Request.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	result, err := h.pipeline.Ingest(c.Request.Context(), endpointID, ingest.Inbound{
		Method:  c.Request.Method,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"event_id":    result.Event.ID,
		"received_at": result.Event.ReceivedAt,
		"deliveries":  len(result.Deliveries),
	})
}

type createEndpointRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateEndpoint creates a new endpoint for the authenticated tenant
func (h *handler) CreateEndpoint(c *gin.Context) {
	userID := middleware.Subject(c)
	if userID == "" {
		respondBadRequest(c, "A tenant subject is required to create endpoints")
		return
	}

	var req createEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err.Error())
		return
	}

	limits, err := h.tierLimits(c, userID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	count, err := h.store.CountEndpointsByUser(c.Request.Context(), userID)
	if err != nil {
		respondDomainError(c, domain.NewInfraError("count endpoints", err))
		return
	}
	if count >= int64(limits.MaxEndpoints) {
		respondDomainError(c, domain.NewLimitExceededError(
			"endpoint quota reached: %d of %d", count, limits.MaxEndpoints))
		return
	}

	endpoint, err := domain.NewEndpoint(userID, req.Name, h.clock.Now())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	if err := h.store.CreateEndpoint(c.Request.Context(), endpoint); err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, endpoint)
}

// ListEndpoints lists the tenant's endpoints
func (h *handler) ListEndpoints(c *gin.Context) {
	userID := middleware.Subject(c)
	if userID == "" {
		respondBadRequest(c, "A tenant subject is required to list endpoints")
		return
	}

	includeDeleted := c.Query("include_deleted") == "true"
	limit, offset := pagination(c)

	endpoints, err := h.store.ListEndpointsByUser(c.Request.Context(), userID, includeDeleted, limit, offset)
	if err != nil {
		respondDomainError(c, domain.NewInfraError("list endpoints", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"endpoints": endpoints})
}

// GetEndpoint retrieves a single endpoint
func (h *handler) GetEndpoint(c *gin.Context) {
	endpoint, ok := h.ownedEndpoint(c, c.Param("endpoint_id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, endpoint)
}

// DeleteEndpoint soft-deletes an endpoint
func (h *handler) DeleteEndpoint(c *gin.Context) {
	endpoint, ok := h.ownedEndpoint(c, c.Param("endpoint_id"))
	if !ok {
		return
	}

	endpoint.Delete(h.clock.Now())
	if ok, err := h.store.UpdateEndpoint(c.Request.Context(), endpoint); err != nil {
		respondDomainError(c, domain.NewInfraError("delete endpoint", err))
		return
	} else if !ok {
		respondNotFound(c, "Endpoint not found")
		return
	}

	c.JSON(http.StatusOK, endpoint)
}

// RestoreEndpoint clears an endpoint's soft-delete flag
func (h *handler) RestoreEndpoint(c *gin.Context) {
	endpoint, ok := h.ownedEndpoint(c, c.Param("endpoint_id"))
	if !ok {
		return
	}

	endpoint.Restore(h.clock.Now())
	if ok, err := h.store.UpdateEndpoint(c.Request.Context(), endpoint); err != nil {
		respondDomainError(c, domain.NewInfraError("restore endpoint", err))
		return
	} else if !ok {
		respondNotFound(c, "Endpoint not found")
		return
	}

	c.JSON(http.StatusOK, endpoint)
}

type createDestinationRequest struct {
	Kind  domain.TargetKind `json:"kind" binding:"required"`
	Label string            `json:"label"`
}

// CreateDestination registers a forwarding target for an endpoint
func (h *handler) CreateDestination(c *gin.Context) {
	endpoint, ok := h.ownedEndpoint(c, c.Param("endpoint_id"))
	if !ok {
		return
	}

	var req createDestinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err.Error())
		return
	}

	destination, err := domain.NewDestination(endpoint.ID, req.Kind, req.Label, h.clock.Now())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	if err := h.store.CreateDestination(c.Request.Context(), destination); err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, destination)
}

// ListDestinations lists an endpoint's forwarding targets
func (h *handler) ListDestinations(c *gin.Context) {
	endpoint, ok := h.ownedEndpoint(c, c.Param("endpoint_id"))
	if !ok {
		return
	}

	destinations, err := h.store.ListDestinationsByEndpoint(c.Request.Context(), endpoint.ID)
	if err != nil {
		respondDomainError(c, domain.NewInfraError("list destinations", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"destinations": destinations})
}

// DeleteDestination removes a forwarding target
func (h *handler) DeleteDestination(c *gin.Context) {
	destinationID := c.Param("destination_id")

	destination, err := h.store.GetDestinationByID(c.Request.Context(), destinationID)
	if err != nil {
		respondDomainError(c, domain.NewInfraError("resolve destination", err))
		return
	}
	if destination == nil {
		respondNotFound(c, "Destination not found")
		return
	}
	if _, ok := h.ownedEndpoint(c, destination.EndpointID); !ok {
		return
	}

	removed, err := h.store.DeleteDestination(c.Request.Context(), destinationID)
	if err != nil {
		respondDomainError(c, domain.NewInfraError("delete destination", err))
		return
	}
	if !removed {
		respondNotFound(c, "Destination not found")
		return
	}

	c.Status(http.StatusNoContent)
}

// ListEvents lists an endpoint's received events, newest first
func (h *handler) ListEvents(c *gin.Context) {
	endpoint, ok := h.ownedEndpoint(c, c.Param("endpoint_id"))
	if !ok {
		return
	}

	limit, offset := pagination(c)
	events, err := h.store.ListEventsByEndpoint(c.Request.Context(), endpoint.ID, limit, offset)
	if err != nil {
		respondDomainError(c, domain.NewInfraError("list events", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// GetEvent retrieves a single event
func (h *handler) GetEvent(c *gin.Context) {
	event, ok := h.ownedEvent(c, c.Param("event_id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, event)
}

// ReplayEvent creates fresh delivery attempts of a stored event
func (h *handler) ReplayEvent(c *gin.Context) {
	event, ok := h.ownedEvent(c, c.Param("event_id"))
	if !ok {
		return
	}

	result, err := h.pipeline.Replay(c.Request.Context(), event.ID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"event_id":   result.Event.ID,
		"deliveries": result.Deliveries,
	})
}

// ListDeliveries lists the delivery attempts of an event
func (h *handler) ListDeliveries(c *gin.Context) {
	event, ok := h.ownedEvent(c, c.Param("event_id"))
	if !ok {
		return
	}

	deliveries, err := h.store.ListDeliveriesByEvent(c.Request.Context(), event.ID)
	if err != nil {
		respondDomainError(c, domain.NewInfraError("list deliveries", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"deliveries": deliveries})
}

// CreatePlaygroundSession creates an anonymous trial session with its own
// short-lived endpoint
func (h *handler) CreatePlaygroundSession(c *gin.Context) {
	now := h.clock.Now()

	endpoint, err := domain.NewEndpoint(PlaygroundOwner, "pg-"+uuid.NewString()[:8], now)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	if err := h.store.CreateEndpoint(c.Request.Context(), endpoint); err != nil {
		respondDomainError(c, err)
		return
	}

	session, err := domain.NewPlaygroundSession(endpoint.ID, h.playgroundTTL, now)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	if err := h.store.CreatePlaygroundSession(c.Request.Context(), session); err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":       session.Token,
		"endpoint_id": endpoint.ID,
		"expires_at":  session.ExpiresAt,
	})
}

// ownedEndpoint resolves an endpoint and enforces tenant ownership. API key
// credentials carry no subject and may touch any endpoint. Foreign endpoints
// answer not-found rather than forbidden so IDs stay unguessable.
func (h *handler) ownedEndpoint(c *gin.Context, endpointID string) (*domain.Endpoint, bool) {
	if endpointID == "" {
		respondBadRequest(c, "Endpoint ID is required")
		return nil, false
	}

	endpoint, err := h.store.GetEndpointByID(c.Request.Context(), endpointID)
	if err != nil {
		respondDomainError(c, domain.NewInfraError("resolve endpoint", err))
		return nil, false
	}
	if endpoint == nil {
		respondNotFound(c, "Endpoint not found")
		return nil, false
	}
	if subject := middleware.Subject(c); subject != "" && endpoint.UserID != subject {
		respondNotFound(c, "Endpoint not found")
		return nil, false
	}
	return endpoint, true
}

// ownedEvent resolves an event through its endpoint's ownership
func (h *handler) ownedEvent(c *gin.Context, eventID string) (*domain.Event, bool) {
	if eventID == "" {
		respondBadRequest(c, "Event ID is required")
		return nil, false
	}

	event, err := h.store.GetEventByID(c.Request.Context(), eventID)
	if err != nil {
		respondDomainError(c, domain.NewInfraError("resolve event", err))
		return nil, false
	}
	if event == nil {
		respondNotFound(c, "Event not found")
		return nil, false
	}
	if _, ok := h.ownedEndpoint(c, event.EndpointID); !ok {
		return nil, false
	}
	return event, true
}

func (h *handler) tierLimits(c *gin.Context, userID string) (domain.TierLimits, error) {
	sub, err := h.store.GetSubscriptionByUser(c.Request.Context(), userID)
	if err != nil {
		return domain.TierLimits{}, domain.NewInfraError("resolve subscription", err)
	}
	tier := domain.TierFree
	if sub != nil {
		tier = sub.Tier
	}
	return tier.Limits(), nil
}

// pagination parses limit/offset query parameters with sane bounds
func pagination(c *gin.Context) (limit, offset int) {
	limit = 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
