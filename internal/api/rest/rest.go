package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/hookline/hookline/internal/api/middleware"
	"github.com/hookline/hookline/internal/api/ws"
)

// SetupRoutes configures all REST API and forwarding-session routes
func SetupRoutes(router *gin.Engine, handler Handler, transport *ws.Transport, authCfg middleware.AuthConfig) {
	// Health check endpoint (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)

	// Ingestion endpoint. Unauthenticated: the endpoint ID is the capability,
	// and senders are third-party webhook producers that cannot carry our
	// credentials. Any method a producer might use is accepted.
	router.Any("/e/:endpoint_id", handler.IngestEvent)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Playground sessions (anonymous trial access)
		v1.POST("/playground", handler.CreatePlaygroundSession)
		v1.GET("/playground/:token/listen", transport.ListenPlayground)

		// Tenant routes (requires authentication)
		authed := v1.Group("", middleware.Auth(authCfg))
		{
			authed.POST("/endpoints", handler.CreateEndpoint)
			authed.GET("/endpoints", handler.ListEndpoints)
			authed.GET("/endpoints/:endpoint_id", handler.GetEndpoint)
			authed.DELETE("/endpoints/:endpoint_id", handler.DeleteEndpoint)
			authed.POST("/endpoints/:endpoint_id/restore", handler.RestoreEndpoint)
			authed.GET("/endpoints/:endpoint_id/listen", transport.Listen)

			authed.POST("/endpoints/:endpoint_id/destinations", handler.CreateDestination)
			authed.GET("/endpoints/:endpoint_id/destinations", handler.ListDestinations)
			authed.DELETE("/destinations/:destination_id", handler.DeleteDestination)

			authed.GET("/endpoints/:endpoint_id/events", handler.ListEvents)
			authed.GET("/events/:event_id", handler.GetEvent)
			authed.POST("/events/:event_id/replay", handler.ReplayEvent)
			authed.GET("/events/:event_id/deliveries", handler.ListDeliveries)
		}
	}
}
