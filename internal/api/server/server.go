package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hookline/hookline/internal/adapter"
	"github.com/hookline/hookline/internal/api/middleware"
	"github.com/hookline/hookline/internal/api/rest"
	"github.com/hookline/hookline/internal/api/ws"
	"github.com/hookline/hookline/internal/ingest"
	"github.com/hookline/hookline/internal/logger"
	"github.com/hookline/hookline/internal/registry"
	"github.com/hookline/hookline/internal/store"
	"github.com/hookline/hookline/internal/tracker"
)

// Config holds the server configuration
type Config struct {
	Debug                bool
	Host                 string
	Port                 int
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	Auth                 middleware.AuthConfig
	PlaygroundSessionTTL time.Duration
	ConnectionQueueSize  int
}

// Server wraps the HTTP server
type Server struct {
	config     Config
	store      store.Store
	pipeline   *ingest.Pipeline
	registry   *registry.Registry
	tracker    *tracker.Tracker
	clock      adapter.Clock
	httpServer *http.Server
}

// New creates a new API server
func New(cfg Config, st store.Store, pipeline *ingest.Pipeline, reg *registry.Registry, tr *tracker.Tracker, clock adapter.Clock) *Server {
	return &Server{
		config:   cfg,
		store:    st,
		pipeline: pipeline,
		registry: reg,
		tracker:  tr,
		clock:    clock,
	}
}

// Start initializes and starts the HTTP server
func (s *Server) Start() error {
	// Set Gin mode based on debug flag
	if s.config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Setup middleware
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.SetupCORS())

	// Create REST handler and forwarding-session transport
	restHandler := rest.NewHandler(s.store, s.pipeline, s.clock, s.config.PlaygroundSessionTTL)
	transport := ws.New(s.store, s.registry, s.tracker, s.clock, s.config.ConnectionQueueSize)

	// Setup routes
	rest.SetupRoutes(router, restHandler, transport, s.config.Auth)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	logger.Info("Starting API server",
		zap.String("address", addr),
	)

	// Start server
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down API server")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	return nil
}
