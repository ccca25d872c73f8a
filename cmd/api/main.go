package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/hookline/hookline/internal/adapter"
	"github.com/hookline/hookline/internal/api/middleware"
	"github.com/hookline/hookline/internal/api/server"
	"github.com/hookline/hookline/internal/blocklist"
	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/ingest"
	"github.com/hookline/hookline/internal/logger"
	"github.com/hookline/hookline/internal/messaging"
	"github.com/hookline/hookline/internal/providers/jetstream"
	"github.com/hookline/hookline/internal/registry"
	"github.com/hookline/hookline/internal/store"
	"github.com/hookline/hookline/internal/sweeper"
	"github.com/hookline/hookline/internal/tracker"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadAPIConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Create shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "api-server",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Hookline API")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		// surface unique violations as gorm.ErrDuplicatedKey
		TranslateError: true,
	})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}

	// Configure connection pool
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database",
		zap.Int("max_open_conns", cfg.Database.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.Database.MaxIdleConns),
	)

	// Initialize store
	dataStore := store.NewPGStore(db)
	clock := adapter.NewClock()

	// Connect to NATS JetStream for the event mirror. Optional: without a
	// broker the relay still admits and fans out events.
	var publisher messaging.Publisher
	if cfg.NATS.URL != "" {
		publisher, err = jetstream.NewPublisher(jetstream.Config{
			URL:            cfg.NATS.URL,
			StreamName:     cfg.NATS.StreamName,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectionName: cfg.NATS.ConnectionName,
		})
		if err != nil {
			logger.FatalCtx(ctx, "Failed to connect to NATS", zap.Error(err))
		}
		defer publisher.Close()
		logger.InfoCtx(ctx, "Connected to NATS", zap.String("url", cfg.NATS.URL))
	} else {
		logger.WarnCtx(ctx, "NATS URL not configured, events will not be mirrored to the broker")
	}

	// Load blocklist
	var blocked blocklist.Blocklist
	if cfg.BlocklistPath != "" {
		blocked, err = blocklist.Load(cfg.BlocklistPath)
		if err != nil {
			logger.FatalCtx(ctx, "Failed to load blocklist",
				zap.Error(err),
				zap.String("path", cfg.BlocklistPath))
		}
		logger.InfoCtx(ctx, "Loaded blocklist", zap.String("path", cfg.BlocklistPath))
	} else {
		logger.WarnCtx(ctx, "Blocklist path not configured, all endpoints will be allowed")
	}

	// Live-connection registry, delivery tracker and ingestion pipeline
	reg := registry.New()
	trk := tracker.New(dataStore, reg, clock)
	pipeline := ingest.New(dataStore, reg, publisher, blocked, clock)

	// The session reaper lives with the API process because the registry it
	// sweeps is in-memory here
	reaper := sweeper.NewSessionReaper(&sweeper.SessionReaperConfig{
		IdleAfter: cfg.Sweep.SessionReaper.IdleAfter,
		StopAfter: cfg.Sweep.SessionReaper.StopAfter,
		Interval:  cfg.Sweep.SessionReaper.Interval,
	}, reg, clock)
	go func() {
		if err := reaper.Start(ctx); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("sweeper", reaper.Name()))
		}
	}()

	// Create server config
	serverConfig := server.Config{
		Debug:        cfg.Debug,
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		Auth: middleware.AuthConfig{
			JWTPublicKey: cfg.Auth.JWTPublicKey,
			APIKeys:      cfg.Auth.APIKeys,
		},
		PlaygroundSessionTTL: cfg.Relay.PlaygroundSessionTTL,
		ConnectionQueueSize:  cfg.Relay.ConnectionQueueSize,
	}

	// Create and start server
	srv := server.New(serverConfig, dataStore, pipeline, reg, trk, clock)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "server"))
		cancel()
	}

	// Create shutdown context with timeout (don't use canceled ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	logger.InfoCtx(shutdownCtx, "Shutting down server...")

	if err := reaper.Stop(shutdownCtx); err != nil {
		logger.ErrorCtx(shutdownCtx, err, zap.String("sweeper", reaper.Name()))
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.FatalCtx(shutdownCtx, "Server forced to shutdown", zap.Error(err))
	}

	// Shutdown does not cover hijacked websocket connections; closing the
	// remaining sessions unblocks their handlers and ack watchers
	var live []*registry.Connection
	reg.Each(func(conn *registry.Connection) {
		live = append(live, conn)
	})
	for _, conn := range live {
		reg.Unregister(conn.EndpointID, conn.ID)
	}

	// In-flight ack watchers end with their request contexts
	trk.Wait()

	// Use non-context logger for final message since original ctx is canceled
	logger.Info("API server stopped")
}
