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
	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/logger"
	"github.com/hookline/hookline/internal/store"
	"github.com/hookline/hookline/internal/sweeper"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadSweeperConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "sweeper",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Sweeper")

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

	// Initialize clock adapter
	clock := adapter.NewClock()

	// The store-backed sweepers run in this process. The session reaper is
	// absent: it sweeps the API process's in-memory registry.
	sweepers := []sweeper.Sweeper{
		sweeper.NewDeliveryTimeoutSweeper(&sweeper.DeliveryTimeoutSweeperConfig{
			BatchSize:      cfg.Sweep.DeliveryTimeout.BatchSize,
			WorkerPoolSize: cfg.Sweep.DeliveryTimeout.WorkerPoolSize,
			StuckAfter:     cfg.Sweep.DeliveryTimeout.StuckAfter,
			Interval:       cfg.Sweep.DeliveryTimeout.Interval,
		}, dataStore, clock),
		sweeper.NewRateLimitCleanupSweeper(&sweeper.RateLimitCleanupSweeperConfig{
			KeepFor:  cfg.Sweep.RateLimitCleanup.KeepFor,
			Interval: cfg.Sweep.RateLimitCleanup.Interval,
		}, dataStore, clock),
		sweeper.NewPlaygroundCleanupSweeper(&sweeper.PlaygroundCleanupSweeperConfig{
			PurgeAfter: cfg.Sweep.PlaygroundCleanup.PurgeAfter,
			Interval:   cfg.Sweep.PlaygroundCleanup.Interval,
		}, dataStore, clock),
		sweeper.NewEventExpirySweeper(&sweeper.EventExpirySweeperConfig{
			Interval: cfg.Sweep.EventExpiry.Interval,
		}, dataStore, clock),
	}

	// Start each sweeper in its own goroutine
	errChan := make(chan error, len(sweepers))
	for _, s := range sweepers {
		go func(s sweeper.Sweeper) {
			logger.InfoCtx(ctx, "Starting sweeper", zap.String("sweeper", s.Name()))
			if err := s.Start(ctx); err != nil {
				errChan <- fmt.Errorf("%s: %w", s.Name(), err)
			}
		}(s)
	}

	// Wait for interrupt signal or error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.ErrorCtx(ctx, err)
	}

	// Cancel context to stop the sweepers
	cancel()

	// Give the sweepers time to shut down gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	for _, s := range sweepers {
		if err := s.Stop(shutdownCtx); err != nil {
			logger.ErrorCtx(shutdownCtx, err, zap.String("sweeper", s.Name()))
		}
	}

	logger.InfoCtx(shutdownCtx, "Sweeper stopped")
}
