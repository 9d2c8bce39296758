package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shelfwise/services/ledger/internal/config"
	"github.com/shelfwise/services/ledger/internal/db"
	"github.com/shelfwise/services/ledger/internal/events"
	"github.com/shelfwise/services/ledger/internal/httpx"
	"github.com/shelfwise/services/ledger/internal/ledger"
	"github.com/shelfwise/services/ledger/internal/metrics"
	"github.com/shelfwise/services/ledger/internal/repo"
	"github.com/shelfwise/services/ledger/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log := logger.NewLogger(cfg.ServiceName, cfg.LogLevel)
	defer log.Sync()

	log.Info("Ledger service starting")

	// Connect to database
	log.Info("Connecting to database...")
	database, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// Run migrations
	log.Info("Running database migrations...")
	if err := db.RunMigrations(database); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Connect to RabbitMQ. The service keeps working without the broker,
	// only event publishing is disabled.
	log.Info("Connecting to RabbitMQ")
	var publisher httpx.EventPublisher
	amqpPublisher, err := events.NewPublisher(cfg.RabbitMQURL, log)
	if err != nil {
		log.Warn("RabbitMQ unavailable, event publishing disabled", zap.Error(err))
	} else {
		publisher = amqpPublisher
		defer amqpPublisher.Close()
	}

	catalog := repo.NewCatalogRepository(database, log)

	// Catalog size gauges, collected on every /metrics scrape
	metrics.RegisterCatalogStats(prometheus.DefaultRegisterer, func() (int64, int64) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		items, inStock, err := catalog.GetStats(ctx)
		if err != nil {
			log.Error("Failed to collect catalog stats", zap.Error(err))
			return 0, 0
		}
		return items, inStock
	})

	handler := &httpx.Handler{
		Ledger:   ledger.New(database, log),
		Catalog:  catalog,
		Accounts: repo.NewAccountsRepository(database, log),
		Events:   publisher,
		Log:      log,
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpx.NewRouter(handler, database),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("Server stopped")
}
