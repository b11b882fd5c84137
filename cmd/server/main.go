/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the lending engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from environment
  2. Initialize logging (logrus, JSON)
  3. Open the store (sqlite or postgres per DB_DRIVER)
  4. Wire domain services, dispatcher, outbox, scheduler
  5. Start HTTP server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop scheduler and outbox dispatcher
  4. Close database connection
  5. Exit

ENVIRONMENT:
  PORT, DB_DRIVER, DB_CONN, LOG_LEVEL, API_KEY, SETTLEMENT_SCHEDULE,
  GRACE_PERIOD_DAYS, DAY_COUNT_BASIS, FORGIVENESS_THRESHOLD,
  GATEWAY_CUST_ID, GATEWAY_KEY, SMTP_* and NOTIFY_TO (see config/config.go).

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - config/config.go: Environment configuration
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/lending-engine/api"
	"github.com/warp/lending-engine/config"
	"github.com/warp/lending-engine/ledger"
	"github.com/warp/lending-engine/lending"
	"github.com/warp/lending-engine/notify"
	"github.com/warp/lending-engine/store/postgres"
	"github.com/warp/lending-engine/store/sqlite"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	// Initialize store
	var (
		store  ledger.Store
		closer interface{ Close() error }
	)
	switch cfg.DBDriver {
	case "postgres":
		pg, err := postgres.New(cfg.DBConn)
		if err != nil {
			logger.Fatalf("Failed to initialize database: %v", err)
		}
		store, closer = pg, pg
	default:
		lite, err := sqlite.New(cfg.DBConn)
		if err != nil {
			logger.Fatalf("Failed to initialize database: %v", err)
		}
		store, closer = lite, lite
	}
	defer closer.Close()

	// Domain services
	engineCfg := lending.Config{
		GracePeriodDays:      cfg.GracePeriodDays,
		DayCountBasis:        cfg.DayCountBasis,
		ForgivenessThreshold: cfg.ForgivenessThreshold,
	}
	loans := lending.NewLoanService(store, logger)
	payments := lending.NewPaymentService(store, engineCfg, logger)
	calculator := lending.NewCalculator(store)
	engine := lending.NewSettlementEngine(store, engineCfg, logger)
	gateway := lending.NewGatewayService(store, payments, lending.GatewayConfig{
		CustID: cfg.GatewayCustID,
		Key:    cfg.GatewayKey,
	}, logger)

	dispatcher := lending.NewDispatcher(store, logger)
	lending.RegisterHandlers(dispatcher, engine, gateway)

	// Outbox delivery
	var publisher lending.Publisher = notify.NewLogPublisher(logger)
	if cfg.SMTPHost != "" && cfg.NotifyTo != "" {
		publisher = notify.NewEmailPublisher(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			To:       cfg.NotifyTo,
		}, logger)
	}
	outbox := lending.NewOutboxDispatcher(store, publisher, logger)
	outbox.Start()
	defer outbox.Stop()

	// HTTP layer
	handler := &api.Handler{
		Store:      store,
		Loans:      loans,
		Payments:   payments,
		Calculator: calculator,
		Gateway:    gateway,
		Dispatcher: dispatcher,
		Log:        logger,
	}
	router := api.NewRouter(handler, cfg.APIKey)

	// Scheduled settlement
	scheduler, err := api.NewSettlementScheduler(handler, cfg.SettlementSchedule, logger)
	if err != nil {
		logger.Fatalf("Failed to create scheduler: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on http://localhost:%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server stopped")
}
