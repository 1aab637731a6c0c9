/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loyalty engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from environment (.env supported in dev)
  2. Initialize zap logger
  3. Initialize SQLite store (events, views, rules)
  4. Rebuild projections from the event store
  5. Wire ledger service -> projection runner sink
  6. Configure HTTP router and start server with graceful shutdown

ENVIRONMENT:
  PORT              HTTP server port (default: 8080)
  DATABASE_PATH     SQLite database path (default: loyalty.db)
                    Use ":memory:" for in-memory database
  LOG_LEVEL         debug, info, warn, error (default: info)
  EARNING_STATUSES  Comma-separated statuses allowed to earn points

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Drain the projection runner
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  DATABASE_PATH=./data/loyalty.db ./server

  # Run with in-memory database
  DATABASE_PATH=:memory: ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
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

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/loyalty-engine/api"
	"github.com/warp/loyalty-engine/config"
	"github.com/warp/loyalty-engine/earning"
	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/projection"
	"github.com/warp/loyalty-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Store
	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	// Projections
	runner := projection.NewRunner(logger,
		projection.NewTransferProjection(store),
		projection.NewAccountProjection(store),
	)
	defer runner.Close()

	if err := rebuildProjections(context.Background(), store, runner, logger); err != nil {
		logger.Fatal("failed to rebuild projections", zap.Error(err))
	}

	// Domain services
	service := ledger.NewService(store, logger, ledger.WithSink(runner))
	engine := earning.NewEngine(logger)

	// HTTP
	handler := api.NewHandler(service, store, engine, cfg.EarningStatuses, logger)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("database", cfg.DatabasePath),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// rebuildProjections replays every account's history so the views are
// consistent with the event store before traffic arrives. The previous
// run's views are cleared first; the rebuild folds into fresh state.
func rebuildProjections(ctx context.Context, store *sqlite.Store, runner *projection.Runner, logger *zap.Logger) error {
	if err := store.ClearViews(ctx); err != nil {
		return err
	}
	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		return err
	}
	for _, accountID := range accounts {
		if err := runner.Rebuild(ctx, store, accountID); err != nil {
			return fmt.Errorf("rebuild account %s: %w", accountID, err)
		}
	}
	if len(accounts) > 0 {
		logger.Info("projections rebuilt", zap.Int("accounts", len(accounts)))
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}
