/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the agency CRM server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load config (file, then environment, then flags) and build the logger
  3. Initialize SQLite store
  4. Create crm and messaging services and the API handler
  5. Start the policy expiry scheduler (scheduler.enabled)
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (default: crm.yaml, optional)
  -port    HTTP server port, overrides config
  -db      SQLite database path, overrides config
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the expiry scheduler, then close database connection
  4. Exit

EXAMPLES:
  ./server -config=./deploy/crm.yaml
  CRM_JWT_SECRET=... ./server -db="./data/crm.db" -port=3000

SEE ALSO:
  - config/config.go: Settings and environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/agency-crm/api"
	"github.com/warp/agency-crm/config"
	"github.com/warp/agency-crm/crm"
	"github.com/warp/agency-crm/messaging"
	"github.com/warp/agency-crm/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "crm.yaml", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	os.Exit(exitCode(logger, run(cfg, logger)))
}

// exitCode logs the outcome of run and flushes the logger.
func exitCode(logger *zap.Logger, err error) int {
	code := 0
	if err != nil {
		logger.Error("server exited", zap.Error(err))
		code = 1
	}
	_ = logger.Sync()
	return code
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	svc := crm.NewService(store, logger.Named("crm"))
	if cfg.Auth.BcryptCost > 0 {
		svc.BcryptCost = cfg.Auth.BcryptCost
	}
	msgs := messaging.NewService(store, logger.Named("messaging"))
	auth := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.GetTokenTTL())

	if cfg.Scheduler.Enabled {
		expiry := crm.NewExpiryScheduler(svc, cfg.GetExpiryInterval())
		expiry.Start()
		defer expiry.Stop()
	}

	handler := api.NewHandler(svc, msgs, auth, logger.Named("api"))
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
		IdleTimeout:  cfg.GetIdleTimeout(),
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("db", cfg.Database.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
