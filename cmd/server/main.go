/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the ledger sharing server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (YAML file, .env, environment), apply flags
  2. Initialize logger and metrics
  3. Initialize SQLite store
  4. Create engine with a file loader on the ledger directory
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML configuration file (optional)
  -port    HTTP server port, overrides the configuration
  -db      SQLite database path, overrides the configuration
           Use ":memory:" for in-memory database
  -ledgers Directory ledger paths are resolved against

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Mark the service not ready
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with a config file
  ./server -config=share.yaml

  # Run with in-memory database
  ./server -db=":memory:" -ledgers=./books

ENVIRONMENT:
  SHARE_PORT, SHARE_DB, SHARE_LEDGER_DIR, SHARE_RECEIVABLE_ROOT,
  SHARE_TOLERANCE, SHARE_LOG_LEVEL. See config/config.go.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/ledger-share/api"
	"github.com/warp/ledger-share/config"
	"github.com/warp/ledger-share/engine"
	"github.com/warp/ledger-share/factory"
	"github.com/warp/ledger-share/observability"
	"github.com/warp/ledger-share/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML configuration file")
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	ledgerDir := flag.String("ledgers", "", "Ledger directory")
	flag.Parse()

	bootLog := observability.NewLogger("server")

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Server.DBPath = *dbPath
	}
	if *ledgerDir != "" {
		cfg.Ledger.Dir = *ledgerDir
	}
	if err := cfg.Validate(); err != nil {
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}

	level := observability.ParseLevel(cfg.Log.Level)
	log := observability.NewLoggerTo(os.Stdout, "server", level)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	// Initialize store
	store, err := sqlite.New(cfg.Server.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", cfg.Server.DBPath).Msg("failed to initialize database")
	}
	defer store.Close()
	store = store.WithMetrics(metrics)

	// Initialize engine
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid engine configuration")
	}
	eng := engine.New(engineCfg, factory.NewFileLoader(cfg.Ledger.Dir), observability.NewLoggerTo(os.Stdout, "engine", level), metrics)

	// Initialize handler
	handler := api.NewHandler(eng, store, store, log)
	handler.Health = observability.NewHealthChecker()
	handler.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	handler.CORSOrigins = cfg.Server.CORSOrigins

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Str("db", cfg.Server.DBPath).
			Str("ledgers", cfg.Ledger.Dir).
			Int("seed_policies", len(engineCfg.Seeds)).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()
	handler.Health.SetReady(true)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	handler.Health.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return
	}

	log.Info().Msg("server stopped")
}
