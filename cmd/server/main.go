/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the debt-engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load TOML configuration
  3. Initialize store (SQLite or Postgres per config)
  4. Wire allocation engine and audit service
  5. Configure HTTP router + Prometheus registry
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to TOML config file (default: debt-engine.toml)
  -port    Override the configured HTTP port
  -db      Override the configured database DSN

AUDIT RETENTION:
  When books.audit_retention_days > 0, a background loop purges audit
  records older than the retention window once a day. A retention of 0
  keeps the trail forever.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/books.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration schema
  - store/sqlite/sqlite.go, store/postgres/postgres.go: Persistence
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tally/debt-engine/allocation"
	"github.com/tally/debt-engine/api"
	"github.com/tally/debt-engine/audit"
	"github.com/tally/debt-engine/config"
	"github.com/tally/debt-engine/ledger"
	"github.com/tally/debt-engine/store/postgres"
	"github.com/tally/debt-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "debt-engine.toml", "path to TOML config file")
	port := flag.Int("port", 0, "override HTTP server port")
	dsn := flag.String("db", "", "override database DSN")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}

	ctx := context.Background()

	// Initialize store
	var store ledger.TxStore
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := postgres.New(ctx, cfg.Database.DSN)
		if err != nil {
			log.Fatalf("Failed to connect to postgres: %v", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate postgres schema: %v", err)
		}
		defer pg.Close()
		store = pg
	default:
		sq, err := sqlite.New(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer sq.Close()
		store = sq
	}

	// Wire domain services
	calc := ledger.StatusCalculator{EnableOverdueState: cfg.Books.EnableOverdueState}
	engine := allocation.NewEngine(store, ledger.DirectoryFromStore(store), calc)
	auditSvc := audit.NewService(store, calc)

	// Metrics + handler + router
	registry := prometheus.NewRegistry()
	handler := api.NewHandler(store, engine, auditSvc, api.NewMetrics(registry))
	router := api.NewRouter(handler, registry)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Audit retention loop
	purgeCtx, stopPurge := context.WithCancel(ctx)
	defer stopPurge()
	if cfg.Books.AuditRetentionDays > 0 {
		go runAuditRetention(purgeCtx, auditSvc, cfg.Books.AuditRetentionDays)
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("API available at http://%s:%d/api", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stopPurge()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// runAuditRetention purges audit records past the retention window,
// once at startup and then daily.
func runAuditRetention(ctx context.Context, svc *audit.Service, days int) {
	retention := time.Duration(days) * 24 * time.Hour
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		cutoff := time.Now().UTC().Add(-retention)
		n, err := svc.PurgeOlderThan(ctx, cutoff)
		if err != nil {
			log.Printf("Audit purge failed: %v", err)
		} else if n > 0 {
			log.Printf("Purged %d audit records older than %s", n, cutoff.Format(time.RFC3339))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
