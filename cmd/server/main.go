package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/cors"

	"github.com/UpswitchEU/valuation-history/internal/api"
	"github.com/UpswitchEU/valuation-history/internal/audit"
	"github.com/UpswitchEU/valuation-history/internal/config"
	"github.com/UpswitchEU/valuation-history/internal/db"
	"github.com/UpswitchEU/valuation-history/internal/idempotency"
	"github.com/UpswitchEU/valuation-history/internal/middleware"
	"github.com/UpswitchEU/valuation-history/internal/repository"
	"github.com/UpswitchEU/valuation-history/internal/syncer"
	"github.com/UpswitchEU/valuation-history/internal/version"
)

func main() {
	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.DB, cfg.Server.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create repositories
	versionRepo := repository.NewVersionRepository(conn.Pool)
	auditArchive := repository.NewAuditArchive(conn.Pool)

	// Create services
	trail := audit.NewTrail(
		audit.WithCapacity(cfg.Audit.Capacity),
		audit.WithArchive(auditArchive),
	)
	versions := version.NewStore(versionRepo)
	keys := idempotency.NewManager(idempotency.WithExpiry(cfg.Keys.Expiry))
	sessions := syncer.NewRegistry(func(reportID string) *syncer.Coordinator {
		return syncer.New(reportID, versions, keys, trail)
	})

	// Periodically sweep expired idempotency keys. Expiry itself is
	// still evaluated lazily on access; the sweep only bounds the map.
	janitor := cron.New()
	if _, err := janitor.AddFunc(cfg.Keys.CleanupSchedule, func() {
		if removed := keys.CleanupExpired(); removed > 0 {
			log.Printf("[KEYS] removed %d expired idempotency keys", removed)
		}
	}); err != nil {
		log.Fatalf("Failed to schedule key cleanup: %v", err)
	}
	janitor.Start()
	defer janitor.Stop()

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	apiHandler := middleware.LoggingMiddleware(
		api.NewHTTPHandler(versions, trail, sessions),
	)

	mux := http.NewServeMux()
	mux.Handle("/reports/", corsHandler.Handler(apiHandler))
	mux.Handle("/audit", corsHandler.Handler(apiHandler))
	mux.Handle("/audit/", corsHandler.Handler(apiHandler))

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting valuation history server on %s", cfg.Server.Addr)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
