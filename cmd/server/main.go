package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/david/grantmatch/internal/api"
	"github.com/david/grantmatch/internal/auth"
	"github.com/david/grantmatch/internal/companieshouse"
	"github.com/david/grantmatch/internal/config"
	"github.com/david/grantmatch/internal/db"
	"github.com/david/grantmatch/internal/grants"
	"github.com/david/grantmatch/internal/sourceclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	registry, err := grants.BuildRegistry(cfg, grants.DefaultFactory)
	if err != nil {
		log.Fatalf("Failed to build provider registry: %v", err)
	}

	deps := api.Deps{
		Registry:    registry,
		Store:       db.NewStore(pool),
		Auth:        auth.NewService(pool),
		Search:      cfg.Search,
		CORSOrigins: cfg.Server.CORSOrigins,
	}

	// Leave Companies unset rather than storing a nil *Client in the interface.
	if cfg.CompaniesHouse.Enabled {
		ch, err := companieshouse.NewFromConfig(cfg.CompaniesHouse.ClientConfig())
		switch {
		case errors.Is(err, sourceclient.ErrMissingCredentials):
			log.Printf("[CompaniesHouse] No API key configured, company endpoints disabled")
		case err != nil:
			log.Fatalf("Failed to create Companies House client: %v", err)
		default:
			deps.Companies = ch
		}
	}

	srv := api.NewServer(deps)
	go func() {
		log.Printf("Server starting on port %s...", cfg.Server.Port)
		if err := srv.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
