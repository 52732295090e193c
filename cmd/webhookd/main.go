// Command webhookd runs the Lemon Squeezy webhook receiver as a standalone
// service. Configuration comes from the environment (a .env file is loaded
// if present):
//
//	LEMONSQUEEZY_SIGNING_SECRET  webhook signing secret (required)
//	LEMONSQUEEZY_API_KEY         API key for subscription sync (optional)
//	DATABASE_URL                 PostgreSQL connection string
//	SUPABASE_URL                 Supabase project URL
//	SUPABASE_SERVICE_ROLE_KEY    Supabase service role key
//	ADMIN_TOKEN                  enables GET /plan when set
//	PORT                         listen port (default 8080)
//
// Exactly one of DATABASE_URL or SUPABASE_URL must be configured.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/studyhall-ai/lemonsync/pkg/api"
	"github.com/studyhall-ai/lemonsync/pkg/billing"
	"github.com/studyhall-ai/lemonsync/pkg/billing/lemonsqueezy"
	prommetrics "github.com/studyhall-ai/lemonsync/pkg/billing/metrics/prometheus"
	"github.com/studyhall-ai/lemonsync/pkg/profiles"
	zerolog_adapter "github.com/studyhall-ai/lemonsync/pkg/profiles/logger/zerolog"
	"github.com/studyhall-ai/lemonsync/storage/postgres"
	"github.com/studyhall-ai/lemonsync/storage/supabase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "webhookd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env if present. Missing file is fine, the environment wins.
	_ = godotenv.Load()

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger := zerolog_adapter.NewLogger(zlog)

	signingSecret := os.Getenv("LEMONSQUEEZY_SIGNING_SECRET")
	if signingSecret == "" {
		return errors.New("LEMONSQUEEZY_SIGNING_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	metrics := prommetrics.DefaultMetrics("lemonsync")

	provider, err := lemonsqueezy.NewProvider(billing.Config{
		Store:         store,
		SigningSecret: signingSecret,
		APIKey:        os.Getenv("LEMONSQUEEZY_API_KEY"),
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Handle("/webhooks/lemonsqueezy", provider.WebhookHandler())
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if adminToken := os.Getenv("ADMIN_TOKEN"); adminToken != "" {
		planHandler, err := api.NewHandler(api.Config{
			Store:      store,
			AdminToken: adminToken,
			Logger:     logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create plan handler: %w", err)
		}
		r.Get("/plan", planHandler.GetPlan)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("webhookd listening", profiles.Field{Key: "addr", Value: server.Addr})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildStore selects the profile store from the environment.
func buildStore(ctx context.Context) (profiles.Store, func(), error) {
	databaseURL := os.Getenv("DATABASE_URL")
	supabaseURL := os.Getenv("SUPABASE_URL")

	switch {
	case databaseURL != "" && supabaseURL != "":
		return nil, nil, errors.New("set only one of DATABASE_URL or SUPABASE_URL")

	case databaseURL != "":
		config := postgres.DefaultConfig()
		config.ConnectionString = databaseURL
		store, err := postgres.New(ctx, config)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil

	case supabaseURL != "":
		store, err := supabase.New(supabase.Config{
			BaseURL:        supabaseURL,
			ServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Supabase store: %w", err)
		}
		return store, func() {}, nil

	default:
		return nil, nil, errors.New("set DATABASE_URL or SUPABASE_URL")
	}
}
