// Package main implements the imagen API server: HTTP front end for
// submitting generation tasks, polling their status, streaming lifecycle
// events, and storing blobs. With the memory backend it also embeds a
// generation worker, so a single process is a complete deployment.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/imagen-api/internal/api"
	"github.com/phrazzld/imagen-api/internal/api/middleware"
	"github.com/phrazzld/imagen-api/internal/blob"
	"github.com/phrazzld/imagen-api/internal/broker"
	"github.com/phrazzld/imagen-api/internal/bus"
	"github.com/phrazzld/imagen-api/internal/config"
	"github.com/phrazzld/imagen-api/internal/dispatch"
	"github.com/phrazzld/imagen-api/internal/generation"
	"github.com/phrazzld/imagen-api/internal/platform/logger"
	"github.com/phrazzld/imagen-api/internal/router"
	"github.com/phrazzld/imagen-api/internal/runner"
	"github.com/phrazzld/imagen-api/internal/service/auth"
	"github.com/phrazzld/imagen-api/internal/status"
	"github.com/phrazzld/imagen-api/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logg := logger.Setup(cfg.Server)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, kv, err := buildBackend(cfg)
	if err != nil {
		return err
	}

	tracker := status.NewTracker(kv)
	eventBus := bus.NewEventBus(b, tracker, logg)
	submitter := dispatch.NewSubmitter(b, eventBus, tracker, logg)
	blobs := blob.NewStore(kv, []byte(cfg.Auth.JWTSecret), cfg.Blob.BaseURL, logg)
	authService := auth.NewService(kv, []byte(cfg.Auth.JWTSecret),
		time.Duration(cfg.Auth.TokenLifetimeMinutes)*time.Minute, cfg.Auth.PublicAccess, logg)

	subRouter := router.New(bus.NewListener(b, logg), logg)
	if err := subRouter.Start(ctx); err != nil {
		return fmt.Errorf("starting subscription router: %w", err)
	}

	// The memory backend is process-local; without an embedded worker,
	// submitted tasks would sit in the queue forever.
	workerDone := make(chan error, 1)
	if cfg.Broker.Backend == "memory" {
		engine := generation.NewStubEngine(time.Duration(cfg.Worker.StepDelayMS)*time.Millisecond, logg)
		work := runner.New(dispatch.NewListener(b, logg), eventBus, tracker, blobs, engine, logg)
		go func() { workerDone <- work.Run(ctx) }()
		logg.Info("embedded worker started")
	} else {
		close(workerDone)
	}

	handler := api.NewRouter(api.Handlers{
		Auth:   api.NewAuthHandler(authService, cfg.Auth.AllowRegistration, logg),
		Task:   api.NewTaskHandler(submitter, tracker, logg),
		Sync:   api.NewSyncHandler(submitter, subRouter, blobs, logg),
		Blob:   api.NewBlobHandler(blobs, logg),
		Events: api.NewEventsHandler(subRouter, logg),
	}, middleware.NewAuthMiddleware(authService))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logg.Info("server listening", "port", cfg.Server.Port, "backend", cfg.Broker.Backend)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logg.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server stopped: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error("graceful shutdown failed", "error", err)
	}

	subRouter.Wait()
	if err := <-workerDone; err != nil && !errors.Is(err, context.Canceled) {
		logg.Error("embedded worker stopped with error", "error", err)
	}

	logg.Info("server stopped")
	return nil
}

// buildBackend constructs the broker and key-value store for the
// configured backend. Both sides of a deployment must use the same
// backend and, for redis, the same instance.
func buildBackend(cfg *config.Config) (broker.Broker, store.KeyValueStore, error) {
	switch cfg.Broker.Backend {
	case "memory":
		return broker.NewMemoryBroker(), store.NewMemoryStore(), nil
	case "redis":
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client := redis.NewClient(opt)
		ttl := time.Duration(cfg.Redis.TTLHours) * time.Hour
		return broker.NewRedisBroker(client), store.NewRedisStore(client, ttl), nil
	default:
		return nil, nil, fmt.Errorf("unknown broker backend %q", cfg.Broker.Backend)
	}
}
