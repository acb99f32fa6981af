// Package main implements a standalone generation worker. It requires
// the redis backend: workers share the task queue and status store with
// the server over Redis, and more workers mean more concurrent
// generations. Each worker still executes one task at a time.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/imagen-api/internal/blob"
	"github.com/phrazzld/imagen-api/internal/broker"
	"github.com/phrazzld/imagen-api/internal/bus"
	"github.com/phrazzld/imagen-api/internal/config"
	"github.com/phrazzld/imagen-api/internal/dispatch"
	"github.com/phrazzld/imagen-api/internal/generation"
	"github.com/phrazzld/imagen-api/internal/platform/logger"
	"github.com/phrazzld/imagen-api/internal/runner"
	"github.com/phrazzld/imagen-api/internal/status"
	"github.com/phrazzld/imagen-api/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logg := logger.Setup(cfg.Server)

	if cfg.Broker.Backend != "redis" {
		return errors.New("standalone workers require broker.backend=redis; the memory backend embeds its worker in the server")
	}

	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opt)
	b := broker.NewRedisBroker(client)
	kv := store.NewRedisStore(client, time.Duration(cfg.Redis.TTLHours)*time.Hour)

	tracker := status.NewTracker(kv)
	eventBus := bus.NewEventBus(b, tracker, logg)
	blobs := blob.NewStore(kv, []byte(cfg.Auth.JWTSecret), cfg.Blob.BaseURL, logg)
	engine := generation.NewStubEngine(time.Duration(cfg.Worker.StepDelayMS)*time.Millisecond, logg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logg.Info("worker starting", "runner_count", cfg.Worker.Count)

	// Each runner loop processes one task at a time; the destructive queue
	// pop keeps them from ever sharing a task.
	var wg sync.WaitGroup
	errCh := make(chan error, cfg.Worker.Count)
	for i := 0; i < cfg.Worker.Count; i++ {
		work := runner.New(dispatch.NewListener(b, logg), eventBus, tracker, blobs, engine,
			logg.With("runner", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := work.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
				stop()
			}
		}()
	}
	wg.Wait()

	select {
	case err := <-errCh:
		return fmt.Errorf("runner stopped: %w", err)
	default:
	}
	logg.Info("worker stopped")
	return nil
}
