// Package runner is the worker-side execution loop: it pulls tasks off
// the dispatch queue one at a time, drives the generation engine, and
// reports lifecycle events. One runner processes one task at a time;
// horizontal scale comes from running more workers against the same
// broker.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/phrazzld/imagen-api/internal/blob"
	"github.com/phrazzld/imagen-api/internal/broker"
	"github.com/phrazzld/imagen-api/internal/bus"
	"github.com/phrazzld/imagen-api/internal/dispatch"
	"github.com/phrazzld/imagen-api/internal/domain"
	"github.com/phrazzld/imagen-api/internal/generation"
	"github.com/phrazzld/imagen-api/internal/status"
	"github.com/phrazzld/imagen-api/internal/store"
)

// cancelPollInterval bounds how often the engine's cancel check hits the
// status store during a generation.
const cancelPollInterval = 500 * time.Millisecond

// Runner executes dequeued tasks against a generation engine.
type Runner struct {
	listener *dispatch.Listener
	eventBus *bus.EventBus
	tracker  *status.Tracker
	blobs    *blob.Store
	engine   generation.Generator
	logger   *slog.Logger
}

// New creates a runner.
func New(
	listener *dispatch.Listener,
	eventBus *bus.EventBus,
	tracker *status.Tracker,
	blobs *blob.Store,
	engine generation.Generator,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		listener: listener,
		eventBus: eventBus,
		tracker:  tracker,
		blobs:    blobs,
		engine:   engine,
		logger:   logger.With("component", "task_runner"),
	}
}

// Run consumes and executes tasks until the context is cancelled. A
// failing task aborts that task and the loop continues; the loop itself
// stops only on context cancellation, on a malformed queue payload
// (a deployment bug that must not be skipped past), or when the broker
// stays unreachable past the reconnect attempts.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("runner started")
	for {
		task, err := r.next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				r.logger.Info("runner stopped")
				return nil
			}
			return err
		}
		r.execute(ctx, task)
	}
}

// next dequeues the next task, retrying with exponential backoff while
// the broker is unreachable. ErrMalformedTask is returned as-is.
func (r *Runner) next(ctx context.Context) (domain.Task, error) {
	var task domain.Task
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	err := backoff.Retry(func() error {
		var err error
		task, err = r.listener.Next(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, broker.ErrUnavailable) {
			r.logger.Warn("broker unavailable, retrying", "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, policy)
	return task, err
}

// execute runs one task to a terminal event. Every failure path turns
// into an aborted event; execute never propagates task-level errors.
//
// Started is sent unconditionally, even for a task whose cancellation
// flag was raised while it sat in the queue: the flag is observed by the
// engine's cancel poll, never used to filter the queue, so such a task
// still starts and then aborts on the first poll.
func (r *Runner) execute(ctx context.Context, task domain.Task) {
	logger := r.logger.With("task_id", task.ID, "task_type", task.Parameters.TaskType())

	r.sendEvent(ctx, task, domain.StartedEvent{ID: task.ID})
	logger.Info("task started")

	data, resolved, err := r.engine.Generate(ctx, task.Parameters, r.cancelCheck(ctx, task.ID), func(step, total int) {
		logger.Debug("generation progress", "step", step, "total_steps", total)
	})
	switch {
	case errors.Is(err, generation.ErrCancelled):
		logger.Info("task cancelled during generation")
		r.sendEvent(ctx, task, domain.AbortedEvent{ID: task.ID, Reason: domain.AbortReasonCancelled})
		return
	case err != nil:
		logger.Error("generation failed", "error", err)
		r.sendEvent(ctx, task, domain.AbortedEvent{ID: task.ID, Reason: internalReason(err)})
		return
	}

	url, err := r.blobs.Put(ctx, data)
	if err != nil {
		logger.Error("storing result failed", "error", err)
		r.sendEvent(ctx, task, domain.AbortedEvent{ID: task.ID, Reason: internalReason(err)})
		return
	}

	r.sendEvent(ctx, task, domain.FinishedEvent{
		ID: task.ID,
		Result: domain.GeneratedResult{
			BlobURL:        url,
			ParametersUsed: resolved,
		},
	})
	logger.Info("task finished", "blob_url", url)
}

// cancelCheck adapts the one-way cancellation flag to the engine's poll
// callback, rate-limited so long generations do not hammer the store. A
// store error reads as not-cancelled; the flag is checked again on the
// next poll.
func (r *Runner) cancelCheck(ctx context.Context, taskID domain.TaskID) generation.CancelCheck {
	var lastPoll time.Time
	var lastValue bool
	return func() bool {
		if time.Since(lastPoll) < cancelPollInterval {
			return lastValue
		}
		lastPoll = time.Now()
		cancelled, err := r.tracker.IsCancelled(ctx, taskID)
		if err != nil {
			r.logger.Warn("cancellation poll failed", "task_id", taskID, "error", err)
			return lastValue
		}
		lastValue = cancelled
		return cancelled
	}
}

// sendEvent publishes a lifecycle event, retrying while the store or
// broker is unreachable. Losing a terminal event would strand pollers,
// so unavailability is worth waiting out.
func (r *Runner) sendEvent(ctx context.Context, task domain.Task, event domain.Event) {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	err := backoff.Retry(func() error {
		err := r.eventBus.SendEvent(ctx, task.User.SessionID, event)
		if err == nil {
			return nil
		}
		if errors.Is(err, broker.ErrUnavailable) || errors.Is(err, store.ErrUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
	if err != nil {
		r.logger.Error("sending lifecycle event failed",
			"task_id", task.ID,
			"event_type", event.EventType(),
			"error", err)
	}
}

func internalReason(err error) string {
	return fmt.Sprintf("internal error: %v", err)
}
