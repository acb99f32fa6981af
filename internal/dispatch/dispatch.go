// Package dispatch moves tasks from submitters to workers over the
// broker's task queue. Submission persists the task, advertises its
// pending status, and only then enqueues the payload, so a consumer can
// never observe a task as in progress before its pending event is durably
// recorded.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/imagen-api/internal/broker"
	"github.com/phrazzld/imagen-api/internal/bus"
	"github.com/phrazzld/imagen-api/internal/domain"
	"github.com/phrazzld/imagen-api/internal/status"
)

// QueueTask is the queue carrying serialized task payloads.
const QueueTask = "task_queue"

// ErrMalformedTask is returned when a dequeued payload cannot be decoded
// back into a task. The queue crosses a schema boundary that only this
// codebase writes to, so a bad payload is a deployment bug: consumers
// must stop with a clear diagnostic rather than spin past it.
var ErrMalformedTask = errors.New("malformed task payload")

// Submitter pushes tasks into the system.
type Submitter struct {
	broker   broker.Broker
	eventBus *bus.EventBus
	tracker  *status.Tracker
	logger   *slog.Logger
}

// NewSubmitter creates a task submitter.
func NewSubmitter(b broker.Broker, eventBus *bus.EventBus, tracker *status.Tracker, logger *slog.Logger) *Submitter {
	return &Submitter{
		broker:   b,
		eventBus: eventBus,
		tracker:  tracker,
		logger:   logger.With("component", "task_submitter"),
	}
}

// Submit registers the task, advertises it as pending, and enqueues it.
// The order is load-bearing: started must never be sent before pending is
// durably recorded, which holds because a worker can only dequeue after
// the push, and the push happens after the pending event.
func (s *Submitter) Submit(ctx context.Context, task domain.Task) error {
	if err := s.tracker.StoreTask(ctx, task); err != nil {
		return fmt.Errorf("storing task: %w", err)
	}
	if err := s.eventBus.SendEvent(ctx, task.User.SessionID, domain.PendingEvent{ID: task.ID}); err != nil {
		return fmt.Errorf("sending pending event: %w", err)
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding task %s: %w", task.ID, err)
	}
	if err := s.broker.Push(ctx, QueueTask, string(payload)); err != nil {
		return fmt.Errorf("enqueueing task %s: %w", task.ID, err)
	}
	s.logger.Info("task submitted",
		"task_id", task.ID,
		"task_type", task.Parameters.TaskType(),
		"username", task.User.Username)
	return nil
}

// Listener is the worker-side consumer of the task queue.
type Listener struct {
	broker broker.Broker
	logger *slog.Logger
}

// NewListener creates a task listener.
func NewListener(b broker.Broker, logger *slog.Logger) *Listener {
	return &Listener{
		broker: b,
		logger: logger.With("component", "task_listener"),
	}
}

// Next blocks until a task is available and returns it. Queue pop is
// destructive and exclusive per item, so concurrent listeners never
// receive the same task. An undecodable payload returns ErrMalformedTask.
func (l *Listener) Next(ctx context.Context) (domain.Task, error) {
	payload, err := l.broker.Pop(ctx, QueueTask)
	if err != nil {
		return domain.Task{}, err
	}
	var task domain.Task
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		return domain.Task{}, fmt.Errorf("%w: %v", ErrMalformedTask, err)
	}
	l.logger.Debug("task dequeued", "task_id", task.ID)
	return task, nil
}
