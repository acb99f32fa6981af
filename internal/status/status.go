// Package status tracks task definitions, each task's latest lifecycle
// event, and the cooperative cancellation flag, on top of the key-value
// store. There is no event log: the latest event overwrites the previous
// one, last-write-wins.
package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/imagen-api/internal/domain"
	"github.com/phrazzld/imagen-api/internal/store"
)

// Key-value collections owned by the tracker.
const (
	collectionTask      = "task"
	collectionTaskEvent = "task_event"
	collectionCancelled = "task_cancelled"
)

// ErrTaskNotFound is returned when an operation references a task that was
// never stored.
var ErrTaskNotFound = errors.New("task not found")

// Tracker persists tasks and their current status.
type Tracker struct {
	kv store.KeyValueStore
}

// NewTracker creates a tracker over the given key-value store.
func NewTracker(kv store.KeyValueStore) *Tracker {
	return &Tracker{kv: kv}
}

// StoreTask persists a task definition. The upsert is idempotent; tasks
// are immutable after submission, so re-storing the same task is harmless.
func (t *Tracker) StoreTask(ctx context.Context, task domain.Task) error {
	data, err := task.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding task %s: %w", task.ID, err)
	}
	return t.kv.Store(ctx, collectionTask, string(task.ID), string(data))
}

// GetTask returns the stored task, or ErrTaskNotFound.
func (t *Tracker) GetTask(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	data, found, err := t.kv.Retrieve(ctx, collectionTask, string(id))
	if err != nil {
		return domain.Task{}, err
	}
	if !found {
		return domain.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	var task domain.Task
	if err := task.UnmarshalJSON([]byte(data)); err != nil {
		return domain.Task{}, fmt.Errorf("decoding task %s: %w", id, err)
	}
	return task, nil
}

// StoreEvent records the event as the task's latest status, overwriting
// whatever was there. An event for a task that was never stored fails
// with ErrTaskNotFound.
func (t *Tracker) StoreEvent(ctx context.Context, event domain.Event) error {
	exists, err := t.kv.Exists(ctx, collectionTask, string(event.TaskID()))
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, event.TaskID())
	}
	data, err := domain.MarshalEvent(event)
	if err != nil {
		return fmt.Errorf("encoding event for task %s: %w", event.TaskID(), err)
	}
	return t.kv.Store(ctx, collectionTaskEvent, string(event.TaskID()), string(data))
}

// GetLatestEvent returns the most recently stored event for the task, or
// nil when no event has been recorded yet. A nil event for a known task is
// the narrow window between submission and the pending event landing;
// pollers should retry rather than treat it as absence of the task.
func (t *Tracker) GetLatestEvent(ctx context.Context, id domain.TaskID) (domain.Event, error) {
	data, found, err := t.kv.Retrieve(ctx, collectionTaskEvent, string(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	event, err := domain.UnmarshalEvent([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("decoding event for task %s: %w", id, err)
	}
	return event, nil
}

// SetCancelled raises the task's cancellation flag. The flag is one-way
// and never auto-clears; it takes effect the next time the generation
// engine polls it. Requires the task to exist.
func (t *Tracker) SetCancelled(ctx context.Context, id domain.TaskID) error {
	exists, err := t.kv.Exists(ctx, collectionTask, string(id))
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t.kv.Store(ctx, collectionCancelled, string(id), "true")
}

// IsCancelled reports whether the task's cancellation flag is raised.
func (t *Tracker) IsCancelled(ctx context.Context, id domain.TaskID) (bool, error) {
	return t.kv.Exists(ctx, collectionCancelled, string(id))
}
