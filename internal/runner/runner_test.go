package runner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/imagen-api/internal/blob"
	"github.com/phrazzld/imagen-api/internal/broker"
	"github.com/phrazzld/imagen-api/internal/bus"
	"github.com/phrazzld/imagen-api/internal/dispatch"
	"github.com/phrazzld/imagen-api/internal/domain"
	"github.com/phrazzld/imagen-api/internal/generation"
	"github.com/phrazzld/imagen-api/internal/status"
	"github.com/phrazzld/imagen-api/internal/store"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type fixture struct {
	broker    *broker.MemoryBroker
	tracker   *status.Tracker
	eventBus  *bus.EventBus
	submitter *dispatch.Submitter
	blobs     *blob.Store
	runner    *Runner
}

func setup(t *testing.T, engine generation.Generator) *fixture {
	t.Helper()
	logger := setupTestLogger()
	b := broker.NewMemoryBroker()
	kv := store.NewMemoryStore()
	tracker := status.NewTracker(kv)
	eventBus := bus.NewEventBus(b, tracker, logger)
	blobs := blob.NewStore(kv, []byte("test-secret"), "http://localhost:8000/blob", logger)
	if engine == nil {
		engine = generation.NewStubEngine(0, logger)
	}
	return &fixture{
		broker:    b,
		tracker:   tracker,
		eventBus:  eventBus,
		submitter: dispatch.NewSubmitter(b, eventBus, tracker, logger),
		blobs:     blobs,
		runner:    New(dispatch.NewListener(b, logger), eventBus, tracker, blobs, engine, logger),
	}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Error("runner did not stop after cancellation")
		}
	})
}

func newTestTask(prompt string) domain.Task {
	params := &domain.Txt2ImgParams{
		CommonParams: domain.CommonParams{Model: "sd-2", Prompt: prompt, Steps: 2},
		Width:        32,
		Height:       32,
	}
	params.ApplyDefaults()
	return domain.NewTask(params, domain.User{Username: "ada", SessionID: "s-1"})
}

// waitTerminal polls the latest stored event until it is terminal.
func waitTerminal(t *testing.T, tracker *status.Tracker, taskID domain.TaskID) domain.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		event, err := tracker.GetLatestEvent(context.Background(), taskID)
		require.NoError(t, err)
		if event != nil && event.Terminal() {
			return event
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal state", taskID)
	return nil
}

func TestRunnerCompletesTaskWithRetrievableResult(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	task := newTestTask("a corgi wearing a top hat")

	f.start(t)
	require.NoError(t, f.submitter.Submit(ctx, task))

	event := waitTerminal(t, f.tracker, task.ID)
	finished, ok := event.(domain.FinishedEvent)
	require.True(t, ok, "expected a finished event, got %T", event)

	// The locator in the result must resolve to stored bytes.
	data, err := f.blobs.Get(ctx, finished.Result.BlobURL)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// Resolved parameters echo the request with the seed filled in.
	require.NotNil(t, finished.Result.ParametersUsed.Common().Seed)
	assert.Equal(t, task.Parameters.Common().Prompt, finished.Result.ParametersUsed.Common().Prompt)
}

func TestRunnerProcessesTasksInSubmissionOrder(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	first := newTestTask("first")
	second := newTestTask("second")
	require.NoError(t, f.submitter.Submit(ctx, first))
	require.NoError(t, f.submitter.Submit(ctx, second))

	f.start(t)

	firstEvent := waitTerminal(t, f.tracker, first.ID)
	assert.IsType(t, domain.FinishedEvent{}, firstEvent)
	secondEvent := waitTerminal(t, f.tracker, second.ID)
	assert.IsType(t, domain.FinishedEvent{}, secondEvent)
}

func TestRunnerStartsThenAbortsTaskCancelledBeforeDequeue(t *testing.T) {
	f := setup(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	task := newTestTask("doomed")

	listener := bus.NewListener(f.broker, setupTestLogger())
	stream, err := listener.Listen(ctx)
	require.NoError(t, err)

	require.NoError(t, f.submitter.Submit(ctx, task))
	require.NoError(t, f.tracker.SetCancelled(ctx, task.ID))

	f.start(t)

	// The flag is observed by the engine, not used to filter the queue:
	// the task is still dequeued and started, then aborted on the first
	// cancel poll.
	var sequence []domain.EventType
	for {
		select {
		case got := <-stream:
			sequence = append(sequence, got.Event.EventType())
			if got.Event.Terminal() {
				assert.Equal(t, []domain.EventType{
					domain.EventTypePending,
					domain.EventTypeStarted,
					domain.EventTypeAborted,
				}, sequence)
				aborted, ok := got.Event.(domain.AbortedEvent)
				require.True(t, ok, "expected an aborted event, got %T", got.Event)
				assert.Equal(t, domain.AbortReasonCancelled, aborted.Reason)
				return
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("task never reached a terminal state; observed sequence: %v", sequence)
		}
	}
}

func TestRunnerAbortsTaskCancelledMidGeneration(t *testing.T) {
	started := make(chan struct{}, 1)
	engine := &signalEngine{started: started}
	f := setup(t, engine)
	ctx := context.Background()
	task := newTestTask("long haul")

	f.start(t)
	require.NoError(t, f.submitter.Submit(ctx, task))

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("engine never started")
	}
	require.NoError(t, f.tracker.SetCancelled(ctx, task.ID))

	event := waitTerminal(t, f.tracker, task.ID)
	aborted, ok := event.(domain.AbortedEvent)
	require.True(t, ok, "expected an aborted event, got %T", event)
	assert.Equal(t, domain.AbortReasonCancelled, aborted.Reason)
}

// signalEngine announces when generation begins, then spins on the
// cancel check.
type signalEngine struct {
	started chan struct{}
}

func (e *signalEngine) Generate(ctx context.Context, _ domain.Params, cancelled generation.CancelCheck, _ generation.Progress) ([]byte, domain.Params, error) {
	e.started <- struct{}{}
	for {
		if cancelled() {
			return nil, nil, generation.ErrCancelled
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// failingEngine fails the first generation, then delegates.
type failingEngine struct {
	next  generation.Generator
	calls int
}

func (e *failingEngine) Generate(ctx context.Context, params domain.Params, cancelled generation.CancelCheck, progress generation.Progress) ([]byte, domain.Params, error) {
	e.calls++
	if e.calls == 1 {
		return nil, nil, errors.New("CUDA out of memory")
	}
	return e.next.Generate(ctx, params, cancelled, progress)
}

func TestRunnerSurvivesEngineFailure(t *testing.T) {
	logger := setupTestLogger()
	engine := &failingEngine{next: generation.NewStubEngine(0, logger)}
	f := setup(t, engine)
	ctx := context.Background()

	doomed := newTestTask("doomed")
	healthy := newTestTask("healthy")

	f.start(t)
	require.NoError(t, f.submitter.Submit(ctx, doomed))
	require.NoError(t, f.submitter.Submit(ctx, healthy))

	event := waitTerminal(t, f.tracker, doomed.ID)
	aborted, ok := event.(domain.AbortedEvent)
	require.True(t, ok, "expected an aborted event, got %T", event)
	assert.Equal(t, "internal error: CUDA out of memory", aborted.Reason)

	// The failure is scoped to its task; the loop keeps consuming.
	assert.IsType(t, domain.FinishedEvent{}, waitTerminal(t, f.tracker, healthy.ID))
}

func TestRunnerStopsOnMalformedPayload(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	require.NoError(t, f.broker.Push(ctx, dispatch.QueueTask, "not-a-task"))

	err := f.runner.Run(ctx)
	assert.ErrorIs(t, err, dispatch.ErrMalformedTask)
}

func TestRunnerStopsCleanlyOnContextCancel(t *testing.T) {
	f := setup(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after cancellation")
	}
}
