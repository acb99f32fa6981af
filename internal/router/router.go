// Package router fans incoming lifecycle events out to live subscribers.
// A single background loop is the only reader of the event bus; every
// received event is written to all channels registered under its session
// id and all channels registered under its task id. Task-scoped
// subscriptions serve synchronous endpoints that close after the terminal
// event; session-scoped ones serve a websocket for its whole lifetime,
// and one event may legitimately reach the same consumer through both.
package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/phrazzld/imagen-api/internal/bus"
	"github.com/phrazzld/imagen-api/internal/domain"
)

// defaultSubscriberBuffer is the per-subscription buffer. Writes are
// non-blocking: a subscriber that stops draining loses events rather than
// stalling the shared fan-out loop.
const defaultSubscriberBuffer = 64

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("router already started")

// Subscription is one subscriber's live event feed. The consuming endpoint
// must Close it when done: on disconnect, or after receiving the terminal
// event for a task-scoped subscription. The router never auto-unregisters,
// even after terminal events.
type Subscription struct {
	router *Router
	// key this subscription is registered under, in exactly one of the
	// router's two maps.
	session domain.SessionID
	task    domain.TaskID
	ch      chan domain.Event

	mu     sync.Mutex
	closed bool
}

// Events returns the channel delivering this subscriber's events. It is
// closed when the subscription is closed.
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

// Close deregisters the subscription and closes its channel. Safe to call
// concurrently with fan-out delivery and idempotent.
func (s *Subscription) Close() {
	s.router.mu.Lock()
	if s.task != "" {
		s.router.byTask[s.task] = removeSub(s.router.byTask[s.task], s)
		if len(s.router.byTask[s.task]) == 0 {
			delete(s.router.byTask, s.task)
		}
	} else {
		s.router.bySession[s.session] = removeSub(s.router.bySession[s.session], s)
		if len(s.router.bySession[s.session]) == 0 {
			delete(s.router.bySession, s.session)
		}
	}
	s.router.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// send delivers an event without ever blocking the fan-out loop.
func (s *Subscription) send(event domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
		// Subscriber is not draining; the live stream is best-effort.
	}
}

func removeSub(subs []*Subscription, target *Subscription) []*Subscription {
	for i, sub := range subs {
		if sub == target {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Router owns the subscriber registries and the fan-out loop.
type Router struct {
	listener *bus.Listener
	logger   *slog.Logger

	mu        sync.Mutex
	bySession map[domain.SessionID][]*Subscription
	byTask    map[domain.TaskID][]*Subscription

	started bool
	done    chan struct{}
}

// New creates a router over the given bus listener.
func New(listener *bus.Listener, logger *slog.Logger) *Router {
	return &Router{
		listener:  listener,
		logger:    logger.With("component", "subscription_router"),
		bySession: make(map[domain.SessionID][]*Subscription),
		byTask:    make(map[domain.TaskID][]*Subscription),
		done:      make(chan struct{}),
	}
}

// Start subscribes to the event bus and launches the fan-out loop. The
// loop runs until the context is cancelled; Wait blocks until it has
// fully stopped.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	r.mu.Unlock()

	events, err := r.listener.Listen(ctx)
	if err != nil {
		return err
	}

	go func() {
		defer close(r.done)
		r.logger.Info("fan-out loop started")
		for sessionEvent := range events {
			r.dispatch(sessionEvent)
		}
		r.logger.Info("fan-out loop stopped")
	}()
	return nil
}

// Wait blocks until the fan-out loop has exited.
func (r *Router) Wait() {
	<-r.done
}

// dispatch delivers one event to every matching subscriber.
func (r *Router) dispatch(sessionEvent bus.SessionEvent) {
	event := sessionEvent.Event

	r.mu.Lock()
	targets := make([]*Subscription, 0,
		len(r.bySession[sessionEvent.SessionID])+len(r.byTask[event.TaskID()]))
	targets = append(targets, r.bySession[sessionEvent.SessionID]...)
	targets = append(targets, r.byTask[event.TaskID()]...)
	r.mu.Unlock()

	for _, sub := range targets {
		sub.send(event)
	}

	r.logger.Debug("event fanned out",
		"task_id", event.TaskID(),
		"event_type", event.EventType(),
		"subscriber_count", len(targets))
}

// SubscribeToSession registers a subscriber for every event sent to the
// given session.
func (r *Router) SubscribeToSession(sessionID domain.SessionID) *Subscription {
	sub := &Subscription{
		router:  r,
		session: sessionID,
		ch:      make(chan domain.Event, defaultSubscriberBuffer),
	}
	r.mu.Lock()
	r.bySession[sessionID] = append(r.bySession[sessionID], sub)
	r.mu.Unlock()
	return sub
}

// SubscribeToTask registers a subscriber for every event sent for the
// given task.
func (r *Router) SubscribeToTask(taskID domain.TaskID) *Subscription {
	sub := &Subscription{
		router: r,
		task:   taskID,
		ch:     make(chan domain.Event, defaultSubscriberBuffer),
	}
	r.mu.Lock()
	r.byTask[taskID] = append(r.byTask[taskID], sub)
	r.mu.Unlock()
	return sub
}
