// Package bus distributes task lifecycle events. Sending persists the
// event as the task's latest status and then publishes it on the single
// "event" topic; listening decodes the stream back into (session, event)
// pairs. The two effects of a send are deliberately not transactional: the
// published stream is a best-effort live feed, while polling reads the
// persisted status.
package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/imagen-api/internal/broker"
	"github.com/phrazzld/imagen-api/internal/domain"
	"github.com/phrazzld/imagen-api/internal/status"
)

// TopicEvent is the single pub/sub topic carrying all lifecycle events.
const TopicEvent = "event"

// EventBus publishes lifecycle events.
type EventBus struct {
	broker  broker.Broker
	tracker *status.Tracker
	logger  *slog.Logger
}

// NewEventBus creates an event bus over the given broker and tracker.
func NewEventBus(b broker.Broker, tracker *status.Tracker, logger *slog.Logger) *EventBus {
	return &EventBus{
		broker:  b,
		tracker: tracker,
		logger:  logger.With("component", "event_bus"),
	}
}

// SendEvent persists the event as the task's latest status, then publishes
// the envelope. Persist-then-publish ordering means a poller can never be
// ahead of the live stream for the same event.
func (b *EventBus) SendEvent(ctx context.Context, sessionID domain.SessionID, event domain.Event) error {
	if err := b.tracker.StoreEvent(ctx, event); err != nil {
		return fmt.Errorf("storing event: %w", err)
	}
	envelope, err := EncodeEnvelope(sessionID, event)
	if err != nil {
		return err
	}
	if err := b.broker.Publish(ctx, TopicEvent, envelope); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	b.logger.Debug("event sent",
		"task_id", event.TaskID(),
		"event_type", event.EventType())
	return nil
}

// SessionEvent is one decoded entry from the event stream.
type SessionEvent struct {
	SessionID domain.SessionID
	Event     domain.Event
}

// Listener consumes the event stream.
type Listener struct {
	broker broker.Broker
	logger *slog.Logger
}

// NewListener creates a listener over the given broker.
func NewListener(b broker.Broker, logger *slog.Logger) *Listener {
	return &Listener{
		broker: b,
		logger: logger.With("component", "event_listener"),
	}
}

// Listen subscribes to the event topic and yields decoded (session, event)
// pairs until the context is cancelled. Malformed envelopes are dropped
// with a log line, never surfaced: the stream is best-effort and one bad
// message must not end it. The returned channel is closed on shutdown.
func (l *Listener) Listen(ctx context.Context) (<-chan SessionEvent, error) {
	sub, err := l.broker.Subscribe(ctx, TopicEvent)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s topic: %w", TopicEvent, err)
	}

	out := make(chan SessionEvent)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Messages():
				if !ok {
					return
				}
				sessionID, event, err := DecodeEnvelope(msg)
				if err != nil {
					l.logger.Warn("dropping malformed envelope", "error", err)
					continue
				}
				select {
				case out <- SessionEvent{SessionID: sessionID, Event: event}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
