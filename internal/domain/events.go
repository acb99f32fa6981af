package domain

import (
	"encoding/json"
	"fmt"
)

// BlobURL locates a stored blob. Under the token scheme the URL embeds a
// signed token, so possession of a valid URL is the access credential.
type BlobURL string

// EventType tags the closed set of lifecycle event variants.
type EventType string

// Lifecycle event types, in the order a successful task emits them.
const (
	EventTypePending  EventType = "pending"
	EventTypeStarted  EventType = "started"
	EventTypeFinished EventType = "finished"
	EventTypeAborted  EventType = "aborted"
)

// Event is the closed union of task lifecycle updates. Concrete types are
// PendingEvent, StartedEvent, FinishedEvent and AbortedEvent. Exactly one
// terminal event (finished xor aborted) is expected per task; the status
// tracker keeps only the latest event, last-write-wins.
type Event interface {
	// EventType returns the variant tag.
	EventType() EventType

	// TaskID returns the task this update belongs to.
	TaskID() TaskID

	// Terminal reports whether this event ends the task's lifecycle.
	Terminal() bool

	isEvent()
}

// GeneratedResult describes a completed generation: where the output blob
// lives and the fully resolved parameters that produced it, including the
// randomized seed when the request did not supply one.
type GeneratedResult struct {
	BlobURL        BlobURL `json:"blob_url"`
	ParametersUsed Params  `json:"parameters_used"`
}

type generatedResultWire struct {
	BlobURL        BlobURL         `json:"blob_url"`
	ParametersUsed json.RawMessage `json:"parameters_used"`
}

// MarshalJSON implements json.Marshaler.
func (r GeneratedResult) MarshalJSON() ([]byte, error) {
	params, err := MarshalParams(r.ParametersUsed)
	if err != nil {
		return nil, fmt.Errorf("encoding result parameters: %w", err)
	}
	return json.Marshal(generatedResultWire{
		BlobURL:        r.BlobURL,
		ParametersUsed: params,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *GeneratedResult) UnmarshalJSON(data []byte) error {
	var wire generatedResultWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	params, err := UnmarshalParams(wire.ParametersUsed)
	if err != nil {
		return fmt.Errorf("decoding result parameters: %w", err)
	}
	r.BlobURL = wire.BlobURL
	r.ParametersUsed = params
	return nil
}

// PendingEvent records that a task has been accepted and queued.
type PendingEvent struct {
	ID TaskID `json:"task_id"`
}

// EventType implements Event.
func (PendingEvent) EventType() EventType { return EventTypePending }

// TaskID implements Event.
func (e PendingEvent) TaskID() TaskID { return e.ID }

// Terminal implements Event.
func (PendingEvent) Terminal() bool { return false }

func (PendingEvent) isEvent() {}

// StartedEvent records that a worker has begun executing a task.
type StartedEvent struct {
	ID TaskID `json:"task_id"`
}

// EventType implements Event.
func (StartedEvent) EventType() EventType { return EventTypeStarted }

// TaskID implements Event.
func (e StartedEvent) TaskID() TaskID { return e.ID }

// Terminal implements Event.
func (StartedEvent) Terminal() bool { return false }

func (StartedEvent) isEvent() {}

// FinishedEvent records successful completion with the generated result.
type FinishedEvent struct {
	ID     TaskID          `json:"task_id"`
	Result GeneratedResult `json:"result"`
}

// EventType implements Event.
func (FinishedEvent) EventType() EventType { return EventTypeFinished }

// TaskID implements Event.
func (e FinishedEvent) TaskID() TaskID { return e.ID }

// Terminal implements Event.
func (FinishedEvent) Terminal() bool { return true }

func (FinishedEvent) isEvent() {}

// AbortReasonCancelled is the fixed reason reported when a task is
// cancelled by its owner, as opposed to failing internally.
const AbortReasonCancelled = "cancelled by user"

// AbortedEvent records abnormal termination with a human-readable reason.
// Cancellation is a normal terminal outcome, not an error; it carries the
// fixed AbortReasonCancelled reason.
type AbortedEvent struct {
	ID     TaskID `json:"task_id"`
	Reason string `json:"reason"`
}

// EventType implements Event.
func (AbortedEvent) EventType() EventType { return EventTypeAborted }

// TaskID implements Event.
func (e AbortedEvent) TaskID() TaskID { return e.ID }

// Terminal implements Event.
func (AbortedEvent) Terminal() bool { return true }

func (AbortedEvent) isEvent() {}

// Compile-time union membership checks.
var (
	_ Event = PendingEvent{}
	_ Event = StartedEvent{}
	_ Event = FinishedEvent{}
	_ Event = AbortedEvent{}
)

// MarshalEvent encodes an event variant with its event_type tag.
func MarshalEvent(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	tag, err := json.Marshal(e.EventType())
	if err != nil {
		return nil, err
	}
	fields["event_type"] = tag
	return json.Marshal(fields)
}

// UnmarshalEvent decodes a tagged event variant. An unknown or missing
// event_type tag is an error.
func UnmarshalEvent(data []byte) (Event, error) {
	var probe struct {
		EventType EventType `json:"event_type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decoding event_type tag: %w", err)
	}

	switch probe.EventType {
	case EventTypePending:
		var e PendingEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventTypeStarted:
		var e StartedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventTypeFinished:
		var e FinishedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventTypeAborted:
		var e AbortedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, probe.EventType)
	}
}
