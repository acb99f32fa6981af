// Package broker abstracts the queue and pub/sub primitives the engine is
// built on. Two interchangeable implementations exist: an in-process one
// for single-binary deployments and tests, and a Redis-backed one for
// distributed deployments with separate worker processes.
package broker

import (
	"context"
	"errors"
)

// Common broker errors.
var (
	// ErrUnavailable indicates the backing store or broker connection is
	// down. Callers should treat it as retryable; it must never be conflated
	// with a generation-side failure.
	ErrUnavailable = errors.New("broker unavailable")

	// ErrNoQueues is returned by Pop when called without any queue names.
	ErrNoQueues = errors.New("no queues given")

	// ErrSubscriptionClosed is returned when using a closed subscription.
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// Subscription is a live view onto one or more topics. Messages published
// after Subscribe returned are delivered in per-topic publish order; there
// is no retroactive replay. The caller must Close the subscription to
// release its resources.
type Subscription interface {
	// Messages returns the channel delivering published messages. The
	// channel is closed when the subscription is closed.
	Messages() <-chan string

	// Close unsubscribes and closes the message channel.
	Close() error
}

// Broker combines durable FIFO queues with fire-and-forget topics.
//
// Queues are destructive and shared: each pushed payload is delivered to
// exactly one popper. Topics are non-destructive broadcast: every
// subscription observes every message published while it is open.
type Broker interface {
	// Push appends a payload to the named queue and wakes one blocked popper.
	Push(ctx context.Context, queue string, payload string) error

	// Pop blocks until a payload is available on any of the given queues,
	// then removes and returns exactly one. When several queues are ready,
	// selection rotates so no queue is systematically starved. An empty
	// queue is the normal wait condition, never an error; Pop returns early
	// only on context cancellation or backend failure.
	Pop(ctx context.Context, queues ...string) (string, error)

	// Publish broadcasts a message on the named topic and returns
	// immediately. Subscribers that join after Publish returns are not
	// guaranteed to observe the message.
	Publish(ctx context.Context, topic string, message string) error

	// Subscribe registers interest in the given topics. Once Subscribe has
	// returned, every subsequent Publish on those topics is observed by the
	// returned subscription.
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)
}
