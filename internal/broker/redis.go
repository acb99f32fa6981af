package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBroker is the distributed Broker implementation. Queues map to
// Redis lists (LPUSH/BRPOP, strict FIFO with destructive single-consumer
// pop) and topics map to native Redis channels. Concurrency across worker
// processes is delegated to Redis itself.
type RedisBroker struct {
	client redis.UniversalClient
}

// NewRedisBroker wraps an existing Redis client. The caller owns the
// client's lifecycle.
func NewRedisBroker(client redis.UniversalClient) *RedisBroker {
	return &RedisBroker{client: client}
}

// Push implements Broker.
func (b *RedisBroker) Push(ctx context.Context, queue string, payload string) error {
	if err := b.client.LPush(ctx, queue, payload).Err(); err != nil {
		return wrapRedisErr("push", err)
	}
	return nil
}

// Pop implements Broker. BRPOP checks the given keys in order on every
// wakeup, and Redis wakes exactly one blocked client per pushed element.
func (b *RedisBroker) Pop(ctx context.Context, queues ...string) (string, error) {
	if len(queues) == 0 {
		return "", ErrNoQueues
	}
	result, err := b.client.BRPop(ctx, 0, queues...).Result()
	if err != nil {
		return "", wrapRedisErr("pop", err)
	}
	// BRPOP returns [key, value].
	if len(result) != 2 {
		return "", fmt.Errorf("%w: pop: unexpected BRPOP reply of length %d", ErrUnavailable, len(result))
	}
	return result[1], nil
}

// Publish implements Broker.
func (b *RedisBroker) Publish(ctx context.Context, topic string, message string) error {
	if err := b.client.Publish(ctx, topic, message).Err(); err != nil {
		return wrapRedisErr("publish", err)
	}
	return nil
}

// Subscribe implements Broker. It waits for the broker's subscription
// confirmation before returning, so messages published after Subscribe
// returns are guaranteed to be observed.
func (b *RedisBroker) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, topics...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, wrapRedisErr("subscribe", err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan string, defaultSubscriberBuffer),
	}
	go sub.pump()
	return sub, nil
}

// redisSubscription adapts a go-redis PubSub to the Subscription contract.
type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan string
}

// pump forwards broker messages until the underlying PubSub is closed.
func (s *redisSubscription) pump() {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		// Same best-effort contract as the in-memory backend: a consumer
		// that stops draining loses messages instead of blocking the pump.
		select {
		case s.ch <- msg.Payload:
		default:
		}
	}
}

// Messages implements Subscription.
func (s *redisSubscription) Messages() <-chan string {
	return s.ch
}

// Close implements Subscription.
func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}

// wrapRedisErr classifies a go-redis error: context cancellation passes
// through untouched, anything else is a retryable backend failure.
func wrapRedisErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// Compile-time interface checks.
var (
	_ Broker       = (*RedisBroker)(nil)
	_ Subscription = (*redisSubscription)(nil)
)
