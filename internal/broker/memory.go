package broker

import (
	"context"
	"sync"
)

// defaultSubscriberBuffer is the per-subscription channel buffer. The live
// event stream is best-effort; a subscriber that falls this far behind
// starts losing messages rather than stalling publishers.
const defaultSubscriberBuffer = 256

// MemoryBroker is the single-process Broker implementation. It is an
// explicitly constructed, owned object: two components share queues and
// topics only by sharing the same instance.
//
// Queue pops block on a condition variable rather than polling. Topic
// delivery writes into per-subscription buffered channels under the
// publish lock, so every open subscription observes every message in
// publish order.
type MemoryBroker struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queues map[string][]string
	topics map[string][]*memorySubscription
	rr     int
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	b := &MemoryBroker{
		queues: make(map[string][]string),
		topics: make(map[string][]*memorySubscription),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push implements Broker.
func (b *MemoryBroker) Push(ctx context.Context, queue string, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.queues[queue] = append(b.queues[queue], payload)
	b.mu.Unlock()
	b.cond.Broadcast()
	return nil
}

// Pop implements Broker. The scan over the given queues starts at a
// rotating offset so that one busy queue cannot starve the others.
func (b *MemoryBroker) Pop(ctx context.Context, queues ...string) (string, error) {
	if len(queues) == 0 {
		return "", ErrNoQueues
	}

	// Wake the condition variable when the caller gives up waiting.
	stop := context.AfterFunc(ctx, func() {
		b.cond.Broadcast()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		start := b.rr
		b.rr++
		for i := range queues {
			name := queues[(start+i)%len(queues)]
			if items := b.queues[name]; len(items) > 0 {
				payload := items[0]
				b.queues[name] = items[1:]
				return payload, nil
			}
		}
		b.cond.Wait()
	}
}

// Publish implements Broker. Delivery to each open subscription is
// non-blocking: a full subscriber buffer drops the message instead of
// stalling the publisher.
func (b *MemoryBroker) Publish(ctx context.Context, topic string, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.topics[topic] {
		sub.send(message)
	}
	return nil
}

// Subscribe implements Broker.
func (b *MemoryBroker) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &memorySubscription{
		broker: b,
		topics: topics,
		ch:     make(chan string, defaultSubscriberBuffer),
	}
	b.mu.Lock()
	for _, topic := range topics {
		b.topics[topic] = append(b.topics[topic], sub)
	}
	b.mu.Unlock()
	return sub, nil
}

// memorySubscription is one subscriber's view onto its topics.
type memorySubscription struct {
	broker *MemoryBroker
	topics []string
	ch     chan string

	mu     sync.Mutex
	closed bool
}

// Messages implements Subscription.
func (s *memorySubscription) Messages() <-chan string {
	return s.ch
}

// Close implements Subscription. It deregisters from the broker first, so
// no publish can race with the channel close.
func (s *memorySubscription) Close() error {
	s.broker.mu.Lock()
	for _, topic := range s.topics {
		subs := s.broker.topics[topic]
		for i, registered := range subs {
			if registered == s {
				s.broker.topics[topic] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(s.broker.topics[topic]) == 0 {
			delete(s.broker.topics, topic)
		}
	}
	s.broker.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriptionClosed
	}
	s.closed = true
	close(s.ch)
	return nil
}

// send delivers a message, dropping it if the subscription is closed or
// its buffer is full.
func (s *memorySubscription) send(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- message:
	default:
	}
}

// Compile-time interface checks.
var (
	_ Broker       = (*MemoryBroker)(nil)
	_ Subscription = (*memorySubscription)(nil)
)
