package broker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopFIFO(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	require.NoError(t, b.Push(ctx, "q", "first"))
	require.NoError(t, b.Push(ctx, "q", "second"))
	require.NoError(t, b.Push(ctx, "q", "third"))

	for _, want := range []string{"first", "second", "third"} {
		got, err := b.Pop(ctx, "q")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	done := make(chan string, 1)
	go func() {
		payload, err := b.Pop(ctx, "q")
		if err == nil {
			done <- payload
		}
	}()

	// The popper must still be waiting: nothing was pushed yet.
	select {
	case payload := <-done:
		t.Fatalf("pop returned %q before any push", payload)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, b.Push(ctx, "q", "late"))

	select {
	case payload := <-done:
		assert.Equal(t, "late", payload)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake after push")
	}
}

func TestPopHonorsContextCancellation(t *testing.T) {
	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Pop(ctx, "q")
		errCh <- err
	}()

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("pop did not return after cancellation")
	}
}

func TestPopRequiresQueueNames(t *testing.T) {
	b := NewMemoryBroker()
	_, err := b.Pop(context.Background())
	assert.ErrorIs(t, err, ErrNoQueues)
}

func TestPopIsDestructiveAcrossConsumers(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, b.Push(ctx, "q", fmt.Sprintf("payload-%d", i)))
	}

	results := make(chan string, n)
	for w := 0; w < 4; w++ {
		go func() {
			for {
				payload, err := b.Pop(ctx, "q")
				if err != nil {
					return
				}
				results <- payload
			}
		}()
	}

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		select {
		case payload := <-results:
			assert.False(t, seen[payload], "payload %q delivered twice", payload)
			seen[payload] = true
		case <-time.After(time.Second):
			t.Fatalf("only received %d of %d payloads", i, n)
		}
	}
}

func TestPopFairAcrossQueues(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	// Keep both queues non-empty, then pop repeatedly: both must be served.
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Push(ctx, "a", "from-a"))
		require.NoError(t, b.Push(ctx, "b", "from-b"))
	}

	counts := make(map[string]int)
	for i := 0; i < 10; i++ {
		payload, err := b.Pop(ctx, "a", "b")
		require.NoError(t, err)
		counts[payload]++
	}

	assert.Positive(t, counts["from-a"], "queue a was starved")
	assert.Positive(t, counts["from-b"], "queue b was starved")
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	first, err := b.Subscribe(ctx, "event")
	require.NoError(t, err)
	defer func() { _ = first.Close() }()

	second, err := b.Subscribe(ctx, "event")
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	require.NoError(t, b.Publish(ctx, "event", "one"))
	require.NoError(t, b.Publish(ctx, "event", "two"))

	for _, sub := range []Subscription{first, second} {
		for _, want := range []string{"one", "two"} {
			select {
			case got := <-sub.Messages():
				assert.Equal(t, want, got)
			case <-time.After(time.Second):
				t.Fatal("subscriber did not receive published message")
			}
		}
	}
}

func TestNoRetroactiveReplay(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, "event", "before-subscribe"))

	sub, err := b.Subscribe(ctx, "event")
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	require.NoError(t, b.Publish(ctx, "event", "after-subscribe"))

	select {
	case got := <-sub.Messages():
		assert.Equal(t, "after-subscribe", got)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive message published after subscribing")
	}
}

func TestSubscribeFiltersByTopic(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "event")
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	require.NoError(t, b.Publish(ctx, "other", "wrong-topic"))
	require.NoError(t, b.Publish(ctx, "event", "right-topic"))

	select {
	case got := <-sub.Messages():
		assert.Equal(t, "right-topic", got)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive message on its topic")
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "event")
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	// Publishing after close must not panic and must not deliver.
	require.NoError(t, b.Publish(ctx, "event", "late"))

	_, open := <-sub.Messages()
	assert.False(t, open, "message channel should be closed")

	assert.ErrorIs(t, sub.Close(), ErrSubscriptionClosed)
}
