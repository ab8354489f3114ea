package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		MaxRetries:          3,
		RetryDelay:          time.Millisecond,
		MaxRetryDelay:       5 * time.Millisecond,
		OperationRetries:    2,
		OperationRetryDelay: time.Millisecond,
	}
}

func newConnectedClient(t *testing.T, hub *MemoryHub, opts ...Option) *Client {
	t.Helper()
	c := NewClient(hub.Transport(), testConfig(), opts...)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// flakyTransport fails the first connectFailures connects and the first
// publishFailures publishes.
type flakyTransport struct {
	*MemoryTransport
	connectFailures int32
	publishFailures int32
	connects        atomic.Int32
	publishes       atomic.Int32
}

func (f *flakyTransport) Connect(ctx context.Context, deliver DeliverFunc) error {
	if f.connects.Add(1) <= f.connectFailures {
		return errors.New("connection refused")
	}
	return f.MemoryTransport.Connect(ctx, deliver)
}

func (f *flakyTransport) Publish(ctx context.Context, topic string, data []byte) error {
	if f.publishes.Add(1) <= f.publishFailures {
		return errors.New("broken pipe")
	}
	return f.MemoryTransport.Publish(ctx, topic, data)
}

type countingObserver struct {
	mu        sync.Mutex
	published map[string]int
	failed    map[string]int
	delivered map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		published: map[string]int{},
		failed:    map[string]int{},
		delivered: map[string]int{},
	}
}

func (o *countingObserver) MessagePublished(topic string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.failed[topic]++
		return
	}
	o.published[topic]++
}

func (o *countingObserver) MessageDelivered(topic string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delivered[topic]++
}

func (o *countingObserver) get(m map[string]int, topic string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return m[topic]
}

func TestClient_EchoDeliveredWithinBound(t *testing.T) {
	c := newConnectedClient(t, NewMemoryHub())
	ctx := context.Background()

	received := make(chan string, 1)
	_, err := c.Subscribe(ctx, "test.echo", func(_ context.Context, env Envelope) error {
		var s string
		if err := env.Decode(&s); err != nil {
			return err
		}
		received <- s
		return nil
	})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, c.Publish(ctx, "test.echo", "ping"))

	select {
	case got := <-received:
		assert.Equal(t, "ping", got)
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestClient_PreservesOrderPerSubscriber(t *testing.T) {
	c := newConnectedClient(t, NewMemoryHub())
	ctx := context.Background()

	const total = 200
	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	_, err := c.Subscribe(ctx, "test.seq", func(_ context.Context, env Envelope) error {
		var n int
		assert.NoError(t, env.Decode(&n))
		mu.Lock()
		got = append(got, n)
		if len(got) == total {
			close(done)
		}
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < total; i++ {
		require.NoError(t, c.Publish(ctx, "test.seq", i))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all messages delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, n := range got {
		assert.Equal(t, i, n)
	}
}

func TestClient_FanOutExactlyOnce(t *testing.T) {
	hub := NewMemoryHub()
	producer := newConnectedClient(t, hub)
	consumer := newConnectedClient(t, hub)
	ctx := context.Background()

	var a, b atomic.Int32
	_, err := consumer.Subscribe(ctx, "test.fanout", func(context.Context, Envelope) error {
		a.Add(1)
		return nil
	})
	require.NoError(t, err)
	_, err = consumer.Subscribe(ctx, "test.fanout", func(context.Context, Envelope) error {
		b.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers("test.fanout"))

	for i := 0; i < 10; i++ {
		require.NoError(t, producer.Publish(ctx, "test.fanout", i))
	}

	assert.Eventually(t, func() bool { return a.Load() == 10 && b.Load() == 10 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(10), a.Load())
	assert.Equal(t, int32(10), b.Load())
}

func TestClient_SlowHandlerDoesNotBlockOtherTopics(t *testing.T) {
	c := newConnectedClient(t, NewMemoryHub())
	ctx := context.Background()

	release := make(chan struct{})
	defer close(release)
	_, err := c.Subscribe(ctx, "test.slow", func(context.Context, Envelope) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	fast := make(chan struct{}, 1)
	_, err = c.Subscribe(ctx, "test.fast", func(context.Context, Envelope) error {
		fast <- struct{}{}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, "test.slow", 1))
	require.NoError(t, c.Publish(ctx, "test.fast", 1))

	select {
	case <-fast:
	case <-time.After(time.Second):
		t.Fatal("fast topic blocked by slow handler")
	}
}

func TestClient_Validation(t *testing.T) {
	c := newConnectedClient(t, NewMemoryHub())
	ctx := context.Background()
	noop := func(context.Context, Envelope) error { return nil }

	tests := []struct {
		name     string
		topic    string
		wildcard bool
	}{
		{name: "star", topic: "service.*.status", wildcard: true},
		{name: "question mark", topic: "service.?", wildcard: true},
		{name: "gt", topic: "service.>", wildcard: true},
		{name: "empty", topic: ""},
		{name: "whitespace", topic: "service status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := c.Subscribe(ctx, tt.topic, noop)
			require.Error(t, err)
			assert.Nil(t, sub)

			var subErr *SubscribeError
			require.ErrorAs(t, err, &subErr)
			assert.Equal(t, tt.wildcard, errors.Is(err, ErrWildcardTopic))

			err = c.Publish(ctx, tt.topic, "x")
			assert.True(t, IsPublishError(err))
		})
	}

	_, err := c.Subscribe(ctx, "test.nil", nil)
	assert.Error(t, err)
}

func TestClient_DisconnectedOperations(t *testing.T) {
	c := NewClient(NewMemoryHub().Transport(), testConfig())
	ctx := context.Background()

	err := c.Publish(ctx, "test.topic", "x")
	require.Error(t, err)
	assert.True(t, IsPublishError(err))
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.Subscribe(ctx, "test.topic", func(context.Context, Envelope) error { return nil })
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.False(t, c.HealthCheck(ctx))
	assert.NoError(t, c.Close())
}

func TestClient_ConnectRetries(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		ft := &flakyTransport{MemoryTransport: NewMemoryHub().Transport(), connectFailures: 2}
		c := NewClient(ft, testConfig())

		require.NoError(t, c.Connect(context.Background()))
		assert.True(t, c.IsConnected())
		assert.Equal(t, int32(3), ft.connects.Load())

		// Connecting again is a no-op.
		require.NoError(t, c.Connect(context.Background()))
		assert.Equal(t, int32(3), ft.connects.Load())
	})

	t.Run("gives up with connection error", func(t *testing.T) {
		ft := &flakyTransport{MemoryTransport: NewMemoryHub().Transport(), connectFailures: 100}
		c := NewClient(ft, testConfig())

		err := c.Connect(context.Background())
		require.Error(t, err)
		assert.True(t, IsConnectionError(err))

		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, 3, connErr.Attempts)
		assert.Equal(t, "memory://", connErr.Target)
		assert.False(t, c.IsConnected())
	})

	t.Run("concurrent callers share one attempt", func(t *testing.T) {
		ft := &flakyTransport{MemoryTransport: NewMemoryHub().Transport(), connectFailures: 1}
		c := NewClient(ft, testConfig())

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, c.Connect(context.Background()))
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(2), ft.connects.Load())
	})
}

func TestClient_PublishRetriesTransientFailures(t *testing.T) {
	hub := NewMemoryHub()
	obs := newCountingObserver()
	ft := &flakyTransport{MemoryTransport: hub.Transport(), publishFailures: 2}
	c := NewClient(ft, testConfig(), WithObserver(obs))
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	require.NoError(t, c.Publish(context.Background(), "test.retry", 1))
	assert.Equal(t, int32(3), ft.publishes.Load())
	assert.Equal(t, 1, obs.get(obs.published, "test.retry"))

	ft.publishFailures = 100
	err := c.Publish(context.Background(), "test.retry", 2)
	assert.True(t, IsPublishError(err))
	assert.Equal(t, 1, obs.get(obs.failed, "test.retry"))
}

func TestClient_Unsubscribe(t *testing.T) {
	hub := NewMemoryHub()
	c := newConnectedClient(t, hub)
	ctx := context.Background()

	var count atomic.Int32
	sub, err := c.Subscribe(ctx, "test.unsub", func(context.Context, Envelope) error {
		count.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, "test.unsub", 1))
	assert.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Unsubscribe(ctx, sub))
	assert.False(t, sub.Active())
	assert.Equal(t, 0, c.SubscriberCount("test.unsub"))
	assert.Equal(t, 0, hub.Subscribers("test.unsub"))

	require.NoError(t, c.Publish(ctx, "test.unsub", 2))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())

	// Unregistered pairs are a no-op.
	assert.NoError(t, c.Unsubscribe(ctx, sub))
	assert.NoError(t, c.Unsubscribe(ctx, nil))
}

func TestClient_HandlerPanicIsContained(t *testing.T) {
	obs := newCountingObserver()
	c := newConnectedClient(t, NewMemoryHub(), WithObserver(obs))
	ctx := context.Background()

	var calls atomic.Int32
	_, err := c.Subscribe(ctx, "test.panic", func(context.Context, Envelope) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, "test.panic", 1))
	require.NoError(t, c.Publish(ctx, "test.panic", 2))

	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return obs.get(obs.delivered, "test.panic") == 2 }, time.Second, 5*time.Millisecond)
}

func TestClient_EnvelopeShape(t *testing.T) {
	hub := NewMemoryHub()
	raw := make(chan []byte, 1)
	tr := hub.Transport()
	require.NoError(t, tr.Connect(context.Background(), func(_ string, data []byte) { raw <- data }))
	require.NoError(t, tr.Subscribe(context.Background(), "test.shape"))

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := newConnectedClient(t, hub, WithClock(func() time.Time { return fixed }))
	require.NoError(t, c.Publish(context.Background(), "test.shape", map[string]any{"text": "hello"}))

	var wire map[string]any
	require.NoError(t, json.Unmarshal(<-raw, &wire))
	assert.Equal(t, "test.shape", wire["topic"])
	assert.Equal(t, "2026-01-02T03:04:05Z", wire["timestamp"])
	assert.Equal(t, map[string]any{"text": "hello"}, wire["payload"])
}

func TestClient_CloseDropsSubscriptions(t *testing.T) {
	hub := NewMemoryHub()
	c := NewClient(hub.Transport(), testConfig())
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	sub, err := c.Subscribe(ctx, "test.close", func(context.Context, Envelope) error { return nil })
	require.NoError(t, err)
	assert.True(t, c.HealthCheck(ctx))

	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
	assert.False(t, sub.Active())
	assert.Equal(t, 0, hub.Subscribers("test.close"))
	assert.False(t, c.HealthCheck(ctx))

	// Reconnect works after close.
	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.HealthCheck(ctx))
	require.NoError(t, c.Close())
}
