package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/broker"
	"switchboard/internal/messages"
)

var pingTopic = messages.NewTopic[messages.Transcript]("test.ping")

type testBehavior struct {
	setupErr   error
	startErr   error
	stopErr    error
	probe      *bool
	handled    atomic.Int32
	handlerErr error
	setups     atomic.Int32
	stops      atomic.Int32
}

func (b *testBehavior) Setup(context.Context) error {
	b.setups.Add(1)
	return b.setupErr
}

func (b *testBehavior) Routes() []messages.Route {
	return []messages.Route{
		messages.Handle(pingTopic, func(context.Context, broker.Envelope, messages.Transcript) error {
			b.handled.Add(1)
			return b.handlerErr
		}),
	}
}

func (b *testBehavior) OnStart(context.Context) error { return b.startErr }
func (b *testBehavior) OnStop(context.Context) error {
	b.stops.Add(1)
	return b.stopErr
}

func (b *testBehavior) Probe(context.Context) bool {
	if b.probe == nil {
		return true
	}
	return *b.probe
}

func (b *testBehavior) StatusDetails() map[string]any {
	return map[string]any{"handled": int(b.handled.Load())}
}

func newTestBus(t *testing.T) *broker.Client {
	t.Helper()
	c := broker.NewClient(broker.NewMemoryHub().Transport(), broker.Config{MaxRetries: 1, RetryDelay: time.Millisecond})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type statusCollector struct {
	mu       sync.Mutex
	statuses []messages.Status
}

func collectStatuses(t *testing.T, bus *broker.Client, name string) *statusCollector {
	t.Helper()
	sc := &statusCollector{}
	topic := messages.StatusTopic(name)
	_, err := bus.Subscribe(context.Background(), topic.Name(), func(_ context.Context, env broker.Envelope) error {
		st, err := topic.Decode(env)
		if err != nil {
			return err
		}
		sc.mu.Lock()
		sc.statuses = append(sc.statuses, st)
		sc.mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	return sc
}

func (sc *statusCollector) names() []string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make([]string, 0, len(sc.statuses))
	for _, s := range sc.statuses {
		out = append(out, s.Status)
	}
	return out
}

func TestBaseService_Lifecycle(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()
	statuses := collectStatuses(t, bus, "svc")

	behavior := &testBehavior{}
	svc := NewBaseService("svc", bus, behavior)

	var transitions []State
	svc.SetStateChangeCallback(func(_ string, _, newState State, _ bool, _ error) {
		transitions = append(transitions, newState)
	})

	d := svc.Descriptor()
	assert.Equal(t, "svc", d.Name)
	assert.Equal(t, StateCreated, d.State)
	assert.False(t, d.Healthy)
	assert.Nil(t, d.StartedAt)

	err := svc.Start(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, svc.Initialize(ctx))
	assert.True(t, svc.HealthCheck(ctx), "healthy but not running")
	assert.False(t, svc.IsRunning())

	require.NoError(t, svc.Start(ctx))
	d = svc.Descriptor()
	assert.Equal(t, StateRunning, d.State)
	assert.True(t, d.Running)
	require.NotNil(t, d.StartedAt)
	assert.Equal(t, 1, bus.SubscriberCount("test.ping"))

	require.NoError(t, bus.Publish(ctx, "test.ping", messages.Transcript{Text: "hi"}))
	assert.Eventually(t, func() bool { return behavior.handled.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Stop(ctx))
	assert.Equal(t, StateStopped, svc.Descriptor().State)
	assert.False(t, svc.IsRunning())
	assert.Equal(t, 0, bus.SubscriberCount("test.ping"))

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{StatusStarted, StatusStopped}, statuses.names())
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []State{StateInitialized, StateRunning, StateStopped}, transitions)
}

func TestBaseService_InitializeTwice(t *testing.T) {
	behavior := &testBehavior{}
	svc := NewBaseService("svc", newTestBus(t), behavior)
	ctx := context.Background()

	require.NoError(t, svc.Initialize(ctx))
	err := svc.Initialize(ctx)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Equal(t, int32(1), behavior.setups.Load())
}

func TestBaseService_InitializeFailure(t *testing.T) {
	behavior := &testBehavior{setupErr: errors.New("no device")}
	svc := NewBaseService("svc", newTestBus(t), behavior)
	ctx := context.Background()

	err := svc.Initialize(ctx)
	require.Error(t, err)
	assert.True(t, IsInitError(err))
	assert.ErrorIs(t, err, behavior.setupErr)

	d := svc.Descriptor()
	assert.True(t, d.Failed)
	assert.False(t, d.Healthy)
	assert.Equal(t, 1, d.ErrorCount)
	assert.Equal(t, StateCreated, d.State)

	assert.ErrorIs(t, svc.Start(ctx), ErrNotInitialized)
	assert.ErrorIs(t, svc.Initialize(ctx), ErrAlreadyInitialized)
}

func TestBaseService_StopIsIdempotent(t *testing.T) {
	svc := NewBaseService("svc", newTestBus(t), &testBehavior{})
	ctx := context.Background()

	require.NoError(t, svc.Initialize(ctx))
	require.NoError(t, svc.Start(ctx))

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.Stop(ctx))
		assert.Equal(t, StateStopped, svc.Descriptor().State)
	}
}

func TestBaseService_StopReleasesUnstartedService(t *testing.T) {
	bus := newTestBus(t)
	statuses := collectStatuses(t, bus, "svc")
	behavior := &testBehavior{}
	svc := NewBaseService("svc", bus, behavior)
	ctx := context.Background()

	// Never initialized: nothing to release.
	require.NoError(t, svc.Stop(ctx))
	assert.Equal(t, int32(0), behavior.stops.Load())

	require.NoError(t, svc.Initialize(ctx))
	require.NoError(t, svc.Stop(ctx))
	assert.Equal(t, int32(1), behavior.stops.Load())
	assert.Equal(t, StateStopped, svc.Descriptor().State)

	require.NoError(t, svc.Stop(ctx))
	assert.Equal(t, int32(1), behavior.stops.Load())

	// No status is published for a service that never announced itself.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, statuses.names())
}

func TestBaseService_RestartDoesNotDuplicateHandlers(t *testing.T) {
	bus := newTestBus(t)
	behavior := &testBehavior{}
	svc := NewBaseService("svc", bus, behavior)
	ctx := context.Background()

	require.NoError(t, svc.Initialize(ctx))
	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.Stop(ctx))
	require.NoError(t, svc.Start(ctx))
	// Starting a running service is a no-op.
	require.NoError(t, svc.Start(ctx))

	assert.Equal(t, 1, bus.SubscriberCount("test.ping"))

	require.NoError(t, bus.Publish(ctx, "test.ping", messages.Transcript{Text: "once"}))
	assert.Eventually(t, func() bool { return behavior.handled.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), behavior.handled.Load())
}

func TestBaseService_StartHookFailureUnsubscribes(t *testing.T) {
	bus := newTestBus(t)
	svc := NewBaseService("svc", bus, &testBehavior{startErr: errors.New("hook failed")})
	ctx := context.Background()

	require.NoError(t, svc.Initialize(ctx))
	require.Error(t, svc.Start(ctx))
	assert.Equal(t, StateInitialized, svc.Descriptor().State)
	assert.Equal(t, 0, bus.SubscriberCount("test.ping"))
	assert.Equal(t, 1, svc.ErrorCount())
}

func TestBaseService_HealthCheck(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()
	probe := true
	behavior := &testBehavior{probe: &probe}
	svc := NewBaseService("svc", bus, behavior, WithErrorThreshold(2))

	assert.False(t, svc.HealthCheck(ctx), "not initialized")
	require.NoError(t, svc.Initialize(ctx))
	assert.True(t, svc.HealthCheck(ctx))

	probe = false
	assert.False(t, svc.HealthCheck(ctx))
	probe = true

	svc.RecordError(errors.New("one"))
	svc.RecordError(errors.New("two"))
	assert.True(t, svc.HealthCheck(ctx), "at threshold")
	svc.RecordError(errors.New("three"))
	assert.False(t, svc.HealthCheck(ctx), "above threshold")

	svc.ResetErrorCount()
	assert.True(t, svc.HealthCheck(ctx))

	svc.MarkUnhealthy(ctx, errors.New("broker lost"))
	assert.False(t, svc.HealthCheck(ctx))
	svc.MarkHealthy(ctx)
	assert.True(t, svc.HealthCheck(ctx))
}

func TestBaseService_HandlerErrorsAreCounted(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()
	behavior := &testBehavior{handlerErr: errors.New("cannot handle")}
	svc := NewBaseService("svc", bus, behavior)

	require.NoError(t, svc.Initialize(ctx))
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop(ctx)

	require.NoError(t, bus.Publish(ctx, "test.ping", messages.Transcript{Text: "x"}))
	// Invalid payloads are rejected at the topic boundary and counted too.
	require.NoError(t, bus.Publish(ctx, "test.ping", messages.Transcript{}))

	assert.Eventually(t, func() bool { return svc.ErrorCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), behavior.handled.Load())
}

func TestBaseService_PublishMetricsIsBestEffort(t *testing.T) {
	c := broker.NewClient(broker.NewMemoryHub().Transport(), broker.Config{MaxRetries: 1})
	svc := NewBaseService("svc", c, &testBehavior{})

	assert.NotPanics(t, func() {
		svc.PublishMetrics(context.Background(), map[string]any{"calls": 1})
		svc.PublishStatus(context.Background(), StatusHealthy)
	})
}

func TestBaseService_PublishMetrics(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()
	topic := messages.MetricsTopic("svc")

	got := make(chan messages.Metrics, 1)
	_, err := bus.Subscribe(ctx, topic.Name(), func(_ context.Context, env broker.Envelope) error {
		m, err := topic.Decode(env)
		if err == nil {
			got <- m
		}
		return err
	})
	require.NoError(t, err)

	svc := NewBaseService("svc", bus, &testBehavior{})
	svc.PublishMetrics(ctx, map[string]any{"calls": 3})

	select {
	case m := <-got:
		assert.Equal(t, "svc", m.Service)
		assert.Equal(t, float64(3), m.Values["calls"])
	case <-time.After(time.Second):
		t.Fatal("metrics not published")
	}
}

func TestBaseService_Uptime(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc := NewBaseService("svc", newTestBus(t), &testBehavior{}, WithClock(clock))
	ctx := context.Background()

	assert.Zero(t, svc.Uptime())
	require.NoError(t, svc.Initialize(ctx))
	require.NoError(t, svc.Start(ctx))

	now = now.Add(90 * time.Second)
	assert.Equal(t, 90*time.Second, svc.Uptime())

	require.NoError(t, svc.Stop(ctx))
	assert.Zero(t, svc.Uptime())
}

// flakyBus refuses publishes on one topic the way an exhausted broker does.
type flakyBus struct {
	*broker.Client
	topic   string
	failing atomic.Bool
}

func (b *flakyBus) Publish(ctx context.Context, topic string, payload any) error {
	if topic == b.topic && b.failing.Load() {
		return &broker.PublishError{Topic: topic, Err: errors.New("retries exhausted")}
	}
	return b.Client.Publish(ctx, topic, payload)
}

func TestBaseService_PublishFailureMarksUnhealthy(t *testing.T) {
	client := newTestBus(t)
	ctx := context.Background()
	statuses := collectStatuses(t, client, "svc")

	bus := &flakyBus{Client: client, topic: messages.MetricsTopic("svc").Name()}
	svc := NewBaseService("svc", bus, &testBehavior{})
	require.NoError(t, svc.Initialize(ctx))
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop(ctx)

	bus.failing.Store(true)
	svc.PublishMetrics(ctx, map[string]any{"n": 1})
	assert.False(t, svc.HealthCheck(ctx))
	assert.True(t, broker.IsPublishError(svc.Descriptor().LastError))
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{StatusStarted, StatusUnhealthy}, statuses.names())
	}, time.Second, 5*time.Millisecond)

	// Other errors do not count as broker exhaustion.
	svc.ObservePublish(ctx, errors.New("invalid payload"))
	assert.False(t, svc.HealthCheck(ctx))

	bus.failing.Store(false)
	svc.PublishMetrics(ctx, map[string]any{"n": 2})
	assert.True(t, svc.HealthCheck(ctx))
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{StatusStarted, StatusUnhealthy, StatusHealthy}, statuses.names())
	}, time.Second, 5*time.Millisecond)
}
