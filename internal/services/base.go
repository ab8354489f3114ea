package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"switchboard/internal/broker"
	"switchboard/internal/messages"
	"switchboard/pkg/logging"
)

// Option customizes a BaseService.
type Option func(*BaseService)

// WithErrorThreshold sets the error count above which HealthCheck fails.
func WithErrorThreshold(n int) Option {
	return func(b *BaseService) {
		if n >= 0 {
			b.threshold = n
		}
	}
}

// WithClock overrides the time source used for uptime and status timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *BaseService) {
		if now != nil {
			b.now = now
		}
	}
}

// BaseService implements the Service lifecycle on top of a Bus and delegates
// the service-specific work to a Behavior.
type BaseService struct {
	name      string
	bus       Bus
	behavior  Behavior
	threshold int
	now       func() time.Time

	// opMu serializes Initialize, Start and Stop.
	opMu sync.Mutex

	mu            sync.RWMutex
	state         State
	initCalled    bool
	healthy       bool
	running       bool
	failed        bool
	errorCount    int
	startedAt     *time.Time
	lastError     error
	// publishDegraded is set while the last own publish gave up.
	publishDegraded bool
	subs          []*broker.Subscription
	stateChangeCb StateChangeCallback
}

// NewBaseService creates a service in the Created state.
func NewBaseService(name string, bus Bus, behavior Behavior, opts ...Option) *BaseService {
	b := &BaseService{
		name:      name,
		bus:       bus,
		behavior:  behavior,
		threshold: DefaultErrorThreshold,
		now:       time.Now,
		state:     StateCreated,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the service name
func (b *BaseService) Name() string {
	return b.name
}

// Bus returns the bus the service communicates through.
func (b *BaseService) Bus() Bus {
	return b.bus
}

// SetStateChangeCallback sets the state change callback
func (b *BaseService) SetStateChangeCallback(callback StateChangeCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stateChangeCb = callback
}

// Descriptor returns a snapshot of the service state.
func (b *BaseService) Descriptor() Descriptor {
	b.mu.RLock()
	defer b.mu.RUnlock()

	d := Descriptor{
		Name:       b.name,
		State:      b.state,
		Healthy:    b.healthy,
		Running:    b.running,
		Failed:     b.failed,
		ErrorCount: b.errorCount,
		LastError:  b.lastError,
	}
	if b.startedAt != nil {
		t := *b.startedAt
		d.StartedAt = &t
	}
	return d
}

func (b *BaseService) setState(newState State) {
	b.mu.Lock()
	oldState := b.state
	b.state = newState
	healthy := b.healthy
	err := b.lastError
	callback := b.stateChangeCb
	b.mu.Unlock()

	// Call the callback outside of the lock to avoid deadlocks
	if callback != nil && oldState != newState {
		callback(b.name, oldState, newState, healthy, err)
	}
}

// Initialize runs the Behavior's Setup exactly once.
func (b *BaseService) Initialize(ctx context.Context) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	b.mu.Lock()
	if b.initCalled {
		b.mu.Unlock()
		return fmt.Errorf("%s: %w", b.name, ErrAlreadyInitialized)
	}
	b.initCalled = true
	b.mu.Unlock()

	logging.Debug("Services", "Initializing service %s", b.name)
	if err := b.behavior.Setup(ctx); err != nil {
		b.mu.Lock()
		b.failed = true
		b.healthy = false
		b.errorCount++
		b.lastError = err
		b.mu.Unlock()
		return &InitError{Service: b.name, Err: err}
	}

	b.mu.Lock()
	b.healthy = true
	b.mu.Unlock()
	b.setState(StateInitialized)

	logging.Info("Services", "Service %s initialized", b.name)
	return nil
}

// Start subscribes the Behavior's routes, runs the optional start hook and
// publishes a started status. Starting a running service is a no-op.
func (b *BaseService) Start(ctx context.Context) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	b.mu.RLock()
	state := b.state
	b.mu.RUnlock()

	switch state {
	case StateRunning:
		return nil
	case StateInitialized, StateStopped:
	default:
		return fmt.Errorf("cannot start %s in state %s: %w", b.name, state, ErrNotInitialized)
	}

	routes := b.behavior.Routes()
	subs := make([]*broker.Subscription, 0, len(routes))
	for _, route := range routes {
		sub, err := b.bus.Subscribe(ctx, route.Topic, b.countErrors(route.Handler))
		if err != nil {
			b.unsubscribe(ctx, subs)
			b.RecordError(err)
			return fmt.Errorf("failed to start %s: %w", b.name, err)
		}
		subs = append(subs, sub)
	}

	b.mu.Lock()
	b.subs = subs
	b.mu.Unlock()

	if starter, ok := b.behavior.(Starter); ok {
		if err := starter.OnStart(ctx); err != nil {
			b.mu.Lock()
			b.subs = nil
			b.mu.Unlock()
			b.unsubscribe(ctx, subs)
			b.RecordError(err)
			return fmt.Errorf("failed to start %s: %w", b.name, err)
		}
	}

	now := b.now()
	b.mu.Lock()
	b.running = true
	b.startedAt = &now
	b.mu.Unlock()
	b.setState(StateRunning)

	logging.Info("Services", "Service %s started (%d subscriptions)", b.name, len(subs))
	b.PublishStatus(ctx, StatusStarted)
	return nil
}

// Stop unsubscribes every route, publishes a final status and runs the
// optional stop hook. A service that was initialized but never started only
// runs the stop hook, releasing what Setup acquired. Stopping a service in
// any other state is a no-op.
func (b *BaseService) Stop(ctx context.Context) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	b.mu.Lock()
	state := b.state
	subs := b.subs
	if state == StateRunning {
		b.subs = nil
	}
	b.mu.Unlock()

	switch state {
	case StateRunning:
		b.unsubscribe(ctx, subs)

		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		b.setState(StateStopped)

		b.PublishStatus(ctx, StatusStopped)
	case StateInitialized:
		b.setState(StateStopped)
	default:
		return nil
	}

	if stopper, ok := b.behavior.(Stopper); ok {
		if err := stopper.OnStop(ctx); err != nil {
			b.RecordError(err)
			return fmt.Errorf("failed to stop %s cleanly: %w", b.name, err)
		}
	}

	logging.Info("Services", "Service %s stopped", b.name)
	return nil
}

func (b *BaseService) unsubscribe(ctx context.Context, subs []*broker.Subscription) {
	for _, sub := range subs {
		if err := b.bus.Unsubscribe(ctx, sub); err != nil {
			logging.Warn("Services", "Service %s failed to unsubscribe from %s: %v", b.name, sub.Topic(), err)
		}
	}
}

// countErrors records handler failures as operational errors of the service.
func (b *BaseService) countErrors(h broker.Handler) broker.Handler {
	return func(ctx context.Context, env broker.Envelope) error {
		err := h(ctx, env)
		if err != nil {
			b.RecordError(err)
		}
		return err
	}
}

// HealthCheck reports healthy && error count within the threshold, combined
// with the Behavior's probe when it has one.
func (b *BaseService) HealthCheck(ctx context.Context) bool {
	b.mu.RLock()
	initialized := b.state != StateCreated
	b.mu.RUnlock()

	// The service check runs even while unhealthy so it can report a recovery.
	if prober, isProber := b.behavior.(Prober); isProber && initialized {
		if !prober.Probe(ctx) {
			return false
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.healthy && b.errorCount <= b.threshold
}

// IsRunning reports whether the service is actively serving.
func (b *BaseService) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// RecordError counts an operational error.
func (b *BaseService) RecordError(err error) {
	b.mu.Lock()
	b.errorCount++
	b.lastError = err
	count := b.errorCount
	b.mu.Unlock()

	if count == b.threshold+1 {
		logging.Warn("Services", "Service %s exceeded its error threshold (%d): %v", b.name, b.threshold, err)
	}
}

// ErrorCount returns the number of recorded errors.
func (b *BaseService) ErrorCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.errorCount
}

// ResetErrorCount clears the error counter. Nothing else resets it.
func (b *BaseService) ResetErrorCount() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errorCount = 0
}

// MarkUnhealthy flags the service unhealthy and reports it on the status topic.
func (b *BaseService) MarkUnhealthy(ctx context.Context, err error) {
	b.mu.Lock()
	wasHealthy := b.healthy
	b.healthy = false
	if err != nil {
		b.lastError = err
	}
	b.mu.Unlock()

	if wasHealthy {
		logging.Warn("Services", "Service %s is unhealthy: %v", b.name, err)
		b.PublishStatus(ctx, StatusUnhealthy)
	}
}

// MarkHealthy clears an unhealthy flag set by MarkUnhealthy.
func (b *BaseService) MarkHealthy(ctx context.Context) {
	b.mu.Lock()
	wasHealthy := b.healthy
	initialized := b.state != StateCreated
	b.healthy = initialized
	b.mu.Unlock()

	if !wasHealthy && initialized {
		logging.Info("Services", "Service %s recovered", b.name)
		b.PublishStatus(ctx, StatusHealthy)
	}
}

// ObservePublish tracks the outcome of one of the service's own publishes.
// A publish the broker gave up on after its retries marks the service
// unhealthy; the next successful publish clears that mark again.
func (b *BaseService) ObservePublish(ctx context.Context, err error) {
	switch {
	case err == nil:
		b.mu.Lock()
		degraded := b.publishDegraded
		b.publishDegraded = false
		b.mu.Unlock()
		if degraded {
			b.MarkHealthy(ctx)
		}
	case broker.IsPublishError(err):
		b.mu.Lock()
		b.publishDegraded = true
		b.mu.Unlock()
		b.MarkUnhealthy(ctx, err)
	}
}

// Uptime returns the time since the last Start, or zero when not running.
func (b *BaseService) Uptime() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running || b.startedAt == nil {
		return 0
	}
	return b.now().Sub(*b.startedAt)
}

// PublishStatus publishes the current descriptor on service.<name>.status.
// Failures are logged and swallowed.
func (b *BaseService) PublishStatus(ctx context.Context, status string) {
	d := b.Descriptor()
	msg := messages.Status{
		Service:       b.name,
		Status:        status,
		Healthy:       d.Healthy && d.ErrorCount <= b.threshold,
		Running:       d.Running,
		ErrorCount:    d.ErrorCount,
		UptimeSeconds: b.Uptime().Seconds(),
		Timestamp:     b.now().UTC(),
	}
	if detailer, ok := b.behavior.(Detailer); ok {
		msg.Details = detailer.StatusDetails()
	}

	err := messages.StatusTopic(b.name).Publish(ctx, b.bus, msg)
	if err != nil {
		logging.Warn("Services", "Failed to publish %s status for %s: %v", status, b.name, err)
	}
	b.ObservePublish(ctx, err)
}

// PublishMetrics publishes values on service.<name>.metrics. Failures are
// logged and swallowed.
func (b *BaseService) PublishMetrics(ctx context.Context, values map[string]any) {
	msg := messages.Metrics{
		Service:   b.name,
		Values:    values,
		Timestamp: b.now().UTC(),
	}
	err := messages.MetricsTopic(b.name).Publish(ctx, b.bus, msg)
	if err != nil {
		logging.Warn("Services", "Failed to publish metrics for %s: %v", b.name, err)
	}
	b.ObservePublish(ctx, err)
}
