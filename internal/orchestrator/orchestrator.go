package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"switchboard/internal/broker"
	"switchboard/internal/dependency"
	"switchboard/internal/services"
	"switchboard/pkg/logging"
)

const (
	DefaultStopTimeout    = 10 * time.Second
	DefaultHealthInterval = 30 * time.Second
)

// Config holds the configuration for the orchestrator.
type Config struct {
	// StopTimeout bounds each service's Stop. A service exceeding it is abandoned.
	StopTimeout time.Duration
	// HealthInterval is the period of the health loop started by Run.
	HealthInterval time.Duration
	// Bus is used to publish health reports and answer health requests. Optional.
	Bus services.Bus
	// Notify reports readiness to the service manager. Defaults to sd_notify.
	Notify func(state string)
}

// RegisterOption customizes how a service is orchestrated.
type RegisterOption func(*entry)

// Required marks a service whose failure aborts startup.
func Required() RegisterOption {
	return func(e *entry) { e.required = true }
}

// DependsOn declares services that must be started first.
func DependsOn(names ...string) RegisterOption {
	return func(e *entry) { e.dependsOn = append(e.dependsOn, names...) }
}

type entry struct {
	required  bool
	dependsOn []string
}

// ServiceStateChangedEvent represents a service state change event.
type ServiceStateChangedEvent struct {
	Name      string
	OldState  services.State
	NewState  services.State
	Healthy   bool
	Error     error
	Timestamp time.Time
}

// Orchestrator drives the lifecycle of an ordered set of services.
type Orchestrator struct {
	cfg      Config
	registry *services.Registry

	mu       sync.RWMutex
	entries  map[string]*entry
	started  []services.Service
	skipped  map[string]error
	running  bool
	healthMu sync.Mutex
	health   *healthLoop

	alertMu     sync.Mutex
	lastHealthy map[string]bool

	stateChangeSubscribers []chan<- ServiceStateChangedEvent
}

// New creates a new orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.Notify == nil {
		cfg.Notify = sdNotify
	}
	return &Orchestrator{
		cfg:      cfg,
		registry: services.NewRegistry(),
		entries:  make(map[string]*entry),
		skipped:  make(map[string]error),

		lastHealthy: make(map[string]bool),
	}
}

// Registry returns the services owned by the orchestrator.
func (o *Orchestrator) Registry() *services.Registry {
	return o.registry
}

// Register adds a service. Services are optional unless Required is given.
func (o *Orchestrator) Register(svc services.Service, opts ...RegisterOption) error {
	e := &entry{}
	for _, opt := range opts {
		opt(e)
	}
	if err := o.registry.Register(svc); err != nil {
		return err
	}

	o.mu.Lock()
	o.entries[svc.Name()] = e
	o.mu.Unlock()

	svc.SetStateChangeCallback(o.publishStateChangeEvent)
	logging.Debug("Orchestrator", "Registered service %s (required: %t, depends on: %v)", svc.Name(), e.required, e.dependsOn)
	return nil
}

func (o *Orchestrator) isRequired(name string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if e, ok := o.entries[name]; ok {
		return e.required
	}
	return false
}

// startOrder resolves the dependency-aware order of all registered services.
func (o *Orchestrator) startOrder() ([]services.Service, *dependency.Graph, error) {
	graph := dependency.New()
	o.mu.RLock()
	for _, name := range o.registry.Names() {
		var deps []dependency.NodeID
		for _, d := range o.entries[name].dependsOn {
			deps = append(deps, dependency.NodeID(d))
		}
		graph.AddNode(dependency.Node{ID: dependency.NodeID(name), DependsOn: deps})
	}
	o.mu.RUnlock()

	ids, err := graph.Order()
	if err != nil {
		return nil, nil, err
	}
	ordered := make([]services.Service, 0, len(ids))
	for _, id := range ids {
		svc, _ := o.registry.Get(string(id))
		ordered = append(ordered, svc)
	}
	return ordered, graph, nil
}

// Start initializes every service and then starts those that initialized.
// Optional failures are logged and skipped together with their dependents.
// A required failure stops whatever already started, releases whatever was
// only initialized and returns a *StartupError.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already started")
	}
	o.running = true
	o.skipped = make(map[string]error)
	o.mu.Unlock()

	ordered, graph, err := o.startOrder()
	if err != nil {
		o.setRunning(false)
		return &StartupError{Phase: PhaseOrder, Err: err}
	}

	logging.Info("Orchestrator", "Starting %d services", len(ordered))

	initialized := make([]services.Service, 0, len(ordered))
	for _, svc := range ordered {
		if reason := o.skipReason(svc.Name(), graph); reason != nil {
			if o.isRequired(svc.Name()) {
				o.release(ctx, initialized)
				o.setRunning(false)
				return &StartupError{Service: svc.Name(), Phase: PhaseInitialize, Err: reason}
			}
			o.skip(svc.Name(), reason)
			continue
		}

		if err := guard(svc.Name(), "initialize", func() error { return svc.Initialize(ctx) }); err != nil {
			if o.isRequired(svc.Name()) {
				logging.Error("Orchestrator", err, "Required service %s failed to initialize, aborting startup", svc.Name())
				o.release(ctx, initialized)
				o.setRunning(false)
				return &StartupError{Service: svc.Name(), Phase: PhaseInitialize, Err: err}
			}
			logging.Error("Orchestrator", err, "Optional service %s failed to initialize, skipping", svc.Name())
			o.skip(svc.Name(), err)
			continue
		}
		initialized = append(initialized, svc)
	}

	for i, svc := range initialized {
		if reason := o.skipReason(svc.Name(), graph); reason != nil {
			if o.isRequired(svc.Name()) {
				o.release(ctx, initialized[i:])
				o.abort(ctx)
				return &StartupError{Service: svc.Name(), Phase: PhaseStart, Err: reason}
			}
			o.skip(svc.Name(), reason)
			o.release(ctx, initialized[i:i+1])
			continue
		}

		if err := guard(svc.Name(), "start", func() error { return svc.Start(ctx) }); err != nil {
			if o.isRequired(svc.Name()) {
				logging.Error("Orchestrator", err, "Required service %s failed to start, aborting startup", svc.Name())
				o.release(ctx, initialized[i:])
				o.abort(ctx)
				return &StartupError{Service: svc.Name(), Phase: PhaseStart, Err: err}
			}
			logging.Error("Orchestrator", err, "Optional service %s failed to start, skipping", svc.Name())
			o.skip(svc.Name(), err)
			o.release(ctx, initialized[i:i+1])
			continue
		}

		o.mu.Lock()
		o.started = append(o.started, svc)
		o.mu.Unlock()
		logging.Info("Orchestrator", "Started service %s", svc.Name())
	}

	o.mu.RLock()
	startedCount, skippedCount := len(o.started), len(o.skipped)
	o.mu.RUnlock()
	logging.Info("Orchestrator", "Startup complete (%d started, %d skipped)", startedCount, skippedCount)
	return nil
}

// skipReason returns a non-nil error when one of name's dependencies was skipped.
func (o *Orchestrator) skipReason(name string, graph *dependency.Graph) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, dep := range graph.Dependencies(dependency.NodeID(name)) {
		if _, failed := o.skipped[string(dep)]; failed {
			return fmt.Errorf("dependency %s is unavailable", dep)
		}
	}
	return nil
}

func (o *Orchestrator) skip(name string, reason error) {
	o.mu.Lock()
	o.skipped[name] = reason
	o.mu.Unlock()
	logging.Warn("Orchestrator", "Service %s skipped: %v", name, reason)
}

func (o *Orchestrator) setRunning(running bool) {
	o.mu.Lock()
	o.running = running
	o.mu.Unlock()
}

// release stops services that were initialized but never started, in
// reverse order, so that whatever their setup acquired is freed.
func (o *Orchestrator) release(ctx context.Context, svcs []services.Service) {
	for i := len(svcs) - 1; i >= 0; i-- {
		logging.Debug("Orchestrator", "Releasing unstarted service %s", svcs[i].Name())
		o.stopWithTimeout(ctx, svcs[i])
	}
}

// abort stops every service started so far after a required failure.
func (o *Orchestrator) abort(ctx context.Context) {
	o.stopStarted(ctx)
	o.setRunning(false)
}

// Stop stops all started services in reverse start order. Each Stop is
// bounded by StopTimeout.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.RLock()
	running := o.running
	o.mu.RUnlock()
	if !running {
		return nil
	}

	o.stopHealthLoop(ctx)
	o.stopStarted(ctx)
	o.setRunning(false)
	logging.Info("Orchestrator", "All services stopped")
	return nil
}

func (o *Orchestrator) stopStarted(ctx context.Context) {
	o.mu.Lock()
	started := o.started
	o.started = nil
	o.mu.Unlock()

	for i := len(started) - 1; i >= 0; i-- {
		o.stopWithTimeout(ctx, started[i])
	}
}

func (o *Orchestrator) stopWithTimeout(ctx context.Context, svc services.Service) {
	stopCtx, cancel := context.WithTimeout(ctx, o.cfg.StopTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- guard(svc.Name(), "stop", func() error { return svc.Stop(stopCtx) })
	}()

	select {
	case err := <-done:
		if err != nil {
			logging.Error("Orchestrator", err, "Service %s did not stop cleanly", svc.Name())
			return
		}
		logging.Info("Orchestrator", "Stopped service %s", svc.Name())
	case <-time.After(o.cfg.StopTimeout):
		logging.Warn("Orchestrator", "Service %s did not stop within %s, abandoning it", svc.Name(), o.cfg.StopTimeout)
	}
}

// Run starts everything, runs the health loop until ctx is cancelled and
// then stops everything.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}
	o.cfg.Notify(notifyReady)
	o.startHealthLoop(ctx)

	<-ctx.Done()
	logging.Info("Orchestrator", "Shutdown requested")
	o.cfg.Notify(notifyStopping)

	// ctx is already cancelled; stopping gets a fresh context bounded per service.
	return o.Stop(context.WithoutCancel(ctx))
}

// Services returns descriptor snapshots in registration order.
func (o *Orchestrator) Services() []services.Descriptor {
	all := o.registry.All()
	out := make([]services.Descriptor, 0, len(all))
	for _, svc := range all {
		out = append(out, svc.Descriptor())
	}
	return out
}

// Skipped returns the optional services that were skipped with their reasons.
func (o *Orchestrator) Skipped() map[string]error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]error, len(o.skipped))
	for k, v := range o.skipped {
		out[k] = v
	}
	return out
}

// SubscribeToStateChanges returns a channel receiving every service state
// change. Events are dropped for subscribers that do not keep up.
func (o *Orchestrator) SubscribeToStateChanges() <-chan ServiceStateChangedEvent {
	eventChan := make(chan ServiceStateChangedEvent, 100)
	o.mu.Lock()
	o.stateChangeSubscribers = append(o.stateChangeSubscribers, eventChan)
	o.mu.Unlock()
	return eventChan
}

func (o *Orchestrator) publishStateChangeEvent(name string, oldState, newState services.State, healthy bool, err error) {
	logging.Debug("Orchestrator", "Service %s state changed: %s -> %s (healthy: %t)", name, oldState, newState, healthy)

	event := ServiceStateChangedEvent{
		Name:      name,
		OldState:  oldState,
		NewState:  newState,
		Healthy:   healthy,
		Error:     err,
		Timestamp: time.Now(),
	}

	o.mu.RLock()
	subscribers := make([]chan<- ServiceStateChangedEvent, len(o.stateChangeSubscribers))
	copy(subscribers, o.stateChangeSubscribers)
	o.mu.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			// Don't block if subscriber can't receive immediately
			logging.Debug("Orchestrator", "Subscriber blocked, skipping event for service %s", name)
		}
	}
}

// guard runs fn and turns a panic into an error.
func guard(name, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("service %s panicked during %s: %v", name, op, r)
		}
	}()
	return fn()
}

var _ services.Bus = (*broker.Client)(nil)
