package services

import (
	"context"
	"time"

	"switchboard/internal/broker"
	"switchboard/internal/messages"
)

// State is the lifecycle state of a service.
type State string

const (
	StateCreated     State = "created"
	StateInitialized State = "initialized"
	StateRunning     State = "running"
	StateStopped     State = "stopped"
)

// Descriptor is a point-in-time snapshot of a service. It is a copy; only the
// owning service mutates the live values.
type Descriptor struct {
	Name       string
	State      State
	Healthy    bool
	Running    bool
	Failed     bool
	ErrorCount int
	StartedAt  *time.Time
	LastError  error
}

// Service is the lifecycle contract every switchboard service implements.
type Service interface {
	Name() string

	// Initialize performs one-time setup. A second call returns ErrAlreadyInitialized.
	Initialize(ctx context.Context) error
	// Start subscribes the service's topics and marks it running.
	Start(ctx context.Context) error
	// Stop unsubscribes everything. It is idempotent.
	Stop(ctx context.Context) error

	// HealthCheck reports healthy && error count within the threshold. A
	// service may be healthy without running.
	HealthCheck(ctx context.Context) bool
	Descriptor() Descriptor

	// SetStateChangeCallback registers a callback invoked on every state transition.
	SetStateChangeCallback(callback StateChangeCallback)
}

// StateChangeCallback is called when a service's state changes
type StateChangeCallback func(name string, oldState, newState State, healthy bool, err error)

// Bus is the part of broker.Client that services use.
type Bus interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(ctx context.Context, topic string, handler broker.Handler) (*broker.Subscription, error)
	Unsubscribe(ctx context.Context, sub *broker.Subscription) error
}

// Behavior is the service-specific part plugged into a BaseService.
type Behavior interface {
	// Setup acquires external resources. Called once from Initialize.
	Setup(ctx context.Context) error
	// Routes lists the topics to subscribe on every Start.
	Routes() []messages.Route
}

// Starter is an optional Behavior hook run after the routes are subscribed.
type Starter interface {
	OnStart(ctx context.Context) error
}

// Stopper is an optional Behavior hook run at the end of Stop.
type Stopper interface {
	OnStop(ctx context.Context) error
}

// Prober is an optional Behavior hook adding a service-specific health probe.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Detailer is an optional Behavior hook that adds details to status messages.
type Detailer interface {
	StatusDetails() map[string]any
}
