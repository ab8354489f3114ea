// Package services defines the lifecycle contract shared by every switchboard
// service and a reusable implementation of it.
//
// # Lifecycle
//
// A service moves through Created → Initialized → Running → Stopped, and can
// go back from Stopped to Running. An orthogonal Failed flag records a failed
// Initialize.
//
//	Initialize  once; a second call returns ErrAlreadyInitialized
//	Start       subscribes the service's routes, publishes "started"
//	Stop        unsubscribes everything, publishes "stopped"; idempotent
//	HealthCheck healthy && error count <= threshold
//
// Status and metrics are published on service.<name>.status and
// service.<name>.metrics. Publishing them is best effort: a failure is logged
// and never returned to the caller.
//
// # BaseService
//
// Concrete services do not reimplement the state machine. They provide a
// Behavior (Setup and Routes) and optionally implement Starter, Stopper,
// Prober or Detailer, then wrap it:
//
//	svc := services.NewBaseService("gateway", client, behavior)
//
// Handler errors returned from routes are counted as operational errors.
// Only ResetErrorCount clears the counter.
//
// # Registry
//
// Registry is an ordered, name-unique collection owned by the orchestrator.
package services
