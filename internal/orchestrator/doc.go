// Package orchestrator sequences, isolates and shuts down switchboard services.
//
// Services are registered with Register, optionally marked Required and
// given dependencies with DependsOn. Start resolves a dependency-aware order
// (registration order breaks ties), initializes every service in that order
// and then starts the ones that initialized:
//
//   - every Initialize, Start and Stop call runs inside a failure boundary
//     that turns panics into errors;
//   - an optional service that fails is logged and skipped, and so is every
//     service depending on it; if it had initialized, it is stopped again
//     to release what its setup acquired;
//   - a required service that fails aborts startup with a *StartupError
//     after stopping whatever had already started or initialized.
//
// Stop stops the started services in reverse start order. Each Stop is bounded
// by Config.StopTimeout; a service that overruns is abandoned with a warning.
//
// Run wraps Start and Stop around the lifetime of a context, notifies systemd
// when running under it, and runs the health loop: every HealthInterval each
// service's HealthCheck is called (a panicking check only marks that service
// unhealthy) and an aggregate report is published on system.health. The same
// report is published whenever a message arrives on system.health.request.
// A running or required service that turns unhealthy between two published
// reports raises one alert on system.alert.
//
// The orchestrator reads service descriptors but never mutates them.
package orchestrator
