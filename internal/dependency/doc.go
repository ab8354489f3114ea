// Package dependency orders services so that each one starts after the
// services it depends on.
//
// A Graph holds one Node per service and the IDs it depends on. Order returns
// a topological start order that is stable with respect to registration
// order, so services without dependencies start in the order they were
// registered. Stopping uses the reverse of the start order.
//
// Cycles are reported as a *CycleError, and references to unknown nodes make
// Validate and Order fail.
//
// TransitiveDependents answers the question "what can no longer start if this
// service failed", which the orchestrator uses to skip the dependents of a
// failed optional service.
package dependency
