// Package metrics exposes switchboard's runtime accounting in the
// Prometheus text format.
//
// Collectors implements the observer interfaces of the broker client, the
// tool-call requester, the gateway and the reasoning service, so that a
// single registry receives every measurement without those packages
// depending on Prometheus. Service is a lifecycle service serving the
// registry over HTTP and mirroring system.health reports into gauges.
package metrics
