// Package app bootstraps switchboard.
//
// It turns a loaded configuration into a running process:
//
//   - bootstrap.go loads the configuration directory and initializes logging
//   - services.go creates the shared broker connection and registers the
//     broker, gateway, reasoning and (optional) metrics services with the
//     orchestrator
//   - modes.go runs the orchestrator until SIGINT or SIGTERM
//
// The broker service is the only required service. The gateway, the
// reasoning service and the metrics endpoint are optional: when one of them
// fails to initialize it is skipped and reported in the health output while
// the rest keeps running.
//
// With the memory broker type every component shares one in-process hub,
// which is what the CLI uses to run a complete system without Redis.
package app
