// Package logging provides the subsystem-tagged structured logger used across
// switchboard.
//
// It is a thin layer over log/slog: every entry carries a "subsystem"
// attribute and, for errors, an "error" attribute. Output is either text or
// JSON and is filtered by level.
//
//	logging.Init(logging.Options{Level: logging.LevelInfo, Format: logging.FormatJSON})
//
//	logging.Info("Broker", "Connected to %s", addr)
//	logging.Warn("Orchestrator", "Service %s did not stop within %s", name, timeout)
//	logging.Error("Gateway", err, "Tool %s failed", tool)
//
// Calls made before Init are dropped, except warnings and errors which are
// written to stderr so that early failures stay visible.
package logging
