package app

import (
	"context"
	"os/signal"
	"syscall"

	"switchboard/pkg/logging"
)

// runOrchestrator starts every service and blocks until a termination signal
// or cancellation of ctx, then shuts down gracefully. Readiness and stopping
// are reported to systemd when running under it.
func runOrchestrator(ctx context.Context, services *Services) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("CLI", "Starting switchboard (broker: %s)", services.Bus.Target())

	err := services.Orchestrator.Run(ctx)
	if closeErr := services.Close(); closeErr != nil {
		logging.Warn("CLI", "Error closing broker connection: %v", closeErr)
	}
	if err != nil {
		logging.Error("CLI", err, "Switchboard stopped with an error")
		return err
	}

	logging.Info("CLI", "Switchboard stopped")
	return nil
}
