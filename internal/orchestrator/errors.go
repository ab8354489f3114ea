package orchestrator

import (
	"errors"
	"fmt"
)

// Startup phases reported in a StartupError.
const (
	PhaseOrder      = "order"
	PhaseInitialize = "initialize"
	PhaseStart      = "start"
)

// StartupError reports why startup was aborted.
type StartupError struct {
	Service string
	Phase   string
	Err     error
}

func (e *StartupError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("startup aborted during %s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("startup aborted: required service %s failed to %s: %v", e.Service, e.Phase, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// IsStartupError reports whether err is or wraps a *StartupError.
func IsStartupError(err error) bool {
	var startupErr *StartupError
	return errors.As(err, &startupErr)
}
