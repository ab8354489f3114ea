package services

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInitialized is returned by a second call to Initialize.
	ErrAlreadyInitialized = errors.New("service already initialized")
	// ErrNotInitialized is returned by Start before a successful Initialize.
	ErrNotInitialized = errors.New("service not initialized")
)

// InitError reports a failed Initialize.
type InitError struct {
	Service string
	Err     error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("failed to initialize service %s: %v", e.Service, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// IsInitError reports whether err is or wraps an *InitError.
func IsInitError(err error) bool {
	var initErr *InitError
	return errors.As(err, &initErr)
}
