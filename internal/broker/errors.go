package broker

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by operations that need a live connection.
var ErrNotConnected = errors.New("broker not connected")

// ErrWildcardTopic is returned when a topic pattern is used where an exact topic is required.
var ErrWildcardTopic = errors.New("wildcard topics are not supported")

// ConnectionError reports that the broker stayed unreachable after all retries.
type ConnectionError struct {
	Target   string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to broker at %s after %d attempt(s): %v", e.Target, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PublishError reports a message that the broker did not accept.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish to %s: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// SubscribeError reports a subscription that could not be registered.
type SubscribeError struct {
	Topic string
	Err   error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("failed to subscribe to %s: %v", e.Topic, e.Err)
}

func (e *SubscribeError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err is or wraps a *ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// IsPublishError reports whether err is or wraps a *PublishError.
func IsPublishError(err error) bool {
	var pubErr *PublishError
	return errors.As(err, &pubErr)
}
