package broker

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// DeliverFunc is called by a Transport for every message received on a
// subscribed topic. Transports must call it sequentially per topic, in the
// order the broker delivered the messages. It never blocks.
type DeliverFunc func(topic string, data []byte)

// Transport is the raw pub/sub connection wrapped by Client.
type Transport interface {
	// Connect establishes the connection. Messages for subscribed topics are
	// passed to deliver until Close is called.
	Connect(ctx context.Context, deliver DeliverFunc) error
	Close() error
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
	Ping(ctx context.Context) error
	// String describes the endpoint for logs and errors.
	String() string
}

// ValidateTopic checks that topic is usable as an exact-match routing key.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic must not be empty")
	}
	if strings.ContainsAny(topic, "*?[]>") {
		return fmt.Errorf("%w: %q", ErrWildcardTopic, topic)
	}
	for _, r := range topic {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("topic %q contains whitespace or control characters", topic)
		}
	}
	return nil
}
