package broker

import (
	"context"
	"encoding/json"
	"time"
)

// Envelope is the wire shape of every message on the bus.
type Envelope struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(e.Payload, v)
}

// Handler is invoked once per message delivered to a subscription.
// A returned error is logged and reported to the observer; it does not
// affect delivery of subsequent messages.
type Handler func(ctx context.Context, env Envelope) error

// Observer receives delivery accounting from the Client.
type Observer interface {
	MessagePublished(topic string, err error)
	MessageDelivered(topic string, err error)
}

type nopObserver struct{}

func (nopObserver) MessagePublished(string, error) {}
func (nopObserver) MessageDelivered(string, error) {}
