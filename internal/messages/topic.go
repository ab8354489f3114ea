package messages

import (
	"context"
	"fmt"
	"strings"

	"switchboard/internal/broker"
)

// Payload is implemented by every message body.
type Payload interface {
	Validate() error
}

// Publisher is the subset of broker.Client needed to send messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Topic binds a topic name to its payload type.
type Topic[T Payload] struct {
	name string
}

// NewTopic returns a typed topic identifier.
func NewTopic[T Payload](name string) Topic[T] {
	return Topic[T]{name: name}
}

// Name returns the routing key.
func (t Topic[T]) Name() string {
	return t.name
}

func (t Topic[T]) String() string {
	return t.name
}

// Publish validates msg and publishes it on the topic.
func (t Topic[T]) Publish(ctx context.Context, pub Publisher, msg T) error {
	if err := msg.Validate(); err != nil {
		return &PayloadError{Topic: t.name, Err: err}
	}
	return pub.Publish(ctx, t.name, msg)
}

// Decode extracts and validates a T from env.
func (t Topic[T]) Decode(env broker.Envelope) (T, error) {
	var msg T
	if err := env.Decode(&msg); err != nil {
		return msg, &PayloadError{Topic: t.name, Err: fmt.Errorf("malformed payload: %w", err)}
	}
	if err := msg.Validate(); err != nil {
		return msg, &PayloadError{Topic: t.name, Err: err}
	}
	return msg, nil
}

// Route associates a topic with its decoding handler.
type Route struct {
	Topic   string
	Handler broker.Handler
}

// Handle builds a Route for topic. Payload decoding is bound here, once, so
// dispatch never has to look at the topic string.
func Handle[T Payload](topic Topic[T], fn func(ctx context.Context, env broker.Envelope, msg T) error) Route {
	return Route{
		Topic: topic.name,
		Handler: func(ctx context.Context, env broker.Envelope) error {
			msg, err := topic.Decode(env)
			if err != nil {
				return err
			}
			return fn(ctx, env, msg)
		},
	}
}

// PayloadError reports a message whose payload does not match its topic.
type PayloadError struct {
	Topic string
	Err   error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("invalid payload on %s: %v", e.Topic, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// Well-known topics.
var (
	Transcription   = NewTopic[Transcript]("stt.transcription")
	LLMThinking     = NewTopic[Thinking]("llm.thinking")
	LLMResponse     = NewTopic[Response]("llm.response")
	ToolRequests    = NewTopic[ToolRequest]("tools.request")
	ToolRegistry    = NewTopic[Registry]("tools.registry")
	RegistryQueries = NewTopic[RegistryRequest]("tools.registry.request")
	SystemHealth    = NewTopic[HealthReport]("system.health")
	HealthQueries   = NewTopic[HealthRequest]("system.health.request")
)

// ReplyPrefix namespaces the ephemeral tool reply topics.
const ReplyPrefix = "tools.reply."

// ReplyTopic derives the reply topic for a tool request id.
func ReplyTopic(requestID string) Topic[ToolResult] {
	return NewTopic[ToolResult](ReplyPrefix + requestID)
}

// StatusTopic returns service.<name>.status.
func StatusTopic(service string) Topic[Status] {
	return NewTopic[Status]("service." + service + ".status")
}

// MetricsTopic returns service.<name>.metrics.
func MetricsTopic(service string) Topic[Metrics] {
	return NewTopic[Metrics]("service." + service + ".metrics")
}

// IsReplyTopic reports whether topic is a tool reply topic.
func IsReplyTopic(topic string) bool {
	return strings.HasPrefix(topic, ReplyPrefix) && len(topic) > len(ReplyPrefix)
}
