package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"switchboard/pkg/logging"
)

const defaultPingTimeout = 5 * time.Second

// Config controls retry behaviour of the Client.
type Config struct {
	// MaxRetries is the number of connection attempts before Connect gives up.
	MaxRetries int
	// RetryDelay is the initial backoff between connection attempts.
	RetryDelay time.Duration
	// MaxRetryDelay caps the exponential backoff.
	MaxRetryDelay time.Duration
	// OperationRetries is how many times a failed publish or subscribe is
	// retried before the error is returned.
	OperationRetries int
	// OperationRetryDelay is the initial backoff for publish/subscribe retries.
	OperationRetryDelay time.Duration
}

// DefaultConfig mirrors the defaults of the configuration file.
func DefaultConfig() Config {
	return Config{
		MaxRetries:          3,
		RetryDelay:          time.Second,
		MaxRetryDelay:       10 * time.Second,
		OperationRetries:    2,
		OperationRetryDelay: 50 * time.Millisecond,
	}
}

// Option customizes a Client.
type Option func(*Client)

// WithObserver reports publish and delivery outcomes to o.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithClock overrides the timestamp source used for envelopes.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client is the process-wide broker connection.
type Client struct {
	transport Transport
	cfg       Config
	observer  Observer
	now       func() time.Time

	connectGroup singleflight.Group

	// subMu serializes subscription changes so that transport-level
	// subscribe/unsubscribe calls happen in the same order as route updates.
	subMu sync.Mutex

	mu        sync.RWMutex
	connected bool
	routes    map[string][]*Subscription
	nextID    uint64
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient creates a Client for the given transport. It does not connect.
func NewClient(transport Transport, cfg Config, opts ...Option) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = cfg.RetryDelay
	}
	if cfg.OperationRetries < 0 {
		cfg.OperationRetries = 0
	}
	if cfg.OperationRetryDelay <= 0 {
		cfg.OperationRetryDelay = DefaultConfig().OperationRetryDelay
	}

	c := &Client{
		transport: transport,
		cfg:       cfg,
		observer:  nopObserver{},
		now:       time.Now,
		routes:    make(map[string][]*Subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Target describes the transport endpoint.
func (c *Client) Target() string {
	return c.transport.String()
}

// IsConnected reports whether Connect has succeeded and Close has not been called.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Connect establishes the transport connection, retrying with exponential
// backoff. Calling Connect on a connected client is a no-op, and concurrent
// callers share a single attempt.
func (c *Client) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	_, err, _ := c.connectGroup.Do("connect", func() (interface{}, error) {
		if c.IsConnected() {
			return nil, nil
		}
		return nil, c.connectWithRetry(ctx)
	})
	return err
}

func (c *Client) connectWithRetry(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryDelay
	policy.MaxInterval = c.cfg.MaxRetryDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.1

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		logging.Info("Broker", "Connecting to %s (attempt %d/%d)", c.transport, attempts, c.cfg.MaxRetries)
		if err := c.transport.Connect(ctx, c.deliver); err != nil {
			logging.Warn("Broker", "Connection attempt %d/%d to %s failed: %v", attempts, c.cfg.MaxRetries, c.transport, err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries)),
	)
	if err != nil {
		connErr := &ConnectionError{Target: c.transport.String(), Attempts: attempts, Err: err}
		logging.Error("Broker", connErr, "Giving up on broker connection")
		return connErr
	}

	c.mu.Lock()
	c.connected = true
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	logging.Info("Broker", "Connected to %s", c.transport)
	return nil
}

// Close drops every subscription and closes the transport. The client may be
// connected again afterwards.
func (c *Client) Close() error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	var subs []*Subscription
	for _, topicSubs := range c.routes {
		subs = append(subs, topicSubs...)
	}
	c.routes = make(map[string][]*Subscription)
	c.connected = false
	cancel := c.cancel
	c.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	if cancel != nil {
		cancel()
	}

	if err := c.transport.Close(); err != nil {
		return fmt.Errorf("failed to close broker transport: %w", err)
	}
	logging.Info("Broker", "Disconnected from %s", c.transport)
	return nil
}

// Publish sends payload to topic. The payload is JSON-encoded into the
// Envelope; json.RawMessage payloads are embedded as-is. Publish only
// guarantees that the broker accepted the message.
func (c *Client) Publish(ctx context.Context, topic string, payload any) error {
	err := c.publish(ctx, topic, payload)
	c.observer.MessagePublished(topic, err)
	return err
}

func (c *Client) publish(ctx context.Context, topic string, payload any) error {
	if err := ValidateTopic(topic); err != nil {
		return &PublishError{Topic: topic, Err: err}
	}
	if !c.IsConnected() {
		return &PublishError{Topic: topic, Err: ErrNotConnected}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return &PublishError{Topic: topic, Err: fmt.Errorf("invalid payload: %w", err)}
	}
	data, err := json.Marshal(Envelope{Topic: topic, Payload: raw, Timestamp: c.now().UTC()})
	if err != nil {
		return &PublishError{Topic: topic, Err: fmt.Errorf("invalid envelope: %w", err)}
	}

	if err := c.retry(ctx, "publish", topic, func() error {
		return c.transport.Publish(ctx, topic, data)
	}); err != nil {
		return &PublishError{Topic: topic, Err: err}
	}

	logging.Debug("Broker", "Published to [%s] (%d bytes)", topic, len(data))
	return nil
}

// Subscribe registers handler for messages published on exactly topic.
// Every subscription on a topic receives every message.
func (c *Client) Subscribe(ctx context.Context, topic string, handler Handler) (*Subscription, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, &SubscribeError{Topic: topic, Err: err}
	}
	if handler == nil {
		return nil, &SubscribeError{Topic: topic, Err: errors.New("handler must not be nil")}
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.RLock()
	connected := c.connected
	first := len(c.routes[topic]) == 0
	handlerCtx := c.ctx
	c.mu.RUnlock()

	if !connected {
		return nil, &SubscribeError{Topic: topic, Err: ErrNotConnected}
	}

	if first {
		if err := c.retry(ctx, "subscribe", topic, func() error {
			return c.transport.Subscribe(ctx, topic)
		}); err != nil {
			return nil, &SubscribeError{Topic: topic, Err: err}
		}
		logging.Info("Broker", "Subscribed to [%s]", topic)
	}

	c.mu.Lock()
	c.nextID++
	sub := newSubscription(c.nextID, topic, handler, c.observer)
	c.routes[topic] = append(c.routes[topic], sub)
	count := len(c.routes[topic])
	c.mu.Unlock()

	go sub.run(handlerCtx)

	logging.Debug("Broker", "Added handler to [%s] (total handlers: %d)", topic, count)
	return sub, nil
}

// Unsubscribe removes sub. It is safe to call with nil or with a
// subscription that was already removed.
func (c *Client) Unsubscribe(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return nil
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	subs := c.routes[sub.topic]
	found := false
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i:i], subs[i+1:]...)
			found = true
			break
		}
	}
	last := found && len(subs) == 0
	if last {
		delete(c.routes, sub.topic)
	} else if found {
		c.routes[sub.topic] = subs
	}
	connected := c.connected
	c.mu.Unlock()

	sub.stop()
	if !found {
		return nil
	}

	if last && connected {
		if err := c.retry(ctx, "unsubscribe", sub.topic, func() error {
			return c.transport.Unsubscribe(ctx, sub.topic)
		}); err != nil {
			// The local route is gone, so nothing will be delivered; the
			// transport subscription is cleaned up on the next reconnect.
			logging.Warn("Broker", "Transport unsubscribe from [%s] failed: %v", sub.topic, err)
			return nil
		}
		logging.Info("Broker", "Unsubscribed from [%s]", sub.topic)
	}
	return nil
}

// SubscriberCount returns the number of active subscriptions on topic.
func (c *Client) SubscriberCount(topic string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.routes[topic])
}

// HealthCheck performs a round-trip probe against the broker.
func (c *Client) HealthCheck(ctx context.Context) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("Broker", "Health check panicked: %v", r)
			healthy = false
		}
	}()

	if !c.IsConnected() {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := c.transport.Ping(pingCtx); err != nil {
		logging.Warn("Broker", "Health check failed: %v", err)
		return false
	}
	return true
}

// deliver fans a raw transport message out to the subscriptions of topic.
func (c *Client) deliver(topic string, data []byte) {
	c.mu.RLock()
	subs := make([]*Subscription, len(c.routes[topic]))
	copy(subs, c.routes[topic])
	c.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logging.Error("Broker", err, "Failed to decode message from [%s]", topic)
		c.observer.MessageDelivered(topic, err)
		return
	}
	if env.Topic == "" {
		env.Topic = topic
	}

	for _, sub := range subs {
		sub.enqueue(env)
	}
}

// retry runs op with a short exponential backoff, OperationRetries extra times.
func (c *Client) retry(ctx context.Context, what, topic string, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.OperationRetryDelay
	policy.MaxInterval = c.cfg.OperationRetryDelay * 8

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(); err != nil {
			if errors.Is(err, ErrNotConnected) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.cfg.OperationRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logging.Debug("Broker", "Retrying %s on [%s] in %s: %v", what, topic, next, err)
		}),
	)
	return err
}
