package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"switchboard/pkg/logging"
)

// controlChannel keeps the Redis subscriber connection open while no
// application topic is subscribed.
const controlChannel = "__switchboard.control"

// RedisConfig holds configuration for the Redis connection.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	UseTLS       bool
	// ChannelSize is the buffer between the Redis reader and the client.
	ChannelSize int
}

// DefaultRedisConfig returns defaults for a local Redis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		ChannelSize:  1000,
	}
}

// RedisTransport is a Transport over Redis Pub/Sub.
type RedisTransport struct {
	cfg RedisConfig

	mu     sync.Mutex
	client *redis.Client
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisTransport creates an unconnected Redis transport.
func NewRedisTransport(cfg RedisConfig) *RedisTransport {
	def := DefaultRedisConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = def.PoolSize
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ChannelSize <= 0 {
		cfg.ChannelSize = def.ChannelSize
	}
	return &RedisTransport{cfg: cfg}
}

func (t *RedisTransport) Connect(ctx context.Context, deliver DeliverFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return nil
	}

	opts := &redis.Options{
		Addr:         t.cfg.Addr,
		Password:     t.cfg.Password,
		DB:           t.cfg.DB,
		PoolSize:     t.cfg.PoolSize,
		DialTimeout:  t.cfg.DialTimeout,
		ReadTimeout:  t.cfg.ReadTimeout,
		WriteTimeout: t.cfg.WriteTimeout,
		// Retries are driven by the broker client.
		MaxRetries: -1,
	}
	if t.cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(dialCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	pubsub := client.Subscribe(dialCtx, controlChannel)
	if _, err := pubsub.Receive(dialCtx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return fmt.Errorf("failed to open Redis subscriber connection: %w", err)
	}

	t.client = client
	t.pubsub = pubsub
	t.done = make(chan struct{})
	go t.read(pubsub.Channel(redis.WithChannelSize(t.cfg.ChannelSize)), deliver, t.done)

	return nil
}

func (t *RedisTransport) read(ch <-chan *redis.Message, deliver DeliverFunc, done chan struct{}) {
	defer close(done)
	for msg := range ch {
		if msg.Channel == controlChannel {
			continue
		}
		deliver(msg.Channel, []byte(msg.Payload))
	}
	logging.Debug("Broker", "Redis subscriber loop for %s exited", t.cfg.Addr)
}

func (t *RedisTransport) Close() error {
	t.mu.Lock()
	client, pubsub, done := t.client, t.pubsub, t.done
	t.client, t.pubsub, t.done = nil, nil, nil
	t.mu.Unlock()

	if client == nil {
		return nil
	}

	var firstErr error
	if err := pubsub.Close(); err != nil {
		firstErr = err
	}
	<-done
	if err := client.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (t *RedisTransport) handles() (*redis.Client, *redis.PubSub, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil, nil, ErrNotConnected
	}
	return t.client, t.pubsub, nil
}

func (t *RedisTransport) Publish(ctx context.Context, topic string, data []byte) error {
	client, _, err := t.handles()
	if err != nil {
		return err
	}
	return client.Publish(ctx, topic, data).Err()
}

func (t *RedisTransport) Subscribe(ctx context.Context, topic string) error {
	_, pubsub, err := t.handles()
	if err != nil {
		return err
	}
	return pubsub.Subscribe(ctx, topic)
}

func (t *RedisTransport) Unsubscribe(ctx context.Context, topic string) error {
	_, pubsub, err := t.handles()
	if err != nil {
		return err
	}
	return pubsub.Unsubscribe(ctx, topic)
}

func (t *RedisTransport) Ping(ctx context.Context) error {
	client, _, err := t.handles()
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}

func (t *RedisTransport) String() string {
	return "redis://" + t.cfg.Addr
}
