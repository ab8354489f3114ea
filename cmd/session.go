package cmd

import (
	"context"
	"fmt"
	"time"

	"switchboard/internal/app"
	"switchboard/internal/broker"
	"switchboard/internal/config"
	"switchboard/internal/messages"
	"switchboard/pkg/logging"
)

// session is a broker connection for a client command. With the memory
// broker there is nothing to join, so the services run inside the command.
type session struct {
	Bus    *broker.Client
	Config config.SwitchboardConfig

	embedded *app.Services
}

// openSession loads the configuration and joins the bus.
func openSession(ctx context.Context) (*session, error) {
	cfg := app.NewConfig(debug, configPath, GetVersion())
	// Client commands only log problems unless asked for more.
	cfg.Silent = !debug
	if err := app.LoadConfiguration(cfg); err != nil {
		return nil, err
	}
	app.InitLogging(cfg)

	sc := *cfg.SwitchboardConfig
	s := &session{Config: sc}

	if sc.Broker.Type == config.BrokerTypeMemory {
		services, err := app.InitializeServices(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedded services: %w", err)
		}
		if err := services.Orchestrator.Start(ctx); err != nil {
			_ = services.Close()
			return nil, err
		}
		s.embedded = services
		s.Bus = broker.NewClient(services.Hub.Transport(), app.BrokerClientConfig(sc.Broker))
	} else {
		transport, _ := app.NewTransport(sc.Broker)
		s.Bus = broker.NewClient(transport, app.BrokerClientConfig(sc.Broker))
	}

	if err := s.Bus.Connect(ctx); err != nil {
		s.Close()
		return nil, err
	}
	logging.Debug("CLI", "Joined bus at %s", s.Bus.Target())
	return s, nil
}

// Close leaves the bus and stops embedded services.
func (s *session) Close() {
	if err := s.Bus.Close(); err != nil {
		logging.Debug("CLI", "Error closing broker connection: %v", err)
	}
	if s.embedded != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.embedded.Orchestrator.Stop(stopCtx); err != nil {
			logging.Debug("CLI", "Error stopping embedded services: %v", err)
		}
		_ = s.embedded.Close()
	}
}

// await subscribes to topic, runs trigger and returns the first message that
// arrives on topic before ctx ends.
func await[T messages.Payload](ctx context.Context, bus *broker.Client, topic messages.Topic[T], trigger func() error) (T, error) {
	var zero T
	ch := make(chan T, 1)
	route := messages.Handle(topic, func(_ context.Context, _ broker.Envelope, msg T) error {
		select {
		case ch <- msg:
		default:
		}
		return nil
	})
	sub, err := bus.Subscribe(ctx, route.Topic, route.Handler)
	if err != nil {
		return zero, err
	}
	defer func() { _ = bus.Unsubscribe(context.Background(), sub) }()

	if err := trigger(); err != nil {
		return zero, err
	}

	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		return zero, fmt.Errorf("no answer on %s: %w", topic, ctx.Err())
	}
}
