package app

import (
	"fmt"

	"switchboard/internal/broker"
	"switchboard/internal/config"
	"switchboard/internal/metrics"
	"switchboard/internal/orchestrator"
	"switchboard/internal/reasoning"
	"switchboard/internal/services/bus"
	"switchboard/internal/services/gateway"
	"switchboard/internal/services/notification"
	reasoningService "switchboard/internal/services/reasoning"
	"switchboard/internal/toolcall"
	"switchboard/pkg/logging"
)

// Services holds everything InitializeServices wired together.
type Services struct {
	// Orchestrator owns the lifecycle of every service below.
	Orchestrator *orchestrator.Orchestrator

	// Bus is the shared broker connection of the process. Its lifecycle is
	// driven by the broker service.
	Bus *broker.Client

	// Hub is the in-process broker when the memory transport is configured.
	Hub *broker.MemoryHub

	Requester *toolcall.Requester
	Gateway   *gateway.Service
	Reasoning *reasoningService.Service
	// Notification is nil when notifications are disabled.
	Notification *notification.Service

	// Collectors is nil unless metrics are enabled.
	Collectors *metrics.Collectors
}

// InitializeServices creates the broker connection and registers every
// service with the orchestrator:
//
//   - broker (required): owns the shared connection
//   - gateway: MCP tool servers behind the tool call protocol
//   - reasoning: transcripts to answers through the inference engine
//   - notification: notification requests and system alerts, when enabled
//   - metrics: Prometheus endpoint, when enabled
//
// Nothing is connected or started here; that happens in Orchestrator.Start.
func InitializeServices(cfg *Config) (*Services, error) {
	if cfg.SwitchboardConfig == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	sc := cfg.SwitchboardConfig

	s := &Services{}

	var brokerOpts []broker.Option
	if sc.Metrics.Enabled {
		s.Collectors = metrics.NewCollectors()
		brokerOpts = append(brokerOpts, broker.WithObserver(s.Collectors))
	}

	transport, hub := NewTransport(sc.Broker)
	s.Hub = hub
	s.Bus = broker.NewClient(transport, BrokerClientConfig(sc.Broker), brokerOpts...)

	s.Orchestrator = orchestrator.New(orchestrator.Config{
		StopTimeout:    sc.Orchestrator.StopTimeout,
		HealthInterval: sc.Orchestrator.HealthInterval,
		Bus:            s.Bus,
	})

	var requesterOpts []toolcall.RequesterOption
	if s.Collectors != nil {
		requesterOpts = append(requesterOpts, toolcall.WithObserver(s.Collectors))
	}
	s.Requester = toolcall.NewRequester(s.Bus, toolcall.Config{Timeout: sc.Tools.Timeout}, requesterOpts...)

	var gatewayOpts []gateway.Option
	var reasoningOpts []reasoningService.Option
	if s.Collectors != nil {
		gatewayOpts = append(gatewayOpts, gateway.WithCallObserver(s.Collectors))
		reasoningOpts = append(reasoningOpts, reasoningService.WithTurnObserver(s.Collectors))
	}

	s.Gateway = gateway.New(s.Bus, gateway.Config{
		Servers:       sc.Tools.Servers,
		ServersFile:   sc.Tools.ServersFile,
		EnableCore:    sc.Tools.CoreEnabled(),
		Version:       cfg.Version,
		MaxConcurrent: sc.Tools.MaxConcurrent,
		ExecTimeout:   sc.Tools.Timeout,
	}, gatewayOpts...)

	engine := reasoning.NewOllamaEngine(reasoning.OllamaConfig{
		BaseURL:     sc.Reasoning.OllamaHost,
		Model:       sc.Reasoning.Model,
		Temperature: sc.Reasoning.Temperature,
		Timeout:     sc.Reasoning.Timeout,
	})
	s.Reasoning = reasoningService.New(s.Bus, engine, s.Requester, reasoningService.Config{
		MaxIterations: sc.Reasoning.MaxIterations,
		MaxHistory:    sc.Reasoning.MaxHistory,
		SystemPrompt:  sc.Reasoning.SystemPrompt,
	}, reasoningOpts...)

	if err := s.Orchestrator.Register(bus.New(s.Bus), orchestrator.Required()); err != nil {
		return nil, err
	}
	if err := s.Orchestrator.Register(s.Gateway, orchestrator.DependsOn(bus.ServiceName)); err != nil {
		return nil, err
	}
	if err := s.Orchestrator.Register(s.Reasoning, orchestrator.DependsOn(bus.ServiceName)); err != nil {
		return nil, err
	}
	if sc.Notifications.IsEnabled() {
		var notificationOpts []notification.Option
		if s.Collectors != nil {
			notificationOpts = append(notificationOpts, notification.WithObserver(s.Collectors))
		}
		s.Notification = notification.New(s.Bus, notification.Config{
			DefaultChannel: sc.Notifications.DefaultChannel,
			Webhook: notification.WebhookConfig{
				URL:     sc.Notifications.Webhook.URL,
				Headers: sc.Notifications.Webhook.Headers,
				Timeout: sc.Notifications.Webhook.Timeout,
				Retries: sc.Notifications.Webhook.Retries,
			},
		}, notificationOpts...)
		if err := s.Orchestrator.Register(s.Notification, orchestrator.DependsOn(bus.ServiceName)); err != nil {
			return nil, err
		}
	}
	if s.Collectors != nil {
		metricsService := metrics.NewService(s.Bus, sc.Metrics.Listen, s.Collectors)
		if err := s.Orchestrator.Register(metricsService, orchestrator.DependsOn(bus.ServiceName)); err != nil {
			return nil, err
		}
	}

	logging.Debug("Bootstrap", "Registered services: %v", s.Orchestrator.Registry().Names())
	return s, nil
}

// Close releases the broker connection.
func (s *Services) Close() error {
	return s.Bus.Close()
}

// NewTransport creates the configured broker transport. The hub is returned
// for the memory transport so that more clients can join it.
func NewTransport(cfg config.BrokerConfig) (broker.Transport, *broker.MemoryHub) {
	if cfg.Type == config.BrokerTypeMemory {
		hub := broker.NewMemoryHub()
		return hub.Transport(), hub
	}

	redisCfg := broker.DefaultRedisConfig()
	redisCfg.Addr = cfg.Redis.Addr
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.UseTLS = cfg.Redis.UseTLS
	if cfg.Redis.PoolSize > 0 {
		redisCfg.PoolSize = cfg.Redis.PoolSize
	}
	return broker.NewRedisTransport(redisCfg), nil
}

// BrokerClientConfig maps the broker section onto the client retry settings.
func BrokerClientConfig(cfg config.BrokerConfig) broker.Config {
	return broker.Config{
		MaxRetries:          cfg.MaxRetries,
		RetryDelay:          cfg.RetryDelay,
		MaxRetryDelay:       cfg.MaxRetryDelay,
		OperationRetries:    cfg.OperationRetries,
		OperationRetryDelay: cfg.OperationRetryDelay,
	}
}
