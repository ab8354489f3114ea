package config

import "time"

const (
	DefaultRedisAddr      = "localhost:6379"
	DefaultOllamaHost     = "http://localhost:11434"
	DefaultModel          = "llama3.1"
	DefaultMetricsListen  = ":9464"
	DefaultMaxIterations  = 5
	DefaultMaxHistory     = 20
	DefaultToolTimeout    = 30 * time.Second
	DefaultEngineTimeout  = 60 * time.Second
	DefaultStopTimeout    = 10 * time.Second
	DefaultHealthInterval = 30 * time.Second
	DefaultWebhookTimeout = 5 * time.Second
	DefaultWebhookRetries = 2
)

// GetDefaultConfig returns the default configuration for switchboard.
func GetDefaultConfig() SwitchboardConfig {
	return SwitchboardConfig{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Broker: BrokerConfig{
			Type: BrokerTypeRedis,
			Redis: RedisConfig{
				Addr:     DefaultRedisAddr,
				PoolSize: 10,
			},
			MaxRetries:          3,
			RetryDelay:          time.Second,
			MaxRetryDelay:       10 * time.Second,
			OperationRetries:    2,
			OperationRetryDelay: 50 * time.Millisecond,
		},
		Orchestrator: OrchestratorConfig{
			StopTimeout:    DefaultStopTimeout,
			HealthInterval: DefaultHealthInterval,
		},
		Tools: ToolsConfig{
			Timeout:       DefaultToolTimeout,
			MaxConcurrent: 8,
		},
		Reasoning: ReasoningConfig{
			OllamaHost:    DefaultOllamaHost,
			Model:         DefaultModel,
			Temperature:   0.7,
			MaxIterations: DefaultMaxIterations,
			MaxHistory:    DefaultMaxHistory,
			Timeout:       DefaultEngineTimeout,
		},
		Metrics: MetricsConfig{
			Listen: DefaultMetricsListen,
		},
		Notifications: NotificationsConfig{
			DefaultChannel: ChannelConsole,
			Webhook: WebhookConfig{
				Timeout: DefaultWebhookTimeout,
				Retries: DefaultWebhookRetries,
			},
		},
	}
}
