package config

import "time"

// SwitchboardConfig is the top-level configuration structure for switchboard.
type SwitchboardConfig struct {
	Logging       LoggingConfig       `yaml:"logging"`
	Broker        BrokerConfig        `yaml:"broker"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator"`
	Tools         ToolsConfig         `yaml:"tools"`
	Reasoning     ReasoningConfig     `yaml:"reasoning"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// LoggingConfig selects level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format,omitempty"` // text or json (default: text)
}

// Broker transport types.
const (
	BrokerTypeRedis  = "redis"
	BrokerTypeMemory = "memory"
)

// BrokerConfig configures the shared broker connection.
type BrokerConfig struct {
	Type  string      `yaml:"type,omitempty"` // redis or memory (default: redis)
	Redis RedisConfig `yaml:"redis,omitempty"`

	MaxRetries          int           `yaml:"maxRetries,omitempty"`          // Connect attempts (default: 3)
	RetryDelay          time.Duration `yaml:"retryDelay,omitempty"`          // Initial connect backoff (default: 1s)
	MaxRetryDelay       time.Duration `yaml:"maxRetryDelay,omitempty"`       // Backoff cap (default: 10s)
	OperationRetries    int           `yaml:"operationRetries,omitempty"`    // Extra publish/subscribe attempts (default: 2)
	OperationRetryDelay time.Duration `yaml:"operationRetryDelay,omitempty"` // Initial publish/subscribe backoff (default: 50ms)
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`     // host:port (default: localhost:6379)
	Password string `yaml:"password,omitempty"` // Prefer SWITCHBOARD_REDIS_PASSWORD
	DB       int    `yaml:"db,omitempty"`
	PoolSize int    `yaml:"poolSize,omitempty"`
	UseTLS   bool   `yaml:"useTLS,omitempty"`
}

// OrchestratorConfig tunes startup, shutdown and health reporting.
type OrchestratorConfig struct {
	StopTimeout    time.Duration `yaml:"stopTimeout,omitempty"`    // Per-service stop budget (default: 10s)
	HealthInterval time.Duration `yaml:"healthInterval,omitempty"` // system.health period (default: 30s)
}

// MCP server transports supported by the gateway.
const (
	MCPTransportStdio = "stdio"
)

// CoreServerName is the name of the built-in tool server.
const CoreServerName = "core"

// ToolsConfig configures the tool call protocol and the gateway.
type ToolsConfig struct {
	Timeout       time.Duration     `yaml:"timeout,omitempty"`       // Default tool call deadline (default: 30s)
	MaxConcurrent int64             `yaml:"maxConcurrent,omitempty"` // Parallel executions in the gateway (default: 8)
	EnableCore    *bool             `yaml:"enableCore,omitempty"`    // Serve the built-in core tools (default: true)
	ServersFile   string            `yaml:"serversFile,omitempty"`   // Optional watched YAML list of servers
	Servers       []MCPServerConfig `yaml:"servers,omitempty"`
}

// CoreEnabled reports whether the built-in core server is served.
func (t ToolsConfig) CoreEnabled() bool {
	return t.EnableCore == nil || *t.EnableCore
}

// MCPServerConfig describes one external MCP server.
type MCPServerConfig struct {
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type,omitempty"` // default: stdio
	Command  string            `yaml:"command"`
	Args     []string          `yaml:"args,omitempty"`
	Env      map[string]string `yaml:"env,omitempty"`
	Disabled bool              `yaml:"disabled,omitempty"`
}

// ServersFile is the document format of ToolsConfig.ServersFile.
type ServersFile struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// ReasoningConfig configures the inference engine and the tool loop.
type ReasoningConfig struct {
	OllamaHost    string        `yaml:"ollamaHost,omitempty"`    // default: http://localhost:11434
	Model         string        `yaml:"model,omitempty"`         // default: llama3.1
	Temperature   float64       `yaml:"temperature,omitempty"`   // default: 0.7
	MaxIterations int           `yaml:"maxIterations,omitempty"` // Engine rounds per turn (default: 5)
	MaxHistory    int           `yaml:"maxHistory,omitempty"`    // Kept conversation messages (default: 20)
	Timeout       time.Duration `yaml:"timeout,omitempty"`       // Per engine request (default: 60s)
	SystemPrompt  string        `yaml:"systemPrompt,omitempty"`  // text/template with sprig functions
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Listen  string `yaml:"listen,omitempty"` // default: :9464
}

// Notification channel names.
const (
	ChannelConsole = "console"
	ChannelWebhook = "webhook"
)

// NotificationsConfig configures the notification service.
type NotificationsConfig struct {
	Enabled        *bool         `yaml:"enabled,omitempty"`        // default: true
	DefaultChannel string        `yaml:"defaultChannel,omitempty"` // Used when a request names none (default: console)
	Webhook        WebhookConfig `yaml:"webhook,omitempty"`
}

// IsEnabled reports whether the notification service runs.
func (n NotificationsConfig) IsEnabled() bool {
	return n.Enabled == nil || *n.Enabled
}

// WebhookConfig configures the webhook channel. An empty URL disables it.
type WebhookConfig struct {
	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty"` // Per attempt (default: 5s)
	Retries int               `yaml:"retries,omitempty"` // Extra attempts on failure (default: 2)
}
