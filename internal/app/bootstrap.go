package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"switchboard/internal/config"
	"switchboard/pkg/logging"
)

// Application bootstraps and runs switchboard.
//
// Construction loads the configuration, sets up logging and wires every
// service into the orchestrator; Run drives the orchestrator until the
// context is cancelled or a termination signal arrives.
//
//	cfg := app.NewConfig(false, "", version)
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return application.Run(ctx)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads the configuration (unless cfg already carries one),
// initializes logging and creates all services.
func NewApplication(cfg *Config) (*Application, error) {
	if err := LoadConfiguration(cfg); err != nil {
		return nil, err
	}
	InitLogging(cfg)

	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// LoadConfiguration fills cfg.SwitchboardConfig from cfg.ConfigPath.
func LoadConfiguration(cfg *Config) error {
	if cfg.SwitchboardConfig != nil {
		return nil
	}
	configPath := cfg.ConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}
	loaded, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load switchboard configuration from %s: %w", configPath, err)
	}
	cfg.ConfigPath = configPath
	cfg.SwitchboardConfig = &loaded
	return nil
}

// InitLogging configures the process logger from the loaded configuration.
// The debug flag wins over the configured level.
func InitLogging(cfg *Config) {
	level := logging.LevelInfo
	format := logging.FormatText
	if cfg.SwitchboardConfig != nil {
		if parsed, err := logging.ParseLevel(cfg.SwitchboardConfig.Logging.Level); err == nil {
			level = parsed
		}
		if cfg.SwitchboardConfig.Logging.Format == string(logging.FormatJSON) {
			format = logging.FormatJSON
		}
	}
	if cfg.Debug {
		level = logging.LevelDebug
	}

	var output io.Writer = os.Stderr
	if cfg.Silent {
		output = io.Discard
	}
	logging.Init(logging.Options{Level: level, Format: format, Output: output})
}

// Services returns the wired services.
func (a *Application) Services() *Services {
	return a.services
}

// Run executes the application until ctx is cancelled or SIGINT/SIGTERM
// arrives, then stops every service.
func (a *Application) Run(ctx context.Context) error {
	return runOrchestrator(ctx, a.services)
}
