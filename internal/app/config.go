package app

import (
	"switchboard/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of the configured level.
	Debug bool

	// Silent discards all log output.
	Silent bool

	// ConfigPath is the configuration directory. Empty means the default
	// directory in the user's home.
	ConfigPath string

	// Version is reported by the core tool server and status output.
	Version string

	// SwitchboardConfig is loaded by NewApplication unless already set.
	SwitchboardConfig *config.SwitchboardConfig
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, configPath, version string) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
		Version:    version,
	}
}
