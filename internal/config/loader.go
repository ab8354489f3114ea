package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"switchboard/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/switchboard"
	configFileName = "config.yaml"
)

// Environment variables that override file settings.
const (
	EnvRedisAddr     = "SWITCHBOARD_REDIS_ADDR"
	EnvRedisPassword = "SWITCHBOARD_REDIS_PASSWORD"
	EnvOllamaHost    = "SWITCHBOARD_OLLAMA_HOST"
	EnvLogLevel      = "SWITCHBOARD_LOG_LEVEL"
	EnvBrokerType    = "SWITCHBOARD_BROKER"
	EnvMetricsListen = "SWITCHBOARD_METRICS_LISTEN"
	EnvRedisDB       = "SWITCHBOARD_REDIS_DB"
	EnvWebhookURL    = "SWITCHBOARD_WEBHOOK_URL"
)

func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads config.yaml from configPath over the defaults, applies
// environment overrides and validates the result. A missing file is not an
// error.
func LoadConfig(configPath string) (SwitchboardConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		logging.Info("ConfigLoader", "Error loading config.yaml from %s: %s", configFilePath, err)
		return SwitchboardConfig{}, err
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return SwitchboardConfig{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	if err := applyEnv(&config); err != nil {
		return SwitchboardConfig{}, err
	}

	// A relative servers file is resolved against the config directory.
	if config.Tools.ServersFile != "" && !filepath.IsAbs(config.Tools.ServersFile) {
		config.Tools.ServersFile = filepath.Join(configPath, config.Tools.ServersFile)
	}

	if err := config.Validate(configFilePath); err != nil {
		return SwitchboardConfig{}, err
	}
	return config, nil
}

func applyEnv(config *SwitchboardConfig) error {
	if v, ok := os.LookupEnv(EnvRedisAddr); ok && v != "" {
		config.Broker.Redis.Addr = v
	}
	if v, ok := os.LookupEnv(EnvRedisPassword); ok {
		config.Broker.Redis.Password = v
	}
	if v, ok := os.LookupEnv(EnvOllamaHost); ok && v != "" {
		config.Reasoning.OllamaHost = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		config.Logging.Level = v
	}
	if v, ok := os.LookupEnv(EnvBrokerType); ok && v != "" {
		config.Broker.Type = v
	}
	if v, ok := os.LookupEnv(EnvMetricsListen); ok && v != "" {
		config.Metrics.Listen = v
		config.Metrics.Enabled = true
	}
	if v, ok := os.LookupEnv(EnvWebhookURL); ok && v != "" {
		config.Notifications.Webhook.URL = v
	}
	if v, ok := os.LookupEnv(EnvRedisDB); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			errs := NewConfigurationErrorCollection()
			errs.AddError("", EnvRedisDB, "env", "broker", "parse", fmt.Sprintf("invalid database number %q", v))
			return errs
		}
		config.Broker.Redis.DB = db
	}
	return nil
}

// LoadServersFile reads a servers document. A missing file yields no servers.
func LoadServersFile(path string) ([]MCPServerConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read servers file %s: %w", path, err)
	}

	var doc ServersFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse servers file %s: %w", path, err)
	}

	if verrs := ValidateServers(doc.Servers); len(verrs) > 0 {
		errs := NewConfigurationErrorCollection()
		for _, verr := range verrs {
			errs.AddError(path, filepath.Base(path), "servers", "tools", "validation", verr.Error())
		}
		return nil, errs
	}
	return doc.Servers, nil
}
