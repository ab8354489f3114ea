package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidateRequired checks if a required string field is not empty
func ValidateRequired(field, value, entityType string) error {
	if strings.TrimSpace(value) == "" {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("is required for %s", entityType),
		}
	}
	return nil
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateMinLength checks if a string meets minimum length requirements
func ValidateMinLength(field, value string, minLength int) error {
	if len(strings.TrimSpace(value)) < minLength {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("must be at least %d characters long", minLength),
		}
	}
	return nil
}

// ValidateMaxLength checks if a string doesn't exceed maximum length
func ValidateMaxLength(field, value string, maxLength int) error {
	if len(value) > maxLength {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("must not exceed %d characters", maxLength),
		}
	}
	return nil
}

// ValidateEntityName validates that an entity name follows proper conventions
func ValidateEntityName(name, entityType string) error {
	if err := ValidateRequired("name", name, entityType); err != nil {
		return err
	}

	if err := ValidateMinLength("name", name, 1); err != nil {
		return err
	}

	if err := ValidateMaxLength("name", name, 100); err != nil {
		return err
	}

	// Check for invalid characters (basic validation)
	if strings.Contains(name, " ") {
		return ValidationError{
			Field:   "name",
			Value:   name,
			Message: "cannot contain spaces",
		}
	}

	return nil
}

// Validate checks the configuration and returns a
// *ConfigurationErrorCollection listing every problem, or nil.
func (c SwitchboardConfig) Validate(filePath string) error {
	errs := NewConfigurationErrorCollection()
	fileName := filepath.Base(filePath)
	add := func(category string, err error) {
		if err != nil {
			errs.AddError(filePath, fileName, "file", category, "validation", err.Error())
		}
	}

	add("logging", ValidateOneOf("logging.level", strings.ToLower(c.Logging.Level), []string{"debug", "info", "warn", "error"}))
	add("logging", ValidateOneOf("logging.format", c.Logging.Format, []string{"text", "json"}))

	add("broker", ValidateOneOf("broker.type", c.Broker.Type, []string{BrokerTypeRedis, BrokerTypeMemory}))
	if c.Broker.Type == BrokerTypeRedis {
		add("broker", ValidateRequired("broker.redis.addr", c.Broker.Redis.Addr, "the redis broker"))
	}
	add("broker", validatePositive("broker.maxRetries", c.Broker.MaxRetries))
	add("broker", validateNonNegative("broker.operationRetries", c.Broker.OperationRetries))

	add("orchestrator", validateDuration("orchestrator.stopTimeout", c.Orchestrator.StopTimeout))
	add("orchestrator", validateDuration("orchestrator.healthInterval", c.Orchestrator.HealthInterval))

	add("tools", validateDuration("tools.timeout", c.Tools.Timeout))
	add("tools", validatePositive("tools.maxConcurrent", int(c.Tools.MaxConcurrent)))
	for _, err := range ValidateServers(c.Tools.Servers) {
		add("tools", err)
	}

	add("reasoning", ValidateRequired("reasoning.ollamaHost", c.Reasoning.OllamaHost, "reasoning"))
	add("reasoning", ValidateRequired("reasoning.model", c.Reasoning.Model, "reasoning"))
	add("reasoning", validatePositive("reasoning.maxIterations", c.Reasoning.MaxIterations))
	add("reasoning", validatePositive("reasoning.maxHistory", c.Reasoning.MaxHistory))
	add("reasoning", validateDuration("reasoning.timeout", c.Reasoning.Timeout))

	if c.Metrics.Enabled {
		add("metrics", ValidateRequired("metrics.listen", c.Metrics.Listen, "metrics"))
	}

	if c.Notifications.IsEnabled() {
		add("notifications", ValidateOneOf("notifications.defaultChannel", c.Notifications.DefaultChannel, []string{ChannelConsole, ChannelWebhook}))
		if c.Notifications.DefaultChannel == ChannelWebhook {
			add("notifications", ValidateRequired("notifications.webhook.url", c.Notifications.Webhook.URL, "the webhook channel"))
		}
		if c.Notifications.Webhook.URL != "" {
			add("notifications", validateURL("notifications.webhook.url", c.Notifications.Webhook.URL))
			add("notifications", validateDuration("notifications.webhook.timeout", c.Notifications.Webhook.Timeout))
			add("notifications", validateNonNegative("notifications.webhook.retries", c.Notifications.Webhook.Retries))
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ValidateServers checks a list of MCP server definitions. Names must be
// unique and must not collide with the built-in core server.
func ValidateServers(servers []MCPServerConfig) []error {
	var errs []error
	seen := make(map[string]bool, len(servers))
	for i, srv := range servers {
		field := fmt.Sprintf("tools.servers[%d]", i)
		if err := ValidateEntityName(srv.Name, "MCP server"); err != nil {
			errs = append(errs, ValidationError{Field: field + ".name", Value: srv.Name, Message: err.Error()})
			continue
		}
		if strings.Contains(srv.Name, "/") {
			errs = append(errs, ValidationError{Field: field + ".name", Value: srv.Name, Message: "cannot contain '/'"})
		}
		if srv.Name == CoreServerName {
			errs = append(errs, ValidationError{Field: field + ".name", Value: srv.Name, Message: "is reserved for the built-in server"})
		}
		if seen[srv.Name] {
			errs = append(errs, ValidationError{Field: field + ".name", Value: srv.Name, Message: "is defined more than once"})
		}
		seen[srv.Name] = true

		if srv.Type != "" {
			if err := ValidateOneOf(field+".type", srv.Type, []string{MCPTransportStdio}); err != nil {
				errs = append(errs, err)
			}
		}
		if err := ValidateRequired(field+".command", srv.Command, "MCP server "+srv.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func validateURL(field, value string) error {
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ValidationError{Field: field, Value: value, Message: "must be an http(s) URL"}
	}
	return nil
}

func validatePositive(field string, value int) error {
	if value <= 0 {
		return ValidationError{Field: field, Value: value, Message: "must be greater than zero"}
	}
	return nil
}

func validateNonNegative(field string, value int) error {
	if value < 0 {
		return ValidationError{Field: field, Value: value, Message: "must not be negative"}
	}
	return nil
}

func validateDuration(field string, value time.Duration) error {
	if value <= 0 {
		return ValidationError{Field: field, Value: value.String(), Message: "must be a positive duration"}
	}
	return nil
}
