package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct {
	parser cron.Parser
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 0-65535)", port)
	}
	return nil
}

// ValidatePositive validates that a duration is greater than zero
func (v *Validator) ValidatePositive(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateReconnectPolicy validates the reconnect policy name
func (v *Validator) ValidateReconnectPolicy(policy string) error {
	if policy == "" {
		return nil // Use default
	}

	validPolicies := []string{"fixed", "exponential"}
	for _, valid := range validPolicies {
		if policy == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid reconnect policy: %s (must be one of: %s)", policy, strings.Join(validPolicies, ", "))
}

// ValidateSchedule validates a cron spec such as "*/5 * * * *" or "@every 1m"
func (v *Validator) ValidateSchedule(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return fmt.Errorf("maintenance schedule cannot be empty")
	}
	if _, err := v.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateOrigin validates an allowed dashboard origin
func (v *Validator) ValidateOrigin(origin string) error {
	if origin == "*" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid allowed origin: %q (expected scheme://host[:port] or *)", origin)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidatePort(cfg.Gateway.Port); err != nil {
		errors = append(errors, fmt.Errorf("gateway.port: %w", err))
	}
	for _, origin := range cfg.Gateway.AllowedOrigins {
		if err := v.ValidateOrigin(origin); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Gateway.RequestsPerMinute < 0 {
		errors = append(errors, fmt.Errorf("gateway.requests_per_minute must be >= 0"))
	}
	if cfg.Gateway.MaxConcurrent < 0 {
		errors = append(errors, fmt.Errorf("gateway.max_concurrent must be >= 0"))
	}
	if err := v.ValidatePositive("gateway.shutdown_timeout", cfg.Gateway.ShutdownTimeout); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateReconnectPolicy(cfg.Sessions.ReconnectPolicy); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidatePositive("sessions.reconnect_delay", cfg.Sessions.ReconnectDelay); err != nil {
		errors = append(errors, err)
	}
	if cfg.Sessions.ReconnectPolicy == "exponential" && cfg.Sessions.MaxReconnectDelay > 0 &&
		cfg.Sessions.MaxReconnectDelay < cfg.Sessions.ReconnectDelay {
		errors = append(errors, fmt.Errorf("sessions.max_reconnect_delay must be >= sessions.reconnect_delay"))
	}
	if err := v.ValidatePositive("sessions.watchdog_timeout", cfg.Sessions.WatchdogTimeout); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidatePositive("sessions.engine_timeout", cfg.Sessions.EngineTimeout); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidatePositive("hub.heartbeat_interval", cfg.Hub.HeartbeatInterval); err != nil {
		errors = append(errors, err)
	}
	if cfg.Hub.QueueSize < 0 {
		errors = append(errors, fmt.Errorf("hub.queue_size must be >= 0"))
	}

	if cfg.Browser.URL != "" {
		if u, err := url.Parse(cfg.Browser.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, fmt.Errorf("invalid browser.url: %q", cfg.Browser.URL))
		}
	}

	if cfg.Maintenance.Enabled {
		if err := v.ValidateSchedule(cfg.Maintenance.Schedule); err != nil {
			errors = append(errors, err)
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
