package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	appDir     = ".wagateway"
	configName = "wagateway.json"
	envPrefix  = "WAGATEWAY"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file if present, then applies WAGATEWAY_* overrides.
// A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to determine config path")
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	// Hosting platforms hand the listen port over as PORT.
	if err := v.BindEnv("gateway.port", envPrefix+"_GATEWAY_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("failed to bind port env: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyPaths(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so that AutomaticEnv overrides reach
// Unmarshal even when the file does not mention them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("gateway.port", d.Gateway.Port)
	v.SetDefault("gateway.host", d.Gateway.Host)
	v.SetDefault("gateway.shared_secret", d.Gateway.SharedSecret)
	v.SetDefault("gateway.allowed_origins", d.Gateway.AllowedOrigins)
	v.SetDefault("gateway.requests_per_minute", d.Gateway.RequestsPerMinute)
	v.SetDefault("gateway.max_concurrent", d.Gateway.MaxConcurrent)
	v.SetDefault("gateway.shutdown_timeout", d.Gateway.ShutdownTimeout)
	v.SetDefault("gateway.metrics", d.Gateway.Metrics)

	v.SetDefault("sessions.auth_dir", d.Sessions.AuthDir)
	v.SetDefault("sessions.reconnect_policy", d.Sessions.ReconnectPolicy)
	v.SetDefault("sessions.reconnect_delay", d.Sessions.ReconnectDelay)
	v.SetDefault("sessions.max_reconnect_delay", d.Sessions.MaxReconnectDelay)
	v.SetDefault("sessions.watchdog_timeout", d.Sessions.WatchdogTimeout)
	v.SetDefault("sessions.max_init_retries", d.Sessions.MaxInitRetries)
	v.SetDefault("sessions.engine_timeout", d.Sessions.EngineTimeout)
	v.SetDefault("sessions.restore_on_start", d.Sessions.RestoreOnStart)

	v.SetDefault("hub.heartbeat_interval", d.Hub.HeartbeatInterval)
	v.SetDefault("hub.queue_size", d.Hub.QueueSize)
	v.SetDefault("hub.write_timeout", d.Hub.WriteTimeout)

	v.SetDefault("browser.bin", d.Browser.Bin)
	v.SetDefault("browser.allow_download", d.Browser.AllowDownload)
	v.SetDefault("browser.download_dir", d.Browser.DownloadDir)
	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.no_sandbox", d.Browser.NoSandbox)
	v.SetDefault("browser.flags", d.Browser.Flags)
	v.SetDefault("browser.url", d.Browser.URL)
	v.SetDefault("browser.user_agent", d.Browser.UserAgent)
	v.SetDefault("browser.poll_interval", d.Browser.PollInterval)
	v.SetDefault("browser.send_timeout", d.Browser.SendTimeout)
	v.SetDefault("browser.preload", d.Browser.Preload)

	v.SetDefault("store.enabled", d.Store.Enabled)
	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("maintenance.enabled", d.Maintenance.Enabled)
	v.SetDefault("maintenance.schedule", d.Maintenance.Schedule)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.console", d.Logging.Console)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("logging.redaction", d.Logging.Redaction)

	v.SetDefault("data_dir", d.DataDir)
}

// applyPaths fills every unset path under the data directory.
func applyPaths(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, appDir)
	}

	if cfg.Sessions.AuthDir == "" {
		cfg.Sessions.AuthDir = filepath.Join(cfg.DataDir, "sessions")
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.DataDir, "sessions.db")
	}
	if cfg.Browser.DownloadDir == "" {
		cfg.Browser.DownloadDir = filepath.Join(cfg.DataDir, "browser")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "wagateway.log")
	}
	return nil
}

// PIDFile returns the daemon PID file path
func (c *Config) PIDFile() string {
	return filepath.Join(c.DataDir, "wagateway.pid")
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, appDir, configName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
