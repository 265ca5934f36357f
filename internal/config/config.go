package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main gateway configuration
type Config struct {
	// Gateway holds the dashboard-facing HTTP and WebSocket surface
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Sessions holds lifecycle timing and reconnect behaviour
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Hub holds event fan-out settings
	Hub HubConfig `json:"hub" mapstructure:"hub"`

	// Browser holds runtime discovery and launch settings
	Browser BrowserConfig `json:"browser" mapstructure:"browser"`

	// Store holds the persisted session index
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Maintenance holds the periodic housekeeping job
	Maintenance MaintenanceConfig `json:"maintenance" mapstructure:"maintenance"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port              int           `json:"port" mapstructure:"port"`
	Host              string        `json:"host" mapstructure:"host"`
	SharedSecret      string        `json:"shared_secret" mapstructure:"shared_secret"`
	AllowedOrigins    []string      `json:"allowed_origins" mapstructure:"allowed_origins"`
	RequestsPerMinute int           `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int           `json:"max_concurrent" mapstructure:"max_concurrent"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	Metrics           bool          `json:"metrics" mapstructure:"metrics"`
}

// SessionsConfig holds session lifecycle configuration
type SessionsConfig struct {
	AuthDir           string        `json:"auth_dir" mapstructure:"auth_dir"`
	ReconnectPolicy   string        `json:"reconnect_policy" mapstructure:"reconnect_policy"` // fixed, exponential
	ReconnectDelay    time.Duration `json:"reconnect_delay" mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `json:"max_reconnect_delay" mapstructure:"max_reconnect_delay"`
	WatchdogTimeout   time.Duration `json:"watchdog_timeout" mapstructure:"watchdog_timeout"`
	MaxInitRetries    int           `json:"max_init_retries" mapstructure:"max_init_retries"`
	EngineTimeout     time.Duration `json:"engine_timeout" mapstructure:"engine_timeout"`
	RestoreOnStart    bool          `json:"restore_on_start" mapstructure:"restore_on_start"`
}

// HubConfig holds event hub configuration
type HubConfig struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	QueueSize         int           `json:"queue_size" mapstructure:"queue_size"`
	WriteTimeout      time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
}

// BrowserConfig holds browser runtime configuration
type BrowserConfig struct {
	Bin           string        `json:"bin" mapstructure:"bin"`
	AllowDownload bool          `json:"allow_download" mapstructure:"allow_download"`
	DownloadDir   string        `json:"download_dir" mapstructure:"download_dir"`
	Headless      bool          `json:"headless" mapstructure:"headless"`
	NoSandbox     bool          `json:"no_sandbox" mapstructure:"no_sandbox"`
	Flags         []string      `json:"flags" mapstructure:"flags"`
	URL           string        `json:"url" mapstructure:"url"`
	UserAgent     string        `json:"user_agent" mapstructure:"user_agent"`
	PollInterval  time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	SendTimeout   time.Duration `json:"send_timeout" mapstructure:"send_timeout"`
	Preload       bool          `json:"preload" mapstructure:"preload"`
}

// StoreConfig holds session index persistence configuration
type StoreConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// MaintenanceConfig holds the housekeeping schedule
type MaintenanceConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Schedule string `json:"schedule" mapstructure:"schedule"` // cron spec or @every
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"`
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Port:              10000,
			Host:              "0.0.0.0",
			AllowedOrigins:    []string{"http://localhost:3000"},
			RequestsPerMinute: 120,
			MaxConcurrent:     10,
			ShutdownTimeout:   30 * time.Second,
			Metrics:           true,
		},
		Sessions: SessionsConfig{
			ReconnectPolicy:   "fixed",
			ReconnectDelay:    5 * time.Second,
			MaxReconnectDelay: 5 * time.Minute,
			WatchdogTimeout:   60 * time.Second,
			MaxInitRetries:    3,
			EngineTimeout:     30 * time.Second,
			RestoreOnStart:    true,
		},
		Hub: HubConfig{
			HeartbeatInterval: 25 * time.Second,
			QueueSize:         256,
			WriteTimeout:      10 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:     true,
			NoSandbox:    true,
			URL:          "https://web.whatsapp.com",
			PollInterval: time.Second,
			SendTimeout:  45 * time.Second,
			Preload:      true,
		},
		Store: StoreConfig{
			Enabled: true,
		},
		Maintenance: MaintenanceConfig{
			Enabled:  true,
			Schedule: "@every 1m",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.Gateway.SharedSecret != "" {
		masked.Gateway.SharedSecret = "********"
	}
	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	errs := NewValidator().ValidateConfig(c)
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	msg := fmt.Sprintf("%d configuration errors:", len(errs))
	for _, err := range errs {
		msg += "\n  - " + err.Error()
	}
	return fmt.Errorf("%s", msg)
}
