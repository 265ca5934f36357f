package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME at a temp dir and clears env that would leak into Load.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("PORT", "")
	t.Setenv("WAGATEWAY_GATEWAY_PORT", "")
	return home
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.configPath)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		isolate(t)
		configPath := filepath.Join(t.TempDir(), "nonexistent.json")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, 10000, cfg.Gateway.Port)
		assert.Equal(t, 5*time.Second, cfg.Sessions.ReconnectDelay)
		assert.Equal(t, []string{"http://localhost:3000"}, cfg.Gateway.AllowedOrigins)
		assert.True(t, cfg.Store.Enabled)
	})

	t.Run("load config from file", func(t *testing.T) {
		isolate(t)
		configPath := filepath.Join(t.TempDir(), "config.json")

		testConfig := `{
			"gateway": {
				"port": 9000,
				"shared_secret": "s3cret",
				"allowed_origins": ["https://dash.example.com"]
			},
			"sessions": {
				"reconnect_policy": "exponential",
				"reconnect_delay": "2s",
				"watchdog_timeout": "90s"
			},
			"hub": {"heartbeat_interval": "10s"}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, 9000, cfg.Gateway.Port)
		assert.Equal(t, "s3cret", cfg.Gateway.SharedSecret)
		assert.Equal(t, []string{"https://dash.example.com"}, cfg.Gateway.AllowedOrigins)
		assert.Equal(t, "exponential", cfg.Sessions.ReconnectPolicy)
		assert.Equal(t, 2*time.Second, cfg.Sessions.ReconnectDelay)
		assert.Equal(t, 90*time.Second, cfg.Sessions.WatchdogTimeout)
		assert.Equal(t, 10*time.Second, cfg.Hub.HeartbeatInterval)
		// Untouched keys keep their defaults.
		assert.Equal(t, 5*time.Minute, cfg.Sessions.MaxReconnectDelay)
		assert.Equal(t, "0.0.0.0", cfg.Gateway.Host)
	})

	t.Run("set default paths", func(t *testing.T) {
		home := isolate(t)

		cfg, err := NewLoader(filepath.Join(home, "missing.json")).Load()

		require.NoError(t, err)
		dataDir := filepath.Join(home, ".wagateway")
		assert.Equal(t, dataDir, cfg.DataDir)
		assert.Equal(t, filepath.Join(dataDir, "sessions"), cfg.Sessions.AuthDir)
		assert.Equal(t, filepath.Join(dataDir, "sessions.db"), cfg.Store.Path)
		assert.Equal(t, filepath.Join(dataDir, "browser"), cfg.Browser.DownloadDir)
		assert.Equal(t, filepath.Join(dataDir, "wagateway.log"), cfg.Logging.File)
		assert.Equal(t, filepath.Join(dataDir, "wagateway.pid"), cfg.PIDFile())
	})

	t.Run("explicit data dir drives derived paths", func(t *testing.T) {
		isolate(t)
		dataDir := t.TempDir()
		configPath := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"data_dir": "`+dataDir+`"}`), 0644))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dataDir, "sessions"), cfg.Sessions.AuthDir)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		isolate(t)
		configPath := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"gateway": {"port": 9000}}`), 0644))

		t.Setenv("WAGATEWAY_GATEWAY_PORT", "9100")
		t.Setenv("WAGATEWAY_SESSIONS_RECONNECT_DELAY", "7s")
		t.Setenv("WAGATEWAY_LOGGING_LEVEL", "debug")
		t.Setenv("WAGATEWAY_GATEWAY_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, 9100, cfg.Gateway.Port)
		assert.Equal(t, 7*time.Second, cfg.Sessions.ReconnectDelay)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Gateway.AllowedOrigins)
	})

	t.Run("PORT sets the gateway port", func(t *testing.T) {
		isolate(t)
		t.Setenv("PORT", "8088")

		cfg, err := NewLoader(filepath.Join(t.TempDir(), "missing.json")).Load()

		require.NoError(t, err)
		assert.Equal(t, 8088, cfg.Gateway.Port)
	})

	t.Run("invalid json", func(t *testing.T) {
		isolate(t)
		configPath := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"gateway": `), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestGetConfigPath(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		assert.Equal(t, "/custom/path/config.json", NewLoader("/custom/path/config.json").GetConfigPath())
	})

	t.Run("default path", func(t *testing.T) {
		home := isolate(t)
		assert.Equal(t, filepath.Join(home, ".wagateway", "wagateway.json"), NewLoader("").GetConfigPath())
	})
}

func TestLoad(t *testing.T) {
	isolate(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
}
