package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidatePort(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidatePort(0))
	assert.NoError(t, v.ValidatePort(10000))
	assert.NoError(t, v.ValidatePort(65535))
	assert.Error(t, v.ValidatePort(-1))
	assert.Error(t, v.ValidatePort(65536))
}

func TestValidatePositive(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidatePositive("x", time.Millisecond))
	assert.Error(t, v.ValidatePositive("x", 0))
	assert.Error(t, v.ValidatePositive("x", -time.Second))
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level), level)
	}
	assert.Error(t, v.ValidateLogLevel("trace"))
	assert.Error(t, v.ValidateLogLevel(""))
}

func TestValidateReconnectPolicy(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateReconnectPolicy(""))
	assert.NoError(t, v.ValidateReconnectPolicy("fixed"))
	assert.NoError(t, v.ValidateReconnectPolicy("exponential"))
	assert.Error(t, v.ValidateReconnectPolicy("linear"))
}

func TestValidateSchedule(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		spec  string
		valid bool
	}{
		{"@every 1m", true},
		{"@hourly", true},
		{"*/5 * * * *", true},
		{"", false},
		{"* * *", false},
		{"@every soon", false},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			err := v.ValidateSchedule(tt.spec)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateOrigin(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateOrigin("*"))
	assert.NoError(t, v.ValidateOrigin("http://localhost:3000"))
	assert.NoError(t, v.ValidateOrigin("https://dash.example.com"))
	assert.Error(t, v.ValidateOrigin("localhost:3000"))
	assert.Error(t, v.ValidateOrigin("dash.example.com"))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("defaults are valid", func(t *testing.T) {
		assert.Empty(t, v.ValidateConfig(DefaultConfig()))
	})

	t.Run("exponential max below base", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Sessions.ReconnectPolicy = "exponential"
		cfg.Sessions.ReconnectDelay = time.Minute
		cfg.Sessions.MaxReconnectDelay = time.Second
		assert.Len(t, v.ValidateConfig(cfg), 1)
	})

	t.Run("bad origin and browser url", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Gateway.AllowedOrigins = []string{"nope"}
		cfg.Browser.URL = "web.whatsapp.com"
		assert.Len(t, v.ValidateConfig(cfg), 2)
	})
}
