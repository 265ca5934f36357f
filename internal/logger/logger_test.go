package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestNew(t *testing.T) {
	t.Run("json console output", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger, err := New(Config{Level: "info", Console: true, Output: buf})
		require.NoError(t, err)
		defer logger.Close()

		logger.Info().Str("session_id", "alpha").Msg("Session ready")
		logger.Debug().Msg("filtered")

		lines := decodeLines(t, buf)
		require.Len(t, lines, 1)
		assert.Equal(t, "Session ready", lines[0]["message"])
		assert.Equal(t, ServiceName, lines[0]["service"])
		assert.Equal(t, "alpha", lines[0]["session_id"])
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "gateway.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		logger.Info().Msg("file message")
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "file message")
	})

	t.Run("console and file together", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logFile := filepath.Join(t.TempDir(), "gateway.log")

		logger, err := New(Config{Level: "info", Console: true, Output: buf, File: logFile})
		require.NoError(t, err)

		logger.Warn().Msg("both sinks")
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "both sinks")
		assert.Contains(t, buf.String(), "both sinks")
	})

	t.Run("no sinks discards", func(t *testing.T) {
		logger, err := New(Config{Level: "info"})
		require.NoError(t, err)
		logger.Info().Msg("nowhere")
		assert.NoError(t, logger.Close())
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := New(Config{Level: "loud"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})
}

func TestLoggerRedactsFileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "gateway.log")

	logger, err := New(Config{
		Level:     "debug",
		File:      logFile,
		Redaction: true,
		MaxSize:   1,
	})
	require.NoError(t, err)
	require.NotNil(t, logger.redactor)

	logger.Debug().Str("to", "6281234567890").Msg("Message sent")
	require.NoError(t, logger.Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"to":"*********7890"`)
	assert.NotContains(t, string(content), "6281234567890")
}

func TestLoggerComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Level: "debug", Console: true, Output: buf})
	require.NoError(t, err)
	defer logger.Close()

	hubLog := logger.Component("hub")
	hubLog.Debug().Int("subscribers", 2).Msg("Subscriber attached")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "hub", lines[0]["component"])
	assert.Equal(t, float64(2), lines[0]["subscribers"])
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.Equal(t, 7, cfg.MaxAge)
	assert.True(t, cfg.Compress)
}

func TestGetZerolog(t *testing.T) {
	logger, err := New(Config{Level: "warn"})
	require.NoError(t, err)
	defer logger.Close()

	assert.Equal(t, zerolog.WarnLevel, logger.GetZerolog().GetLevel())
}
