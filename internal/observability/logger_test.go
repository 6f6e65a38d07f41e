package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-alert-pipeline/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("reading collected", "station", "KPDX")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "reading collected", line["msg"])
	assert.Equal(t, "KPDX", line["station"])
	assert.Equal(t, "stormwatch", line["service"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "text", slog.LevelDebug)

	logger.Debug("client disconnected", "mode", "alerts")

	assert.Contains(t, buf.String(), "client disconnected")
	assert.Contains(t, buf.String(), "alerts")
}

func TestNewLoggerTo_HonorsConfig(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, &config.Config{LogFormat: "json", LogLevel: "warn"})

	logger.Info("hidden")
	logger.Warn("cursor ahead of log", "stream", "observations")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "cursor ahead of log", line["msg"])
	assert.Equal(t, "WARN", line["level"])
}
