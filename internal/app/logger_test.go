package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, &Config{AppEnv: "production"}).Info("posted", "movement_id", 9)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "posted", record["msg"])
	require.Equal(t, "production", record["env"])
	require.EqualValues(t, 9, record["movement_id"])

	buf.Reset()
	newLogger(&buf, &Config{AppEnv: "development", LogFormat: "text"}).Info("posted")
	require.Contains(t, buf.String(), "msg=posted")
	require.Contains(t, buf.String(), "env=development")
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{AppEnv: "development", LogLevel: "warn"})
	logger.Info("hidden")
	require.Empty(t, buf.String())
	logger.Warn("shown")
	require.Contains(t, buf.String(), "shown")
}
