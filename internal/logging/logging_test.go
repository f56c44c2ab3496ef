package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevelAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(newLogger(Config{Level: "warn", Format: "json"}, &buf), "snapshot")

	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("kept")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "snapshot", entry["component"])
	assert.Equal(t, "kept", entry["message"])
}

func TestNewLoggerUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "chatty"}, &buf)

	logger.Debug().Msg("dropped")
	assert.Zero(t, buf.Len())
	logger.Info().Msg("kept")
	assert.NotZero(t, buf.Len())
}
