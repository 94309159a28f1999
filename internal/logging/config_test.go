package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(Config{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Named("worker").Debug("hidden")
	logger.Named("worker").Info("visible")
	require.NoError(t, logger.Sync())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "visible", entry["msg"])
	assert.Equal(t, "worker", entry["logger"])
}

func TestNewWithWriter_Errors(t *testing.T) {
	_, err := NewWithWriter(Config{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = NewWithWriter(Config{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestParseLevel_Aliases(t *testing.T) {
	for _, raw := range []string{"", "trace", "debug", "info", "warn", "warning", "error"} {
		_, err := parseLevel(raw)
		assert.NoError(t, err, raw)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvLogFormat, "console")
	t.Setenv(EnvLogFile, "/tmp/pumprelay.log")

	cfg := DefaultConfig(ProfileRuntime)
	cfg.ApplyEnv()

	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "/tmp/pumprelay.log", cfg.File)
}
