package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/ari_bridge/pkg/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestSetupJSONWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	var stdout bytes.Buffer

	logger, closeLog, err := Setup(config.LogConfig{Level: "info", Format: "json", File: path, MaxSizeMB: 1}, &stdout)
	require.NoError(t, err)

	logger.Debug("не должно попасть")
	logger.Info("Звонок завершен", slog.String("provider_call_id", "pc-1"))
	require.NoError(t, closeLog())

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &line))
	assert.Equal(t, "Звонок завершен", line["msg"])
	assert.Equal(t, "pc-1", line["provider_call_id"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, stdout.String(), string(data))
}

func TestSetupText(t *testing.T) {
	var stdout bytes.Buffer
	logger, closeLog, err := Setup(config.LogConfig{Level: "debug", Format: "text"}, &stdout)
	require.NoError(t, err)
	defer closeLog()

	logger.Debug("отладка", slog.Int("port", 40000))
	assert.True(t, strings.Contains(stdout.String(), "port=40000"))
}

func TestSetupErrors(t *testing.T) {
	_, _, err := Setup(config.LogConfig{Level: "loud"}, nil)
	assert.Error(t, err)
	_, _, err = Setup(config.LogConfig{Format: "xml"}, nil)
	assert.Error(t, err)
}
