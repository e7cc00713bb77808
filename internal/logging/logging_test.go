package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "json", Writer: &buf})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("run started", zap.String("runId", "abc"))
	require.NoError(t, logger.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "run started", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "abc", entry["runId"])
	assert.Contains(t, entry, "caller")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "debug", Writer: &buf})
	require.NoError(t, err)

	logger.Debug("worker spawned", zap.Int("worker", 3))
	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), "worker spawned")
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trafficgen.log")
	logger, err := New(Config{Format: "json", Output: "file", FilePath: path, MaxSize: 1})
	require.NoError(t, err)

	logger.Warn("slow run")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "slow run")
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)

	_, err = New(Config{Format: "xml"})
	assert.Error(t, err)

	_, err = New(Config{Output: "file"})
	assert.Error(t, err)

	_, err = New(Config{Output: "syslog"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"debug":   zapcore.DebugLevel,
		"WARNING": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
