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
)

func TestLogLevels(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LevelFatal, "FATAL"},
		{Level(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{" info ", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"fatal", LevelFatal},
		{"unknown", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func jsonLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: LevelDebug, JSON: true, Output: &buf, Component: "orchestrator"})

	logger.WithField("turn_id", "t-1").Info("pass %s completed", "first")

	entries := jsonLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "info", entries[0]["level"])
	assert.Equal(t, "pass first completed", entries[0]["message"])
	assert.Equal(t, "orchestrator", entries[0]["component"])
	assert.Equal(t, "t-1", entries[0]["turn_id"])
}

func TestLoggerConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: LevelDebug, Output: &buf})

	logger.Warn("search failed")

	out := buf.String()
	assert.Contains(t, out, "WRN")
	assert.Contains(t, out, "search failed")
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: LevelWarn, JSON: true, Output: &buf})

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")
	logger.Error("shown too")

	entries := jsonLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "warn", entries[0]["level"])
	assert.Equal(t, "error", entries[1]["level"])
}

func TestWithComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	root := New(&Config{Level: LevelDebug, JSON: true, Output: &buf})

	root.WithComponent("tools").WithFields(map[string]any{"tool": "get_weather", "attempt": 1}).Debug("invoked")

	entries := jsonLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "tools", entries[0]["component"])
	assert.Equal(t, "get_weather", entries[0]["tool"])
	assert.EqualValues(t, 1, entries[0]["attempt"])
}

func TestStructuredAccess(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: LevelDebug, JSON: true, Output: &buf})

	logger.Zerolog().Warn().Str("session_id", "s-9").Msg("history load failed")

	entries := jsonLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "s-9", entries[0]["session_id"])
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "rainbow.log")
	var buf bytes.Buffer
	logger := New(&Config{Level: LevelInfo, JSON: true, Output: &buf, FilePath: path})

	logger.Info("written to both")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to both")
	assert.Contains(t, buf.String(), "written to both")
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().WithComponent("x").Error("nothing %d", 1)
	})
}

func TestGlobalLogger(t *testing.T) {
	prev := Global()
	defer SetGlobal(prev)

	var buf bytes.Buffer
	SetGlobal(New(&Config{Level: LevelDebug, JSON: true, Output: &buf}))
	Info("global %s", "hello")

	assert.Contains(t, buf.String(), "global hello")
}
