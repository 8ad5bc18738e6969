package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLoggingState() {
	mu.Lock()
	defer mu.Unlock()

	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	isTerminalFn = func(int) bool { return false }
}

func readJSONLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	line := strings.TrimSpace(buf.String())
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	require.NotEmpty(t, line, "expected log output")

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &event))
	return event
}

func TestInitJSONFormatSetsLevelAndComponent(t *testing.T) {
	t.Cleanup(resetLoggingState)

	var buf bytes.Buffer
	logger := Init(Config{Format: "json", Level: "debug", Component: "stats", Output: &buf})

	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	logger.Debug().Str("tenant", "t1").Msg("flushing stats")
	event := readJSONLine(t, &buf)
	assert.Equal(t, "stats", event["component"])
	assert.Equal(t, "t1", event["tenant"])
	assert.Equal(t, "flushing stats", event["message"])
	assert.Contains(t, event, "time")
}

func TestInitConsoleFormatIsHumanReadable(t *testing.T) {
	t.Cleanup(resetLoggingState)

	var buf bytes.Buffer
	logger := Init(Config{Format: "console", Output: &buf})
	logger.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.False(t, strings.HasPrefix(strings.TrimSpace(out), "{"), "console output should not be JSON: %s", out)
}

func TestInitAutoFormatFallsBackToJSON(t *testing.T) {
	t.Cleanup(resetLoggingState)
	isTerminalFn = func(int) bool { return false }

	var buf bytes.Buffer
	logger := Init(Config{Format: "auto", Output: &buf})
	logger.Info().Msg("piped")
	event := readJSONLine(t, &buf)
	assert.Equal(t, "piped", event["message"])
}

func TestLevelFiltering(t *testing.T) {
	t.Cleanup(resetLoggingState)

	var buf bytes.Buffer
	logger := Init(Config{Format: "json", Level: "warn", Output: &buf})
	logger.Info().Msg("suppressed")
	assert.Empty(t, buf.String())

	logger.Warn().Msg("kept")
	assert.Equal(t, "kept", readJSONLine(t, &buf)["message"])
}

func TestInitInstallsGlobalLogger(t *testing.T) {
	t.Cleanup(resetLoggingState)

	var buf bytes.Buffer
	Init(Config{Format: "json", Component: "sink", Output: &buf})
	log.Info().Msg("ready")

	event := readJSONLine(t, &buf)
	assert.Equal(t, "sink", event["component"])
	assert.Equal(t, "ready", event["message"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"TRACE":    zerolog.TraceLevel,
		" debug ":  zerolog.DebugLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"bogus":    zerolog.InfoLevel,
	}
	for input, want := range tests {
		assert.Equal(t, want, parseLevel(input), "parseLevel(%q)", input)
	}
}
