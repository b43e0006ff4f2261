package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automacro/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("loud"))
}

func TestJSONOutputCarriesDefaults(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "1.2.3")
	l.Component("playback").Info("started", "script", "abc")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "automacro", rec["service"])
	assert.Equal(t, "1.2.3", rec["version"])
	assert.Equal(t, "playback", rec["component"])
	assert.Equal(t, "abc", rec["script"])
}

func TestSetLevelReachesChildren(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, config.LoggingConfig{Level: "info", Format: "text"}, "t")
	child := l.Component("hal")

	child.Debug("hidden")
	assert.Empty(t, buf.String())

	l.SetLevel("debug")
	child.Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}
