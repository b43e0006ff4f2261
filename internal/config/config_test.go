package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Engine.DefaultDelayMS)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "127.0.0.1", cfg.API.Host)
	assert.InDelta(t, 0.8, cfg.Recognition.DefaultThreshold, 1e-9)
}

func TestLoadOverridesAndIgnoresUnknownKeys(t *testing.T) {
	path := writeFile(t, `
engine:
  default_delay_ms: 250
  monitoring_interval_ms: 0
  log_level: debug
  warp_drive: engaged
playback:
  abort_on_error: true
storage:
  driver: file
  path: /tmp/scripts
something_else:
  nested: 1
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.Engine.DefaultDelayMS)
	assert.True(t, cfg.Playback.AbortOnError)
	assert.Equal(t, "file", cfg.Storage.Driver)

	opts := cfg.HALOptions()
	assert.Equal(t, 250*time.Millisecond, opts.DefaultDelay)
	assert.Zero(t, opts.MonitoringInterval)
	assert.Equal(t, "debug", opts.LogLevel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad driver":    "storage:\n  driver: mongo\n",
		"bad threshold": "recognition:\n  default_threshold: 1.5\n",
		"zero speed":    "playback:\n  default_speed: 0\n",
		"bad qos":       "mqtt:\n  qos: 3\n",
		"bad yaml":      "engine: [",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, content))
			assert.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AUTOMACRO_STORAGE_DRIVER", "file")
	t.Setenv("AUTOMACRO_API_PORT", "9999")
	t.Setenv("AUTOMACRO_HEADLESS", "true")
	t.Setenv("AUTOMACRO_LOG_LEVEL", "warn")

	cfg, err := Load(writeFile(t, "storage:\n  driver: sqlite\n"))
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, 9999, cfg.API.Port)
	assert.True(t, cfg.General.Headless)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestManagerUpdateSaveReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)

	var seen []int
	m.OnChange(func(c *Config) { seen = append(seen, c.API.Port) })

	require.NoError(t, m.Update(func(c *Config) { c.API.Port = 20000 }))
	assert.Error(t, m.Update(func(c *Config) { c.Storage.Driver = "nope" }))
	assert.Equal(t, 20000, m.Get().API.Port)
	assert.Equal(t, "sqlite", m.Get().Storage.Driver)

	require.NoError(t, m.Save())
	m2, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, 20000, m2.Get().API.Port)

	require.NoError(t, m.Reload())
	assert.Equal(t, []int{20000, 20000}, seen)
}

func TestManagerListenerAddedDuringNotify(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	var outer, inner int
	m.OnChange(func(*Config) {
		outer++
		if outer == 1 {
			m.OnChange(func(*Config) { inner++ })
		}
	})

	require.NoError(t, m.Update(func(c *Config) { c.API.Port = 20001 }))
	assert.Equal(t, 1, outer)
	assert.Equal(t, 0, inner, "listeners added during a notification wait for the next change")

	require.NoError(t, m.Update(func(c *Config) { c.API.Port = 20002 }))
	assert.Equal(t, 2, outer)
	assert.Equal(t, 1, inner)
}
