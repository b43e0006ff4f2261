package cli

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := `
engine:
  default_delay_ms: 5
  monitoring_interval_ms: 0
logging:
  level: error
storage:
  driver: sqlite
  path: ` + filepath.Join(dir, "scripts.db") + `
  templates_dir: ` + filepath.Join(dir, "templates") + `
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func run(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand("test")
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(append([]string{"--config", cfg, "--headless"}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand("test")
	for _, name := range []string{"record", "play", "list", "show", "delete", "runs", "find", "template", "watch", "health", "serve", "autostart", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
	for _, flag := range []string{"config", "headless", "format", "verbose"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, writeConfig(t), "--format", "xml", "version")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestVersionJSON(t *testing.T) {
	out, err := run(t, writeConfig(t), "--format", "json", "version")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "test", info["version"])
}

func TestRecordPlayShowDelete(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, cfg, "--format", "json", "record", "--name", "empty", "--duration", "20ms")
	require.NoError(t, err)
	var rec struct {
		ScriptID string `json:"script_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	require.NotEmpty(t, rec.ScriptID)

	out, err = run(t, cfg, "list")
	require.NoError(t, err)
	assert.Contains(t, out, rec.ScriptID)
	assert.Contains(t, out, "empty")

	out, err = run(t, cfg, "show", rec.ScriptID)
	require.NoError(t, err)
	assert.Contains(t, out, "0 actions")

	out, err = run(t, cfg, "--format", "json", "play", rec.ScriptID, "--speed", "2")
	require.NoError(t, err)
	var res playOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "completed", res.State)
	assert.Equal(t, 1, res.Iterations)

	_, err = run(t, cfg, "runs", rec.ScriptID)
	require.NoError(t, err)

	_, err = run(t, cfg, "delete", rec.ScriptID)
	require.NoError(t, err)
	_, err = run(t, cfg, "show", rec.ScriptID)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPlayUnknownScript(t *testing.T) {
	_, err := run(t, writeConfig(t), "play", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTemplatesAndFind(t *testing.T) {
	cfg := writeConfig(t)
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range 8 {
		img.Set(i, i, color.Black)
	}
	pngPath := filepath.Join(t.TempDir(), "diag.png")
	f, err := os.Create(pngPath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	_, err = run(t, cfg, "template", "add", "diag", pngPath, "--threshold", "0.9", "--region", "0,0,100,100")
	require.NoError(t, err)
	_, err = run(t, cfg, "template", "add", "bad", pngPath, "--region", "1,2")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err := run(t, cfg, "--format", "json", "template", "list")
	require.NoError(t, err)
	var metas []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &metas))
	require.Len(t, metas, 1)
	assert.Equal(t, "diag", metas[0]["id"])

	// The headless screen is blank white: the diagonal is not there.
	out, err = run(t, cfg, "find", "diag")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "not found")

	_, err = run(t, cfg, "find", "missing")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = run(t, cfg, "template", "delete", "diag")
	require.NoError(t, err)
}

func TestHealthHeadless(t *testing.T) {
	out, err := run(t, writeConfig(t), "health")
	require.NoError(t, err)
	assert.Contains(t, out, "virtual: healthy")
	assert.Contains(t, out, "keyboard")
}

func TestWatchReachesFinalState(t *testing.T) {
	graph := `
name: two-step
states:
  - id: start
  - id: end
    final: true
transitions:
  - from: start
    to: end
    when: tick >= 1
`
	path := filepath.Join(t.TempDir(), "g.yaml")
	require.NoError(t, os.WriteFile(path, []byte(graph), 0o600))
	out, err := run(t, writeConfig(t), "watch", path, "--interval", "5ms")
	require.NoError(t, err)
	assert.Contains(t, out, "Reached final state.")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("states: []\n"), 0o600))
	_, err = run(t, writeConfig(t), "watch", bad)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestAutostartStatus(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("touches the real login items outside linux")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := writeConfig(t)

	out, err := run(t, cfg, "autostart", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "disabled")

	_, err = run(t, cfg, "autostart", "enable")
	require.NoError(t, err)
	out, err = run(t, cfg, "--format", "json", "autostart", "status")
	require.NoError(t, err)
	assert.JSONEq(t, `{"enabled": true}`, out)

	_, err = run(t, cfg, "autostart", "disable")
	require.NoError(t, err)
}
