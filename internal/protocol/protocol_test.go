package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCommand(t *testing.T) {
	env, err := Decode([]byte(`{"type":"command","id":"7","payload":{"action":"play","script_id":"abc","speed":2}}`))
	require.NoError(t, err)
	assert.Equal(t, "7", env.ID)

	cmd, err := env.Command()
	require.NoError(t, err)
	assert.Equal(t, CmdPlay, cmd.Action)
	assert.Equal(t, "abc", cmd.ScriptID)
	assert.Equal(t, 2.0, cmd.Speed)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)
	_, err = Decode([]byte(`{"payload":{}}`))
	assert.Error(t, err)

	env, err := Decode([]byte(`{"type":"command","payload":{}}`))
	require.NoError(t, err)
	_, err = env.Command()
	assert.Error(t, err)

	env, err = Decode([]byte(`{"type":"auth","payload":{"token":"x"}}`))
	require.NoError(t, err)
	_, err = env.Command()
	assert.Error(t, err)
	auth, err := env.Auth()
	require.NoError(t, err)
	assert.Equal(t, "x", auth.Token)
}

func TestResultEncoding(t *testing.T) {
	data, err := json.Marshal(NewResult("1", nil, errors.New("busy")))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ok":false`)
	assert.Contains(t, string(data), `"error":"busy"`)

	ev := NewEvent("playback.state", time.Unix(0, 0).UTC(), map[string]string{"to": "playing"})
	data, err = json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event":"playback.state"`)
}
