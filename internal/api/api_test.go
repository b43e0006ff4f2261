package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automacro/internal/api"
	"automacro/internal/config"
	"automacro/internal/controller"
	"automacro/internal/events"
	"automacro/internal/hal"
	"automacro/internal/hal/virtual"
	"automacro/internal/protocol"
	"automacro/internal/script"
	"automacro/internal/store"
)

type env struct {
	srv *api.Server
	ctl *controller.Controller
	b   *virtual.Binding
	bus *events.Bus
	ts  *httptest.Server
}

func newEnv(t *testing.T, token string) *env {
	t.Helper()
	dir := t.TempDir()
	mgr, err := config.NewManager(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	require.NoError(t, mgr.Update(func(c *config.Config) {
		c.Engine.DefaultDelayMS = 5
		c.Engine.MonitoringIntervalMS = 0
		c.Storage.Driver = "file"
		c.Storage.Path = filepath.Join(dir, "scripts")
		c.API.Token = token
	}))
	repo, err := store.NewFileRepository(mgr.Get().Storage.Path)
	require.NoError(t, err)

	e := &env{b: virtual.New(64, 64), bus: events.NewBus(256, nil)}
	e.ctl, err = controller.New(controller.Deps{Config: mgr, HAL: hal.New(e.b), Scripts: repo, Bus: e.bus})
	require.NoError(t, err)
	require.NoError(t, e.ctl.Start(context.Background(), false))

	e.srv = api.NewServer(mgr.Get().API, e.ctl, nil)
	e.bus.Subscribe(e.srv.Hub())
	ctx, cancel := context.WithCancel(context.Background())
	go e.srv.Hub().Run(ctx)
	e.ts = httptest.NewServer(e.srv.Handler())

	t.Cleanup(func() {
		e.ts.Close()
		cancel()
		_ = e.srv.Close()
		_ = e.ctl.Close()
		e.bus.Close()
	})
	return e
}

func (e *env) do(t *testing.T, method, path, body, token string) (*http.Response, map[string]any) {
	t.Helper()
	var rd *strings.Reader
	if body != "" {
		rd = strings.NewReader(body)
	} else {
		rd = strings.NewReader("")
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthNeedsNoToken(t *testing.T) {
	e := newEnv(t, "secret")
	resp, body := e.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestTokenRequired(t *testing.T) {
	e := newEnv(t, "secret")

	resp, _ := e.do(t, http.MethodGet, "/api/status", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/api/status", "", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := e.do(t, http.MethodGet, "/api/status", "", "secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["hal"])

	resp, _ = e.do(t, http.MethodGet, "/api/status?token=secret", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecordListPlayDelete(t *testing.T) {
	e := newEnv(t, "")

	resp, body := e.do(t, http.MethodPost, "/api/record/start", `{"name":"api"}`, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, body["session_id"])

	resp, _ = e.do(t, http.MethodPost, "/api/record/start", "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	e.b.EmitKey(script.VKA, true)
	e.b.EmitKey(script.VKA, false)

	resp, body = e.do(t, http.MethodPost, "/api/record/stop", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id, _ := body["script_id"].(string)
	require.NotEmpty(t, id)
	assert.EqualValues(t, 2, body["actions"])

	resp, body = e.do(t, http.MethodGet, "/api/scripts", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = e.do(t, http.MethodGet, "/api/scripts/"+id, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "api", body["name"])

	resp, body = e.do(t, http.MethodPost, "/api/scripts/"+id+"/play", `{"speed":4}`, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, id, body["script_id"])
	h := e.ctl.Scheduler().Current()
	if h != nil {
		_, _ = h.Wait(context.Background())
	}

	resp, _ = e.do(t, http.MethodPost, "/api/scripts/"+id+"/play", `{"speed":-1}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = e.do(t, http.MethodPost, "/api/scripts/"+id+"/play", `{"bogus":true}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodDelete, "/api/scripts/"+id, "", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/api/scripts/"+id, "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPlaybackControlWithoutPlayback(t *testing.T) {
	e := newEnv(t, "")
	for _, op := range []string{"pause", "resume", "stop"} {
		resp, body := e.do(t, http.MethodPost, "/api/playback/"+op, "", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, op)
		assert.NotEmpty(t, body["error"])
	}
	resp, _ := e.do(t, http.MethodPost, "/api/record/stop", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHotkeysSuspendResume(t *testing.T) {
	e := newEnv(t, "")

	resp, body := e.do(t, http.MethodPost, "/api/hotkeys/suspend", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["hotkeys_paused"])
	assert.True(t, e.ctl.Status().HotkeysPaused)

	resp, body = e.do(t, http.MethodPost, "/api/hotkeys/resume", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["hotkeys_paused"])
	assert.False(t, e.ctl.Status().HotkeysPaused)
}

func TestHALHealth(t *testing.T) {
	e := newEnv(t, "")
	resp, body := e.do(t, http.MethodGet, "/api/hal/health", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "virtual", body["platform"])
}

func dial(t *testing.T, e *env, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type frame struct {
	Type    protocol.MessageType `json:"type"`
	ID      string               `json:"id"`
	Event   string               `json:"event"`
	Payload json.RawMessage      `json:"payload"`
}

// next reads frames until match accepts one.
func next(t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func result(id string) func(frame) bool {
	return func(f frame) bool { return f.Type == protocol.TypeResult && f.ID == id }
}

func send(t *testing.T, conn *websocket.Conn, typ protocol.MessageType, id string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(protocol.Envelope{Type: typ, ID: id, Payload: raw}))
}

func TestWebSocketAuthAndCommands(t *testing.T) {
	e := newEnv(t, "secret")
	conn := dial(t, e, "")

	send(t, conn, protocol.TypeCommand, "1", protocol.CommandPayload{Action: protocol.CmdStatus})
	var res protocol.ResultPayload
	require.NoError(t, json.Unmarshal(next(t, conn, result("1")).Payload, &res))
	assert.False(t, res.OK)

	send(t, conn, protocol.TypeAuth, "2", protocol.AuthPayload{Token: "nope"})
	require.NoError(t, json.Unmarshal(next(t, conn, result("2")).Payload, &res))
	assert.False(t, res.OK)

	send(t, conn, protocol.TypeAuth, "3", protocol.AuthPayload{Token: "secret", ClientName: "test"})
	require.NoError(t, json.Unmarshal(next(t, conn, result("3")).Payload, &res))
	assert.True(t, res.OK)

	send(t, conn, protocol.TypeCommand, "4", protocol.CommandPayload{Action: protocol.CmdStatus})
	var status struct {
		OK   bool              `json:"ok"`
		Data controller.Status `json:"data"`
	}
	require.NoError(t, json.Unmarshal(next(t, conn, result("4")).Payload, &status))
	assert.True(t, status.OK)
	assert.Equal(t, "ready", status.Data.HAL)

	send(t, conn, protocol.TypePing, "5", nil)
	next(t, conn, func(f frame) bool { return f.Type == protocol.TypePing && f.ID == "5" })
}

func TestWebSocketReceivesEvents(t *testing.T) {
	e := newEnv(t, "")
	conn := dial(t, e, "")
	require.Eventually(t, func() bool { return e.srv.Hub().Clients() == 1 }, time.Second, 5*time.Millisecond)

	_, err := e.ctl.StartRecording("ws")
	require.NoError(t, err)

	f := next(t, conn, func(f frame) bool { return f.Type == protocol.TypeEvent && f.Event == string(events.RecordingStarted) })
	var p events.RecordingPayload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	assert.Equal(t, "ws", p.Name)
}

func TestWebSocketWithoutTokenGetsNoEvents(t *testing.T) {
	e := newEnv(t, "secret")
	conn := dial(t, e, "")
	authed := dial(t, e, "?token=secret")
	require.Eventually(t, func() bool { return e.srv.Hub().Clients() == 2 }, time.Second, 5*time.Millisecond)

	_, err := e.ctl.StartRecording("quiet")
	require.NoError(t, err)
	next(t, authed, func(f frame) bool { return f.Event == string(events.RecordingStarted) })

	send(t, conn, protocol.TypePing, "p", nil)
	f := next(t, conn, func(frame) bool { return true })
	assert.Equal(t, protocol.TypePing, f.Type, "unauthenticated client must see only its own replies")
}
