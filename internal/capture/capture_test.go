package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automacro/internal/errs"
	"automacro/internal/hal"
	"automacro/internal/hal/virtual"
	"automacro/internal/script"
)

func setup(t *testing.T) (*hal.HAL, *virtual.Binding, *Recorder) {
	t.Helper()
	b := virtual.New(200, 200)
	h := hal.New(b)
	require.NoError(t, h.Initialize(context.Background(), hal.Options{}))
	t.Cleanup(func() { _ = h.Shutdown() })
	return h, b, NewRecorder(h, nil)
}

func TestRecordComputesDelays(t *testing.T) {
	h, b, r := setup(t)
	s, err := r.StartRecording(Options{Name: "typing", Keyboard: true, Mouse: true})
	require.NoError(t, err)
	assert.Equal(t, hal.StateRunning, h.State())

	t0 := time.Now()
	b.EmitKeyEvent(hal.KeyEvent{Code: script.VKA, Down: true, Time: t0})
	b.EmitKeyEvent(hal.KeyEvent{Code: script.VKA, Down: false, Time: t0.Add(100 * time.Millisecond)})
	b.EmitMouse(hal.MouseEvent{Kind: hal.MouseMoved, X: 10, Y: 10, Time: t0.Add(150 * time.Millisecond)})
	b.EmitMouse(hal.MouseEvent{Kind: hal.MousePressed, Button: script.ButtonLeft, X: 10, Y: 10, Time: t0.Add(170 * time.Millisecond)})
	b.EmitMouse(hal.MouseEvent{Kind: hal.MouseWheeled, ScrollY: 1, Time: t0.Add(175 * time.Millisecond)})

	sc, err := r.StopRecording(s)
	require.NoError(t, err)
	assert.Equal(t, hal.StateReady, h.State())
	assert.Equal(t, "typing", sc.Name)
	require.Len(t, sc.Actions, 5)

	kinds := []script.Kind{script.KindKeyDown, script.KindKeyUp, script.KindMouseMove, script.KindMouseDown, script.KindWheel}
	delays := []int64{0, 100, 50, 20, 5}
	for i, a := range sc.Actions {
		assert.Equal(t, kinds[i], a.Kind, "action %d", i)
		assert.Equal(t, delays[i], a.DelayMillis, "action %d", i)
	}
	assert.Equal(t, 10, sc.Actions[3].X)
	assert.Equal(t, script.ButtonLeft, sc.Actions[3].Button)
	require.NoError(t, sc.Validate())
	assert.Equal(t, 0, b.ActiveHooks())
}

func TestOutOfOrderTimestampsNeverGoNegative(t *testing.T) {
	_, b, r := setup(t)
	s, err := r.StartRecording(Options{Keyboard: true})
	require.NoError(t, err)

	t0 := time.Now()
	b.EmitKeyEvent(hal.KeyEvent{Code: script.VKA, Down: true, Time: t0})
	b.EmitKeyEvent(hal.KeyEvent{Code: script.VKA, Down: false, Time: t0.Add(-5 * time.Millisecond)})

	sc, err := r.StopRecording(s)
	require.NoError(t, err)
	require.Len(t, sc.Actions, 2)
	assert.Zero(t, sc.Actions[1].DelayMillis)
}

func TestDuplicateSessionPerDeviceConflicts(t *testing.T) {
	_, _, r := setup(t)
	kb, err := r.StartRecording(Options{Keyboard: true})
	require.NoError(t, err)

	_, err = r.StartRecording(Options{Keyboard: true, Mouse: true})
	assert.ErrorIs(t, err, errs.ErrConflict)

	ms, err := r.StartRecording(Options{Mouse: true})
	require.NoError(t, err, "other device class is free")
	assert.Len(t, r.Active(), 2)

	_, err = r.StopRecording(kb)
	require.NoError(t, err)
	_, err = r.StopRecording(kb)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument, "stopping twice")

	kb2, err := r.StartRecording(Options{Keyboard: true})
	require.NoError(t, err)
	r.StopAll()
	assert.Empty(t, r.Active())
	_ = ms
	_ = kb2
}

func TestStartRecordingArgumentsAndPermissions(t *testing.T) {
	_, b, r := setup(t)
	_, err := r.StartRecording(Options{})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	b.SetPermissions(hal.PermissionStatus{Accessibility: hal.PermissionDenied, InputMonitoring: hal.PermissionDenied})
	_, err = r.StartRecording(Options{Keyboard: true})
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)
	assert.Zero(t, b.ActiveHooks())
}

func TestStartRecordingBeforeInitialize(t *testing.T) {
	h := hal.New(virtual.New(10, 10))
	r := NewRecorder(h, nil)
	_, err := r.StartRecording(Options{Keyboard: true})
	assert.ErrorIs(t, err, errs.ErrNotInitialized)
}

func TestFiltersIgnoredKeysAndThrottlesMoves(t *testing.T) {
	_, b, r := setup(t)
	s, err := r.StartRecording(Options{
		Keyboard:             true,
		Mouse:                true,
		MouseMoveMinInterval: 10 * time.Millisecond,
		IgnoreKey:            func(code uint16) bool { return code == script.VKF1+8 },
	})
	require.NoError(t, err)

	t0 := time.Now()
	b.EmitKeyEvent(hal.KeyEvent{Code: script.VKF1 + 8, Down: true, Time: t0})
	for i := 0; i < 10; i++ {
		b.EmitMouse(hal.MouseEvent{Kind: hal.MouseMoved, X: i, Y: i, Time: t0.Add(time.Duration(i) * 3 * time.Millisecond)})
	}
	sc, err := r.StopRecording(s)
	require.NoError(t, err)

	for _, a := range sc.Actions {
		assert.Equal(t, script.KindMouseMove, a.Kind)
	}
	// moves at 0, 12, 24 ms survive a 10ms throttle sampled every 3ms
	assert.Len(t, sc.Actions, 3)
	assert.Equal(t, int64(0), sc.Actions[0].DelayMillis)
}

func TestCallbacksAreNonBlockingAndRecovered(t *testing.T) {
	_, b, r := setup(t)
	var seen atomic.Int32
	r.OnAction(func(script.Action) { panic("listener bug") })
	r.OnAction(func(script.Action) { seen.Add(1) })

	release := make(chan struct{})
	s, err := r.StartRecording(Options{
		Keyboard:  true,
		QueueSize: 2,
		OnAction:  func(script.Action) { <-release },
	})
	require.NoError(t, err)

	start := time.Now()
	const n = 50
	for i := 0; i < n; i++ {
		b.EmitKey(script.VKA, i%2 == 0)
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond, "hook callbacks must not wait for the worker")
	close(release)

	sc, err := r.StopRecording(s)
	require.NoError(t, err)
	assert.Positive(t, s.Dropped())
	assert.Equal(t, int64(n), int64(len(sc.Actions))+s.Dropped())
	assert.Equal(t, int32(len(sc.Actions)), seen.Load())
}

func TestRecorderOnActionSeesEveryAction(t *testing.T) {
	_, b, r := setup(t)
	var mu sync.Mutex
	var got []script.Kind
	r.OnAction(func(a script.Action) {
		mu.Lock()
		got = append(got, a.Kind)
		mu.Unlock()
	})
	s, err := r.StartRecording(Options{Keyboard: true})
	require.NoError(t, err)
	b.EmitKey(script.VKSpace, true)
	b.EmitKey(script.VKSpace, false)
	_, err = r.StopRecording(s)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []script.Kind{script.KindKeyDown, script.KindKeyUp}, got)
}
