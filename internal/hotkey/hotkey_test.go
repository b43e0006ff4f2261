package hotkey

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

func press(m *Manager, codes ...uint16) {
	for _, c := range codes {
		m.UpdateState(c, true)
	}
	for i := len(codes) - 1; i >= 0; i-- {
		m.UpdateState(codes[i], false)
	}
}

func counter() (func(), func() int32) {
	var n atomic.Int32
	return func() { n.Add(1) }, n.Load
}

func TestDuplicateRegistrationConflicts(t *testing.T) {
	m := NewManager(nil)
	id, err := m.Register(script.ModCtrl|script.ModAlt, script.VKF1+8, func() {})
	require.NoError(t, err)

	_, err = m.Register(script.ModAlt|script.ModCtrl, script.VKF1+8, func() {})
	require.ErrorIs(t, err, errs.ErrConflict)

	_, err = m.RegisterCombo("alt+ctrl+f9", func() {})
	require.ErrorIs(t, err, errs.ErrConflict)

	require.NoError(t, m.Unregister(id))
	assert.False(t, m.IsRegistered(id))

	id2, err := m.Register(script.ModCtrl|script.ModAlt, script.VKF1+8, func() {})
	require.NoError(t, err)
	assert.NotEqual(t, id, id2, "ids are not reused")
	assert.True(t, m.IsRegistered(id2))
}

func TestRegisterValidation(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Register(script.ModCtrl, 0, func() {})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = m.Register(0, script.VKLControl, func() {})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = m.Register(script.ModCtrl, script.VKA, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	assert.ErrorIs(t, m.Unregister(42), errs.ErrNotFound)
}

func TestParse(t *testing.T) {
	mods, key, err := Parse("Ctrl + Shift + A")
	require.NoError(t, err)
	assert.Equal(t, script.ModCtrl|script.ModShift, mods)
	assert.Equal(t, script.VKA, key)

	for _, bad := range []string{"", "Ctrl+Alt", "Ctrl+A+B", "Hyper+A"} {
		_, _, err := Parse(bad)
		assert.ErrorIs(t, err, errs.ErrInvalidArgument, bad)
	}
}

func TestMatchingNeedsExactModifiers(t *testing.T) {
	m := NewManager(nil)
	cb, count := counter()
	_, err := m.RegisterCombo("Ctrl+Alt+1", cb)
	require.NoError(t, err)

	press(m, script.VKLControl, script.VKLMenu, '1')
	press(m, script.VKLControl, '1')
	press(m, script.VKLControl, script.VKLMenu, script.VKLShift, '1')
	press(m, script.VKRControl, script.VKRMenu, '1')

	assert.Eventually(t, func() bool { return count() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), count())
}

func TestAutoRepeatDoesNotRefire(t *testing.T) {
	m := NewManager(nil)
	cb, count := counter()
	_, err := m.Register(0, script.VKF1, cb)
	require.NoError(t, err)

	m.UpdateState(script.VKF1, true)
	m.UpdateState(script.VKF1, true)
	m.UpdateState(script.VKF1, true)
	m.UpdateState(script.VKF1, false)

	assert.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSuspendResumeRestoresActiveSet(t *testing.T) {
	m := NewManager(nil)
	a, _ := m.RegisterCombo("Ctrl+A", func() {})
	b, _ := m.RegisterCombo("Ctrl+B", func() {})
	active := func() map[ID]bool {
		out := map[ID]bool{}
		for _, i := range m.Bindings() {
			out[i.ID] = i.Active
		}
		return out
	}

	m.SuspendAll()
	m.SuspendAll()
	assert.True(t, m.Suspended())
	assert.Equal(t, map[ID]bool{a: false, b: false}, active())

	c, err := m.RegisterCombo("Ctrl+C", func() {})
	require.NoError(t, err)
	_, err = m.RegisterCombo("Ctrl+A", func() {})
	assert.ErrorIs(t, err, errs.ErrConflict, "suspended bindings still own their combination")
	require.NoError(t, m.Unregister(b))

	m.ResumeAll()
	m.ResumeAll()
	assert.False(t, m.Suspended())
	assert.Equal(t, map[ID]bool{a: true, c: true}, active(), "registered while suspended joins the restored set")
}

func TestSuspendedBindingsDoNotFire(t *testing.T) {
	m := NewManager(nil)
	cb, count := counter()
	_, err := m.RegisterCombo("Ctrl+Q", cb)
	require.NoError(t, err)

	m.SuspendAll()
	press(m, script.VKControl, 'Q')
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, count())

	m.ResumeAll()
	press(m, script.VKControl, 'Q')
	assert.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestGuardKeepsOnlyListedBindings(t *testing.T) {
	m := NewManager(nil)
	stopCB, stops := counter()
	playCB, plays := counter()
	stop, err := m.RegisterCombo("Ctrl+Alt+F12", stopCB)
	require.NoError(t, err)
	_, err = m.RegisterCombo("Ctrl+Alt+F10", playCB)
	require.NoError(t, err)

	release := m.Guard(stop)
	assert.True(t, m.Guarded())
	press(m, script.VKControl, script.VKMenu, script.VKF1+9)
	press(m, script.VKControl, script.VKMenu, script.VKF1+11)
	assert.Eventually(t, func() bool { return stops() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, plays())

	// A user suspension inside the guard outlives it.
	m.SuspendAll()
	release()
	release()
	assert.False(t, m.Guarded())
	assert.True(t, m.Suspended())
	press(m, script.VKControl, script.VKMenu, script.VKF1+9)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, plays())

	m.ResumeAll()
	press(m, script.VKControl, script.VKMenu, script.VKF1+9)
	assert.Eventually(t, func() bool { return plays() == 1 }, time.Second, 5*time.Millisecond)
}

func TestReleasingReplacedGuardIsNoop(t *testing.T) {
	m := NewManager(nil)
	first := m.Guard()
	second := m.Guard()
	first()
	assert.True(t, m.Guarded())
	second()
	assert.False(t, m.Guarded())
}

func TestConcurrentRegistrationKeepsInvariant(t *testing.T) {
	m := NewManager(nil)
	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.RegisterCombo("Ctrl+Shift+Z", func() {}); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Len(t, m.Bindings(), 1)
}

func TestPanickingCallbackIsContained(t *testing.T) {
	m := NewManager(nil)
	cb, count := counter()
	_, _ = m.RegisterCombo("F5", func() { panic("boom") })
	_, _ = m.RegisterCombo("F6", cb)

	press(m, script.VKF1+4)
	press(m, script.VKF1+5)
	assert.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAttachToHAL(t *testing.T) {
	b := virtual.New(10, 10)
	h := hal.New(b)
	require.NoError(t, h.Initialize(context.Background(), hal.Options{}))
	defer h.Shutdown()

	m := NewManager(nil)
	cb, count := counter()
	_, err := m.RegisterCombo("Ctrl+Alt+F9", cb)
	require.NoError(t, err)
	assert.True(t, m.IsTrigger(script.VKF1+8))
	assert.False(t, m.IsTrigger(script.VKA))

	require.NoError(t, m.Attach(h.GlobalHotkeys()))
	assert.ErrorIs(t, m.Attach(h.GlobalHotkeys()), errs.ErrConflict)

	b.EmitKey(script.VKLControl, true)
	b.EmitKey(script.VKLMenu, true)
	b.EmitKey(script.VKF1+8, true)
	b.EmitKey(script.VKF1+8, false)
	assert.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Detach())
	assert.Zero(t, b.ActiveHooks())
}
