package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automacro/internal/errs"
)

func TestNewScriptDefaults(t *testing.T) {
	s := New("login")
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, 1, s.Version)
	assert.Equal(t, 1, s.RepeatCount)
	assert.False(t, s.CreatedAt.IsZero())
}

func TestAppendAndDuration(t *testing.T) {
	s := New("x")
	s.Append(
		KeyDown(VKA),
		KeyUp(VKA).After(100),
		MoveTo(10, 10).After(50),
	)
	require.Len(t, s.Actions, 3)
	assert.Equal(t, int64(150), s.Duration().Milliseconds())
	require.NoError(t, s.Validate())
}

func TestValidateRejectsBadActions(t *testing.T) {
	tests := []struct {
		name   string
		action Action
	}{
		{"negative delay", KeyDown(VKA).After(-1)},
		{"missing key", KeyDown(0)},
		{"bad button", ButtonDown("thumb", 0, 0)},
		{"empty wheel", Scroll(0, 0)},
		{"unknown kind", Action{ID: "x", Kind: "teleport"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("bad")
			s.Append(tt.action)
			assert.ErrorIs(t, s.Validate(), errs.ErrInvalidArgument)
		})
	}
}

func TestValidateDuplicateActionIDs(t *testing.T) {
	s := New("dup")
	a := KeyDown(VKA)
	s.Append(a, a)
	assert.ErrorIs(t, s.Validate(), errs.ErrInvalidArgument)
}

func TestCloneIsIndependent(t *testing.T) {
	s := New("orig")
	s.Append(KeyDown(VKA))
	s.Variables = map[string]any{"count": 1}

	c := s.Clone()
	c.Actions[0].KeyCode = VKSpace
	c.Variables["count"] = 2

	assert.Equal(t, VKA, s.Actions[0].KeyCode)
	assert.Equal(t, 1, s.Variables["count"])
}

func TestKeyNames(t *testing.T) {
	for _, name := range []string{"A", "7", "F9", "F24", "CTRL", "ESC", "NUM3", "PAGEDOWN", ";"} {
		code, ok := KeyCode(name)
		require.True(t, ok, name)
		assert.Equal(t, name, KeyName(code))
	}

	code, ok := KeyCode("command")
	require.True(t, ok)
	assert.Equal(t, VKLWin, code)

	_, ok = KeyCode("nonsense")
	assert.False(t, ok)
}

func TestModOf(t *testing.T) {
	assert.Equal(t, ModCtrl, ModOf(VKLControl))
	assert.Equal(t, ModAlt, ModOf(VKRMenu))
	assert.Equal(t, ModMeta, ModOf(VKLWin))
	assert.Equal(t, Mod(0), ModOf(VKA))
	assert.Equal(t, "CTRL+SHIFT", (ModCtrl | ModShift).String())
}
