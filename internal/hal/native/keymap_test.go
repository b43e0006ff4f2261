package native

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automacro/internal/script"
)

func TestToVK(t *testing.T) {
	tests := map[uint16]uint16{
		0x001E: script.VKA,
		0x0010: 'Q',
		0x0032: 'M',
		0x000B: '0',
		0x0002: '1',
		0x003B: script.VKF1,
		0x0058: script.VKF1 + 11,
		0xE048: script.VKUp,
		0x0E1D: script.VKRControl,
	}
	for code, want := range tests {
		got, ok := toVK(code)
		require.True(t, ok, "%#x", code)
		assert.Equal(t, want, got, "%#x", code)
	}
	_, ok := toVK(0x7FFF)
	assert.False(t, ok)
}

func TestRobotgoKey(t *testing.T) {
	for vk, want := range map[uint16]string{
		script.VKA:           "a",
		'7':                  "7",
		script.VKF1 + 8:      "f9",
		script.VKNumpad0 + 2: "num2",
		script.VKReturn:      "enter",
		script.VKLControl:    "lctrl",
	} {
		got, err := robotgoKey(vk)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := robotgoKey(0xFF)
	assert.Error(t, err)
}

func TestEveryRecordedKeyCanBeReplayed(t *testing.T) {
	require.NoError(t, checkKeymap())
}

func TestWheelDelta(t *testing.T) {
	tests := []struct {
		name      string
		rotation  int32
		direction uint8
		dx, dy    int
		ok        bool
	}{
		{"down", 1, wheelVertical, 0, 1, true},
		{"up", -1, wheelVertical, 0, -1, true},
		{"high resolution notch", -120, wheelVertical, 0, -1, true},
		{"right", 1, wheelHorizontal, 1, 0, true},
		{"left", -1, wheelHorizontal, -1, 0, true},
		{"no rotation", 0, wheelVertical, 0, 0, false},
		{"no rotation sideways", 0, wheelHorizontal, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dx, dy, ok := wheelDelta(tt.rotation, tt.direction)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.dx, dx)
			assert.Equal(t, tt.dy, dy)
		})
	}
}
