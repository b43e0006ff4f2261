package native

import (
	"fmt"

	"automacro/internal/script"
)

// uiohookToVK maps libuiohook virtual codes (what gohook reports as Keycode on
// every platform) onto the Windows virtual-key space scripts are stored in.
// Only keys robotgo can press again are listed.
var uiohookToVK = map[uint16]uint16{
	0x0001: script.VKEscape,
	0x000E: script.VKBack,
	0x000F: script.VKTab,
	0x001C: script.VKReturn,
	0x0039: script.VKSpace,
	0x003A: script.VKCapital,
	0x0E37: script.VKSnapshot,
	0x0E52: script.VKInsert,
	0x0E53: script.VKDelete,
	0x0E47: script.VKHome,
	0x0E4F: script.VKEnd,
	0x0E49: script.VKPrior,
	0x0E51: script.VKNext,
	0xE048: script.VKUp,
	0xE04B: script.VKLeft,
	0xE04D: script.VKRight,
	0xE050: script.VKDown,
	0x002A: script.VKLShift,
	0x0036: script.VKRShift,
	0x001D: script.VKLControl,
	0x0E1D: script.VKRControl,
	0x0038: script.VKLMenu,
	0x0E38: script.VKRMenu,
	0x0E5B: script.VKLWin,
	0x0E5C: script.VKRWin,
	0x0029: 0xC0,
	0x000C: 0xBD,
	0x000D: 0xBB,
	0x001A: 0xDB,
	0x001B: 0xDD,
	0x002B: 0xDC,
	0x0027: 0xBA,
	0x0028: 0xDE,
	0x0033: 0xBC,
	0x0034: 0xBE,
	0x0035: 0xBF,
	0x0052: script.VKNumpad0,
	0x004F: script.VKNumpad0 + 1,
	0x0050: script.VKNumpad0 + 2,
	0x0051: script.VKNumpad0 + 3,
	0x004B: script.VKNumpad0 + 4,
	0x004C: script.VKNumpad0 + 5,
	0x004D: script.VKNumpad0 + 6,
	0x0047: script.VKNumpad0 + 7,
	0x0048: script.VKNumpad0 + 8,
	0x0049: script.VKNumpad0 + 9,
}

func init() {
	rows := []struct {
		first uint16
		keys  string
	}{
		{0x0010, "QWERTYUIOP"},
		{0x001E, "ASDFGHJKL"},
		{0x002C, "ZXCVBNM"},
		{0x0002, "1234567890"},
	}
	for _, r := range rows {
		for i, c := range r.keys {
			uiohookToVK[r.first+uint16(i)] = uint16(c)
		}
	}
	for i := uint16(0); i < 10; i++ {
		uiohookToVK[0x003B+i] = script.VKF1 + i
	}
	uiohookToVK[0x0057] = script.VKF1 + 10
	uiohookToVK[0x0058] = script.VKF1 + 11
}

// toVK translates a gohook key code; ok is false for keys scripts cannot express.
func toVK(code uint16) (uint16, bool) {
	vk, ok := uiohookToVK[code]
	return vk, ok
}

var robotgoNames = map[uint16]string{
	script.VKBack:     "backspace",
	script.VKTab:      "tab",
	script.VKReturn:   "enter",
	script.VKShift:    "shift",
	script.VKControl:  "ctrl",
	script.VKMenu:     "alt",
	script.VKCapital:  "capslock",
	script.VKEscape:   "esc",
	script.VKSpace:    "space",
	script.VKPrior:    "pageup",
	script.VKNext:     "pagedown",
	script.VKEnd:      "end",
	script.VKHome:     "home",
	script.VKLeft:     "left",
	script.VKUp:       "up",
	script.VKRight:    "right",
	script.VKDown:     "down",
	script.VKSnapshot: "printscreen",
	script.VKInsert:   "insert",
	script.VKDelete:   "delete",
	script.VKLWin:     "cmd",
	script.VKRWin:     "rcmd",
	script.VKLShift:   "lshift",
	script.VKRShift:   "rshift",
	script.VKLControl: "lctrl",
	script.VKRControl: "rctrl",
	script.VKLMenu:    "lalt",
	script.VKRMenu:    "ralt",
	0xBA:              ";",
	0xBB:              "=",
	0xBC:              ",",
	0xBD:              "-",
	0xBE:              ".",
	0xBF:              "/",
	0xC0:              "`",
	0xDB:              "[",
	0xDC:              "\\",
	0xDD:              "]",
	0xDE:              "'",
}

// robotgoKey returns the key name robotgo expects for a virtual-key code.
func robotgoKey(vk uint16) (string, error) {
	switch {
	case vk >= script.VKA && vk <= 0x5A:
		return string(rune(vk + 'a' - 'A')), nil
	case vk >= script.VK0 && vk <= 0x39:
		return string(rune(vk)), nil
	case vk >= script.VKF1 && vk <= script.VKF1+23:
		return fmt.Sprintf("f%d", vk-script.VKF1+1), nil
	case vk >= script.VKNumpad0 && vk <= script.VKNumpad0+9:
		return fmt.Sprintf("num%d", vk-script.VKNumpad0), nil
	}
	if name, ok := robotgoNames[vk]; ok {
		return name, nil
	}
	return "", fmt.Errorf("no key name for %s", script.KeyName(vk))
}

// checkKeymap verifies that every key the listener can record has a name to
// replay it with.
func checkKeymap() error {
	for code, vk := range uiohookToVK {
		if _, err := robotgoKey(vk); err != nil {
			return fmt.Errorf("recorded key %#04x cannot be replayed: %w", code, err)
		}
	}
	return nil
}

// libuiohook wheel directions as gohook reports them in Event.Direction.
const (
	wheelVertical   uint8 = 3
	wheelHorizontal uint8 = 4
)

// wheelDelta turns one wheel notch into script scroll units: positive dy
// scrolls down, positive dx scrolls right. A zero rotation carries nothing.
func wheelDelta(rotation int32, direction uint8) (dx, dy int, ok bool) {
	if rotation == 0 {
		return 0, 0, false
	}
	step := 1
	if rotation < 0 {
		step = -1
	}
	if direction == wheelHorizontal {
		return step, 0, true
	}
	return 0, step, true
}
