package script

import (
	"fmt"
	"strings"
)

// Key codes use the Windows virtual-key space on every platform; bindings translate
// to and from their native codes.
const (
	VKBack     uint16 = 0x08
	VKTab      uint16 = 0x09
	VKReturn   uint16 = 0x0D
	VKShift    uint16 = 0x10
	VKControl  uint16 = 0x11
	VKMenu     uint16 = 0x12
	VKPause    uint16 = 0x13
	VKCapital  uint16 = 0x14
	VKEscape   uint16 = 0x1B
	VKSpace    uint16 = 0x20
	VKPrior    uint16 = 0x21
	VKNext     uint16 = 0x22
	VKEnd      uint16 = 0x23
	VKHome     uint16 = 0x24
	VKLeft     uint16 = 0x25
	VKUp       uint16 = 0x26
	VKRight    uint16 = 0x27
	VKDown     uint16 = 0x28
	VKSnapshot uint16 = 0x2C
	VKInsert   uint16 = 0x2D
	VKDelete   uint16 = 0x2E
	VK0        uint16 = 0x30
	VKA        uint16 = 0x41
	VKLWin     uint16 = 0x5B
	VKRWin     uint16 = 0x5C
	VKNumpad0  uint16 = 0x60
	VKF1       uint16 = 0x70
	VKScroll   uint16 = 0x91
	VKLShift   uint16 = 0xA0
	VKRShift   uint16 = 0xA1
	VKLControl uint16 = 0xA2
	VKRControl uint16 = 0xA3
	VKLMenu    uint16 = 0xA4
	VKRMenu    uint16 = 0xA5
)

// Mod is a bit set of modifier keys, left and right folded together.
type Mod uint8

const (
	ModCtrl Mod = 1 << iota
	ModAlt
	ModShift
	ModMeta
)

func (m Mod) String() string {
	var parts []string
	if m&ModCtrl != 0 {
		parts = append(parts, "CTRL")
	}
	if m&ModAlt != 0 {
		parts = append(parts, "ALT")
	}
	if m&ModShift != 0 {
		parts = append(parts, "SHIFT")
	}
	if m&ModMeta != 0 {
		parts = append(parts, "CMD")
	}
	return strings.Join(parts, "+")
}

// ModOf returns the modifier a key code stands for, or 0.
func ModOf(code uint16) Mod {
	switch code {
	case VKControl, VKLControl, VKRControl:
		return ModCtrl
	case VKMenu, VKLMenu, VKRMenu:
		return ModAlt
	case VKShift, VKLShift, VKRShift:
		return ModShift
	case VKLWin, VKRWin:
		return ModMeta
	}
	return 0
}

var namedKeys = map[uint16]string{
	VKBack:     "BACKSPACE",
	VKTab:      "TAB",
	VKReturn:   "ENTER",
	VKShift:    "SHIFT",
	VKControl:  "CTRL",
	VKMenu:     "ALT",
	VKPause:    "PAUSE",
	VKCapital:  "CAPSLOCK",
	VKEscape:   "ESC",
	VKSpace:    "SPACE",
	VKPrior:    "PAGEUP",
	VKNext:     "PAGEDOWN",
	VKEnd:      "END",
	VKHome:     "HOME",
	VKLeft:     "LEFT",
	VKUp:       "UP",
	VKRight:    "RIGHT",
	VKDown:     "DOWN",
	VKSnapshot: "PRINTSCREEN",
	VKInsert:   "INSERT",
	VKDelete:   "DELETE",
	VKLWin:     "CMD",
	VKRWin:     "RCMD",
	VKScroll:   "SCROLLLOCK",
	VKLShift:   "LSHIFT",
	VKRShift:   "RSHIFT",
	VKLControl: "LCTRL",
	VKRControl: "RCTRL",
	VKLMenu:    "LALT",
	VKRMenu:    "RALT",
	0xBA:       ";",
	0xBB:       "=",
	0xBC:       ",",
	0xBD:       "-",
	0xBE:       ".",
	0xBF:       "/",
	0xC0:       "`",
	0xDB:       "[",
	0xDC:       "\\",
	0xDD:       "]",
	0xDE:       "'",
}

var keyAliases = map[string]uint16{
	"CONTROL": VKControl,
	"OPTION":  VKMenu,
	"META":    VKLWin,
	"WIN":     VKLWin,
	"SUPER":   VKLWin,
	"COMMAND": VKLWin,
	"RETURN":  VKReturn,
	"ESCAPE":  VKEscape,
	"DEL":     VKDelete,
	"INS":     VKInsert,
	"PGUP":    VKPrior,
	"PGDN":    VKNext,
}

var keysByName = func() map[string]uint16 {
	m := make(map[string]uint16, len(namedKeys)+len(keyAliases)+64)
	for code, name := range namedKeys {
		m[name] = code
	}
	for name, code := range keyAliases {
		m[name] = code
	}
	return m
}()

// KeyName returns the display name of a key code, e.g. "A", "F9", "CTRL".
func KeyName(code uint16) string {
	switch {
	case code >= VKA && code <= 0x5A:
		return string(rune(code))
	case code >= VK0 && code <= 0x39:
		return string(rune(code))
	case code >= VKF1 && code <= 0x87:
		return fmt.Sprintf("F%d", code-VKF1+1)
	case code >= VKNumpad0 && code <= 0x69:
		return fmt.Sprintf("NUM%d", code-VKNumpad0)
	}
	if name, ok := namedKeys[code]; ok {
		return name
	}
	return fmt.Sprintf("VK_%02X", code)
}

// KeyCode parses a key name as produced by KeyName, case-insensitively.
func KeyCode(name string) (uint16, bool) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if n == "" {
		return 0, false
	}
	if len(n) == 1 {
		c := n[0]
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			return uint16(c), true
		}
	}
	if code, ok := keysByName[n]; ok {
		return code, true
	}
	var i uint16
	if _, err := fmt.Sscanf(n, "F%d", &i); err == nil && i >= 1 && i <= 24 {
		return VKF1 + i - 1, true
	}
	if _, err := fmt.Sscanf(n, "NUM%d", &i); err == nil && i <= 9 {
		return VKNumpad0 + i, true
	}
	if _, err := fmt.Sscanf(n, "VK_%X", &i); err == nil && i != 0 {
		return i, true
	}
	return 0, false
}
