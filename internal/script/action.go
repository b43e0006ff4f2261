// Package script defines the canonical action model: one Action per input event or
// delay, independent of how any operating system represents it, and the Script that
// orders them for replay.
package script

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"automacro/internal/errs"
)

// Kind identifies what an Action does when dispatched.
type Kind string

const (
	KindKeyDown   Kind = "key_down"
	KindKeyUp     Kind = "key_up"
	KindMouseMove Kind = "mouse_move"
	KindMouseDown Kind = "mouse_down"
	KindMouseUp   Kind = "mouse_up"
	KindWheel     Kind = "wheel"
	KindDelay     Kind = "delay"
)

func (k Kind) valid() bool {
	switch k {
	case KindKeyDown, KindKeyUp, KindMouseMove, KindMouseDown, KindMouseUp, KindWheel, KindDelay:
		return true
	}
	return false
}

// Button names follow the robotgo convention.
type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "center"
)

// Action is one recorded input event. DelayMillis is the wait before this action is
// dispatched, measured from the previous action. Coordinates are absolute screen pixels.
type Action struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	KeyCode     uint16    `json:"key_code,omitempty"`
	Button      Button    `json:"button,omitempty"`
	X           int       `json:"x,omitempty"`
	Y           int       `json:"y,omitempty"`
	ScrollX     int       `json:"scroll_x,omitempty"`
	ScrollY     int       `json:"scroll_y,omitempty"`
	DelayMillis int64     `json:"delay_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

func newAction(kind Kind) Action {
	return Action{ID: uuid.NewString(), Kind: kind, Timestamp: time.Now()}
}

func KeyDown(code uint16) Action {
	a := newAction(KindKeyDown)
	a.KeyCode = code
	return a
}

func KeyUp(code uint16) Action {
	a := newAction(KindKeyUp)
	a.KeyCode = code
	return a
}

func MoveTo(x, y int) Action {
	a := newAction(KindMouseMove)
	a.X, a.Y = x, y
	return a
}

func ButtonDown(b Button, x, y int) Action {
	a := newAction(KindMouseDown)
	a.Button, a.X, a.Y = b, x, y
	return a
}

func ButtonUp(b Button, x, y int) Action {
	a := newAction(KindMouseUp)
	a.Button, a.X, a.Y = b, x, y
	return a
}

// Scroll builds a wheel action; positive dy scrolls down, positive dx scrolls right.
func Scroll(dx, dy int) Action {
	a := newAction(KindWheel)
	a.ScrollX, a.ScrollY = dx, dy
	return a
}

// Wait builds a pure delay action.
func Wait(ms int64) Action {
	a := newAction(KindDelay)
	a.DelayMillis = ms
	return a
}

// After returns a copy of a that waits ms before dispatch.
func (a Action) After(ms int64) Action {
	a.DelayMillis = ms
	return a
}

// Delay is DelayMillis as a duration.
func (a Action) Delay() time.Duration {
	return time.Duration(a.DelayMillis) * time.Millisecond
}

func (a Action) String() string {
	switch a.Kind {
	case KindKeyDown, KindKeyUp:
		return fmt.Sprintf("%s(%s)", a.Kind, KeyName(a.KeyCode))
	case KindMouseMove:
		return fmt.Sprintf("%s(%d,%d)", a.Kind, a.X, a.Y)
	case KindMouseDown, KindMouseUp:
		return fmt.Sprintf("%s(%s@%d,%d)", a.Kind, a.Button, a.X, a.Y)
	case KindWheel:
		return fmt.Sprintf("%s(%d,%d)", a.Kind, a.ScrollX, a.ScrollY)
	default:
		return fmt.Sprintf("%s(%dms)", a.Kind, a.DelayMillis)
	}
}

// Validate checks the fields each kind requires.
func (a Action) Validate() error {
	if !a.Kind.valid() {
		return errs.Invalid("unknown action kind %q", a.Kind)
	}
	if a.DelayMillis < 0 {
		return errs.Invalid("action %s: negative delay %d", a.ID, a.DelayMillis)
	}
	switch a.Kind {
	case KindKeyDown, KindKeyUp:
		if a.KeyCode == 0 {
			return errs.Invalid("action %s: missing key code", a.ID)
		}
	case KindMouseDown, KindMouseUp:
		switch a.Button {
		case ButtonLeft, ButtonRight, ButtonMiddle:
		default:
			return errs.Invalid("action %s: unknown mouse button %q", a.ID, a.Button)
		}
	case KindWheel:
		if a.ScrollX == 0 && a.ScrollY == 0 {
			return errs.Invalid("action %s: wheel without delta", a.ID)
		}
	}
	return nil
}
