// Package hal is the hardware abstraction layer: one capability interface per
// sub-service, a root object that owns the platform binding, and the lifecycle,
// permission and health contract around it. The engine only sees these
// interfaces; the binding is chosen once at startup.
package hal

import (
	"context"
	"image"
	"time"

	"automacro/internal/script"
	"automacro/internal/vision"
)

// Hook is an installed listener. Close is idempotent.
type Hook interface {
	Close() error
}

// HookFunc adapts a function to Hook.
type HookFunc func() error

func (f HookFunc) Close() error { return f() }

type KeyEvent struct {
	Code uint16
	Down bool
	Time time.Time
}

type MouseEventKind uint8

const (
	MouseMoved MouseEventKind = iota + 1
	MousePressed
	MouseReleased
	MouseWheeled
)

type MouseEvent struct {
	Kind    MouseEventKind
	Button  script.Button
	X, Y    int
	ScrollX int
	ScrollY int
	Time    time.Time
}

// Listener callbacks run on the platform's input callback context. They must
// return quickly and must not block.
type (
	KeyListener   func(KeyEvent)
	MouseListener func(MouseEvent)
)

type Keyboard interface {
	Press(code uint16) error
	Release(code uint16) error
	Listen(fn KeyListener) (Hook, error)
}

type Mouse interface {
	MoveTo(x, y int) error
	Press(b script.Button) error
	Release(b script.Button) error
	// Scroll moves the wheel; positive dy scrolls down, positive dx scrolls right.
	Scroll(dx, dy int) error
	Position() (x, y int, err error)
	Listen(fn MouseListener) (Hook, error)
}

type Screen interface {
	Bounds() image.Rectangle
	Capture(ctx context.Context, r image.Rectangle) (*image.RGBA, error)
}

// GlobalHotkeys reports raw key transitions regardless of the focused window.
type GlobalHotkeys interface {
	Watch(fn func(code uint16, down bool)) (Hook, error)
}

type Window interface {
	ActiveTitle() (string, error)
	Activate(title string) error
}

type ImageRecognition interface {
	FindImage(ctx context.Context, tpl *vision.Template, threshold float64, region *image.Rectangle) (vision.MatchResult, error)
	WaitForImage(ctx context.Context, tpl *vision.Template, timeout time.Duration, threshold float64, poll time.Duration, region *image.Rectangle) (*vision.MatchResult, error)
}

// Prober is implemented by sub-services that have a cheaper or more telling
// self-test than the default one HealthCheck performs.
type Prober interface {
	Probe(ctx context.Context) error
}

// Waker is implemented by bindings that can wake a sleeping display.
type Waker interface {
	Wake() error
}

// Binding is what a platform supplies.
type Binding interface {
	Name() string
	Open(ctx context.Context, opts Options) error
	Close() error
	Permissions() PermissionStatus
	RequestPermissions(req PermissionRequest) bool

	Keyboard() Keyboard
	Mouse() Mouse
	Screen() Screen
	Hotkeys() GlobalHotkeys
	Window() Window
}
