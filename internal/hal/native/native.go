//go:build cgo

// Package native binds the HAL to the desktop through robotgo (injection, screen,
// windows) and gohook (system-wide listeners). gohook keeps one process-wide
// event stream, so a process holds at most one open Binding.
package native

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"runtime"
	"sync"
	"time"

	"github.com/go-vgo/robotgo"
	hook "github.com/robotn/gohook"

	"automacro/internal/errs"
	"automacro/internal/hal"
	"automacro/internal/osutils"
	"automacro/internal/script"
)

type Binding struct {
	mu     sync.Mutex
	opened bool
	pump   *pump
}

// New returns the binding for the current desktop.
func New() (hal.Binding, error) {
	switch runtime.GOOS {
	case "windows", "darwin", "linux":
		return &Binding{}, nil
	}
	return nil, fmt.Errorf("%w: %s", errs.ErrPlatformUnsupported, runtime.GOOS)
}

func (b *Binding) Name() string { return "native/" + runtime.GOOS }

func (b *Binding) Open(ctx context.Context, _ hal.Options) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.opened {
		return nil
	}
	w, h := robotgo.GetScreenSize()
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: no display (screen %dx%d)", errs.ErrPlatformUnsupported, w, h)
	}
	b.pump = newPump()
	b.opened = true
	return ctx.Err()
}

func (b *Binding) Close() error {
	b.mu.Lock()
	p := b.pump
	b.pump, b.opened = nil, false
	b.mu.Unlock()
	if p != nil {
		p.shutdown()
	}
	return nil
}

func (b *Binding) Permissions() hal.PermissionStatus {
	st := hal.PermissionStatus{
		Accessibility:   hal.PermissionNotRequired,
		InputMonitoring: hal.PermissionNotRequired,
		ScreenCapture:   hal.PermissionNotRequired,
		Elevated:        osutils.IsAdmin(),
	}
	switch osutils.AccessibilityTrust(false) {
	case osutils.Trusted:
		st.Accessibility, st.InputMonitoring = hal.PermissionGranted, hal.PermissionGranted
		st.ScreenCapture = hal.PermissionUnknown
	case osutils.Untrusted:
		st.Accessibility, st.InputMonitoring = hal.PermissionDenied, hal.PermissionDenied
		st.ScreenCapture = hal.PermissionUnknown
	case osutils.TrustUnknown:
		st.Accessibility, st.InputMonitoring = hal.PermissionUnknown, hal.PermissionUnknown
	}
	return st
}

func (b *Binding) RequestPermissions(req hal.PermissionRequest) bool {
	if req.Accessibility || req.InputMonitoring {
		switch osutils.AccessibilityTrust(req.Prompt) {
		case osutils.Untrusted, osutils.TrustUnknown:
			return false
		}
	}
	return true
}

// Wake nudges the pointer so a sleeping display comes back before capture.
func (b *Binding) Wake() error {
	return osutils.WakeDisplay()
}

func (b *Binding) Keyboard() hal.Keyboard     { return keyboard{b} }
func (b *Binding) Mouse() hal.Mouse           { return mouse{b} }
func (b *Binding) Screen() hal.Screen         { return screen{} }
func (b *Binding) Hotkeys() hal.GlobalHotkeys { return hotkeys{b} }
func (b *Binding) Window() hal.Window         { return window{} }

func (b *Binding) listeners() (*pump, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.opened {
		return nil, errs.ErrNotInitialized
	}
	return b.pump, nil
}

type keyboard struct{ b *Binding }

func (k keyboard) Press(code uint16) error   { return toggleKey(code, "down") }
func (k keyboard) Release(code uint16) error { return toggleKey(code, "up") }

func toggleKey(code uint16, dir string) error {
	name, err := robotgoKey(code)
	if err != nil {
		return errs.Injection("key "+dir, err)
	}
	if err := robotgo.KeyToggle(name, dir); err != nil {
		return errs.Injection("key "+dir, err)
	}
	return nil
}

func (k keyboard) Listen(fn hal.KeyListener) (hal.Hook, error) {
	p, err := k.b.listeners()
	if err != nil {
		return nil, err
	}
	return p.add(func(id int) { p.keys[id] = fn })
}

// Probe checks the key translation tables and that the hook pump serving key
// listeners is still running.
func (k keyboard) Probe(ctx context.Context) error {
	if err := checkKeymap(); err != nil {
		return err
	}
	p, err := k.b.listeners()
	if err != nil {
		return err
	}
	return p.alive()
}

type mouse struct{ b *Binding }

func (m mouse) MoveTo(x, y int) error {
	robotgo.Move(x, y)
	return nil
}

func (m mouse) Press(b script.Button) error {
	if err := robotgo.Toggle(string(b), "down"); err != nil {
		return errs.Injection("mouse down", err)
	}
	return nil
}

func (m mouse) Release(b script.Button) error {
	if err := robotgo.Toggle(string(b), "up"); err != nil {
		return errs.Injection("mouse up", err)
	}
	return nil
}

// Scroll converts to robotgo's convention, where positive y scrolls up.
func (m mouse) Scroll(dx, dy int) error {
	robotgo.Scroll(dx, -dy)
	return nil
}

func (m mouse) Position() (int, int, error) {
	x, y := robotgo.Location()
	return x, y, nil
}

func (m mouse) Listen(fn hal.MouseListener) (hal.Hook, error) {
	p, err := m.b.listeners()
	if err != nil {
		return nil, err
	}
	return p.add(func(id int) { p.mice[id] = fn })
}

type screen struct{}

func (screen) Bounds() image.Rectangle {
	w, h := robotgo.GetScreenSize()
	return image.Rect(0, 0, w, h)
}

func (s screen) Capture(ctx context.Context, r image.Rectangle) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Empty() {
		r = s.Bounds()
	}
	img, err := robotgo.CaptureImg(r.Min.X, r.Min.Y, r.Dx(), r.Dy())
	if err != nil {
		return nil, fmt.Errorf("capture screen: %w", err)
	}
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba, nil
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Rect, img, b.Min, draw.Src)
	return out, nil
}

type hotkeys struct{ b *Binding }

func (h hotkeys) Watch(fn func(code uint16, down bool)) (hal.Hook, error) {
	p, err := h.b.listeners()
	if err != nil {
		return nil, err
	}
	return p.add(func(id int) {
		p.keys[id] = func(ev hal.KeyEvent) { fn(ev.Code, ev.Down) }
	})
}

func (h hotkeys) Probe(ctx context.Context) error {
	p, err := h.b.listeners()
	if err != nil {
		return err
	}
	return p.alive()
}

type window struct{}

func (window) ActiveTitle() (string, error) {
	return robotgo.GetTitle(), nil
}

func (window) Activate(title string) error {
	if title == "" {
		return errs.Invalid("empty window title")
	}
	if err := robotgo.ActiveName(title); err != nil {
		return fmt.Errorf("activate %q: %w", title, err)
	}
	return nil
}

// pump owns the gohook event stream. It starts with the first listener and
// ends with the last one.
type pump struct {
	mu      sync.Mutex
	next    int
	keys    map[int]hal.KeyListener
	mice    map[int]hal.MouseListener
	events  chan hook.Event
	stopped chan struct{}
}

func newPump() *pump {
	return &pump{keys: make(map[int]hal.KeyListener), mice: make(map[int]hal.MouseListener)}
}

func (p *pump) add(register func(id int)) (hal.Hook, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	id := p.next
	register(id)
	if p.events == nil {
		p.events = hook.Start()
		p.stopped = make(chan struct{})
		go p.run(p.events, p.stopped)
	}

	var once sync.Once
	return hal.HookFunc(func() error {
		once.Do(func() { p.remove(id) })
		return nil
	}), nil
}

// alive fails when listeners are installed but the gohook stream has ended.
func (p *pump) alive() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.keys) + len(p.mice)
	if n == 0 {
		return nil
	}
	if p.events == nil {
		return fmt.Errorf("input hook not running with %d listeners", n)
	}
	select {
	case <-p.stopped:
		return fmt.Errorf("input hook stopped with %d listeners", n)
	default:
		return nil
	}
}

func (p *pump) remove(id int) {
	p.mu.Lock()
	delete(p.keys, id)
	delete(p.mice, id)
	idle := len(p.keys) == 0 && len(p.mice) == 0
	p.mu.Unlock()
	if idle {
		p.shutdown()
	}
}

func (p *pump) shutdown() {
	p.mu.Lock()
	events, stopped := p.events, p.stopped
	p.events, p.stopped = nil, nil
	clear(p.keys)
	clear(p.mice)
	p.mu.Unlock()
	if events == nil {
		return
	}
	hook.End()
	select {
	case <-stopped:
	case <-time.After(time.Second):
	}
}

func (p *pump) run(events chan hook.Event, stopped chan struct{}) {
	defer close(stopped)
	for ev := range events {
		p.dispatch(ev)
	}
}

func (p *pump) dispatch(ev hook.Event) {
	switch ev.Kind {
	case hook.KeyHold, hook.KeyUp:
		vk, ok := toVK(ev.Keycode)
		if !ok {
			return
		}
		ke := hal.KeyEvent{Code: vk, Down: ev.Kind == hook.KeyHold, Time: ev.When}
		p.mu.Lock()
		fns := make([]hal.KeyListener, 0, len(p.keys))
		for _, fn := range p.keys {
			fns = append(fns, fn)
		}
		p.mu.Unlock()
		for _, fn := range fns {
			fn(ke)
		}
	case hook.MouseHold, hook.MouseUp, hook.MouseMove, hook.MouseDrag, hook.MouseWheel:
		me, ok := mouseEvent(ev)
		if !ok {
			return
		}
		p.mu.Lock()
		fns := make([]hal.MouseListener, 0, len(p.mice))
		for _, fn := range p.mice {
			fns = append(fns, fn)
		}
		p.mu.Unlock()
		for _, fn := range fns {
			fn(me)
		}
	}
}

func mouseEvent(ev hook.Event) (hal.MouseEvent, bool) {
	me := hal.MouseEvent{X: int(ev.X), Y: int(ev.Y), Time: ev.When}
	switch ev.Kind {
	case hook.MouseMove, hook.MouseDrag:
		me.Kind = hal.MouseMoved
	case hook.MouseHold, hook.MouseUp:
		me.Kind = hal.MousePressed
		if ev.Kind == hook.MouseUp {
			me.Kind = hal.MouseReleased
		}
		switch ev.Button {
		case 1:
			me.Button = script.ButtonLeft
		case 2:
			me.Button = script.ButtonRight
		case 3:
			me.Button = script.ButtonMiddle
		default:
			return me, false
		}
	case hook.MouseWheel:
		me.Kind = hal.MouseWheeled
		dx, dy, ok := wheelDelta(ev.Rotation, ev.Direction)
		if !ok {
			return me, false
		}
		me.ScrollX, me.ScrollY = dx, dy
	default:
		return me, false
	}
	return me, true
}
