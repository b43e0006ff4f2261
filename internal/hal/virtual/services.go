package virtual

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"time"

	"automacro/internal/errs"
	"automacro/internal/hal"
	"automacro/internal/script"
)

type keyboard struct{ b *Binding }

func (k keyboard) Press(code uint16) error {
	return k.b.inject(Injection{Kind: script.KindKeyDown, Code: code})
}

func (k keyboard) Release(code uint16) error {
	return k.b.inject(Injection{Kind: script.KindKeyUp, Code: code})
}

func (k keyboard) Listen(fn hal.KeyListener) (hal.Hook, error) {
	if fn == nil {
		return nil, errs.Invalid("nil key listener")
	}
	return k.b.addHook(func(id int) { k.b.keyHooks[id] = fn }), nil
}

func (k keyboard) Probe(ctx context.Context) error { return k.b.selfCheck(ctx) }

type mouse struct{ b *Binding }

func (m mouse) MoveTo(x, y int) error {
	return m.b.inject(Injection{Kind: script.KindMouseMove, X: x, Y: y})
}

func (m mouse) Press(btn script.Button) error {
	return m.b.inject(Injection{Kind: script.KindMouseDown, Button: btn})
}

func (m mouse) Release(btn script.Button) error {
	return m.b.inject(Injection{Kind: script.KindMouseUp, Button: btn})
}

func (m mouse) Scroll(dx, dy int) error {
	return m.b.inject(Injection{Kind: script.KindWheel, ScrollX: dx, ScrollY: dy})
}

func (m mouse) Position() (int, int, error) {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	return m.b.x, m.b.y, nil
}

func (m mouse) Listen(fn hal.MouseListener) (hal.Hook, error) {
	if fn == nil {
		return nil, errs.Invalid("nil mouse listener")
	}
	return m.b.addHook(func(id int) { m.b.mouseHooks[id] = fn }), nil
}

func (m mouse) Probe(ctx context.Context) error { return m.b.selfCheck(ctx) }

type screen struct{ b *Binding }

func (s screen) Bounds() image.Rectangle {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.b.screen.Rect
}

func (s screen) Capture(ctx context.Context, r image.Rectangle) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if r.Empty() {
		r = s.b.screen.Rect
	}
	if !r.In(s.b.screen.Rect) {
		return nil, errs.Invalid("capture %v outside screen %v", r, s.b.screen.Rect)
	}
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Rect, s.b.screen, r.Min, draw.Src)
	if s.b.distort != nil {
		s.b.captures++
		s.b.distort(s.b.captures, out)
	}
	return out, nil
}

func (s screen) Probe(ctx context.Context) error { return s.b.selfCheck(ctx) }

type hotkeys struct{ b *Binding }

func (h hotkeys) Watch(fn func(code uint16, down bool)) (hal.Hook, error) {
	if fn == nil {
		return nil, errs.Invalid("nil hotkey watcher")
	}
	return h.b.addHook(func(id int) { h.b.watchers[id] = fn }), nil
}

func (h hotkeys) Probe(ctx context.Context) error { return h.b.selfCheck(ctx) }

type window struct{ b *Binding }

func (w window) ActiveTitle() (string, error) {
	w.b.mu.Lock()
	defer w.b.mu.Unlock()
	return w.b.title, nil
}

func (w window) Activate(title string) error {
	if title == "" {
		return errs.Invalid("empty window title")
	}
	w.b.mu.Lock()
	defer w.b.mu.Unlock()
	w.b.title = title
	return nil
}

// EmitKey delivers a key transition to every keyboard listener and hotkey
// watcher, the way an OS hook callback would.
func (b *Binding) EmitKey(code uint16, down bool) {
	b.EmitKeyEvent(hal.KeyEvent{Code: code, Down: down})
}

// EmitKeyEvent is EmitKey with a caller-chosen timestamp.
func (b *Binding) EmitKeyEvent(ev hal.KeyEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	code, down := ev.Code, ev.Down
	b.mu.Lock()
	listeners := make([]hal.KeyListener, 0, len(b.keyHooks))
	for _, fn := range b.keyHooks {
		listeners = append(listeners, fn)
	}
	watchers := make([]func(uint16, bool), 0, len(b.watchers))
	for _, fn := range b.watchers {
		watchers = append(watchers, fn)
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
	for _, fn := range watchers {
		fn(code, down)
	}
}

// EmitMouse delivers a mouse event to every mouse listener.
func (b *Binding) EmitMouse(ev hal.MouseEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	if ev.Kind == hal.MouseMoved {
		b.x, b.y = ev.X, ev.Y
	}
	listeners := make([]hal.MouseListener, 0, len(b.mouseHooks))
	for _, fn := range b.mouseHooks {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

func (i Injection) String() string {
	switch i.Kind {
	case script.KindKeyDown, script.KindKeyUp:
		return fmt.Sprintf("%s %s", i.Kind, script.KeyName(i.Code))
	case script.KindMouseMove:
		return fmt.Sprintf("%s %d,%d", i.Kind, i.X, i.Y)
	case script.KindWheel:
		return fmt.Sprintf("%s %d,%d", i.Kind, i.ScrollX, i.ScrollY)
	default:
		return fmt.Sprintf("%s %s", i.Kind, i.Button)
	}
}
