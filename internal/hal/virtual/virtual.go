// Package virtual is an in-memory HAL binding. It injects into a recorded log
// instead of the OS, serves screen captures from an image the caller controls,
// and lets tests emit input as if a user had typed it. The service runs on it
// in headless mode.
package virtual

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"automacro/internal/errs"
	"automacro/internal/hal"
	"automacro/internal/script"
)

// Injection is one call that reached the binding.
type Injection struct {
	Kind    script.Kind
	Code    uint16
	Button  script.Button
	X, Y    int
	ScrollX int
	ScrollY int
	At      time.Time
}

type Binding struct {
	mu          sync.Mutex
	opened      bool
	opens       int
	perms       hal.PermissionStatus
	screen      *image.RGBA
	title       string
	x, y        int
	keys        map[uint16]bool
	injected    []Injection
	fail        func(Injection) error
	checkDelay  time.Duration
	distort     func(n int, img *image.RGBA)
	captures    int
	keyHooks    map[int]hal.KeyListener
	mouseHooks  map[int]hal.MouseListener
	watchers    map[int]func(uint16, bool)
	nextHook    int
	activeHooks int
}

func New(width, height int) *Binding {
	scr := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(scr, scr.Rect, image.NewUniform(color.White), image.Point{}, draw.Src)
	return &Binding{
		perms: hal.PermissionStatus{
			Accessibility:   hal.PermissionNotRequired,
			InputMonitoring: hal.PermissionNotRequired,
			ScreenCapture:   hal.PermissionNotRequired,
		},
		screen:     scr,
		title:      "virtual desktop",
		keys:       make(map[uint16]bool),
		keyHooks:   make(map[int]hal.KeyListener),
		mouseHooks: make(map[int]hal.MouseListener),
		watchers:   make(map[int]func(uint16, bool)),
	}
}

func (b *Binding) Name() string { return "virtual" }

func (b *Binding) Open(context.Context, hal.Options) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = true
	b.opens++
	return nil
}

func (b *Binding) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = false
	clear(b.keyHooks)
	clear(b.mouseHooks)
	clear(b.watchers)
	b.activeHooks = 0
	return nil
}

// Opens counts successful Open calls.
func (b *Binding) Opens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

// ActiveHooks is the number of listeners currently installed.
func (b *Binding) ActiveHooks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeHooks
}

func (b *Binding) Permissions() hal.PermissionStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.perms
}

// SetPermissions overrides what Permissions reports.
func (b *Binding) SetPermissions(p hal.PermissionStatus) {
	b.mu.Lock()
	b.perms = p
	b.mu.Unlock()
}

// RequestPermissions grants whatever was requested.
func (b *Binding) RequestPermissions(req hal.PermissionRequest) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if req.Accessibility {
		b.perms.Accessibility = hal.PermissionGranted
	}
	if req.InputMonitoring {
		b.perms.InputMonitoring = hal.PermissionGranted
	}
	if req.ScreenCapture {
		b.perms.ScreenCapture = hal.PermissionGranted
	}
	return b.perms.CanHook()
}

// FailWith makes every injection for which fn returns an error fail with it.
func (b *Binding) FailWith(fn func(Injection) error) {
	b.mu.Lock()
	b.fail = fn
	b.mu.Unlock()
}

// SetCheckDelay makes health checks take d.
func (b *Binding) SetCheckDelay(d time.Duration) {
	b.mu.Lock()
	b.checkDelay = d
	b.mu.Unlock()
}

// Distort runs fn on every capture before it is returned; n counts captures
// from 1.
func (b *Binding) Distort(fn func(n int, img *image.RGBA)) {
	b.mu.Lock()
	b.distort, b.captures = fn, 0
	b.mu.Unlock()
}

// Injected returns a copy of everything injected so far.
func (b *Binding) Injected() []Injection {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Injection(nil), b.injected...)
}

func (b *Binding) ResetInjected() {
	b.mu.Lock()
	b.injected = nil
	b.mu.Unlock()
}

// SetScreen replaces the screen contents.
func (b *Binding) SetScreen(img image.Image) {
	bounds := img.Bounds()
	scr := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(scr, scr.Rect, img, bounds.Min, draw.Src)
	b.mu.Lock()
	b.screen = scr
	b.mu.Unlock()
}

// Paste draws img onto the screen at pt.
func (b *Binding) Paste(img image.Image, pt image.Point) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := img.Bounds()
	draw.Draw(b.screen, r.Sub(r.Min).Add(pt), img, r.Min, draw.Src)
}

func (b *Binding) inject(in Injection) error {
	in.At = time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.opened {
		return fmt.Errorf("%w: virtual binding closed", errs.ErrNotInitialized)
	}
	if b.fail != nil {
		if err := b.fail(in); err != nil {
			return errs.Injection(string(in.Kind), err)
		}
	}
	switch in.Kind {
	case script.KindKeyDown:
		b.keys[in.Code] = true
	case script.KindKeyUp:
		delete(b.keys, in.Code)
	case script.KindMouseMove:
		b.x, b.y = in.X, in.Y
	case script.KindMouseDown, script.KindMouseUp:
		in.X, in.Y = b.x, b.y
	}
	b.injected = append(b.injected, in)
	return nil
}

func (b *Binding) addHook(register func(id int)) hal.Hook {
	b.mu.Lock()
	b.nextHook++
	id := b.nextHook
	register(id)
	b.activeHooks++
	b.mu.Unlock()

	var once sync.Once
	return hal.HookFunc(func() error {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			_, k := b.keyHooks[id]
			_, m := b.mouseHooks[id]
			_, w := b.watchers[id]
			if k || m || w {
				b.activeHooks--
			}
			delete(b.keyHooks, id)
			delete(b.mouseHooks, id)
			delete(b.watchers, id)
		})
		return nil
	})
}

func (b *Binding) Keyboard() hal.Keyboard     { return keyboard{b} }
func (b *Binding) Mouse() hal.Mouse           { return mouse{b} }
func (b *Binding) Screen() hal.Screen         { return screen{b} }
func (b *Binding) Hotkeys() hal.GlobalHotkeys { return hotkeys{b} }
func (b *Binding) Window() hal.Window         { return window{b} }

func (b *Binding) selfCheck(ctx context.Context) error {
	b.mu.Lock()
	d, opened := b.checkDelay, b.opened
	b.mu.Unlock()
	if !opened {
		return errs.ErrNotInitialized
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
