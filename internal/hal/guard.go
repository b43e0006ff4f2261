package hal

import (
	"context"
	"image"
	"time"

	"automacro/internal/script"
	"automacro/internal/vision"
)

// The guarded wrappers are what callers hold. They forward to the binding only
// while the HAL is ready or running.

type guardedKeyboard struct{ h *HAL }

func (g *guardedKeyboard) Press(code uint16) error {
	if err := g.h.ready(); err != nil {
		return err
	}
	return g.h.binding.Keyboard().Press(code)
}

func (g *guardedKeyboard) Release(code uint16) error {
	if err := g.h.ready(); err != nil {
		return err
	}
	return g.h.binding.Keyboard().Release(code)
}

func (g *guardedKeyboard) Listen(fn KeyListener) (Hook, error) {
	if err := g.h.ready(); err != nil {
		return nil, err
	}
	return g.h.binding.Keyboard().Listen(fn)
}

type guardedMouse struct{ h *HAL }

func (g *guardedMouse) MoveTo(x, y int) error {
	if err := g.h.ready(); err != nil {
		return err
	}
	return g.h.binding.Mouse().MoveTo(x, y)
}

func (g *guardedMouse) Press(b script.Button) error {
	if err := g.h.ready(); err != nil {
		return err
	}
	return g.h.binding.Mouse().Press(b)
}

func (g *guardedMouse) Release(b script.Button) error {
	if err := g.h.ready(); err != nil {
		return err
	}
	return g.h.binding.Mouse().Release(b)
}

func (g *guardedMouse) Scroll(dx, dy int) error {
	if err := g.h.ready(); err != nil {
		return err
	}
	return g.h.binding.Mouse().Scroll(dx, dy)
}

func (g *guardedMouse) Position() (int, int, error) {
	if err := g.h.ready(); err != nil {
		return 0, 0, err
	}
	return g.h.binding.Mouse().Position()
}

func (g *guardedMouse) Listen(fn MouseListener) (Hook, error) {
	if err := g.h.ready(); err != nil {
		return nil, err
	}
	return g.h.binding.Mouse().Listen(fn)
}

type guardedScreen struct{ h *HAL }

// Bounds is empty until the HAL is initialized.
func (g *guardedScreen) Bounds() image.Rectangle {
	if g.h.ready() != nil {
		return image.Rectangle{}
	}
	return g.h.binding.Screen().Bounds()
}

func (g *guardedScreen) Capture(ctx context.Context, r image.Rectangle) (*image.RGBA, error) {
	if err := g.h.ready(); err != nil {
		return nil, err
	}
	return g.h.binding.Screen().Capture(ctx, r)
}

type guardedHotkeys struct{ h *HAL }

func (g *guardedHotkeys) Watch(fn func(code uint16, down bool)) (Hook, error) {
	if err := g.h.ready(); err != nil {
		return nil, err
	}
	return g.h.binding.Hotkeys().Watch(fn)
}

type guardedWindow struct{ h *HAL }

func (g *guardedWindow) ActiveTitle() (string, error) {
	if err := g.h.ready(); err != nil {
		return "", err
	}
	return g.h.binding.Window().ActiveTitle()
}

func (g *guardedWindow) Activate(title string) error {
	if err := g.h.ready(); err != nil {
		return err
	}
	return g.h.binding.Window().Activate(title)
}

type guardedImages struct {
	h   *HAL
	svc *vision.Service
}

func (g *guardedImages) FindImage(ctx context.Context, tpl *vision.Template, threshold float64, region *image.Rectangle) (vision.MatchResult, error) {
	if err := g.h.ready(); err != nil {
		return vision.MatchResult{}, err
	}
	return g.svc.FindImage(ctx, tpl, threshold, region)
}

func (g *guardedImages) WaitForImage(ctx context.Context, tpl *vision.Template, timeout time.Duration, threshold float64, poll time.Duration, region *image.Rectangle) (*vision.MatchResult, error) {
	if err := g.h.ready(); err != nil {
		return nil, err
	}
	return g.svc.WaitForImage(ctx, tpl, timeout, threshold, poll, region)
}
