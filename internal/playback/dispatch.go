package playback

import (
	"context"
	"errors"

	"automacro/internal/errs"
	"automacro/internal/hal"
	"automacro/internal/script"
)

// Device is the part of the HAL playback drives.
type Device interface {
	Keyboard() hal.Keyboard
	Mouse() hal.Mouse
	Acquire(owner string) (release func(), err error)
	WakeDisplay() error
}

// Dispatch injects a single action, ignoring its delay.
func Dispatch(dev Device, a script.Action) error {
	var err error
	switch a.Kind {
	case script.KindKeyDown:
		err = dev.Keyboard().Press(a.KeyCode)
	case script.KindKeyUp:
		err = dev.Keyboard().Release(a.KeyCode)
	case script.KindMouseMove:
		err = dev.Mouse().MoveTo(a.X, a.Y)
	case script.KindMouseDown:
		if err = dev.Mouse().MoveTo(a.X, a.Y); err == nil {
			err = dev.Mouse().Press(a.Button)
		}
	case script.KindMouseUp:
		if err = dev.Mouse().MoveTo(a.X, a.Y); err == nil {
			err = dev.Mouse().Release(a.Button)
		}
	case script.KindWheel:
		err = dev.Mouse().Scroll(a.ScrollX, a.ScrollY)
	case script.KindDelay:
		return nil
	default:
		return errs.Invalid("cannot dispatch %q", a.Kind)
	}
	if err != nil && !errors.Is(err, errs.ErrInjectionFailed) {
		return errs.Injection(string(a.Kind), err)
	}
	return err
}

// Executor runs a list of steps immediately, honouring each step's delay. It
// is what the decision engine uses outside of a playback.
type Executor struct {
	Device Device
	Speed  float64
}

func (x Executor) Execute(ctx context.Context, steps []script.Action) error {
	speed := x.Speed
	if speed <= 0 {
		speed = 1
	}
	for _, a := range steps {
		if err := sleepCtx(ctx, scale(a.Delay(), speed)); err != nil {
			return err
		}
		if err := Dispatch(x.Device, a); err != nil {
			return err
		}
	}
	return nil
}
