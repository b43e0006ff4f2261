// Package capture records system-wide keyboard and mouse input into scripts.
//
// Hook callbacks only timestamp the event and hand it to a bounded queue; a
// per-session worker turns queued events into actions, computes delays, applies
// filters and notifies listeners. A full queue drops the event and counts it
// rather than stall the OS callback.
package capture

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"automacro/internal/errs"
	"automacro/internal/hal"
	"automacro/internal/script"
)

const DefaultQueueSize = 1000

// Source is the part of the HAL a recorder needs.
type Source interface {
	Keyboard() hal.Keyboard
	Mouse() hal.Mouse
	CheckPermissions() hal.PermissionStatus
	Acquire(owner string) (release func(), err error)
}

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Device is a class of input device; a recorder allows one session per class.
type Device uint8

const (
	DeviceKeyboard Device = 1 << iota
	DeviceMouse
)

func (d Device) String() string {
	switch d {
	case DeviceKeyboard:
		return "keyboard"
	case DeviceMouse:
		return "mouse"
	case DeviceKeyboard | DeviceMouse:
		return "keyboard+mouse"
	}
	return fmt.Sprintf("device(%d)", uint8(d))
}

type Options struct {
	Name     string
	Keyboard bool
	Mouse    bool
	// QueueSize bounds events waiting for the worker. Zero means DefaultQueueSize.
	QueueSize int
	// MouseMoveMinInterval drops moves that follow the previous recorded move
	// more closely than this.
	MouseMoveMinInterval time.Duration
	// IgnoreKey filters key transitions out of the recording, e.g. the keys of
	// the hotkey that stops it.
	IgnoreKey func(code uint16) bool
	// OnAction is called for every recorded action of this session only.
	OnAction func(script.Action)
}

func (o Options) devices() Device {
	var d Device
	if o.Keyboard {
		d |= DeviceKeyboard
	}
	if o.Mouse {
		d |= DeviceMouse
	}
	return d
}

type Recorder struct {
	src    Source
	logger Logger

	mu        sync.Mutex
	active    map[Device]*Session
	callbacks []func(script.Action)
}

func NewRecorder(src Source, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{src: src, logger: logger, active: make(map[Device]*Session)}
}

// OnAction registers a callback invoked for every action any session records.
// Callbacks run on the session worker; a panicking callback is logged and skipped.
func (r *Recorder) OnAction(fn func(script.Action)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// StartRecording installs one listener per requested device class. Starting a
// session for a device class that already has one fails with ErrConflict.
func (r *Recorder) StartRecording(opts Options) (*Session, error) {
	devices := opts.devices()
	if devices == 0 {
		return nil, errs.Invalid("recording needs at least one device")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Name == "" {
		opts.Name = "recording " + time.Now().Format("2006-01-02 15:04:05")
	}

	perms := r.src.CheckPermissions()
	if !perms.CanHook() {
		return nil, fmt.Errorf("%w: input monitoring=%s accessibility=%s",
			errs.ErrPermissionDenied, perms.InputMonitoring, perms.Accessibility)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range []Device{DeviceKeyboard, DeviceMouse} {
		if devices&d != 0 && r.active[d] != nil {
			return nil, errs.Conflict("a %s recording is already active (session %s)", d, r.active[d].id)
		}
	}

	release, err := r.src.Acquire("capture")
	if err != nil {
		return nil, err
	}
	s := newSession(opts, devices, r.logger, r.notify)
	if err := s.install(r.src); err != nil {
		s.closeHooks()
		release()
		return nil, err
	}
	s.release = release
	for _, d := range []Device{DeviceKeyboard, DeviceMouse} {
		if devices&d != 0 {
			r.active[d] = s
		}
	}
	go s.run()
	r.logger.Info("recording started", "session", s.id, "name", opts.Name, "devices", devices)
	return s, nil
}

// StopRecording unhooks the session, drains its queue and returns the script.
func (r *Recorder) StopRecording(s *Session) (*script.Script, error) {
	if s == nil {
		return nil, errs.Invalid("nil session")
	}
	r.mu.Lock()
	owned := false
	for d, cur := range r.active {
		if cur == s {
			delete(r.active, d)
			owned = true
		}
	}
	r.mu.Unlock()
	if !owned {
		return nil, errs.Invalid("session %s is not active", s.id)
	}

	sc := s.finish()
	r.logger.Info("recording stopped", "session", s.id, "actions", len(sc.Actions), "dropped", s.Dropped())
	return sc, nil
}

// Active returns the sessions currently recording.
func (r *Recorder) Active() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, s := range r.active {
		dup := false
		for _, o := range out {
			dup = dup || o == s
		}
		if !dup {
			out = append(out, s)
		}
	}
	return out
}

// StopAll ends every active session and discards their scripts.
func (r *Recorder) StopAll() {
	for _, s := range r.Active() {
		if _, err := r.StopRecording(s); err != nil {
			r.logger.Warn("stopping recording", "session", s.id, "error", err)
		}
	}
}

func (r *Recorder) notify(a script.Action) {
	r.mu.Lock()
	cbs := slices.Clone(r.callbacks)
	r.mu.Unlock()
	for _, fn := range cbs {
		r.safeCall(fn, a)
	}
}

func (r *Recorder) safeCall(fn func(script.Action), a script.Action) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("recorder callback panicked", "action", a.String(), "panic", p)
		}
	}()
	fn(a)
}
