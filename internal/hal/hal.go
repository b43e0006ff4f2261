package hal

import (
	"context"
	"fmt"
	"sync"

	"automacro/internal/errs"
	"automacro/internal/vision"
)

// Logger is the logging surface the HAL needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LevelSetter is implemented by loggers whose level can follow Options.LogLevel.
type LevelSetter interface {
	SetLevel(level string)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// HAL owns one platform binding and every hook or handle it hands out.
type HAL struct {
	binding Binding
	logger  Logger
	vopts   []vision.Option

	lifecycle sync.Mutex // serializes Initialize and Shutdown

	mu      sync.RWMutex
	state   State
	opts    Options
	opened  bool
	leases  map[string]int
	lastErr error

	subsMu      sync.RWMutex
	subscribers []Subscriber

	monitorStop context.CancelFunc
	monitorDone chan struct{}
	onHealth    func(HealthCheckResult)

	keyboard Keyboard
	mouse    Mouse
	screen   Screen
	hotkeys  GlobalHotkeys
	window   Window
	images   ImageRecognition
}

type Option func(*HAL)

func WithLogger(l Logger) Option {
	return func(h *HAL) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithVisionOptions configures the ImageRecognition sub-service.
func WithVisionOptions(opts ...vision.Option) Option {
	return func(h *HAL) { h.vopts = append(h.vopts, opts...) }
}

// WithHealthReports receives the result of every background health check.
func WithHealthReports(fn func(HealthCheckResult)) Option {
	return func(h *HAL) { h.onHealth = fn }
}

func New(b Binding, opts ...Option) *HAL {
	h := &HAL{
		binding: b,
		logger:  noopLogger{},
		leases:  make(map[string]int),
	}
	for _, o := range opts {
		o(h)
	}
	h.keyboard = &guardedKeyboard{h: h}
	h.mouse = &guardedMouse{h: h}
	h.screen = &guardedScreen{h: h}
	h.hotkeys = &guardedHotkeys{h: h}
	h.window = &guardedWindow{h: h}
	h.images = &guardedImages{h: h, svc: vision.NewService(h.screen, append(h.vopts, vision.WithLogger(h.logger))...)}
	return h
}

func (h *HAL) Platform() string { return h.binding.Name() }

func (h *HAL) Keyboard() Keyboard                 { return h.keyboard }
func (h *HAL) Mouse() Mouse                       { return h.mouse }
func (h *HAL) Screen() Screen                     { return h.screen }
func (h *HAL) GlobalHotkeys() GlobalHotkeys       { return h.hotkeys }
func (h *HAL) Window() Window                     { return h.window }
func (h *HAL) ImageRecognition() ImageRecognition { return h.images }

func (h *HAL) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Err is the error that put the HAL into StateError, if any.
func (h *HAL) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}

func (h *HAL) Options() Options {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.opts
}

func (h *HAL) Subscribe(s Subscriber) {
	h.subsMu.Lock()
	h.subscribers = append(h.subscribers, s)
	h.subsMu.Unlock()
}

// Initialize checks permissions and opens the binding. Calling it again while
// ready or running is a no-op; calling it after Shutdown fails with
// ErrAlreadyDisposed. A failed attempt leaves the HAL in StateError, from which
// Initialize may be retried.
func (h *HAL) Initialize(ctx context.Context, opts Options) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	switch h.State() {
	case StateReady, StateRunning:
		return nil
	case StateDisposed:
		return errs.ErrAlreadyDisposed
	}

	if opts.DefaultDelay <= 0 {
		opts.DefaultDelay = DefaultDelay
	}
	if ls, ok := h.logger.(LevelSetter); ok && opts.LogLevel != "" {
		ls.SetLevel(opts.LogLevel)
	}
	h.transition(StateInitializing, nil)

	perms := h.binding.Permissions()
	if !perms.CanHook() {
		err := fmt.Errorf("%w: %s requires accessibility=%s input_monitoring=%s",
			errs.ErrPermissionDenied, h.binding.Name(), perms.Accessibility, perms.InputMonitoring)
		h.transition(StateError, err)
		return err
	}
	if err := h.binding.Open(ctx, opts); err != nil {
		err = fmt.Errorf("open %s binding: %w", h.binding.Name(), err)
		h.transition(StateError, err)
		return err
	}

	h.mu.Lock()
	h.opts = opts
	h.opened = true
	h.lastErr = nil
	h.mu.Unlock()
	h.transition(StateReady, nil)
	h.logger.Info("hal initialized", "platform", h.binding.Name(),
		"default_delay", opts.DefaultDelay, "monitoring_interval", opts.MonitoringInterval)

	if opts.MonitoringInterval > 0 {
		h.startMonitor(opts.MonitoringInterval)
	}
	return nil
}

// Shutdown releases every hook and handle. It is idempotent and safe to call
// without a prior Initialize.
func (h *HAL) Shutdown() error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	if h.State() == StateDisposed {
		return nil
	}
	h.stopMonitor()

	h.mu.Lock()
	opened := h.opened
	h.opened = false
	clear(h.leases)
	h.mu.Unlock()

	var err error
	if opened {
		if err = h.binding.Close(); err != nil {
			h.logger.Warn("closing binding", "platform", h.binding.Name(), "error", err)
		}
	}
	h.transition(StateDisposed, nil)
	h.logger.Info("hal shut down", "platform", h.binding.Name())
	return err
}

func (h *HAL) CheckPermissions() PermissionStatus {
	return h.binding.Permissions()
}

func (h *HAL) RequestPermissions(req PermissionRequest) bool {
	granted := h.binding.RequestPermissions(req)
	h.logger.Info("permission request", "platform", h.binding.Name(), "granted", granted)
	return granted
}

// WakeDisplay wakes the display when the binding supports it.
func (h *HAL) WakeDisplay() error {
	if err := h.ready(); err != nil {
		return err
	}
	if w, ok := h.binding.(Waker); ok {
		return w.Wake()
	}
	return nil
}

// Acquire marks the HAL Running on behalf of owner (capture, playback, ...).
// Several owners may hold it at once; the HAL returns to Ready when the last
// release runs. The returned release func is idempotent.
func (h *HAL) Acquire(owner string) (release func(), err error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.leases[owner]++
	from, changed := h.setLocked(StateRunning, nil)
	h.mu.Unlock()
	if changed {
		h.notify(from, StateRunning, nil)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			if h.leases[owner] > 0 {
				h.leases[owner]--
				if h.leases[owner] == 0 {
					delete(h.leases, owner)
				}
			}
			var changed bool
			if len(h.leases) == 0 && h.state == StateRunning {
				_, changed = h.setLocked(StateReady, nil)
			}
			h.mu.Unlock()
			if changed {
				h.notify(StateRunning, StateReady, nil)
			}
		})
	}, nil
}

// ready reports whether sub-service calls are currently allowed.
func (h *HAL) ready() error {
	switch h.State() {
	case StateReady, StateRunning:
		return nil
	case StateDisposed:
		return errs.ErrAlreadyDisposed
	default:
		return errs.ErrNotInitialized
	}
}

func (h *HAL) transition(to State, cause error) {
	h.mu.Lock()
	from, changed := h.setLocked(to, cause)
	h.mu.Unlock()
	if changed {
		h.notify(from, to, cause)
	}
}

func (h *HAL) setLocked(to State, cause error) (State, bool) {
	from := h.state
	if from == to {
		return from, false
	}
	if !canTransition(from, to) {
		h.logger.Warn("ignored illegal hal transition", "from", from.String(), "to", to.String())
		return from, false
	}
	h.state = to
	if to == StateError {
		h.lastErr = cause
	}
	return from, true
}

func (h *HAL) notify(from, to State, cause error) {
	if cause != nil {
		h.logger.Error("hal state change", "from", from.String(), "to", to.String(), "error", cause)
	} else {
		h.logger.Debug("hal state change", "from", from.String(), "to", to.String())
	}

	h.subsMu.RLock()
	subs := append([]Subscriber(nil), h.subscribers...)
	h.subsMu.RUnlock()
	for _, s := range subs {
		s.OnTransition(from, to, cause)
	}
}
