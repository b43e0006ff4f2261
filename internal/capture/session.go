package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"automacro/internal/hal"
	"automacro/internal/script"
)

// event is what a hook callback hands to the worker.
type event struct {
	key   *hal.KeyEvent
	mouse *hal.MouseEvent
}

func (e event) time() time.Time {
	if e.key != nil {
		return e.key.Time
	}
	return e.mouse.Time
}

// Session is one active recording. It owns its hooks and action buffer.
type Session struct {
	id      string
	opts    Options
	devices Device
	logger  Logger
	notify  func(script.Action)

	queue   chan event
	stop    chan struct{}
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Int64
	release func()

	hooksMu sync.Mutex
	hooks   []hal.Hook

	mu        sync.Mutex
	actions   []script.Action
	last      time.Time
	lastMove  time.Time
	startedAt time.Time
}

func newSession(opts Options, devices Device, logger Logger, notify func(script.Action)) *Session {
	return &Session{
		id:        uuid.NewString(),
		opts:      opts,
		devices:   devices,
		logger:    logger,
		notify:    notify,
		queue:     make(chan event, opts.QueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Name() string         { return s.opts.Name }
func (s *Session) Devices() Device      { return s.devices }
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Dropped counts events lost because the queue was full.
func (s *Session) Dropped() int64 { return s.dropped.Load() }

// Len is the number of actions recorded so far.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

func (s *Session) install(src Source) error {
	if s.devices&DeviceKeyboard != 0 {
		h, err := src.Keyboard().Listen(func(ev hal.KeyEvent) { s.enqueue(event{key: &ev}) })
		if err != nil {
			return err
		}
		s.addHook(h)
	}
	if s.devices&DeviceMouse != 0 {
		h, err := src.Mouse().Listen(func(ev hal.MouseEvent) { s.enqueue(event{mouse: &ev}) })
		if err != nil {
			return err
		}
		s.addHook(h)
	}
	return nil
}

func (s *Session) addHook(h hal.Hook) {
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, h)
	s.hooksMu.Unlock()
}

// enqueue runs on the OS callback context: no blocking, no logging, no panics.
func (s *Session) enqueue(ev event) {
	defer func() { _ = recover() }()
	if s.closed.Load() {
		return
	}
	if ev.key != nil && ev.key.Time.IsZero() {
		ev.key.Time = time.Now()
	}
	if ev.mouse != nil && ev.mouse.Time.IsZero() {
		ev.mouse.Time = time.Now()
	}
	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
	}
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case ev := <-s.queue:
			s.process(ev)
		case <-s.stop:
			for {
				select {
				case ev := <-s.queue:
					s.process(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) process(ev event) {
	a, ok := s.toAction(ev)
	if !ok {
		return
	}

	s.mu.Lock()
	ts := ev.time()
	if a.Kind == script.KindMouseMove {
		if s.opts.MouseMoveMinInterval > 0 && !s.lastMove.IsZero() && ts.Sub(s.lastMove) < s.opts.MouseMoveMinInterval {
			s.mu.Unlock()
			return
		}
		s.lastMove = ts
	}
	if !s.last.IsZero() {
		a.DelayMillis = max(0, ts.Sub(s.last).Round(time.Millisecond).Milliseconds())
	}
	s.last = ts
	a.Timestamp = ts
	s.actions = append(s.actions, a)
	s.mu.Unlock()

	if s.opts.OnAction != nil {
		s.safeCall(s.opts.OnAction, a)
	}
	if s.notify != nil {
		s.notify(a)
	}
}

func (s *Session) safeCall(fn func(script.Action), a script.Action) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("session callback panicked", "session", s.id, "action", a.String(), "panic", p)
		}
	}()
	fn(a)
}

func (s *Session) toAction(ev event) (script.Action, bool) {
	if k := ev.key; k != nil {
		if s.opts.IgnoreKey != nil && s.opts.IgnoreKey(k.Code) {
			return script.Action{}, false
		}
		if k.Down {
			return script.KeyDown(k.Code), true
		}
		return script.KeyUp(k.Code), true
	}
	m := ev.mouse
	switch m.Kind {
	case hal.MouseMoved:
		return script.MoveTo(m.X, m.Y), true
	case hal.MousePressed:
		return script.ButtonDown(m.Button, m.X, m.Y), true
	case hal.MouseReleased:
		return script.ButtonUp(m.Button, m.X, m.Y), true
	case hal.MouseWheeled:
		if m.ScrollX == 0 && m.ScrollY == 0 {
			return script.Action{}, false
		}
		return script.Scroll(m.ScrollX, m.ScrollY), true
	}
	return script.Action{}, false
}

func (s *Session) closeHooks() {
	s.hooksMu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.hooksMu.Unlock()
	for _, h := range hooks {
		if err := h.Close(); err != nil {
			s.logger.Warn("closing hook", "session", s.id, "error", err)
		}
	}
}

// finish unhooks, drains and builds the script. It runs once per session.
func (s *Session) finish() *script.Script {
	s.closeHooks()
	s.closed.Store(true)
	close(s.stop)
	<-s.done
	if s.release != nil {
		s.release()
	}

	sc := script.New(s.opts.Name)
	sc.CreatedAt = s.startedAt.UTC()
	s.mu.Lock()
	sc.Actions = append([]script.Action(nil), s.actions...)
	s.mu.Unlock()
	return sc
}
