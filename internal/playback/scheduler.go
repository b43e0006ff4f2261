package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"automacro/internal/errs"
	"automacro/internal/script"
)

const DefaultLoopDelay = 500 * time.Millisecond

// Advisor is consulted after every action. Returned steps are dispatched
// before the script continues.
type Advisor interface {
	Advise(ctx context.Context, vars map[string]any) ([]script.Action, error)
}

type PlayOptions struct {
	// Speed scales delays: 2 plays twice as fast. Must be positive.
	Speed float64
	// Repeat overrides the script's repeat count when positive.
	Repeat int
	// Loop overrides the script's loop flag when set.
	Loop         *bool
	AbortOnError bool
	// LoopDelay separates iterations; zero means the scheduler default.
	LoopDelay   time.Duration
	WakeDisplay bool
	Advisor     Advisor
}

func DefaultPlayOptions() PlayOptions { return PlayOptions{Speed: 1} }

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

type Option func(*Scheduler)

func WithLogger(l Logger) Option { return func(s *Scheduler) { s.logger = l } }

func WithLoopDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.loopDelay = d
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observers = append(s.observers, o) }
}

// Scheduler runs at most one playback at a time.
type Scheduler struct {
	dev       Device
	logger    Logger
	loopDelay time.Duration
	observers []Observer

	mu      sync.Mutex
	current *Handle
}

func NewScheduler(dev Device, opts ...Option) *Scheduler {
	s := &Scheduler{dev: dev, logger: noopLogger{}, loopDelay: DefaultLoopDelay}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Play validates sc and starts replaying a copy of it in the background. The
// playback ends when it completes, fails, is stopped, or ctx is done.
func (s *Scheduler) Play(ctx context.Context, sc *script.Script, opts PlayOptions) (*Handle, error) {
	if sc == nil {
		return nil, errs.Invalid("nil script")
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	if !(opts.Speed > 0) || math.IsInf(opts.Speed, 1) {
		return nil, errs.Invalid("speed must be positive, got %v", opts.Speed)
	}
	if opts.Repeat < 0 {
		return nil, errs.Invalid("negative repeat %d", opts.Repeat)
	}

	s.mu.Lock()
	if s.current != nil && s.current.State().Active() {
		cur := s.current
		s.mu.Unlock()
		return nil, errs.Conflict("playback %s is %s", cur.ID, cur.State())
	}

	release, err := s.dev.Acquire("playback")
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("playback: %w", err)
	}
	if opts.WakeDisplay {
		if err := s.dev.WakeDisplay(); err != nil {
			s.logger.Warn("wake display failed", "error", err)
		}
	}

	sc = sc.Clone()
	repeat := sc.RepeatCount
	if opts.Repeat > 0 {
		repeat = opts.Repeat
	}
	if repeat < 1 {
		repeat = 1
	}
	loop := sc.Loop
	if opts.Loop != nil {
		loop = *opts.Loop
	}
	loopDelay := opts.LoopDelay
	if loopDelay <= 0 {
		loopDelay = s.loopDelay
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ID:        uuid.NewString(),
		Script:    sc,
		speed:     opts.Speed,
		repeat:    repeat,
		loop:      loop,
		loopDelay: loopDelay,
		abort:     opts.AbortOnError,
		advisor:   opts.Advisor,
		dev:       s.dev,
		logger:    s.logger,
		observers: append([]Observer(nil), s.observers...),
		cancel:    cancel,
		wake:      make(chan struct{}),
		done:      make(chan struct{}),
		state:     Playing,
	}
	h.result.Started = time.Now()
	s.current = h
	s.mu.Unlock()

	s.logger.Info("playback started", "playback", h.ID, "script", sc.ID, "actions", len(sc.Actions),
		"speed", opts.Speed, "repeat", repeat, "loop", loop)
	h.emitState(Idle, Playing)
	go h.run(runCtx, release)
	return h, nil
}

// Current returns the most recent playback, or nil.
func (s *Scheduler) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// State is the state of the most recent playback, or Idle.
func (s *Scheduler) State() State {
	if h := s.Current(); h != nil {
		return h.State()
	}
	return Idle
}

func (s *Scheduler) active() (*Handle, error) {
	h := s.Current()
	if h == nil || !h.State().Active() {
		return nil, fmt.Errorf("%w: no active playback", errs.ErrNotFound)
	}
	return h, nil
}

func (s *Scheduler) Pause() error {
	h, err := s.active()
	if err != nil {
		return err
	}
	return h.Pause()
}

func (s *Scheduler) Resume() error {
	h, err := s.active()
	if err != nil {
		return err
	}
	return h.Resume()
}

func (s *Scheduler) Stop() error {
	h, err := s.active()
	if err != nil {
		return err
	}
	h.Stop()
	return nil
}

// Result summarizes a finished playback.
type Result struct {
	State      State
	Executed   int
	Failed     int
	Iterations int
	Errors     []error
	Err        error
	Started    time.Time
	Finished   time.Time
}

// Handle controls one playback.
type Handle struct {
	ID     string
	Script *script.Script

	speed     float64
	repeat    int
	loop      bool
	loopDelay time.Duration
	abort     bool
	advisor   Advisor
	dev       Device
	logger    Logger
	observers []Observer
	cancel    context.CancelFunc
	done      chan struct{}

	mu     sync.Mutex
	state  State
	wake   chan struct{}
	result Result
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed once the playback reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the playback ends or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns a snapshot; it is final once Done is closed.
func (h *Handle) Result() Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.result
	r.State = h.state
	r.Errors = append([]error(nil), h.result.Errors...)
	return r
}

// Pause takes effect before the next action is dispatched.
func (h *Handle) Pause() error {
	return h.control(Playing, Paused)
}

// Resume restarts the pending delay in full.
func (h *Handle) Resume() error {
	return h.control(Paused, Playing)
}

// Stop cancels the playback. The current action is never interrupted halfway.
func (h *Handle) Stop() {
	h.cancel()
}

func (h *Handle) control(from, to State) error {
	h.mu.Lock()
	if h.state != from {
		st := h.state
		h.mu.Unlock()
		return errs.Conflict("playback %s is %s, not %s", h.ID, st, from)
	}
	h.state = to
	close(h.wake)
	h.wake = make(chan struct{})
	h.mu.Unlock()

	h.logger.Debug("playback "+to.String(), "playback", h.ID)
	h.emitState(from, to)
	return nil
}

func (h *Handle) snapshot() (State, <-chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state, h.wake
}

// gate blocks while paused.
func (h *Handle) gate(ctx context.Context) error {
	for {
		st, wake := h.snapshot()
		if st != Paused {
			return nil
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// sleep waits d of script time. A pause during the wait discards the elapsed
// part; after resume the full delay starts over.
func (h *Handle) sleep(ctx context.Context, d time.Duration) error {
	for {
		if err := h.gate(ctx); err != nil {
			return err
		}
		if d <= 0 {
			return nil
		}
		_, wake := h.snapshot()
		t := time.NewTimer(d)
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-wake:
			t.Stop()
		}
	}
}

func (h *Handle) run(ctx context.Context, release func()) {
	err := h.iterate(ctx)
	release()

	final := Completed
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		final = Cancelled
		err = nil
	default:
		final = Failed
	}

	h.mu.Lock()
	from := h.state
	h.state = final
	h.result.Err = err
	h.result.Finished = time.Now()
	close(h.wake)
	h.wake = make(chan struct{})
	res := h.result
	h.mu.Unlock()

	h.cancel()
	h.logger.Info("playback finished", "playback", h.ID, "state", final.String(),
		"executed", res.Executed, "failed", res.Failed, "iterations", res.Iterations, "error", err)
	h.emitState(from, final)
	close(h.done)
}

func (h *Handle) iterate(ctx context.Context) error {
	vars := make(map[string]any, len(h.Script.Variables)+2)
	for k, v := range h.Script.Variables {
		vars[k] = v
	}
	for iter := 0; h.loop || iter < h.repeat; iter++ {
		if iter > 0 {
			if err := h.sleep(ctx, h.loopDelay); err != nil {
				return err
			}
		}
		for i, a := range h.Script.Actions {
			p := Progress{PlaybackID: h.ID, ScriptID: h.Script.ID, Iteration: iter, Index: i, Action: a}
			if err := h.step(ctx, p); err != nil {
				return err
			}
			if h.advisor == nil {
				continue
			}
			vars["iteration"], vars["index"] = iter, i
			advice, err := h.advisor.Advise(ctx, vars)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				h.logger.Warn("advisor failed", "playback", h.ID, "error", err)
				continue
			}
			for _, extra := range advice {
				ap := p
				ap.Advised, ap.Action = true, extra
				if err := h.step(ctx, ap); err != nil {
					return err
				}
			}
		}
		h.mu.Lock()
		h.result.Iterations++
		h.mu.Unlock()
	}
	return nil
}

// step waits for the action's delay and dispatches it. A returned error ends
// the playback.
func (h *Handle) step(ctx context.Context, p Progress) error {
	if err := h.sleep(ctx, scale(p.Action.Delay(), h.speed)); err != nil {
		return err
	}
	if err := h.gate(ctx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := Dispatch(h.dev, p.Action)
	h.mu.Lock()
	if err != nil {
		h.result.Failed++
		h.result.Errors = append(h.result.Errors, err)
	} else {
		h.result.Executed++
	}
	h.mu.Unlock()

	if err == nil {
		for _, o := range h.observers {
			o.OnAction(p)
		}
		return nil
	}
	h.logger.Warn("action failed", "playback", h.ID, "index", p.Index, "action", p.Action.String(), "error", err)
	for _, o := range h.observers {
		o.OnActionFailed(p, err)
	}
	if h.abort || errs.Fatal(err) || errors.Is(err, errs.ErrNotInitialized) || errors.Is(err, errs.ErrAlreadyDisposed) {
		return fmt.Errorf("action %d (%s): %w", p.Index, p.Action.Kind, err)
	}
	return nil
}

func (h *Handle) emitState(from, to State) {
	for _, o := range h.observers {
		o.OnState(h.ID, from, to)
	}
}

func scale(d time.Duration, speed float64) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(float64(d) / speed)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
