package decision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"automacro/internal/errs"
	"automacro/internal/script"
	"automacro/internal/vision"
)

const (
	DefaultInterval          = 500 * time.Millisecond
	DefaultPerceptionTimeout = 2 * time.Second
)

// Recognizer is the slice of image recognition the engine perceives through.
type Recognizer interface {
	FindImage(ctx context.Context, tpl *vision.Template, threshold float64, region *image.Rectangle) (vision.MatchResult, error)
}

// Executor performs an action's input steps.
type Executor interface {
	Execute(ctx context.Context, steps []script.Action) error
}

type ExecutorFunc func(ctx context.Context, steps []script.Action) error

func (f ExecutorFunc) Execute(ctx context.Context, steps []script.Action) error { return f(ctx, steps) }

type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Event is published after every step that did something.
type Event struct {
	Tick     int
	From     string
	To       string
	Rule     string
	Action   string
	Decision Decision
}

// Transitioned reports whether the step changed state.
func (e Event) Transitioned() bool { return e.To != "" && e.To != e.From }

type Subscriber func(Event)

type Option func(*Engine)

func WithLogger(l Logger) Option { return func(e *Engine) { e.logger = l } }

func WithExecutor(x Executor) Option { return func(e *Engine) { e.exec = x } }

func WithPerceptionTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// Engine runs a Program against live perception. The current state is only
// ever changed by Step.
type Engine struct {
	prog      *Program
	rec       Recognizer
	templates map[string]*vision.Template
	exec      Executor
	logger    Logger
	timeout   time.Duration
	now       func() time.Time

	mu        sync.Mutex
	current   string
	enteredAt time.Time
	tick      int
	vars      map[string]any
	subs      []Subscriber
}

// NewEngine binds a program to a recognizer and the decoded templates it
// names. Every template the program references must be present.
func NewEngine(prog *Program, rec Recognizer, templates map[string]*vision.Template, opts ...Option) (*Engine, error) {
	if prog == nil {
		return nil, errs.Invalid("nil program")
	}
	for _, ref := range prog.graph.Templates {
		if templates[ref.ID] == nil {
			return nil, fmt.Errorf("%w: template %q", errs.ErrNotFound, ref.ID)
		}
	}
	if len(prog.graph.Templates) > 0 && rec == nil {
		return nil, errs.Invalid("graph %q needs a recognizer", prog.Name())
	}
	e := &Engine{
		prog:      prog,
		rec:       rec,
		templates: templates,
		logger:    noopLogger{},
		timeout:   DefaultPerceptionTimeout,
		now:       time.Now,
		current:   prog.Initial(),
		vars:      map[string]any{},
	}
	for _, o := range opts {
		o(e)
	}
	e.enteredAt = e.now()
	return e, nil
}

func (e *Engine) Program() *Program { return e.prog }

// Current returns the current state.
func (e *Engine) Current() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prog.states[e.current]
}

// Vars returns a copy of the variables actions have set.
func (e *Engine) Vars() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.vars)
}

func (e *Engine) Subscribe(s Subscriber) {
	e.mu.Lock()
	e.subs = append(e.subs, s)
	e.mu.Unlock()
}

// Reset returns the engine to the initial state and clears variables.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.current = e.prog.Initial()
	e.enteredAt = e.now()
	e.tick = 0
	e.vars = map[string]any{}
	e.mu.Unlock()
}

// Step perceives, evaluates and applies one decision. Perception finishes (or
// times out) before Step returns, so anything acting on the decision sees a
// screen state no older than this call. Extra variables override the graph's.
func (e *Engine) Step(ctx context.Context, extra map[string]any) (Decision, error) {
	matches := e.perceive(ctx)
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	e.mu.Lock()
	vars := maps.Clone(e.vars)
	maps.Copy(vars, extra)
	from := e.current
	in := Inputs{
		Matches: matches,
		Vars:    vars,
		Elapsed: e.now().Sub(e.enteredAt),
		Tick:    e.tick,
	}
	d, evalErr := e.prog.Evaluate(from, in)
	e.tick++
	if d.Action != "" {
		maps.Copy(e.vars, e.prog.assignments(d.Action))
	}
	if d.Next != "" && d.Next != from {
		e.current = d.Next
		e.enteredAt = e.now()
	}
	ev := Event{Tick: in.Tick, From: from, To: d.Next, Rule: d.Rule, Action: d.Action, Decision: d}
	subs := append([]Subscriber(nil), e.subs...)
	e.mu.Unlock()

	if evalErr != nil {
		e.logger.Warn("condition evaluation failed", "state", from, "error", evalErr)
	}
	if !d.NoOp() {
		e.logger.Debug("decision", "tick", ev.Tick, "state", from, "rule", d.Rule, "action", d.Action, "next", d.Next)
		for _, s := range subs {
			s(ev)
		}
	}
	return d, evalErr
}

// perceive looks for every referenced template in parallel. A search that
// errors or runs out of time counts as not found.
func (e *Engine) perceive(ctx context.Context) map[string]vision.MatchResult {
	refs := e.prog.graph.Templates
	if len(refs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	results := make([]vision.MatchResult, len(refs))
	var g errgroup.Group
	for i, ref := range refs {
		g.Go(func() error {
			tpl := e.templates[ref.ID]
			m, err := e.rec.FindImage(ctx, tpl, threshold(ref, tpl), ref.Region.Rectangle())
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					e.logger.Debug("perception failed", "template", ref.ID, "error", err)
				}
				m = vision.MatchResult{TemplateID: ref.ID}
			}
			results[i] = m
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]vision.MatchResult, len(refs))
	for i, ref := range refs {
		out[ref.ID] = results[i]
	}
	return out
}

// threshold prefers the graph's value, then the template's own, then the
// package default.
func threshold(ref TemplateRef, tpl *vision.Template) float64 {
	switch {
	case ref.Threshold > 0:
		return ref.Threshold
	case tpl.Threshold > 0:
		return tpl.Threshold
	}
	return vision.DefaultThreshold
}

// Run steps every interval, executing chosen actions, until ctx ends or a
// final state is reached. Reaching a final state returns nil.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if e.Current().Final {
			return nil
		}
		d, _ := e.Step(ctx, nil)
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.Action != "" && e.exec != nil {
			steps, _ := e.prog.Steps(d.Action)
			if err := e.exec.Execute(ctx, steps); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.logger.Warn("action failed", "action", d.Action, "error", err)
			}
		}
		if e.Current().Final {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Advise steps the engine and returns the input steps of the chosen action,
// if any. It lets a playback consult the engine between actions.
func (e *Engine) Advise(ctx context.Context, vars map[string]any) ([]script.Action, error) {
	d, err := e.Step(ctx, vars)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if d.Action == "" {
		return nil, nil
	}
	steps, _ := e.prog.Steps(d.Action)
	if err != nil {
		e.logger.Debug("advice with partial evaluation", "error", err)
	}
	return steps, nil
}
