// Package decision turns perception into control flow. A Graph of states,
// guarded transitions and prioritized rules is compiled once; every reference
// is checked at compile time. Evaluate is a pure function of the compiled graph,
// the current state and the inputs. Engine owns the current state and is the
// only thing that changes it.
package decision

import (
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"

	"automacro/internal/errs"
	"automacro/internal/script"
)

var (
	ErrUnknownState  = fmt.Errorf("%w: unknown state", errs.ErrInvalidArgument)
	ErrUnknownAction = fmt.Errorf("%w: unknown action", errs.ErrInvalidArgument)
	ErrBadCondition  = fmt.Errorf("%w: bad condition", errs.ErrInvalidArgument)
)

// Graph is the declarative form, usually loaded from YAML.
type Graph struct {
	Name        string         `yaml:"name"`
	Initial     string         `yaml:"initial"`
	Variables   map[string]any `yaml:"variables"`
	Templates   []TemplateRef  `yaml:"templates"`
	States      []State        `yaml:"states"`
	Transitions []Transition   `yaml:"transitions"`
	Rules       []Rule         `yaml:"rules"`
	Actions     []ActionDef    `yaml:"actions"`
}

type State struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Variables map[string]any `yaml:"variables"`
	// Final states end Engine.Run.
	Final bool `yaml:"final"`
}

// Transition moves from one state to another when its condition holds. An
// empty condition always holds.
type Transition struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	When string `yaml:"when"`
}

// Rule asks for an action when its condition holds. Higher priority wins; among
// equal priorities the rule declared first wins. A rule with State set only
// applies while that state is current.
type Rule struct {
	ID       string `yaml:"id"`
	When     string `yaml:"when"`
	Action   string `yaml:"action"`
	Priority int    `yaml:"priority"`
	State    string `yaml:"state"`
}

// ActionDef is a named sequence of input steps, optionally updating variables.
type ActionDef struct {
	ID    string         `yaml:"id"`
	Steps []Step         `yaml:"steps"`
	Set   map[string]any `yaml:"set"`
}

type Step struct {
	Kind    script.Kind   `yaml:"kind"`
	Key     string        `yaml:"key"`
	Button  script.Button `yaml:"button"`
	X       int           `yaml:"x"`
	Y       int           `yaml:"y"`
	ScrollX int           `yaml:"scroll_x"`
	ScrollY int           `yaml:"scroll_y"`
	DelayMS int64         `yaml:"delay_ms"`
}

// TemplateRef names a template the engine looks for on every tick.
type TemplateRef struct {
	ID        string  `yaml:"id"`
	Threshold float64 `yaml:"threshold"`
	Region    *Rect   `yaml:"region"`
}

type Rect struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
	W int `yaml:"w"`
	H int `yaml:"h"`
}

func (r *Rect) Rectangle() *image.Rectangle {
	if r == nil {
		return nil
	}
	rect := image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
	return &rect
}

// LoadGraph reads and compiles a YAML graph file.
func LoadGraph(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading graph: %w", err)
	}
	return ParseGraph(data)
}

func ParseGraph(data []byte) (*Program, error) {
	var g Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("%w: parsing graph: %v", errs.ErrInvalidArgument, err)
	}
	return Compile(g)
}

type compiledRule struct {
	Rule
	order   int
	program *vm.Program
}

type compiledTransition struct {
	Transition
	program *vm.Program
}

// Program is a validated, compiled graph. It is immutable and safe to share.
type Program struct {
	graph       Graph
	states      map[string]State
	actions     map[string]compiledAction
	rules       []compiledRule
	transitions map[string][]compiledTransition
}

type compiledAction struct {
	def   ActionDef
	steps []script.Action
}

// Compile validates every reference and compiles every condition. All problems
// are reported together.
func Compile(g Graph) (*Program, error) {
	p := &Program{
		graph:       g,
		states:      make(map[string]State, len(g.States)),
		actions:     make(map[string]compiledAction, len(g.Actions)),
		transitions: make(map[string][]compiledTransition),
	}
	var problems []error

	if len(g.States) == 0 {
		problems = append(problems, errs.Invalid("graph %q has no states", g.Name))
	}
	for _, s := range g.States {
		if s.ID == "" {
			problems = append(problems, errs.Invalid("state without id"))
			continue
		}
		if _, dup := p.states[s.ID]; dup {
			problems = append(problems, errs.Invalid("duplicate state %q", s.ID))
		}
		p.states[s.ID] = s
	}
	if p.graph.Initial == "" && len(g.States) > 0 {
		p.graph.Initial = g.States[0].ID
	}
	if _, ok := p.states[p.graph.Initial]; !ok && len(g.States) > 0 {
		problems = append(problems, fmt.Errorf("%w: initial %q", ErrUnknownState, p.graph.Initial))
	}

	for _, a := range g.Actions {
		ca, err := compileAction(a)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		if _, dup := p.actions[a.ID]; dup {
			problems = append(problems, errs.Invalid("duplicate action %q", a.ID))
		}
		p.actions[a.ID] = ca
	}

	templates := make(map[string]bool, len(g.Templates))
	for _, t := range g.Templates {
		if t.ID == "" {
			problems = append(problems, errs.Invalid("template reference without id"))
		}
		if templates[t.ID] {
			problems = append(problems, errs.Invalid("duplicate template %q", t.ID))
		}
		templates[t.ID] = true
	}

	for i, t := range g.Transitions {
		if _, ok := p.states[t.From]; !ok {
			problems = append(problems, fmt.Errorf("%w: transition %d from %q", ErrUnknownState, i, t.From))
		}
		if _, ok := p.states[t.To]; !ok {
			problems = append(problems, fmt.Errorf("%w: transition %d to %q", ErrUnknownState, i, t.To))
		}
		prog, err := compileCondition(t.When)
		if err != nil {
			problems = append(problems, fmt.Errorf("transition %s->%s: %w", t.From, t.To, err))
			continue
		}
		p.transitions[t.From] = append(p.transitions[t.From], compiledTransition{Transition: t, program: prog})
	}

	ruleIDs := make(map[string]bool, len(g.Rules))
	for i, r := range g.Rules {
		if r.ID == "" {
			r.ID = fmt.Sprintf("rule-%d", i+1)
		}
		if ruleIDs[r.ID] {
			problems = append(problems, errs.Invalid("duplicate rule %q", r.ID))
		}
		ruleIDs[r.ID] = true
		if _, ok := p.actions[r.Action]; !ok {
			problems = append(problems, fmt.Errorf("%w: rule %s references %q", ErrUnknownAction, r.ID, r.Action))
		}
		if r.State != "" {
			if _, ok := p.states[r.State]; !ok {
				problems = append(problems, fmt.Errorf("%w: rule %s scoped to %q", ErrUnknownState, r.ID, r.State))
			}
		}
		prog, err := compileCondition(r.When)
		if err != nil {
			problems = append(problems, fmt.Errorf("rule %s: %w", r.ID, err))
			continue
		}
		p.rules = append(p.rules, compiledRule{Rule: r, order: i, program: prog})
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("graph %q: %w", g.Name, errors.Join(problems...))
	}
	return p, nil
}

func compileCondition(src string) (*vm.Program, error) {
	if src == "" {
		return nil, nil
	}
	prog, err := expr.Compile(src, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadCondition, src, err)
	}
	return prog, nil
}

func compileAction(a ActionDef) (compiledAction, error) {
	if a.ID == "" {
		return compiledAction{}, errs.Invalid("action without id")
	}
	ca := compiledAction{def: a}
	for i, st := range a.Steps {
		act, err := st.toAction()
		if err != nil {
			return compiledAction{}, fmt.Errorf("action %s step %d: %w", a.ID, i, err)
		}
		if err := act.Validate(); err != nil {
			return compiledAction{}, fmt.Errorf("action %s step %d: %w", a.ID, i, err)
		}
		ca.steps = append(ca.steps, act)
	}
	return ca, nil
}

func (st Step) toAction() (script.Action, error) {
	var a script.Action
	switch st.Kind {
	case script.KindKeyDown, script.KindKeyUp:
		code, ok := script.KeyCode(st.Key)
		if !ok {
			return a, errs.Invalid("unknown key %q", st.Key)
		}
		if st.Kind == script.KindKeyDown {
			a = script.KeyDown(code)
		} else {
			a = script.KeyUp(code)
		}
	case script.KindMouseMove:
		a = script.MoveTo(st.X, st.Y)
	case script.KindMouseDown:
		a = script.ButtonDown(st.Button, st.X, st.Y)
	case script.KindMouseUp:
		a = script.ButtonUp(st.Button, st.X, st.Y)
	case script.KindWheel:
		a = script.Scroll(st.ScrollX, st.ScrollY)
	case script.KindDelay:
		a = script.Wait(st.DelayMS)
	default:
		return a, errs.Invalid("unknown step kind %q", st.Kind)
	}
	return a.After(st.DelayMS), nil
}

func (p *Program) Name() string    { return p.graph.Name }
func (p *Program) Initial() string { return p.graph.Initial }

func (p *Program) State(id string) (State, bool) {
	s, ok := p.states[id]
	return s, ok
}

func (p *Program) Templates() []TemplateRef {
	return append([]TemplateRef(nil), p.graph.Templates...)
}

// Steps returns a copy of an action's input steps.
func (p *Program) Steps(actionID string) ([]script.Action, bool) {
	a, ok := p.actions[actionID]
	if !ok {
		return nil, false
	}
	return append([]script.Action(nil), a.steps...), true
}

func (p *Program) assignments(actionID string) map[string]any {
	return p.actions[actionID].def.Set
}
