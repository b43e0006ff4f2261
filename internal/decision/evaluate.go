package decision

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"automacro/internal/vision"
)

// MatchInfo is how a recognition result looks inside a condition, for example
// `match.login.found && match.login.confidence > 0.9`.
type MatchInfo struct {
	Found      bool    `expr:"found"`
	Confidence float64 `expr:"confidence"`
	X          int     `expr:"x"`
	Y          int     `expr:"y"`
	W          int     `expr:"w"`
	H          int     `expr:"h"`
}

// Env is the environment conditions are compiled against.
type Env struct {
	Match     map[string]MatchInfo `expr:"match"`
	Vars      map[string]any       `expr:"vars"`
	State     string               `expr:"state"`
	ElapsedMS int64                `expr:"elapsed_ms"`
	Tick      int                  `expr:"tick"`
}

// Inputs is everything one evaluation sees besides the graph and the current
// state.
type Inputs struct {
	Matches map[string]vision.MatchResult
	Vars    map[string]any
	// Elapsed is the time spent in the current state.
	Elapsed time.Duration
	Tick    int
}

// Decision is the outcome of one evaluation. Rules and transitions are judged
// independently, so a single decision may carry both an action and a next
// state.
type Decision struct {
	Rule   string
	Action string
	Next   string
}

func (d Decision) NoOp() bool { return d.Action == "" && d.Next == "" }

func (d Decision) String() string {
	if d.NoOp() {
		return "no-op"
	}
	return fmt.Sprintf("rule=%s action=%s next=%s", d.Rule, d.Action, d.Next)
}

// Evaluate decides what to do in state current given inputs. It has no side
// effects. A condition that fails at runtime counts as false; such failures
// are returned joined alongside the decision made from the rest.
func (p *Program) Evaluate(current string, in Inputs) (Decision, error) {
	if _, ok := p.states[current]; !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownState, current)
	}
	env := p.env(current, in)

	var (
		d        Decision
		best     *compiledRule
		failures []error
	)
	for i := range p.rules {
		r := &p.rules[i]
		if r.State != "" && r.State != current {
			continue
		}
		ok, err := holds(r.program, env)
		if err != nil {
			failures = append(failures, fmt.Errorf("rule %s: %w", r.ID, err))
			continue
		}
		if !ok {
			continue
		}
		// Strictly greater keeps the earliest rule on ties.
		if best == nil || r.Priority > best.Priority {
			best = r
		}
	}
	if best != nil {
		d.Rule, d.Action = best.ID, best.Action
	}

	for _, t := range p.transitions[current] {
		ok, err := holds(t.program, env)
		if err != nil {
			failures = append(failures, fmt.Errorf("transition %s->%s: %w", t.From, t.To, err))
			continue
		}
		if ok {
			d.Next = t.To
			break
		}
	}
	return d, errors.Join(failures...)
}

func (p *Program) env(current string, in Inputs) Env {
	vars := make(map[string]any, len(p.graph.Variables)+len(in.Vars))
	maps.Copy(vars, p.graph.Variables)
	maps.Copy(vars, p.states[current].Variables)
	maps.Copy(vars, in.Vars)

	match := make(map[string]MatchInfo, len(p.graph.Templates))
	for _, t := range p.graph.Templates {
		match[t.ID] = MatchInfo{}
	}
	for id, m := range in.Matches {
		match[id] = MatchInfo{
			Found:      m.IsMatch,
			Confidence: m.Confidence,
			X:          m.Region.Min.X,
			Y:          m.Region.Min.Y,
			W:          m.Region.Dx(),
			H:          m.Region.Dy(),
		}
	}
	return Env{
		Match:     match,
		Vars:      vars,
		State:     current,
		ElapsedMS: in.Elapsed.Milliseconds(),
		Tick:      in.Tick,
	}
}

func holds(prog *vm.Program, env Env) (bool, error) {
	if prog == nil {
		return true, nil
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}
