package script

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"automacro/internal/errs"
)

// Script is an ordered sequence of actions plus replay metadata. A script is owned by
// one component at a time; hand copies across boundaries with Clone.
type Script struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Version     int            `json:"version"`
	RepeatCount int            `json:"repeat_count"`
	Loop        bool           `json:"loop"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Actions     []Action       `json:"actions"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// New returns an empty script with a fresh ID.
func New(name string) *Script {
	now := time.Now().UTC()
	return &Script{
		ID:          uuid.NewString(),
		Name:        name,
		Version:     1,
		RepeatCount: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Append adds actions in order, assigning IDs where missing.
func (s *Script) Append(actions ...Action) {
	for _, a := range actions {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		s.Actions = append(s.Actions, a)
	}
}

// Duration is the sum of all action delays for one iteration.
func (s *Script) Duration() time.Duration {
	var d time.Duration
	for _, a := range s.Actions {
		d += a.Delay()
	}
	return d
}

func (s *Script) Validate() error {
	if s == nil {
		return errs.Invalid("nil script")
	}
	if s.ID == "" {
		return errs.Invalid("script without id")
	}
	if s.RepeatCount < 0 {
		return errs.Invalid("script %s: negative repeat count", s.ID)
	}
	seen := make(map[string]struct{}, len(s.Actions))
	for i, a := range s.Actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("script %s action %d: %w", s.ID, i, err)
		}
		if a.ID == "" {
			continue
		}
		if _, dup := seen[a.ID]; dup {
			return errs.Invalid("script %s: duplicate action id %s", s.ID, a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy; action values are immutable so a slice copy suffices.
func (s *Script) Clone() *Script {
	if s == nil {
		return nil
	}
	c := *s
	c.Actions = slices.Clone(s.Actions)
	c.Variables = maps.Clone(s.Variables)
	return &c
}

// Action looks an action up by ID.
func (s *Script) Action(id string) (Action, bool) {
	for _, a := range s.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}
