package playback

import "automacro/internal/script"

// Progress locates an action inside a playback.
type Progress struct {
	PlaybackID string
	ScriptID   string
	Iteration  int
	Index      int
	// Advised is set for actions suggested by an Advisor rather than taken
	// from the script.
	Advised bool
	Action  script.Action
}

// Observer hears about a playback as it runs. Callbacks run on the playback
// goroutine and must not block.
type Observer interface {
	OnState(id string, from, to State)
	OnAction(p Progress)
	OnActionFailed(p Progress, err error)
}

// ObserverFuncs adapts optional functions to Observer.
type ObserverFuncs struct {
	State        func(id string, from, to State)
	Action       func(p Progress)
	ActionFailed func(p Progress, err error)
}

func (o ObserverFuncs) OnState(id string, from, to State) {
	if o.State != nil {
		o.State(id, from, to)
	}
}

func (o ObserverFuncs) OnAction(p Progress) {
	if o.Action != nil {
		o.Action(p)
	}
}

func (o ObserverFuncs) OnActionFailed(p Progress, err error) {
	if o.ActionFailed != nil {
		o.ActionFailed(p, err)
	}
}
