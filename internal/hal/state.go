package hal

import "fmt"

type State uint8

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateRunning
	StateError
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	case StateDisposed:
		return "disposed"
	}
	return fmt.Sprintf("state(%d)", s)
}

// transitions lists the legal lifecycle edges.
var transitions = map[State][]State{
	StateUninitialized: {StateInitializing, StateDisposed},
	StateInitializing:  {StateReady, StateError, StateDisposed},
	StateReady:         {StateRunning, StateError, StateDisposed},
	StateRunning:       {StateReady, StateError, StateDisposed},
	StateError:         {StateInitializing, StateDisposed},
	StateDisposed:      nil,
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Subscriber is notified after every lifecycle change.
type Subscriber interface {
	OnTransition(from, to State, err error)
}

type SubscriberFunc func(from, to State, err error)

func (f SubscriberFunc) OnTransition(from, to State, err error) { f(from, to, err) }
