// Package playback replays scripts through the HAL with their recorded timing,
// scaled by a speed factor, and supports pause, resume and stop while running.
package playback

import "fmt"

type State int

const (
	Idle State = iota
	Playing
	Paused
	Completed
	Cancelled
	Failed
)

var stateNames = [...]string{"idle", "playing", "paused", "completed", "cancelled", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Active reports whether a playback in this state still holds the scheduler.
func (s State) Active() bool { return s == Playing || s == Paused }

// Terminal reports whether the state is final.
func (s State) Terminal() bool { return s == Completed || s == Cancelled || s == Failed }
