// Package playback defines the media player collaborator used by the session.
package playback

// State represents the playback state.
type State int

const (
	StateIdle    State = iota // Nothing loaded
	StatePlaying              // Media loaded and playing
	StatePaused               // Media loaded, playback held
)

// StateOf reports the state of p given whether the session has media loaded.
func StateOf(p Player, loaded bool) State {
	switch {
	case !loaded:
		return StateIdle
	case p.IsPlaying():
		return StatePlaying
	default:
		return StatePaused
	}
}

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}
