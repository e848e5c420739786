// Package state provides the interval timer state.
package state

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrUnknownPhase is returned when a phase name cannot be parsed.
var ErrUnknownPhase = errors.New("unknown phase")

// Phase represents the timer mode.
type Phase int

const (
	PhaseWork  Phase = iota // Focused work interval
	PhaseBreak              // Rest interval
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseWork:
		return "work"
	case PhaseBreak:
		return "break"
	default:
		return "unknown"
	}
}

// Other returns the opposite phase.
func (p Phase) Other() Phase {
	if p == PhaseWork {
		return PhaseBreak
	}
	return PhaseWork
}

// ParsePhase parses "work" or "break" (case-insensitive).
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "work":
		return PhaseWork, nil
	case "break":
		return PhaseBreak, nil
	default:
		return PhaseWork, errors.Wrapf(ErrUnknownPhase, "%q", s)
	}
}

// RunState represents whether the timer is counting down.
type RunState int

const (
	Paused  RunState = iota // Timer frozen
	Running                 // Timer ticking
)

// String returns the string representation of the run state.
func (r RunState) String() string {
	switch r {
	case Paused:
		return "paused"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}
