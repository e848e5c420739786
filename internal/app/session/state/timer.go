package state

import "github.com/cockroachdb/errors"

// Default interval lengths in seconds.
const (
	DefaultWorkSeconds  = 25 * 60
	DefaultBreakSeconds = 5 * 60
)

// ErrInvalidDuration is returned for non-positive durations.
var ErrInvalidDuration = errors.New("duration must be positive")

// Timer tracks the phase, run state and the remaining seconds of each phase.
// The remaining value of the inactive phase is what a manual mode switch
// restores. Timer is not safe for concurrent use; it is owned by the session
// loop.
type Timer struct {
	phase     Phase
	run       RunState
	durations [2]int
	remaining [2]int
}

// NewTimer creates a paused timer in the work phase.
func NewTimer(workSeconds, breakSeconds int) (*Timer, error) {
	if workSeconds <= 0 || breakSeconds <= 0 {
		return nil, errors.Wrapf(ErrInvalidDuration, "work=%d break=%d", workSeconds, breakSeconds)
	}
	t := &Timer{
		durations: [2]int{PhaseWork: workSeconds, PhaseBreak: breakSeconds},
	}
	t.Reset()
	return t, nil
}

// Phase returns the active phase.
func (t *Timer) Phase() Phase {
	return t.phase
}

// RunState returns the run state.
func (t *Timer) RunState() RunState {
	return t.run
}

// IsPaused reports whether the timer is frozen.
func (t *Timer) IsPaused() bool {
	return t.run == Paused
}

// Remaining returns the remaining seconds of the active phase.
func (t *Timer) Remaining() int {
	return t.remaining[t.phase]
}

// RemainingFor returns the stored remaining seconds of a phase.
func (t *Timer) RemainingFor(p Phase) int {
	return t.remaining[p]
}

// Duration returns the configured length of a phase in seconds.
func (t *Timer) Duration(p Phase) int {
	return t.durations[p]
}

// SetRunning switches between paused and running.
// Returns false when the state did not change.
func (t *Timer) SetRunning(running bool) bool {
	next := Paused
	if running {
		next = Running
	}
	if t.run == next {
		return false
	}
	t.run = next
	return true
}

// Tick consumes one second of the active phase. When the remaining time
// underflows, the phase flips, the expired phase is refilled and the new
// phase starts at its full duration. flipped reports a phase change.
// Ticks while paused are ignored.
func (t *Timer) Tick() (flipped bool) {
	if t.run != Running {
		return false
	}
	t.remaining[t.phase]--
	if t.remaining[t.phase] >= 0 {
		return false
	}
	expired := t.phase
	t.remaining[expired] = t.durations[expired]
	t.phase = expired.Other()
	t.remaining[t.phase] = t.durations[t.phase]
	return true
}

// SwitchTo makes p the active phase, keeping its stored remaining value.
func (t *Timer) SwitchTo(p Phase) {
	t.phase = p
}

// SetDuration changes the length of a phase. When that phase is active and
// paused, its remaining time restarts at the new length; otherwise the stored
// remaining time is clamped so it never exceeds the new length.
func (t *Timer) SetDuration(p Phase, seconds int) error {
	if seconds <= 0 {
		return errors.Wrapf(ErrInvalidDuration, "%s=%d", p, seconds)
	}
	t.durations[p] = seconds
	if p == t.phase && t.run == Paused {
		t.remaining[p] = seconds
		return nil
	}
	if t.remaining[p] > seconds {
		t.remaining[p] = seconds
	}
	return nil
}

// Reset returns to a paused work phase with both phases at full length.
func (t *Timer) Reset() {
	t.phase = PhaseWork
	t.run = Paused
	t.remaining[PhaseWork] = t.durations[PhaseWork]
	t.remaining[PhaseBreak] = t.durations[PhaseBreak]
}
