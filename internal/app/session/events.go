package session

import (
	"time"

	"github.com/osa030/pomobox/internal/app/playback"
	"github.com/osa030/pomobox/internal/app/session/state"
	"github.com/osa030/pomobox/internal/domain/media"
)

// EventType represents a session event type.
type EventType int

const (
	EventTick             EventType = iota // One second consumed
	EventPhaseChanged                      // Work and break swapped
	EventStateChanged                      // Paused or running
	EventMediaStarted                      // A ref was loaded for playback
	EventMediaStopped                      // Playback stopped, nothing loaded
	EventPlaybackMissing                   // A ref could not be played, no file on disk
	EventPlaybackFailed                    // The player rejected the loaded ref
	EventPlaylistChanged                   // Entries added, removed, reordered or resolved
	EventDownloadStarted                   // Worker picked up a URL
	EventDownloadProgress                  // Percent changed
	EventDownloadFinished                  // URL resolved to a local file
	EventDownloadFailed                    // URL left unresolved
	EventReset                             // Timer, playlists and positions cleared
	EventSettingsChanged                   // Durations, volume or window flag changed
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTick:
		return "tick"
	case EventPhaseChanged:
		return "phase_changed"
	case EventStateChanged:
		return "state_changed"
	case EventMediaStarted:
		return "media_started"
	case EventMediaStopped:
		return "media_stopped"
	case EventPlaybackMissing:
		return "playback_missing"
	case EventPlaybackFailed:
		return "playback_failed"
	case EventPlaylistChanged:
		return "playlist_changed"
	case EventDownloadStarted:
		return "download_started"
	case EventDownloadProgress:
		return "download_progress"
	case EventDownloadFinished:
		return "download_finished"
	case EventDownloadFailed:
		return "download_failed"
	case EventReset:
		return "reset"
	case EventSettingsChanged:
		return "settings_changed"
	default:
		return "unknown"
	}
}

// Event is emitted by the machine after each transition. Timer fields are
// always filled; the others depend on the type.
type Event struct {
	Type      EventType
	Phase     state.Phase
	Remaining int
	Paused    bool
	Media     media.Ref
	OffsetMs  int64
	Percent   int
	Message   string
	At        time.Time
}

// Status is a snapshot of the session.
type Status struct {
	Phase           state.Phase
	RunState        state.RunState
	Remaining       int
	WorkSeconds     int
	BreakSeconds    int
	Current         media.Ref
	Playback        playback.State
	Volume          int
	AlwaysOnTop     bool
	WorkPlaylist    []media.Ref
	BreakPlaylist   []media.Ref
	Message         string
	DownloadActive  string
	DownloadPending []string
}

// Settings carries optional changes applied together by UpdateSettings.
// Nil fields are left untouched.
type Settings struct {
	WorkSeconds  *int
	BreakSeconds *int
	Volume       *int
	VolumeDelta  *int
	AlwaysOnTop  *bool
}
