package playback

// StartOffsetThresholdMs is the smallest resume offset a player honours;
// shorter offsets start from the beginning.
const StartOffsetThresholdMs = 500

// Player is the media player collaborator. Control calls are fire-and-forget
// from the session's point of view and must not block for long.
type Player interface {
	// Load prepares path for playback without starting it. Playback starts at
	// startOffsetMs when it exceeds StartOffsetThresholdMs.
	Load(path string, startOffsetMs int64) error
	Play() error
	Pause() error
	Stop() error
	SeekRelative(deltaMs int64) error
	ElapsedMs() int64
	SetVolume(percent int) error
	IsPlaying() bool
	// Events delivers EventFinished when loaded media ends on its own and
	// EventFailed when the player gives up on it.
	Events() <-chan Event
	Close() error
}

// WindowController is implemented by players that show a video window.
type WindowController interface {
	SetOnTop(onTop bool) error
}

// NopPlayer ignores every command. It is used when no player backend is
// available so the timer keeps working.
type NopPlayer struct{}

var _ Player = NopPlayer{}

func (NopPlayer) Load(string, int64) error { return nil }
func (NopPlayer) Play() error              { return nil }
func (NopPlayer) Pause() error             { return nil }
func (NopPlayer) Stop() error              { return nil }
func (NopPlayer) SeekRelative(int64) error { return nil }
func (NopPlayer) ElapsedMs() int64         { return 0 }
func (NopPlayer) SetVolume(int) error      { return nil }
func (NopPlayer) IsPlaying() bool          { return false }
func (NopPlayer) Events() <-chan Event     { return nil }
func (NopPlayer) Close() error             { return nil }
