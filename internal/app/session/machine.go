// Package session provides the session state machine and the manager that
// drives it from a single loop.
package session

import (
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/pomobox/internal/app/download"
	"github.com/osa030/pomobox/internal/app/playback"
	"github.com/osa030/pomobox/internal/app/session/state"
	"github.com/osa030/pomobox/internal/domain/media"
	"github.com/osa030/pomobox/internal/domain/playlist"
	"github.com/osa030/pomobox/internal/infra/store"
)

// RestartThresholdMs is the elapsed time after which skipping back restarts
// the current item instead of moving to the previous one.
const RestartThresholdMs = 3000

// Volume bounds and the step used by relative adjustments.
const (
	MinVolume  = 0
	MaxVolume  = 100
	VolumeStep = 5
)

// SeekStepMs is the step used by relative seeks.
const SeekStepMs = 5000

var (
	ErrNotPaused       = errors.New("session is not paused")
	ErrEmptyInput      = errors.New("no media in input")
	ErrUnknownPhase    = state.ErrUnknownPhase
	ErrInvalidDuration = state.ErrInvalidDuration
)

// Ticker is the tick source. The machine arms it when the timer runs and
// disarms it when the timer stops.
type Ticker interface {
	Arm()
	Disarm()
}

// Enqueuer accepts remote refs for download.
type Enqueuer interface {
	Enqueue(url string, audioOnly bool) download.Job
}

// Deps are the collaborators of a Machine. Nil optional fields get no-op or
// default implementations.
type Deps struct {
	Player     playback.Player
	Ticker     Ticker
	Downloads  Enqueuer
	Emit       func(Event)
	FileExists func(path string) bool
	Rand       *rand.Rand
	Now        func() time.Time
}

// Machine is the session state machine. It is not safe for concurrent use;
// every method must be called from the goroutine that owns it.
type Machine struct {
	timer     *state.Timer
	playlists [2]*playlist.Playlist
	positions [2]playlist.Positions
	current   media.Ref

	volume              int
	alwaysOnTop         bool
	mainWindowGeometry  string
	videoWindowGeometry string
	message             string

	player     playback.Player
	ticker     Ticker
	downloads  Enqueuer
	emit       func(Event)
	fileExists func(string) bool
	rng        *rand.Rand
	now        func() time.Time
}

// NewMachine restores a machine from a session record. The timer starts
// paused in the work phase with nothing loaded.
func NewMachine(rec store.Record, deps Deps) (*Machine, error) {
	timer, err := state.NewTimer(rec.WorkDurationSeconds, rec.BreakDurationSeconds)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create timer")
	}

	m := &Machine{
		timer: timer,
		playlists: [2]*playlist.Playlist{
			state.PhaseWork:  playlist.New(rec.WorkPlaylist...),
			state.PhaseBreak: playlist.New(rec.BreakPlaylist...),
		},
		positions: [2]playlist.Positions{
			state.PhaseWork:  playlist.NewPositions(rec.WorkResumePositions),
			state.PhaseBreak: playlist.NewPositions(rec.BreakResumePositions),
		},
		volume:              clampVolume(rec.Volume),
		alwaysOnTop:         rec.AlwaysOnTop,
		mainWindowGeometry:  rec.MainWindowGeometry,
		videoWindowGeometry: rec.VideoWindowGeometry,

		player:     deps.Player,
		ticker:     deps.Ticker,
		downloads:  deps.Downloads,
		emit:       deps.Emit,
		fileExists: deps.FileExists,
		rng:        deps.Rand,
		now:        deps.Now,
	}
	if m.player == nil {
		m.player = playback.NopPlayer{}
	}
	if m.ticker == nil {
		m.ticker = nopTicker{}
	}
	if m.emit == nil {
		m.emit = func(Event) {}
	}
	if m.fileExists == nil {
		m.fileExists = isRegularFile
	}
	if m.downloads == nil {
		m.downloads = discardEnqueuer{}
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if m.now == nil {
		m.now = time.Now
	}

	m.logPlayerErr("set volume", m.player.SetVolume(m.volume))
	m.applyOnTop()
	return m, nil
}

// Start runs the timer and resumes the loaded media, or begins the first
// item of the active playlist when nothing is loaded.
func (m *Machine) Start() {
	if m.timer.SetRunning(true) {
		m.ticker.Arm()
		zlog.Info().Msgf("session: started: phase=%s remaining=%d", m.timer.Phase(), m.timer.Remaining())
		m.publish(Event{Type: EventStateChanged})
	}

	if m.current != "" {
		m.logPlayerErr("play", m.player.Play())
		return
	}
	m.playFirst()
}

// Pause freezes the timer and records the resume position of the playing
// media for the active phase.
func (m *Machine) Pause() {
	changed := m.timer.SetRunning(false)
	if changed {
		m.ticker.Disarm()
	}
	m.snapshot(m.timer.Phase())
	m.logPlayerErr("pause", m.player.Pause())

	if changed {
		zlog.Info().Msgf("session: paused: phase=%s remaining=%d", m.timer.Phase(), m.timer.Remaining())
		m.publish(Event{Type: EventStateChanged})
	}
}

// Toggle starts a paused session or pauses a running one. It does nothing
// while no media is loaded.
func (m *Machine) Toggle() {
	if m.current == "" {
		return
	}
	if m.timer.IsPaused() {
		m.Start()
		return
	}
	m.Pause()
}

// Tick consumes one second. On underflow the playing media's position is
// recorded for the expiring phase, the phase flips and the first item of the
// new phase's playlist is loaded.
func (m *Machine) Tick() {
	if m.timer.IsPaused() {
		return
	}
	expiring := m.timer.Phase()
	if !m.timer.Tick() {
		m.publish(Event{Type: EventTick})
		return
	}

	m.snapshot(expiring)
	zlog.Info().Msgf("session: phase changed: from=%s to=%s remaining=%d", expiring, m.timer.Phase(), m.timer.Remaining())
	m.publish(Event{Type: EventPhaseChanged})
	m.playFirst()
}

// Reset returns to a paused work phase and clears both playlists and both
// resume maps.
func (m *Machine) Reset() {
	m.ticker.Disarm()
	m.timer.Reset()
	m.stopMedia()
	for _, p := range []state.Phase{state.PhaseWork, state.PhaseBreak} {
		m.playlists[p].Clear()
		m.positions[p].Clear()
	}
	zlog.Info().Msg("session: reset")
	m.publish(Event{Type: EventReset})
}

// SwitchMode activates target while paused, restoring its stored remaining
// time and loading the first item of its playlist.
func (m *Machine) SwitchMode(target state.Phase) error {
	if !m.timer.IsPaused() {
		return errors.Wrapf(ErrNotPaused, "switch to %s", target)
	}
	m.stopMedia()
	m.timer.SwitchTo(target)
	zlog.Info().Msgf("session: mode switched: phase=%s remaining=%d", target, m.timer.Remaining())
	m.publish(Event{Type: EventPhaseChanged})
	m.playFirst()
	return nil
}

// SkipForward forgets the current item's position and loads the next one,
// stopping at the end of the playlist.
func (m *Machine) SkipForward() {
	pl, ok := m.activeCurrent()
	if !ok {
		return
	}
	m.activePositions().Forget(m.current)
	m.advance(pl)
}

// SkipBack restarts the current item when more than RestartThresholdMs have
// elapsed. Otherwise it forgets the current item's position and loads the
// previous one, or restarts the current item when it is the first.
func (m *Machine) SkipBack() {
	pl, ok := m.activeCurrent()
	if !ok {
		return
	}
	cur := m.current
	positions := m.activePositions()
	positions.Forget(cur)

	if m.player.ElapsedMs() > RestartThresholdMs {
		m.play(cur)
		return
	}
	if prev, ok := pl.Previous(cur); ok {
		m.play(prev)
		return
	}
	m.play(cur)
}

// MediaFinished handles the natural end of path. Events for anything other
// than the loaded item are stale and ignored.
func (m *Machine) MediaFinished(path media.Ref) {
	if path != "" && path != m.current {
		zlog.Debug().Msgf("session: stale finished event: path=%s current=%s", path, m.current)
		return
	}
	pl, ok := m.activeCurrent()
	if !ok {
		return
	}
	m.activePositions().Forget(m.current)
	m.advance(pl)
}

// MediaFailed handles a loaded item the player could not play. The item is
// unloaded and the playlist does not advance.
func (m *Machine) MediaFailed(path media.Ref) {
	if path == "" || path != m.current {
		zlog.Debug().Msgf("session: stale failed event: path=%s current=%s", path, m.current)
		return
	}
	zlog.Warn().Msgf("session: media unplayable: path=%s", path)
	m.publish(Event{Type: EventPlaybackFailed, Media: path})
	m.stopMedia()
}

// AddMedia appends every entry of a comma separated input to the playlist of
// phase. Remote entries are queued for download with the given flag.
func (m *Machine) AddMedia(phase state.Phase, input string, audioOnly bool) ([]media.Ref, error) {
	refs := media.SplitInput(input)
	if len(refs) == 0 {
		return nil, ErrEmptyInput
	}
	m.playlists[phase].Append(refs...)
	for _, ref := range refs {
		if media.IsRemote(ref) {
			job := m.downloads.Enqueue(ref, audioOnly)
			zlog.Info().Msgf("session: queued download: job_id=%s url=%s audio_only=%t", job.ID, ref, audioOnly)
		}
	}
	zlog.Info().Msgf("session: media added: phase=%s count=%d", phase, len(refs))
	m.publish(Event{Type: EventPlaylistChanged})
	return refs, nil
}

// Shuffle permutes the playlist of phase. The loaded item keeps playing.
func (m *Machine) Shuffle(phase state.Phase) {
	m.playlists[phase].Shuffle(m.rng)
	m.publish(Event{Type: EventPlaylistChanged})
}

// ResetPlaylist clears the playlist and the resume map of phase, stopping
// playback when the loaded item belongs to it and phase is active.
func (m *Machine) ResetPlaylist(phase state.Phase) {
	pl := m.playlists[phase]
	if m.timer.Phase() == phase && m.current != "" && pl.Contains(m.current) {
		m.stopMedia()
	}
	pl.Clear()
	m.positions[phase].Clear()
	zlog.Info().Msgf("session: playlist cleared: phase=%s", phase)
	m.publish(Event{Type: EventPlaylistChanged})
}

// SetDuration changes the configured length of phase.
func (m *Machine) SetDuration(phase state.Phase, seconds int) error {
	if err := m.timer.SetDuration(phase, seconds); err != nil {
		return err
	}
	m.publish(Event{Type: EventSettingsChanged})
	return nil
}

// SetVolume sets the playback volume, clamped to [MinVolume, MaxVolume].
func (m *Machine) SetVolume(percent int) {
	m.volume = clampVolume(percent)
	m.logPlayerErr("set volume", m.player.SetVolume(m.volume))
	m.publish(Event{Type: EventSettingsChanged})
}

// AdjustVolume changes the volume by delta.
func (m *Machine) AdjustVolume(delta int) {
	m.SetVolume(m.volume + delta)
}

// SetAlwaysOnTop stores the flag and forwards it to a player with a window.
func (m *Machine) SetAlwaysOnTop(onTop bool) {
	m.alwaysOnTop = onTop
	m.applyOnTop()
	m.publish(Event{Type: EventSettingsChanged})
}

// ApplySettings validates every change in s before applying any of them.
func (m *Machine) ApplySettings(s Settings) error {
	if s.WorkSeconds != nil && *s.WorkSeconds <= 0 {
		return errors.Wrapf(ErrInvalidDuration, "work=%d", *s.WorkSeconds)
	}
	if s.BreakSeconds != nil && *s.BreakSeconds <= 0 {
		return errors.Wrapf(ErrInvalidDuration, "break=%d", *s.BreakSeconds)
	}

	if s.WorkSeconds != nil {
		if err := m.SetDuration(state.PhaseWork, *s.WorkSeconds); err != nil {
			return err
		}
	}
	if s.BreakSeconds != nil {
		if err := m.SetDuration(state.PhaseBreak, *s.BreakSeconds); err != nil {
			return err
		}
	}
	if s.Volume != nil {
		m.SetVolume(*s.Volume)
	}
	if s.VolumeDelta != nil {
		m.AdjustVolume(*s.VolumeDelta)
	}
	if s.AlwaysOnTop != nil {
		m.SetAlwaysOnTop(*s.AlwaysOnTop)
	}
	return nil
}

// SeekRelative moves the loaded media by deltaMs.
func (m *Machine) SeekRelative(deltaMs int64) {
	if m.current == "" {
		return
	}
	m.logPlayerErr("seek", m.player.SeekRelative(deltaMs))
}

// HandleDownload applies a download worker message. A finished download
// rewrites the first entry equal to its URL, scanning the work playlist
// before the break playlist. A failed one leaves the entry untouched.
func (m *Machine) HandleDownload(msg download.Message) {
	switch msg.Type {
	case download.MessageStarted:
		m.message = fmt.Sprintf("Downloading %s...", msg.Job.URL)
		m.publish(Event{Type: EventDownloadStarted, Media: msg.Job.URL, Message: m.message})

	case download.MessageProgress:
		m.message = fmt.Sprintf("Downloading... %d%%", msg.Percent)
		m.publish(Event{Type: EventDownloadProgress, Media: msg.Job.URL, Percent: msg.Percent, Message: m.message})

	case download.MessageDone:
		if msg.Err != nil || msg.Result.Path == "" {
			m.message = fmt.Sprintf("Download failed for %s", msg.Job.URL)
			zlog.Warn().Err(msg.Err).Msgf("session: download failed: job_id=%s url=%s", msg.Job.ID, msg.Job.URL)
			m.publish(Event{Type: EventDownloadFailed, Media: msg.Job.URL, Message: m.message})
			return
		}

		title := msg.Result.Title
		if title == "" {
			title = media.DisplayName(msg.Result.Path)
		}
		m.message = fmt.Sprintf("Downloaded '%s'", title)

		for _, p := range []state.Phase{state.PhaseWork, state.PhaseBreak} {
			if m.playlists[p].Replace(msg.Job.URL, msg.Result.Path) {
				zlog.Info().Msgf("session: download resolved: phase=%s url=%s path=%s", p, msg.Job.URL, msg.Result.Path)
				break
			}
		}
		m.publish(Event{Type: EventDownloadFinished, Media: msg.Result.Path, Percent: 100, Message: m.message})
		m.publish(Event{Type: EventPlaylistChanged})
	}
}

// Status returns a snapshot of the machine.
func (m *Machine) Status() Status {
	return Status{
		Phase:         m.timer.Phase(),
		RunState:      m.timer.RunState(),
		Remaining:     m.timer.Remaining(),
		WorkSeconds:   m.timer.Duration(state.PhaseWork),
		BreakSeconds:  m.timer.Duration(state.PhaseBreak),
		Current:       m.current,
		Playback:      playback.StateOf(m.player, m.current != ""),
		Volume:        m.volume,
		AlwaysOnTop:   m.alwaysOnTop,
		WorkPlaylist:  m.playlists[state.PhaseWork].Items(),
		BreakPlaylist: m.playlists[state.PhaseBreak].Items(),
		Message:       m.message,
	}
}

// ResumePosition returns the stored offset of ref in phase.
func (m *Machine) ResumePosition(phase state.Phase, ref media.Ref) int64 {
	return m.positions[phase].Get(ref)
}

// Export returns the session record to persist.
func (m *Machine) Export() store.Record {
	return store.Record{
		WorkDurationSeconds:  m.timer.Duration(state.PhaseWork),
		BreakDurationSeconds: m.timer.Duration(state.PhaseBreak),
		WorkPlaylist:         m.playlists[state.PhaseWork].Items(),
		BreakPlaylist:        m.playlists[state.PhaseBreak].Items(),
		WorkResumePositions:  m.positions[state.PhaseWork].Map(),
		BreakResumePositions: m.positions[state.PhaseBreak].Map(),
		Volume:               m.volume,
		AlwaysOnTop:          m.alwaysOnTop,
		MainWindowGeometry:   m.mainWindowGeometry,
		VideoWindowGeometry:  m.videoWindowGeometry,
	}
}

// play loads ref with its stored offset and starts it when the timer runs.
// A ref without a file on disk is reported and otherwise ignored.
func (m *Machine) play(ref media.Ref) {
	if !m.fileExists(ref) {
		zlog.Warn().Msgf("session: media not found: path=%s", ref)
		m.publish(Event{Type: EventPlaybackMissing, Media: ref})
		return
	}

	offset := m.activePositions().Get(ref)
	m.current = ref
	if err := m.player.Load(ref, offset); err != nil {
		zlog.Error().Err(err).Msgf("session: failed to load media: path=%s", ref)
	}
	if !m.timer.IsPaused() {
		m.logPlayerErr("play", m.player.Play())
	}
	zlog.Debug().Msgf("session: media loaded: path=%s offset_ms=%d video=%t", ref, offset, media.IsVideo(ref))
	m.publish(Event{Type: EventMediaStarted, Media: ref, OffsetMs: offset})
}

// playFirst loads the first item of the active playlist, or stops playback
// when the playlist is empty.
func (m *Machine) playFirst() {
	first, ok := m.activePlaylist().First()
	if !ok {
		m.stopMedia()
		return
	}
	m.play(first)
}

// advance loads the item after the current one, or stops at the end.
func (m *Machine) advance(pl *playlist.Playlist) {
	if next, ok := pl.Next(m.current); ok {
		m.play(next)
		return
	}
	m.stopMedia()
}

func (m *Machine) stopMedia() {
	m.logPlayerErr("stop", m.player.Stop())
	if m.current == "" {
		return
	}
	prev := m.current
	m.current = ""
	m.publish(Event{Type: EventMediaStopped, Media: prev})
}

// snapshot records the playing media's elapsed time for phase.
func (m *Machine) snapshot(phase state.Phase) {
	if m.current == "" || !m.player.IsPlaying() {
		return
	}
	elapsed := m.player.ElapsedMs()
	m.positions[phase].Set(m.current, elapsed)
	zlog.Debug().Msgf("session: resume position recorded: phase=%s path=%s offset_ms=%d", phase, m.current, elapsed)
}

// activeCurrent returns the active playlist when it holds the loaded item.
func (m *Machine) activeCurrent() (*playlist.Playlist, bool) {
	pl := m.activePlaylist()
	if m.current == "" || !pl.Contains(m.current) {
		return nil, false
	}
	return pl, true
}

func (m *Machine) activePlaylist() *playlist.Playlist {
	return m.playlists[m.timer.Phase()]
}

func (m *Machine) activePositions() playlist.Positions {
	return m.positions[m.timer.Phase()]
}

func (m *Machine) applyOnTop() {
	if wc, ok := m.player.(playback.WindowController); ok {
		m.logPlayerErr("set on top", wc.SetOnTop(m.alwaysOnTop))
	}
}

func (m *Machine) publish(ev Event) {
	ev.Phase = m.timer.Phase()
	ev.Remaining = m.timer.Remaining()
	ev.Paused = m.timer.IsPaused()
	ev.At = m.now()
	m.emit(ev)
}

func (m *Machine) logPlayerErr(op string, err error) {
	if err != nil {
		zlog.Warn().Err(err).Msgf("session: player %s failed", op)
	}
}

func clampVolume(v int) int {
	if v < MinVolume {
		return MinVolume
	}
	if v > MaxVolume {
		return MaxVolume
	}
	return v
}

func isRegularFile(path string) bool {
	if path == "" || media.IsRemote(path) {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

type nopTicker struct{}

func (nopTicker) Arm()    {}
func (nopTicker) Disarm() {}

// discardEnqueuer leaves remote refs unresolved.
type discardEnqueuer struct{}

func (discardEnqueuer) Enqueue(url string, audioOnly bool) download.Job {
	return download.Job{URL: url, AudioOnly: audioOnly}
}
