package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/pomobox/internal/app/download"
	"github.com/osa030/pomobox/internal/app/notification"
	"github.com/osa030/pomobox/internal/app/playback"
	"github.com/osa030/pomobox/internal/app/session/state"
	"github.com/osa030/pomobox/internal/domain/media"
	"github.com/osa030/pomobox/internal/infra/store"
)

var (
	ErrManagerClosed  = errors.New("session manager is closed")
	ErrAlreadyRunning = errors.New("session manager is already running")
)

// Saver persists the session record on shutdown.
type Saver interface {
	Save(rec store.Record) error
}

// Config represents session manager configuration.
type Config struct {
	TickInterval time.Duration
	EventBuffer  int
	SendTimeout  time.Duration
}

type command struct {
	name  string
	fn    func(m *Machine) error
	reply chan error
}

// Manager owns the session machine and drives it from a single loop. All
// exported methods are safe for concurrent use; they hand a command to the
// loop and wait for its result.
type Manager struct {
	machine      *Machine
	player       playback.Player
	queue        *download.Queue
	ticker       *loopTicker
	saver        Saver
	notification *notification.Manager[Event]

	commands chan command
	events   chan Event

	cancel  context.CancelFunc
	running atomic.Bool
	done    chan struct{}
}

// NewManager creates a session manager from a restored record. Downloads
// are handed to downloader one at a time.
func NewManager(
	cfg Config,
	rec store.Record,
	player playback.Player,
	downloader download.Downloader,
	saver Saver,
) (*Manager, error) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if player == nil {
		player = playback.NopPlayer{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		player:       player,
		queue:        download.NewQueue(ctx, downloader, cfg.EventBuffer),
		ticker:       newLoopTicker(cfg.TickInterval),
		saver:        saver,
		notification: notification.NewManager[Event](cfg.SendTimeout),
		commands:     make(chan command),
		events:       make(chan Event, cfg.EventBuffer),
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	machine, err := NewMachine(rec, Deps{
		Player:    player,
		Ticker:    m.ticker,
		Downloads: m.queue,
		Emit:      m.publish,
	})
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to create session machine")
	}
	m.machine = machine
	return m, nil
}

// Run drives the session until ctx is done, then saves the record. It may be
// called only once.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(m.done)

	dispatcherDone := make(chan struct{})
	go m.dispatch(dispatcherDone)

	zlog.Info().Msgf("session: loop started: tick_interval=%v", m.ticker.interval)

	playerEvents := m.player.Events()
	for {
		select {
		case <-ctx.Done():
			err := m.shutdown()
			close(m.events)
			<-dispatcherDone
			m.notification.Close()
			return err

		case cmd := <-m.commands:
			zlog.Debug().Msgf("session: command: name=%s", cmd.name)
			cmd.reply <- cmd.fn(m.machine)

		case <-m.ticker.C():
			m.machine.Tick()

		case ev, ok := <-playerEvents:
			if !ok {
				zlog.Warn().Msg("session: player event channel closed")
				playerEvents = nil
				continue
			}
			m.handlePlayerEvent(ev)

		case msg := <-m.queue.Messages():
			m.machine.HandleDownload(msg)
			if msg.Type == download.MessageDone {
				m.queue.Finish()
			}
		}
	}
}

// Done returns a channel closed when Run returned.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Subscribe registers stream for every future session event.
func (m *Manager) Subscribe(stream notification.Stream[Event]) string {
	return m.notification.Subscribe(stream)
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.notification.Unsubscribe(subscriptionID)
}

// NextSequenceNo reserves a sequence number, used to stamp the snapshot a
// new subscriber receives before live events.
func (m *Manager) NextSequenceNo() uint64 {
	return m.notification.NextSequenceNo()
}

// Start starts the timer and playback.
func (m *Manager) Start(ctx context.Context) error {
	return m.exec(ctx, "start", func(s *Machine) error {
		s.Start()
		return nil
	})
}

// Pause pauses the timer and playback.
func (m *Manager) Pause(ctx context.Context) error {
	return m.exec(ctx, "pause", func(s *Machine) error {
		s.Pause()
		return nil
	})
}

// Toggle flips between running and paused while media is loaded.
func (m *Manager) Toggle(ctx context.Context) error {
	return m.exec(ctx, "toggle", func(s *Machine) error {
		s.Toggle()
		return nil
	})
}

// Reset clears the session.
func (m *Manager) Reset(ctx context.Context) error {
	return m.exec(ctx, "reset", func(s *Machine) error {
		s.Reset()
		return nil
	})
}

// SwitchMode activates phase. The session must be paused.
func (m *Manager) SwitchMode(ctx context.Context, phase state.Phase) error {
	return m.exec(ctx, "switch_mode", func(s *Machine) error {
		return s.SwitchMode(phase)
	})
}

// SkipForward moves to the next item.
func (m *Manager) SkipForward(ctx context.Context) error {
	return m.exec(ctx, "skip_forward", func(s *Machine) error {
		s.SkipForward()
		return nil
	})
}

// SkipBack restarts the current item or moves to the previous one.
func (m *Manager) SkipBack(ctx context.Context) error {
	return m.exec(ctx, "skip_back", func(s *Machine) error {
		s.SkipBack()
		return nil
	})
}

// AddMedia appends a comma separated input to the playlist of phase.
func (m *Manager) AddMedia(ctx context.Context, phase state.Phase, input string, audioOnly bool) ([]media.Ref, error) {
	var refs []media.Ref
	err := m.exec(ctx, "add_media", func(s *Machine) error {
		var err error
		refs, err = s.AddMedia(phase, input, audioOnly)
		return err
	})
	return refs, err
}

// Shuffle permutes the playlist of phase.
func (m *Manager) Shuffle(ctx context.Context, phase state.Phase) error {
	return m.exec(ctx, "shuffle", func(s *Machine) error {
		s.Shuffle(phase)
		return nil
	})
}

// ResetPlaylist clears the playlist of phase.
func (m *Manager) ResetPlaylist(ctx context.Context, phase state.Phase) error {
	return m.exec(ctx, "reset_playlist", func(s *Machine) error {
		s.ResetPlaylist(phase)
		return nil
	})
}

// UpdateSettings applies the non-nil fields of settings.
func (m *Manager) UpdateSettings(ctx context.Context, settings Settings) error {
	return m.exec(ctx, "update_settings", func(s *Machine) error {
		return s.ApplySettings(settings)
	})
}

// SeekRelative moves the loaded media by deltaMs.
func (m *Manager) SeekRelative(ctx context.Context, deltaMs int64) error {
	return m.exec(ctx, "seek", func(s *Machine) error {
		s.SeekRelative(deltaMs)
		return nil
	})
}

// Status returns a snapshot including the download queue.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	var st Status
	err := m.exec(ctx, "status", func(s *Machine) error {
		st = s.Status()
		if job, ok := m.queue.Active(); ok {
			st.DownloadActive = job.URL
		}
		pending := m.queue.Pending()
		st.DownloadPending = make([]string, len(pending))
		for i, job := range pending {
			st.DownloadPending[i] = job.URL
		}
		return nil
	})
	return st, err
}

func (m *Manager) exec(ctx context.Context, name string, fn func(*Machine) error) error {
	cmd := command{name: name, fn: fn, reply: make(chan error, 1)}

	select {
	case m.commands <- cmd:
	case <-m.done:
		return ErrManagerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) handlePlayerEvent(ev playback.Event) {
	switch ev.Type {
	case playback.EventFinished:
		zlog.Debug().Msgf("session: media finished: path=%s", ev.Path)
		m.machine.MediaFinished(ev.Path)
	case playback.EventFailed:
		m.machine.MediaFailed(ev.Path)
	}
}

// publish is the machine's emit hook. It runs on the loop goroutine and
// drops the event when the dispatcher is behind.
func (m *Manager) publish(ev Event) {
	select {
	case m.events <- ev:
	default:
		zlog.Warn().Msgf("session: event dropped: type=%s", ev.Type)
	}
}

// dispatch fans events out to subscribers until the events channel closes.
func (m *Manager) dispatch(done chan<- struct{}) {
	defer close(done)
	for ev := range m.events {
		m.notification.Broadcast(ev)
	}
}

// shutdown stops the tick source, abandons downloads and saves the record.
func (m *Manager) shutdown() error {
	m.ticker.Disarm()
	m.cancel()

	rec := m.machine.Export()
	if m.saver == nil {
		return nil
	}
	if err := m.saver.Save(rec); err != nil {
		zlog.Error().Err(err).Msg("session: failed to save session record")
		return errors.Wrap(err, "failed to save session record")
	}
	zlog.Info().Msgf("session: saved: work_items=%d break_items=%d", len(rec.WorkPlaylist), len(rec.BreakPlaylist))
	return nil
}

// loopTicker is a Ticker whose channel is nil while disarmed, so a select in
// the loop simply never fires it.
type loopTicker struct {
	interval time.Duration
	ticker   *time.Ticker
}

func newLoopTicker(interval time.Duration) *loopTicker {
	return &loopTicker{interval: interval}
}

func (t *loopTicker) Arm() {
	if t.ticker != nil {
		return
	}
	t.ticker = time.NewTicker(t.interval)
}

func (t *loopTicker) Disarm() {
	if t.ticker == nil {
		return
	}
	t.ticker.Stop()
	t.ticker = nil
}

func (t *loopTicker) C() <-chan time.Time {
	if t.ticker == nil {
		return nil
	}
	return t.ticker.C
}
