// Package mpv provides the playback collaborator backed by an mpv process
// controlled over its JSON IPC socket.
package mpv

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/DexterLB/mpvipc"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/pomobox/internal/app/playback"
)

var (
	ErrNotConnected = errors.New("mpv is not connected")
	ErrTimeout      = errors.New("mpv did not answer in time")
)

const (
	defaultBinary      = "mpv"
	defaultDialTimeout = 5 * time.Second
	defaultCallTimeout = 2 * time.Second
)

// end-file reasons reported by mpv.
const (
	reasonEOF   = "eof"
	reasonError = "error"
)

// Config represents mpv process configuration.
type Config struct {
	Binary      string
	SocketPath  string
	ExtraArgs   []string
	DialTimeout time.Duration
	CallTimeout time.Duration
}

// Player implements playback.Player and playback.WindowController.
type Player struct {
	conn        *mpvipc.Connection
	proc        *exec.Cmd
	callTimeout time.Duration

	stateMu sync.Mutex
	loaded  string
	playing bool

	events     chan playback.Event
	stopListen chan struct{}
	connClosed chan struct{}
	closed     chan struct{}
	closeOnce  sync.Once
}

var (
	_ playback.Player           = (*Player)(nil)
	_ playback.WindowController = (*Player)(nil)
)

// Start launches an idle mpv process and connects to its IPC socket.
func Start(ctx context.Context, cfg Config) (*Player, error) {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	binary, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return nil, errors.Wrapf(err, "mpv binary %q not found", cfg.Binary)
	}
	_ = os.Remove(cfg.SocketPath)

	args := append([]string{
		"--idle=yes",
		"--no-terminal",
		"--force-window=no",
		"--keep-open=no",
		"--input-ipc-server=" + cfg.SocketPath,
	}, cfg.ExtraArgs...)
	proc := exec.Command(binary, args...)
	if err := proc.Start(); err != nil {
		return nil, errors.Wrap(err, "failed to start mpv")
	}
	zlog.Info().Msgf("mpv: started: pid=%d socket=%s", proc.Process.Pid, cfg.SocketPath)

	conn, err := dial(ctx, cfg.SocketPath, cfg.DialTimeout)
	if err != nil {
		_ = proc.Process.Kill()
		_ = proc.Wait()
		return nil, err
	}

	p := NewPlayer(conn, cfg.CallTimeout)
	p.proc = proc
	return p, nil
}

// Connect attaches to an mpv instance that already listens on socketPath.
func Connect(socketPath string, callTimeout time.Duration) (*Player, error) {
	conn := mpvipc.NewConnection(socketPath)
	if err := conn.Open(); err != nil {
		return nil, errors.Wrapf(err, "failed to connect to mpv socket %s", socketPath)
	}
	return NewPlayer(conn, callTimeout), nil
}

// dial retries until mpv has created its socket.
func dial(ctx context.Context, socketPath string, timeout time.Duration) (*mpvipc.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		conn := mpvipc.NewConnection(socketPath)
		err := conn.Open()
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(err, "failed to connect to mpv socket %s", socketPath)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// NewPlayer wraps an open IPC connection.
func NewPlayer(conn *mpvipc.Connection, callTimeout time.Duration) *Player {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	p := &Player{
		conn:        conn,
		callTimeout: callTimeout,
		events:      make(chan playback.Event, 8),
		stopListen:  make(chan struct{}),
		connClosed:  make(chan struct{}),
		closed:      make(chan struct{}),
	}
	events := make(chan *mpvipc.Event)
	go conn.ListenForEvents(events, p.stopListen)
	go p.eventLoop(events)
	return p
}

// Load replaces the current file and holds it paused at startOffsetMs.
func (p *Player) Load(path string, startOffsetMs int64) error {
	start := "none"
	if startOffsetMs > playback.StartOffsetThresholdMs {
		start = strconv.FormatFloat(float64(startOffsetMs)/1000, 'f', 3, 64)
	}
	if err := p.set("pause", true); err != nil {
		return err
	}
	if err := p.set("start", start); err != nil {
		return err
	}
	if _, err := p.call("loadfile", path, "replace"); err != nil {
		return err
	}

	p.stateMu.Lock()
	p.loaded = path
	p.playing = false
	p.stateMu.Unlock()
	return nil
}

// Play resumes the loaded file.
func (p *Player) Play() error {
	p.stateMu.Lock()
	loaded := p.loaded != ""
	p.stateMu.Unlock()
	if !loaded {
		return nil
	}
	if err := p.set("pause", false); err != nil {
		return err
	}
	p.setPlaying(true)
	return nil
}

// Pause holds playback.
func (p *Player) Pause() error {
	if err := p.set("pause", true); err != nil {
		return err
	}
	p.setPlaying(false)
	return nil
}

// Stop unloads the current file.
func (p *Player) Stop() error {
	p.stateMu.Lock()
	p.loaded = ""
	p.playing = false
	p.stateMu.Unlock()

	_, err := p.call("stop")
	return err
}

// SeekRelative moves the playback position by deltaMs.
func (p *Player) SeekRelative(deltaMs int64) error {
	_, err := p.call("seek", float64(deltaMs)/1000, "relative")
	return err
}

// ElapsedMs returns the playback position, 0 when nothing is loaded.
func (p *Player) ElapsedMs() int64 {
	data, err := p.do("get time-pos", func() (any, error) {
		return p.conn.Get("time-pos")
	})
	if err != nil {
		return 0
	}
	seconds, ok := data.(float64)
	if !ok {
		return 0
	}
	return int64(seconds * 1000)
}

// SetVolume sets the volume in percent.
func (p *Player) SetVolume(percent int) error {
	return p.set("volume", percent)
}

// SetOnTop keeps the video window above other windows.
func (p *Player) SetOnTop(onTop bool) error {
	return p.set("ontop", onTop)
}

// IsPlaying reports whether a file is loaded and not paused.
func (p *Player) IsPlaying() bool {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.playing
}

// Events delivers EventFinished when a file ends on its own and EventFailed
// when mpv could not play it.
func (p *Player) Events() <-chan playback.Event {
	return p.events
}

// Close quits mpv and closes the connection.
func (p *Player) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.proc != nil {
			if _, qerr := p.call("quit"); qerr != nil {
				zlog.Debug().Err(qerr).Msg("mpv: quit")
			}
		}
		close(p.closed)
		close(p.stopListen)
		err = p.conn.Close()
		close(p.connClosed)
		if p.proc != nil {
			_ = p.proc.Wait()
		}
	})
	return err
}

func (p *Player) setPlaying(playing bool) {
	p.stateMu.Lock()
	p.playing = playing && p.loaded != ""
	p.stateMu.Unlock()
}

func (p *Player) set(property string, value any) error {
	_, err := p.do("set "+property, func() (any, error) {
		return nil, p.conn.Set(property, value)
	})
	return err
}

func (p *Player) call(args ...any) (any, error) {
	return p.do(fmt.Sprint(args[0]), func() (any, error) {
		return p.conn.Call(args...)
	})
}

type result struct {
	data any
	err  error
}

// do bounds an IPC round trip by the call timeout. The library call has no
// deadline of its own, so a lost reply parks its goroutine.
func (p *Player) do(op string, fn func() (any, error)) (any, error) {
	select {
	case <-p.closed:
		return nil, ErrNotConnected
	default:
	}

	ch := make(chan result, 1)
	go func() {
		data, err := fn()
		ch <- result{data: data, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, errors.Wrapf(r.err, "mpv: %s", op)
		}
		return r.data, nil
	case <-p.closed:
		return nil, ErrNotConnected
	case <-time.After(p.callTimeout):
		return nil, errors.Wrap(ErrTimeout, op)
	}
}

func (p *Player) eventLoop(events <-chan *mpvipc.Event) {
	defer close(p.events)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.handleEvent(ev)
		case <-p.connClosed:
			return
		}
	}
}

func (p *Player) handleEvent(ev *mpvipc.Event) {
	if ev == nil || ev.Name != "end-file" {
		return
	}

	var typ playback.EventType
	switch ev.Reason {
	case reasonEOF:
		typ = playback.EventFinished
	case reasonError:
		typ = playback.EventFailed
	default:
		return
	}

	p.stateMu.Lock()
	path := p.loaded
	p.loaded = ""
	p.playing = false
	p.stateMu.Unlock()
	if path == "" {
		return
	}

	if typ == playback.EventFailed {
		zlog.Warn().Msgf("mpv: cannot play file: path=%s", path)
	} else {
		zlog.Debug().Msgf("mpv: end of file: path=%s", path)
	}
	select {
	case p.events <- playback.Event{Type: typ, Path: path}:
	case <-p.closed:
	}
}
