package session

import (
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/osa030/pomobox/internal/app/download"
	"github.com/osa030/pomobox/internal/app/playback"
	"github.com/osa030/pomobox/internal/domain/media"
	"github.com/osa030/pomobox/internal/infra/store"
)

type loadCall struct {
	path     string
	offsetMs int64
}

// fakePlayer records commands. Elapsed time is set by the test.
type fakePlayer struct {
	mu      sync.Mutex
	loads   []loadCall
	loaded  string
	playing bool
	elapsed int64
	stops   int
	volume  int
	seeks   []int64
	onTop   bool
	events  chan playback.Event
}

var (
	_ playback.Player           = (*fakePlayer)(nil)
	_ playback.WindowController = (*fakePlayer)(nil)
)

func newFakePlayer() *fakePlayer {
	return &fakePlayer{events: make(chan playback.Event, 4)}
}

func (p *fakePlayer) Load(path string, offsetMs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads = append(p.loads, loadCall{path: path, offsetMs: offsetMs})
	p.loaded = path
	p.playing = false
	p.elapsed = offsetMs
	return nil
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = p.loaded != ""
	return nil
}

func (p *fakePlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	return nil
}

func (p *fakePlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	p.loaded = ""
	p.playing = false
	p.elapsed = 0
	return nil
}

func (p *fakePlayer) SeekRelative(deltaMs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, deltaMs)
	return nil
}

func (p *fakePlayer) ElapsedMs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elapsed
}

func (p *fakePlayer) SetVolume(percent int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = percent
	return nil
}

func (p *fakePlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *fakePlayer) Events() <-chan playback.Event {
	return p.events
}

func (p *fakePlayer) Close() error {
	return nil
}

func (p *fakePlayer) SetOnTop(onTop bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTop = onTop
	return nil
}

func (p *fakePlayer) setElapsed(ms int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elapsed = ms
}

func (p *fakePlayer) lastLoad() loadCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.loads) == 0 {
		return loadCall{}
	}
	return p.loads[len(p.loads)-1]
}

type fakeTicker struct {
	armed bool
}

func (t *fakeTicker) Arm()    { t.armed = true }
func (t *fakeTicker) Disarm() { t.armed = false }

type fakeEnqueuer struct {
	jobs []download.Job
}

func (e *fakeEnqueuer) Enqueue(url string, audioOnly bool) download.Job {
	job := download.Job{ID: url, URL: url, AudioOnly: audioOnly}
	e.jobs = append(e.jobs, job)
	return job
}

type machineFixture struct {
	m      *Machine
	player *fakePlayer
	ticker *fakeTicker
	queue  *fakeEnqueuer
	events []Event
}

func (f *machineFixture) count(typ EventType) int {
	n := 0
	for _, ev := range f.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (f *machineFixture) last(typ EventType) (Event, bool) {
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].Type == typ {
			return f.events[i], true
		}
	}
	return Event{}, false
}

// newFixture builds a machine where every local path exists.
func newFixture(t *testing.T, rec store.Record) *machineFixture {
	t.Helper()
	f := &machineFixture{
		player: newFakePlayer(),
		ticker: &fakeTicker{},
		queue:  &fakeEnqueuer{},
	}
	m, err := NewMachine(rec, Deps{
		Player:     f.player,
		Ticker:     f.ticker,
		Downloads:  f.queue,
		Emit:       func(ev Event) { f.events = append(f.events, ev) },
		FileExists: func(path string) bool { return path != "" && !media.IsRemote(path) },
		Rand:       rand.New(rand.NewPCG(1, 2)),
		Now:        func() time.Time { return time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	f.m = m
	return f
}

func record(workSeconds, breakSeconds int, work, brk []string) store.Record {
	rec := store.DefaultRecord()
	rec.WorkDurationSeconds = workSeconds
	rec.BreakDurationSeconds = breakSeconds
	rec.WorkPlaylist = work
	rec.BreakPlaylist = brk
	return rec
}
