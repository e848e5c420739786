package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/pomobox/internal/app/download"
	"github.com/osa030/pomobox/internal/app/notification"
	"github.com/osa030/pomobox/internal/app/playback"
	"github.com/osa030/pomobox/internal/app/session/state"
	"github.com/osa030/pomobox/internal/infra/store"
)

type downloadOutcome struct {
	result download.Result
	err    error
}

// stubDownloader holds every download until the test releases its URL.
type stubDownloader struct {
	mu    sync.Mutex
	gates map[string]chan downloadOutcome
}

func newStubDownloader() *stubDownloader {
	return &stubDownloader{gates: make(map[string]chan downloadOutcome)}
}

func (d *stubDownloader) gate(url string) chan downloadOutcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.gates[url]
	if !ok {
		ch = make(chan downloadOutcome, 1)
		d.gates[url] = ch
	}
	return ch
}

func (d *stubDownloader) release(url string, o downloadOutcome) {
	d.gate(url) <- o
}

func (d *stubDownloader) Download(ctx context.Context, job download.Job, progress func(int)) (download.Result, error) {
	select {
	case o := <-d.gate(job.URL):
		progress(100)
		return o.result, o.err
	case <-ctx.Done():
		return download.Result{}, ctx.Err()
	}
}

type memorySaver struct {
	mu    sync.Mutex
	saved []store.Record
}

func (s *memorySaver) Save(rec store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, rec)
	return nil
}

func (s *memorySaver) records() []store.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Record(nil), s.saved...)
}

type eventCollector struct {
	mu     sync.Mutex
	events []Event
}

func (c *eventCollector) Send(_ uint64, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *eventCollector) has(typ EventType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

var _ notification.Stream[Event] = (*eventCollector)(nil)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("media"), 0o600))
	return path
}

func runManager(t *testing.T, mgr *Manager) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- mgr.Run(ctx)
	}()
	return func() error {
		stop()
		select {
		case err := <-errCh:
			return err
		case <-time.After(2 * time.Second):
			return errors.New("manager did not stop")
		}
	}
}

// status returns the zero Status when the loop does not answer in time, so
// it can be polled from require.Eventually.
func status(t *testing.T, mgr *Manager) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	st, err := mgr.Status(ctx)
	if err != nil {
		t.Logf("status: %v", err)
	}
	return st
}

func TestManager_DownloadQueueScenario(t *testing.T) {
	const (
		url1 = "https://example.com/watch?v=1"
		url2 = "https://example.com/watch?v=2"
	)
	dir := t.TempDir()
	path1 := touch(t, dir, "one.mp3")

	d := newStubDownloader()
	saver := &memorySaver{}
	mgr, err := NewManager(Config{TickInterval: time.Hour}, store.DefaultRecord(), newFakePlayer(), d, saver)
	require.NoError(t, err)
	stop := runManager(t, mgr)

	ctx := context.Background()
	refs, err := mgr.AddMedia(ctx, state.PhaseWork, url1+", "+url2, true)
	require.NoError(t, err)
	assert.Equal(t, []string{url1, url2}, refs)

	require.Eventually(t, func() bool {
		st := status(t, mgr)
		return st.DownloadActive == url1 && len(st.DownloadPending) == 1 && st.DownloadPending[0] == url2
	}, 2*time.Second, 10*time.Millisecond)

	d.release(url1, downloadOutcome{result: download.Result{Path: path1, Title: "One"}})

	require.Eventually(t, func() bool {
		st := status(t, mgr)
		return st.DownloadActive == url2 && len(st.WorkPlaylist) == 2 && st.WorkPlaylist[0] == path1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{path1, url2}, status(t, mgr).WorkPlaylist)

	d.release(url2, downloadOutcome{err: errors.New("unavailable")})

	require.Eventually(t, func() bool {
		st := status(t, mgr)
		return st.DownloadActive == "" && st.Message == "Download failed for "+url2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, stop())

	saved := saver.records()
	require.Len(t, saved, 1)
	assert.Equal(t, []string{path1, url2}, saved[0].WorkPlaylist)

	err = mgr.Start(ctx)
	assert.True(t, errors.Is(err, ErrManagerClosed))
}

func TestManager_TicksFlipPhase(t *testing.T) {
	rec := store.DefaultRecord()
	rec.WorkDurationSeconds = 1
	rec.BreakDurationSeconds = 60

	mgr, err := NewManager(Config{TickInterval: 5 * time.Millisecond}, rec, newFakePlayer(), newStubDownloader(), nil)
	require.NoError(t, err)
	events := &eventCollector{}
	id := mgr.Subscribe(events)
	defer mgr.Unsubscribe(id)

	stop := runManager(t, mgr)
	defer func() { _ = stop() }()

	require.NoError(t, mgr.Start(context.Background()))

	require.Eventually(t, func() bool {
		return status(t, mgr).Phase == state.PhaseBreak
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return events.has(EventPhaseChanged) && events.has(EventTick)
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, mgr.Pause(context.Background()))
	paused := status(t, mgr)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, paused.Remaining, status(t, mgr).Remaining)
}

func TestManager_PlayerFinishedAdvances(t *testing.T) {
	dir := t.TempDir()
	a := touch(t, dir, "a.mp3")
	b := touch(t, dir, "b.mp3")

	rec := store.DefaultRecord()
	rec.WorkPlaylist = []string{a, b}

	player := newFakePlayer()
	mgr, err := NewManager(Config{TickInterval: time.Hour}, rec, player, newStubDownloader(), nil)
	require.NoError(t, err)
	stop := runManager(t, mgr)
	defer func() { _ = stop() }()

	require.NoError(t, mgr.Start(context.Background()))
	require.Equal(t, a, status(t, mgr).Current)

	player.events <- playback.Event{Type: playback.EventFinished, Path: a}

	require.Eventually(t, func() bool {
		return status(t, mgr).Current == b
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_PlayerFailedUnloads(t *testing.T) {
	dir := t.TempDir()
	a := touch(t, dir, "a.mp3")
	b := touch(t, dir, "b.mp3")

	rec := store.DefaultRecord()
	rec.WorkPlaylist = []string{a, b}

	player := newFakePlayer()
	mgr, err := NewManager(Config{TickInterval: time.Hour}, rec, player, newStubDownloader(), nil)
	require.NoError(t, err)
	events := &eventCollector{}
	id := mgr.Subscribe(events)
	defer mgr.Unsubscribe(id)
	stop := runManager(t, mgr)
	defer func() { _ = stop() }()

	require.NoError(t, mgr.Start(context.Background()))
	require.Equal(t, a, status(t, mgr).Current)

	player.events <- playback.Event{Type: playback.EventFailed, Path: a}

	require.Eventually(t, func() bool {
		return events.has(EventPlaybackFailed)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, status(t, mgr).Current)
}

func TestManager_NilDownloaderFailsRemoteAdds(t *testing.T) {
	const url = "https://example.com/watch?v=1"

	mgr, err := NewManager(Config{TickInterval: time.Hour}, store.DefaultRecord(), newFakePlayer(), nil, nil)
	require.NoError(t, err)
	stop := runManager(t, mgr)
	defer func() { _ = stop() }()

	_, err = mgr.AddMedia(context.Background(), state.PhaseWork, url, false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st := status(t, mgr)
		return st.DownloadActive == "" && st.Message == "Download failed for "+url
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{url}, status(t, mgr).WorkPlaylist)
}

func TestManager_CommandErrors(t *testing.T) {
	mgr, err := NewManager(Config{TickInterval: time.Hour}, store.DefaultRecord(), nil, newStubDownloader(), nil)
	require.NoError(t, err)
	stop := runManager(t, mgr)
	defer func() { _ = stop() }()

	ctx := context.Background()
	require.NoError(t, mgr.Start(ctx))

	err = mgr.SwitchMode(ctx, state.PhaseBreak)
	assert.True(t, errors.Is(err, ErrNotPaused))

	_, err = mgr.AddMedia(ctx, state.PhaseWork, "", false)
	assert.True(t, errors.Is(err, ErrEmptyInput))

	zero := 0
	err = mgr.UpdateSettings(ctx, Settings{WorkSeconds: &zero})
	assert.True(t, errors.Is(err, ErrInvalidDuration))
}

func TestManager_RunOnce(t *testing.T) {
	mgr, err := NewManager(Config{}, store.DefaultRecord(), nil, newStubDownloader(), nil)
	require.NoError(t, err)
	stop := runManager(t, mgr)

	require.Eventually(t, func() bool {
		_, err := mgr.Status(context.Background())
		return err == nil
	}, time.Second, 5*time.Millisecond)

	assert.True(t, errors.Is(mgr.Run(context.Background()), ErrAlreadyRunning))
	require.NoError(t, stop())

	select {
	case <-mgr.Done():
	default:
		assert.Fail(t, "done channel not closed")
	}
}

func TestManager_CommandHonoursContext(t *testing.T) {
	mgr, err := NewManager(Config{}, store.DefaultRecord(), nil, newStubDownloader(), nil)
	require.NoError(t, err)

	// The loop is not running, so the command can never be picked up.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = mgr.Start(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
