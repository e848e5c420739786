package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/pomobox/internal/app/notification"
	"github.com/osa030/pomobox/internal/app/playback"
	"github.com/osa030/pomobox/internal/app/session"
	"github.com/osa030/pomobox/internal/app/session/state"
	"github.com/osa030/pomobox/internal/domain/media"
)

type fakeController struct {
	mu       sync.Mutex
	calls    []string
	err      error
	settings session.Settings
	status   session.Status

	notif *notification.Manager[session.Event]
	done  chan struct{}
}

func newFakeController() *fakeController {
	return &fakeController{
		status: session.Status{
			Phase:         state.PhaseWork,
			RunState:      state.Running,
			Remaining:     1499,
			WorkSeconds:   1500,
			BreakSeconds:  300,
			Current:       "/music/a.mp3",
			Playback:      playback.StatePlaying,
			Volume:        75,
			WorkPlaylist:  []media.Ref{"/music/a.mp3", "https://example.com/v"},
			BreakPlaylist: []media.Ref{},
		},
		notif: notification.NewManager[session.Event](time.Second),
		done:  make(chan struct{}),
	}
}

func (f *fakeController) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeController) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeController) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeController) Status(ctx context.Context) (session.Status, error) {
	if err := f.record("status"); err != nil {
		return session.Status{}, err
	}
	return f.status, nil
}

func (f *fakeController) Start(ctx context.Context) error  { return f.record("start") }
func (f *fakeController) Pause(ctx context.Context) error  { return f.record("pause") }
func (f *fakeController) Toggle(ctx context.Context) error { return f.record("toggle") }
func (f *fakeController) Reset(ctx context.Context) error  { return f.record("reset") }

func (f *fakeController) SwitchMode(ctx context.Context, phase state.Phase) error {
	return f.record("switch:" + phase.String())
}

func (f *fakeController) SkipForward(ctx context.Context) error { return f.record("next") }
func (f *fakeController) SkipBack(ctx context.Context) error    { return f.record("prev") }

func (f *fakeController) AddMedia(ctx context.Context, phase state.Phase, input string, audioOnly bool) ([]media.Ref, error) {
	if err := f.record("add:" + phase.String()); err != nil {
		return nil, err
	}
	return media.SplitInput(input), nil
}

func (f *fakeController) Shuffle(ctx context.Context, phase state.Phase) error {
	return f.record("shuffle:" + phase.String())
}

func (f *fakeController) ResetPlaylist(ctx context.Context, phase state.Phase) error {
	return f.record("clear:" + phase.String())
}

func (f *fakeController) UpdateSettings(ctx context.Context, settings session.Settings) error {
	f.mu.Lock()
	f.settings = settings
	f.mu.Unlock()
	return f.record("settings")
}

func (f *fakeController) SeekRelative(ctx context.Context, deltaMs int64) error {
	return f.record("seek")
}

func (f *fakeController) Subscribe(stream notification.Stream[session.Event]) string {
	return f.notif.Subscribe(stream)
}

func (f *fakeController) Unsubscribe(id string)  { f.notif.Unsubscribe(id) }
func (f *fakeController) NextSequenceNo() uint64 { return f.notif.NextSequenceNo() }
func (f *fakeController) Done() <-chan struct{}  { return f.done }

func newTestServer(t *testing.T, ctrl Controller, token string) *httptest.Server {
	t.Helper()
	path, handler := NewControlServiceHandler(
		NewControlService(ctrl),
		connect.WithInterceptors(NewAuthInterceptor(token)),
	)
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestControlService_GetStatus(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(t, ctrl, "")
	client := NewClient(srv.Client(), srv.URL, "")

	st, err := client.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "work", st.Phase)
	assert.Equal(t, "running", st.RunState)
	assert.Equal(t, 1499, st.Remaining)
	assert.Equal(t, "/music/a.mp3", st.Current)
	assert.Equal(t, "playing", st.Playback)
	assert.Equal(t, 75, st.Volume)
	assert.Equal(t, []string{"/music/a.mp3", "https://example.com/v"}, st.WorkPlaylist)
	assert.Empty(t, st.BreakPlaylist)
}

func TestControlService_Actions(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(t, ctrl, "")
	client := NewClient(srv.Client(), srv.URL, "")
	ctx := context.Background()

	tests := []struct {
		name     string
		call     func() (*ActionResponse, error)
		wantCall string
	}{
		{"start", func() (*ActionResponse, error) { return client.Start(ctx) }, "start"},
		{"pause", func() (*ActionResponse, error) { return client.Pause(ctx) }, "pause"},
		{"toggle", func() (*ActionResponse, error) { return client.Toggle(ctx) }, "toggle"},
		{"reset", func() (*ActionResponse, error) { return client.Reset(ctx) }, "reset"},
		{"next", func() (*ActionResponse, error) { return client.SkipForward(ctx) }, "next"},
		{"prev", func() (*ActionResponse, error) { return client.SkipBack(ctx) }, "prev"},
		{"switch", func() (*ActionResponse, error) { return client.SwitchMode(ctx, "Break") }, "switch:break"},
		{"shuffle", func() (*ActionResponse, error) { return client.Shuffle(ctx, "work") }, "shuffle:work"},
		{"clear", func() (*ActionResponse, error) { return client.ResetPlaylist(ctx, "break") }, "clear:break"},
		{"seek", func() (*ActionResponse, error) { return client.SeekRelative(ctx, -5000) }, "seek"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := tt.call()
			require.NoError(t, err)
			assert.True(t, resp.Success)
			assert.NotEmpty(t, resp.Message)
			assert.Equal(t, tt.wantCall, ctrl.lastCall())
		})
	}
}

func TestControlService_AddMedia(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(t, ctrl, "")
	client := NewClient(srv.Client(), srv.URL, "")

	resp, err := client.AddMedia(context.Background(), &AddMediaRequest{
		Phase: "break",
		Input: "/a.mp3, https://example.com/v",
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"/a.mp3", "https://example.com/v"}, resp.Added)
	assert.Equal(t, "add:break", ctrl.lastCall())
}

func TestControlService_UpdateSettings(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(t, ctrl, "")
	client := NewClient(srv.Client(), srv.URL, "")

	work, onTop := 600, true
	resp, err := client.UpdateSettings(context.Background(), &UpdateSettingsRequest{
		WorkSeconds: &work,
		AlwaysOnTop: &onTop,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	require.NotNil(t, ctrl.settings.WorkSeconds)
	assert.Equal(t, 600, *ctrl.settings.WorkSeconds)
	require.NotNil(t, ctrl.settings.AlwaysOnTop)
	assert.True(t, *ctrl.settings.AlwaysOnTop)
	assert.Nil(t, ctrl.settings.BreakSeconds)
	assert.Nil(t, ctrl.settings.Volume)
}

func TestControlService_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown phase", func(t *testing.T) {
		ctrl := newFakeController()
		client := NewClient(http.DefaultClient, newTestServer(t, ctrl, "").URL, "")
		_, err := client.SwitchMode(ctx, "nap")
		require.Error(t, err)
		assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
		assert.Empty(t, ctrl.lastCall())
	})

	t.Run("not paused is reported in body", func(t *testing.T) {
		ctrl := newFakeController()
		ctrl.setErr(errors.Wrap(session.ErrNotPaused, "switch to break"))
		client := NewClient(http.DefaultClient, newTestServer(t, ctrl, "").URL, "")
		resp, err := client.SwitchMode(ctx, "break")
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Message, "not paused")
	})

	t.Run("empty input", func(t *testing.T) {
		ctrl := newFakeController()
		ctrl.setErr(session.ErrEmptyInput)
		client := NewClient(http.DefaultClient, newTestServer(t, ctrl, "").URL, "")
		_, err := client.AddMedia(ctx, &AddMediaRequest{Phase: "work", Input: "  "})
		require.Error(t, err)
		assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	})

	t.Run("manager closed", func(t *testing.T) {
		ctrl := newFakeController()
		ctrl.setErr(session.ErrManagerClosed)
		client := NewClient(http.DefaultClient, newTestServer(t, ctrl, "").URL, "")
		_, err := client.Start(ctx)
		require.Error(t, err)
		assert.Equal(t, connect.CodeUnavailable, connect.CodeOf(err))
	})

	t.Run("internal", func(t *testing.T) {
		ctrl := newFakeController()
		ctrl.setErr(errors.New("boom"))
		client := NewClient(http.DefaultClient, newTestServer(t, ctrl, "").URL, "")
		_, err := client.GetStatus(ctx)
		require.Error(t, err)
		assert.Equal(t, connect.CodeInternal, connect.CodeOf(err))
	})
}

func TestControlService_Auth(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(t, ctrl, "secret")

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"no token", "", true},
		{"wrong token", "guess", true},
		{"valid token", "secret", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(srv.Client(), srv.URL, tt.token)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_, err := client.Start(ctx)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
			} else {
				require.NoError(t, err)
			}

			stream, err := client.WatchEvents(ctx)
			if err != nil {
				require.True(t, tt.wantErr)
				assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
				return
			}
			defer closeStream(t, cancel, stream)
			received := stream.Receive()
			if tt.wantErr {
				assert.False(t, received)
				assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(stream.Err()))
			} else {
				assert.True(t, received)
			}
		})
	}
}

func TestControlService_WatchEvents(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(t, ctrl, "")
	client := NewClient(srv.Client(), srv.URL, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.WatchEvents(ctx)
	require.NoError(t, err)
	defer closeStream(t, cancel, stream)

	require.True(t, stream.Receive(), "initial state: %v", stream.Err())
	initial := stream.Msg()
	assert.Equal(t, EventTypeInitialState, initial.Type)
	assert.Equal(t, "work", initial.Phase)
	assert.Equal(t, 1499, initial.Remaining)
	require.NotNil(t, initial.Status)
	assert.Equal(t, "/music/a.mp3", initial.Status.Current)

	require.Eventually(t, func() bool {
		return ctrl.notif.SubscriberCount() == 1
	}, time.Second, 10*time.Millisecond)

	ctrl.notif.Broadcast(session.Event{
		Type:      session.EventPhaseChanged,
		Phase:     state.PhaseBreak,
		Remaining: 300,
		Media:     "/music/b.mp3",
	})

	require.True(t, stream.Receive(), "event: %v", stream.Err())
	ev := stream.Msg()
	assert.Equal(t, "phase_changed", ev.Type)
	assert.Equal(t, "break", ev.Phase)
	assert.Equal(t, 300, ev.Remaining)
	assert.Equal(t, "/music/b.mp3", ev.Media)
	assert.Greater(t, ev.SequenceNo, initial.SequenceNo)

	close(ctrl.done)
	assert.False(t, stream.Receive())
	require.Eventually(t, func() bool {
		return ctrl.notif.SubscriberCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestControlService_WatchEventsClientCancel(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(t, ctrl, "")
	client := NewClient(srv.Client(), srv.URL, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.WatchEvents(ctx)
	require.NoError(t, err)
	require.True(t, stream.Receive(), "initial state: %v", stream.Err())
	require.Eventually(t, func() bool {
		return ctrl.notif.SubscriberCount() == 1
	}, time.Second, 10*time.Millisecond)

	// The session is still running, so only the client can end the stream.
	closeStream(t, cancel, stream)

	require.Eventually(t, func() bool {
		return ctrl.notif.SubscriberCount() == 0
	}, time.Second, 10*time.Millisecond)
}

// closeStream cancels the stream context before closing. Close drains the
// response body, which never ends while the server keeps the stream open.
func closeStream(t *testing.T, cancel context.CancelFunc, stream *connect.ServerStreamForClient[EventMessage]) {
	t.Helper()
	cancel()

	closed := make(chan struct{})
	go func() {
		_ = stream.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Error("stream did not close after cancel")
	}
}
