package connect

import (
	"context"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/pomobox/internal/app/notification"
	"github.com/osa030/pomobox/internal/app/session"
	"github.com/osa030/pomobox/internal/app/session/state"
	"github.com/osa030/pomobox/internal/domain/media"
)

// ControlServiceName is the fully-qualified name of the control service.
const ControlServiceName = "pomobox.v1.ControlService"

const (
	GetStatusProcedure      = "/" + ControlServiceName + "/GetStatus"
	StartProcedure          = "/" + ControlServiceName + "/Start"
	PauseProcedure          = "/" + ControlServiceName + "/Pause"
	ToggleProcedure         = "/" + ControlServiceName + "/Toggle"
	ResetProcedure          = "/" + ControlServiceName + "/Reset"
	SwitchModeProcedure     = "/" + ControlServiceName + "/SwitchMode"
	SkipForwardProcedure    = "/" + ControlServiceName + "/SkipForward"
	SkipBackProcedure       = "/" + ControlServiceName + "/SkipBack"
	AddMediaProcedure       = "/" + ControlServiceName + "/AddMedia"
	ShuffleProcedure        = "/" + ControlServiceName + "/Shuffle"
	ResetPlaylistProcedure  = "/" + ControlServiceName + "/ResetPlaylist"
	UpdateSettingsProcedure = "/" + ControlServiceName + "/UpdateSettings"
	SeekProcedure           = "/" + ControlServiceName + "/Seek"
	WatchEventsProcedure    = "/" + ControlServiceName + "/WatchEvents"
)

// Controller is the session surface exposed over RPC. *session.Manager
// implements it.
type Controller interface {
	Status(ctx context.Context) (session.Status, error)
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
	Toggle(ctx context.Context) error
	Reset(ctx context.Context) error
	SwitchMode(ctx context.Context, phase state.Phase) error
	SkipForward(ctx context.Context) error
	SkipBack(ctx context.Context) error
	AddMedia(ctx context.Context, phase state.Phase, input string, audioOnly bool) ([]media.Ref, error)
	Shuffle(ctx context.Context, phase state.Phase) error
	ResetPlaylist(ctx context.Context, phase state.Phase) error
	UpdateSettings(ctx context.Context, settings session.Settings) error
	SeekRelative(ctx context.Context, deltaMs int64) error

	Subscribe(stream notification.Stream[session.Event]) string
	Unsubscribe(subscriptionID string)
	NextSequenceNo() uint64
	Done() <-chan struct{}
}

var _ Controller = (*session.Manager)(nil)

// ControlService implements the ControlService RPC.
type ControlService struct {
	ctrl Controller
}

// NewControlService creates a new ControlService.
func NewControlService(ctrl Controller) *ControlService {
	return &ControlService{ctrl: ctrl}
}

// NewControlServiceHandler builds an HTTP handler serving every procedure
// of svc. The returned path is the mount prefix.
func NewControlServiceHandler(svc *ControlService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(GetStatusProcedure, connect.NewUnaryHandler(GetStatusProcedure, svc.GetStatus, opts...))
	mux.Handle(StartProcedure, connect.NewUnaryHandler(StartProcedure, svc.Start, opts...))
	mux.Handle(PauseProcedure, connect.NewUnaryHandler(PauseProcedure, svc.Pause, opts...))
	mux.Handle(ToggleProcedure, connect.NewUnaryHandler(ToggleProcedure, svc.Toggle, opts...))
	mux.Handle(ResetProcedure, connect.NewUnaryHandler(ResetProcedure, svc.Reset, opts...))
	mux.Handle(SwitchModeProcedure, connect.NewUnaryHandler(SwitchModeProcedure, svc.SwitchMode, opts...))
	mux.Handle(SkipForwardProcedure, connect.NewUnaryHandler(SkipForwardProcedure, svc.SkipForward, opts...))
	mux.Handle(SkipBackProcedure, connect.NewUnaryHandler(SkipBackProcedure, svc.SkipBack, opts...))
	mux.Handle(AddMediaProcedure, connect.NewUnaryHandler(AddMediaProcedure, svc.AddMedia, opts...))
	mux.Handle(ShuffleProcedure, connect.NewUnaryHandler(ShuffleProcedure, svc.Shuffle, opts...))
	mux.Handle(ResetPlaylistProcedure, connect.NewUnaryHandler(ResetPlaylistProcedure, svc.ResetPlaylist, opts...))
	mux.Handle(UpdateSettingsProcedure, connect.NewUnaryHandler(UpdateSettingsProcedure, svc.UpdateSettings, opts...))
	mux.Handle(SeekProcedure, connect.NewUnaryHandler(SeekProcedure, svc.SeekRelative, opts...))
	mux.Handle(WatchEventsProcedure, connect.NewServerStreamHandler(WatchEventsProcedure, svc.WatchEvents, opts...))
	return "/" + ControlServiceName + "/", mux
}

// GetStatus returns the current session status.
func (s *ControlService) GetStatus(
	ctx context.Context,
	req *connect.Request[EmptyRequest],
) (*connect.Response[StatusResponse], error) {
	st, err := s.ctrl.Status(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(toStatusResponse(st)), nil
}

// Start starts the timer.
func (s *ControlService) Start(
	ctx context.Context,
	req *connect.Request[EmptyRequest],
) (*connect.Response[ActionResponse], error) {
	return action(s.ctrl.Start(ctx), "Timer started")
}

// Pause pauses the timer.
func (s *ControlService) Pause(
	ctx context.Context,
	req *connect.Request[EmptyRequest],
) (*connect.Response[ActionResponse], error) {
	return action(s.ctrl.Pause(ctx), "Timer paused")
}

// Toggle flips media playback.
func (s *ControlService) Toggle(
	ctx context.Context,
	req *connect.Request[EmptyRequest],
) (*connect.Response[ActionResponse], error) {
	return action(s.ctrl.Toggle(ctx), "Playback toggled")
}

// Reset clears the timer and both playlists.
func (s *ControlService) Reset(
	ctx context.Context,
	req *connect.Request[EmptyRequest],
) (*connect.Response[ActionResponse], error) {
	return action(s.ctrl.Reset(ctx), "Session reset")
}

// SwitchMode changes the mode while paused.
func (s *ControlService) SwitchMode(
	ctx context.Context,
	req *connect.Request[PhaseRequest],
) (*connect.Response[ActionResponse], error) {
	phase, err := parsePhase(req.Msg.Phase)
	if err != nil {
		return nil, err
	}
	return action(s.ctrl.SwitchMode(ctx, phase), "Switched to "+phase.String())
}

// SkipForward plays the next item of the current playlist.
func (s *ControlService) SkipForward(
	ctx context.Context,
	req *connect.Request[EmptyRequest],
) (*connect.Response[ActionResponse], error) {
	return action(s.ctrl.SkipForward(ctx), "Skipped forward")
}

// SkipBack restarts the current item or plays the previous one.
func (s *ControlService) SkipBack(
	ctx context.Context,
	req *connect.Request[EmptyRequest],
) (*connect.Response[ActionResponse], error) {
	return action(s.ctrl.SkipBack(ctx), "Skipped back")
}

// AddMedia appends the refs found in the input to a playlist.
func (s *ControlService) AddMedia(
	ctx context.Context,
	req *connect.Request[AddMediaRequest],
) (*connect.Response[AddMediaResponse], error) {
	phase, err := parsePhase(req.Msg.Phase)
	if err != nil {
		return nil, err
	}
	added, err := s.ctrl.AddMedia(ctx, phase, req.Msg.Input, req.Msg.AudioOnly)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&AddMediaResponse{
		Success: true,
		Message: "Media added",
		Added:   refs(added),
	}), nil
}

// Shuffle reorders a playlist.
func (s *ControlService) Shuffle(
	ctx context.Context,
	req *connect.Request[PhaseRequest],
) (*connect.Response[ActionResponse], error) {
	phase, err := parsePhase(req.Msg.Phase)
	if err != nil {
		return nil, err
	}
	return action(s.ctrl.Shuffle(ctx, phase), "Playlist shuffled")
}

// ResetPlaylist empties a playlist.
func (s *ControlService) ResetPlaylist(
	ctx context.Context,
	req *connect.Request[PhaseRequest],
) (*connect.Response[ActionResponse], error) {
	phase, err := parsePhase(req.Msg.Phase)
	if err != nil {
		return nil, err
	}
	return action(s.ctrl.ResetPlaylist(ctx, phase), "Playlist cleared")
}

// UpdateSettings applies durations, volume and window flag together.
func (s *ControlService) UpdateSettings(
	ctx context.Context,
	req *connect.Request[UpdateSettingsRequest],
) (*connect.Response[ActionResponse], error) {
	return action(s.ctrl.UpdateSettings(ctx, toSettings(req.Msg)), "Settings updated")
}

// SeekRelative moves playback relative to the current position.
func (s *ControlService) SeekRelative(
	ctx context.Context,
	req *connect.Request[SeekRequest],
) (*connect.Response[ActionResponse], error) {
	return action(s.ctrl.SeekRelative(ctx, req.Msg.DeltaMs), "Seeked")
}

// WatchEvents streams a snapshot followed by every session event until the
// client goes away or the session stops.
func (s *ControlService) WatchEvents(
	ctx context.Context,
	req *connect.Request[EmptyRequest],
	stream *connect.ServerStream[EventMessage],
) error {
	sequenceNo := s.ctrl.NextSequenceNo()
	st, err := s.ctrl.Status(ctx)
	if err != nil {
		return toConnectError(err)
	}

	adapter := &eventStreamAdapter{stream: stream}
	initial := &EventMessage{
		SequenceNo: sequenceNo,
		Type:       EventTypeInitialState,
		Phase:      st.Phase.String(),
		Remaining:  st.Remaining,
		Paused:     st.RunState == state.Paused,
		Media:      st.Current,
		Message:    st.Message,
		At:         time.Now(),
		Status:     toStatusResponse(st),
	}
	if err := adapter.send(initial); err != nil {
		return err
	}

	subscriptionID := s.ctrl.Subscribe(adapter)
	zlog.Debug().Msgf("api: watch started: id=%s", subscriptionID)

	select {
	case <-ctx.Done():
	case <-s.ctrl.Done():
	}

	s.ctrl.Unsubscribe(subscriptionID)
	adapter.close()
	zlog.Debug().Msgf("api: watch ended: id=%s", subscriptionID)
	return nil
}

// eventStreamAdapter adapts connect.ServerStream to notification.Stream.
// Sends are serialized and refused once the handler has returned.
type eventStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[EventMessage]
	closed bool
}

var errStreamClosed = errors.New("stream closed")

func (a *eventStreamAdapter) Send(seqNo uint64, ev session.Event) error {
	return a.send(toEventMessage(seqNo, ev))
}

func (a *eventStreamAdapter) send(msg *EventMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errStreamClosed
	}
	return a.stream.Send(msg)
}

func (a *eventStreamAdapter) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}

func parsePhase(s string) (state.Phase, error) {
	phase, err := state.ParsePhase(s)
	if err != nil {
		return phase, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return phase, nil
}

// action converts a control result. A refused transition is reported in the
// body; everything else is a transport error.
func action(err error, okMessage string) (*connect.Response[ActionResponse], error) {
	if err == nil {
		return connect.NewResponse(&ActionResponse{Success: true, Message: okMessage}), nil
	}
	if errors.Is(err, session.ErrNotPaused) {
		return connect.NewResponse(&ActionResponse{Success: false, Message: err.Error()}), nil
	}
	return nil, toConnectError(err)
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, session.ErrManagerClosed):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, session.ErrEmptyInput),
		errors.Is(err, session.ErrUnknownPhase),
		errors.Is(err, session.ErrInvalidDuration):
		return connect.NewError(connect.CodeInvalidArgument, err)
	default:
		zlog.Error().Err(err).Msg("api: internal error")
		return connect.NewError(connect.CodeInternal, err)
	}
}
