package connect

import (
	"time"

	"github.com/osa030/pomobox/internal/app/session"
	"github.com/osa030/pomobox/internal/domain/media"
)

// EventTypeInitialState marks the snapshot sent first on every watch stream.
const EventTypeInitialState = "initial_state"

// EmptyRequest is the request of procedures without arguments.
type EmptyRequest struct{}

// ActionResponse reports the outcome of a control procedure.
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// PhaseRequest names a playlist or timer mode: "work" or "break".
type PhaseRequest struct {
	Phase string `json:"phase"`
}

type AddMediaRequest struct {
	Phase     string `json:"phase"`
	Input     string `json:"input"`
	AudioOnly bool   `json:"audio_only,omitempty"`
}

type AddMediaResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Added   []string `json:"added,omitempty"`
}

// UpdateSettingsRequest carries optional changes. Omitted fields are left
// untouched.
type UpdateSettingsRequest struct {
	WorkSeconds  *int  `json:"work_seconds,omitempty"`
	BreakSeconds *int  `json:"break_seconds,omitempty"`
	Volume       *int  `json:"volume,omitempty"`
	VolumeDelta  *int  `json:"volume_delta,omitempty"`
	AlwaysOnTop  *bool `json:"always_on_top,omitempty"`
}

type SeekRequest struct {
	DeltaMs int64 `json:"delta_ms"`
}

type StatusResponse struct {
	Phase           string   `json:"phase"`
	RunState        string   `json:"run_state"`
	Remaining       int      `json:"remaining"`
	WorkSeconds     int      `json:"work_seconds"`
	BreakSeconds    int      `json:"break_seconds"`
	Current         string   `json:"current,omitempty"`
	Playback        string   `json:"playback"`
	Volume          int      `json:"volume"`
	AlwaysOnTop     bool     `json:"always_on_top"`
	WorkPlaylist    []string `json:"work_playlist"`
	BreakPlaylist   []string `json:"break_playlist"`
	Message         string   `json:"message,omitempty"`
	DownloadActive  string   `json:"download_active,omitempty"`
	DownloadPending []string `json:"download_pending,omitempty"`
}

// EventMessage is one item of the watch stream.
type EventMessage struct {
	SequenceNo uint64          `json:"sequence_no"`
	Type       string          `json:"type"`
	Phase      string          `json:"phase"`
	Remaining  int             `json:"remaining"`
	Paused     bool            `json:"paused"`
	Media      string          `json:"media,omitempty"`
	OffsetMs   int64           `json:"offset_ms,omitempty"`
	Percent    int             `json:"percent,omitempty"`
	Message    string          `json:"message,omitempty"`
	At         time.Time       `json:"at"`
	Status     *StatusResponse `json:"status,omitempty"`
}

func toStatusResponse(st session.Status) *StatusResponse {
	return &StatusResponse{
		Phase:           st.Phase.String(),
		RunState:        st.RunState.String(),
		Remaining:       st.Remaining,
		WorkSeconds:     st.WorkSeconds,
		BreakSeconds:    st.BreakSeconds,
		Current:         st.Current,
		Playback:        st.Playback.String(),
		Volume:          st.Volume,
		AlwaysOnTop:     st.AlwaysOnTop,
		WorkPlaylist:    refs(st.WorkPlaylist),
		BreakPlaylist:   refs(st.BreakPlaylist),
		Message:         st.Message,
		DownloadActive:  st.DownloadActive,
		DownloadPending: st.DownloadPending,
	}
}

func toEventMessage(seqNo uint64, ev session.Event) *EventMessage {
	return &EventMessage{
		SequenceNo: seqNo,
		Type:       ev.Type.String(),
		Phase:      ev.Phase.String(),
		Remaining:  ev.Remaining,
		Paused:     ev.Paused,
		Media:      ev.Media,
		OffsetMs:   ev.OffsetMs,
		Percent:    ev.Percent,
		Message:    ev.Message,
		At:         ev.At,
	}
}

func toSettings(req *UpdateSettingsRequest) session.Settings {
	return session.Settings{
		WorkSeconds:  req.WorkSeconds,
		BreakSeconds: req.BreakSeconds,
		Volume:       req.Volume,
		VolumeDelta:  req.VolumeDelta,
		AlwaysOnTop:  req.AlwaysOnTop,
	}
}

func refs(items []media.Ref) []string {
	out := make([]string, len(items))
	copy(out, items)
	return out
}
