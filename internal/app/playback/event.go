package playback

// EventType represents a player event type.
type EventType int

const (
	EventFinished EventType = iota // Loaded media reached its natural end
	EventFailed                    // Loaded media could not be played
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventFinished:
		return "finished"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event represents a player event.
type Event struct {
	Type EventType
	Path string // Media the event refers to
}
