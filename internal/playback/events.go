package playback

import "github.com/rbright/kiroku/internal/fsm"

type EventKind string

const (
	EventPosition      EventKind = "position"
	EventDuration      EventKind = "duration"
	EventState         EventKind = "state"
	EventError         EventKind = "error"
	EventActiveSegment EventKind = "active_segment"
)

// Event is one notification on the engine's upward stream. Only the fields
// matching Kind are set. Segment is -1 when no segment covers the position.
type Event struct {
	Kind       EventKind
	PositionMS int64
	DurationMS int64
	State      fsm.PlaybackState
	Segment    int
	Err        error
}
