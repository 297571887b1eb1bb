package fsm

import "fmt"

// JobState is the lifecycle of one supervised transcription job.
type JobState string

// PlaybackState is the lifecycle of the review player.
type PlaybackState string

type Event string

const (
	JobPending    JobState = "pending"
	JobRunning    JobState = "running"
	JobFinalizing JobState = "finalizing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

const (
	PlaybackEmpty   PlaybackState = "empty"
	PlaybackLoaded  PlaybackState = "loaded"
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
	PlaybackStopped PlaybackState = "stopped"
	PlaybackError   PlaybackState = "error"
)

const (
	EventStart   Event = "start"
	EventExited  Event = "exited"
	EventSucceed Event = "succeed"
	EventCancel  Event = "cancel"
	EventFail    Event = "fail"
	EventLoad    Event = "load"
	EventPlay    Event = "play"
	EventPause   Event = "pause"
	EventStop    Event = "stop"
	EventEnd     Event = "end"
	EventRecover Event = "recover"
	EventExhaust Event = "exhaust"
	EventUnload  Event = "unload"
)

// Terminal reports whether no further job transitions are possible.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

func (s PlaybackState) known() bool {
	switch s {
	case PlaybackEmpty, PlaybackLoaded, PlaybackPlaying, PlaybackPaused, PlaybackStopped, PlaybackError:
		return true
	default:
		return false
	}
}

func TransitionJob(current JobState, event Event) (JobState, error) {
	switch current {
	case JobPending:
		switch event {
		case EventStart:
			return JobRunning, nil
		case EventFail, EventCancel:
			return JobFailed, nil
		default:
			return current, invalidTransition(current, event)
		}
	case JobRunning:
		switch event {
		case EventExited:
			return JobFinalizing, nil
		case EventFail, EventCancel:
			return JobFailed, nil
		default:
			return current, invalidTransition(current, event)
		}
	case JobFinalizing:
		switch event {
		case EventSucceed:
			return JobCompleted, nil
		case EventFail:
			return JobFailed, nil
		default:
			return current, invalidTransition(current, event)
		}
	case JobCompleted, JobFailed:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func TransitionPlayback(current PlaybackState, event Event) (PlaybackState, error) {
	if current.known() {
		switch {
		case event == EventLoad:
			return PlaybackLoaded, nil
		case event == EventUnload:
			return PlaybackEmpty, nil
		case event == EventFail && current != PlaybackEmpty:
			return PlaybackError, nil
		}
	}

	switch current {
	case PlaybackEmpty:
		return current, invalidTransition(current, event)
	case PlaybackLoaded:
		switch event {
		case EventPlay:
			return PlaybackPlaying, nil
		case EventStop:
			return PlaybackStopped, nil
		default:
			return current, invalidTransition(current, event)
		}
	case PlaybackPlaying:
		switch event {
		case EventPause:
			return PlaybackPaused, nil
		case EventStop, EventEnd:
			return PlaybackStopped, nil
		case EventPlay:
			return PlaybackPlaying, nil
		default:
			return current, invalidTransition(current, event)
		}
	case PlaybackPaused:
		switch event {
		case EventPlay:
			return PlaybackPlaying, nil
		case EventStop:
			return PlaybackStopped, nil
		case EventPause:
			return PlaybackPaused, nil
		default:
			return current, invalidTransition(current, event)
		}
	case PlaybackStopped:
		switch event {
		case EventPlay:
			return PlaybackPlaying, nil
		case EventStop:
			return PlaybackStopped, nil
		default:
			return current, invalidTransition(current, event)
		}
	case PlaybackError:
		switch event {
		case EventRecover, EventPlay:
			return PlaybackPlaying, nil
		case EventPause:
			return PlaybackPaused, nil
		case EventExhaust, EventStop:
			return PlaybackStopped, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition[S ~string](state S, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
