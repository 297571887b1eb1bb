package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionJobHappyPath(t *testing.T) {
	s := JobPending

	next, err := TransitionJob(s, EventStart)
	require.NoError(t, err)
	require.Equal(t, JobRunning, next)

	next, err = TransitionJob(next, EventExited)
	require.NoError(t, err)
	require.Equal(t, JobFinalizing, next)

	next, err = TransitionJob(next, EventSucceed)
	require.NoError(t, err)
	require.Equal(t, JobCompleted, next)
	require.True(t, next.Terminal())
}

func TestTransitionJobCancelAndFail(t *testing.T) {
	for _, state := range []JobState{JobPending, JobRunning} {
		next, err := TransitionJob(state, EventCancel)
		require.NoError(t, err)
		require.Equal(t, JobFailed, next)

		next, err = TransitionJob(state, EventFail)
		require.NoError(t, err)
		require.Equal(t, JobFailed, next)
	}

	next, err := TransitionJob(JobFinalizing, EventFail)
	require.NoError(t, err)
	require.Equal(t, JobFailed, next)
}

func TestTransitionJobTerminalStatesRejectEverything(t *testing.T) {
	events := []Event{EventStart, EventExited, EventSucceed, EventCancel, EventFail}
	for _, state := range []JobState{JobCompleted, JobFailed} {
		for _, event := range events {
			next, err := TransitionJob(state, event)
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid transition")
			require.Equal(t, state, next)
		}
	}
}

func TestTransitionJobMatrixInvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		state JobState
		event Event
	}{
		{name: "pending exited", state: JobPending, event: EventExited},
		{name: "pending succeed", state: JobPending, event: EventSucceed},
		{name: "running start", state: JobRunning, event: EventStart},
		{name: "running succeed", state: JobRunning, event: EventSucceed},
		{name: "finalizing exited", state: JobFinalizing, event: EventExited},
		{name: "finalizing cancel", state: JobFinalizing, event: EventCancel},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := TransitionJob(tc.state, tc.event)
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid transition")
			require.Equal(t, tc.state, next)
		})
	}
}

func TestTransitionPlaybackHappyPath(t *testing.T) {
	steps := []struct {
		event Event
		want  PlaybackState
	}{
		{event: EventLoad, want: PlaybackLoaded},
		{event: EventPlay, want: PlaybackPlaying},
		{event: EventPause, want: PlaybackPaused},
		{event: EventPlay, want: PlaybackPlaying},
		{event: EventEnd, want: PlaybackStopped},
		{event: EventPlay, want: PlaybackPlaying},
		{event: EventFail, want: PlaybackError},
		{event: EventRecover, want: PlaybackPlaying},
		{event: EventFail, want: PlaybackError},
		{event: EventExhaust, want: PlaybackStopped},
		{event: EventUnload, want: PlaybackEmpty},
	}

	state := PlaybackEmpty
	for _, step := range steps {
		next, err := TransitionPlayback(state, step.event)
		require.NoError(t, err, "%s --(%s)-->", state, step.event)
		require.Equal(t, step.want, next)
		state = next
	}
}

func TestTransitionPlaybackPauseDuringRecovery(t *testing.T) {
	next, err := TransitionPlayback(PlaybackError, EventPause)
	require.NoError(t, err)
	require.Equal(t, PlaybackPaused, next)

	next, err = TransitionPlayback(next, EventPlay)
	require.NoError(t, err)
	require.Equal(t, PlaybackPlaying, next)
}

func TestTransitionPlaybackInvalid(t *testing.T) {
	tests := []struct {
		name  string
		state PlaybackState
		event Event
	}{
		{name: "empty play", state: PlaybackEmpty, event: EventPlay},
		{name: "empty fail", state: PlaybackEmpty, event: EventFail},
		{name: "loaded pause", state: PlaybackLoaded, event: EventPause},
		{name: "paused end", state: PlaybackPaused, event: EventEnd},
		{name: "stopped recover", state: PlaybackStopped, event: EventRecover},
		{name: "error end", state: PlaybackError, event: EventEnd},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := TransitionPlayback(tc.state, tc.event)
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid transition")
			require.Equal(t, tc.state, next)
		})
	}
}

func TestTransitionUnknownState(t *testing.T) {
	next, err := TransitionJob(JobState("mystery"), EventStart)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown state")
	require.Equal(t, JobState("mystery"), next)

	pnext, err := TransitionPlayback(PlaybackState("mystery"), EventPlay)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown state")
	require.Equal(t, PlaybackState("mystery"), pnext)
}
