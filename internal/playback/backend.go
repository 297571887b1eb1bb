package playback

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotLoaded = errors.New("no media loaded")
	ErrClosed    = errors.New("player closed")
)

// DecodeError reports a source that could not be turned into a playable
// rendition.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// PlaybackError is a backend fault. Recoverable faults are retried from the
// last known good position.
type PlaybackError struct {
	Recoverable bool
	Err         error
}

func (e *PlaybackError) Error() string {
	if e.Recoverable {
		return fmt.Sprintf("playback fault (recoverable): %v", e.Err)
	}
	return fmt.Sprintf("playback fault: %v", e.Err)
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether err is a recoverable PlaybackError.
func IsRecoverable(err error) bool {
	var playbackErr *PlaybackError
	return errors.As(err, &playbackErr) && playbackErr.Recoverable
}

type BackendEventKind int

const (
	BackendPosition BackendEventKind = iota + 1
	BackendEndOfMedia
	BackendError
)

// BackendEvent is an asynchronous notification from the audio device.
type BackendEvent struct {
	Kind        BackendEventKind
	PositionMS  int64
	Err         error
	Recoverable bool
}

// Backend is the audio output device. Calls arrive from a single goroutine.
type Backend interface {
	Open(path string) (durationMS int64, err error)
	Play() error
	Pause() error
	Stop() error
	Seek(ms int64) error
	Position() int64
	Events() <-chan BackendEvent
	Close() error
}

// Normalizer converts an arbitrary source into a WAV rendition the backend
// can open.
type Normalizer interface {
	Normalize(ctx context.Context, src, dst string) error
}
