// Package playback plays a source recording in sync with its caption segments.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rbright/kiroku/internal/fsm"
	"github.com/rbright/kiroku/internal/timeline"
)

const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 500 * time.Millisecond
	DefaultBoundaryPoll = 50 * time.Millisecond
	defaultEventBuffer  = 64
)

// Options tunes retry and boundary behaviour.
type Options struct {
	MaxRetries   int
	RetryBackoff time.Duration
	BoundaryPoll time.Duration
	TempDir      string
	EventBuffer  int
}

func (o Options) withDefaults() Options {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.BoundaryPoll <= 0 {
		o.BoundaryPoll = DefaultBoundaryPoll
	}
	if o.TempDir == "" {
		o.TempDir = os.TempDir()
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = defaultEventBuffer
	}
	return o
}

// DefaultOptions mirrors the stock retry budget and poll rate.
func DefaultOptions() Options {
	return Options{MaxRetries: DefaultMaxRetries}.withDefaults()
}

// Status is a point-in-time view of the engine.
type Status struct {
	State         fsm.PlaybackState
	Source        string
	PositionMS    int64
	DurationMS    int64
	ActiveSegment int
	BoundaryMS    int64
}

type command struct {
	run   func() error
	reply chan error
}

// Engine serializes every operation, backend callback and timer onto one
// control goroutine.
type Engine struct {
	backend    Backend
	normalizer Normalizer
	opts       Options
	logger     *slog.Logger

	commands  chan command
	events    chan Event
	quit      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once

	// Owned by the control goroutine.
	state      fsm.PlaybackState
	source     string
	rendition  string
	durationMS int64
	boundary   int64
	lastGood   int64
	active     int
	segments   []timeline.Segment
	retry      retryMachine
	retryTimer *time.Timer
	poll       *time.Ticker
	dropped    int
}

func New(backend Backend, normalizer Normalizer, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts = opts.withDefaults()
	e := &Engine{
		backend:    backend,
		normalizer: normalizer,
		opts:       opts,
		logger:     logger,
		commands:   make(chan command),
		events:     make(chan Event, opts.EventBuffer),
		quit:       make(chan struct{}),
		exited:     make(chan struct{}),
		state:      fsm.PlaybackEmpty,
		boundary:   -1,
		active:     -1,
		retry:      newRetryMachine(opts.MaxRetries, opts.RetryBackoff),
	}
	go e.loop()
	return e
}

// Events is closed after Close returns.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Load normalizes path into a fresh temp rendition and opens it, replacing
// whatever was loaded before.
func (e *Engine) Load(ctx context.Context, path string) error {
	select {
	case <-e.exited:
		return ErrClosed
	default:
	}

	if _, err := os.Stat(path); err != nil {
		return &DecodeError{Path: path, Err: err}
	}

	rendition := filepath.Join(e.opts.TempDir, fmt.Sprintf("kiroku_playback_%d.wav", time.Now().UnixNano()))
	if err := e.normalizer.Normalize(ctx, path, rendition); err != nil {
		removeRendition(e.logger, rendition)
		return &DecodeError{Path: path, Err: err}
	}

	if err := e.do(func() error { return e.load(path, rendition) }); err != nil {
		removeRendition(e.logger, rendition)
		return err
	}
	return nil
}

// PlaySegment plays from the segment start and pauses at its end.
func (e *Engine) PlaySegment(segment timeline.Segment) error {
	return e.do(func() error {
		if e.state == fsm.PlaybackEmpty {
			return ErrNotLoaded
		}
		e.cancelRetry()

		start := secondsToMS(segment.Start)
		if err := e.backend.Seek(start); err != nil {
			return e.fault(err)
		}
		e.lastGood = start
		e.boundary = -1
		if end := secondsToMS(segment.End); end > 0 {
			e.boundary = end
		}
		e.emitPosition(start)
		e.updateActive(start)
		return e.play()
	})
}

// Play resumes, or starts from the current position.
func (e *Engine) Play() error {
	return e.do(func() error {
		if e.state == fsm.PlaybackEmpty {
			return ErrNotLoaded
		}
		if e.state == fsm.PlaybackPlaying {
			return nil
		}
		e.cancelRetry()
		return e.play()
	})
}

// Pause holds the current position. While recovering from a fault it
// cancels the pending retry and parks at the last good position. Otherwise
// it is a no-op unless playing.
func (e *Engine) Pause() error {
	return e.do(e.pause)
}

// TogglePause pauses while playing and resumes while paused.
func (e *Engine) TogglePause() error {
	return e.do(func() error {
		switch e.state {
		case fsm.PlaybackPlaying, fsm.PlaybackError:
			return e.pause()
		case fsm.PlaybackPaused:
			return e.play()
		default:
			return nil
		}
	})
}

// Stop rewinds to zero and disarms any segment boundary.
func (e *Engine) Stop() error {
	return e.do(func() error {
		e.stop(fsm.EventStop)
		return nil
	})
}

// Seek moves to ms, clamped to the media.
func (e *Engine) Seek(ms int64) error {
	return e.do(func() error {
		if e.state == fsm.PlaybackEmpty {
			return ErrNotLoaded
		}
		if ms < 0 {
			ms = 0
		}
		if e.durationMS > 0 && ms > e.durationMS {
			ms = e.durationMS
		}
		if err := e.backend.Seek(ms); err != nil {
			return e.fault(err)
		}
		e.emitPosition(ms)
		e.updateActive(ms)
		e.checkBoundary(ms)
		return nil
	})
}

// SetSegments replaces the lookup table used for active-segment events.
func (e *Engine) SetSegments(segments []timeline.Segment) error {
	copied := append([]timeline.Segment(nil), segments...)
	return e.do(func() error {
		e.segments = copied
		e.active = -1
		if e.state != fsm.PlaybackEmpty {
			e.updateActive(e.backend.Position())
		}
		return nil
	})
}

// Status reports the engine state.
func (e *Engine) Status() (Status, error) {
	var status Status
	err := e.do(func() error {
		status = Status{
			State:         e.state,
			Source:        e.source,
			DurationMS:    e.durationMS,
			ActiveSegment: e.active,
			BoundaryMS:    e.boundary,
		}
		if e.state != fsm.PlaybackEmpty {
			status.PositionMS = e.backend.Position()
		}
		return nil
	})
	return status, err
}

// Close stops playback, releases the backend and deletes the rendition.
// Calls after the first return nil.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.do(e.shutdown)
		close(e.quit)
		<-e.exited
	})
	return err
}

func (e *Engine) do(fn func() error) error {
	cmd := command{run: fn, reply: make(chan error, 1)}
	select {
	case e.commands <- cmd:
	case <-e.exited:
		return ErrClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-e.exited:
		return ErrClosed
	}
}

func (e *Engine) loop() {
	defer close(e.exited)
	defer close(e.events)

	backendEvents := e.backend.Events()
	for {
		var pollC, retryC <-chan time.Time
		if e.poll != nil {
			pollC = e.poll.C
		}
		if e.retryTimer != nil {
			retryC = e.retryTimer.C
		}

		select {
		case cmd := <-e.commands:
			cmd.reply <- cmd.run()
		case ev, ok := <-backendEvents:
			if !ok {
				backendEvents = nil
				continue
			}
			e.handleBackend(ev)
		case <-pollC:
			e.checkBoundary(e.backend.Position())
		case <-retryC:
			e.retryTimer = nil
			e.performRetry()
		case <-e.quit:
			e.stopPoll()
			e.cancelRetry()
			return
		}
	}
}

func (e *Engine) load(source, rendition string) error {
	if e.state != fsm.PlaybackEmpty {
		if err := e.backend.Stop(); err != nil {
			e.logger.Warn("stop before reload failed", "error", err.Error())
		}
	}
	e.stopPoll()
	e.cancelRetry()
	removeRendition(e.logger, e.rendition)
	e.rendition = ""

	durationMS, err := e.backend.Open(rendition)
	if err != nil {
		e.source = ""
		e.durationMS = 0
		e.setState(fsm.EventUnload)
		return &DecodeError{Path: source, Err: err}
	}

	e.source = source
	e.rendition = rendition
	e.durationMS = durationMS
	e.boundary = -1
	e.lastGood = 0
	e.active = -1
	e.retry = newRetryMachine(e.opts.MaxRetries, e.opts.RetryBackoff)

	e.logger.Info("media loaded", "source", source, "rendition", rendition, "duration_ms", durationMS)
	e.setState(fsm.EventLoad)
	e.emit(Event{Kind: EventDuration, DurationMS: durationMS})
	e.emitPosition(0)
	e.updateActive(0)
	return nil
}

func (e *Engine) play() error {
	if err := e.backend.Play(); err != nil {
		return e.fault(err)
	}
	e.setState(fsm.EventPlay)
	e.syncPoll()
	return nil
}

func (e *Engine) pause() error {
	if e.state == fsm.PlaybackError {
		return e.holdRecovery()
	}
	if e.state != fsm.PlaybackPlaying {
		return nil
	}
	if err := e.backend.Pause(); err != nil {
		return e.fault(err)
	}
	e.setState(fsm.EventPause)
	e.syncPoll()
	return nil
}

// holdRecovery parks a faulted engine at last-known-good and drops the
// pending retry so the timer cannot resume playback behind the caller.
func (e *Engine) holdRecovery() error {
	e.cancelRetry()
	if err := e.backend.Stop(); err != nil {
		e.logger.Debug("stop while holding recovery failed", "error", err.Error())
	}
	if err := e.backend.Seek(e.lastGood); err != nil {
		e.logger.Warn("seek while holding recovery failed", "position_ms", e.lastGood, "error", err.Error())
	}
	e.setState(fsm.EventPause)
	e.syncPoll()
	e.emitPosition(e.lastGood)
	return nil
}

// stop rewinds and disarms. event is EventStop for a user or end-of-media
// stop, EventExhaust when recovery gave up.
func (e *Engine) stop(event fsm.Event) {
	if e.state == fsm.PlaybackEmpty {
		return
	}
	e.cancelRetry()
	if err := e.backend.Stop(); err != nil {
		e.logger.Warn("backend stop failed", "error", err.Error())
	}
	e.boundary = -1
	e.lastGood = 0
	e.setState(event)
	e.syncPoll()
	e.emitPosition(0)
	e.updateActive(0)
}

func (e *Engine) shutdown() error {
	e.stopPoll()
	e.cancelRetry()
	var errs []error
	if e.state != fsm.PlaybackEmpty {
		if err := e.backend.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.backend.Close(); err != nil {
		errs = append(errs, err)
	}
	removeRendition(e.logger, e.rendition)
	e.rendition = ""
	e.state = fsm.PlaybackEmpty
	return errors.Join(errs...)
}

func (e *Engine) handleBackend(ev BackendEvent) {
	switch ev.Kind {
	case BackendPosition:
		if e.state == fsm.PlaybackEmpty {
			return
		}
		if e.state != fsm.PlaybackError {
			e.lastGood = ev.PositionMS
			if e.state == fsm.PlaybackPlaying && e.retry.Attempt() > 0 {
				e.retry.Succeeded()
			}
		}
		e.emitPosition(ev.PositionMS)
		e.updateActive(ev.PositionMS)
		e.checkBoundary(ev.PositionMS)
	case BackendEndOfMedia:
		e.logger.Debug("end of media", "source", e.source)
		e.stop(fsm.EventStop)
	case BackendError:
		if e.state == fsm.PlaybackEmpty {
			return
		}
		e.handleFault(ev.Err, ev.Recoverable)
	}
}

// fault routes a synchronous backend error through the fault handling and
// hands it back to the caller.
func (e *Engine) fault(err error) error {
	e.handleFault(err, IsRecoverable(err))
	return err
}

func (e *Engine) handleFault(err error, recoverable bool) {
	if !recoverable {
		e.logger.Error("playback fault", "error", errString(err))
		e.emit(Event{Kind: EventError, Err: asPlaybackError(err, false)})
		return
	}

	delay, ok := e.retry.Fail(recoverable)
	if !ok {
		e.logger.Error("playback retries exhausted", "attempts", e.retry.Attempt(), "error", errString(err))
		e.emit(Event{Kind: EventError, Err: &PlaybackError{
			Err: fmt.Errorf("gave up after %d retries: %w", e.retry.Attempt(), err),
		}})
		if e.state != fsm.PlaybackError {
			e.setState(fsm.EventFail)
		}
		e.stop(fsm.EventExhaust)
		return
	}

	e.logger.Warn("playback fault, retrying",
		"attempt", e.retry.Attempt(),
		"max", e.opts.MaxRetries,
		"delay_ms", delay.Milliseconds(),
		"resume_ms", e.lastGood,
		"error", errString(err),
	)
	e.setState(fsm.EventFail)
	e.syncPoll()
	e.cancelRetry()
	e.retryTimer = time.NewTimer(delay)
}

func (e *Engine) performRetry() {
	if e.state != fsm.PlaybackError {
		return
	}
	if _, err := os.Stat(e.rendition); err != nil {
		e.terminal(fmt.Errorf("rendition lost: %w", err))
		return
	}

	if err := e.backend.Stop(); err != nil {
		e.logger.Debug("stop before retry failed", "error", err.Error())
	}
	if err := e.backend.Seek(e.lastGood); err != nil {
		e.retryFailed(err)
		return
	}
	if err := e.backend.Play(); err != nil {
		e.retryFailed(err)
		return
	}

	e.logger.Info("playback recovered", "position_ms", e.lastGood, "attempt", e.retry.Attempt())
	e.setState(fsm.EventRecover)
	e.syncPoll()
}

func (e *Engine) retryFailed(err error) {
	if IsRecoverable(err) {
		e.handleFault(err, true)
		return
	}
	e.terminal(err)
}

func (e *Engine) terminal(err error) {
	e.logger.Error("playback retry failed", "error", errString(err))
	e.emit(Event{Kind: EventError, Err: asPlaybackError(err, false)})
	e.stop(fsm.EventExhaust)
}

func (e *Engine) checkBoundary(positionMS int64) {
	if e.boundary < 0 || e.state != fsm.PlaybackPlaying || positionMS < e.boundary {
		return
	}
	if err := e.backend.Pause(); err != nil {
		e.handleFault(err, IsRecoverable(err))
		return
	}
	e.logger.Debug("segment boundary reached", "position_ms", positionMS, "boundary_ms", e.boundary)
	e.boundary = -1
	e.setState(fsm.EventPause)
	e.syncPoll()
}

func (e *Engine) updateActive(positionMS int64) {
	idx, ok := timeline.ActiveIndex(e.segments, float64(positionMS)/1000)
	if !ok {
		idx = -1
	}
	if idx == e.active {
		return
	}
	e.active = idx
	e.emit(Event{Kind: EventActiveSegment, Segment: idx, PositionMS: positionMS})
}

func (e *Engine) setState(event fsm.Event) {
	next, err := fsm.TransitionPlayback(e.state, event)
	if err != nil {
		e.logger.Debug("ignored playback transition", "error", err.Error())
		return
	}
	if next == e.state {
		return
	}
	e.state = next
	e.emit(Event{Kind: EventState, State: next})
}

func (e *Engine) syncPoll() {
	want := e.boundary >= 0 && e.state == fsm.PlaybackPlaying
	switch {
	case want && e.poll == nil:
		e.poll = time.NewTicker(e.opts.BoundaryPoll)
	case !want:
		e.stopPoll()
	}
}

func (e *Engine) stopPoll() {
	if e.poll != nil {
		e.poll.Stop()
		e.poll = nil
	}
}

func (e *Engine) cancelRetry() {
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
}

// emitPosition drops the update when the consumer lags.
func (e *Engine) emitPosition(ms int64) {
	select {
	case e.events <- Event{Kind: EventPosition, PositionMS: ms, Segment: e.active}:
	default:
	}
}

// emit never blocks the control goroutine: when the buffer is full the
// oldest queued event is discarded to make room.
func (e *Engine) emit(ev Event) {
	for {
		select {
		case e.events <- ev:
			return
		default:
		}
		select {
		case dropped := <-e.events:
			e.dropped++
			e.logger.Debug("playback event dropped", "kind", string(dropped.Kind), "dropped_total", e.dropped)
		default:
		}
	}
}

func asPlaybackError(err error, recoverable bool) error {
	var playbackErr *PlaybackError
	if errors.As(err, &playbackErr) {
		return err
	}
	return &PlaybackError{Recoverable: recoverable, Err: err}
}

func removeRendition(logger *slog.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("remove playback rendition failed", "path", path, "error", err.Error())
	}
}

func secondsToMS(seconds float64) int64 {
	if seconds <= 0 || math.IsNaN(seconds) {
		return 0
	}
	return int64(math.Round(seconds * 1000))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
