package supervisor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rbright/kiroku/internal/fsm"
	"github.com/rbright/kiroku/internal/progress"
)

const eventBuffer = 64

type exitResult struct {
	code int
	err  error
}

// Run is one live engine process and its event stream.
type Run struct {
	job       Job
	cmd       *exec.Cmd
	output    *os.File
	joblog    *jobLog
	outputs   artifacts
	estimator *progress.Estimator
	interval  time.Duration
	logger    *slog.Logger

	events     chan Event
	lines      chan string
	exited     chan exitResult
	cancelCh   chan struct{}
	cancelOnce sync.Once
	stop       chan struct{}
	done       chan struct{}

	mu         sync.RWMutex
	state      fsm.JobState
	percent    int
	completion Completion
}

func newRun(
	job Job,
	cmd *exec.Cmd,
	output *os.File,
	joblog *jobLog,
	outputs artifacts,
	estimator *progress.Estimator,
	interval time.Duration,
	logger *slog.Logger,
) *Run {
	return &Run{
		job:       job,
		cmd:       cmd,
		output:    output,
		joblog:    joblog,
		outputs:   outputs,
		estimator: estimator,
		interval:  interval,
		logger:    logger,
		events:    make(chan Event, eventBuffer),
		lines:     make(chan string),
		exited:    make(chan exitResult, 1),
		cancelCh:  make(chan struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		state:     fsm.JobPending,
	}
}

// Job returns the job as launched, with defaults filled in.
func (r *Run) Job() Job {
	return r.job
}

// Events streams progress then exactly one completion, then closes.
func (r *Run) Events() <-chan Event {
	return r.events
}

// State returns the current job state.
func (r *Run) State() fsm.JobState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Percent returns the last displayed percentage.
func (r *Run) Percent() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.percent
}

// Cancel terminates the engine. Calls after the first are no-ops.
func (r *Run) Cancel() {
	r.cancelOnce.Do(func() {
		close(r.cancelCh)
	})
}

// Wait blocks until the run completes and returns its completion. It does not
// consume the event stream.
func (r *Run) Wait() Completion {
	<-r.done
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.completion
}

// Done is closed once the completion is known.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

func (r *Run) transition(event fsm.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := fsm.TransitionJob(r.state, event)
	if err != nil {
		return err
	}
	r.state = next
	return nil
}

func (r *Run) loop(ctx context.Context) {
	defer close(r.events)
	defer close(r.stop)

	go r.readLines()
	go r.waitExit()

	r.emitProgress(progress.Update{Percent: 0, Message: "Starting transcription..."})

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var (
		lines     = r.lines
		exit      *exitResult
		cancelled bool
		ctxDone   = ctx.Done()
		cancelCh  = r.cancelCh
	)

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				if exit != nil {
					r.finish(*exit, cancelled)
					return
				}
				continue
			}
			now := time.Now()
			r.joblog.line(now, line)
			if cancelled {
				continue
			}
			if update, ok := r.estimator.Observe(line, now); ok {
				r.emitProgress(update)
			}
		case result := <-r.exited:
			exit = &result
			if lines == nil || cancelled {
				r.finish(result, cancelled)
				return
			}
		case <-ticker.C:
			if exit != nil {
				// Output still held open after exit; finalize without it.
				r.finish(*exit, cancelled)
				return
			}
			if cancelled {
				continue
			}
			if update, ok := r.estimator.Heartbeat(time.Now()); ok {
				r.emitProgress(update)
			}
		case <-ctxDone:
			ctxDone = nil
			cancelled = r.kill(cancelled)
		case <-cancelCh:
			cancelCh = nil
			cancelled = r.kill(cancelled)
		}
	}
}

func (r *Run) kill(already bool) bool {
	if already {
		return true
	}
	pid := r.cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if killErr := r.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			r.logger.Warn("engine kill failed", "pid", pid, "error", killErr.Error())
		}
	}
	r.logger.Info("engine cancelled", "pid", pid)
	return true
}

// finish finalizes the job exactly once and publishes the completion.
func (r *Run) finish(exit exitResult, cancelled bool) {
	_ = r.output.Close()

	var completion Completion
	if cancelled {
		_ = r.transition(fsm.EventCancel)
		completion = Completion{Success: false, Message: MessageCancelled, ExitCode: exit.code}
	} else {
		if err := r.transition(fsm.EventExited); err != nil {
			r.logger.Warn("unexpected job state at exit", "error", err.Error())
		}
		completion = r.outputs.resolve(exit.code)
		event := fsm.EventSucceed
		if !completion.Success {
			event = fsm.EventFail
		}
		_ = r.transition(event)
	}

	if completion.Success {
		r.mu.Lock()
		r.percent = 100
		r.mu.Unlock()
	}

	r.joblog.footer(time.Now(), exit.code, completion.Message)
	if err := r.joblog.Close(); err != nil {
		r.logger.Warn("close job log failed", "error", err.Error())
	}

	r.logger.Info("engine finished",
		"exit_code", exit.code,
		"success", completion.Success,
		"segments", len(completion.Segments),
		"state", string(r.State()),
	)

	r.mu.Lock()
	r.completion = completion
	r.mu.Unlock()
	close(r.done)

	r.events <- Event{Kind: EventCompletion, Completion: completion}
}

// emitProgress drops updates when the consumer lags, keeping one slot free
// for the completion.
func (r *Run) emitProgress(update progress.Update) {
	r.mu.Lock()
	r.percent = update.Percent
	r.mu.Unlock()

	if len(r.events) >= cap(r.events)-1 {
		return
	}
	r.events <- Event{Kind: EventProgress, Progress: update}
}

func (r *Run) readLines() {
	defer close(r.lines)

	splitter := &consoleSplitter{maxLine: maxConsoleLine}
	scanner := bufio.NewScanner(r.output)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*maxConsoleLine)
	scanner.Split(splitter.split)
	for scanner.Scan() {
		line := scanner.Text()
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		select {
		case r.lines <- line:
		case <-r.stop:
			return
		}
	}

	err := scanner.Err()
	if err == nil || errors.Is(err, os.ErrClosed) {
		return
	}
	// Keep the pipe drained so the engine never blocks on a full buffer.
	r.logger.Warn("engine output unreadable, discarding the rest", "error", err.Error())
	r.joblog.line(time.Now(), "[kiroku] output reader: "+err.Error())
	if _, err := io.Copy(io.Discard, r.output); err != nil && !errors.Is(err, os.ErrClosed) {
		r.logger.Debug("drain engine output failed", "error", err.Error())
	}
}

func (r *Run) waitExit() {
	err := r.cmd.Wait()
	code := 0
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		code = exitErr.ExitCode()
	case err != nil:
		code = -1
	}
	r.exited <- exitResult{code: code, err: err}
}

// maxConsoleLine caps one console line; the rest of a longer line is skipped.
const maxConsoleLine = 256 * 1024

// consoleSplitter wraps scanConsoleLines so an unterminated flood of output
// yields one truncated line instead of bufio.ErrTooLong.
type consoleSplitter struct {
	maxLine    int
	discarding bool
}

func (s *consoleSplitter) split(data []byte, atEOF bool) (int, []byte, error) {
	advance, token, err := scanConsoleLines(data, atEOF)
	if err != nil || advance > 0 {
		if s.discarding {
			s.discarding = false
			return advance, nil, nil
		}
		return advance, s.truncate(token), nil
	}
	if len(data) < s.maxLine {
		return 0, nil, nil
	}

	// A trailing \r is still waiting for a possible \n.
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if s.discarding {
			s.discarding = false
			return i + 1, nil, nil
		}
		return i + 1, s.truncate(data[:i]), nil
	}
	if s.discarding {
		return len(data), nil, nil
	}
	s.discarding = true
	return len(data), data[:s.maxLine], nil
}

func (s *consoleSplitter) truncate(token []byte) []byte {
	if len(token) > s.maxLine {
		return token[:s.maxLine]
	}
	return token
}

// scanConsoleLines splits on \n, \r\n and bare \r.
func scanConsoleLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' {
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
				return i + 1, data[:i], nil
			}
			if !atEOF {
				// Need one more byte to tell \r from \r\n.
				return 0, nil, nil
			}
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
