// Package session coordinates one owner job lifecycle, its IPC surface, and commit flow.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rbright/kiroku/internal/fsm"
	"github.com/rbright/kiroku/internal/ipc"
	"github.com/rbright/kiroku/internal/progress"
	"github.com/rbright/kiroku/internal/supervisor"
	"github.com/rbright/kiroku/internal/timeline"
)

const stateIdle = "idle"

// Result is the complete lifecycle output returned by one Run invocation.
type Result struct {
	Job        supervisor.Job
	State      fsm.JobState
	Transcript string
	Segments   []timeline.Segment
	Message    string
	ExitCode   int
	Cancelled  bool
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Indicator is the session-facing subset of indicator behavior.
type Indicator interface {
	ShowStarted(context.Context, string)
	ShowProgress(context.Context, int)
	ShowError(context.Context, string)
	CueComplete(context.Context)
	CueCancel(context.Context)
	Hide(context.Context)
}

// ProgressFunc receives every progress update of the active job.
type ProgressFunc func(progress.Update)

// noopIndicator preserves session flow when no indicator is wired.
type noopIndicator struct{}

func (noopIndicator) ShowStarted(context.Context, string) {}
func (noopIndicator) ShowProgress(context.Context, int)   {}
func (noopIndicator) ShowError(context.Context, string)   {}
func (noopIndicator) CueComplete(context.Context)         {}
func (noopIndicator) CueCancel(context.Context)           {}
func (noopIndicator) Hide(context.Context)                {}

// Controller runs jobs one at a time and answers status/cancel requests.
type Controller struct {
	logger    *slog.Logger
	launcher  Launcher
	commit    Committer
	indicator Indicator
	observers []Observer

	mu     sync.RWMutex
	active JobRun
	last   fsm.JobState
}

// NewController constructs a session controller with safe default fallbacks.
func NewController(
	logger *slog.Logger,
	launcher Launcher,
	committer Committer,
	indicator Indicator,
	observers ...Observer,
) *Controller {
	if committer == nil {
		committer = CommitFunc(func(context.Context, string) error { return nil })
	}
	if indicator == nil {
		indicator = noopIndicator{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Controller{
		logger:    logger,
		launcher:  launcher,
		commit:    committer,
		indicator: indicator,
		observers: observers,
	}
}

// State returns the active job state, or the last terminal state, or idle.
func (c *Controller) State() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active != nil {
		return string(c.active.State())
	}
	if c.last != "" {
		return string(c.last)
	}
	return stateIdle
}

// Run executes one job from launch to its terminal completion.
// Cancelling ctx cancels the job; Run still waits for its completion.
func (c *Controller) Run(ctx context.Context, job supervisor.Job, onProgress ProgressFunc) Result {
	result := Result{Job: job, StartedAt: time.Now()}
	if c.launcher == nil {
		result.State = fsm.JobFailed
		result.Err = fmt.Errorf("session has no job launcher")
		result.FinishedAt = time.Now()
		return result
	}

	run, err := c.launcher.Launch(ctx, job)
	if err != nil {
		c.indicator.ShowError(context.Background(), "Unable to start transcription")
		c.finishIdle(fsm.JobFailed)
		result.State = fsm.JobFailed
		result.Err = err
		result.FinishedAt = time.Now()
		return result
	}
	job = run.Job()
	result.Job = job

	c.mu.Lock()
	c.active = run
	c.mu.Unlock()

	for _, o := range c.observers {
		o.JobStarted(job)
	}
	c.indicator.ShowStarted(ctx, filepath.Base(job.SourcePath))
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
		defer cancel()
		c.indicator.Hide(cleanupCtx)
	}()

	ctxDone := ctx.Done()
	shownDecile := -1
	for {
		select {
		case <-ctxDone:
			ctxDone = nil
			c.logger.Info("job cancelled by context", "source", job.SourcePath)
			run.Cancel()
		case ev, ok := <-run.Events():
			if !ok {
				c.finishIdle(run.State())
				result.State = run.State()
				if result.Err == nil && !result.Cancelled && result.State != fsm.JobCompleted {
					result.Err = fmt.Errorf("job events closed without completion")
				}
				result.FinishedAt = time.Now()
				return result
			}
			switch ev.Kind {
			case supervisor.EventProgress:
				if onProgress != nil {
					onProgress(ev.Progress)
				}
				for _, o := range c.observers {
					o.JobProgress(job, ev.Progress)
				}
				if decile := ev.Progress.Percent / 10; decile != shownDecile {
					shownDecile = decile
					c.indicator.ShowProgress(ctx, ev.Progress.Percent)
				}
			case supervisor.EventCompletion:
				c.complete(job, ev.Completion, &result)
			}
		}
	}
}

// complete applies the commit flow and fills result from a terminal completion.
func (c *Controller) complete(job supervisor.Job, completion supervisor.Completion, result *Result) {
	result.Transcript = completion.Transcript
	result.Segments = completion.Segments
	result.Message = completion.Message
	result.ExitCode = completion.ExitCode
	result.Cancelled = completion.Message == supervisor.MessageCancelled

	switch {
	case result.Cancelled:
		c.indicator.CueCancel(context.Background())
	case !completion.Success:
		result.Err = completion.Err
		if result.Err == nil {
			result.Err = fmt.Errorf("%s", completion.Message)
		}
		c.indicator.ShowError(context.Background(), "Transcription failed")
	case strings.TrimSpace(completion.Transcript) == "":
		result.Err = ErrEmptyTranscript
		c.indicator.ShowError(context.Background(), "No speech detected")
	default:
		if err := c.commit.Commit(context.Background(), completion.Transcript); err != nil {
			result.Err = fmt.Errorf("commit transcript: %w", err)
			c.indicator.ShowError(context.Background(), "Output dispatch failed")
			break
		}
		c.indicator.CueComplete(context.Background())
	}

	for _, o := range c.observers {
		o.JobFinished(job, completion)
	}
}

// finishIdle clears the active run and records its final state.
func (c *Controller) finishIdle(state fsm.JobState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = nil
	c.last = state
}

// Handle serves IPC commands for the active owner.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return c.status()
	case ipc.CommandCancel:
		return c.requestCancel()
	default:
		return ipc.Response{OK: false, State: c.State(), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func (c *Controller) status() ipc.Response {
	c.mu.RLock()
	run := c.active
	c.mu.RUnlock()
	if run == nil {
		return ipc.Response{OK: true, State: c.State(), Message: "status"}
	}
	return ipc.Response{
		OK:      true,
		State:   string(run.State()),
		Source:  run.Job().SourcePath,
		Percent: run.Percent(),
		Message: "status",
	}
}

// Cancel cancels the active run when it has not reached a terminal state.
func (c *Controller) Cancel() error {
	c.mu.RLock()
	run := c.active
	c.mu.RUnlock()
	return cancelRun(run)
}

func (c *Controller) requestCancel() ipc.Response {
	c.mu.RLock()
	run := c.active
	c.mu.RUnlock()
	if err := cancelRun(run); err != nil {
		return ipc.Response{OK: false, State: c.State(), Error: err.Error()}
	}
	return ipc.Response{OK: true, State: string(run.State()), Source: run.Job().SourcePath, Message: "cancel requested"}
}

func cancelRun(run JobRun) error {
	if run == nil {
		return ErrNoActiveJob
	}
	if state := run.State(); state.Terminal() {
		return fmt.Errorf("cannot cancel from state %s", state)
	}
	run.Cancel()
	return nil
}
