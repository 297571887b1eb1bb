package session

import (
	"context"
	"errors"

	"github.com/rbright/kiroku/internal/fsm"
	"github.com/rbright/kiroku/internal/progress"
	"github.com/rbright/kiroku/internal/supervisor"
)

var (
	// ErrNoActiveJob is returned by IPC commands that need a running job.
	ErrNoActiveJob = errors.New("no active job")
	// ErrEmptyTranscript indicates the engine produced artifacts without text.
	ErrEmptyTranscript = errors.New("engine produced an empty transcript")
)

// JobRun is the controller-facing view of one supervised engine run.
// *supervisor.Run satisfies it.
type JobRun interface {
	Job() supervisor.Job
	Events() <-chan supervisor.Event
	State() fsm.JobState
	Percent() int
	Cancel()
}

// Launcher starts one engine run for job.
type Launcher interface {
	Launch(context.Context, supervisor.Job) (JobRun, error)
}

// LaunchFunc adapts a function to the Launcher interface.
type LaunchFunc func(context.Context, supervisor.Job) (JobRun, error)

func (f LaunchFunc) Launch(ctx context.Context, job supervisor.Job) (JobRun, error) {
	return f(ctx, job)
}

// SupervisorLauncher adapts a supervisor to the Launcher interface.
func SupervisorLauncher(s *supervisor.Supervisor) Launcher {
	return LaunchFunc(func(ctx context.Context, job supervisor.Job) (JobRun, error) {
		run, err := s.Start(ctx, job)
		if err != nil {
			return nil, err
		}
		return run, nil
	})
}

// Observer receives job lifecycle notifications in event order.
type Observer interface {
	JobStarted(supervisor.Job)
	JobProgress(supervisor.Job, progress.Update)
	JobFinished(supervisor.Job, supervisor.Completion)
}
