// Package supervisor runs the external transcription engine as a watched job.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rbright/kiroku/internal/fsm"
	"github.com/rbright/kiroku/internal/progress"
	"github.com/rbright/kiroku/internal/timeline"
)

const (
	DefaultWatchdogInterval = time.Second
	DefaultLogFileName      = "kiroku_job.log"

	// MessageCancelled is the completion message of a cancelled run.
	MessageCancelled = "cancelled"
)

// Options configures how the engine is invoked and watched.
type Options struct {
	EnginePath       string
	Language         string
	OutputFormats    []string
	ExtraArgs        []string
	Verbose          bool
	WatchdogInterval time.Duration
	HeartbeatGrace   time.Duration
	LogFileName      string
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Language) == "" {
		o.Language = "ja"
	}
	if len(o.OutputFormats) == 0 {
		o.OutputFormats = []string{"txt", "srt"}
	}
	if o.WatchdogInterval <= 0 {
		o.WatchdogInterval = DefaultWatchdogInterval
	}
	if o.HeartbeatGrace <= 0 {
		o.HeartbeatGrace = progress.DefaultHeartbeat
	}
	if strings.TrimSpace(o.LogFileName) == "" {
		o.LogFileName = DefaultLogFileName
	}
	return o
}

// Job is one transcription request.
type Job struct {
	SourcePath      string
	OutputDir       string
	ArtifactBase    string
	DurationSeconds float64
}

// EventKind distinguishes streaming progress from the terminal completion.
type EventKind string

const (
	EventProgress   EventKind = "progress"
	EventCompletion EventKind = "completion"
)

// Event is one item on a run's event stream.
type Event struct {
	Kind       EventKind
	Progress   progress.Update
	Completion Completion
}

// Completion is the single terminal result of a run.
type Completion struct {
	Transcript string
	Segments   []timeline.Segment
	Success    bool
	Message    string
	ExitCode   int
	Err        error
}

// Supervisor launches engine runs. Only one run is expected at a time; the
// caller enforces that.
type Supervisor struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Supervisor{opts: opts.withDefaults(), logger: logger}
}

// Preflight verifies that the engine binary resolves.
func (s *Supervisor) Preflight() error {
	path := strings.TrimSpace(s.opts.EnginePath)
	if path == "" {
		return &ConfigurationError{Tool: "engine", Err: errors.New("engine.path is empty")}
	}
	if _, err := exec.LookPath(path); err != nil {
		return &ConfigurationError{Tool: "engine", Err: err}
	}
	return nil
}

// Args returns the engine argv (without the binary) for job.
func (s *Supervisor) Args(job Job) []string {
	args := []string{"--language", s.opts.Language, "--output_dir", job.OutputDir}
	for _, format := range s.opts.OutputFormats {
		args = append(args, "--output_format", format)
	}
	verbose := "False"
	if s.opts.Verbose {
		verbose = "True"
	}
	args = append(args, "--verbose", verbose)
	args = append(args, s.opts.ExtraArgs...)
	return append(args, job.SourcePath)
}

// Start launches the engine and returns immediately. The returned run owns
// the process until its completion event is delivered.
func (s *Supervisor) Start(ctx context.Context, job Job) (*Run, error) {
	if err := s.Preflight(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(job.SourcePath); err != nil {
		return nil, &ConfigurationError{Tool: "source", Err: err}
	}
	if strings.TrimSpace(job.OutputDir) == "" {
		job.OutputDir = filepath.Dir(job.SourcePath)
	}
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return nil, &ConfigurationError{Tool: "output_dir", Err: err}
	}
	if strings.TrimSpace(job.ArtifactBase) == "" {
		job.ArtifactBase = ArtifactBase(job.SourcePath)
	}

	outputs := artifactPaths(job.OutputDir, job.ArtifactBase)
	if err := outputs.removeStale(); err != nil {
		return nil, err
	}

	joblog, err := openJobLog(filepath.Join(job.OutputDir, s.opts.LogFileName))
	if err != nil {
		return nil, err
	}

	reader, writer, err := os.Pipe()
	if err != nil {
		_ = joblog.Close()
		return nil, fmt.Errorf("create output pipe: %w", err)
	}

	args := s.Args(job)
	cmd := exec.Command(s.opts.EnginePath, args...)
	cmd.Stdout = writer
	cmd.Stderr = writer
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	started := time.Now()
	joblog.header(append([]string{s.opts.EnginePath}, args...), started, job.DurationSeconds)

	if err := cmd.Start(); err != nil {
		_ = writer.Close()
		_ = reader.Close()
		_ = joblog.Close()
		return nil, &ConfigurationError{Tool: "engine", Err: err}
	}
	_ = writer.Close()

	s.logger.Info("engine started",
		"pid", cmd.Process.Pid,
		"source", job.SourcePath,
		"output_dir", job.OutputDir,
		"duration_seconds", job.DurationSeconds,
	)

	estimator := progress.New(job.DurationSeconds).WithHeartbeat(s.opts.HeartbeatGrace)
	estimator.Start(started)

	run := newRun(job, cmd, reader, joblog, outputs, estimator, s.opts.WatchdogInterval, s.logger)
	if err := run.transition(fsm.EventStart); err != nil {
		return nil, err
	}
	go run.loop(ctx)
	return run, nil
}
