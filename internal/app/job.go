package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rbright/kiroku/internal/config"
	"github.com/rbright/kiroku/internal/events"
	"github.com/rbright/kiroku/internal/media"
	"github.com/rbright/kiroku/internal/session"
	"github.com/rbright/kiroku/internal/supervisor"
)

const probeTimeout = 10 * time.Second

func newSupervisor(cfg config.Config, logger *slog.Logger) *supervisor.Supervisor {
	return supervisor.New(supervisor.Options{
		EnginePath:       cfg.Engine.Path,
		Language:         cfg.Engine.Language,
		OutputFormats:    cfg.Engine.OutputFormats,
		ExtraArgs:        cfg.Engine.ExtraArgs.Argv,
		Verbose:          cfg.Engine.Verbose,
		WatchdogInterval: millis(cfg.Watchdog.IntervalMS),
		HeartbeatGrace:   millis(cfg.Watchdog.HeartbeatMS),
	}, logger)
}

// buildJob probes the source duration. A failed probe degrades to
// elapsed-time progress instead of failing the job.
func buildJob(ctx context.Context, cfg config.Config, path string, logger *slog.Logger) supervisor.Job {
	job := supervisor.Job{SourcePath: path, OutputDir: cfg.Output.Dir}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	tools := media.NewTools(cfg.Tools.FFmpeg, cfg.Tools.FFprobe)
	info, err := tools.Probe(probeCtx, path)
	if err != nil {
		var probeErr *media.ProbeError
		if errors.As(err, &probeErr) {
			logger.Warn("duration probe failed, progress falls back to elapsed time", "error", err.Error())
		} else {
			logger.Warn("duration probe failed", "error", err.Error())
		}
		return job
	}
	job.DurationSeconds = info.DurationSeconds
	logger.Debug("probed source", "path", path, "duration_seconds", info.DurationSeconds, "codec", info.Codec)
	return job
}

// hasResults reports whether a caption artifact already exists for path.
func hasResults(cfg config.Config, path string) bool {
	dir := cfg.Output.Dir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	_, err := os.Stat(filepath.Join(dir, supervisor.ArtifactBase(path)+".srt"))
	return err == nil
}

// connectEvents returns the MQTT observer when a broker is configured.
// Broker failures are logged and leave the job running without events.
func connectEvents(cfg config.Config, logger *slog.Logger) ([]session.Observer, func()) {
	publisher, err := events.Connect(cfg.Events, logger)
	if err != nil {
		logger.Warn("mqtt events disabled", "broker", cfg.Events.MQTTBroker, "error", err.Error())
		return nil, func() {}
	}
	if publisher == nil {
		return nil, func() {}
	}
	return []session.Observer{publisher}, publisher.Close
}

func logJobResult(logger *slog.Logger, result session.Result) {
	if logger == nil {
		return
	}
	fields := []any{
		"source", result.Job.SourcePath,
		"state", result.State,
		"cancelled", result.Cancelled,
		"exit_code", result.ExitCode,
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
		"segments", len(result.Segments),
		"transcript_length", len(result.Transcript),
	}

	if result.Err != nil {
		logger.Error("job failed", append(fields, "error", result.Err.Error())...)
		return
	}
	logger.Info("job complete", fields...)
}
