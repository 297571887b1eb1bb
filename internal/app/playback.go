package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/rbright/kiroku/internal/audio"
	"github.com/rbright/kiroku/internal/config"
	"github.com/rbright/kiroku/internal/fsm"
	"github.com/rbright/kiroku/internal/media"
	"github.com/rbright/kiroku/internal/playback"
	"github.com/rbright/kiroku/internal/progress"
	"github.com/rbright/kiroku/internal/timeline"
)

func (r Runner) commandSegments(path string) int {
	segments, err := timeline.ParseFile(path)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(segments) == 0 {
		fmt.Fprintf(r.Stderr, "error: no segments found in %s\n", path)
		return 1
	}
	for i, segment := range segments {
		fmt.Fprintf(r.Stdout, "%4d  %s --> %s  %s\n",
			i+1,
			timeline.FormatTimestamp(segment.Start),
			timeline.FormatTimestamp(segment.End),
			segment.Text,
		)
	}
	return 0
}

// parseSegmentIndex maps a 1-based caption number onto segments.
func parseSegmentIndex(raw string, count int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid segment index %q", raw)
	}
	if n < 1 || n > count {
		return 0, fmt.Errorf("segment index %d out of range 1..%d", n, count)
	}
	return n - 1, nil
}

func (r Runner) commandPlay(ctx context.Context, cfg config.Config, args []string, logger *slog.Logger) int {
	segments, err := timeline.ParseFile(args[1])
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	index := -1
	if len(args) == 3 {
		if index, err = parseSegmentIndex(args[2], len(segments)); err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
	}

	sinkID, err := r.resolveSink(ctx, cfg.Playback.Sink, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	engine := playback.New(
		audio.NewPlayer(sinkID),
		media.NewTools(cfg.Tools.FFmpeg, cfg.Tools.FFprobe),
		playback.Options{
			MaxRetries:   cfg.Playback.MaxRetries,
			RetryBackoff: millis(cfg.Playback.RetryBackoffMS),
			BoundaryPoll: millis(cfg.Playback.BoundaryPollMS),
			TempDir:      cfg.Playback.TempDir,
		},
		logger,
	)
	defer func() { _ = engine.Close() }()

	if err := engine.Load(ctx, args[0]); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if err := engine.SetSegments(segments); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	if index >= 0 {
		err = engine.PlaySegment(segments[index])
	} else {
		err = engine.Play()
	}
	if err != nil && !playback.IsRecoverable(err) {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	return r.followPlayback(ctx, engine, segments, index >= 0)
}

// followPlayback prints active caption changes until playback settles.
func (r Runner) followPlayback(ctx context.Context, engine *playback.Engine, segments []timeline.Segment, single bool) int {
	var lastErr error
	for {
		select {
		case <-ctx.Done():
			_ = engine.Stop()
			fmt.Fprintln(r.Stdout, "stopped")
			return 0
		case ev, ok := <-engine.Events():
			if !ok {
				return 0
			}
			switch ev.Kind {
			case playback.EventActiveSegment:
				if ev.Segment >= 0 && ev.Segment < len(segments) {
					segment := segments[ev.Segment]
					fmt.Fprintf(r.Stdout, "[%s] %s\n", progress.FormatClock(segment.Start), segment.Text)
				}
			case playback.EventError:
				lastErr = ev.Err
				if !playback.IsRecoverable(ev.Err) {
					fmt.Fprintf(r.Stderr, "error: %v\n", ev.Err)
				}
			case playback.EventState:
				switch {
				case ev.State == fsm.PlaybackError:
					fmt.Fprintln(r.Stderr, "warning: playback interrupted, retrying")
				case ev.State == fsm.PlaybackStopped:
					return exitFor(lastErr)
				case ev.State == fsm.PlaybackPaused && single:
					return 0
				}
			}
		}
	}
}

func exitFor(err error) int {
	var playErr *playback.PlaybackError
	if errors.As(err, &playErr) && !playErr.Recoverable {
		return 1
	}
	return 0
}

// resolveSink maps playback.sink onto a live sink id. "default" leaves the
// choice to the Pulse server.
func (r Runner) resolveSink(ctx context.Context, preferred string, logger *slog.Logger) (string, error) {
	preferred = strings.TrimSpace(preferred)
	if preferred == "" || strings.EqualFold(preferred, "default") {
		return "", nil
	}
	selection, err := audio.SelectSink(ctx, preferred)
	if err != nil {
		return "", err
	}
	if selection.Warning != "" {
		fmt.Fprintf(r.Stderr, "warning: %s\n", selection.Warning)
		logger.Warn("audio sink warning", "sink", selection.Sink.ID, "warning", selection.Warning)
	}
	return selection.Sink.ID, nil
}
