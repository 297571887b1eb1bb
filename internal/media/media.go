// Package media wraps the external probe and transcode tools.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeError reports that a source duration could not be determined.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %q: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// Info is the subset of ffprobe output kiroku uses.
type Info struct {
	DurationSeconds float64
	Codec           string
}

// commandResult captures one finished external command.
type commandResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// commandRunner abstracts process execution for tests.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}
	return result, err
}

// Tools resolves ffmpeg/ffprobe binaries and runs them.
type Tools struct {
	FFmpeg  string
	FFprobe string
	runner  commandRunner
}

// NewTools returns Tools bound to the given binaries (names or paths).
func NewTools(ffmpeg, ffprobe string) Tools {
	if strings.TrimSpace(ffmpeg) == "" {
		ffmpeg = "ffmpeg"
	}
	if strings.TrimSpace(ffprobe) == "" {
		ffprobe = "ffprobe"
	}
	return Tools{FFmpeg: ffmpeg, FFprobe: ffprobe, runner: execRunner{}}
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecName string `json:"codec_name"`
	} `json:"streams"`
}

// Probe returns the duration of the first audio stream's container.
func (t Tools) Probe(ctx context.Context, path string) (Info, error) {
	result, err := t.run(ctx, t.FFprobe,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_name:format=duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return Info{}, &ProbeError{Path: path, Err: commandError(t.FFprobe, result, err)}
	}

	var probe probeOutput
	if err := json.Unmarshal(result.Stdout, &probe); err != nil {
		return Info{}, &ProbeError{Path: path, Err: fmt.Errorf("decode ffprobe json: %w", err)}
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(probe.Format.Duration), 64)
	if err != nil || duration <= 0 {
		return Info{}, &ProbeError{Path: path, Err: fmt.Errorf("no usable duration in %q", probe.Format.Duration)}
	}

	info := Info{DurationSeconds: duration}
	if len(probe.Streams) > 0 {
		info.Codec = probe.Streams[0].CodecName
	}
	return info, nil
}

// Normalize transcodes src into a 16kHz mono s16le WAV at dst.
func (t Tools) Normalize(ctx context.Context, src, dst string) error {
	result, err := t.run(ctx, t.FFmpeg,
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", src,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(SampleRate),
		"-c:a", "pcm_s16le",
		dst,
	)
	if err != nil {
		return fmt.Errorf("normalize %q: %w", src, commandError(t.FFmpeg, result, err))
	}
	return nil
}

func (t Tools) run(ctx context.Context, name string, args ...string) (commandResult, error) {
	runner := t.runner
	if runner == nil {
		runner = execRunner{}
	}
	return runner.Run(ctx, name, args...)
}

// commandError folds trimmed stderr into the command failure.
func commandError(name string, result commandResult, err error) error {
	stderr := strings.TrimSpace(string(result.Stderr))
	if stderr == "" {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	if len(stderr) > 512 {
		stderr = stderr[len(stderr)-512:]
	}
	return fmt.Errorf("%s failed (exit %d): %w (%s)", name, result.ExitCode, err, stderr)
}
