package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rbright/kiroku/internal/config"
	"github.com/rbright/kiroku/internal/fsm"
	"github.com/rbright/kiroku/internal/ipc"
	"github.com/rbright/kiroku/internal/playback"
	"github.com/rbright/kiroku/internal/progress"
	"github.com/rbright/kiroku/internal/session"
	"github.com/rbright/kiroku/internal/supervisor"
	"github.com/stretchr/testify/require"
)

const fakeEngineScript = `#!/bin/sh
out=""
src=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output_dir) out="$2"; shift 2 ;;
    --language|--output_format|--verbose) shift 2 ;;
    *) src="$1"; shift ;;
  esac
done
base=$(basename "$src")
base=${base%%.*}
printf '[00:00.000 --> 00:01.000] hello\n'
if [ "$FAKE_ENGINE_MODE" = "fail" ]; then
  echo "CUDA out of memory" >&2
  exit 2
fi
printf '1\n00:00:00,000 --> 00:00:01,000\nhello\n\n2\n00:00:01,000 --> 00:00:02,000\nworld\n' > "$out/$base.srt"
printf 'hello world\n' > "$out/$base.txt"
`

const fakeProbeScript = `#!/bin/sh
echo '{"format":{"duration":"2.000"},"streams":[{"codec_name":"pcm_s16le"}]}'
`

const sampleSRT = `1
00:00:00,000 --> 00:00:01,500
こんにちは

2
00:00:01,500 --> 00:00:03,000
world
`

type runnerPaths struct {
	configPath string
	runtimeDir string
	binDir     string
	workDir    string
}

func setupRunnerEnv(t *testing.T) runnerPaths {
	t.Helper()

	t.Setenv("XDG_STATE_HOME", t.TempDir())
	runtimeDir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	for _, key := range []string{"KIROKU_ENGINE_PATH", "KIROKU_MQTT_BROKER", "KIROKU_HTTP_ADDR", "KIROKU_GRPC_ADDR"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	binDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "fake-engine"), []byte(fakeEngineScript), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "fake-ffprobe"), []byte(fakeProbeScript), 0o755))

	configDir := t.TempDir()
	configPath := filepath.Join(configDir, "config.jsonc")
	content := fmt.Sprintf(`{
  // test config
  "engine": {"path": %q},
  "tools": {"ffprobe": %q},
  "indicator": {"enable": false, "sound_enable": false},
  "clipboard": {"enable": false},
  "watchdog": {"interval_ms": 50, "heartbeat_ms": 1000},
}
`, filepath.Join(binDir, "fake-engine"), filepath.Join(binDir, "fake-ffprobe"))
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))

	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir, binDir: binDir, workDir: t.TempDir()}
}

func run(t *testing.T, ctx context.Context, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}
	code := runner.Execute(ctx, args)
	return code, stdout.String(), stderr.String()
}

func TestExecuteHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Contains(t, stdout.String(), "kiroku [--config PATH]")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "kiroku")
	require.Empty(t, stderr.String())
}

func TestExecuteUsageErrors(t *testing.T) {
	code, _, stderr := run(t, context.Background(), "definitely-not-a-command")
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "unknown command")
	require.Contains(t, stderr, "Usage:")

	code, _, stderr = run(t, context.Background(), "transcribe")
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "usage: transcribe <audio>")
}

func TestExecuteInvalidConfig(t *testing.T) {
	paths := setupRunnerEnv(t)
	require.NoError(t, os.WriteFile(paths.configPath, []byte(`{"log_level": "loud"}`), 0o600))

	code, _, stderr := run(t, context.Background(), "--config", paths.configPath, "status")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "log_level")
}

func TestRunnerStatusIdleWhenSocketUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t)

	code, stdout, stderr := run(t, context.Background(), "--config", paths.configPath, "status")
	require.Equal(t, 0, code)
	require.Equal(t, "idle\n", stdout)
	require.Empty(t, stderr)
}

func TestRunnerCancelWithoutOwner(t *testing.T) {
	paths := setupRunnerEnv(t)

	code, _, stderr := run(t, context.Background(), "--config", paths.configPath, "cancel")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "no active kiroku job")
}

func TestRunnerForwardsCommandsToOwner(t *testing.T) {
	paths := setupRunnerEnv(t)
	commands := make(chan string, 4)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "kiroku.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		commands <- req.Command
		switch req.Command {
		case ipc.CommandStatus:
			return ipc.Response{OK: true, State: "running", Source: "/inbox/a.wav", Percent: 42}
		case ipc.CommandCancel:
			return ipc.Response{OK: true, Message: "cancel requested"}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	code, stdout, stderr := run(t, context.Background(), "--config", paths.configPath, "status")
	require.Equal(t, 0, code)
	require.Empty(t, stderr)
	require.Equal(t, "running 42% /inbox/a.wav\n", stdout)

	code, stdout, _ = run(t, context.Background(), "--config", paths.configPath, "cancel")
	require.Equal(t, 0, code)
	require.Equal(t, "cancel requested\n", stdout)

	require.Equal(t, []string{"status", "cancel"}, []string{<-commands, <-commands})
}

func TestRunnerCancelReportsOwnerError(t *testing.T) {
	paths := setupRunnerEnv(t)
	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "kiroku.sock"), func(context.Context, ipc.Request) ipc.Response {
		return ipc.Response{OK: false, State: "idle", Error: session.ErrNoActiveJob.Error()}
	})
	defer shutdown()

	code, _, stderr := run(t, context.Background(), "--config", paths.configPath, "cancel")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "no active job")
}

func TestRunnerDoctorCommandPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t)

	code, stdout, _ := run(t, context.Background(), "--config", paths.configPath, "doctor")
	require.Equal(t, 1, code, "pulse is unreachable in tests")
	require.Contains(t, stdout, "[OK] config: loaded")
	require.Contains(t, stdout, "[OK] engine:")
	require.Contains(t, stdout, "[FAIL] audio.sink")
}

func TestRunnerSinksFailsWithoutPulse(t *testing.T) {
	paths := setupRunnerEnv(t)

	code, _, stderr := run(t, context.Background(), "--config", paths.configPath, "sinks")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "error:")
}

func TestRunnerSegments(t *testing.T) {
	paths := setupRunnerEnv(t)
	srt := filepath.Join(paths.workDir, "talk.srt")
	require.NoError(t, os.WriteFile(srt, []byte(sampleSRT), 0o644))

	code, stdout, stderr := run(t, context.Background(), "--config", paths.configPath, "segments", srt)
	require.Equal(t, 0, code, stderr)
	require.Equal(t,
		"   1  00:00:00,000 --> 00:00:01,500  こんにちは\n"+
			"   2  00:00:01,500 --> 00:00:03,000  world\n",
		stdout)
}

func TestRunnerSegmentsErrors(t *testing.T) {
	paths := setupRunnerEnv(t)

	code, _, stderr := run(t, context.Background(), "--config", paths.configPath, "segments", filepath.Join(paths.workDir, "missing.srt"))
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "error:")

	empty := filepath.Join(paths.workDir, "empty.srt")
	require.NoError(t, os.WriteFile(empty, []byte("not captions\n"), 0o644))
	code, _, stderr = run(t, context.Background(), "--config", paths.configPath, "segments", empty)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "no segments found")
}

func TestRunnerTranscribeSuccess(t *testing.T) {
	paths := setupRunnerEnv(t)
	source := filepath.Join(paths.workDir, "meeting.wav")
	require.NoError(t, os.WriteFile(source, []byte("RIFF"), 0o644))

	code, stdout, stderr := run(t, context.Background(), "--config", paths.configPath, "transcribe", source)
	require.Equal(t, 0, code, stderr)
	require.Equal(t, "hello world\n", stdout)

	require.FileExists(t, filepath.Join(paths.workDir, "meeting.srt"))
	require.FileExists(t, filepath.Join(paths.workDir, supervisor.DefaultLogFileName))
	_, err := os.Stat(filepath.Join(paths.runtimeDir, "kiroku.sock"))
	require.ErrorIs(t, err, os.ErrNotExist, "owner socket is removed on exit")
}

func TestRunnerTranscribeEngineFailure(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("FAKE_ENGINE_MODE", "fail")
	source := filepath.Join(paths.workDir, "meeting.wav")
	require.NoError(t, os.WriteFile(source, []byte("RIFF"), 0o644))

	code, stdout, stderr := run(t, context.Background(), "--config", paths.configPath, "transcribe", source)
	require.Equal(t, 1, code)
	require.Empty(t, stdout)
	require.Contains(t, stderr, "engine exited with code 2")
}

func TestRunnerTranscribeMissingSource(t *testing.T) {
	paths := setupRunnerEnv(t)

	code, _, stderr := run(t, context.Background(), "--config", paths.configPath, "transcribe", filepath.Join(paths.workDir, "missing.wav"))
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "error:")
}

func TestRunnerTranscribeRefusesSecondOwner(t *testing.T) {
	paths := setupRunnerEnv(t)
	source := filepath.Join(paths.workDir, "meeting.wav")
	require.NoError(t, os.WriteFile(source, []byte("RIFF"), 0o644))

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "kiroku.sock"), func(context.Context, ipc.Request) ipc.Response {
		return ipc.Response{OK: true, State: "running"}
	})
	defer shutdown()

	code, _, stderr := run(t, context.Background(), "--config", paths.configPath, "transcribe", source)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "already running")
}

func TestRunnerPlayRejectsBadIndex(t *testing.T) {
	paths := setupRunnerEnv(t)
	srt := filepath.Join(paths.workDir, "talk.srt")
	require.NoError(t, os.WriteFile(srt, []byte(sampleSRT), 0o644))

	code, _, stderr := run(t, context.Background(), "--config", paths.configPath, "play", filepath.Join(paths.workDir, "talk.wav"), srt, "9")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "out of range 1..2")
}

func TestRunnerPlayMissingSourceIsDecodeError(t *testing.T) {
	paths := setupRunnerEnv(t)
	srt := filepath.Join(paths.workDir, "talk.srt")
	require.NoError(t, os.WriteFile(srt, []byte(sampleSRT), 0o644))

	code, _, stderr := run(t, context.Background(), "--config", paths.configPath, "play", filepath.Join(paths.workDir, "talk.wav"), srt)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "error:")
}

func TestRunnerWatchProcessesInboxUntilCancelled(t *testing.T) {
	paths := setupRunnerEnv(t)
	inbox := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "memo.m4a"), []byte("data"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	var (
		wg     sync.WaitGroup
		code   int
		stderr string
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		code, _, stderr = run(t, ctx, "--config", paths.configPath, "watch", inbox)
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(inbox, "memo.srt"))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	wg.Wait()
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stderr, "watching "+inbox)
}

func TestParseSegmentIndex(t *testing.T) {
	idx, err := parseSegmentIndex(" 2 ", 3)
	require.NoError(t, err)
	require.Equal(t, 1, idx)

	_, err = parseSegmentIndex("0", 3)
	require.Error(t, err)
	_, err = parseSegmentIndex("abc", 3)
	require.ErrorContains(t, err, "invalid segment index")
}

func TestHasResults(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "talk.final.wav")
	cfg := config.Default()

	require.False(t, hasResults(cfg, source))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "talk.srt"), []byte(sampleSRT), 0o644))
	require.True(t, hasResults(cfg, source))

	cfg.Output.Dir = t.TempDir()
	require.False(t, hasResults(cfg, source))
}

func TestExitFor(t *testing.T) {
	require.Equal(t, 0, exitFor(nil))
	require.Equal(t, 0, exitFor(&playback.PlaybackError{Recoverable: true, Err: errors.New("blip")}))
	require.Equal(t, 1, exitFor(&playback.PlaybackError{Recoverable: false, Err: errors.New("gone")}))
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &progressPrinter{w: &buf}
	p.finish()
	require.Empty(t, buf.String())

	p.print(progress.Update{Percent: 7, Message: "Transcribing 00:07 / 01:40"})
	p.finish()
	require.True(t, strings.HasSuffix(buf.String(), "[  7%] Transcribing 00:07 / 01:40\n"))
}

func TestLogJobResultWritesFailureAndSuccess(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	started := time.Now()
	finished := started.Add(1500 * time.Millisecond)

	logJobResult(logger, session.Result{
		State:      fsm.JobCompleted,
		StartedAt:  started,
		FinishedAt: finished,
		Transcript: "hello",
	})
	require.Contains(t, logBuf.String(), "job complete")
	require.Contains(t, logBuf.String(), `"transcript_length":5`)
	require.Contains(t, logBuf.String(), `"duration_ms":1500`)

	logBuf.Reset()
	logJobResult(logger, session.Result{
		State:      fsm.JobFailed,
		StartedAt:  started,
		FinishedAt: finished,
		Err:        errors.New("boom"),
	})
	require.Contains(t, logBuf.String(), "job failed")
	require.Contains(t, logBuf.String(), "boom")
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}
