package doctor

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/rbright/kiroku/internal/config"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func writeStub(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/usr/bin/env sh\n"+body+"\n"), 0o755))
}

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
}

func TestReportOKAllPassing(t *testing.T) {
	report := Report{Checks: []Check{{Name: "one", Pass: true}, {Name: "two", Pass: true}}}
	require.True(t, report.OK())
}

func TestCheckCommandEmpty(t *testing.T) {
	check := checkCommand(nil, "clipboard_cmd")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "command is empty")
}

func TestCheckBinaryFoundAndMissing(t *testing.T) {
	check := checkBinary("sh", "shell available")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "shell available")

	check = checkBinary("definitely-not-a-real-binary", "unused")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "binary not found")
}

func TestCheckConfigDescribesDefaultsAndWarnings(t *testing.T) {
	check := checkConfig(config.Loaded{
		Path:     "/tmp/kiroku/config.jsonc",
		Warnings: []config.Warning{{Message: "one"}},
	})
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "using defaults")
	require.Contains(t, check.Message, "1 warning(s)")
}

func TestCheckEngineReportsConfigurationError(t *testing.T) {
	check := checkEngine(config.EngineConfig{Path: "definitely-not-a-whisper-binary"})
	require.False(t, check.Pass)
	require.Equal(t, "engine", check.Name)
	require.Contains(t, check.Message, "engine is not usable")
}

func TestCheckEngineFindsStub(t *testing.T) {
	dir := t.TempDir()
	writeStub(t, dir, "fake-whisper", "exit 0")
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))

	check := checkEngine(config.EngineConfig{Path: "fake-whisper", Language: "ja"})
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "language ja")
}

func TestCheckIndicatorHyprVersion(t *testing.T) {
	dir := t.TempDir()
	writeStub(t, dir, "hyprctl", `echo '{"tag":"v0.50.1","commit":"abcdef0123"}'`)
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))

	check := checkIndicator(context.Background(), config.IndicatorConfig{Backend: "hypr"})
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "v0.50.1")
}

func TestCheckIndicatorHyprFailure(t *testing.T) {
	dir := t.TempDir()
	writeStub(t, dir, "hyprctl", "echo 'no instance' >&2; exit 1")
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))

	check := checkIndicator(context.Background(), config.IndicatorConfig{Backend: "hypr"})
	require.False(t, check.Pass)
	require.Equal(t, "hyprland", check.Name)
}

func TestCheckSinkFailureWithInvalidPulseServer(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	check := checkSink(context.Background(), "default")
	require.False(t, check.Pass)
	require.Equal(t, "audio.sink", check.Name)
}

func startHealthServer(t *testing.T, status healthpb.HealthCheckResponse_ServingStatus) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", status)
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestCheckGRPCHealthServing(t *testing.T) {
	addr := startHealthServer(t, healthpb.HealthCheckResponse_SERVING)

	check := checkGRPCHealth(context.Background(), addr)
	require.True(t, check.Pass, check.Message)
	require.Contains(t, check.Message, "is serving")
}

func TestCheckGRPCHealthNotServing(t *testing.T) {
	addr := startHealthServer(t, healthpb.HealthCheckResponse_NOT_SERVING)

	check := checkGRPCHealth(context.Background(), addr)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "NOT_SERVING")
}

func TestCheckGRPCHealthUnreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	check := checkGRPCHealth(context.Background(), addr)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "not reachable")
}

func TestRunIncludesConfiguredChecks(t *testing.T) {
	dir := t.TempDir()
	writeStub(t, dir, "fake-whisper", "exit 0")
	writeStub(t, dir, "fake-copy", "exit 0")
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	cfg := config.Default()
	cfg.Engine.Path = "fake-whisper"
	cfg.Clipboard.Command = config.CommandConfig{Raw: "fake-copy", Argv: []string{"fake-copy"}}
	cfg.Indicator.Enable = false
	cfg.Server.GRPCAddr = ""

	report := Run(context.Background(), config.Loaded{Path: "/tmp/config.jsonc", Config: cfg, Exists: true})

	names := map[string]bool{}
	for _, check := range report.Checks {
		names[check.Name] = true
	}
	require.True(t, names["config"])
	require.True(t, names["engine"])
	require.True(t, names["fake-copy"])
	require.True(t, names["audio.sink"])
	require.False(t, names["hyprland"])
	require.False(t, names["grpc.health"])
	require.False(t, report.OK(), "pulse is unreachable in tests")
}
