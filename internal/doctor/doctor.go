// Package doctor runs readiness diagnostics for config, tools, audio, and the watch surfaces.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/kiroku/internal/audio"
	"github.com/rbright/kiroku/internal/config"
	"github.com/rbright/kiroku/internal/hypr"
	"github.com/rbright/kiroku/internal/supervisor"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{checkConfig(cfg)}

	checks = append(checks, checkEngine(cfg.Config.Engine))
	checks = append(checks, checkBinary(cfg.Config.Tools.FFprobe, "duration probe"))
	checks = append(checks, checkBinary(cfg.Config.Tools.FFmpeg, "playback rendition"))

	if cfg.Config.Clipboard.Enable {
		checks = append(checks, checkCommand(cfg.Config.Clipboard.Command.Argv, "clipboard_cmd"))
	}
	if cfg.Config.Indicator.Enable {
		checks = append(checks, checkIndicator(ctx, cfg.Config.Indicator))
	}

	checks = append(checks, checkSink(ctx, cfg.Config.Playback.Sink))

	if addr := strings.TrimSpace(cfg.Config.Server.GRPCAddr); addr != "" {
		checks = append(checks, checkGRPCHealth(ctx, addr))
	}

	return Report{Checks: checks}
}

func checkConfig(cfg config.Loaded) Check {
	message := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		message = fmt.Sprintf("using defaults (%q not found)", cfg.Path)
	}
	if cfg.EnvFile != "" {
		message += fmt.Sprintf(", env %q", cfg.EnvFile)
	}
	if n := len(cfg.Warnings); n > 0 {
		message += fmt.Sprintf(", %d warning(s)", n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkEngine reuses the supervisor preflight so doctor and transcribe agree.
func checkEngine(engine config.EngineConfig) Check {
	sup := supervisor.New(supervisor.Options{EnginePath: engine.Path}, nil)
	if err := sup.Preflight(); err != nil {
		var cfgErr *supervisor.ConfigurationError
		if errors.As(err, &cfgErr) {
			return Check{Name: "engine", Pass: false, Message: cfgErr.Error()}
		}
		return Check{Name: "engine", Pass: false, Message: err.Error()}
	}
	path, _ := exec.LookPath(engine.Path)
	return Check{Name: "engine", Pass: true, Message: fmt.Sprintf("found at %s (language %s)", path, engine.Language)}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

func checkIndicator(ctx context.Context, cfg config.IndicatorConfig) Check {
	if cfg.Backend == "desktop" {
		return checkBinary("busctl", "desktop notifications")
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	version, err := hypr.QueryVersion(probeCtx)
	if err != nil {
		return Check{Name: "hyprland", Pass: false, Message: err.Error()}
	}
	return Check{Name: "hyprland", Pass: true, Message: fmt.Sprintf("running %s", version)}
}

// checkSink runs live sink selection to surface playback.sink issues.
func checkSink(ctx context.Context, preferred string) Check {
	selection, err := audio.SelectSink(ctx, preferred)
	if err != nil {
		return Check{Name: "audio.sink", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Sink.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.sink", Pass: true, Message: message}
}
