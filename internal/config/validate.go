package config

import (
	"fmt"
	"strings"
)

var validOutputFormats = map[string]struct{}{
	"txt": {}, "srt": {}, "vtt": {}, "json": {}, "tsv": {}, "text": {},
}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Engine.Path) == "" {
		return nil, fmt.Errorf("engine.path must not be empty")
	}
	if strings.TrimSpace(cfg.Engine.Language) == "" {
		return nil, fmt.Errorf("engine.language must not be empty")
	}
	if len(cfg.Engine.OutputFormats) == 0 {
		return nil, fmt.Errorf("engine.output_formats must not be empty")
	}
	hasSRT := false
	for _, format := range cfg.Engine.OutputFormats {
		if _, ok := validOutputFormats[format]; !ok {
			return nil, fmt.Errorf("engine.output_formats contains unknown format %q", format)
		}
		if format == "srt" {
			hasSRT = true
		}
	}
	if !hasSRT {
		warnings = append(warnings, Warning{Message: "engine.output_formats has no srt; jobs will finish without segments"})
	}

	if strings.TrimSpace(cfg.Tools.FFmpeg) == "" {
		return nil, fmt.Errorf("tools.ffmpeg must not be empty")
	}
	if strings.TrimSpace(cfg.Tools.FFprobe) == "" {
		return nil, fmt.Errorf("tools.ffprobe must not be empty")
	}

	if cfg.Watchdog.IntervalMS <= 0 {
		return nil, fmt.Errorf("watchdog.interval_ms must be > 0")
	}
	if cfg.Watchdog.HeartbeatMS <= 0 {
		return nil, fmt.Errorf("watchdog.heartbeat_ms must be > 0")
	}
	if cfg.Watchdog.HeartbeatMS < cfg.Watchdog.IntervalMS {
		warnings = append(warnings, Warning{Message: "watchdog.heartbeat_ms is shorter than watchdog.interval_ms; heartbeats fire every tick"})
	}

	if cfg.Playback.MaxRetries < 0 {
		return nil, fmt.Errorf("playback.max_retries must be >= 0")
	}
	if cfg.Playback.RetryBackoffMS < 0 {
		return nil, fmt.Errorf("playback.retry_backoff_ms must be >= 0")
	}
	if cfg.Playback.BoundaryPollMS <= 0 {
		return nil, fmt.Errorf("playback.boundary_poll_ms must be > 0")
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Indicator.Backend))
	if backend == "" {
		return nil, fmt.Errorf("indicator.backend must not be empty")
	}
	if backend != "hypr" && backend != "desktop" {
		return nil, fmt.Errorf("indicator.backend must be one of: hypr, desktop")
	}
	if backend == "desktop" && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	if cfg.Clipboard.Enable && !cfg.Clipboard.Command.Configured() {
		return nil, fmt.Errorf("clipboard_cmd must not be empty when clipboard.enable=true")
	}

	if cfg.Events.MQTTBroker != "" {
		if strings.TrimSpace(cfg.Events.MQTTTopic) == "" {
			return nil, fmt.Errorf("events.mqtt_topic must not be empty when events.mqtt_broker is set")
		}
		if !strings.Contains(cfg.Events.MQTTBroker, "://") {
			return nil, fmt.Errorf("events.mqtt_broker must include a scheme such as tcp://")
		}
	}
	if cfg.Events.MaxPerSecond <= 0 {
		return nil, fmt.Errorf("events.max_per_second must be > 0")
	}

	if len(cfg.Watch.Extensions) == 0 {
		return nil, fmt.Errorf("watch.extensions must not be empty")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}

	return warnings, nil
}
