package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateDefaults(t *testing.T) {
	warnings, err := Validate(Default())
	require.NoError(t, err)
	require.Empty(t, warnings)
}

func TestValidateRejectsInvalidCoreFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "empty engine path", mutate: func(c *Config) { c.Engine.Path = "" }, wantErr: "engine.path"},
		{name: "empty language", mutate: func(c *Config) { c.Engine.Language = " " }, wantErr: "engine.language"},
		{name: "no output formats", mutate: func(c *Config) { c.Engine.OutputFormats = nil }, wantErr: "engine.output_formats"},
		{name: "unknown output format", mutate: func(c *Config) { c.Engine.OutputFormats = []string{"srt", "docx"} }, wantErr: `"docx"`},
		{name: "empty ffmpeg", mutate: func(c *Config) { c.Tools.FFmpeg = "" }, wantErr: "tools.ffmpeg"},
		{name: "empty ffprobe", mutate: func(c *Config) { c.Tools.FFprobe = "" }, wantErr: "tools.ffprobe"},
		{name: "zero watchdog interval", mutate: func(c *Config) { c.Watchdog.IntervalMS = 0 }, wantErr: "watchdog.interval_ms"},
		{name: "zero heartbeat", mutate: func(c *Config) { c.Watchdog.HeartbeatMS = 0 }, wantErr: "watchdog.heartbeat_ms"},
		{name: "negative retries", mutate: func(c *Config) { c.Playback.MaxRetries = -1 }, wantErr: "playback.max_retries"},
		{name: "negative backoff", mutate: func(c *Config) { c.Playback.RetryBackoffMS = -1 }, wantErr: "playback.retry_backoff_ms"},
		{name: "zero boundary poll", mutate: func(c *Config) { c.Playback.BoundaryPollMS = 0 }, wantErr: "playback.boundary_poll_ms"},
		{name: "unknown indicator backend", mutate: func(c *Config) { c.Indicator.Backend = "waybar" }, wantErr: "indicator.backend"},
		{name: "desktop without app name", mutate: func(c *Config) {
			c.Indicator.Backend = "desktop"
			c.Indicator.DesktopAppName = ""
		}, wantErr: "desktop_app_name"},
		{name: "negative error timeout", mutate: func(c *Config) { c.Indicator.ErrorTimeoutMS = -1 }, wantErr: "error_timeout"},
		{name: "enabled clipboard without argv", mutate: func(c *Config) { c.Clipboard.Command = CommandConfig{} }, wantErr: "clipboard_cmd"},
		{name: "broker without scheme", mutate: func(c *Config) { c.Events.MQTTBroker = "localhost:1883" }, wantErr: "scheme"},
		{name: "broker without topic", mutate: func(c *Config) {
			c.Events.MQTTBroker = "tcp://localhost:1883"
			c.Events.MQTTTopic = ""
		}, wantErr: "events.mqtt_topic"},
		{name: "zero publish rate", mutate: func(c *Config) { c.Events.MaxPerSecond = 0 }, wantErr: "events.max_per_second"},
		{name: "no watch extensions", mutate: func(c *Config) { c.Watch.Extensions = nil }, wantErr: "watch.extensions"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "trace" }, wantErr: "log_level"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)

			_, err := Validate(cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateAllowsDisabledClipboardWithoutCommand(t *testing.T) {
	cfg := Default()
	cfg.Clipboard = ClipboardConfig{Enable: false}
	_, err := Validate(cfg)
	require.NoError(t, err)
}

func TestValidateWarnsOnShortHeartbeat(t *testing.T) {
	cfg := Default()
	cfg.Watchdog.HeartbeatMS = 200
	warnings, err := Validate(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "heartbeat_ms")
}
