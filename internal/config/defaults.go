package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	clipboard := "wl-copy --trim-newline"

	return Config{
		Engine: EngineConfig{
			Path:          "faster-whisper-xxl",
			Language:      "ja",
			OutputFormats: []string{"txt", "srt"},
		},
		Tools: ToolsConfig{
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
		},
		Watchdog: WatchdogConfig{
			IntervalMS:  1000,
			HeartbeatMS: 5000,
		},
		Playback: PlaybackConfig{
			MaxRetries:     3,
			RetryBackoffMS: 500,
			BoundaryPollMS: 50,
			Sink:           "default",
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			Backend:        "hypr",
			DesktopAppName: "kiroku-indicator",
			SoundEnable:    true,
			ErrorTimeoutMS: 1600,
		},
		Clipboard: ClipboardConfig{
			Enable:  true,
			Command: CommandConfig{Raw: clipboard, Argv: mustParseArgv(clipboard)},
		},
		Events: EventsConfig{
			MQTTTopic:    "kiroku/jobs",
			MQTTClientID: "kiroku",
			MaxPerSecond: 2,
		},
		Watch: WatchConfig{
			Extensions: []string{".wav", ".mp3", ".m4a", ".flac", ".ogg", ".opus", ".mp4", ".mkv", ".webm"},
		},
		LogLevel: "info",
	}
}
