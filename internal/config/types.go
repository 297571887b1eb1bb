// Package config resolves, parses, validates, and defaults kiroku configuration.
package config

// Config is the fully materialized runtime configuration used by kiroku.
type Config struct {
	Engine    EngineConfig
	Tools     ToolsConfig
	Output    OutputConfig
	Watchdog  WatchdogConfig
	Playback  PlaybackConfig
	Indicator IndicatorConfig
	Clipboard ClipboardConfig
	Events    EventsConfig
	Server    ServerConfig
	Watch     WatchConfig
	LogLevel  string
}

// EngineConfig describes the speech-to-text engine invocation.
type EngineConfig struct {
	Path          string
	Language      string
	OutputFormats []string
	ExtraArgs     CommandConfig
	Verbose       bool
}

// ToolsConfig names the media helpers used for probing and normalization.
type ToolsConfig struct {
	FFmpeg  string
	FFprobe string
}

// OutputConfig controls where engine artifacts are written.
// An empty Dir writes next to the source file.
type OutputConfig struct {
	Dir string
}

// WatchdogConfig controls the supervisor tick and heartbeat window.
type WatchdogConfig struct {
	IntervalMS  int
	HeartbeatMS int
}

// PlaybackConfig controls review playback retry and boundary behavior.
type PlaybackConfig struct {
	MaxRetries     int
	RetryBackoffMS int
	BoundaryPollMS int
	TempDir        string
	Sink           string
}

// IndicatorConfig controls visual indicator and audio cue behavior.
type IndicatorConfig struct {
	Enable            bool
	Backend           string
	DesktopAppName    string
	SoundEnable       bool
	SoundStartFile    string
	SoundCompleteFile string
	SoundCancelFile   string
	ErrorTimeoutMS    int
}

// ClipboardConfig controls copying finished transcripts.
type ClipboardConfig struct {
	Enable  bool
	Command CommandConfig
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// EventsConfig controls MQTT publication. An empty broker disables it.
type EventsConfig struct {
	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string
	MaxPerSecond float64
}

// ServerConfig controls the optional watch-mode network surfaces.
type ServerConfig struct {
	HTTPAddr string
	GRPCAddr string
}

// WatchConfig controls which inbox files become jobs.
type WatchConfig struct {
	Extensions []string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
