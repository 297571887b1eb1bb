package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const envPrefix = "KIROKU_"

// envOverrides holds KIROKU_* variables. Nil fields were not set.
type envOverrides struct {
	EnginePath      *string  `env:"ENGINE_PATH"`
	EngineLanguage  *string  `env:"ENGINE_LANGUAGE"`
	EngineExtraArgs *string  `env:"ENGINE_EXTRA_ARGS"`
	FFmpeg          *string  `env:"FFMPEG"`
	FFprobe         *string  `env:"FFPROBE"`
	OutputDir       *string  `env:"OUTPUT_DIR"`
	PlaybackSink    *string  `env:"PLAYBACK_SINK"`
	MaxRetries      *int     `env:"PLAYBACK_MAX_RETRIES"`
	IndicatorEnable *bool    `env:"INDICATOR_ENABLE"`
	ClipboardEnable *bool    `env:"CLIPBOARD_ENABLE"`
	MQTTBroker      *string  `env:"MQTT_BROKER"`
	MQTTTopic       *string  `env:"MQTT_TOPIC"`
	MQTTClientID    *string  `env:"MQTT_CLIENT_ID"`
	EventsPerSecond *float64 `env:"EVENTS_MAX_PER_SECOND"`
	HTTPAddr        *string  `env:"HTTP_ADDR"`
	GRPCAddr        *string  `env:"GRPC_ADDR"`
	WatchExtensions *string  `env:"WATCH_EXTENSIONS"`
	LogLevel        *string  `env:"LOG_LEVEL"`
}

// loadEnvironment merges the optional dotenv file with the process environment.
// Process variables win over dotenv entries.
func loadEnvironment(dotenvPath string) (map[string]string, bool, error) {
	environ := make(map[string]string)
	loaded := false

	values, err := godotenv.Read(dotenvPath)
	switch {
	case err == nil:
		loaded = true
		for key, value := range values {
			environ[key] = value
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, false, fmt.Errorf("read env file %q: %w", dotenvPath, err)
	}

	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		environ[key] = value
	}
	return environ, loaded, nil
}

// applyEnv overlays KIROKU_* values from environ onto cfg.
func applyEnv(cfg *Config, environ map[string]string) error {
	var overrides envOverrides
	if err := env.ParseWithOptions(&overrides, env.Options{
		Prefix:      envPrefix,
		Environment: environ,
	}); err != nil {
		return fmt.Errorf("parse %s environment: %w", envPrefix, err)
	}
	return overrides.applyTo(cfg)
}

func (o envOverrides) applyTo(cfg *Config) error {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}

	setString(&cfg.Engine.Path, o.EnginePath)
	setString(&cfg.Engine.Language, o.EngineLanguage)
	if o.EngineExtraArgs != nil {
		command, err := parseCommand(*o.EngineExtraArgs)
		if err != nil {
			return fmt.Errorf("invalid %sENGINE_EXTRA_ARGS: %w", envPrefix, err)
		}
		cfg.Engine.ExtraArgs = command
	}
	setString(&cfg.Tools.FFmpeg, o.FFmpeg)
	setString(&cfg.Tools.FFprobe, o.FFprobe)
	setString(&cfg.Output.Dir, o.OutputDir)
	setString(&cfg.Playback.Sink, o.PlaybackSink)
	if o.MaxRetries != nil {
		cfg.Playback.MaxRetries = *o.MaxRetries
	}
	if o.IndicatorEnable != nil {
		cfg.Indicator.Enable = *o.IndicatorEnable
	}
	if o.ClipboardEnable != nil {
		cfg.Clipboard.Enable = *o.ClipboardEnable
	}
	setString(&cfg.Events.MQTTBroker, o.MQTTBroker)
	setString(&cfg.Events.MQTTTopic, o.MQTTTopic)
	setString(&cfg.Events.MQTTClientID, o.MQTTClientID)
	if o.EventsPerSecond != nil {
		cfg.Events.MaxPerSecond = *o.EventsPerSecond
	}
	setString(&cfg.Server.HTTPAddr, o.HTTPAddr)
	setString(&cfg.Server.GRPCAddr, o.GRPCAddr)
	if o.WatchExtensions != nil {
		cfg.Watch.Extensions, _ = normalizeExtensions(splitList(*o.WatchExtensions))
	}
	if o.LogLevel != nil {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(*o.LogLevel))
	}
	return nil
}
