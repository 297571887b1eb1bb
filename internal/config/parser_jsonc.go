package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Engine    *jsoncEngine    `json:"engine"`
	Tools     *jsoncTools     `json:"tools"`
	Output    *jsoncOutput    `json:"output"`
	Watchdog  *jsoncWatchdog  `json:"watchdog"`
	Playback  *jsoncPlayback  `json:"playback"`
	Indicator *jsoncIndicator `json:"indicator"`
	Clipboard *jsoncClipboard `json:"clipboard"`
	Events    *jsoncEvents    `json:"events"`
	Server    *jsoncServer    `json:"server"`
	Watch     *jsoncWatch     `json:"watch"`

	ClipboardCmd *string `json:"clipboard_cmd"`
	LogLevel     *string `json:"log_level"`
}

type jsoncEngine struct {
	Path          *string          `json:"path"`
	Language      *string          `json:"language"`
	OutputFormats *jsoncStringList `json:"output_formats"`
	ExtraArgs     *string          `json:"extra_args"`
	Verbose       *bool            `json:"verbose"`
}

type jsoncTools struct {
	FFmpeg  *string `json:"ffmpeg"`
	FFprobe *string `json:"ffprobe"`
}

type jsoncOutput struct {
	Dir *string `json:"dir"`
}

type jsoncWatchdog struct {
	IntervalMS  *int `json:"interval_ms"`
	HeartbeatMS *int `json:"heartbeat_ms"`
}

type jsoncPlayback struct {
	MaxRetries     *int    `json:"max_retries"`
	RetryBackoffMS *int    `json:"retry_backoff_ms"`
	BoundaryPollMS *int    `json:"boundary_poll_ms"`
	TempDir        *string `json:"temp_dir"`
	Sink           *string `json:"sink"`
}

type jsoncIndicator struct {
	Enable            *bool   `json:"enable"`
	Backend           *string `json:"backend"`
	DesktopAppName    *string `json:"desktop_app_name"`
	SoundEnable       *bool   `json:"sound_enable"`
	SoundStartFile    *string `json:"sound_start_file"`
	SoundCompleteFile *string `json:"sound_complete_file"`
	SoundCancelFile   *string `json:"sound_cancel_file"`
	ErrorTimeoutMS    *int    `json:"error_timeout_ms"`
}

type jsoncClipboard struct {
	Enable *bool `json:"enable"`
}

type jsoncEvents struct {
	MQTTBroker   *string  `json:"mqtt_broker"`
	MQTTTopic    *string  `json:"mqtt_topic"`
	MQTTClientID *string  `json:"mqtt_client_id"`
	MaxPerSecond *float64 `json:"max_per_second"`
}

type jsoncServer struct {
	HTTPAddr *string `json:"http_addr"`
	GRPCAddr *string `json:"grpc_addr"`
}

type jsoncWatch struct {
	Extensions *jsoncStringList `json:"extensions"`
}

type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = splitList(single)
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

// splitList splits a comma-delimited value and drops empty entries.
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if e := payload.Engine; e != nil {
		if e.Path != nil {
			cfg.Engine.Path = strings.TrimSpace(*e.Path)
		}
		if e.Language != nil {
			cfg.Engine.Language = strings.TrimSpace(*e.Language)
		}
		if e.OutputFormats != nil {
			cfg.Engine.OutputFormats = normalizeFormats(*e.OutputFormats)
		}
		if e.ExtraArgs != nil {
			command, err := parseCommand(*e.ExtraArgs)
			if err != nil {
				return nil, fmt.Errorf("invalid engine.extra_args: %w", err)
			}
			cfg.Engine.ExtraArgs = command
		}
		if e.Verbose != nil {
			cfg.Engine.Verbose = *e.Verbose
		}
	}

	if t := payload.Tools; t != nil {
		if t.FFmpeg != nil {
			cfg.Tools.FFmpeg = strings.TrimSpace(*t.FFmpeg)
		}
		if t.FFprobe != nil {
			cfg.Tools.FFprobe = strings.TrimSpace(*t.FFprobe)
		}
	}

	if payload.Output != nil && payload.Output.Dir != nil {
		cfg.Output.Dir = strings.TrimSpace(*payload.Output.Dir)
	}

	if w := payload.Watchdog; w != nil {
		if w.IntervalMS != nil {
			cfg.Watchdog.IntervalMS = *w.IntervalMS
		}
		if w.HeartbeatMS != nil {
			cfg.Watchdog.HeartbeatMS = *w.HeartbeatMS
		}
	}

	if p := payload.Playback; p != nil {
		if p.MaxRetries != nil {
			cfg.Playback.MaxRetries = *p.MaxRetries
		}
		if p.RetryBackoffMS != nil {
			cfg.Playback.RetryBackoffMS = *p.RetryBackoffMS
		}
		if p.BoundaryPollMS != nil {
			cfg.Playback.BoundaryPollMS = *p.BoundaryPollMS
		}
		if p.TempDir != nil {
			cfg.Playback.TempDir = strings.TrimSpace(*p.TempDir)
		}
		if p.Sink != nil {
			cfg.Playback.Sink = strings.TrimSpace(*p.Sink)
		}
	}

	if i := payload.Indicator; i != nil {
		if i.Enable != nil {
			cfg.Indicator.Enable = *i.Enable
		}
		if i.Backend != nil {
			cfg.Indicator.Backend = strings.TrimSpace(*i.Backend)
		}
		if i.DesktopAppName != nil {
			cfg.Indicator.DesktopAppName = strings.TrimSpace(*i.DesktopAppName)
		}
		if i.SoundEnable != nil {
			cfg.Indicator.SoundEnable = *i.SoundEnable
		}
		if i.SoundStartFile != nil {
			cfg.Indicator.SoundStartFile = strings.TrimSpace(*i.SoundStartFile)
		}
		if i.SoundCompleteFile != nil {
			cfg.Indicator.SoundCompleteFile = strings.TrimSpace(*i.SoundCompleteFile)
		}
		if i.SoundCancelFile != nil {
			cfg.Indicator.SoundCancelFile = strings.TrimSpace(*i.SoundCancelFile)
		}
		if i.ErrorTimeoutMS != nil {
			cfg.Indicator.ErrorTimeoutMS = *i.ErrorTimeoutMS
		}
	}

	if payload.Clipboard != nil && payload.Clipboard.Enable != nil {
		cfg.Clipboard.Enable = *payload.Clipboard.Enable
	}

	if payload.ClipboardCmd != nil {
		command, err := parseCommand(*payload.ClipboardCmd)
		if err != nil {
			return nil, fmt.Errorf("invalid clipboard_cmd: %w", err)
		}
		cfg.Clipboard.Command = command
	}

	if e := payload.Events; e != nil {
		if e.MQTTBroker != nil {
			cfg.Events.MQTTBroker = strings.TrimSpace(*e.MQTTBroker)
		}
		if e.MQTTTopic != nil {
			cfg.Events.MQTTTopic = strings.TrimSpace(*e.MQTTTopic)
		}
		if e.MQTTClientID != nil {
			cfg.Events.MQTTClientID = strings.TrimSpace(*e.MQTTClientID)
		}
		if e.MaxPerSecond != nil {
			cfg.Events.MaxPerSecond = *e.MaxPerSecond
		}
	}

	if s := payload.Server; s != nil {
		if s.HTTPAddr != nil {
			cfg.Server.HTTPAddr = strings.TrimSpace(*s.HTTPAddr)
		}
		if s.GRPCAddr != nil {
			cfg.Server.GRPCAddr = strings.TrimSpace(*s.GRPCAddr)
		}
	}

	if payload.Watch != nil && payload.Watch.Extensions != nil {
		extensions, dropped := normalizeExtensions(*payload.Watch.Extensions)
		for _, ext := range dropped {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("watch.extensions ignores duplicate %q", ext)})
		}
		cfg.Watch.Extensions = extensions
	}

	if payload.LogLevel != nil {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(*payload.LogLevel))
	}

	return warnings, nil
}

// normalizeFormats lowercases output format names and drops blanks.
func normalizeFormats(formats []string) []string {
	out := make([]string, 0, len(formats))
	for _, format := range formats {
		format = strings.ToLower(strings.TrimSpace(format))
		if format == "" {
			continue
		}
		out = append(out, format)
	}
	return out
}

// normalizeExtensions lowercases and dot-prefixes extensions, returning any duplicates it dropped.
func normalizeExtensions(extensions []string) ([]string, []string) {
	seen := make(map[string]struct{}, len(extensions))
	out := make([]string, 0, len(extensions))
	var dropped []string
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			dropped = append(dropped, ext)
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	return out, dropped
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
