package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandTranscribe Command = "transcribe"
	CommandSegments   Command = "segments"
	CommandPlay       Command = "play"
	CommandWatch      Command = "watch"
	CommandStatus     Command = "status"
	CommandCancel     Command = "cancel"
	CommandSinks      Command = "sinks"
	CommandDoctor     Command = "doctor"
	CommandVersion    Command = "version"
	CommandHelp       Command = "help"
)

// arity bounds the positional arguments each command accepts.
type arity struct {
	min   int
	max   int
	usage string
}

var validCommands = map[Command]arity{
	CommandTranscribe: {min: 1, max: 1, usage: "transcribe <audio>"},
	CommandSegments:   {min: 1, max: 1, usage: "segments <captions.srt>"},
	CommandPlay:       {min: 2, max: 3, usage: "play <audio> <captions.srt> [index]"},
	CommandWatch:      {min: 1, max: 1, usage: "watch <dir>"},
	CommandStatus:     {},
	CommandCancel:     {},
	CommandSinks:      {},
	CommandDoctor:     {},
	CommandVersion:    {},
	CommandHelp:       {},
}

type Parsed struct {
	Command    Command
	Args       []string
	ConfigPath string
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}
	commandSeen := false

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if commandSeen {
			if strings.HasPrefix(arg, "-") && arg != "-" {
				return Parsed{}, fmt.Errorf("unexpected flag after command %q: %s", parsed.Command, arg)
			}
			parsed.Args = append(parsed.Args, arg)
			continue
		}

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			commandSeen = true
		}
	}

	bounds := validCommands[parsed.Command]
	if n := len(parsed.Args); n < bounds.min || n > bounds.max {
		if bounds.usage == "" {
			return Parsed{}, fmt.Errorf("unexpected arguments after command %q", parsed.Command)
		}
		return Parsed{}, fmt.Errorf("usage: %s", bounds.usage)
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [args]

Commands:
  transcribe <audio>                   Run one transcription job and print the transcript
  segments <captions.srt>              Print the segments of a caption file
  play <audio> <captions.srt> [index]  Play audio in sync with captions, or one segment
  watch <dir>                          Transcribe audio files dropped into a directory
  status                               Print the active job state
  cancel                               Cancel the active job
  sinks                                List available audio output sinks
  doctor                               Run configuration and environment checks
  version                              Print version information
  help                                 Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/kiroku/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
