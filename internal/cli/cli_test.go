package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaultsToHelp(t *testing.T) {
	parsed, err := Parse(nil)
	require.NoError(t, err)
	require.True(t, parsed.ShowHelp)
	require.Equal(t, CommandHelp, parsed.Command)
}

func TestParseCommandWithConfig(t *testing.T) {
	parsed, err := Parse([]string{"--config", "/tmp/kiroku.jsonc", "doctor"})
	require.NoError(t, err)
	require.Equal(t, CommandDoctor, parsed.Command)
	require.Equal(t, "/tmp/kiroku.jsonc", parsed.ConfigPath)
	require.False(t, parsed.ShowHelp)
	require.Empty(t, parsed.Args)
}

func TestParseArgMatrix(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantErr  string
		wantCmd  Command
		wantArgs []string
		wantHelp bool
		wantPath string
	}{
		{
			name:     "help short flag",
			args:     []string{"-h"},
			wantCmd:  CommandHelp,
			wantHelp: true,
		},
		{
			name:     "help long flag",
			args:     []string{"--help"},
			wantCmd:  CommandHelp,
			wantHelp: true,
		},
		{
			name:    "version flag",
			args:    []string{"--version"},
			wantCmd: CommandVersion,
		},
		{
			name:    "config after command",
			args:    []string{"status", "--config", "/tmp/cfg"},
			wantErr: "unexpected flag after command",
		},
		{
			name:    "missing config path",
			args:    []string{"--config"},
			wantErr: "requires a path",
		},
		{
			name:    "unknown flag",
			args:    []string{"--bogus"},
			wantErr: "unknown flag",
		},
		{
			name:    "unknown command",
			args:    []string{"bogus"},
			wantErr: "unknown command",
		},
		{
			name:    "extra args after doctor",
			args:    []string{"doctor", "extra"},
			wantErr: "unexpected arguments",
		},
		{
			name:    "transcribe without audio",
			args:    []string{"transcribe"},
			wantErr: "usage: transcribe <audio>",
		},
		{
			name:     "transcribe with config",
			args:     []string{"--config", "/tmp/cfg", "transcribe", "meeting.mp3"},
			wantCmd:  CommandTranscribe,
			wantArgs: []string{"meeting.mp3"},
			wantPath: "/tmp/cfg",
		},
		{
			name:     "play whole file",
			args:     []string{"play", "a.wav", "a.srt"},
			wantCmd:  CommandPlay,
			wantArgs: []string{"a.wav", "a.srt"},
		},
		{
			name:     "play one segment",
			args:     []string{"play", "a.wav", "a.srt", "4"},
			wantCmd:  CommandPlay,
			wantArgs: []string{"a.wav", "a.srt", "4"},
		},
		{
			name:    "play too many args",
			args:    []string{"play", "a.wav", "a.srt", "4", "5"},
			wantErr: "usage: play",
		},
		{
			name:     "watch dir",
			args:     []string{"watch", "/srv/inbox"},
			wantCmd:  CommandWatch,
			wantArgs: []string{"/srv/inbox"},
		},
		{
			name:    "valid cancel command",
			args:    []string{"cancel"},
			wantCmd: CommandCancel,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := Parse(tc.args)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.wantCmd, parsed.Command)
			require.Equal(t, tc.wantArgs, parsed.Args)
			require.Equal(t, tc.wantHelp, parsed.ShowHelp)
			require.Equal(t, tc.wantPath, parsed.ConfigPath)
		})
	}
}

func TestHelpTextIncludesCoreCommands(t *testing.T) {
	text := HelpText("kiroku")
	require.Contains(t, text, "transcribe <audio>")
	require.Contains(t, text, "play <audio> <captions.srt> [index]")
	require.Contains(t, text, "watch <dir>")
	require.Contains(t, text, "cancel")
	require.Contains(t, text, "doctor")
	require.Contains(t, text, "--config PATH")
}
