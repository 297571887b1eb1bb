package indicator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveLocale(t *testing.T) {
	require.Equal(t, localeEnglish, resolveLocale("en_US.UTF-8"))
	require.Equal(t, localeEnglish, resolveLocale("fr_FR.UTF-8"))
	require.Equal(t, localeEnglish, resolveLocale(""))
	require.Equal(t, localeJapanese, resolveLocale("ja_JP.UTF-8"))
}

func TestIndicatorMessagesEnglish(t *testing.T) {
	msg := indicatorMessages(localeEnglish)
	require.Equal(t, "Transcribing meeting.mp3…", msg.startedText("meeting.mp3"))
	require.Equal(t, "Transcribing… 40%", msg.progressText(40))
	require.Equal(t, "Transcription failed", msg.errorText)
}

func TestIndicatorMessagesJapanese(t *testing.T) {
	msg := indicatorMessages(localeJapanese)
	require.Equal(t, "文字起こし中: a.wav", msg.startedText("a.wav"))
	require.Equal(t, "文字起こし中… 90%", msg.progressText(90))
}
