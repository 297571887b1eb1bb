package indicator

import (
	"fmt"
	"os"
	"strings"
)

type locale string

const (
	localeEnglish  locale = "en"
	localeJapanese locale = "ja"
)

type messages struct {
	started   string
	progress  string
	errorText string
}

func indicatorMessagesFromEnv() messages {
	return indicatorMessages(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "ja") {
		return localeJapanese
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeJapanese:
		return messages{
			started:   "文字起こし中: %s",
			progress:  "文字起こし中… %d%%",
			errorText: "文字起こしに失敗しました",
		}
	case localeEnglish:
		fallthrough
	default:
		return messages{
			started:   "Transcribing %s…",
			progress:  "Transcribing… %d%%",
			errorText: "Transcription failed",
		}
	}
}

func (m messages) startedText(name string) string {
	return fmt.Sprintf(m.started, name)
}

func (m messages) progressText(percent int) string {
	return fmt.Sprintf(m.progress, percent)
}
