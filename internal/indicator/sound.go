package indicator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/rbright/kiroku/internal/config"
	"github.com/rbright/kiroku/internal/media"
)

type cueKind int

const (
	cueStart cueKind = iota + 1
	cueComplete
	cueCancel
)

const (
	toneRate = 16000
	toneGap  = 22 * time.Millisecond
)

type toneSpec struct {
	frequencyHz float64
	duration    time.Duration
	volume      float64
}

// jobCue is the sound for one job transition: an optional user file and a
// synthesized fallback rendered on first use.
type jobCue struct {
	name  string
	file  func(config.IndicatorConfig) string
	tones func() []int16
}

var jobCues = map[cueKind]jobCue{
	cueStart: {
		name:  "start",
		file:  func(cfg config.IndicatorConfig) string { return cfg.SoundStartFile },
		tones: renderOnce(toneSpec{880, 70 * time.Millisecond, 0.18}, toneSpec{1175, 70 * time.Millisecond, 0.18}),
	},
	cueComplete: {
		name:  "complete",
		file:  func(cfg config.IndicatorConfig) string { return cfg.SoundCompleteFile },
		tones: renderOnce(toneSpec{740, 65 * time.Millisecond, 0.18}, toneSpec{988, 90 * time.Millisecond, 0.18}),
	},
	cueCancel: {
		name:  "cancel",
		file:  func(cfg config.IndicatorConfig) string { return cfg.SoundCancelFile },
		tones: renderOnce(toneSpec{480, 75 * time.Millisecond, 0.18}, toneSpec{360, 90 * time.Millisecond, 0.18}),
	},
}

func renderOnce(tones ...toneSpec) func() []int16 {
	return sync.OnceValue(func() []int16 { return renderTones(toneRate, toneGap, tones) })
}

// emitCue plays the configured cue file and falls back to the synthesized
// tones. WAV files are decoded and streamed to Pulse directly; anything else
// is handed to pw-play.
func emitCue(ctx context.Context, kind cueKind, cfg config.IndicatorConfig) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("emit cue: %w", err)
	}
	cue, ok := jobCues[kind]
	if !ok {
		return nil
	}

	var fileErr error
	if path := cuePath(kind, cfg); path != "" {
		if fileErr = playCueFile(ctx, path); fileErr == nil {
			return nil
		}
	}
	if err := playPCM(ctx, cue.tones(), toneRate, "kiroku "+cue.name+" cue"); err != nil {
		return errors.Join(fileErr, err)
	}
	return nil
}

func cuePath(kind cueKind, cfg config.IndicatorConfig) string {
	cue, ok := jobCues[kind]
	if !ok {
		return ""
	}
	return expandUserPath(cue.file(cfg))
}

func expandUserPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw != "~" && !strings.HasPrefix(raw, "~/") {
		return raw
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return raw
	}
	return filepath.Join(home, strings.TrimPrefix(raw[1:], "/"))
}

func playCueFile(ctx context.Context, path string) error {
	wav, err := media.ReadWAV(path)
	switch {
	case err == nil:
		return playPCM(ctx, wav.Mono(), wav.SampleRate, "kiroku cue "+filepath.Base(path))
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("cue file %q: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "pw-play", "--media-role", "Notification", path).Run(); err != nil {
		return fmt.Errorf("play cue file %q: %w", path, err)
	}
	return nil
}

// playPCM streams mono samples to the default Pulse sink and waits for the
// stream to drain.
func playPCM(ctx context.Context, samples []int16, rate int, mediaName string) error {
	if len(samples) == 0 || rate <= 0 {
		return nil
	}
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("kiroku"),
		pulse.ClientApplicationIconName("audio-x-generic"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	cursor := 0
	stream, err := client.NewPlayback(
		pulse.Int16Reader(func(buf []int16) (int, error) {
			if cursor >= len(samples) || ctx.Err() != nil {
				return 0, pulse.EndOfData
			}
			n := copy(buf, samples[cursor:])
			cursor += n
			if cursor >= len(samples) {
				return n, pulse.EndOfData
			}
			return n, nil
		}),
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(rate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName(mediaName),
	)
	if err != nil {
		return fmt.Errorf("create cue stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play cue stream: %w", err)
	}
	return nil
}

// renderTones joins enveloped sine tones with short silences.
func renderTones(rate int, gap time.Duration, tones []toneSpec) []int16 {
	silence := make([]int16, sampleCount(gap, rate))
	var pcm []int16
	for i, tone := range tones {
		if i > 0 {
			pcm = append(pcm, silence...)
		}
		pcm = append(pcm, tone.render(rate)...)
	}
	return pcm
}

// render produces the tone with a linear attack and release of at most 5ms.
func (t toneSpec) render(rate int) []int16 {
	n := sampleCount(t.duration, rate)
	if n <= 0 || t.frequencyHz <= 0 || t.volume <= 0 {
		return nil
	}

	ramp := max(1, min(n/10, rate/200))
	pcm := make([]int16, n)
	for i := range pcm {
		edge := min(i, n-1-i)
		envelope := 1.0
		if edge < ramp {
			envelope = float64(edge) / float64(ramp)
		}
		phase := 2 * math.Pi * t.frequencyHz * float64(i) / float64(rate)
		pcm[i] = int16(math.Round(math.Sin(phase) * t.volume * envelope * math.MaxInt16))
	}
	return pcm
}

func sampleCount(d time.Duration, rate int) int {
	if d <= 0 || rate <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * float64(rate)))
}
