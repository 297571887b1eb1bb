// Package progress infers job completion from unstructured engine output.
package progress

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultHeartbeat is the quiet window after which Heartbeat reports elapsed time.
const DefaultHeartbeat = 5 * time.Second

// maxStreaming caps mid-stream percentages; 100 belongs to completion.
const maxStreaming = 99

// Source identifies which heuristic produced an update.
type Source string

const (
	SourceTimestamp Source = "timestamp"
	SourceCounter   Source = "counter"
	SourceKeyword   Source = "keyword"
	SourceHeartbeat Source = "heartbeat"
)

// Update is one displayable progress step.
type Update struct {
	Percent int
	Message string
	Source  Source
}

type rangePattern struct {
	re  *regexp.Regexp
	end func([]string) float64
}

var rangePatterns = []rangePattern{
	{
		// [mm:ss.fff --> mm:ss.fff]
		re: regexp.MustCompile(`\[?(\d+):(\d+)\.(\d+)\s+-->\s+(\d+):(\d+)\.(\d+)\]?`),
		end: func(m []string) float64 {
			return clock(0, atoi(m[4]), atoi(m[5]), millis(m[6]))
		},
	},
	{
		// hh:mm:ss,fff --> hh:mm:ss,fff
		re: regexp.MustCompile(`(\d+):(\d+):(\d+),(\d+)\s+-->\s+(\d+):(\d+):(\d+),(\d+)`),
		end: func(m []string) float64 {
			return clock(atoi(m[5]), atoi(m[6]), atoi(m[7]), millis(m[8]))
		},
	},
	{
		// hh:mm:ss.fff --> hh:mm:ss.fff
		re: regexp.MustCompile(`(\d+):(\d+):(\d+)\.(\d+)\s+-->\s+(\d+):(\d+):(\d+)\.(\d+)`),
		end: func(m []string) float64 {
			return clock(atoi(m[5]), atoi(m[6]), atoi(m[7]), millis(m[8]))
		},
	},
	{
		// hh:mm:ss --> hh:mm:ss
		re: regexp.MustCompile(`(\d+):(\d+):(\d+)\s+-->\s+(\d+):(\d+):(\d+)`),
		end: func(m []string) float64 {
			return clock(atoi(m[4]), atoi(m[5]), atoi(m[6]), 0)
		},
	},
}

var counterPattern = regexp.MustCompile(`^\s*(\d+)\s*/\s*(\d+)`)

type milestone struct {
	keyword string
	percent int
	message string
}

// milestones are checked in order; the first keyword present wins.
var milestones = []milestone{
	{keyword: "Initializing", percent: 5, message: "Initializing engine..."},
	{keyword: "Transcribing", percent: 10, message: "Processing audio..."},
	{keyword: "Detecting speakers", percent: 50, message: "Detecting speakers..."},
	{keyword: "Saving", percent: 80, message: "Saving transcript..."},
	{keyword: "Processing", percent: 30, message: "Analyzing audio..."},
	{keyword: "Writing", percent: 90, message: "Writing output files..."},
}

// Estimator tracks one job's displayed progress. It is not safe for
// concurrent use; the supervisor feeds it from a single goroutine.
type Estimator struct {
	duration  float64
	grace     time.Duration
	percent   int
	position  float64
	lastSeen  time.Time
	startedAt time.Time
}

// New returns an estimator for a job of the given duration in seconds.
// A non-positive duration disables timestamp-based percentages.
func New(durationSeconds float64) *Estimator {
	if durationSeconds < 0 || math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) {
		durationSeconds = 0
	}
	return &Estimator{duration: durationSeconds, grace: DefaultHeartbeat}
}

// WithHeartbeat overrides the heartbeat grace window.
func (e *Estimator) WithHeartbeat(grace time.Duration) *Estimator {
	if grace > 0 {
		e.grace = grace
	}
	return e
}

// Start records the job start used for elapsed-time messages.
func (e *Estimator) Start(now time.Time) {
	e.startedAt = now
	e.lastSeen = now
}

// Percent returns the displayed, never-decreasing percentage.
func (e *Estimator) Percent() int {
	return e.percent
}

// Position returns the furthest engine timestamp seen, in seconds.
func (e *Estimator) Position() float64 {
	return e.position
}

// Duration returns the job duration the estimator was built with.
func (e *Estimator) Duration() float64 {
	return e.duration
}

// Observe consumes one raw output line. It reports an update when the line
// carried recognizable progress.
func (e *Estimator) Observe(line string, now time.Time) (Update, bool) {
	e.lastSeen = now

	line = strings.TrimSpace(line)
	if line == "" {
		return Update{}, false
	}

	if update, ok := e.fromTimestamp(line); ok {
		return update, true
	}
	if update, ok := e.fromCounter(line); ok {
		return update, true
	}
	return e.fromKeyword(line)
}

// Heartbeat reports elapsed time when no line arrived within the grace window.
// The displayed percentage is carried unchanged.
func (e *Estimator) Heartbeat(now time.Time) (Update, bool) {
	if e.lastSeen.IsZero() {
		e.Start(now)
	}
	if now.Sub(e.lastSeen) < e.grace {
		return Update{}, false
	}
	e.lastSeen = now

	elapsed := FormatClock(now.Sub(e.startedAt).Seconds())
	var message string
	switch {
	case e.position > 0 && e.duration > 0:
		message = fmt.Sprintf("Transcribing... %s/%s (%d%%)", FormatClock(e.position), FormatClock(e.duration), e.percent)
	case e.position > 0:
		message = fmt.Sprintf("Transcribing... at %s", FormatClock(e.position))
	case e.percent > 0:
		message = fmt.Sprintf("Transcribing... (elapsed %s)", elapsed)
	default:
		message = fmt.Sprintf("Running transcription... elapsed %s", elapsed)
	}
	return Update{Percent: e.percent, Message: message, Source: SourceHeartbeat}, true
}

func (e *Estimator) fromTimestamp(line string) (Update, bool) {
	end, ok := latestRangeEnd(line)
	if !ok {
		return Update{}, false
	}
	if end > e.position {
		e.position = end
	}

	if e.duration <= 0 {
		return Update{
			Percent: e.percent,
			Message: fmt.Sprintf("Transcribing... at %s", FormatClock(end)),
			Source:  SourceTimestamp,
		}, true
	}

	e.raise(int(math.Floor(end / e.duration * 100)))
	return Update{
		Percent: e.percent,
		Message: fmt.Sprintf("Transcribing... %s/%s (%d%%)", FormatClock(end), FormatClock(e.duration), e.percent),
		Source:  SourceTimestamp,
	}, true
}

func (e *Estimator) fromCounter(line string) (Update, bool) {
	lower := strings.ToLower(line)
	idx := strings.Index(lower, "segment")
	if idx < 0 {
		return Update{}, false
	}
	m := counterPattern.FindStringSubmatch(line[idx+len("segment"):])
	if m == nil {
		return Update{}, false
	}
	current, total := atoi(m[1]), atoi(m[2])
	if total <= 0 {
		return Update{}, false
	}

	e.raise(99 * current / total)
	return Update{
		Percent: e.percent,
		Message: fmt.Sprintf("Transcribing... segment %d/%d", current, total),
		Source:  SourceCounter,
	}, true
}

func (e *Estimator) fromKeyword(line string) (Update, bool) {
	for _, m := range milestones {
		if !strings.Contains(line, m.keyword) {
			continue
		}
		e.raise(m.percent)
		return Update{Percent: e.percent, Message: m.message, Source: SourceKeyword}, true
	}
	return Update{}, false
}

// raise stores candidate when it exceeds the displayed value.
func (e *Estimator) raise(candidate int) {
	if candidate > maxStreaming {
		candidate = maxStreaming
	}
	if candidate > e.percent {
		e.percent = candidate
	}
}

// latestRangeEnd returns the largest range end found in line.
func latestRangeEnd(line string) (float64, bool) {
	if !strings.Contains(line, "-->") {
		return 0, false
	}
	for _, p := range rangePatterns {
		matches := p.re.FindAllStringSubmatch(line, -1)
		if len(matches) == 0 {
			continue
		}
		latest := -1.0
		for _, m := range matches {
			if end := p.end(m); end > latest {
				latest = end
			}
		}
		return latest, true
	}
	return 0, false
}

// FormatClock renders seconds as MM:SS, or HH:MM:SS past the first hour.
func FormatClock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%02d:%02d", minutes, secs)
}

func clock(hours, minutes, seconds int, fraction float64) float64 {
	return float64(hours*3600+minutes*60+seconds) + fraction
}

// millis interprets a fractional digit run ("5", "50", "500") as seconds.
func millis(digits string) float64 {
	v, err := strconv.ParseFloat("0."+digits, 64)
	if err != nil {
		return 0
	}
	return v
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
