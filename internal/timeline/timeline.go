// Package timeline parses and renders SRT caption timelines.
package timeline

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Segment is one captioned span with offsets in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

const rangeSeparator = "-->"

// Parse converts SRT content into segments in source order.
//
// Blocks without a time-range line or without text are skipped. A block whose
// range fails to parse still yields a segment at 0..0.
func Parse(content string) []Segment {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	segments := make([]Segment, 0)
	for _, block := range splitBlocks(content) {
		segment, ok := parseBlock(block)
		if !ok {
			continue
		}
		segments = append(segments, segment)
	}
	return segments
}

// ParseFile reads and parses one caption file.
func ParseFile(path string) ([]Segment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read captions %q: %w", path, err)
	}
	return Parse(string(content)), nil
}

// splitBlocks groups lines separated by one or more blank lines.
func splitBlocks(content string) [][]string {
	var (
		blocks  [][]string
		current []string
	)
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				blocks = append(blocks, current)
				current = nil
			}
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}
	return blocks
}

func parseBlock(lines []string) (Segment, bool) {
	rangeIdx := -1
	for i, line := range lines {
		if strings.Contains(line, rangeSeparator) {
			rangeIdx = i
			break
		}
	}
	if rangeIdx < 0 {
		return Segment{}, false
	}

	textLines := make([]string, 0, len(lines)-rangeIdx-1)
	for _, line := range lines[rangeIdx+1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		textLines = append(textLines, line)
	}
	if len(textLines) == 0 {
		return Segment{}, false
	}

	start, end := parseRange(lines[rangeIdx])
	return Segment{Start: start, End: end, Text: strings.Join(textLines, " ")}, true
}

// parseRange returns (0, 0) when either side is malformed.
func parseRange(line string) (float64, float64) {
	left, right, ok := strings.Cut(line, rangeSeparator)
	if !ok {
		return 0, 0
	}
	start, err := ParseTimestamp(left)
	if err != nil {
		return 0, 0
	}
	end, err := ParseTimestamp(right)
	if err != nil {
		return 0, 0
	}
	if end < start {
		end = start
	}
	return start, end
}

// ParseTimestamp converts hh:mm:ss,fff (or hh:mm:ss.fff) to seconds.
func ParseTimestamp(raw string) (float64, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty timestamp")
	}
	value := strings.ReplaceAll(fields[0], ",", ".")

	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("timestamp %q: expected hh:mm:ss", raw)
	}
	if !isDigits(parts[0]) {
		return 0, fmt.Errorf("timestamp %q: invalid hours", raw)
	}
	if !isDigits(parts[1]) {
		return 0, fmt.Errorf("timestamp %q: invalid minutes", raw)
	}
	whole, fraction, hasFraction := strings.Cut(parts[2], ".")
	if !isDigits(whole) || (hasFraction && !isDigits(fraction)) {
		return 0, fmt.Errorf("timestamp %q: invalid seconds", raw)
	}

	hours, _ := strconv.Atoi(parts[0])
	minutes, _ := strconv.Atoi(parts[1])
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("timestamp %q: invalid seconds", raw)
	}
	return float64(hours*3600+minutes*60) + seconds, nil
}

// isDigits rejects signs, exponents and the NaN/Inf spellings ParseFloat
// would otherwise accept.
func isDigits(s string) bool {
	if s == "" || len(s) > 9 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Transcript rebuilds plain text from segment texts, one per line.
func Transcript(segments []Segment) string {
	var b strings.Builder
	for _, segment := range segments {
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String()
}

// ActiveIndex returns the first segment containing seconds, if any.
func ActiveIndex(segments []Segment, seconds float64) (int, bool) {
	for i, segment := range segments {
		if segment.Start <= seconds && seconds <= segment.End {
			return i, true
		}
	}
	return -1, false
}
