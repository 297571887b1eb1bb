package timeline

import (
	"fmt"
	"math"
	"os"
	"strings"
)

// Format renders segments as indexed SRT blocks.
func Format(segments []Segment) string {
	var b strings.Builder
	for i, segment := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1,
			FormatTimestamp(segment.Start),
			FormatTimestamp(segment.End),
			strings.TrimSpace(segment.Text),
		)
	}
	return b.String()
}

// WriteFile writes segments to path in SRT form.
func WriteFile(path string, segments []Segment) error {
	if err := os.WriteFile(path, []byte(Format(segments)), 0o644); err != nil {
		return fmt.Errorf("write captions %q: %w", path, err)
	}
	return nil
}

// FormatTimestamp renders seconds as hh:mm:ss,fff.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMS := int64(math.Round(seconds * 1000))
	hours := totalMS / 3_600_000
	minutes := (totalMS % 3_600_000) / 60_000
	secs := (totalMS % 60_000) / 1000
	millis := totalMS % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}
