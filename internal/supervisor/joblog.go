package supervisor

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rbright/kiroku/internal/progress"
)

// jobLog is the per-job diagnostic transcript of the engine's console.
type jobLog struct {
	mu   sync.Mutex
	file *os.File
}

func openJobLog(path string) (*jobLog, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open job log %q: %w", path, err)
	}
	return &jobLog{file: file}, nil
}

func (l *jobLog) header(argv []string, started time.Time, durationSeconds float64) {
	estimate := "unknown"
	if durationSeconds > 0 {
		estimate = progress.FormatClock(durationSeconds)
	}
	l.writef("Command: %s\nStarted: %s\nEstimated duration: %s\n%s\n",
		strings.Join(argv, " "),
		started.Format(time.RFC3339),
		estimate,
		strings.Repeat("-", 60),
	)
}

func (l *jobLog) line(now time.Time, text string) {
	l.writef("[%s] %s\n", now.Format("15:04:05"), text)
}

func (l *jobLog) footer(ended time.Time, exitCode int, message string) {
	l.writef("%s\nEnded: %s\nExit code: %d\nResult: %s\n",
		strings.Repeat("-", 60),
		ended.Format(time.RFC3339),
		exitCode,
		message,
	)
}

func (l *jobLog) writef(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	_, _ = fmt.Fprintf(l.file, format, args...)
}

func (l *jobLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
