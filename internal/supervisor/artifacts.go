package supervisor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rbright/kiroku/internal/timeline"
)

// ArtifactBase returns the file name of path up to its first dot, which is
// how the engine names its outputs.
func ArtifactBase(path string) string {
	name := filepath.Base(path)
	if idx := strings.Index(name, "."); idx > 0 {
		return name[:idx]
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

type artifacts struct {
	captionsPath   string
	transcriptPath string
}

func artifactPaths(dir, base string) artifacts {
	return artifacts{
		captionsPath:   filepath.Join(dir, base+".srt"),
		transcriptPath: filepath.Join(dir, base+".txt"),
	}
}

// removeStale clears outputs of an earlier run so finalize never reads them.
func (a artifacts) removeStale() error {
	for _, path := range []string{a.captionsPath, a.transcriptPath} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale artifact %q: %w", path, err)
		}
	}
	return nil
}

// resolve builds the completion from whatever the engine left behind. The
// exit code only matters when no artifact exists.
func (a artifacts) resolve(exitCode int) Completion {
	text, textErr := os.ReadFile(a.transcriptPath)
	hasText := textErr == nil

	captions, captionsErr := os.ReadFile(a.captionsPath)
	if captionsErr == nil {
		segments := timeline.Parse(string(captions))
		transcript := string(text)
		if !hasText {
			transcript = timeline.Transcript(segments)
		}
		return Completion{
			Transcript: transcript,
			Segments:   segments,
			Success:    true,
			Message:    fmt.Sprintf("Transcription complete: %d segments", len(segments)),
			ExitCode:   exitCode,
		}
	}

	if hasText {
		return Completion{
			Transcript: string(text),
			Success:    true,
			Message:    "Transcription complete (no captions produced)",
			ExitCode:   exitCode,
		}
	}

	message := fmt.Sprintf("no output files found in %s", filepath.Dir(a.captionsPath))
	if !errors.Is(captionsErr, fs.ErrNotExist) {
		message = fmt.Sprintf("read captions: %v", captionsErr)
	}
	err := &ProcessError{ExitCode: exitCode, Message: message}
	return Completion{
		Success:  false,
		Message:  err.Error(),
		ExitCode: exitCode,
		Err:      err,
	}
}
