// Package output applies transcript commit side effects.
package output

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/kiroku/internal/config"
)

const clipboardTimeout = 2 * time.Second

// Clipboard copies finished transcripts through the configured clipboard command.
type Clipboard struct {
	config config.ClipboardConfig
	logger *slog.Logger
}

// NewClipboard constructs a transcript committer from runtime config.
func NewClipboard(cfg config.ClipboardConfig, logger *slog.Logger) *Clipboard {
	return &Clipboard{config: cfg, logger: logger}
}

// Commit writes the transcript to the clipboard. Disabled clipboards and
// blank transcripts are no-ops.
func (c *Clipboard) Commit(ctx context.Context, transcript string) error {
	if !c.config.Enable || strings.TrimSpace(transcript) == "" {
		return nil
	}

	clipboardCtx, cancel := context.WithTimeout(ctx, clipboardTimeout)
	defer cancel()
	if err := runCommandWithInput(clipboardCtx, c.config.Command.Argv, transcript); err != nil {
		return fmt.Errorf("set clipboard: %w", err)
	}
	if c.logger != nil {
		c.logger.Debug("transcript copied to clipboard", "chars", len([]rune(transcript)))
	}
	return nil
}

// runCommandWithInput executes argv and optionally writes input to stdin.
func runCommandWithInput(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin for %s: %w", argv[0], err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start command %s: %w", argv[0], err)
	}

	if input != "" {
		if _, err := stdin.Write([]byte(input)); err != nil {
			_ = stdin.Close()
			_ = cmd.Wait()
			return fmt.Errorf("write stdin for %s: %w", argv[0], err)
		}
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait for %s: %w", argv[0], err)
	}
	return nil
}
