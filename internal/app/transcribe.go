package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rbright/kiroku/internal/config"
	"github.com/rbright/kiroku/internal/indicator"
	"github.com/rbright/kiroku/internal/ipc"
	"github.com/rbright/kiroku/internal/output"
	"github.com/rbright/kiroku/internal/progress"
	"github.com/rbright/kiroku/internal/session"
)

const (
	acquireProbeTimeout = 180 * time.Millisecond
	acquireRetries      = 8
)

// ownerSocket binds the runtime socket so status/cancel can reach this process.
func ownerSocket(ctx context.Context) (func(), net.Listener, error) {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return nil, nil, err
	}
	listener, err := ipc.Acquire(ctx, socketPath, acquireProbeTimeout, acquireRetries)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			return nil, nil, fmt.Errorf("%w (see `kiroku status`)", err)
		}
		return nil, nil, err
	}
	release := func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}
	return release, listener, nil
}

func (r Runner) commandTranscribe(ctx context.Context, cfg config.Config, path string, logger *slog.Logger) int {
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	release, listener, err := ownerSocket(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer release()

	notifier := indicator.New(cfg.Indicator, logger)
	defer notifier.Wait()

	observers, closeEvents := connectEvents(cfg, logger)
	defer closeEvents()

	controller := session.NewController(
		logger,
		session.SupervisorLauncher(newSupervisor(cfg, logger)),
		session.Committers{output.NewClipboard(cfg.Clipboard, logger)},
		notifier,
		observers...,
	)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.ServeWithLogger(serverCtx, listener, controller, logger)
	}()

	job := buildJob(ctx, cfg, path, logger)
	printer := &progressPrinter{w: r.Stderr}
	result := controller.Run(ctx, job, printer.print)
	printer.finish()

	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	logJobResult(logger, result)

	if result.Cancelled {
		fmt.Fprintln(r.Stdout, "cancelled")
		return 0
	}
	if result.Err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", result.Err)
		return 1
	}
	fmt.Fprintln(r.Stdout, strings.TrimSpace(result.Transcript))
	return 0
}

// progressPrinter redraws one stderr status line per update.
type progressPrinter struct {
	w       io.Writer
	printed bool
}

func (p *progressPrinter) print(update progress.Update) {
	fmt.Fprintf(p.w, "\r\x1b[K[%3d%%] %s", update.Percent, update.Message)
	p.printed = true
}

func (p *progressPrinter) finish() {
	if p.printed {
		fmt.Fprintln(p.w)
	}
}
