package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// requestTimeout bounds how long a client may take to send its request.
var requestTimeout = 2 * time.Second

// Handler answers validated status and cancel requests for the owned job.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Serve answers owner requests on listener until ctx is cancelled or the
// listener closes. Unknown commands are rejected before reaching handler.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	return ServeWithLogger(ctx, listener, handler, nil)
}

// ServeWithLogger is Serve with per-connection debug logging.
func ServeWithLogger(ctx context.Context, listener net.Listener, handler Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	var conns sync.WaitGroup
	defer conns.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept owner connection: %w", err)
		}

		conns.Add(1)
		go func() {
			defer conns.Done()
			defer conn.Close()
			answer(ctx, conn, handler, logger)
		}()
	}
}

func answer(ctx context.Context, conn net.Conn, handler Handler, logger *slog.Logger) {
	if err := conn.SetReadDeadline(time.Now().Add(requestTimeout)); err != nil {
		logger.Debug("owner request deadline failed", "error", err.Error())
	}

	var req Request
	resp := func() Response {
		if err := readMessage(conn, "request", &req); err != nil {
			return failure("%v", err)
		}
		if err := req.Validate(); err != nil {
			return failure("%v", err)
		}
		return handler.Handle(ctx, req)
	}()

	logger.Debug("owner request", "command", req.Command, "ok", resp.OK, "state", resp.State, "error", resp.Error)
	if err := writeMessage(conn, resp); err != nil {
		logger.Debug("owner response write failed", "command", req.Command, "error", err.Error())
	}
}
