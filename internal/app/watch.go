package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rbright/kiroku/internal/config"
	"github.com/rbright/kiroku/internal/indicator"
	"github.com/rbright/kiroku/internal/ipc"
	"github.com/rbright/kiroku/internal/metrics"
	"github.com/rbright/kiroku/internal/server"
	"github.com/rbright/kiroku/internal/session"
	"github.com/rbright/kiroku/internal/watch"
)

func (r Runner) commandWatch(ctx context.Context, cfg config.Config, dir string, logger *slog.Logger) int {
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

	jobMetrics := metrics.New()
	observers = append(observers, jobMetrics)

	// Inbox jobs only write caption artifacts; nothing is copied.
	controller := session.NewController(
		logger,
		session.SupervisorLauncher(newSupervisor(cfg, logger)),
		session.Committers{},
		notifier,
		observers...,
	)

	watcher := watch.New(dir, watch.Options{
		Extensions: cfg.Watch.Extensions,
		Skip:       func(path string) bool { return hasResults(cfg, path) },
	}, func(jobCtx context.Context, path string) error {
		result := controller.Run(jobCtx, buildJob(jobCtx, cfg, path, logger), nil)
		logJobResult(logger, result)
		if result.Cancelled {
			return nil
		}
		return result.Err
	}, logger)
	if err := jobMetrics.Register(metrics.NewQueueCollector(watcher)); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ipc.ServeWithLogger(gctx, listener, controller, logger) })
	g.Go(func() error { return watcher.Run(gctx) })

	if addr := strings.TrimSpace(cfg.Server.HTTPAddr); addr != "" {
		status := func() server.Status {
			resp := controller.Handle(gctx, ipc.Request{Command: ipc.CommandStatus})
			return server.Status{
				State:     resp.State,
				Job:       resp.Source,
				Percent:   resp.Percent,
				WatchDir:  watcher.Dir(),
				Pending:   watcher.Pending(),
				Processed: watcher.Processed(),
				Failed:    watcher.Failed(),
			}
		}
		httpServer := server.NewHTTP(addr, status, controller.Cancel, jobMetrics, logger)
		g.Go(func() error { return httpServer.Serve(gctx) })
	}
	if addr := strings.TrimSpace(cfg.Server.GRPCAddr); addr != "" {
		grpcServer := server.NewGRPC(addr, logger)
		grpcServer.SetServing(true)
		g.Go(func() error { return grpcServer.Serve(gctx) })
	}

	fmt.Fprintf(r.Stderr, "watching %s\n", dir)
	if err := g.Wait(); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("watch failed", "error", err.Error())
		return 1
	}
	return 0
}
