// Package server exposes watch-mode status over HTTP and gRPC health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rbright/kiroku/internal/metrics"
	"github.com/rbright/kiroku/internal/session"
	"github.com/rbright/kiroku/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Status is the JSON body of GET /api/v1/status.
type Status struct {
	State     string `json:"state"`
	Job       string `json:"job,omitempty"`
	Percent   int    `json:"percent"`
	WatchDir  string `json:"watch_dir,omitempty"`
	Pending   int    `json:"pending"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
}

// StatusFunc reports the live watcher and job state.
type StatusFunc func() Status

// CancelFunc cancels the running job.
type CancelFunc func() error

type healthResponse struct {
	Status        string       `json:"status"`
	Version       version.Info `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HTTPServer serves the REST status surface and Prometheus metrics.
type HTTPServer struct {
	http    *http.Server
	logger  *slog.Logger
	started time.Time
}

func NewHTTP(addr string, status StatusFunc, cancel CancelFunc, m *metrics.Metrics, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &HTTPServer{logger: logger.With("component", "http"), started: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)
	if m != nil {
		r.Use(m.InstrumentHandler)
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, status())
		})
		r.Post("/cancel", func(w http.ResponseWriter, _ *http.Request) {
			err := cancel()
			switch {
			case err == nil:
				writeJSON(w, http.StatusAccepted, status())
			case errors.Is(err, session.ErrNoActiveJob):
				writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
			default:
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			}
		})
	})

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the router for in-process tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.http.Handler
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, lis)
}

func (s *HTTPServer) ServeListener(ctx context.Context, lis net.Listener) error {
	s.logger.Info("http server starting", "addr", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		err := s.http.Serve(lis)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *HTTPServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "healthy",
		Version:       version.Current(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}

func (s *HTTPServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"size", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
