// Package metrics exposes job and HTTP instrumentation for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rbright/kiroku/internal/progress"
	"github.com/rbright/kiroku/internal/supervisor"
)

const namespace = "kiroku"

// Job outcome label values.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCancelled = "cancelled"
)

// Metrics owns a private registry so tests and multiple instances never collide.
// It implements session.Observer.
type Metrics struct {
	registry *prometheus.Registry

	jobsStarted  prometheus.Counter
	jobsFinished *prometheus.CounterVec
	jobDuration  prometheus.Histogram
	jobProgress  prometheus.Gauge
	jobsActive   prometheus.Gauge
	segments     prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	mu      sync.Mutex
	started map[string]time.Time
	now     func() time.Time
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Total transcription jobs launched.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Finished transcription jobs by outcome.",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of finished jobs.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 10), // 5s → ~43m
		}),
		jobProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_progress_percent",
			Help:      "Estimated completion of the running job.",
		}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Jobs currently running.",
		}),
		segments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_total",
			Help:      "Caption segments produced by successful jobs.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests processed.",
		}, []string{"method", "path_pattern", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),
		started: make(map[string]time.Time),
		now:     time.Now,
	}

	m.registry.MustRegister(
		m.jobsStarted,
		m.jobsFinished,
		m.jobDuration,
		m.jobProgress,
		m.jobsActive,
		m.segments,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Register adds extra collectors such as the watcher's queue stats.
func (m *Metrics) Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) JobStarted(job supervisor.Job) {
	m.mu.Lock()
	m.started[job.SourcePath] = m.now()
	m.mu.Unlock()

	m.jobsStarted.Inc()
	m.jobsActive.Inc()
	m.jobProgress.Set(0)
}

func (m *Metrics) JobProgress(_ supervisor.Job, update progress.Update) {
	m.jobProgress.Set(float64(update.Percent))
}

func (m *Metrics) JobFinished(job supervisor.Job, completion supervisor.Completion) {
	m.mu.Lock()
	started, ok := m.started[job.SourcePath]
	delete(m.started, job.SourcePath)
	m.mu.Unlock()

	if ok {
		m.jobDuration.Observe(m.now().Sub(started).Seconds())
	}
	m.jobsActive.Dec()
	m.jobsFinished.WithLabelValues(Outcome(completion)).Inc()
	if completion.Success {
		m.jobProgress.Set(100)
		m.segments.Add(float64(len(completion.Segments)))
	}
}

// Outcome classifies a completion for the outcome label.
func Outcome(completion supervisor.Completion) string {
	switch {
	case completion.Success:
		return OutcomeSuccess
	case completion.Message == supervisor.MessageCancelled:
		return OutcomeCancelled
	default:
		return OutcomeFailure
	}
}

// InstrumentHandler returns middleware that records HTTP request metrics.
// It uses chi's route pattern as the path label to bound cardinality.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		pattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		m.httpRequests.WithLabelValues(r.Method, pattern, strconv.Itoa(sw.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
