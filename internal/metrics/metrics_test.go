package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/rbright/kiroku/internal/progress"
	"github.com/rbright/kiroku/internal/session"
	"github.com/rbright/kiroku/internal/supervisor"
	"github.com/rbright/kiroku/internal/timeline"
)

var _ session.Observer = (*Metrics)(nil)

func TestJobLifecycleMetrics(t *testing.T) {
	m := New()
	clock := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	job := supervisor.Job{SourcePath: "/inbox/a.wav"}

	m.JobStarted(job)
	require.Equal(t, 1.0, testutil.ToFloat64(m.jobsActive))

	m.JobProgress(job, progress.Update{Percent: 37})
	require.Equal(t, 37.0, testutil.ToFloat64(m.jobProgress))

	clock = clock.Add(90 * time.Second)
	m.JobFinished(job, supervisor.Completion{
		Success:  true,
		Segments: []timeline.Segment{{Start: 0, End: 1, Text: "a"}, {Start: 1, End: 2, Text: "b"}},
	})

	require.Equal(t, 1.0, testutil.ToFloat64(m.jobsStarted))
	require.Equal(t, 0.0, testutil.ToFloat64(m.jobsActive))
	require.Equal(t, 100.0, testutil.ToFloat64(m.jobProgress))
	require.Equal(t, 2.0, testutil.ToFloat64(m.segments))
	require.Equal(t, 1.0, testutil.ToFloat64(m.jobsFinished.WithLabelValues(OutcomeSuccess)))
	require.Equal(t, 1, testutil.CollectAndCount(m.jobDuration))
}

func TestOutcome(t *testing.T) {
	require.Equal(t, OutcomeSuccess, Outcome(supervisor.Completion{Success: true}))
	require.Equal(t, OutcomeCancelled, Outcome(supervisor.Completion{Message: supervisor.MessageCancelled}))
	require.Equal(t, OutcomeFailure, Outcome(supervisor.Completion{Err: errors.New("exit 1")}))
}

type fixedQueue struct{}

func (fixedQueue) Pending() int     { return 2 }
func (fixedQueue) Processed() int64 { return 5 }
func (fixedQueue) Failed() int64    { return 1 }

func TestHandlerExposesJobAndQueueMetrics(t *testing.T) {
	m := New()
	require.NoError(t, m.Register(NewQueueCollector(fixedQueue{})))
	m.JobStarted(supervisor.Job{SourcePath: "a.wav"})
	m.JobFinished(supervisor.Job{SourcePath: "a.wav"}, supervisor.Completion{Message: supervisor.MessageCancelled})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	require.Contains(t, body, `kiroku_jobs_finished_total{outcome="cancelled"} 1`)
	require.Contains(t, body, "kiroku_watch_pending_files 2")
	require.Contains(t, body, "kiroku_watch_processed_files_total 5")
	require.Contains(t, body, "kiroku_watch_failed_files_total 1")
}

func TestInstrumentHandlerUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.InstrumentHandler)
	r.Get("/api/v1/jobs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/v1/jobs/42")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())

	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/jobs/{id}", "418")))
}
