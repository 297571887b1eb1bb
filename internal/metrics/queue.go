package metrics

import "github.com/prometheus/client_golang/prometheus"

// QueueStats exposes watcher state read at scrape time.
type QueueStats interface {
	Pending() int
	Processed() int64
	Failed() int64
}

// QueueCollector implements prometheus.Collector over live watcher stats.
type QueueCollector struct {
	stats     QueueStats
	pending   *prometheus.Desc
	processed *prometheus.Desc
	failed    *prometheus.Desc
}

func NewQueueCollector(stats QueueStats) *QueueCollector {
	return &QueueCollector{
		stats: stats,
		pending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "watch", "pending_files"),
			"Inbox files waiting for a job.",
			nil, nil,
		),
		processed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "watch", "processed_files_total"),
			"Inbox files handed to the job runner.",
			nil, nil,
		),
		failed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "watch", "failed_files_total"),
			"Inbox files whose job failed.",
			nil, nil,
		),
	}
}

func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pending
	ch <- c.processed
	ch <- c.failed
}

func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	var pending, processed, failed float64
	if c.stats != nil {
		pending = float64(c.stats.Pending())
		processed = float64(c.stats.Processed())
		failed = float64(c.stats.Failed())
	}
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, pending)
	ch <- prometheus.MustNewConstMetric(c.processed, prometheus.CounterValue, processed)
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, failed)
}
