package scraper

import "github.com/obsidianstack/disque-exporter/internal/metrics"

// Queue metric names exposed to the collector.
const (
	MetricJobsIn         = "disque_queue_jobs_in_total"
	MetricJobsOut        = "disque_queue_jobs_out_total"
	MetricLen            = "disque_queue_len_jobs"
	MetricAge            = "disque_queue_age_seconds"
	MetricIdle           = "disque_queue_idle_seconds"
	MetricBlockedWorkers = "disque_queue_blocked_workers"
)

// queueLabel is the only per-series label; host is global.
const queueLabel = "queue"

var queueMetrics = []struct {
	name string
	kind metrics.Kind
	help string
}{
	{MetricJobsIn, metrics.Counter, "Cumulative number of jobs enqueued to the queue."},
	{MetricJobsOut, metrics.Counter, "Cumulative number of jobs dequeued from the queue."},
	{MetricLen, metrics.Gauge, "Current number of jobs in the queue."},
	{MetricAge, metrics.Gauge, "Seconds since the queue was created."},
	{MetricIdle, metrics.Gauge, "Seconds since the queue last saw activity."},
	{MetricBlockedWorkers, metrics.Gauge, "Clients currently blocked waiting on the queue."},
}
