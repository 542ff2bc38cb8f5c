package scraper

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "disque_exporter"

// Per-queue failure reasons, used as the "reason" label of queue errors.
const (
	ReasonFetch  = "fetch"
	ReasonDecode = "decode"
)

// selfMetrics describe the exporter's own behaviour. They are registered on
// the same registry as the queue series, so they carry the host label too.
type selfMetrics struct {
	scrapes     prometheus.Counter
	failures    prometheus.Counter
	queueErrors *prometheus.CounterVec
	resets      *prometheus.CounterVec
	queues      prometheus.Gauge
	duration    prometheus.Gauge
}

func newSelfMetrics(reg prometheus.Registerer) (*selfMetrics, error) {
	m := &selfMetrics{
		scrapes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrapes_total",
			Help:      "Total scrapes of the Disque broker.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_failures_total",
			Help:      "Total scrapes aborted because the broker could not be reached or scanned.",
		}),
		queueErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_errors_total",
			Help:      "Total queues skipped during a scrape, by reason.",
		}, []string{"reason"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_resets_total",
			Help:      "Total times a broker counter went backwards, by metric.",
		}, []string{"metric"}),
		queues: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queues",
			Help:      "Queues listed by the last successful scan.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_scrape_duration_seconds",
			Help:      "Wall time of the last scrape, excluding rendering.",
		}),
	}
	for _, r := range []string{ReasonFetch, ReasonDecode} {
		m.queueErrors.WithLabelValues(r)
	}

	for _, c := range []prometheus.Collector{m.scrapes, m.failures, m.queueErrors, m.resets, m.queues, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("scraper: register self metrics: %w", err)
		}
	}
	return m, nil
}
