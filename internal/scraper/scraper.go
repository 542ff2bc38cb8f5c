package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/obsidianstack/disque-exporter/internal/config"
	"github.com/obsidianstack/disque-exporter/internal/disque"
	"github.com/obsidianstack/disque-exporter/internal/metrics"
)

var (
	// ErrBrokerUnreachable aborts a scrape whose broker connection failed.
	ErrBrokerUnreachable = errors.New("broker unreachable")

	// ErrScan aborts a scrape whose queue enumeration failed part-way.
	ErrScan = errors.New("queue scan failed")
)

// Conn is the broker capability a scrape consumes. *disque.Client implements it.
type Conn interface {
	ScanQueues(ctx context.Context, cursor uint64, count int, busyloop bool) (uint64, []string, error)
	QueueStats(ctx context.Context, queue string) (disque.QueueStats, error)
	Close() error
}

// Dialer opens a fresh broker connection for one scrape.
type Dialer func(ctx context.Context, cfg config.DisqueConfig) (Conn, error)

// DialDisque is the production Dialer.
func DialDisque(ctx context.Context, cfg config.DisqueConfig) (Conn, error) {
	c, err := disque.Open(ctx, cfg.URL, disque.Options{Timeout: cfg.Timeout})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// QueueError is a failure confined to one queue. The queue is skipped; the
// scrape carries on.
type QueueError struct {
	Queue  string
	Reason string // ReasonFetch | ReasonDecode
	Err    error
}

func (e QueueError) Error() string {
	return fmt.Sprintf("queue %q: %s: %v", e.Queue, e.Reason, e.Err)
}

func (e QueueError) Unwrap() error { return e.Err }

// Result is the outcome of one successful scrape.
type Result struct {
	// Body is the rendered exposition text of the whole registry.
	Body []byte

	// Queues is the number of distinct queues listed by the scan.
	Queues int

	// Updated is the number of queues whose stats reached the registry.
	Updated int

	// Failed lists the queues that were skipped.
	Failed []QueueError

	Duration time.Duration
}

// Scraper runs scrape cycles against the broker and updates the registry.
// Scrape is safe for concurrent use.
type Scraper struct {
	reg  *metrics.Registry
	dial Dialer
	cfg  atomic.Pointer[config.DisqueConfig]
	self *selfMetrics
	now  func() time.Time // injectable for deterministic tests
}

// New describes the queue metric families on reg, registers the exporter's
// self-metrics and returns a Scraper using cfg for every scrape until
// Reconfigure is called.
func New(cfg config.DisqueConfig, reg *metrics.Registry, dial Dialer) (*Scraper, error) {
	for _, m := range queueMetrics {
		if err := reg.RegisterDescription(m.name, m.kind, m.help); err != nil {
			return nil, fmt.Errorf("scraper: %w", err)
		}
	}
	self, err := newSelfMetrics(reg.Registerer())
	if err != nil {
		return nil, err
	}

	s := &Scraper{reg: reg, dial: dial, self: self, now: time.Now}
	s.Reconfigure(cfg)

	reg.OnCounterReset(func(name string, labels prometheus.Labels, prev, cur float64) {
		self.resets.WithLabelValues(name).Inc()
		slog.Info("scraper: broker counter went backwards",
			"metric", name, "queue", labels[queueLabel], "prev", prev, "cur", cur)
	})
	return s, nil
}

// Reconfigure replaces the broker settings used by subsequent scrapes.
// Scrapes already in flight finish with the settings they started with.
func (s *Scraper) Reconfigure(cfg config.DisqueConfig) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultTimeout
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = config.DefaultScanCount
	}
	s.cfg.Store(&cfg)
}

// Scrape runs one collection cycle and returns the rendered registry.
// It fails only when the broker cannot be reached or scanned; per-queue
// failures are reported in Result.Failed.
func (s *Scraper) Scrape(ctx context.Context) (*Result, error) {
	cfg := *s.cfg.Load()
	start := s.now()
	s.self.scrapes.Inc()

	res, err := s.collect(ctx, cfg)
	if err != nil {
		s.self.failures.Inc()
		slog.Error("scraper: scrape failed", "err", err)
		return nil, err
	}
	res.Duration = s.now().Sub(start)
	s.self.duration.Set(res.Duration.Seconds())
	s.self.queues.Set(float64(res.Queues))

	body, err := s.reg.Render()
	if err != nil {
		return nil, fmt.Errorf("scraper: %w", err)
	}
	res.Body = body

	slog.Debug("scraper: scrape complete",
		"queues", res.Queues,
		"updated", res.Updated,
		"failed", len(res.Failed),
		"duration", res.Duration,
	)
	return res, nil
}

func (s *Scraper) collect(ctx context.Context, cfg config.DisqueConfig) (*Result, error) {
	dctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	conn, err := s.dial(dctx, cfg)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBrokerUnreachable, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("scraper: close broker connection", "err", err)
		}
	}()

	names, err := s.listQueues(ctx, conn, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScan, err)
	}

	res := &Result{Queues: len(names)}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("scraper: %w", err)
		}
		st, at, qerr := s.fetch(ctx, conn, cfg, name)
		if qerr != nil && ctx.Err() != nil {
			// The request went away mid-call; that is not this queue's fault.
			return nil, fmt.Errorf("scraper: %w", ctx.Err())
		}
		if qerr != nil {
			s.self.queueErrors.WithLabelValues(qerr.Reason).Inc()
			slog.Warn("scraper: skipping queue", "queue", name, "reason", qerr.Reason, "err", qerr.Err)
			res.Failed = append(res.Failed, *qerr)
			continue
		}
		if err := s.update(name, st, at); err != nil {
			return nil, fmt.Errorf("scraper: update registry: %w", err)
		}
		res.Updated++
	}
	return res, nil
}

// listQueues pages QSCAN until the cursor returns to 0. Names repeated across
// pages are kept once, in first-seen order.
func (s *Scraper) listQueues(ctx context.Context, conn Conn, cfg config.DisqueConfig) ([]string, error) {
	seen := make(map[string]struct{})
	var (
		names  []string
		cursor uint64
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		next, page, err := conn.ScanQueues(cctx, cursor, cfg.ScanCount, cfg.BusyLoop)
		cancel()
		if err != nil {
			return nil, err
		}
		for _, n := range page {
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			names = append(names, n)
		}
		if next == 0 {
			return names, nil
		}
		cursor = next
	}
}

// fetch issues QSTAT for one queue and classifies any failure. Queue names
// are binary-safe on the broker but must be UTF-8 to become a label value.
func (s *Scraper) fetch(ctx context.Context, conn Conn, cfg config.DisqueConfig, name string) (disque.QueueStats, time.Time, *QueueError) {
	if !utf8.ValidString(name) {
		err := &disque.DecodeError{Field: "name", Reason: "queue name is not valid UTF-8"}
		return disque.QueueStats{}, s.now(), &QueueError{Queue: name, Reason: ReasonDecode, Err: err}
	}

	qctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	st, err := conn.QueueStats(qctx, name)
	cancel()
	at := s.now()

	if err != nil {
		var de *disque.DecodeError
		if errors.As(err, &de) {
			return st, at, &QueueError{Queue: name, Reason: ReasonDecode, Err: err}
		}
		return st, at, &QueueError{Queue: name, Reason: ReasonFetch, Err: err}
	}
	if st.Name != "" && st.Name != name {
		err := &disque.DecodeError{Field: "name", Reason: "got " + strconv.Quote(st.Name) + ", want " + strconv.Quote(name)}
		return st, at, &QueueError{Queue: name, Reason: ReasonDecode, Err: err}
	}
	return st, at, nil
}

// update pushes one queue's stats into the registry.
func (s *Scraper) update(name string, st disque.QueueStats, at time.Time) error {
	labels := prometheus.Labels{queueLabel: name}

	for _, c := range []struct {
		metric string
		value  uint64
	}{
		{MetricJobsIn, st.JobsIn},
		{MetricJobsOut, st.JobsOut},
	} {
		if err := s.reg.SetCounterAbsoluteAt(c.metric, float64(c.value), labels, at); err != nil {
			return err
		}
	}

	for _, g := range []struct {
		metric string
		value  uint64
	}{
		{MetricLen, st.Len},
		{MetricAge, st.AgeSeconds},
		{MetricIdle, st.IdleSeconds},
		{MetricBlockedWorkers, st.BlockedWorkers},
	} {
		if err := s.reg.SetGaugeAt(g.metric, float64(g.value), labels, at); err != nil {
			return err
		}
	}
	return nil
}
