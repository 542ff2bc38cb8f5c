package metrics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

// Kind is the exposition type of a metric family.
type Kind int

const (
	Counter Kind = iota + 1
	Gauge
)

func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	default:
		return "unknown"
	}
}

func (k Kind) valueType() prometheus.ValueType {
	if k == Counter {
		return prometheus.CounterValue
	}
	return prometheus.GaugeValue
}

var (
	// ErrKindConflict is returned when a name is described or written with a
	// kind different from its first registration.
	ErrKindConflict = errors.New("metric kind conflict")

	// ErrUnknownMetric is returned when writing to a name that was never described.
	ErrUnknownMetric = errors.New("metric not described")

	// ErrLabelMismatch is returned when a write uses a label set whose names
	// differ from the first write to the same family.
	ErrLabelMismatch = errors.New("label names differ from family")

	// ErrReservedLabel is returned when a write passes a label the registry
	// already attaches globally.
	ErrReservedLabel = errors.New("label is reserved for global use")

	// ErrNegativeCounter is returned when a counter is written with a value
	// below zero.
	ErrNegativeCounter = errors.New("counter value is negative")

	// ErrInvalidLabelValue is returned when a label value is not valid UTF-8.
	// The series is not stored, so it can never break a later render.
	ErrInvalidLabelValue = errors.New("label value is not valid UTF-8")
)

// ResetFunc is called after a counter series is written with a value lower
// than the one it held.
type ResetFunc func(name string, labels prometheus.Labels, prev, cur float64)

// Options configures a Registry.
type Options struct {
	// GlobalLabels are attached to every series, including collectors
	// registered through Registerer().
	GlobalLabels prometheus.Labels

	// StaleAfter evicts series not written within this window. Zero keeps
	// series for the life of the process.
	StaleAfter time.Duration
}

// Registry is a concurrency-safe store of absolute-valued counters and gauges.
// All exported methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	families map[string]*family

	global     prometheus.Labels
	staleAfter time.Duration
	onReset    ResetFunc
	now        func() time.Time // injectable for deterministic tests

	reg        *prometheus.Registry
	registerer prometheus.Registerer
	format     expfmt.Format
}

type family struct {
	name       string
	help       string
	kind       Kind
	labelNames []string // sorted; fixed by the first write
	desc       *prometheus.Desc
	series     map[string]*series
}

type series struct {
	labelValues []string
	value       float64
	observedAt  time.Time
}

// New creates a Registry and registers it as a collector on a fresh
// prometheus.Registry wrapped with opts.GlobalLabels.
func New(opts Options) *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		families:   make(map[string]*family),
		global:     opts.GlobalLabels,
		staleAfter: opts.StaleAfter,
		now:        time.Now,
		reg:        reg,
		registerer: prometheus.WrapRegistererWith(opts.GlobalLabels, reg),
		format:     expfmt.NewFormat(expfmt.TypeTextPlain),
	}
	r.registerer.MustRegister(r)
	return r
}

// OnCounterReset installs fn as the counter reset hook, replacing any
// previous one. fn runs outside the registry lock.
func (r *Registry) OnCounterReset(fn ResetFunc) {
	r.mu.Lock()
	r.onReset = fn
	r.mu.Unlock()
}

// Registerer returns a prometheus.Registerer whose collectors render alongside
// the registry's own series and carry the same global labels.
func (r *Registry) Registerer() prometheus.Registerer { return r.registerer }

// Gatherer exposes the underlying prometheus.Registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// ContentType is the HTTP Content-Type of Render's output.
func (r *Registry) ContentType() string { return string(r.format) }

// RegisterDescription declares a metric family. Repeating a registration with
// the same kind is a no-op (the first help text is kept); a different kind
// returns ErrKindConflict.
func (r *Registry) RegisterDescription(name string, kind Kind, help string) error {
	if !model.IsValidMetricName(model.LabelValue(name)) {
		return fmt.Errorf("metrics: invalid metric name %q", name)
	}
	if kind != Counter && kind != Gauge {
		return fmt.Errorf("metrics: %s: unsupported kind %d", name, kind)
	}
	if help == "" {
		return fmt.Errorf("metrics: %s: help text is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.families[name]; ok {
		if f.kind != kind {
			return fmt.Errorf("metrics: %s registered as %s, not %s: %w", name, f.kind, kind, ErrKindConflict)
		}
		return nil
	}
	r.families[name] = &family{
		name:   name,
		help:   help,
		kind:   kind,
		series: make(map[string]*series),
	}
	return nil
}

// SetCounterAbsolute records value as the current cumulative total of the
// counter series identified by name and labels, observed now.
func (r *Registry) SetCounterAbsolute(name string, value float64, labels prometheus.Labels) error {
	return r.SetCounterAbsoluteAt(name, value, labels, r.now())
}

// SetCounterAbsoluteAt is SetCounterAbsolute with an explicit observation time.
func (r *Registry) SetCounterAbsoluteAt(name string, value float64, labels prometheus.Labels, at time.Time) error {
	if value < 0 {
		return fmt.Errorf("metrics: %s: %w", name, ErrNegativeCounter)
	}
	return r.set(name, Counter, value, labels, at)
}

// SetGauge overwrites the value of the gauge series identified by name and labels.
func (r *Registry) SetGauge(name string, value float64, labels prometheus.Labels) error {
	return r.SetGaugeAt(name, value, labels, r.now())
}

// SetGaugeAt is SetGauge with an explicit observation time.
func (r *Registry) SetGaugeAt(name string, value float64, labels prometheus.Labels, at time.Time) error {
	return r.set(name, Gauge, value, labels, at)
}

func (r *Registry) set(name string, kind Kind, value float64, labels prometheus.Labels, at time.Time) error {
	names := make([]string, 0, len(labels))
	for k := range labels {
		if _, ok := r.global[k]; ok {
			return fmt.Errorf("metrics: %s: label %q: %w", name, k, ErrReservedLabel)
		}
		if !model.LabelName(k).IsValid() {
			return fmt.Errorf("metrics: %s: invalid label name %q", name, k)
		}
		if !utf8.ValidString(labels[k]) {
			return fmt.Errorf("metrics: %s: label %q value %q: %w", name, k, labels[k], ErrInvalidLabelValue)
		}
		names = append(names, k)
	}
	slices.Sort(names)
	values := make([]string, len(names))
	for i, k := range names {
		values[i] = labels[k]
	}

	var (
		reset bool
		prev  float64
		hook  ResetFunc
	)

	r.mu.Lock()
	f, ok := r.families[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("metrics: %s: %w", name, ErrUnknownMetric)
	}
	if f.kind != kind {
		r.mu.Unlock()
		return fmt.Errorf("metrics: %s is a %s, not a %s: %w", name, f.kind, kind, ErrKindConflict)
	}
	if f.desc == nil {
		f.labelNames = names
		f.desc = prometheus.NewDesc(f.name, f.help, names, nil)
	} else if !slices.Equal(f.labelNames, names) {
		r.mu.Unlock()
		return fmt.Errorf("metrics: %s: got labels %v, want %v: %w", name, names, f.labelNames, ErrLabelMismatch)
	}

	key := strings.Join(values, "\xff")
	s, ok := f.series[key]
	switch {
	case !ok:
		f.series[key] = &series{labelValues: values, value: value, observedAt: at}
	case at.Before(s.observedAt):
		// An overlapping scrape already stored a newer observation.
	default:
		if kind == Counter && value < s.value {
			reset, prev = true, s.value
		}
		s.value = value
		s.observedAt = at
	}
	hook = r.onReset
	r.mu.Unlock()

	if reset && hook != nil {
		hook(name, labels, prev, value)
	}
	return nil
}

// Describe sends nothing: families are declared at runtime, so the registry
// is an unchecked collector.
func (r *Registry) Describe(chan<- *prometheus.Desc) {}

// Collect emits one const metric per stored series.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	r.mu.RLock()
	out := make([]prometheus.Metric, 0, len(r.families))
	for _, f := range r.families {
		if f.desc == nil {
			continue
		}
		for _, s := range f.series {
			m, err := prometheus.NewConstMetric(f.desc, f.kind.valueType(), s.value, s.labelValues...)
			if err != nil {
				m = prometheus.NewInvalidMetric(f.desc, err)
			}
			out = append(out, m)
		}
	}
	r.mu.RUnlock()

	for _, m := range out {
		ch <- m
	}
}

// Render gathers every family and encodes it as exposition text. A gather
// error is logged and the families that were collected are still rendered.
func (r *Registry) Render() ([]byte, error) {
	mfs, err := r.reg.Gather()
	if err != nil {
		slog.Error("metrics: gather", "err", err)
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, r.format)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return nil, fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.Bytes(), nil
}

// SeriesCount returns the number of stored series across all families.
func (r *Registry) SeriesCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int
	for _, f := range r.families {
		n += len(f.series)
	}
	return n
}

// Evict removes series last observed at or before now minus StaleAfter and
// returns how many were removed. It does nothing when StaleAfter is zero.
func (r *Registry) Evict(now time.Time) int {
	if r.staleAfter <= 0 {
		return 0
	}
	cutoff := now.Add(-r.staleAfter)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for _, f := range r.families {
		for key, s := range f.series {
			if !s.observedAt.After(cutoff) {
				delete(f.series, key)
				removed++
			}
		}
	}
	return removed
}

// Run evicts stale series every half StaleAfter (minimum 1 second) until ctx
// is cancelled. It returns immediately when StaleAfter is zero.
func (r *Registry) Run(ctx context.Context) {
	if r.staleAfter <= 0 {
		return
	}
	interval := r.staleAfter / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := r.Evict(now); n > 0 {
				slog.Debug("metrics: evicted stale series", "count", n)
			}
		}
	}
}
