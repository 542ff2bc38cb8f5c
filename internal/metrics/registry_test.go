package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	if opts.GlobalLabels == nil {
		opts.GlobalLabels = prometheus.Labels{"host": "h1"}
	}
	r := New(opts)
	r.now = func() time.Time { return baseTime }
	if err := r.RegisterDescription("jobs_in_total", Counter, "Jobs in."); err != nil {
		t.Fatalf("RegisterDescription counter: %v", err)
	}
	if err := r.RegisterDescription("queue_len", Gauge, "Queue length."); err != nil {
		t.Fatalf("RegisterDescription gauge: %v", err)
	}
	return r
}

// parse decodes rendered exposition text back into metric families.
func parse(t *testing.T, body []byte) map[string]*dto.MetricFamily {
	t.Helper()
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("parse rendered text: %v\n%s", err, body)
	}
	return mfs
}

func render(t *testing.T, r *Registry) []byte {
	t.Helper()
	body, err := r.Render()
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	return body
}

func TestRegisterDescription_Idempotent(t *testing.T) {
	r := newTestRegistry(t, Options{})
	if err := r.RegisterDescription("jobs_in_total", Counter, "Jobs in."); err != nil {
		t.Fatalf("repeat registration: %v", err)
	}
	if err := r.RegisterDescription("jobs_in_total", Counter, "Different help."); err != nil {
		t.Fatalf("repeat registration with other help: %v", err)
	}
}

func TestRegisterDescription_KindConflict(t *testing.T) {
	r := newTestRegistry(t, Options{})
	err := r.RegisterDescription("jobs_in_total", Gauge, "Jobs in.")
	if !errors.Is(err, ErrKindConflict) {
		t.Fatalf("err = %v, want ErrKindConflict", err)
	}
}

func TestRegisterDescription_Invalid(t *testing.T) {
	r := New(Options{})
	tests := []struct {
		desc   string
		metric string
		kind   Kind
		help   string
	}{
		{"empty name", "", Counter, "help"},
		{"no help", "no_help", Gauge, ""},
		{"no kind", "no_kind", Kind(0), "help"},
	}
	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			if err := r.RegisterDescription(tc.metric, tc.kind, tc.help); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestSet_UnknownMetric(t *testing.T) {
	r := newTestRegistry(t, Options{})
	err := r.SetGauge("nope", 1, prometheus.Labels{"queue": "a"})
	if !errors.Is(err, ErrUnknownMetric) {
		t.Fatalf("err = %v, want ErrUnknownMetric", err)
	}
}

func TestSet_WrongKind(t *testing.T) {
	r := newTestRegistry(t, Options{})
	err := r.SetGauge("jobs_in_total", 1, prometheus.Labels{"queue": "a"})
	if !errors.Is(err, ErrKindConflict) {
		t.Fatalf("err = %v, want ErrKindConflict", err)
	}
}

func TestSet_LabelMismatch(t *testing.T) {
	r := newTestRegistry(t, Options{})
	if err := r.SetGauge("queue_len", 1, prometheus.Labels{"queue": "a"}); err != nil {
		t.Fatal(err)
	}
	err := r.SetGauge("queue_len", 1, prometheus.Labels{"queue": "a", "extra": "x"})
	if !errors.Is(err, ErrLabelMismatch) {
		t.Fatalf("err = %v, want ErrLabelMismatch", err)
	}
}

func TestSet_ReservedLabel(t *testing.T) {
	r := newTestRegistry(t, Options{})
	err := r.SetGauge("queue_len", 1, prometheus.Labels{"queue": "a", "host": "other"})
	if !errors.Is(err, ErrReservedLabel) {
		t.Fatalf("err = %v, want ErrReservedLabel", err)
	}
}

func TestSet_InvalidUTF8LabelValue(t *testing.T) {
	r := newTestRegistry(t, Options{})
	err := r.SetGauge("queue_len", 1, prometheus.Labels{"queue": "bad\xff"})
	if !errors.Is(err, ErrInvalidLabelValue) {
		t.Fatalf("err = %v, want ErrInvalidLabelValue", err)
	}
	if n := r.SeriesCount(); n != 0 {
		t.Fatalf("SeriesCount() = %d, want 0", n)
	}
	if err := r.SetGauge("queue_len", 2, prometheus.Labels{"queue": "good"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(render(t, r)), `queue_len{host="h1",queue="good"} 2`) {
		t.Error("valid series missing after rejected write")
	}
}

// brokenCollector always yields a metric that fails to collect.
type brokenCollector struct{ desc *prometheus.Desc }

func (c brokenCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c brokenCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.NewInvalidMetric(c.desc, errors.New("collect failed"))
}

func TestRender_GatherErrorKeepsOtherFamilies(t *testing.T) {
	r := newTestRegistry(t, Options{})
	r.Registerer().MustRegister(brokenCollector{
		desc: prometheus.NewDesc("broken_metric", "Always fails.", nil, nil),
	})
	if err := r.SetGauge("queue_len", 7, prometheus.Labels{"queue": "a"}); err != nil {
		t.Fatal(err)
	}

	body := render(t, r)
	if !strings.Contains(string(body), `queue_len{host="h1",queue="a"} 7`) {
		t.Errorf("queue_len missing from render:\n%s", body)
	}
	if strings.Contains(string(body), "broken_metric") {
		t.Errorf("failed family rendered:\n%s", body)
	}
}

func TestSetCounterAbsolute_Negative(t *testing.T) {
	r := newTestRegistry(t, Options{})
	err := r.SetCounterAbsolute("jobs_in_total", -1, prometheus.Labels{"queue": "a"})
	if !errors.Is(err, ErrNegativeCounter) {
		t.Fatalf("err = %v, want ErrNegativeCounter", err)
	}
}

func TestSetCounterAbsolute_NoDoubleCount(t *testing.T) {
	r := newTestRegistry(t, Options{})
	labels := prometheus.Labels{"queue": "orders"}
	for i := 0; i < 3; i++ {
		if err := r.SetCounterAbsolute("jobs_in_total", 100, labels); err != nil {
			t.Fatal(err)
		}
	}

	expected := `
# HELP jobs_in_total Jobs in.
# TYPE jobs_in_total counter
jobs_in_total{host="h1",queue="orders"} 100
`
	if err := testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(expected), "jobs_in_total"); err != nil {
		t.Fatal(err)
	}
}

func TestSetCounterAbsolute_ResetReflectsNewValue(t *testing.T) {
	var (
		calls    int
		gotPrev  float64
		gotCur   float64
		gotQueue string
	)
	r := newTestRegistry(t, Options{})
	r.OnCounterReset(func(name string, labels prometheus.Labels, prev, cur float64) {
		calls++
		gotPrev, gotCur, gotQueue = prev, cur, labels["queue"]
	})

	if err := r.SetCounterAbsoluteAt("jobs_in_total", 100, prometheus.Labels{"queue": "orders"}, baseTime); err != nil {
		t.Fatal(err)
	}
	if err := r.SetGaugeAt("queue_len", 7, prometheus.Labels{"queue": "orders"}, baseTime); err != nil {
		t.Fatal(err)
	}
	if err := r.SetCounterAbsoluteAt("jobs_in_total", 5, prometheus.Labels{"queue": "orders"}, baseTime.Add(time.Second)); err != nil {
		t.Fatalf("reset must not error: %v", err)
	}

	if calls != 1 || gotPrev != 100 || gotCur != 5 || gotQueue != "orders" {
		t.Errorf("reset hook: calls=%d prev=%v cur=%v queue=%q", calls, gotPrev, gotCur, gotQueue)
	}

	mfs := parse(t, render(t, r))
	if got := mfs["jobs_in_total"].GetMetric()[0].GetCounter().GetValue(); got != 5 {
		t.Errorf("jobs_in_total after reset = %v, want 5", got)
	}
	if got := mfs["queue_len"].GetMetric()[0].GetGauge().GetValue(); got != 7 {
		t.Errorf("queue_len untouched by reset = %v, want 7", got)
	}
}

func TestSet_OlderObservationDropped(t *testing.T) {
	r := newTestRegistry(t, Options{})
	labels := prometheus.Labels{"queue": "orders"}

	if err := r.SetCounterAbsoluteAt("jobs_in_total", 101, labels, baseTime.Add(2*time.Second)); err != nil {
		t.Fatal(err)
	}
	// A slower, overlapping scrape observed an earlier value.
	if err := r.SetCounterAbsoluteAt("jobs_in_total", 100, labels, baseTime.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	mfs := parse(t, render(t, r))
	if got := mfs["jobs_in_total"].GetMetric()[0].GetCounter().GetValue(); got != 101 {
		t.Errorf("jobs_in_total = %v, want 101", got)
	}
}

func TestSetGauge_Overwrites(t *testing.T) {
	r := newTestRegistry(t, Options{})
	labels := prometheus.Labels{"queue": "emails"}
	_ = r.SetGauge("queue_len", 10, labels)
	_ = r.SetGauge("queue_len", 3, labels)

	expected := `
# HELP queue_len Queue length.
# TYPE queue_len gauge
queue_len{host="h1",queue="emails"} 3
`
	if err := testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(expected), "queue_len"); err != nil {
		t.Fatal(err)
	}
}

func TestRender_DeterministicAndLabelled(t *testing.T) {
	r := newTestRegistry(t, Options{})
	for _, q := range []string{"zeta", "alpha", "mid"} {
		_ = r.SetGauge("queue_len", 1, prometheus.Labels{"queue": q})
		_ = r.SetCounterAbsolute("jobs_in_total", 2, prometheus.Labels{"queue": q})
	}

	first := render(t, r)
	for i := 0; i < 5; i++ {
		if got := render(t, r); string(got) != string(first) {
			t.Fatalf("render %d differs:\n%s\nvs\n%s", i, got, first)
		}
	}

	text := string(first)
	if !strings.Contains(text, `queue_len{host="h1",queue="alpha"} 1`) {
		t.Errorf("missing alpha series:\n%s", text)
	}
	if strings.Index(text, `queue="alpha"`) > strings.Index(text, `queue="zeta"`) {
		t.Errorf("series not sorted:\n%s", text)
	}
	if !strings.HasPrefix(r.ContentType(), "text/plain") {
		t.Errorf("ContentType = %q", r.ContentType())
	}
}

func TestRender_EmptyFamilyOmitted(t *testing.T) {
	r := newTestRegistry(t, Options{})
	if body := render(t, r); len(body) != 0 {
		t.Errorf("Render on empty registry = %q, want empty", body)
	}
}

func TestRegisterer_CarriesGlobalLabels(t *testing.T) {
	r := newTestRegistry(t, Options{})
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "self_total", Help: "Self."})
	r.Registerer().MustRegister(c)
	c.Add(2)

	expected := `
# HELP self_total Self.
# TYPE self_total counter
self_total{host="h1"} 2
`
	if err := testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(expected), "self_total"); err != nil {
		t.Fatal(err)
	}
}

func TestEvict(t *testing.T) {
	r := newTestRegistry(t, Options{StaleAfter: 5 * time.Minute})

	_ = r.SetGaugeAt("queue_len", 1, prometheus.Labels{"queue": "old"}, baseTime.Add(-10*time.Minute))
	_ = r.SetGaugeAt("queue_len", 1, prometheus.Labels{"queue": "live"}, baseTime)

	if n := r.Evict(baseTime); n != 1 {
		t.Errorf("Evict removed %d, want 1", n)
	}
	if n := r.SeriesCount(); n != 1 {
		t.Errorf("SeriesCount after evict = %d, want 1", n)
	}
}

func TestEvict_DisabledByDefault(t *testing.T) {
	r := newTestRegistry(t, Options{})
	_ = r.SetGaugeAt("queue_len", 1, prometheus.Labels{"queue": "old"}, baseTime.Add(-24*time.Hour))

	if n := r.Evict(baseTime); n != 0 {
		t.Errorf("Evict with StaleAfter=0 removed %d, want 0", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx) // returns immediately
}

func TestConcurrentSetAndRender(t *testing.T) {
	r := newTestRegistry(t, Options{})
	r.now = time.Now
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func(n int) {
			defer wg.Done()
			_ = r.SetCounterAbsolute("jobs_in_total", float64(n), prometheus.Labels{"queue": "a"})
		}(i)
		go func(n int) {
			defer wg.Done()
			_ = r.SetGauge("queue_len", float64(n), prometheus.Labels{"queue": "b"})
		}(i)
		go func() {
			defer wg.Done()
			if _, err := r.Render(); err != nil {
				t.Errorf("Render: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := r.SeriesCount(); n != 2 {
		t.Errorf("SeriesCount = %d, want 2", n)
	}
}
