// Package metrics holds the process-wide metric registry and the HTTP
// instrumentation built on it.
//
// Every metric is declared once at startup with Register; updates go through
// Inc, Add, Set and Observe, which return an error instead of dropping a
// sample when the name, kind or label arity is wrong.
package metrics

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Kind is the metric type
type Kind int

const (
	Counter Kind = iota
	Histogram
	Gauge
)

func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	case Histogram:
		return "histogram"
	case Gauge:
		return "gauge"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// DefBuckets is the bucket set shared by every histogram, in seconds
var DefBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

var (
	ErrUnknownMetric   = errors.New("unknown metric")
	ErrDuplicateMetric = errors.New("metric already registered")
	ErrKindMismatch    = errors.New("metric kind mismatch")
	ErrLabelArity      = errors.New("label arity mismatch")
	ErrInvalidMetric   = errors.New("invalid metric definition")
)

type entry struct {
	kind      Kind
	labels    []string
	counter   *prometheus.CounterVec
	histogram *prometheus.HistogramVec
	gauge     *prometheus.GaugeVec
}

// Registry is a name-indexed view over a dedicated prometheus.Registry
type Registry struct {
	reg *prometheus.Registry

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry returns an empty registry. The prometheus default registry is never used.
func NewRegistry() *Registry {
	return &Registry{
		reg:     prometheus.NewRegistry(),
		entries: make(map[string]*entry),
	}
}

// Register declares a metric. It fails on an empty or duplicate name, on
// repeated or empty label names, and on anything the prometheus client rejects.
func (r *Registry) Register(name string, kind Kind, help string, labelNames ...string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidMetric)
	}
	seen := make(map[string]struct{}, len(labelNames))
	for _, l := range labelNames {
		if l == "" {
			return fmt.Errorf("%w: %s has an empty label name", ErrInvalidMetric, name)
		}
		if _, dup := seen[l]; dup {
			return fmt.Errorf("%w: %s repeats label %q", ErrInvalidMetric, name, l)
		}
		seen[l] = struct{}{}
	}
	if help == "" {
		help = name
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMetric, name)
	}

	e := &entry{kind: kind, labels: append([]string(nil), labelNames...)}
	var collector prometheus.Collector
	switch kind {
	case Counter:
		e.counter = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labelNames)
		collector = e.counter
	case Histogram:
		e.histogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: DefBuckets}, labelNames)
		collector = e.histogram
	case Gauge:
		e.gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labelNames)
		collector = e.gauge
	default:
		return fmt.Errorf("%w: %s has unsupported kind %s", ErrInvalidMetric, name, kind)
	}

	if err := r.reg.Register(collector); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidMetric, name, err)
	}

	r.entries[name] = e
	return nil
}

// MustRegister is Register for startup code; it panics on error
func (r *Registry) MustRegister(name string, kind Kind, help string, labelNames ...string) {
	if err := r.Register(name, kind, help, labelNames...); err != nil {
		panic(err)
	}
}

// RegisterCollector adds a ready-made collector (runtime, process, sql.DBStats)
func (r *Registry) RegisterCollector(c prometheus.Collector) error {
	return r.reg.Register(c)
}

func (r *Registry) lookup(name string, labelValues []string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, name)
	}
	if len(labelValues) != len(e.labels) {
		return nil, fmt.Errorf("%w: %s wants %d label values, got %d", ErrLabelArity, name, len(e.labels), len(labelValues))
	}
	return e, nil
}

func kindMismatch(name string, got Kind, op string) error {
	return fmt.Errorf("%w: %s is a %s, cannot %s", ErrKindMismatch, name, got, op)
}

// Inc adds one to a counter or gauge
func (r *Registry) Inc(name string, labelValues ...string) error {
	return r.Add(name, 1, labelValues...)
}

// Add adds delta to a counter or gauge. Counters reject negative deltas.
func (r *Registry) Add(name string, delta float64, labelValues ...string) error {
	e, err := r.lookup(name, labelValues)
	if err != nil {
		return err
	}

	switch e.kind {
	case Counter:
		if delta < 0 {
			return fmt.Errorf("%w: counter %s cannot decrease", ErrKindMismatch, name)
		}
		c, err := e.counter.GetMetricWithLabelValues(labelValues...)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		c.Add(delta)
	case Gauge:
		g, err := e.gauge.GetMetricWithLabelValues(labelValues...)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		g.Add(delta)
	default:
		return kindMismatch(name, e.kind, "add")
	}
	return nil
}

// Set stores value in a gauge
func (r *Registry) Set(name string, value float64, labelValues ...string) error {
	e, err := r.lookup(name, labelValues)
	if err != nil {
		return err
	}
	if e.kind != Gauge {
		return kindMismatch(name, e.kind, "set")
	}

	g, err := e.gauge.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	g.Set(value)
	return nil
}

// Observe records value in a histogram
func (r *Registry) Observe(name string, value float64, labelValues ...string) error {
	e, err := r.lookup(name, labelValues)
	if err != nil {
		return err
	}
	if e.kind != Histogram {
		return kindMismatch(name, e.kind, "observe")
	}

	h, err := e.histogram.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	h.Observe(value)
	return nil
}

// Value reads the current value of one series: the counter or gauge value, or
// the sample count of a histogram. A series that was never touched reads as 0.
func (r *Registry) Value(name string, labelValues ...string) (float64, error) {
	e, err := r.lookup(name, labelValues)
	if err != nil {
		return 0, err
	}

	families, err := r.reg.Gather()
	if err != nil {
		return 0, fmt.Errorf("gather metrics: %w", err)
	}

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsMatch(m.GetLabel(), e.labels, labelValues) {
				continue
			}
			switch e.kind {
			case Counter:
				return m.GetCounter().GetValue(), nil
			case Gauge:
				return m.GetGauge().GetValue(), nil
			case Histogram:
				return float64(m.GetHistogram().GetSampleCount()), nil
			}
		}
	}
	return 0, nil
}

func labelsMatch(pairs []*dto.LabelPair, names, values []string) bool {
	if len(pairs) != len(names) {
		return false
	}
	want := make(map[string]string, len(names))
	for i, n := range names {
		want[n] = values[i]
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

// Snapshot renders every registered metric in the text exposition format.
// Families are ordered by name and series by label values, so equal state
// gives equal output. It reads the same Gather that Handler serves; Handler
// adds content negotiation for scrapers.
func (r *Registry) Snapshot() (string, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}

	sort.Slice(families, func(i, j int) bool {
		return families[i].GetName() < families[j].GetName()
	})

	var buf bytes.Buffer
	for _, mf := range families {
		sort.SliceStable(mf.Metric, func(i, j int) bool {
			return labelKey(mf.Metric[i]) < labelKey(mf.Metric[j])
		})
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), nil
}

func labelKey(m *dto.Metric) string {
	parts := make([]string, 0, len(m.GetLabel()))
	for _, p := range m.GetLabel() {
		parts = append(parts, p.GetName()+"="+p.GetValue())
	}
	return strings.Join(parts, ",")
}

// Handler serves the registry with promhttp. A plain text scrape carries the
// same series as Snapshot.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
