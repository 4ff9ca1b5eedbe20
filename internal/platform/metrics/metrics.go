// Package metrics is a small Prometheus text-format registry. Collectors are
// registered once at package init and scraped through Handler.
package metrics

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Opts struct {
	Name string
	Help string
}

type collector interface {
	name() string
	writePrometheus(*strings.Builder)
}

type Registry struct {
	mu         sync.RWMutex
	collectors map[string]collector
}

func NewRegistry() *Registry {
	return &Registry{collectors: map[string]collector{}}
}

func (r *Registry) MustRegister(items ...collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		if _, exists := r.collectors[item.name()]; exists {
			panic("metrics collector already registered: " + item.name())
		}
		r.collectors[item.name()] = item
	}
}

func (r *Registry) snapshot() []collector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]collector, 0, len(r.collectors))
	for _, c := range r.collectors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name() < out[j].name() })
	return out
}

func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		var sb strings.Builder
		for _, c := range r.snapshot() {
			c.writePrometheus(&sb)
		}
		_, _ = w.Write([]byte(sb.String()))
	})
}

var (
	Default      = NewRegistry()
	processStart = time.Now()
)

func DefaultHandler() http.Handler {
	return Default.Handler()
}

// GaugeFunc reads its value at scrape time.
type GaugeFunc struct {
	opts Opts
	fn   func() float64
}

func NewGaugeFunc(opts Opts, fn func() float64) *GaugeFunc {
	return &GaugeFunc{opts: opts, fn: fn}
}

func (g *GaugeFunc) name() string { return g.opts.Name }

func (g *GaugeFunc) writePrometheus(sb *strings.Builder) {
	writeMetricHead(sb, g.opts.Name, "gauge", g.opts.Help)
	v := 0.0
	if g.fn != nil {
		v = g.fn()
	}
	fmt.Fprintf(sb, "%s %s\n", g.opts.Name, floatToString(v))
}

const labelSep = "\xff"

// series holds one float per label combination; counters and gauges share it.
type series struct {
	labelNames []string

	mu     sync.RWMutex
	values map[string]float64
}

func newSeries(labelNames []string) *series {
	return &series{
		labelNames: append([]string(nil), labelNames...),
		values:     map[string]float64{},
	}
}

func (s *series) add(labelValues []string, delta float64) {
	if len(labelValues) != len(s.labelNames) {
		return
	}
	key := strings.Join(labelValues, labelSep)
	s.mu.Lock()
	s.values[key] += delta
	s.mu.Unlock()
}

func (s *series) write(sb *strings.Builder, name string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range sortedKeys(s.values) {
		sb.WriteString(name)
		writeLabels(sb, s.labelNames, strings.Split(key, labelSep), "", "")
		sb.WriteString(" " + floatToString(s.values[key]) + "\n")
	}
}

type CounterVec struct {
	opts Opts
	*series
}

func NewCounterVec(opts Opts, labelNames []string) *CounterVec {
	return &CounterVec{opts: opts, series: newSeries(labelNames)}
}

func (c *CounterVec) name() string { return c.opts.Name }

func (c *CounterVec) WithLabelValues(values ...string) *Counter {
	return &Counter{parent: c, labelValues: values}
}

func (c *CounterVec) writePrometheus(sb *strings.Builder) {
	writeMetricHead(sb, c.opts.Name, "counter", c.opts.Help)
	c.write(sb, c.opts.Name)
}

type Counter struct {
	parent      *CounterVec
	labelValues []string
}

// Add ignores negative deltas; counters only go up.
func (c *Counter) Add(v float64) {
	if c == nil || c.parent == nil || v < 0 {
		return
	}
	c.parent.add(c.labelValues, v)
}

func (c *Counter) Inc() { c.Add(1) }

// GaugeVec is a gauge partitioned by label values.
type GaugeVec struct {
	opts Opts
	*series
}

func NewGaugeVec(opts Opts, labelNames []string) *GaugeVec {
	return &GaugeVec{opts: opts, series: newSeries(labelNames)}
}

func (g *GaugeVec) name() string { return g.opts.Name }

func (g *GaugeVec) WithLabelValues(values ...string) *LabeledGauge {
	return &LabeledGauge{parent: g, labelValues: values}
}

func (g *GaugeVec) writePrometheus(sb *strings.Builder) {
	writeMetricHead(sb, g.opts.Name, "gauge", g.opts.Help)
	g.write(sb, g.opts.Name)
}

type LabeledGauge struct {
	parent      *GaugeVec
	labelValues []string
}

func (g *LabeledGauge) Add(v float64) {
	if g == nil || g.parent == nil {
		return
	}
	g.parent.add(g.labelValues, v)
}

func (g *LabeledGauge) Inc() { g.Add(1) }
func (g *LabeledGauge) Dec() { g.Add(-1) }

// DefBuckets suit latencies measured in seconds.
var DefBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

type HistogramOpts struct {
	Opts
	Buckets []float64
}

type HistogramVec struct {
	opts       HistogramOpts
	labelNames []string

	mu      sync.Mutex
	buckets map[string]*histogramBuckets
}

type histogramBuckets struct {
	counts []uint64
	count  uint64
	sum    float64
}

func NewHistogramVec(opts HistogramOpts, labelNames []string) *HistogramVec {
	if len(opts.Buckets) == 0 {
		opts.Buckets = DefBuckets
	}
	opts.Buckets = append([]float64(nil), opts.Buckets...)
	sort.Float64s(opts.Buckets)
	return &HistogramVec{
		opts:       opts,
		labelNames: append([]string(nil), labelNames...),
		buckets:    map[string]*histogramBuckets{},
	}
}

func (h *HistogramVec) name() string { return h.opts.Name }

func (h *HistogramVec) WithLabelValues(values ...string) *Histogram {
	return &Histogram{parent: h, labelValues: values}
}

func (h *HistogramVec) observe(labelValues []string, v float64) {
	if len(labelValues) != len(h.labelNames) {
		return
	}
	key := strings.Join(labelValues, labelSep)
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.buckets[key]
	if !ok {
		b = &histogramBuckets{counts: make([]uint64, len(h.opts.Buckets))}
		h.buckets[key] = b
	}
	// Buckets are sorted, so the first match and everything above it count.
	for i := sort.SearchFloat64s(h.opts.Buckets, v); i < len(b.counts); i++ {
		b.counts[i]++
	}
	b.count++
	b.sum += v
}

func (h *HistogramVec) writePrometheus(sb *strings.Builder) {
	name := h.opts.Name
	writeMetricHead(sb, name, "histogram", h.opts.Help)
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, key := range sortedKeys(h.buckets) {
		b := h.buckets[key]
		values := strings.Split(key, labelSep)
		for i, upper := range h.opts.Buckets {
			sb.WriteString(name + "_bucket")
			writeLabels(sb, h.labelNames, values, "le", floatToString(upper))
			fmt.Fprintf(sb, " %d\n", b.counts[i])
		}
		sb.WriteString(name + "_bucket")
		writeLabels(sb, h.labelNames, values, "le", "+Inf")
		fmt.Fprintf(sb, " %d\n", b.count)
		sb.WriteString(name + "_sum")
		writeLabels(sb, h.labelNames, values, "", "")
		fmt.Fprintf(sb, " %s\n", floatToString(b.sum))
		sb.WriteString(name + "_count")
		writeLabels(sb, h.labelNames, values, "", "")
		fmt.Fprintf(sb, " %d\n", b.count)
	}
}

type Histogram struct {
	parent      *HistogramVec
	labelValues []string
}

func (h *Histogram) Observe(v float64) {
	if h == nil || h.parent == nil {
		return
	}
	h.parent.observe(h.labelValues, v)
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func writeLabels(sb *strings.Builder, names, values []string, extraName, extraValue string) {
	pairs := make([]string, 0, len(names)+1)
	for i, name := range names {
		value := ""
		if i < len(values) {
			value = values[i]
		}
		pairs = append(pairs, name+`="`+escapeLabelValue(value)+`"`)
	}
	if extraName != "" {
		pairs = append(pairs, extraName+`="`+escapeLabelValue(extraValue)+`"`)
	}
	if len(pairs) == 0 {
		return
	}
	sb.WriteString("{" + strings.Join(pairs, ",") + "}")
}

func writeMetricHead(sb *strings.Builder, name, metricType, help string) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, metricType)
}

func floatToString(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`)

func escapeLabelValue(v string) string {
	return labelEscaper.Replace(v)
}

func memStat(read func(*runtime.MemStats) uint64) func() float64 {
	return func() float64 {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		return float64(read(&mem))
	}
}

func init() {
	Default.MustRegister(
		NewGaugeFunc(Opts{Name: "process_uptime_seconds", Help: "Seconds since process start."},
			func() float64 { return time.Since(processStart).Seconds() }),
		NewGaugeFunc(Opts{Name: "go_goroutines", Help: "Number of goroutines."},
			func() float64 { return float64(runtime.NumGoroutine()) }),
		NewGaugeFunc(Opts{Name: "go_memstats_alloc_bytes", Help: "Allocated heap objects in bytes."},
			memStat(func(m *runtime.MemStats) uint64 { return m.Alloc })),
		NewGaugeFunc(Opts{Name: "go_memstats_heap_inuse_bytes", Help: "Heap in-use bytes."},
			memStat(func(m *runtime.MemStats) uint64 { return m.HeapInuse })),
	)
}
