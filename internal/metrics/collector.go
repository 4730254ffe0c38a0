// Package metrics renders gardenbot's counters, gauges and histograms in the
// Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry scraped by GET /metrics.
var Collector = NewMetricsCollector()

// series is one labelled time series inside a family.
type series interface {
	writeTo(w io.Writer, name, labels string)
}

type family struct {
	name   string
	help   string
	kind   string // counter, gauge or histogram
	series map[string]series
}

// MetricsCollector holds metric families keyed by name. Registration is
// idempotent: asking twice for the same name and labels returns the same
// series.
type MetricsCollector struct {
	mu        sync.Mutex
	families  map[string]*family
	startTime time.Time
}

// NewMetricsCollector creates an empty registry.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{families: make(map[string]*family), startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

func (c *MetricsCollector) lookup(name, help, kind, labels string, create func() series) series {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.families[name]
	if !ok {
		f = &family{name: name, help: help, kind: kind, series: make(map[string]series)}
		c.families[name] = f
	}
	if f.kind != kind {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", name, f.kind, kind))
	}
	s, ok := f.series[labels]
	if !ok {
		s = create()
		f.series[labels] = s
	}
	return s
}

// Counter is a monotonically increasing count.
type Counter struct{ value atomic.Int64 }

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

func (c *Counter) writeTo(w io.Writer, name, labels string) {
	fmt.Fprintf(w, "%s%s %d\n", name, braces(labels), c.Value())
}

// Gauge is a value that can go up and down.
type Gauge struct{ value atomic.Int64 }

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

func (g *Gauge) writeTo(w io.Writer, name, labels string) {
	fmt.Fprintf(w, "%s%s %d\n", name, braces(labels), g.Value())
}

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) writeTo(w io.Writer, name, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sep := ""
	if labels != "" {
		sep = ","
	}
	for i, le := range h.bounds {
		fmt.Fprintf(w, "%s_bucket{%s%sle=%q} %d\n", name, labels, sep, formatBound(le), h.counts[i])
	}
	if len(h.bounds) == 0 || !math.IsInf(h.bounds[len(h.bounds)-1], 1) {
		fmt.Fprintf(w, "%s_bucket{%s%sle=\"+Inf\"} %d\n", name, labels, sep, h.count)
	}
	fmt.Fprintf(w, "%s_sum%s %s\n", name, braces(labels), strconv.FormatFloat(h.sum, 'g', -1, 64))
	fmt.Fprintf(w, "%s_count%s %d\n", name, braces(labels), h.count)
}

func formatBound(le float64) string {
	if math.IsInf(le, 1) {
		return "+Inf"
	}
	return strconv.FormatFloat(le, 'g', -1, 64)
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

// Counter returns the counter for name and labels, creating it on first use.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	return c.lookup(name, help, "counter", labels, func() series { return &Counter{} }).(*Counter)
}

// Gauge returns the gauge for name and labels, creating it on first use.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	return c.lookup(name, help, "gauge", labels, func() series { return &Gauge{} }).(*Gauge)
}

// Histogram returns the histogram for name and labels. Buckets are only
// used when the series is created.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	return c.lookup(name, help, "histogram", labels, func() series {
		bounds := slices.Clone(buckets)
		sort.Float64s(bounds)
		return &Histogram{bounds: bounds, counts: make([]int64, len(bounds))}
	}).(*Histogram)
}

// WriteText writes every family, sorted by name, in the text exposition
// format.
func (c *MetricsCollector) WriteText(w io.Writer) {
	fmt.Fprintf(w, "# HELP gardenbot_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(w, "# TYPE gardenbot_uptime_seconds gauge\n")
	fmt.Fprintf(w, "gardenbot_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

	c.mu.Lock()
	names := make([]string, 0, len(c.families))
	for name := range c.families {
		names = append(names, name)
	}
	sort.Strings(names)
	fams := make([]*family, len(names))
	for i, name := range names {
		fams[i] = c.families[name]
	}
	c.mu.Unlock()

	for _, f := range fams {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)
		c.mu.Lock()
		labels := make([]string, 0, len(f.series))
		for l := range f.series {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		ss := make([]series, len(labels))
		for i, l := range labels {
			ss[i] = f.series[l]
		}
		c.mu.Unlock()
		for i, s := range ss {
			s.writeTo(w, f.name, labels[i])
		}
	}
}

// Handler serves the registry for Prometheus scrapes.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		var sb strings.Builder
		c.WriteText(&sb)
		io.WriteString(w, sb.String())
	}
}

var (
	AnalysesTotal     = Collector.Counter("gardenbot_analyses_total", "Analyses that acquired the browser session", "")
	ReplySoftFailures = Collector.Counter("gardenbot_reply_soft_failures_total", "Reply reads that failed and were retried", "")
	LoginPrompts      = Collector.Counter("gardenbot_login_notifications_total", "Manual login requests sent to the operator", "")
	SessionBusy       = Collector.Gauge("gardenbot_session_busy", "1 while an analysis holds the browser session", "")

	PipelineLatency = Collector.Histogram("gardenbot_pipeline_seconds", "Wall time of one analysis in seconds", "",
		[]float64{15, 30, 60, 90, 120, 180, 240, 300})
	ReplyPollAttempts = Collector.Histogram("gardenbot_reply_poll_attempts", "Reply polls needed per analysis", "",
		[]float64{1, 2, 5, 10, 20, 40})
	TelemetryLatency = Collector.Histogram("gardenbot_telemetry_seconds", "Edge device request latency in seconds", "",
		[]float64{0.1, 0.5, 1, 2, 5})
)

// Failure returns the failure counter for one error kind.
func Failure(kind string) *Counter {
	if kind == "" {
		kind = "canceled"
	}
	return Collector.Counter("gardenbot_failures_total", "Failed analyses by error kind", fmt.Sprintf("kind=%q", kind))
}
