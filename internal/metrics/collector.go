// Package metrics collects counters, gauges and histograms for the gateway
// client and renders them in the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default is the process-wide collector the other packages record into.
var Default = NewCollector()

// Collector aggregates counters, gauges, and histograms.
type Collector struct {
	counters   sync.Map // key -> *Counter
	gauges     sync.Map // key -> *Gauge
	histograms sync.Map // key -> *Histogram
	startTime  time.Time
}

func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }
func (c *Counter) Add(n int64) { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64) { g.value.Store(v) }
func (g *Gauge) Inc() { g.value.Add(1) }
func (g *Gauge) Dec() { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns how many values were observed.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Label formats one label pair for the labels argument of Counter, Gauge and
// Histogram.
func Label(name, value string) string {
	value = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(value)
	return name + `="` + value + `"`
}

// Counter returns or creates the counter with the given name and labels.
func (c *Collector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	actual, _ := c.counters.LoadOrStore(key, &Counter{name: name, help: help, labels: labels})
	return actual.(*Counter)
}

// Gauge returns or creates the gauge with the given name and labels.
func (c *Collector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	actual, _ := c.gauges.LoadOrStore(key, &Gauge{name: name, help: help, labels: labels})
	return actual.(*Gauge)
}

// Histogram returns or creates the histogram with the given name and labels.
// buckets only matter on first creation.
func (c *Collector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	hb := make([]histBucket, len(sorted))
	for i, b := range sorted {
		hb[i] = histBucket{le: b}
	}
	actual, _ := c.histograms.LoadOrStore(key, &Histogram{name: name, help: help, labels: labels, buckets: hb})
	return actual.(*Histogram)
}

// WriteTo renders every metric in Prometheus text format, sorted by name
// and labels.
func (c *Collector) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP argon_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE argon_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "argon_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

	writeHeader := headerWriter(&sb)
	for _, ctr := range sortedValues[*Counter](&c.counters) {
		writeHeader(ctr.name, ctr.help, "counter")
		fmt.Fprintf(&sb, "%s %d\n", series(ctr.name, ctr.labels), ctr.Value())
	}
	for _, g := range sortedValues[*Gauge](&c.gauges) {
		writeHeader(g.name, g.help, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", series(g.name, g.labels), g.Value())
	}
	for _, h := range sortedValues[*Histogram](&c.histograms) {
		writeHeader(h.name, h.help, "histogram")
		h.mu.Lock()
		sep := ""
		if h.labels != "" {
			sep = ","
		}
		for _, b := range h.buckets {
			if math.IsInf(b.le, 1) {
				continue
			}
			fmt.Fprintf(&sb, "%s_bucket{%s%sle=\"%g\"} %d\n", h.name, h.labels, sep, b.le, b.count)
		}
		fmt.Fprintf(&sb, "%s_bucket{%s%sle=\"+Inf\"} %d\n", h.name, h.labels, sep, h.count)
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
		fmt.Fprintf(&sb, "%s %f\n", series(h.name+"_sum", h.labels), h.sum)
		h.mu.Unlock()
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// Handler serves the metrics page.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		c.WriteTo(w)
	}
}

func headerWriter(sb *strings.Builder) func(name, help, kind string) {
	written := make(map[string]bool)
	return func(name, help, kind string) {
		if written[name] {
			return
		}
		written[name] = true
		fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
		fmt.Fprintf(sb, "# TYPE %s %s\n", name, kind)
	}
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func sortedValues[T any](m *sync.Map) []T {
	var keys []string
	vals := make(map[string]T)
	m.Range(func(k, v any) bool {
		keys = append(keys, k.(string))
		vals[k.(string)] = v.(T)
		return true
	})
	sort.Strings(keys)
	out := make([]T, len(keys))
	for i, k := range keys {
		out[i] = vals[k]
	}
	return out
}

var latencyBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics recorded across the client.
var (
	EventsReceived = Default.Counter("argon_events_received_total", "Events decoded from the gateway", "")
	DecodeFailures = Default.Counter("argon_event_decode_failures_total", "Gateway payloads that could not be decoded", "")
	HandlerErrors  = Default.Counter("argon_handler_errors_total", "Handler invocations that failed or panicked", "")
	MessagesSent   = Default.Counter("argon_messages_sent_total", "Messages sent through the gateway", "")
	GatewayErrors  = Default.Counter("argon_gateway_errors_total", "Gateway calls that returned an error", "")
	Reconnects     = Default.Counter("argon_reconnects_total", "Transport reconnect attempts", "")
	ActiveHandlers = Default.Gauge("argon_active_handlers", "Handlers currently running", "")
	HandlerLatency = Default.Histogram("argon_handler_latency_seconds", "Handler run time in seconds", "", latencyBuckets)
	GatewayLatency = Default.Histogram("argon_gateway_latency_seconds", "Gateway call latency in seconds", "", latencyBuckets)
)

// EventType returns the per-type event counter.
func EventType(kind string) *Counter {
	return Default.Counter("argon_events_total", "Events dispatched by type", Label("type", kind))
}
