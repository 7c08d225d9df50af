// Package metrics holds the runtime's own counters and a fixed-bucket
// latency histogram, with an optional adapter exposing them through
// Prometheus.
//
// Grounded on jeeves-core's coreengine/observability/metrics.go
// (promauto.NewCounterVec/NewHistogramVec, label-keyed Record* functions);
// this package keeps jeeves' two-piece shape — lightweight internal
// counters plus an optional Prometheus facade — but swaps jeeves'
// global prometheus vars for a Registry any caller can construct (a server
// composing multiple independent metric sets, as SPEC_FULL.md's C13
// requires, can't share one package-level var table the way a single
// monolith like jeeves can) and fixed millisecond buckets the spec itself
// names.
package metrics

import (
	"sync"
	"sync/atomic"
)

// Counter is a monotonically increasing atomic counter.
type Counter struct {
	value int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { atomic.AddInt64(&c.value, 1) }

// Add increments the counter by delta.
func (c *Counter) Add(delta int64) { atomic.AddInt64(&c.value, delta) }

// Value returns the counter's current value.
func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.value) }

// HistogramBucketsMS are the fixed upper bounds (in milliseconds) this
// runtime's latency histograms use.
var HistogramBucketsMS = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Histogram is a fixed-bucket latency histogram recording millisecond
// observations, with an implicit +Inf overflow bucket.
type Histogram struct {
	bucketCounts []int64 // len(HistogramBucketsMS)+1, last is the +Inf bucket
	sum          int64   // sum of observed values, in microseconds, for precision
	count        int64
}

// NewHistogram builds a Histogram using HistogramBucketsMS.
func NewHistogram() *Histogram {
	return &Histogram{bucketCounts: make([]int64, len(HistogramBucketsMS)+1)}
}

// Observe records one latency observation in milliseconds.
func (h *Histogram) Observe(ms float64) {
	atomic.AddInt64(&h.sum, int64(ms*1000))
	atomic.AddInt64(&h.count, 1)
	for i, bound := range HistogramBucketsMS {
		if ms <= bound {
			atomic.AddInt64(&h.bucketCounts[i], 1)
			return
		}
	}
	atomic.AddInt64(&h.bucketCounts[len(h.bucketCounts)-1], 1)
}

// Snapshot is a point-in-time, cumulative view of a Histogram: BucketCounts[i]
// is the count of observations <= HistogramBucketsMS[i], with the final
// entry being the +Inf bucket.
type Snapshot struct {
	BucketCounts []int64
	Count        int64
	SumMS        float64
}

// Snapshot returns the histogram's current cumulative bucket counts.
func (h *Histogram) Snapshot() Snapshot {
	counts := make([]int64, len(h.bucketCounts))
	cumulative := int64(0)
	for i := range h.bucketCounts {
		cumulative += atomic.LoadInt64(&h.bucketCounts[i])
		counts[i] = cumulative
	}
	return Snapshot{
		BucketCounts: counts,
		Count:        atomic.LoadInt64(&h.count),
		SumMS:        float64(atomic.LoadInt64(&h.sum)) / 1000.0,
	}
}

// Registry is a named table of Counters and Histograms a server can record
// into and later export (via a PrometheusExporter or otherwise).
type Registry struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	histograms map[string]*Histogram
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]*Counter), histograms: make(map[string]*Histogram)}
}

// Counter returns the named counter, creating it on first use.
func (r *Registry) Counter(name string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[name]
	if !ok {
		c = &Counter{}
		r.counters[name] = c
	}
	return c
}

// Histogram returns the named histogram, creating it on first use.
func (r *Registry) Histogram(name string) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.histograms[name]
	if !ok {
		h = NewHistogram()
		r.histograms[name] = h
	}
	return h
}

// Counters returns a snapshot of every registered counter's current value.
func (r *Registry) Counters() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.counters))
	for name, c := range r.counters {
		out[name] = c.Value()
	}
	return out
}

// Histograms returns a snapshot of every registered histogram.
func (r *Registry) Histograms() map[string]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Snapshot, len(r.histograms))
	for name, h := range r.histograms {
		out[name] = h.Snapshot()
	}
	return out
}
