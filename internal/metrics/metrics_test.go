package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestCounter_IncAndAdd(t *testing.T) {
	c := &Counter{}
	c.Inc()
	c.Add(4)
	assert.Equal(t, int64(5), c.Value())
}

func TestHistogram_ObserveFallsIntoCorrectBucket(t *testing.T) {
	h := NewHistogram()
	h.Observe(3)   // falls in the 5ms bucket
	h.Observe(200) // falls in the 250ms bucket
	h.Observe(50000) // falls in +Inf

	snap := h.Snapshot()
	assert.Equal(t, int64(3), snap.Count)
	// cumulative: bucket for 5ms should be >= 1, bucket for 250ms >= 2, +Inf == 3
	assert.Equal(t, int64(3), snap.BucketCounts[len(snap.BucketCounts)-1])
}

func TestHistogram_SumAccumulates(t *testing.T) {
	h := NewHistogram()
	h.Observe(10)
	h.Observe(20)
	snap := h.Snapshot()
	assert.InDelta(t, 30.0, snap.SumMS, 0.01)
}

func TestRegistry_CounterCreatedOnFirstUse(t *testing.T) {
	r := NewRegistry()
	r.Counter("requests").Inc()
	r.Counter("requests").Inc()
	assert.Equal(t, int64(2), r.Counters()["requests"])
}

func TestRegistry_HistogramCreatedOnFirstUse(t *testing.T) {
	r := NewRegistry()
	r.Histogram("latency").Observe(5)
	snapshots := r.Histograms()
	assert.Equal(t, int64(1), snapshots["latency"].Count)
}

func TestPrometheusExporter_CollectEmitsMetrics(t *testing.T) {
	r := NewRegistry()
	r.Counter("requests").Add(3)
	r.Histogram("latency").Observe(10)

	exporter := NewPrometheusExporter("mcpcore", r)
	ch := make(chan prometheus.Metric, 10)
	exporter.Collect(ch)
	close(ch)

	var count int
	for range ch {
		count++
	}
	assert.Equal(t, 2, count) // one counter metric, one histogram metric
}
