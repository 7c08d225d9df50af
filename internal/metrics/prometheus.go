package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusExporter adapts a Registry into a prometheus.Collector, so its
// counters and histograms can be scraped the same way jeeves-core exposes
// its promauto-registered vecs, without requiring every Counter/Histogram
// in this package to depend on the Prometheus client directly.
type PrometheusExporter struct {
	namespace string
	registry  *Registry
}

// NewPrometheusExporter builds an exporter over registry, prefixing every
// exported metric name with namespace + "_".
func NewPrometheusExporter(namespace string, registry *Registry) *PrometheusExporter {
	return &PrometheusExporter{namespace: namespace, registry: registry}
}

// Describe implements prometheus.Collector. Since this runtime's metric set
// is dynamic (names are registered on first use), Describe intentionally
// sends no descriptors — this makes the collector "unchecked," which
// prometheus.Collector permits.
func (e *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector, translating the current
// Registry snapshot into Prometheus counter and histogram metrics.
func (e *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	for name, value := range e.registry.Counters() {
		desc := prometheus.NewDesc(e.namespace+"_"+name+"_total", "Counter "+name, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(value))
	}

	for name, snap := range e.registry.Histograms() {
		desc := prometheus.NewDesc(e.namespace+"_"+name+"_duration_ms", "Histogram "+name, nil, nil)
		buckets := make(map[float64]uint64, len(HistogramBucketsMS))
		for i, bound := range HistogramBucketsMS {
			buckets[bound] = uint64(snap.BucketCounts[i])
		}
		metric, err := prometheus.NewConstHistogram(desc, uint64(snap.Count), snap.SumMS, buckets)
		if err != nil {
			continue
		}
		ch <- metric
	}
}

var _ prometheus.Collector = (*PrometheusExporter)(nil)
