// Package ingest metrics for the event ingestion pipeline.
package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricEventsEnqueuedTotal = "ingest_events_enqueued_total"
	MetricEventsInsertedTotal = "ingest_events_inserted_total"
	MetricBatchSize           = "ingest_batch_size"
)

// Metrics contains Prometheus metrics for ingestion operations.
// All operations are thread-safe.
type Metrics struct {
	enqueued  *prometheus.CounterVec
	inserted  prometheus.Counter
	batchSize prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all
// collectors initialized. The metrics are not registered; call Register
// to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		enqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEventsEnqueuedTotal,
				Help: "Total number of events accepted and enqueued by event type",
			},
			[]string{"event_type"},
		),
		inserted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricEventsInsertedTotal,
				Help: "Total number of event rows written to the event store",
			},
		),
		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricBatchSize,
				Help:    "Histogram of accepted batch sizes",
				Buckets: []float64{1, 5, 10, 50, 100, 250, 500, 1000},
			},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.enqueued, m.inserted, m.batchSize} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncEnqueued increments the enqueued counter for an event type.
func (m *Metrics) IncEnqueued(eventType string, n int) {
	m.enqueued.WithLabelValues(eventType).Add(float64(n))
}

// IncInserted adds to the inserted-rows counter.
func (m *Metrics) IncInserted(n int) {
	m.inserted.Add(float64(n))
}

// ObserveBatchSize records the size of an accepted batch.
func (m *Metrics) ObserveBatchSize(n int) {
	m.batchSize.Observe(float64(n))
}
