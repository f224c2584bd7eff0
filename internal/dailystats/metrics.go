package dailystats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks rollup and retention activity.
type Metrics struct {
	rollupsTotal   *prometheus.CounterVec
	rollupDuration prometheus.Histogram
	rowsWritten    prometheus.Counter
	eventsPurged   prometheus.Counter
}

// NewMetrics creates the rollup metrics collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		rollupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analytics_rollups_total",
				Help: "Total daily rollup runs by status",
			},
			[]string{"status"},
		),
		rollupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "analytics_rollup_duration_seconds",
				Help:    "Duration of daily rollup runs",
				Buckets: prometheus.DefBuckets,
			},
		),
		rowsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "analytics_rollup_rows_written_total",
				Help: "Total daily stat rows written by rollups",
			},
		),
		eventsPurged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "analytics_retention_events_purged_total",
				Help: "Total raw events deleted by retention cleanup",
			},
		),
	}
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.rollupsTotal,
		m.rollupDuration,
		m.rowsWritten,
		m.eventsPurged,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveRollup records one rollup run.
func (m *Metrics) ObserveRollup(status string, seconds float64, rows int) {
	m.rollupsTotal.WithLabelValues(status).Inc()
	m.rollupDuration.Observe(seconds)
	if rows > 0 {
		m.rowsWritten.Add(float64(rows))
	}
}

// IncEventsPurged records raw events removed by retention cleanup.
func (m *Metrics) IncEventsPurged(n int) {
	if n > 0 {
		m.eventsPurged.Add(float64(n))
	}
}
