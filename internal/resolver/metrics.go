package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SourceMetrics counts resolutions by serving tier.
type SourceMetrics struct {
	resolutions *prometheus.CounterVec
}

// NewSourceMetrics creates the resolver metrics collectors.
func NewSourceMetrics() *SourceMetrics {
	return &SourceMetrics{
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analytics_resolutions_total",
				Help: "Total metric resolutions by serving source",
			},
			[]string{"source"},
		),
	}
}

// Register registers all collectors with the given registry.
func (m *SourceMetrics) Register(reg prometheus.Registerer) error {
	return reg.Register(m.resolutions)
}

// IncResolution records one resolution served by the given source.
func (m *SourceMetrics) IncResolution(source string) {
	m.resolutions.WithLabelValues(source).Inc()
}
