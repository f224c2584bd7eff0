package api

import (
	"net/http"
)

// Handlers groups the HTTP surface for route registration.
type Handlers struct {
	Events    *EventHandlers
	Analytics *AnalyticsHandlers
	Queue     *QueueHandlers
	Health    *HealthHandlers
}

// Register mounts every route on the mux. The metrics endpoint is
// mounted by the process bootstrap, which owns the registry.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/events", h.Events.Record)
	mux.HandleFunc("/events/batch", h.Events.RecordBatch)

	mux.HandleFunc("/analytics/stores/", h.Analytics.Stores)
	mux.HandleFunc("/analytics/products/", h.Analytics.Products)
	mux.HandleFunc("/analytics/aggregations", h.Analytics.Aggregations)
	mux.HandleFunc("/analytics/sync/stores/", h.Analytics.Sync)

	mux.HandleFunc("/queue/health", h.Queue.Health)
	mux.HandleFunc("/queue/jobs/", h.Queue.JobStatus)
	mux.HandleFunc("/queue/retry-failed", h.Queue.RetryFailed)
	mux.HandleFunc("/queue/purge-completed", h.Queue.PurgeCompleted)

	mux.HandleFunc("/health", h.Health.Health)
	mux.HandleFunc("/ready", h.Health.Ready)
}
