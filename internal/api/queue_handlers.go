package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/evermart/analytics/internal/queue"
)

// QueueHandlers exposes operator endpoints for the ingestion queue:
// health, failed-job retry and completed-job purging.
type QueueHandlers struct {
	queue    queue.Queue
	jobTypes []string
	logger   *slog.Logger
}

// NewQueueHandlers creates queue operator handlers. jobTypes lists the
// job types reported by the health endpoint.
func NewQueueHandlers(q queue.Queue, jobTypes []string, logger *slog.Logger) *QueueHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	if len(jobTypes) == 0 {
		jobTypes = []string{queue.JobTypeRecordEvent, queue.JobTypeRecordBatch}
	}
	return &QueueHandlers{
		queue:    q,
		jobTypes: jobTypes,
		logger:   logger,
	}
}

// TypeHealth is one job type's share of the queue health report.
type TypeHealth struct {
	Depth           int64   `json:"depth"`
	Failed          int64   `json:"failed"`
	OldestFailedAge float64 `json:"oldest_failed_age_seconds"`
}

// Health handles GET /queue/health.
func (h *QueueHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorCode(w, r, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	report := make(map[string]TypeHealth, len(h.jobTypes))
	for _, jobType := range h.jobTypes {
		stats, err := h.queue.Stats(r.Context(), jobType)
		if err != nil {
			h.logger.Error("queue stats failed", "job_type", jobType, "error", err)
			writeErrorCode(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to read queue stats")
			return
		}
		report[jobType] = TypeHealth{
			Depth:           stats.Depth,
			Failed:          stats.Failed,
			OldestFailedAge: stats.OldestFailedAge.Seconds(),
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"queues": report})
}

// JobStatus handles GET /queue/jobs/{id}.
func (h *QueueHandlers) JobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorCode(w, r, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/queue/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		writeErrorCode(w, r, http.StatusNotFound, ErrCodeNotFound, "Unknown job path")
		return
	}

	status, err := h.queue.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			writeErrorCode(w, r, http.StatusNotFound, ErrCodeNotFound, "Job not found")
			return
		}
		h.logger.Error("job status lookup failed", "job_id", jobID, "error", err)
		writeErrorCode(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to read job status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// RetryFailed handles POST /queue/retry-failed. An optional ?type=
// restricts the retry to one job type.
func (h *QueueHandlers) RetryFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorCode(w, r, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	jobType := r.URL.Query().Get("type")
	retried, err := h.queue.RetryFailed(r.Context(), jobType)
	if err != nil {
		h.logger.Error("retry failed jobs failed", "job_type", jobType, "error", err)
		writeErrorCode(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to retry jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"retried": retried})
}

// PurgeCompleted handles POST /queue/purge-completed. An optional
// ?older_than= Go duration overrides the default retention.
func (h *QueueHandlers) PurgeCompleted(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorCode(w, r, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	olderThan := queue.DefaultCompleteRetention
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeErrorCode(w, r, http.StatusBadRequest, ErrCodeValidation, "older_than must be a non-negative duration")
			return
		}
		olderThan = d
	}

	purged, err := h.queue.PurgeCompleted(r.Context(), olderThan)
	if err != nil {
		h.logger.Error("purge completed jobs failed", "error", err)
		writeErrorCode(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to purge jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"purged": purged})
}
