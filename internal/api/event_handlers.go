package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/evermart/analytics/internal/event"
	"github.com/evermart/analytics/internal/ingest"
)

// EventHandlers accepts interaction events and hands them to the
// ingestion producer. Ingestion is asynchronous: success means
// enqueued, not stored.
type EventHandlers struct {
	producer *ingest.Producer
	logger   *slog.Logger
}

// NewEventHandlers creates event ingestion handlers.
func NewEventHandlers(producer *ingest.Producer, logger *slog.Logger) *EventHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHandlers{
		producer: producer,
		logger:   logger,
	}
}

// RecordResponse acknowledges an accepted event.
type RecordResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Record handles POST /events: validate one event and enqueue it.
func (h *EventHandlers) Record(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorCode(w, r, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var e event.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}

	jobID, err := h.producer.Record(r.Context(), e)
	if err != nil {
		if errors.Is(err, event.ErrInvalidEventType) {
			writeErrorCode(w, r, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		h.logger.Error("failed to enqueue event", "error", err)
		writeErrorCode(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to accept event")
		return
	}

	writeJSON(w, http.StatusAccepted, RecordResponse{JobID: jobID, Status: "accepted"})
}

// RecordBatch handles POST /events/batch: partial acceptance with a
// per-item receipt. Oversized or empty batches are rejected whole.
func (h *EventHandlers) RecordBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorCode(w, r, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var events []event.Event
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}

	receipt, err := h.producer.RecordBatch(r.Context(), events)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrBatchTooLarge):
			writeErrorCode(w, r, http.StatusBadRequest, ErrCodeBatchTooLarge, err.Error())
		case errors.Is(err, ingest.ErrEmptyBatch):
			writeErrorCode(w, r, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			h.logger.Error("failed to enqueue batch", "error", err)
			writeErrorCode(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to accept batch")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, receipt)
}
