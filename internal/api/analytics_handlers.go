package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/evermart/analytics/internal/analyzer"
	"github.com/evermart/analytics/internal/dailystats"
	"github.com/evermart/analytics/internal/event"
	"github.com/evermart/analytics/internal/resolver"
)

// AnalyticsHandlers serves metric reads: conversion, funnels, rankings,
// named aggregations and on-demand rollup sync.
type AnalyticsHandlers struct {
	resolver   *resolver.Resolver
	analyzer   *analyzer.Analyzer
	registry   *analyzer.Registry
	aggregator *dailystats.Aggregator
	logger     *slog.Logger
}

// NewAnalyticsHandlers creates analytics handlers.
func NewAnalyticsHandlers(r *resolver.Resolver, a *analyzer.Analyzer, reg *analyzer.Registry, agg *dailystats.Aggregator, logger *slog.Logger) *AnalyticsHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalyticsHandlers{
		resolver:   r,
		analyzer:   a,
		registry:   reg,
		aggregator: agg,
		logger:     logger,
	}
}

// parseRange reads optional from/to query params as inclusive ISO
// dates. The to bound is widened to the end of its day.
func parseRange(r *http.Request) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return nil, nil, errors.New("from must be a YYYY-MM-DD date")
		}
		from = &t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return nil, nil, errors.New("to must be a YYYY-MM-DD date")
		}
		end := t.Add(24*time.Hour - time.Nanosecond)
		to = &end
	}
	return from, to, event.ValidateRange(from, to)
}

// Stores handles GET /analytics/stores/{id}/conversion,
// GET /analytics/stores/{id}/funnel and
// GET /analytics/stores/{id}/products/top.
func (h *AnalyticsHandlers) Stores(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorCode(w, r, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/analytics/stores/"), "/")
	if len(pathParts) < 2 || pathParts[0] == "" {
		writeErrorCode(w, r, http.StatusNotFound, ErrCodeNotFound, "Unknown analytics path")
		return
	}
	storeID := pathParts[0]

	from, to, err := parseRange(r)
	if err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, ErrCodeInvalidTimeRange, err.Error())
		return
	}

	switch {
	case pathParts[1] == "conversion":
		h.conversion(w, r, event.ScopeStore, storeID, from, to)
	case pathParts[1] == "funnel":
		h.funnel(w, r, storeID, from, to)
	case pathParts[1] == "products" && len(pathParts) > 2 && pathParts[2] == "top":
		h.topProducts(w, r, storeID, from, to)
	default:
		writeErrorCode(w, r, http.StatusNotFound, ErrCodeNotFound, "Unknown analytics path")
	}
}

// Products handles GET /analytics/products/{id}/conversion.
func (h *AnalyticsHandlers) Products(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorCode(w, r, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/analytics/products/"), "/")
	if len(pathParts) != 2 || pathParts[0] == "" || pathParts[1] != "conversion" {
		writeErrorCode(w, r, http.StatusNotFound, ErrCodeNotFound, "Unknown analytics path")
		return
	}

	from, to, err := parseRange(r)
	if err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, ErrCodeInvalidTimeRange, err.Error())
		return
	}
	h.conversion(w, r, event.ScopeProduct, pathParts[0], from, to)
}

func (h *AnalyticsHandlers) conversion(w http.ResponseWriter, r *http.Request, scope event.Scope, entityID string, from, to *time.Time) {
	res, err := h.resolver.Resolve(r.Context(), scope, entityID, from, to)
	if err != nil {
		h.logger.Error("conversion resolution failed", "scope", scope, "entity_id", entityID, "error", err)
		writeErrorCode(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to resolve metrics")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AnalyticsHandlers) funnel(w http.ResponseWriter, r *http.Request, storeID string, from, to *time.Time) {
	res, err := h.analyzer.Funnel(r.Context(), storeID, from, to)
	if err != nil {
		h.logger.Error("funnel analysis failed", "store_id", storeID, "error", err)
		writeErrorCode(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to compute funnel")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AnalyticsHandlers) topProducts(w http.ResponseWriter, r *http.Request, storeID string, from, to *time.Time) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeErrorCode(w, r, http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
			return
		}
		limit = n
	}

	top, err := h.analyzer.TopProducts(r.Context(), storeID, from, to, limit)
	if err != nil {
		h.logger.Error("top products ranking failed", "store_id", storeID, "error", err)
		writeErrorCode(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to rank products")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"store_id": storeID,
		"products": top,
	})
}

// AggregationRequest names an aggregator and carries its options.
type AggregationRequest struct {
	AggregatorName string          `json:"aggregator_name"`
	Options        json.RawMessage `json:"options"`
}

// Aggregations handles POST /analytics/aggregations, dispatching to the
// static aggregator registry.
func (h *AnalyticsHandlers) Aggregations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorCode(w, r, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req AggregationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}

	result, err := h.registry.Run(r.Context(), req.AggregatorName, req.Options)
	if err != nil {
		switch {
		case errors.Is(err, analyzer.ErrUnknownAggregator):
			writeErrorCode(w, r, http.StatusBadRequest, ErrCodeUnknownAggregator, err.Error())
		case errors.Is(err, analyzer.ErrBadOptions),
			errors.Is(err, analyzer.ErrTooFewEntities),
			errors.Is(err, analyzer.ErrTooManyEntities):
			writeErrorCode(w, r, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			h.logger.Error("aggregation failed", "aggregator", req.AggregatorName, "error", err)
			writeErrorCode(w, r, http.StatusInternalServerError, ErrCodeInternal, "Aggregation failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"aggregator_name": req.AggregatorName,
		"result":          result,
	})
}

// syncWindowDays is how far back an on-demand sync re-rolls.
const syncWindowDays = 7

// Sync handles POST /analytics/sync/stores/{id}: an on-demand rollup of
// the recent window so ranged reads reflect the latest events without
// waiting for the schedule.
func (h *AnalyticsHandlers) Sync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorCode(w, r, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	storeID := strings.TrimPrefix(r.URL.Path, "/analytics/sync/stores/")
	if storeID == "" || strings.Contains(storeID, "/") {
		writeErrorCode(w, r, http.StatusNotFound, ErrCodeNotFound, "Unknown sync path")
		return
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -(syncWindowDays - 1))
	rows, err := h.aggregator.RollupRange(r.Context(), from, to)
	if err != nil {
		if errors.Is(err, dailystats.ErrRollupInFlight) {
			writeErrorCode(w, r, http.StatusConflict, ErrCodeRollupInFlight, err.Error())
			return
		}
		h.logger.Error("on-demand rollup failed", "store_id", storeID, "error", err)
		writeErrorCode(w, r, http.StatusInternalServerError, ErrCodeInternal, "Rollup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"store_id":     storeID,
		"rows_written": rows,
		"from":         dailystats.Day(from).Format(time.DateOnly),
		"to":           dailystats.Day(to).Format(time.DateOnly),
	})
}
