package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"predixaai-anomaly/internal/alerts"
	"predixaai-anomaly/internal/anomaly"
	"predixaai-anomaly/internal/config"
	"predixaai-anomaly/internal/investigation"
	"predixaai-anomaly/internal/scheduler"
)

type AlertService interface {
	Get(ctx context.Context, id string) (anomaly.Alert, error)
	Query(ctx context.Context, f alerts.Filter) (alerts.Page, error)
	Acknowledge(ctx context.Context, id, actor string, expectedVersion int) (anomaly.Alert, error)
	Resolve(ctx context.Context, id, notes string, expectedVersion int) (anomaly.Alert, error)
	Stats(ctx context.Context, from, to time.Time) (alerts.Stats, error)
}

type Investigator interface {
	Investigate(ctx context.Context, alertID string) (investigation.Report, error)
}

type ConfigService interface {
	GetConfig(ctx context.Context, metric string) (anomaly.DetectionConfig, error)
	ListConfigs(ctx context.Context) ([]anomaly.DetectionConfig, error)
	UpdateConfig(ctx context.Context, metric string, cfg anomaly.DetectionConfig) (anomaly.DetectionConfig, error)
}

type SchedulerControl interface {
	Status() scheduler.Status
	Trigger() bool
}

type Handler struct {
	Alerts       AlertService
	Investigator Investigator
	Configs      ConfigService
	Scheduler    SchedulerControl
	Stream       http.Handler
	Metrics      http.Handler
	Limits       config.Limits
	Timeout      time.Duration
	Logger       *slog.Logger
}

type errorResponse struct {
	Ok      bool                  `json:"ok"`
	Code    string                `json:"code"`
	Message string                `json:"message"`
	Details []anomaly.ErrorDetail `json:"details,omitempty"`
	Current *conflictState        `json:"current,omitempty"`
}

type conflictState struct {
	Status  anomaly.Status `json:"status"`
	Version int            `json:"version"`
}

type acknowledgeRequest struct {
	Actor   string `json:"actor"`
	Version *int   `json:"version"`
}

type resolveRequest struct {
	Notes   string `json:"notes"`
	Version *int   `json:"version"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}
	if h.Stream != nil {
		r.Method(http.MethodGet, "/stream", h.Stream)
	}
	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.handleAlertsList)
		r.Get("/active", h.handleAlertsActive)
		r.Get("/stats", h.handleAlertStats)
		r.Get("/{id}", h.handleAlertGet)
		r.Get("/{id}/investigation", h.handleInvestigation)
		r.Post("/{id}/acknowledge", h.handleAcknowledge)
		r.Post("/{id}/resolve", h.handleResolve)
	})
	r.Route("/configs", func(r chi.Router) {
		r.Get("/", h.handleConfigsList)
		r.Get("/{metric}", h.handleConfigGet)
		r.Put("/{metric}", h.handleConfigUpdate)
	})
	r.Get("/scheduler", h.handleSchedulerStatus)
	r.Post("/scheduler/trigger", h.handleSchedulerTrigger)
}

func (h *Handler) timeout(r *http.Request) (context.Context, context.CancelFunc) {
	if h.Timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.Timeout)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleAlertsList(w http.ResponseWriter, r *http.Request) {
	filter, details := h.parseFilter(r)
	if len(details) > 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "INVALID_QUERY", Message: "invalid query parameters", Details: details})
		return
	}
	h.writePage(w, r, filter)
}

func (h *Handler) handleAlertsActive(w http.ResponseWriter, r *http.Request) {
	filter, details := h.parseFilter(r)
	if len(details) > 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "INVALID_QUERY", Message: "invalid query parameters", Details: details})
		return
	}
	filter.Status = anomaly.StatusActive
	h.writePage(w, r, filter)
}

func (h *Handler) writePage(w http.ResponseWriter, r *http.Request, filter alerts.Filter) {
	ctx, cancel := h.timeout(r)
	defer cancel()
	page, err := h.Alerts.Query(ctx, filter)
	if err != nil {
		h.writeError(w, err, "failed to query alerts")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	from, fromErr := parseTime(r.URL.Query().Get("from"))
	to, toErr := parseTime(r.URL.Query().Get("to"))
	if fromErr != nil || toErr != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "INVALID_QUERY", Message: "from and to must be RFC3339 timestamps"})
		return
	}
	ctx, cancel := h.timeout(r)
	defer cancel()
	stats, err := h.Alerts.Stats(ctx, from, to)
	if err != nil {
		h.writeError(w, err, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleAlertGet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.timeout(r)
	defer cancel()
	alert, err := h.Alerts.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err, "failed to load alert")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) handleInvestigation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.timeout(r)
	defer cancel()
	report, err := h.Investigator.Investigate(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err, "failed to investigate alert")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "INVALID_BODY", Message: err.Error()})
		return
	}
	if req.Version == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "INVALID_BODY", Message: "version is required"})
		return
	}
	ctx, cancel := h.timeout(r)
	defer cancel()
	alert, err := h.Alerts.Acknowledge(ctx, chi.URLParam(r, "id"), req.Actor, *req.Version)
	if err != nil {
		h.writeError(w, err, "failed to acknowledge alert")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "INVALID_BODY", Message: err.Error()})
		return
	}
	if req.Version == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "INVALID_BODY", Message: "version is required"})
		return
	}
	ctx, cancel := h.timeout(r)
	defer cancel()
	alert, err := h.Alerts.Resolve(ctx, chi.URLParam(r, "id"), req.Notes, *req.Version)
	if err != nil {
		h.writeError(w, err, "failed to resolve alert")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) handleConfigsList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.timeout(r)
	defer cancel()
	cfgs, err := h.Configs.ListConfigs(ctx)
	if err != nil {
		h.writeError(w, err, "failed to list configs")
		return
	}
	writeJSON(w, http.StatusOK, cfgs)
}

func (h *Handler) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.timeout(r)
	defer cancel()
	cfg, err := h.Configs.GetConfig(ctx, chi.URLParam(r, "metric"))
	if err != nil {
		h.writeError(w, err, "failed to load config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) handleConfigUpdate(w http.ResponseWriter, r *http.Request) {
	var req anomaly.DetectionConfig
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "INVALID_BODY", Message: err.Error()})
		return
	}
	ctx, cancel := h.timeout(r)
	defer cancel()
	cfg, err := h.Configs.UpdateConfig(ctx, chi.URLParam(r, "metric"), req)
	if err != nil {
		h.writeError(w, err, "failed to update config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Scheduler.Status())
}

func (h *Handler) handleSchedulerTrigger(w http.ResponseWriter, r *http.Request) {
	if !h.Scheduler.Trigger() {
		writeJSON(w, http.StatusConflict, errorResponse{Code: "SCHEDULER_STOPPED", Message: "scheduler is not running"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (h *Handler) parseFilter(r *http.Request) (alerts.Filter, []anomaly.ErrorDetail) {
	q := r.URL.Query()
	var details []anomaly.ErrorDetail
	filter := alerts.Filter{
		Metric:      q.Get("metric"),
		Severity:    anomaly.Severity(q.Get("severity")),
		AnomalyType: anomaly.AnomalyType(q.Get("anomalyType")),
		Status:      anomaly.Status(q.Get("status")),
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		details = append(details, anomaly.ErrorDetail{Field: "severity", Problem: "unknown severity", Hint: "critical, high, medium or low"})
	}
	if filter.AnomalyType != "" && !filter.AnomalyType.Valid() {
		details = append(details, anomaly.ErrorDetail{Field: "anomalyType", Problem: "unknown anomaly type"})
	}
	if filter.Status != "" && !filter.Status.Valid() {
		details = append(details, anomaly.ErrorDetail{Field: "status", Problem: "unknown status", Hint: "active, acknowledged or resolved"})
	}
	var err error
	if filter.From, err = parseTime(q.Get("from")); err != nil {
		details = append(details, anomaly.ErrorDetail{Field: "from", Problem: "not an RFC3339 timestamp"})
	}
	if filter.To, err = parseTime(q.Get("to")); err != nil {
		details = append(details, anomaly.ErrorDetail{Field: "to", Problem: "not an RFC3339 timestamp"})
	}
	limit, limitErr := parseInt(q.Get("limit"))
	offset, offsetErr := parseInt(q.Get("offset"))
	if limitErr != nil || limit < 0 {
		details = append(details, anomaly.ErrorDetail{Field: "limit", Problem: "must be a non-negative integer"})
	}
	if offsetErr != nil || offset < 0 {
		details = append(details, anomaly.ErrorDetail{Field: "offset", Problem: "must be a non-negative integer"})
	}
	filter.Limit = h.Limits.PageSize(limit)
	filter.Offset = offset
	return filter, details
}

func (h *Handler) writeError(w http.ResponseWriter, err error, fallback string) {
	var (
		validation *anomaly.ValidationError
		conflict   *anomaly.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "INVALID_CONFIG", Message: "invalid detection config", Details: validation.Details})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResponse{
			Code:    "CONFLICT",
			Message: conflict.Reason,
			Current: &conflictState{Status: conflict.CurrentStatus, Version: conflict.CurrentVersion},
		})
	case errors.Is(err, anomaly.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: err.Error()})
	default:
		if h.Logger != nil {
			h.Logger.Error(fallback, slog.String("error", err.Error()))
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Code: "INTERNAL", Message: fallback})
	}
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func parseInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
