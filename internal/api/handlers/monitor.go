package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/carewatch/go-cds/internal/dispatch"
	"github.com/carewatch/go-cds/internal/domain/clinical"
	"github.com/carewatch/go-cds/internal/monitor"
)

// MonitorHandler controls the monitoring scheduler and serves alert
// history.
type MonitorHandler struct {
	scheduler *monitor.Scheduler
	history   dispatch.History
	logger    *zap.Logger
}

// NewMonitorHandler creates the handler.
func NewMonitorHandler(scheduler *monitor.Scheduler, history dispatch.History, logger *zap.Logger) *MonitorHandler {
	return &MonitorHandler{scheduler: scheduler, history: history, logger: logger}
}

// Routes returns the handler routes.
func (h *MonitorHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/start", h.Start)
	r.Post("/stop", h.Stop)
	r.Post("/trigger", h.Trigger)
	r.Get("/status", h.Status)
	return r
}

// Start handles POST /monitor/start. Idempotent: starting a running
// scheduler is a no-op.
func (h *MonitorHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Start()
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

// Stop handles POST /monitor/stop. Blocks until any in-flight cycle
// drains, then reports final status.
func (h *MonitorHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Stop()
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

// Trigger handles POST /monitor/trigger, requesting an on-demand cycle.
func (h *MonitorHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.TriggerNow(); err != nil {
		if errors.Is(err, clinical.ErrMonitorRunning) {
			jsonError(w, err.Error(), http.StatusConflict)
			return
		}
		jsonError(w, "trigger failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, h.scheduler.Status())
}

// Status handles GET /monitor/status.
func (h *MonitorHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

// AlertHistory handles GET /patients/{id}/alerts.
func (h *MonitorHandler) AlertHistory(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "id")
	if patientID == "" {
		jsonError(w, "patient id is required", http.StatusBadRequest)
		return
	}

	records, err := h.history.ListByPatient(r.Context(), patientID)
	if err != nil {
		h.logger.Error("failed to list alert history",
			zap.String("patient_id", patientID),
			zap.Error(err))
		jsonError(w, "failed to list alert history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
