// Package handlers provides HTTP handlers for the decision support API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/carewatch/go-cds/internal/api/middleware"
	"github.com/carewatch/go-cds/internal/domain/clinical"
	"github.com/carewatch/go-cds/internal/observability/metrics"
	"github.com/carewatch/go-cds/internal/safety"
)

// SafetyHandler exposes prescription safety validation.
type SafetyHandler struct {
	validator *safety.Validator
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewSafetyHandler creates the handler.
func NewSafetyHandler(validator *safety.Validator, m *metrics.Metrics, logger *zap.Logger) *SafetyHandler {
	return &SafetyHandler{validator: validator, metrics: m, logger: logger}
}

// Routes returns the handler routes.
func (h *SafetyHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/validate", h.Validate)
	return r
}

// ValidateRequest is the request body for prescription validation.
type ValidateRequest struct {
	PatientID string                     `json:"patient_id"`
	Orders    []clinical.MedicationOrder `json:"orders"`
}

// Validate handles POST /safety/validate. Validation is synchronous,
// idempotent and side-effect-free; a blocked submission is communicated
// through is_safe and the alert list, not through an HTTP error.
func (h *SafetyHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("safety-handler")
	ctx, span := tracer.Start(ctx, "validate_prescription")
	defer span.End()

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.String("patient_id", req.PatientID),
		attribute.Int("orders", len(req.Orders)),
	)

	result, err := h.validator.Validate(ctx, req.PatientID, req.Orders)
	if err != nil {
		if h.metrics != nil {
			h.metrics.ValidationErrors.Inc()
		}
		span.RecordError(err)

		var vErr *clinical.ValidationError
		switch {
		case errors.As(err, &vErr):
			jsonError(w, vErr.Error(), http.StatusBadRequest)
		case errors.Is(err, clinical.ErrDataUnavailable):
			jsonError(w, err.Error(), http.StatusServiceUnavailable)
		default:
			h.logger.Error("validation failed",
				zap.String("patient_id", req.PatientID),
				zap.String("request_id", middleware.GetRequestID(ctx)),
				zap.Error(err))
			jsonError(w, "validation failed", http.StatusInternalServerError)
		}
		return
	}

	if h.metrics != nil {
		h.metrics.ValidationsTotal.Inc()
		for _, alert := range result.Alerts {
			h.metrics.ValidationAlerts.WithLabelValues(string(alert.Type), string(alert.Severity)).Inc()
		}
	}

	h.logger.Info("prescription validated",
		zap.String("patient_id", req.PatientID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
		zap.Int("alerts", len(result.Alerts)),
		zap.Bool("is_safe", result.IsSafe))

	writeJSON(w, http.StatusOK, result)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
