// Package handlers provides HTTP handlers for the fulfillment API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/caretrack/fulfillment/internal/api/middleware"
	"github.com/caretrack/fulfillment/internal/domain/inventory"
	"github.com/caretrack/fulfillment/internal/domain/treatment"
	"github.com/caretrack/fulfillment/internal/fulfillment"
	"github.com/caretrack/fulfillment/pkg/idempotency"
)

// TreatmentHandler exposes the fulfillment engine over HTTP.
type TreatmentHandler struct {
	engine *fulfillment.Engine
	inbox  *idempotency.Inbox
	logger *zap.Logger
}

// NewTreatmentHandler creates the handler. The inbox may be nil to disable
// request deduplication.
func NewTreatmentHandler(engine *fulfillment.Engine, inbox *idempotency.Inbox, logger *zap.Logger) *TreatmentHandler {
	return &TreatmentHandler{
		engine: engine,
		inbox:  inbox,
		logger: logger,
	}
}

// Routes returns the handler routes.
func (h *TreatmentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/prescriptions/{id}/schedules", h.GenerateSchedules)
	r.Get("/schedules/{id}", h.GetSchedule)
	r.Post("/schedules/{id}/doses", h.AdministerDose)
	r.Post("/tasks/{id}/complete", h.CompleteTask)
	r.Get("/patients/{id}/pending-count", h.PendingCount)
	r.Get("/caregivers/{id}/worklist", h.Worklist)
	r.Get("/worklist/unassigned", h.Unassigned)
	return r
}

type scheduleResponse struct {
	ID              string                 `json:"id"`
	PrescriptionID  string                 `json:"prescription_id"`
	PatientID       string                 `json:"patient_id"`
	CaregiverID     *string                `json:"caregiver_id"`
	MedicationName  string                 `json:"medication_name"`
	Dosage          string                 `json:"dosage"`
	FrequencyPerDay int                    `json:"frequency_per_day"`
	DurationDays    int                    `json:"duration_days"`
	TotalDoses      int                    `json:"total_doses"`
	CompletedDoses  int                    `json:"completed_doses"`
	Status          string                 `json:"status"`
	ScheduledTime   time.Time              `json:"scheduled_time"`
	DoseHistory     []treatment.DoseRecord `json:"dose_history,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
}

func toScheduleResponse(s *treatment.Schedule) scheduleResponse {
	return scheduleResponse{
		ID:              s.ID,
		PrescriptionID:  s.PrescriptionID,
		PatientID:       s.PatientID,
		CaregiverID:     s.CaregiverID,
		MedicationName:  s.MedicationName,
		Dosage:          s.Dosage,
		FrequencyPerDay: s.FrequencyPerDay,
		DurationDays:    s.DurationDays,
		TotalDoses:      s.TotalDoses,
		CompletedDoses:  s.CompletedDoses,
		Status:          string(s.Status),
		ScheduledTime:   s.ScheduledTime,
		DoseHistory:     s.DoseHistory,
		CompletedAt:     s.CompletedAt,
	}
}

// GenerateSchedules handles POST /prescriptions/{id}/schedules.
func (h *TreatmentHandler) GenerateSchedules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	schedules, err := h.engine.GenerateSchedules(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]scheduleResponse, 0, len(schedules))
	for _, s := range schedules {
		out = append(out, toScheduleResponse(s))
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"prescription_id": id,
		"schedules":       out,
	})
}

// GetSchedule handles GET /schedules/{id}.
func (h *TreatmentHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := h.engine.Schedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toScheduleResponse(sched))
}

type administerRequest struct {
	CaregiverID string `json:"caregiver_id"`
	Note        string `json:"note,omitempty"`
	Consumed    []struct {
		MedicineID string  `json:"medicine_id"`
		Quantity   int     `json:"quantity"`
		UnitPrice  float64 `json:"unit_price,omitempty"`
	} `json:"consumed,omitempty"`
}

// validate returns a client-facing message for a malformed request, empty
// when the request is well formed. Catching bad consumption lines here
// keeps them out of the transaction path, where they would otherwise
// surface as retryable failures.
func (req *administerRequest) validate() string {
	if req.CaregiverID == "" {
		return "caregiver_id is required"
	}
	for _, c := range req.Consumed {
		if c.MedicineID == "" {
			return "consumed.medicine_id is required"
		}
		if c.Quantity <= 0 {
			return "consumed.quantity must be positive"
		}
	}
	return ""
}

func (req *administerRequest) toEngine(workItemID string) fulfillment.AdministerRequest {
	out := fulfillment.AdministerRequest{
		WorkItemID:  workItemID,
		CaregiverID: req.CaregiverID,
		Note:        req.Note,
	}
	for _, c := range req.Consumed {
		out.Consumed = append(out.Consumed, treatment.ConsumedMedicine{
			MedicineID: c.MedicineID,
			Quantity:   c.Quantity,
			UnitPrice:  c.UnitPrice,
		})
	}
	return out
}

// AdministerDose handles POST /schedules/{id}/doses. Retried submissions
// carrying the same X-Idempotency-Key replay the stored response instead of
// recording a second dose.
func (h *TreatmentHandler) AdministerDose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req administerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		h.jsonError(w, msg, http.StatusBadRequest)
		return
	}

	run := func() (json.RawMessage, error) {
		sched, err := h.engine.AdministerDose(ctx, req.toEngine(id))
		if err != nil {
			return nil, err
		}
		return json.Marshal(toScheduleResponse(sched))
	}

	key := r.Header.Get("X-Idempotency-Key")
	if key != "" && h.inbox != nil {
		result, err := h.inbox.Process(ctx, key, "administer_dose", func(ctx context.Context) (json.RawMessage, error) {
			return run()
		})
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(result.Result)
		return
	}

	body, err := run()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// CompleteTask handles POST /tasks/{id}/complete.
func (h *TreatmentHandler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req administerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		h.jsonError(w, msg, http.StatusBadRequest)
		return
	}

	task, err := h.engine.CompleteTask(ctx, req.toEngine(id))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"id":           task.ID,
		"status":       string(task.Status),
		"completed_at": task.CompletedAt,
		"completed_by": task.CompletedBy,
	})
}

// PendingCount handles GET /patients/{id}/pending-count.
func (h *TreatmentHandler) PendingCount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	count, err := h.engine.PatientPendingCount(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"patient_id":    id,
		"pending_count": count,
	})
}

type workItemResponse struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	PatientID   string    `json:"patient_id"`
	CaregiverID *string   `json:"caregiver_id"`
	DueAt       time.Time `json:"due_at"`
}

// Worklist handles GET /caregivers/{id}/worklist.
func (h *TreatmentHandler) Worklist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	items, err := h.engine.Worklist(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]workItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, workItemResponse{
			ID:          item.ItemID(),
			Kind:        string(item.ItemKind()),
			PatientID:   item.Patient(),
			CaregiverID: item.Caregiver(),
			DueAt:       item.Due(),
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"caregiver_id": id,
		"items":        out,
	})
}

// Unassigned handles GET /worklist/unassigned.
func (h *TreatmentHandler) Unassigned(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.engine.UnassignedSchedules(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]scheduleResponse, 0, len(schedules))
	for _, s := range schedules {
		out = append(out, toScheduleResponse(s))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"schedules": out})
}

// writeError maps domain errors to HTTP statuses.
func (h *TreatmentHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var stockErr *inventory.InsufficientStockError
	var transient *fulfillment.TransientError

	switch {
	case errors.Is(err, treatment.ErrNotFound):
		h.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, treatment.ErrConflict):
		h.jsonError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &stockErr):
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":       stockErr.Error(),
			"medicine_id": stockErr.MedicineID,
			"available":   stockErr.Available,
			"required":    stockErr.Required,
		})
	case errors.Is(err, idempotency.ErrInProgress):
		h.jsonError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &transient):
		h.logger.Error("transient failure",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
		h.jsonError(w, "temporarily unavailable, retry", http.StatusServiceUnavailable)
	default:
		h.logger.Error("request failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
		h.jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

func (h *TreatmentHandler) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func (h *TreatmentHandler) jsonError(w http.ResponseWriter, message string, code int) {
	h.writeJSON(w, code, map[string]string{"error": message})
}
