package rules

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-klinik/internal/commission"
	"github.com/noah-isme/backend-klinik/internal/common"
)

// Handler exposes admin CRUD for commission rules.
type Handler struct {
	Svc *Service
}

type recordResponse struct {
	ID                uuid.UUID   `json:"id"`
	PractitionerIDs   []uuid.UUID `json:"practitionerIds,omitempty"`
	PractitionerNames []string    `json:"practitionerNames,omitempty"`
	Category          string      `json:"category,omitempty"`
	ProcedureNames    []string    `json:"procedureNames,omitempty"`
	Percent           float64     `json:"percent"`
	DefaultFallback   bool        `json:"defaultFallback"`
	Description       string      `json:"description,omitempty"`
}

func toRecordResponse(rec Record) recordResponse {
	rule := Normalize(rec)
	return recordResponse{
		ID:                rule.ID,
		PractitionerIDs:   rule.PractitionerIDs,
		PractitionerNames: rule.PractitionerNames,
		Category:          rule.Category,
		ProcedureNames:    rule.ProcedureNames,
		Percent:           float64(rule.PercentBps) / 100,
		DefaultFallback:   rule.DefaultFallback,
		Description:       rule.Description,
	}
}

// List returns every stored rule in canonical form.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "rule service not configured", nil)
		return
	}
	records, err := h.Svc.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecordResponse(rec))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// Get returns a single rule.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toRecordResponse(rec)})
}

// Create stores a new rule.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "rule service not configured", nil)
		return
	}
	var in Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	rec, err := h.Svc.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": toRecordResponse(rec)})
}

// Update replaces an existing rule.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var in Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	rec, err := h.Svc.Update(r.Context(), id, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toRecordResponse(rec)})
}

// Delete removes a rule.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Delete(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "rule service not configured", nil)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid rule id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "rule not found", nil)
	case errors.As(err, &fieldErrs):
		details := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			details[fe.Field()] = fe.Tag()
		}
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", "invalid rule payload", details)
	case errors.Is(err, commission.ErrPercentOutOfRange), errors.Is(err, commission.ErrNoConstraint):
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unexpected error", nil)
	}
}
