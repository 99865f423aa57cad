package billing

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-klinik/internal/catalog"
	"github.com/noah-isme/backend-klinik/internal/commission"
	"github.com/noah-isme/backend-klinik/internal/common"
	"github.com/noah-isme/backend-klinik/internal/pricing"
	"github.com/noah-isme/backend-klinik/internal/voucher"
)

// Handler wires the billing service to HTTP. Percentages cross this
// boundary as plain numbers (10 means 10%) and are carried as basis points
// internally.
type Handler struct {
	Svc *Service
}

type commissionResponse struct {
	RuleID    *uuid.UUID `json:"ruleId,omitempty"`
	Score     int        `json:"score,omitempty"`
	MatchType string     `json:"matchType,omitempty"`
	Percent   *float64   `json:"percent,omitempty"`
	Amount    int64      `json:"amount"`
	MultiRule bool       `json:"multiRule"`
	Manual    bool       `json:"manual"`
}

type sessionResponse struct {
	ID               uuid.UUID            `json:"id"`
	PractitionerID   *uuid.UUID           `json:"practitionerId,omitempty"`
	PractitionerName string               `json:"practitionerName,omitempty"`
	Procedures       []ProcedureLineView  `json:"procedures"`
	Medications      []MedicationLineView `json:"medications"`
	Totals           pricing.Totals       `json:"totals"`
	Commission       commissionResponse   `json:"commission"`
	Voucher          *voucher.Applied     `json:"voucher,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

type orderResponse struct {
	ID               uuid.UUID            `json:"id"`
	SessionID        uuid.UUID            `json:"sessionId"`
	PractitionerID   *uuid.UUID           `json:"practitionerId,omitempty"`
	PractitionerName string               `json:"practitionerName,omitempty"`
	Procedures       []ProcedureLineView  `json:"procedures"`
	Medications      []MedicationLineView `json:"medications"`
	Totals           pricing.Totals       `json:"totals"`
	Commission       commissionResponse   `json:"commission"`
	Voucher          *voucher.Applied     `json:"voucher,omitempty"`
	FinalizedAt      time.Time            `json:"finalizedAt"`
}

func toCommissionResponse(c commission.Resolved) commissionResponse {
	resp := commissionResponse{
		RuleID:    c.RuleID,
		Score:     c.Score,
		MatchType: c.MatchType,
		Amount:    c.Amount,
		MultiRule: c.MultiRule,
		Manual:    c.Manual,
	}
	if c.PercentBps != nil {
		pct := float64(*c.PercentBps) / 100
		resp.Percent = &pct
	}
	return resp
}

func toSessionResponse(s Snapshot) sessionResponse {
	return sessionResponse{
		ID:               s.ID,
		PractitionerID:   s.PractitionerID,
		PractitionerName: s.PractitionerName,
		Procedures:       s.Procedures,
		Medications:      s.Medications,
		Totals:           s.Totals,
		Commission:       toCommissionResponse(s.Commission),
		Voucher:          s.Voucher,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func toOrderResponse(o FinalizedOrder) orderResponse {
	return orderResponse{
		ID:               o.ID,
		SessionID:        o.SessionID,
		PractitionerID:   o.PractitionerID,
		PractitionerName: o.PractitionerName,
		Procedures:       o.Procedures,
		Medications:      o.Medications,
		Totals:           o.Totals,
		Commission:       toCommissionResponse(o.Commission),
		Voucher:          o.Voucher,
		FinalizedAt:      o.FinalizedAt,
	}
}

// percentToBps converts a human-entered percentage to basis points.
func percentToBps(pct float64) int64 {
	return int64(math.Round(pct * 100))
}

// Create opens a new billing session.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "billing service not configured", nil)
		return
	}
	var payload struct {
		PractitionerID string `json:"practitionerId"`
	}
	if r.Body != nil {
		// Body is optional; the practitioner can be assigned later.
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}
	snap, err := h.Svc.Create(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if trimmed := strings.TrimSpace(payload.PractitionerID); trimmed != "" {
		pracID, err := uuid.Parse(trimmed)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid practitioner id", nil)
			return
		}
		snap, err = h.Svc.SetPractitioner(r.Context(), snap.ID, pracID)
		if err != nil {
			h.writeError(w, err)
			return
		}
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": toSessionResponse(snap)})
}

// Get returns the derived snapshot of a session.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	snap, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toSessionResponse(snap)})
}

// SetPractitioner assigns the treating practitioner.
func (h *Handler) SetPractitioner(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var payload struct {
		PractitionerID string `json:"practitionerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	pracID, err := uuid.Parse(strings.TrimSpace(payload.PractitionerID))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid practitioner id", nil)
		return
	}
	snap, err := h.Svc.SetPractitioner(r.Context(), id, pracID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toSessionResponse(snap)})
}

// AddProcedure appends a procedure line.
func (h *Handler) AddProcedure(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var payload struct {
		ProcedureID string `json:"procedureId"`
		Qty         *int   `json:"qty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	procID, err := uuid.Parse(strings.TrimSpace(payload.ProcedureID))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid procedure id", nil)
		return
	}
	// Absent qty defaults to one; an explicit zero is a validation error.
	qty := 1
	if payload.Qty != nil {
		qty = *payload.Qty
	}
	snap, err := h.Svc.AddProcedure(r.Context(), id, procID, qty)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toSessionResponse(snap)})
}

// UpdateProcedureLine edits quantity and/or discount of a line.
func (h *Handler) UpdateProcedureLine(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	lineID, ok := h.pathID(w, r, "lineId")
	if !ok {
		return
	}
	var payload struct {
		Qty      *int `json:"qty"`
		Discount *struct {
			Kind  string  `json:"kind"`
			Value float64 `json:"value"`
		} `json:"discount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	in := UpdateProcedureLineInput{Qty: payload.Qty}
	if payload.Discount != nil {
		kind := pricing.DiscountKind(payload.Discount.Kind)
		var value int64
		switch kind {
		case pricing.DiscountPercentage:
			value = percentToBps(payload.Discount.Value)
		case pricing.DiscountFixedAmount:
			value = int64(math.Round(payload.Discount.Value))
		default:
			common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", "unknown discount kind", nil)
			return
		}
		in.DiscountKind = &kind
		in.DiscountValue = &value
	}
	snap, err := h.Svc.UpdateProcedureLine(r.Context(), id, lineID, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toSessionResponse(snap)})
}

// RemoveProcedure deletes a procedure line.
func (h *Handler) RemoveProcedure(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	lineID, ok := h.pathID(w, r, "lineId")
	if !ok {
		return
	}
	snap, err := h.Svc.RemoveProcedure(r.Context(), id, lineID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toSessionResponse(snap)})
}

// AddMedication appends a medication line.
func (h *Handler) AddMedication(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var payload struct {
		MedicationID string `json:"medicationId"`
		Qty          *int   `json:"qty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	medID, err := uuid.Parse(strings.TrimSpace(payload.MedicationID))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid medication id", nil)
		return
	}
	qty := 1
	if payload.Qty != nil {
		qty = *payload.Qty
	}
	snap, err := h.Svc.AddMedication(r.Context(), id, medID, qty)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toSessionResponse(snap)})
}

// RemoveMedication deletes a medication line.
func (h *Handler) RemoveMedication(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	lineID, ok := h.pathID(w, r, "lineId")
	if !ok {
		return
	}
	snap, err := h.Svc.RemoveMedication(r.Context(), id, lineID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toSessionResponse(snap)})
}

// SetAdminFee overrides the administrative fee. A null amount restores the
// clinic default.
func (h *Handler) SetAdminFee(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var payload struct {
		Amount *int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	snap, err := h.Svc.SetAdminFee(r.Context(), id, payload.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toSessionResponse(snap)})
}

// SetCommission edits the commission override state.
func (h *Handler) SetCommission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var payload struct {
		ManualPercent  *float64 `json:"manualPercent"`
		ExternalAmount *int64   `json:"externalAmount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	in := SetCommissionInput{ExternalAmount: payload.ExternalAmount}
	if payload.ManualPercent != nil {
		bps := percentToBps(*payload.ManualPercent)
		in.ManualPercentBps = &bps
	}
	snap, err := h.Svc.SetCommission(r.Context(), id, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toSessionResponse(snap)})
}

// ApplyVoucher validates and applies a voucher code.
func (h *Handler) ApplyVoucher(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	code := strings.TrimSpace(payload.Code)
	if code == "" {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", "voucher code is required", nil)
		return
	}
	snap, err := h.Svc.ApplyVoucher(r.Context(), id, code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toSessionResponse(snap)})
}

// RemoveVoucher returns the session to the no-voucher state.
func (h *Handler) RemoveVoucher(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	snap, err := h.Svc.RemoveVoucher(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toSessionResponse(snap)})
}

// Finalize freezes the session into a persisted order.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.Svc.Finalize(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": toOrderResponse(order)})
}

// Order returns a previously finalized order.
func (h *Handler) Order(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.Svc.Order(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toOrderResponse(order)})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "billing service not configured", nil)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrLineNotFound),
		errors.Is(err, ErrOrderNotFound), errors.Is(err, catalog.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, pricing.ErrInsufficientStock):
		common.JSONError(w, http.StatusUnprocessableEntity, "STOCK_EXCEEDED", err.Error(), nil)
	case errors.Is(err, ErrDiscountVoucherConflict), errors.Is(err, voucher.ErrManualDiscountConflict):
		common.JSONError(w, http.StatusConflict, "DISCOUNT_VOUCHER_CONFLICT", err.Error(), nil)
	case errors.Is(err, voucher.ErrSuperseded):
		common.JSONError(w, http.StatusConflict, "VOUCHER_SUPERSEDED", err.Error(), nil)
	case errors.Is(err, voucher.ErrRejected):
		common.JSONError(w, http.StatusUnprocessableEntity, "VOUCHER_REJECTED", err.Error(), nil)
	case errors.Is(err, voucher.ErrServiceUnavailable):
		common.JSONError(w, http.StatusBadGateway, "VOUCHER_SERVICE_UNAVAILABLE", err.Error(), nil)
	case errors.Is(err, pricing.ErrQuantityNotPositive),
		errors.Is(err, pricing.ErrDiscountPercentOutOfRange),
		errors.Is(err, pricing.ErrDiscountNegative),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrEmptyOrder):
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error(), nil)
	default:
		var appErr *common.AppError
		if errors.As(err, &appErr) {
			common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unexpected error", nil)
	}
}
