package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-klinik/internal/catalog"
	"github.com/noah-isme/backend-klinik/internal/commission"
	"github.com/noah-isme/backend-klinik/internal/events"
	"github.com/noah-isme/backend-klinik/internal/obs"
	"github.com/noah-isme/backend-klinik/internal/pricing"
	"github.com/noah-isme/backend-klinik/internal/voucher"
)

// ErrInvalidInput is returned when the provided payload is invalid.
var ErrInvalidInput = errors.New("billing: invalid input")

// ErrDiscountVoucherConflict is returned when a manual discount edit is
// attempted while a voucher is applied. The two adjustment paths are
// mutually exclusive per order.
var ErrDiscountVoucherConflict = errors.New("billing: manual discounts and voucher are mutually exclusive")

// ErrEmptyOrder is returned when finalization is attempted on a session
// with no billable lines.
var ErrEmptyOrder = errors.New("billing: order has no lines")

// Catalog provides the reference data billing lines are built from.
type Catalog interface {
	GetPractitioner(ctx context.Context, id uuid.UUID) (catalog.Practitioner, error)
	GetProcedure(ctx context.Context, id uuid.UUID) (catalog.Procedure, error)
	GetMedication(ctx context.Context, id uuid.UUID) (catalog.Medication, error)
}

// RuleSource supplies the active commission rule set for resolution.
type RuleSource interface {
	ActiveRules(ctx context.Context) ([]commission.Rule, error)
}

// OrderStore persists finalized orders.
type OrderStore interface {
	SaveOrder(ctx context.Context, order FinalizedOrder) error
	GetOrder(ctx context.Context, id uuid.UUID) (FinalizedOrder, error)
}

// ProcedureLineView is a procedure line together with its derived amounts.
type ProcedureLineView struct {
	pricing.ProcedureLine
	GrossAmount    pricing.Money `json:"grossAmount"`
	DiscountAmount pricing.Money `json:"discountAmount"`
	FinalPrice     pricing.Money `json:"finalPrice"`
}

// MedicationLineView is a medication line together with its derived total.
type MedicationLineView struct {
	pricing.MedicationLine
	TotalPrice pricing.Money `json:"totalPrice"`
}

// Snapshot is the fully derived read model of a session: every amount on it
// is recomputed from the session inputs at read time.
type Snapshot struct {
	ID               uuid.UUID            `json:"id"`
	PractitionerID   *uuid.UUID           `json:"practitionerId,omitempty"`
	PractitionerName string               `json:"practitionerName,omitempty"`
	Procedures       []ProcedureLineView  `json:"procedures"`
	Medications      []MedicationLineView `json:"medications"`
	Totals           pricing.Totals       `json:"totals"`
	Commission       commission.Resolved  `json:"commission"`
	Voucher          *voucher.Applied     `json:"voucher,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

// FinalizedOrder is the persisted outcome of a session: the frozen lines
// and figures as they stood at finalization.
type FinalizedOrder struct {
	ID               uuid.UUID            `json:"id"`
	SessionID        uuid.UUID            `json:"sessionId"`
	PractitionerID   *uuid.UUID           `json:"practitionerId,omitempty"`
	PractitionerName string               `json:"practitionerName,omitempty"`
	Procedures       []ProcedureLineView  `json:"procedures"`
	Medications      []MedicationLineView `json:"medications"`
	Totals           pricing.Totals       `json:"totals"`
	Commission       commission.Resolved  `json:"commission"`
	Voucher          *voucher.Applied     `json:"voucher,omitempty"`
	FinalizedAt      time.Time            `json:"finalizedAt"`
}

// UpdateProcedureLineInput carries a partial edit of a procedure line. Nil
// fields are left untouched.
type UpdateProcedureLineInput struct {
	Qty           *int
	DiscountKind  *pricing.DiscountKind
	DiscountValue *int64
}

// SetCommissionInput carries the commission override edit. Setting both
// fields is rejected; clearing both restores rule-based resolution.
type SetCommissionInput struct {
	ManualPercentBps *int64
	ExternalAmount   *int64
}

// Service orchestrates billing sessions: line management, pricing,
// commission resolution, voucher adjustment and finalization.
type Service struct {
	Sessions        *SessionStore
	Catalog         Catalog
	Rules           RuleSource
	Vouchers        voucher.Validator
	Orders          OrderStore
	Bus             *events.Bus
	DefaultAdminFee pricing.Money
	Log             zerolog.Logger
	Now             func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) ready() error {
	if s == nil || s.Sessions == nil || s.Catalog == nil {
		return errors.New("billing service not configured")
	}
	return nil
}

// Create opens a fresh, empty session.
func (s *Service) Create(ctx context.Context) (Snapshot, error) {
	if err := s.ready(); err != nil {
		return Snapshot{}, err
	}
	sess := s.Sessions.Create(s.now())
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.snapshotLocked(ctx, sess)
}

// Get returns the derived snapshot of an existing session.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Snapshot, error) {
	if err := s.ready(); err != nil {
		return Snapshot{}, err
	}
	sess, err := s.Sessions.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.snapshotLocked(ctx, sess)
}

// SetPractitioner assigns the treating practitioner. Changing the
// practitioner invalidates any manually entered commission percentage.
func (s *Service) SetPractitioner(ctx context.Context, sessionID, practitionerID uuid.UUID) (Snapshot, error) {
	if err := s.ready(); err != nil {
		return Snapshot{}, err
	}
	prac, err := s.Catalog.GetPractitioner(ctx, practitionerID)
	if err != nil {
		return Snapshot{}, err
	}
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	id := prac.ID
	sess.PractitionerID = &id
	sess.PractitionerName = prac.Name
	sess.Commission.ManualPercentBps = nil
	sess.UpdatedAt = s.now()
	return s.snapshotLocked(ctx, sess)
}

// AddProcedure appends a procedure line priced from the catalog. The new
// line starts without a discount; selection changes invalidate any manually
// entered commission percentage.
func (s *Service) AddProcedure(ctx context.Context, sessionID, procedureID uuid.UUID, qty int) (Snapshot, error) {
	if err := s.ready(); err != nil {
		return Snapshot{}, err
	}
	proc, err := s.Catalog.GetProcedure(ctx, procedureID)
	if err != nil {
		return Snapshot{}, err
	}
	line := pricing.ProcedureLine{
		ID:          uuid.New(),
		ProcedureID: proc.ID,
		Name:        proc.Name,
		Category:    proc.Category,
		UnitPrice:   proc.Price,
		Qty:         qty,
	}
	if err := line.Validate(); err != nil {
		return Snapshot{}, err
	}
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.Procedures = append(sess.Procedures, line)
	sess.Commission.ManualPercentBps = nil
	sess.UpdatedAt = s.now()
	return s.snapshotLocked(ctx, sess)
}

// UpdateProcedureLine edits quantity and/or discount of an existing line.
// A pure quantity change keeps a manual commission percentage in place; the
// stored discount spec re-derives the amounts at the new quantity. Discount
// edits are refused while a voucher is applied.
func (s *Service) UpdateProcedureLine(ctx context.Context, sessionID, lineID uuid.UUID, in UpdateProcedureLineInput) (Snapshot, error) {
	if err := s.ready(); err != nil {
		return Snapshot{}, err
	}
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	idx := -1
	for i := range sess.Procedures {
		if sess.Procedures[i].ID == lineID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Snapshot{}, ErrLineNotFound
	}
	discountEdit := in.DiscountKind != nil || in.DiscountValue != nil
	if discountEdit && sess.Voucher.Active() {
		return Snapshot{}, ErrDiscountVoucherConflict
	}
	line := sess.Procedures[idx]
	if in.Qty != nil {
		line.Qty = *in.Qty
	}
	if in.DiscountKind != nil {
		line.DiscountKind = *in.DiscountKind
	}
	if in.DiscountValue != nil {
		line.DiscountValue = *in.DiscountValue
	}
	if err := line.Validate(); err != nil {
		return Snapshot{}, err
	}
	sess.Procedures[idx] = line
	sess.UpdatedAt = s.now()
	return s.snapshotLocked(ctx, sess)
}

// RemoveProcedure deletes a procedure line. Selection changes invalidate
// any manually entered commission percentage.
func (s *Service) RemoveProcedure(ctx context.Context, sessionID, lineID uuid.UUID) (Snapshot, error) {
	if err := s.ready(); err != nil {
		return Snapshot{}, err
	}
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	kept := sess.Procedures[:0]
	found := false
	for _, line := range sess.Procedures {
		if line.ID == lineID {
			found = true
			continue
		}
		kept = append(kept, line)
	}
	if !found {
		return Snapshot{}, ErrLineNotFound
	}
	sess.Procedures = kept
	sess.Commission.ManualPercentBps = nil
	sess.UpdatedAt = s.now()
	return s.snapshotLocked(ctx, sess)
}

// AddMedication appends a medication line priced from the catalog. The
// requested quantity is checked against the recorded stock and rejected,
// never clamped, when it exceeds it.
func (s *Service) AddMedication(ctx context.Context, sessionID, medicationID uuid.UUID, qty int) (Snapshot, error) {
	if err := s.ready(); err != nil {
		return Snapshot{}, err
	}
	med, err := s.Catalog.GetMedication(ctx, medicationID)
	if err != nil {
		return Snapshot{}, err
	}
	line := pricing.MedicationLine{
		ID:           uuid.New(),
		MedicationID: med.ID,
		Name:         med.Name,
		UnitPrice:    med.Price,
		Qty:          qty,
	}
	if err := line.Validate(med.Stock); err != nil {
		return Snapshot{}, err
	}
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.Medications = append(sess.Medications, line)
	sess.UpdatedAt = s.now()
	return s.snapshotLocked(ctx, sess)
}

// RemoveMedication deletes a medication line.
func (s *Service) RemoveMedication(ctx context.Context, sessionID, lineID uuid.UUID) (Snapshot, error) {
	if err := s.ready(); err != nil {
		return Snapshot{}, err
	}
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	kept := sess.Medications[:0]
	found := false
	for _, line := range sess.Medications {
		if line.ID == lineID {
			found = true
			continue
		}
		kept = append(kept, line)
	}
	if !found {
		return Snapshot{}, ErrLineNotFound
	}
	sess.Medications = kept
	sess.UpdatedAt = s.now()
	return s.snapshotLocked(ctx, sess)
}

// SetAdminFee overrides the administrative fee for this session. A nil fee
// restores the clinic default.
func (s *Service) SetAdminFee(ctx context.Context, sessionID uuid.UUID, fee *pricing.Money) (Snapshot, error) {
	if err := s.ready(); err != nil {
		return Snapshot{}, err
	}
	if fee != nil && *fee < 0 {
		return Snapshot{}, fmt.Errorf("administrative fee must not be negative: %w", ErrInvalidInput)
	}
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if fee == nil {
		sess.AdminFeeOverride = nil
	} else {
		v := *fee
		sess.AdminFeeOverride = &v
	}
	sess.UpdatedAt = s.now()
	return s.snapshotLocked(ctx, sess)
}

// SetCommission edits the commission override state. A manual percentage
// and an external multi-rule amount are mutually exclusive; clearing both
// returns the session to rule-based resolution.
func (s *Service) SetCommission(ctx context.Context, sessionID uuid.UUID, in SetCommissionInput) (Snapshot, error) {
	if err := s.ready(); err != nil {
		return Snapshot{}, err
	}
	if in.ManualPercentBps != nil && in.ExternalAmount != nil {
		return Snapshot{}, fmt.Errorf("manual percentage and external amount are mutually exclusive: %w", ErrInvalidInput)
	}
	if in.ManualPercentBps != nil && (*in.ManualPercentBps <= 0 || *in.ManualPercentBps > 10000) {
		return Snapshot{}, fmt.Errorf("manual percentage out of range: %w", ErrInvalidInput)
	}
	if in.ExternalAmount != nil && *in.ExternalAmount < 0 {
		return Snapshot{}, fmt.Errorf("external amount must not be negative: %w", ErrInvalidInput)
	}
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.Commission = commission.State{}
	if in.ManualPercentBps != nil {
		v := *in.ManualPercentBps
		sess.Commission.ManualPercentBps = &v
	}
	if in.ExternalAmount != nil {
		v := *in.ExternalAmount
		sess.Commission.ExternalAmount = &v
	}
	sess.UpdatedAt = s.now()
	return s.snapshotLocked(ctx, sess)
}

// ApplyVoucher validates the code with the external service and, on
// success, replaces the grand total with the returned figure. Activation is
// refused while any manual discount is present; the exclusion is checked
// both before the validation call and again at commit time, so a discount
// edit that lands while validation is in flight still refuses the voucher.
// A failed validation leaves the prior voucher state untouched.
func (s *Service) ApplyVoucher(ctx context.Context, sessionID uuid.UUID, code string) (Snapshot, error) {
	if err := s.ready(); err != nil {
		return Snapshot{}, err
	}
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}

	sess.mu.Lock()
	if pricing.HasManualDiscount(sess.Procedures) {
		sess.mu.Unlock()
		observeVoucherOutcome(voucher.ErrManualDiscountConflict)
		return Snapshot{}, voucher.ErrManualDiscountConflict
	}
	base := pricing.Recompute(pricing.Inputs{
		Procedures:       sess.Procedures,
		Medications:      sess.Medications,
		AdminFeeOverride: sess.AdminFeeOverride,
		ClinicDefaultFee: s.DefaultAdminFee,
	})
	req := voucher.Request{
		Code:                code,
		TotalAmount:         base.GrandTotal,
		ProcedureOnlyAmount: base.NetProcedureAmount,
		AdministrativeFee:   base.AdministrativeFee,
		SubjectID:           sess.ID.String(),
	}
	token := sess.Voucher.Begin()
	sess.mu.Unlock()

	var result voucher.Result
	var validationErr error
	if s.Vouchers == nil {
		validationErr = fmt.Errorf("validator not configured: %w", voucher.ErrServiceUnavailable)
	} else {
		result, validationErr = s.Vouchers.Validate(ctx, req)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	applied, err := sess.Voucher.Commit(token, req.Code, result, validationErr, pricing.HasManualDiscount(sess.Procedures))
	observeVoucherOutcome(err)
	if err != nil {
		return Snapshot{}, err
	}
	sess.UpdatedAt = s.now()
	s.emit(ctx, events.TopicVoucherApplied, sess.ID, applied)
	return s.snapshotLocked(ctx, sess)
}

// RemoveVoucher returns the session to the no-voucher state, restoring the
// additive grand-total formula.
func (s *Service) RemoveVoucher(ctx context.Context, sessionID uuid.UUID) (Snapshot, error) {
	if err := s.ready(); err != nil {
		return Snapshot{}, err
	}
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	sess.Voucher.Remove()
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.UpdatedAt = s.now()
	s.emit(ctx, events.TopicVoucherRemoved, sess.ID, nil)
	return s.snapshotLocked(ctx, sess)
}

// Finalize freezes the session into a persisted order, emits the order
// event and removes the live session.
func (s *Service) Finalize(ctx context.Context, sessionID uuid.UUID) (FinalizedOrder, error) {
	if err := s.ready(); err != nil {
		return FinalizedOrder{}, err
	}
	if s.Orders == nil {
		return FinalizedOrder{}, errors.New("billing order store not configured")
	}
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return FinalizedOrder{}, err
	}
	sess.mu.Lock()
	if len(sess.Procedures) == 0 && len(sess.Medications) == 0 {
		sess.mu.Unlock()
		return FinalizedOrder{}, ErrEmptyOrder
	}
	snap, err := s.snapshotLocked(ctx, sess)
	sess.mu.Unlock()
	if err != nil {
		return FinalizedOrder{}, err
	}

	order := FinalizedOrder{
		ID:               uuid.New(),
		SessionID:        snap.ID,
		PractitionerID:   snap.PractitionerID,
		PractitionerName: snap.PractitionerName,
		Procedures:       snap.Procedures,
		Medications:      snap.Medications,
		Totals:           snap.Totals,
		Commission:       snap.Commission,
		Voucher:          snap.Voucher,
		FinalizedAt:      s.now(),
	}
	if err := s.Orders.SaveOrder(ctx, order); err != nil {
		return FinalizedOrder{}, fmt.Errorf("persist order: %w", err)
	}
	if obs.OrdersFinalizedTotal != nil {
		obs.OrdersFinalizedTotal.Inc()
		obs.OrderGrandTotal.Observe(float64(order.Totals.GrandTotal))
	}
	if obs.CommissionResolutionTotal != nil && order.Commission.MatchType != "" {
		obs.CommissionResolutionTotal.WithLabelValues(order.Commission.MatchType).Inc()
	}
	s.emit(ctx, events.TopicOrderFinalized, order.ID, order)
	s.Sessions.Delete(sess.ID)
	return order, nil
}

// Order returns a previously finalized order.
func (s *Service) Order(ctx context.Context, id uuid.UUID) (FinalizedOrder, error) {
	if err := s.ready(); err != nil {
		return FinalizedOrder{}, err
	}
	if s.Orders == nil {
		return FinalizedOrder{}, errors.New("billing order store not configured")
	}
	return s.Orders.GetOrder(ctx, id)
}

func observeVoucherOutcome(err error) {
	if obs.VoucherValidationTotal == nil {
		return
	}
	switch {
	case err == nil:
		obs.VoucherValidationTotal.WithLabelValues("applied").Inc()
	case errors.Is(err, voucher.ErrRejected):
		obs.VoucherValidationTotal.WithLabelValues("rejected").Inc()
	case errors.Is(err, voucher.ErrServiceUnavailable):
		obs.VoucherValidationTotal.WithLabelValues("unavailable").Inc()
	case errors.Is(err, voucher.ErrManualDiscountConflict):
		obs.VoucherValidationTotal.WithLabelValues("conflict").Inc()
	default:
		obs.VoucherValidationTotal.WithLabelValues("error").Inc()
	}
}

// emit publishes best-effort: a failed event write is logged and never
// fails the billing operation that triggered it.
func (s *Service) emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) {
	if s.Bus == nil {
		return
	}
	if _, err := s.Bus.Emit(ctx, topic, aggregateID, payload); err != nil {
		s.Log.Warn().Err(err).Str("topic", topic).Msg("emit event")
	}
}

// snapshotLocked derives the full read model. Callers must hold sess.mu.
func (s *Service) snapshotLocked(ctx context.Context, sess *Session) (Snapshot, error) {
	var applied *pricing.VoucherOverride
	voucherState := sess.Voucher.Applied()
	if voucherState != nil {
		applied = &pricing.VoucherOverride{
			Discount:    voucherState.DiscountAmount,
			FinalAmount: voucherState.FinalAmount,
		}
	}
	totals := pricing.Recompute(pricing.Inputs{
		Procedures:       sess.Procedures,
		Medications:      sess.Medications,
		AdminFeeOverride: sess.AdminFeeOverride,
		ClinicDefaultFee: s.DefaultAdminFee,
		Voucher:          applied,
	})

	match, err := s.resolveMatch(ctx, sess)
	if err != nil {
		return Snapshot{}, err
	}
	resolved := commission.Calculate(totals.NetProcedureAmount, match, sess.Commission)

	snap := Snapshot{
		ID:               sess.ID,
		PractitionerID:   sess.PractitionerID,
		PractitionerName: sess.PractitionerName,
		Procedures:       make([]ProcedureLineView, 0, len(sess.Procedures)),
		Medications:      make([]MedicationLineView, 0, len(sess.Medications)),
		Totals:           totals,
		Commission:       resolved,
		Voucher:          voucherState,
		CreatedAt:        sess.CreatedAt,
		UpdatedAt:        sess.UpdatedAt,
	}
	for _, line := range sess.Procedures {
		snap.Procedures = append(snap.Procedures, ProcedureLineView{
			ProcedureLine:  line,
			GrossAmount:    line.Gross(),
			DiscountAmount: line.DiscountAmount(),
			FinalPrice:     line.FinalPrice(),
		})
	}
	for _, line := range sess.Medications {
		snap.Medications = append(snap.Medications, MedicationLineView{
			MedicationLine: line,
			TotalPrice:     line.TotalPrice(),
		})
	}
	return snap, nil
}

// resolveMatch runs the rule matcher for the current selection. The matcher
// is skipped entirely while an override is in force or before a
// practitioner is chosen.
func (s *Service) resolveMatch(ctx context.Context, sess *Session) (*commission.Match, error) {
	if sess.Commission.MultiRule() || sess.Commission.ManualPercentBps != nil {
		return nil, nil
	}
	if sess.PractitionerID == nil || s.Rules == nil {
		return nil, nil
	}
	rules, err := s.Rules.ActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load commission rules: %w", err)
	}
	sel := commission.Selection{
		PractitionerID:   *sess.PractitionerID,
		PractitionerName: sess.PractitionerName,
	}
	for _, line := range sess.Procedures {
		sel.Procedures = append(sel.Procedures, commission.SelectedProcedure{
			Name:     line.Name,
			Category: line.Category,
		})
	}
	return commission.Resolve(rules, sel), nil
}
