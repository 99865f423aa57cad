package pricing

import (
	"errors"

	"github.com/google/uuid"
)

// Money represents a monetary value stored in minor units.
type Money = int64

// DiscountKind selects how a procedure line discount value is interpreted.
type DiscountKind string

const (
	// DiscountPercentage interprets the discount value as basis points of the line total.
	DiscountPercentage DiscountKind = "percentage"
	// DiscountFixedAmount interprets the discount value as a fixed amount in minor units.
	DiscountFixedAmount DiscountKind = "fixedAmount"
)

var (
	// ErrQuantityNotPositive is returned when a line quantity is zero or negative.
	ErrQuantityNotPositive = errors.New("pricing: quantity must be at least 1")
	// ErrDiscountPercentOutOfRange is returned when a percentage discount falls outside [0, 100].
	ErrDiscountPercentOutOfRange = errors.New("pricing: discount percentage must be between 0 and 100")
	// ErrDiscountNegative is returned when a fixed discount value is negative.
	ErrDiscountNegative = errors.New("pricing: discount value must not be negative")
	// ErrInsufficientStock is returned when a medication quantity exceeds the reported stock.
	ErrInsufficientStock = errors.New("pricing: medication quantity exceeds available stock")
)

// ProcedureLine is one selected billable procedure with an optional per-item
// discount. The discount value and kind are stored as entered so a later
// quantity change re-derives the amounts from the original discount spec.
type ProcedureLine struct {
	ID            uuid.UUID    `json:"id"`
	ProcedureID   uuid.UUID    `json:"procedureId"`
	Name          string       `json:"name"`
	Category      string       `json:"category"`
	UnitPrice     Money        `json:"unitPrice"`
	Qty           int          `json:"qty"`
	DiscountKind  DiscountKind `json:"discountKind"`
	DiscountValue int64        `json:"discountValue"`
}

// Validate checks the line against the input validation rules. A fixed
// discount exceeding the line total is clamped during derivation, not
// rejected here.
func (l ProcedureLine) Validate() error {
	if l.Qty < 1 {
		return ErrQuantityNotPositive
	}
	switch l.DiscountKind {
	case DiscountPercentage:
		if l.DiscountValue < 0 || l.DiscountValue > 10000 {
			return ErrDiscountPercentOutOfRange
		}
	case DiscountFixedAmount, "":
		if l.DiscountValue < 0 {
			return ErrDiscountNegative
		}
	}
	return nil
}

// DiscountAmount derives the discount in minor units from the stored
// discount spec. The result never exceeds unitPrice*qty and is never
// negative.
func (l ProcedureLine) DiscountAmount() Money {
	gross := l.Gross()
	var discount Money
	switch l.DiscountKind {
	case DiscountPercentage:
		discount = gross * l.DiscountValue / 10000
	case DiscountFixedAmount:
		discount = l.DiscountValue
	}
	if discount > gross {
		discount = gross
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

// Gross returns unitPrice*qty before any discount.
func (l ProcedureLine) Gross() Money {
	return l.UnitPrice * Money(l.Qty)
}

// FinalPrice returns the discounted line total.
func (l ProcedureLine) FinalPrice() Money {
	return l.Gross() - l.DiscountAmount()
}

// HasManualDiscount reports whether the line carries a non-zero discount.
func (l ProcedureLine) HasManualDiscount() bool {
	return l.DiscountAmount() > 0
}

// MedicationLine is one dispensed medication. Medication lines carry no
// discount field.
type MedicationLine struct {
	ID           uuid.UUID `json:"id"`
	MedicationID uuid.UUID `json:"medicationId"`
	Name         string    `json:"name"`
	UnitPrice    Money     `json:"unitPrice"`
	Qty          int       `json:"qty"`
}

// Validate checks the quantity against the externally reported stock.
// A stock violation is a blocking error, never a silent clamp.
func (l MedicationLine) Validate(availableStock int) error {
	if l.Qty < 1 {
		return ErrQuantityNotPositive
	}
	if l.Qty > availableStock {
		return ErrInsufficientStock
	}
	return nil
}

// TotalPrice returns unitPrice*qty.
func (l MedicationLine) TotalPrice() Money {
	return l.UnitPrice * Money(l.Qty)
}

// VoucherOverride carries the already-combined final figure returned by the
// voucher service. When present the grand total is replaced wholesale, not
// adjusted additively.
type VoucherOverride struct {
	Discount    Money
	FinalAmount Money
}

// Inputs is the full set of session inputs the totals snapshot is derived
// from.
type Inputs struct {
	Procedures       []ProcedureLine
	Medications      []MedicationLine
	AdminFeeOverride *Money
	ClinicDefaultFee Money
	Voucher          *VoucherOverride
}

// Totals is a derived snapshot. It is recomputed from Inputs on every
// relevant change and never mutated incrementally.
type Totals struct {
	Subtotal           Money `json:"subtotal"`
	TotalDiscount      Money `json:"totalDiscount"`
	NetProcedureAmount Money `json:"netProcedureAmount"`
	MedicationCost     Money `json:"medicationCost"`
	AdministrativeFee  Money `json:"administrativeFee"`
	VoucherDiscount    Money `json:"voucherDiscount"`
	GrandTotal         Money `json:"grandTotal"`
}

// Recompute derives the totals snapshot from the provided inputs. It is a
// pure function: calling it any number of times with the same inputs yields
// the same snapshot.
func Recompute(in Inputs) Totals {
	var t Totals
	for _, p := range in.Procedures {
		t.Subtotal += p.Gross()
		t.TotalDiscount += p.DiscountAmount()
	}
	t.NetProcedureAmount = t.Subtotal - t.TotalDiscount
	for _, m := range in.Medications {
		t.MedicationCost += m.TotalPrice()
	}
	t.AdministrativeFee = in.ClinicDefaultFee
	if in.AdminFeeOverride != nil {
		t.AdministrativeFee = *in.AdminFeeOverride
	}
	if in.Voucher != nil {
		t.VoucherDiscount = in.Voucher.Discount
		t.GrandTotal = in.Voucher.FinalAmount
		return t
	}
	t.GrandTotal = t.NetProcedureAmount + t.MedicationCost + t.AdministrativeFee
	return t
}

// HasManualDiscount reports whether any procedure line carries a non-zero
// manual discount. Voucher application is refused while this holds.
func HasManualDiscount(procedures []ProcedureLine) bool {
	for _, p := range procedures {
		if p.HasManualDiscount() {
			return true
		}
	}
	return false
}
