package voucher

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrManualDiscountConflict is returned when voucher activation is
	// attempted while a procedure line carries a manual discount.
	ErrManualDiscountConflict = errors.New("voucher: cannot apply while manual discounts are present")
	// ErrRejected is returned when the service answered but declined the code.
	ErrRejected = errors.New("voucher: code rejected")
	// ErrSuperseded is returned when a newer validation request replaced this
	// one while it was in flight. The newer request's outcome wins.
	ErrSuperseded = errors.New("voucher: validation superseded by a newer request")
)

// Applied is the voucher-applied state: the validated code together with the
// figures the service returned. FinalAmount replaces the order's grand total
// wholesale; DiscountAmount is recorded for display only and never touches
// the commission base.
type Applied struct {
	Code           string `json:"code"`
	DiscountAmount int64  `json:"discountAmount"`
	FinalAmount    int64  `json:"finalAmount"`
}

// Adjuster is the two-state voucher machine for one order-composition
// session: no-voucher (default) and voucher-applied. State only changes at
// Commit; a failed or superseded validation leaves the prior state exactly
// as it was.
//
// A validation round trips through Begin, the external call, and Commit.
// The external call runs without any lock held; the caller re-checks the
// manual-discount exclusion under its own session lock and hands the result
// to Commit, which decides atomically against the supersession counter. A
// discount that slipped in while validation was in flight therefore still
// refuses the voucher.
type Adjuster struct {
	mu      sync.Mutex
	seq     uint64
	applied *Applied
}

// Applied returns the current voucher-applied state, or nil in the
// no-voucher state.
func (a *Adjuster) Applied() *Applied {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.applied == nil {
		return nil
	}
	copied := *a.applied
	return &copied
}

// Active reports whether a voucher is currently applied.
func (a *Adjuster) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.applied != nil
}

// Begin registers a validation attempt and returns its token. A later Begin
// supersedes every earlier in-flight attempt: last request wins.
func (a *Adjuster) Begin() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	return a.seq
}

// Commit settles the validation attempt identified by token. The result and
// validationErr come from the external call; hasManualDiscount is the
// mutual-exclusion predicate re-evaluated by the caller at commit time,
// under the lock that guards the order lines. On any refusal the prior
// voucher state is left untouched.
func (a *Adjuster) Commit(token uint64, code string, result Result, validationErr error, hasManualDiscount bool) (Applied, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if token != a.seq {
		return Applied{}, ErrSuperseded
	}
	if validationErr != nil {
		return Applied{}, validationErr
	}
	if !result.Valid {
		if result.Message != "" {
			return Applied{}, fmt.Errorf("%s: %w", result.Message, ErrRejected)
		}
		return Applied{}, ErrRejected
	}
	if hasManualDiscount {
		return Applied{}, ErrManualDiscountConflict
	}
	applied := Applied{
		Code:           code,
		DiscountAmount: result.DiscountAmount,
		FinalAmount:    result.FinalAmount,
	}
	a.applied = &applied
	return applied, nil
}

// Remove transitions back to the no-voucher state, restoring the additive
// grand-total formula. Removing without an applied voucher is a no-op; any
// in-flight validation is superseded.
func (a *Adjuster) Remove() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	a.applied = nil
}
