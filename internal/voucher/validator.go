package voucher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/noah-isme/backend-klinik/internal/resilience"
)

// ErrServiceUnavailable is returned when the validation service cannot be
// reached. The caller keeps its prior voucher state untouched.
var ErrServiceUnavailable = errors.New("voucher: validation service unavailable")

// Request is the payload sent to the external voucher validation service.
// The service independently knows the procedure-only amount and the
// administrative fee and returns the already-combined final figure.
type Request struct {
	Code                string `json:"code"`
	TotalAmount         int64  `json:"totalAmount"`
	ProcedureOnlyAmount int64  `json:"procedureOnlyAmount"`
	AdministrativeFee   int64  `json:"administrativeFee"`
	SubjectID           string `json:"subjectId"`
}

// Result is the validation outcome returned by the service.
type Result struct {
	Valid          bool   `json:"valid"`
	DiscountAmount int64  `json:"discountAmount"`
	FinalAmount    int64  `json:"finalAmount"`
	Message        string `json:"message,omitempty"`
}

// Validator models the external voucher validation service.
type Validator interface {
	Validate(ctx context.Context, req Request) (Result, error)
}

// HTTPValidator calls the validation service over HTTP through the
// resilience client. Non-2xx responses and transport failures surface as
// ErrServiceUnavailable.
type HTTPValidator struct {
	BaseURL string
	Client  resilience.HTTPClient
}

// Validate posts the request to the service's validate endpoint.
func (v HTTPValidator) Validate(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(v.BaseURL) == "" {
		return Result{}, fmt.Errorf("base url not configured: %w", ErrServiceUnavailable)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, err
	}
	url := strings.TrimRight(v.BaseURL, "/") + "/v1/vouchers/validate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.Client.Do(ctx, httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("%v: %w", err, ErrServiceUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("unexpected status %s: %w", resp.Status, ErrServiceUnavailable)
	}
	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", ErrServiceUnavailable)
	}
	return result, nil
}

// MockValidator approves any code with a flat 10% discount off the procedure
// amount. Useful for testing and development.
type MockValidator struct{}

// Validate returns a canned approval regardless of the code.
func (MockValidator) Validate(_ context.Context, req Request) (Result, error) {
	discount := req.ProcedureOnlyAmount / 10
	return Result{
		Valid:          true,
		DiscountAmount: discount,
		FinalAmount:    req.TotalAmount - discount,
	}, nil
}
