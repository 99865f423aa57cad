package common

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the envelope every non-2xx response carries. Codes are stable
// strings the admin panel and cashier client match on, e.g. VALIDATION,
// VOUCHER_REJECTED, SESSION_NOT_FOUND.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes v as-is. Handlers wrap their payloads themselves, so success
// responses end up as {"data": ...} and this helper stays envelope-agnostic.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError writes the {"error": {...}} envelope.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, map[string]ErrorBody{"error": {Code: code, Message: message, Details: details}})
}
