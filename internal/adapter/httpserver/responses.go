// Package httpserver contains HTTP handlers and middleware for the
// submission API: submit/upload/batch/query/cancel/download endpoints, the
// internal worker-callback endpoint, and the platform-preset listing.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// classifyError maps a domain error sentinel to its HTTP status and stable
// error code (spec.md §7 "error taxonomy").
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "VALIDATION"
	case errors.Is(err, domain.ErrAuthentication):
		return http.StatusUnauthorized, "AUTHENTICATION"
	case errors.Is(err, domain.ErrQuota):
		return http.StatusPaymentRequired, "INSUFFICIENT_CREDITS"
	case errors.Is(err, domain.ErrSSRFBlocked):
		return http.StatusBadRequest, "BLOCKED_URL"
	case errors.Is(err, domain.ErrContent):
		return http.StatusUnprocessableEntity, "INVALID_CONTENT"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrNotCancellable):
		return http.StatusConflict, "NOT_CANCELLABLE"
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, domain.ErrInfraTransient):
		return http.StatusServiceUnavailable, "TRANSIENT_ERROR"
	case errors.Is(err, domain.ErrInfraPermanent):
		return http.StatusBadGateway, "INFRA_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// writeError maps a domain error sentinel to its HTTP status and error code.
// When details is nil and err carries structured data (e.g. an insufficient-
// credits required/available pair), that data is surfaced instead.
func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code, codeStr := classifyError(err)
	if details == nil {
		details = errorDetails(err)
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}

// errorDetails extracts a structured details payload from err when one
// applies; returns nil otherwise.
func errorDetails(err error) interface{} {
	var insufficient *domain.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		return map[string]int64{
			"credits_required":  insufficient.Required,
			"credits_available": insufficient.Available,
		}
	}
	return nil
}
