package rest

import (
	"encoding/json"
	"net/http"
)

// Error codes for common scenarios
const (
	ErrCodeInvalidArgument   = "INVALID_ARGUMENT"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "PERMISSION_DENIED"
	ErrCodeUnavailable       = "UNAVAILABLE"
	ErrCodeInternal          = "INTERNAL"
	ErrCodeResourceExhausted = "RESOURCE_EXHAUSTED"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes the /debug/* error shape: {error, status}.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":  message,
		"status": status,
	})
}

// respondErrorWithCode adds the taxonomy code for structured clients.
func respondErrorWithCode(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":  message,
		"code":   code,
		"status": status,
	})
}
