package api

import "net/http"

// Error codes surfaced in ErrorResponse.Code for programmatic handling by
// callers (distinct from the free-text Error message).
const (
	ErrForbidden    = "forbidden"
	ErrRateLimited  = "rate_limited"
	ErrInvalidBody  = "invalid_body"
	ErrNotFound     = "not_found"
	ErrConflict     = "conflict"
)

// WriteErrorWithCode writes a JSON error response carrying a stable code
// alongside the human-readable message.
func WriteErrorWithCode(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Code: code})
}
