package handler

// RESPONSE HELPERS:
// Every API response has the same envelope:
//
//	{"success": true,  "message": "Email verified successfully", ...data}
//	{"success": false, "message": "Invalid password", "error": "invalid_credentials"}
//
// "error" is machine-readable and stable; "message" is meant for people.
// "field" names the offending input on validation failures.

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sakif/snippet-keeper/internal/apperror"
)

// maxJSONBody caps JSON request bodies. Snippet code is limited to 100k
// characters, which fits with room to spare.
const maxJSONBody = 1 << 20

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
	Field   string `json:"field,omitempty"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set before the body is written; once Encode
// starts writing, later header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeSuccess sends {"success": true, "message": message} merged with data.
func writeSuccess(w http.ResponseWriter, status int, message string, data map[string]any) {
	body := make(map[string]any, len(data)+2)
	for k, v := range data {
		body[k] = v
	}
	body["success"] = true
	body["message"] = message
	writeJSON(w, status, body)
}

// writeUnauthorized answers 401 in the same shape as auth.RequireAuth.
func writeUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, ErrorResponse{
		Error:   "unauthorized",
		Message: "valid authentication required",
	})
}

// errorKinds maps each sentinel to its status and wire name. Order matters:
// the first match wins, and the lifecycle kinds come before the generic ones.
var errorKinds = []struct {
	kind   error
	status int
	name   string
}{
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrDuplicateEmail, http.StatusConflict, "duplicate_email"},
	{apperror.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{apperror.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{apperror.ErrNotVerified, http.StatusForbidden, "not_verified"},
	{apperror.ErrInvalidToken, http.StatusBadRequest, "invalid_token"},
	{apperror.ErrTokenExpired, http.StatusGone, "token_expired"},
	{apperror.ErrInvalidEmail, http.StatusBadRequest, "invalid_email"},
	{apperror.ErrMailDeliveryFailed, http.StatusBadGateway, "mail_delivery_failed"},
	{apperror.ErrMediaDeletionFailed, http.StatusBadGateway, "media_deletion_failed"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrForbidden, http.StatusForbidden, "forbidden"},
	{apperror.ErrConflict, http.StatusConflict, "conflict"},
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// errors.Is() UNWRAPPING:
//
//	service returns: fmt.Errorf("creating snippet: %w", apperror.ValidationFailed(...))
//	which wraps:     AppError{Err: ErrValidation, Message: "..."}
//	errors.Is walks: outer error → AppError → ErrValidation ✓ match!
//
// Anything that is not an *AppError becomes a generic 500. Internal error
// text can contain SQL or file paths and never reaches the client.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		for _, k := range errorKinds {
			if errors.Is(err, k.kind) {
				if k.status >= 500 {
					slog.Error("upstream failure", slog.String("error", err.Error()))
				}
				writeJSON(w, k.status, ErrorResponse{
					Error:   k.name,
					Message: appErr.Message,
					Field:   appErr.Field,
				})
				return
			}
		}
	}

	slog.Error("unhandled error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// decodeJSON reads a JSON body into v. A malformed body is reported as a
// validation error so writeError can answer 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperror.ValidationFailed("body", fmt.Sprintf("request body must be %d bytes or less", maxErr.Limit))
		}
		return apperror.ValidationFailed("body", "Invalid JSON body")
	}
	return nil
}
