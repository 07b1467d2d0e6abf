package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitchin999/unifi-connect-display/internal/controller"
	"github.com/hitchin999/unifi-connect-display/internal/dispatch"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes. Command failures use the dispatch codes instead
// (UNKNOWN_DEVICE, DEVICE_NOT_READY, ...) so API and MQTT callers see the
// same vocabulary.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeInternal     = "internal_error"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeBadGateway   = "bad_gateway"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// commandStatus maps a dispatch error code to its HTTP status.
func commandStatus(code string) int {
	switch code {
	case dispatch.CodeUnknownDevice:
		return http.StatusNotFound
	case dispatch.CodeUnsupportedAction, dispatch.CodeInvalidParameters:
		return http.StatusUnprocessableEntity
	case dispatch.CodeDeviceNotReady:
		return http.StatusConflict
	case dispatch.CodeCommandRejected, dispatch.CodeAuthentication:
		return http.StatusBadGateway
	case dispatch.CodeUnreachable:
		return http.StatusServiceUnavailable
	case dispatch.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeCommandError writes the response for a failed dispatch.
func writeCommandError(w http.ResponseWriter, err error) {
	code := dispatch.ErrorCode(err)
	writeError(w, commandStatus(code), code, err.Error())
}

// writeControllerError writes the response for a failed controller read.
func writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, controller.ErrUnreachable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "controller unreachable")
	default:
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
	}
}
