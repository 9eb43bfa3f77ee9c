package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/yunmao-bridge/internal/bridges/yunmao"
	"github.com/nerrad567/yunmao-bridge/internal/device"
)

// Error is the body of every non-2xx JSON response. Code is stable and
// meant for clients; Message is for humans and may carry the gateway's
// dial error verbatim.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
	ErrCodeGateway     = "gateway_unreachable"
	ErrCodeUnavailable = "unavailable"
)

// writeJSON encodes v with the given status. Encoding errors are dropped;
// the client may already be gone.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have disconnected
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeCommandError maps a Registry.Execute failure to a response:
// unknown device 404, rejected command 400, gateway not reached 502.
// On 502 the entity has reverted unless one key of a paired light got
// through.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, device.ErrInvalidCommand):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, yunmao.ErrCommand):
		writeError(w, http.StatusBadGateway, ErrCodeGateway, err.Error())
	default:
		writeInternalError(w, "command failed")
	}
}
