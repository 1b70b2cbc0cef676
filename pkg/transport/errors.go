package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rhuss/codegate/pkg/api"
)

var statusByType = map[api.ErrorType]int{
	api.ErrorTypeInvalidRequest:    http.StatusBadRequest,
	api.ErrorTypeRejectedProposal:  http.StatusBadRequest,
	api.ErrorTypeForbidden:         http.StatusForbidden,
	api.ErrorTypeNotFound:          http.StatusNotFound,
	api.ErrorTypeInvalidTransition: http.StatusConflict,
	api.ErrorTypeHarnessFault:      http.StatusBadGateway,
}

// HTTPStatusFromError returns the status code for an error type. Unknown
// types and server_error map to 500.
func HTTPStatusFromError(err *api.APIError) int {
	if status, ok := statusByType[err.Type]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse sends {"error": apiErr} with an explicit status. Use it
// for transport-level failures whose status is not implied by the type, such
// as 413 or 415.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, status int) {
	WriteJSON(w, status, api.ErrorResponse{Error: apiErr})
}

// WriteAPIError reports err to the client. Anything that is not an
// *api.APIError becomes a bare server_error; the real error only goes to
// the log.
func WriteAPIError(w http.ResponseWriter, err error) {
	var apiErr *api.APIError
	switch {
	case !errors.As(err, &apiErr):
		slog.Error("request failed", "error", err)
		apiErr = api.NewServerError("internal server error")
	case apiErr.Type == api.ErrorTypeHarnessFault:
		slog.Warn("harness fault", "error", errors.Unwrap(apiErr))
	}
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}

// WriteJSON sends v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response body not written", "status", status, "error", err)
	}
}
