package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/akumar23/tts-webapp/audio"
	"github.com/akumar23/tts-webapp/logger"
	"github.com/akumar23/tts-webapp/tts"
)

// errorResponse is the JSON error envelope for every failed request.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Error type identifiers, loosely following the OpenAI error shape so compat
// clients can parse gateway errors too.
const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeAuthentication = "authentication_error"
	errTypeUpstream       = "upstream_error"
	errTypeUnavailable    = "service_unavailable"
	errTypeInternal       = "internal_error"
)

// writeError maps a synthesis-layer error onto the HTTP surface. Client
// mistakes become 400s, credential problems 401, upstream faults 502, and
// catalog or capacity problems 503.
func writeError(w http.ResponseWriter, err error) {
	status, errType := classifyError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: errorBody{
		Message: err.Error(),
		Type:    errType,
	}})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, tts.ErrEmptyText),
		errors.Is(err, tts.ErrTextTooLong),
		errors.Is(err, tts.ErrInvalidSpeed),
		errors.Is(err, tts.ErrInvalidVoice),
		errors.Is(err, tts.ErrUnknownProvider),
		errors.Is(err, audio.ErrUnsupportedFormat):
		return http.StatusBadRequest, errTypeInvalidRequest
	case errors.Is(err, tts.ErrAuthentication):
		return http.StatusUnauthorized, errTypeAuthentication
	case errors.Is(err, tts.ErrUpstreamUnavailable):
		return http.StatusBadGateway, errTypeUpstream
	case errors.Is(err, tts.ErrCatalogUnavailable),
		errors.Is(err, tts.ErrNoProviderAvailable):
		return http.StatusServiceUnavailable, errTypeUnavailable
	default:
		return http.StatusInternalServerError, errTypeInternal
	}
}

// writeErrorMessage writes a client error with an explicit status.
func writeErrorMessage(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{
		Message: message,
		Type:    errType,
	}})
}

// notFound writes the books surface's 404 shape.
func notFound(w http.ResponseWriter, message string) {
	writeErrorMessage(w, http.StatusNotFound, errTypeInvalidRequest, message)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("writing response failed", "error", err)
	}
}
