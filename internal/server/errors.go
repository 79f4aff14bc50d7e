package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"docreview/internal/extract"
	"docreview/internal/persona"
	"docreview/internal/workflow"
)

type apiError struct {
	Status  int
	Message string
	Code    string
}

type apiHandler func(http.ResponseWriter, *http.Request) *apiError

type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonErrorMiddleware(next apiHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := next(w, r); err != nil {
			code := err.Code
			if code == "" {
				code = errorCodeForStatus(err.Status)
			}
			writeJSON(w, err.Status, errorResponse{Message: err.Message, Code: code})
		}
	}
}

// toAPIError maps domain errors onto HTTP statuses.
func toAPIError(err error) *apiError {
	return &apiError{Status: statusForError(err), Message: err.Error()}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, workflow.ErrInvalidSelection),
		errors.Is(err, persona.ErrInvalid),
		errors.Is(err, extract.ErrUnsupportedFormat),
		errors.Is(err, extract.ErrEmptyDocument),
		errors.Is(err, extract.ErrUnreadable):
		return http.StatusBadRequest
	case errors.Is(err, persona.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, persona.ErrDuplicateName),
		errors.Is(err, persona.ErrLastPersona):
		return http.StatusConflict
	case errors.Is(err, extract.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, workflow.ErrInvalidPersonaSet):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, workflow.ErrGeneration):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	case http.StatusBadGateway:
		return "generation_failed"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	case http.StatusGatewayTimeout:
		return "timeout"
	default:
		if status >= http.StatusInternalServerError {
			return "internal_error"
		}
	}
	return ""
}
