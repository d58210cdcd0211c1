// Package httpserver exposes the session, result and instrument operations
// over JSON/HTTP. Identity arrives from the upstream authentication layer in
// the X-User-Id header; handlers stay thin and map domain errors to statuses.
package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorStatus maps the domain taxonomy onto HTTP.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "UNAUTHENTICATED"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrIncompleteAnswers):
		return http.StatusUnprocessableEntity, "INCOMPLETE_ANSWERS"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, domain.ErrSchemaConfiguration):
		return http.StatusInternalServerError, "SCHEMA_CONFIGURATION"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func writeError(w http.ResponseWriter, r *http.Request, err error, details any) {
	status, code := errorStatus(err)
	var ce *domain.ConflictError
	var ie *domain.IncompleteAnswersError
	switch {
	case errors.As(err, &ce):
		details = map[string]string{"resource": ce.Resource, "existing_id": ce.ExistingID}
	case errors.As(err, &ie):
		details = map[string]any{"missing": ie.Missing}
	}
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		LoggerFrom(r).Error("request failed", slog.String("code", code), slog.Any("error", err))
		if code == "INTERNAL" {
			msg = domain.ErrInternal.Error()
		}
	}
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: msg, Details: details}})
}
