package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"warden.dev/internal/auth"
	"warden.dev/internal/obs"
)

// Caller-facing messages. InvalidCredential and Unauthorized share one so a
// response never reveals whether an account exists.
const (
	msgUnauthorized = "Unauthorized"
	msgForbidden    = "Forbidden resource"
	msgValidation   = "Validation failed"
	msgInternal     = "Internal server error"
	msgNotFound     = "Resource not found"
	msgRateLimited  = "Too many requests"
)

type successResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data,omitempty"`
	Meta       any    `json:"meta,omitempty"`
}

type errorResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	Errors     any    `json:"errors,omitempty"`
}

type listMeta struct {
	Count int `json:"count"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, code int, message string, data any, meta any) {
	writeJSON(w, code, successResponse{
		Success:    true,
		Message:    message,
		StatusCode: code,
		Data:       data,
		Meta:       meta,
	})
}

func writeError(w http.ResponseWriter, code int, message string, details any) {
	writeJSON(w, code, errorResponse{
		Success:    false,
		Message:    message,
		StatusCode: code,
		Errors:     details,
	})
}

// writeServiceError maps the auth error taxonomy onto HTTP.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredential), errors.Is(err, auth.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", `Bearer realm="warden"`)
		writeError(w, http.StatusUnauthorized, msgUnauthorized, nil)
	case errors.Is(err, auth.ErrForbidden):
		w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
		writeError(w, http.StatusForbidden, msgForbidden, nil)
	case errors.Is(err, auth.ErrConflict):
		writeError(w, http.StatusConflict, messageOr(err, "Resource already exists"), nil)
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, http.StatusNotFound, messageOr(err, msgNotFound), nil)
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, msgValidation, []fieldError{{Message: messageOr(err, "invalid input")}})
	default:
		obs.From(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal, nil)
	}
}

func messageOr(err error, fallback string) string {
	if msg, ok := auth.Message(err); ok {
		return msg
	}
	return fallback
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
