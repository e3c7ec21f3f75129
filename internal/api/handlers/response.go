package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/narvanalabs/keyrelay/internal/api/errors"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	apierrors.WriteJSON(w, status, data)
}

// WriteOK writes a bare success envelope.
func WriteOK(w http.ResponseWriter, r *http.Request, message string) {
	WriteJSON(w, http.StatusOK, apierrors.Response{
		Message:   message,
		Status:    http.StatusOK,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// WriteContent writes a success envelope carrying content.
func WriteContent(w http.ResponseWriter, r *http.Request, content any) {
	WriteJSON(w, http.StatusOK, apierrors.Response{
		Message:   "ok",
		Status:    http.StatusOK,
		Content:   content,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// WriteError maps err onto an API error and writes it.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	apierrors.WriteErrorWithRequestID(w, apierrors.FromError(err), middleware.GetReqID(r.Context()))
}

// WriteBadRequest writes a 400 validation error.
func WriteBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	apierrors.WriteErrorWithRequestID(w, apierrors.NewValidationError(message), middleware.GetReqID(r.Context()))
}

// decodeJSON decodes a bounded JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apierrors.NewValidationError("request body too large")
		case errors.Is(err, io.EOF):
			return apierrors.NewValidationError("request body is required")
		default:
			return apierrors.NewValidationError("invalid request body")
		}
	}
	return nil
}
