package handlers

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/narvanalabs/keyrelay/internal/api/errors"
	"github.com/narvanalabs/keyrelay/internal/auth"
	"github.com/narvanalabs/keyrelay/internal/store"
)

// KeysHandler handles admin-gated credential management endpoints.
type KeysHandler struct {
	credentials *auth.CredentialService
	logger      *slog.Logger
}

// NewKeysHandler creates a new keys handler.
func NewKeysHandler(credentials *auth.CredentialService, logger *slog.Logger) *KeysHandler {
	return &KeysHandler{
		credentials: credentials,
		logger:      logger,
	}
}

// RegisterRequest is the body of POST /v1/auth/keys.
type RegisterRequest struct {
	Name        string `json:"name"`
	Key         string `json:"key"`
	Description string `json:"description"`
}

// TokenContent is returned by register and login.
type TokenContent struct {
	Token string `json:"token"`
}

// KeysContent is returned by list.
type KeysContent struct {
	Keys []store.KeySummary `json:"keys"`
}

// Register creates a credential and returns a token for it.
func (h *KeysHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	token, err := h.credentials.Register(r.Context(), req.Name, req.Key, req.Description)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteContent(w, r, TokenContent{Token: token})
}

// Revoke disables the credential named in the path. chi matches on the raw
// path, so a percent-encoded name arrives still encoded.
func (h *KeysHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		WriteError(w, r, apierrors.AddFieldError("name", "name is not a valid path segment"))
		return
	}

	if err := h.credentials.Revoke(r.Context(), name); err != nil {
		WriteError(w, r, err)
		return
	}

	WriteOK(w, r, "key revoked")
}

// List returns every credential's name and enabled state.
func (h *KeysHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.credentials.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list keys", "error", err)
		WriteError(w, r, err)
		return
	}

	WriteContent(w, r, KeysContent{Keys: keys})
}
