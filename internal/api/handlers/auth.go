// Package handlers provides HTTP handlers for the API.
package handlers

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/narvanalabs/keyrelay/internal/api/errors"
	"github.com/narvanalabs/keyrelay/internal/auth"
	"github.com/narvanalabs/keyrelay/internal/ratelimit"
)

// LoginLimit configures login throttling. Requests bounds attempts per client
// address and name; PerName bounds attempts on a name from all addresses. A
// nil Limiter or a non-positive Requests disables both.
type LoginLimit struct {
	Limiter  ratelimit.Limiter
	Requests int
	PerName  int
	Window   time.Duration
}

// AuthHandler handles token issuance.
type AuthHandler struct {
	credentials *auth.CredentialService
	limit       LoginLimit
	now         func() time.Time
	logger      *slog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(credentials *auth.CredentialService, limit LoginLimit, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		credentials: credentials,
		limit:       limit,
		now:         time.Now,
		logger:      logger,
	}
}

// LoginRequest is the body of POST /v1/auth.
type LoginRequest struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

// Login exchanges a name and secret for a token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	var errs apierrors.ValidationErrors
	if req.Name == "" {
		errs.Add("name", "name is required")
	}
	if req.Key == "" {
		errs.Add("key", "key is required")
	}
	if errs.HasErrors() {
		WriteError(w, r, errs)
		return
	}

	if !h.allow(w, r, req.Name) {
		return
	}

	token, err := h.credentials.Login(r.Context(), req.Name, req.Key)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteContent(w, r, TokenContent{Token: token})
}

// allow applies the login limits. Limiter outages let the request through;
// a limiter that cannot track another key rejects it.
func (h *AuthHandler) allow(w http.ResponseWriter, r *http.Request, name string) bool {
	if h.limit.Limiter == nil || h.limit.Requests <= 0 {
		return true
	}

	ip := clientIP(r)
	decision, ok := h.check(r, "login:"+ip+":"+name, h.limit.Requests)
	if ok && decision.Allowed && h.limit.PerName > 0 {
		decision, ok = h.check(r, "login-name:"+name, h.limit.PerName)
	}
	if !ok {
		return true
	}

	w.Header().Set("RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if !decision.ResetAt.IsZero() {
		w.Header().Set("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}
	if decision.Allowed {
		return true
	}

	retryAfter := int64(decision.RetryAfter(h.now()) / time.Second)
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	h.logger.Warn("login rate limited", "name", name, "remote_addr", ip)
	WriteError(w, r, apierrors.NewRateLimitedError("too many login attempts"))
	return false
}

// check consults one bucket. ok is false when the limiter is unavailable.
func (h *AuthHandler) check(r *http.Request, key string, limit int) (ratelimit.Decision, bool) {
	decision, err := h.limit.Limiter.Allow(r.Context(), key, limit, h.limit.Window)
	switch {
	case errors.Is(err, ratelimit.ErrCapacityExceeded):
		h.logger.Warn("login rate limiter full", "error", err)
		return ratelimit.Decision{Limit: limit, ResetAt: h.now().Add(h.limit.Window)}, true
	case err != nil:
		h.logger.Warn("login rate limiter unavailable", "error", err)
		return ratelimit.Decision{}, false
	}
	return decision, true
}

// clientIP returns the peer address. Forwarding headers only reach it when
// the server is configured to trust them.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
