package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/narvanalabs/keyrelay/internal/api/errors"
	"github.com/narvanalabs/keyrelay/internal/auth"
	"github.com/narvanalabs/keyrelay/pkg/logger"
)

// DefaultExemptPatterns are the requests that pass the gate without a token.
// The key management subtree is checked by RequireAdmin instead.
var DefaultExemptPatterns = []string{
	"/v1/auth",
	"/openapi*",
	"/healthcheck",
	"/favicon.ico",
	"/v1/auth/keys*",
}

// AdminSubject is the subject attached to requests authorized by the admin
// secret.
const AdminSubject = "admin"

// GetSubject returns the credential name the request was authorized as, or
// an empty string for exempt requests.
func GetSubject(ctx context.Context) string {
	return logger.SubjectFromContext(ctx)
}

// RequestGate requires a valid token on every request that is not exempt.
// The admin secret is accepted in place of a token.
type RequestGate struct {
	exempt *Matcher
	tokens *auth.TokenService
	admin  *auth.AdminGate
	logger *slog.Logger
}

// NewRequestGate creates a gate.
func NewRequestGate(exempt *Matcher, tokens *auth.TokenService, admin *auth.AdminGate, logger *slog.Logger) *RequestGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestGate{
		exempt: exempt,
		tokens: tokens,
		admin:  admin,
		logger: logger,
	}
}

// Authenticate is the gate middleware.
func (g *RequestGate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.exempt.MatchRequest(r) {
			next.ServeHTTP(w, r)
			return
		}

		subject, err := g.check(r)
		if err != nil {
			g.logger.Debug("request rejected by gate",
				"path", r.URL.Path,
				"error", err,
				"request_id", middleware.GetReqID(r.Context()),
			)
			writeError(w, r, err)
			return
		}

		ctx := logger.ContextWithSubject(r.Context(), subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *RequestGate) check(r *http.Request) (string, error) {
	token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return "", auth.ErrUnauthenticated
	}

	if g.admin.IsAdmin(token) {
		return AdminSubject, nil
	}

	claims, err := g.tokens.Validate(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			return "", auth.ErrExpiredToken
		}
		return "", auth.ErrMalformedToken
	}
	return claims.Subject, nil
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apierrors.WriteErrorWithRequestID(w, apierrors.FromError(err), middleware.GetReqID(r.Context()))
}
