package auth

import (
	"crypto/subtle"
	"strings"
)

// AdminGate authorizes credential management with a single shared admin
// secret. It carries no per-admin identity.
type AdminGate struct {
	key string
}

// NewAdminGate creates a gate for the configured admin secret.
func NewAdminGate(adminKey string) *AdminGate {
	return &AdminGate{key: adminKey}
}

// Authorize returns nil when presented equals the admin secret,
// ErrUnauthenticated when nothing was presented and ErrForbidden otherwise.
func (g *AdminGate) Authorize(presented string) error {
	if presented == "" {
		return ErrUnauthenticated
	}
	if !g.IsAdmin(presented) {
		return ErrForbidden
	}
	return nil
}

// IsAdmin reports whether presented is the admin secret. An unconfigured
// gate never matches.
func (g *AdminGate) IsAdmin(presented string) bool {
	if g.key == "" || presented == "" {
		return false
	}
	return SecureCompare(presented, g.key)
}

// ExtractBearerToken returns the credential carried by an Authorization
// header value. Both "Bearer <token>" and a bare token are accepted.
func ExtractBearerToken(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}

	return authHeader
}

// SecureCompare performs a constant-time comparison of two strings.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
