package auth

import (
	"errors"
	"fmt"
)

// Common errors returned by the auth package.
var (
	// ErrUnauthenticated means no credential was presented.
	ErrUnauthenticated = errors.New("not authenticated: no token present")
	// ErrForbidden means the presented admin secret does not grant access.
	ErrForbidden = errors.New("credentials do not grant permissions to execute this action")
	// ErrInvalidCredentials means a login name/secret pair did not verify.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrMalformedToken means a token could not be parsed or its signature
	// did not verify.
	ErrMalformedToken = errors.New("malformed token")
	// ErrExpiredToken means a correctly signed token is past its expiry.
	ErrExpiredToken = errors.New("token has expired")
	// ErrMissingClaims means a token would be issued without a subject.
	ErrMissingClaims = errors.New("missing required claims")
)

// ValidationError reports an invalid request field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
