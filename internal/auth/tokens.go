// Package auth provides credential hashing, token issuance and the admin
// gate used by the key relay.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL is the lifetime of an issued token when none is configured.
const DefaultTokenTTL = time.Hour

// Claims represents a validated token.
type Claims struct {
	Subject   string    `json:"sub"`
	ID        string    `json:"jti"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// TokenConfig holds token signing configuration.
type TokenConfig struct {
	// Secret is the HMAC key shared by issuer and validator.
	Secret []byte
	// TTL is the token lifetime; exp = iat + TTL.
	TTL time.Duration
	// Now overrides the wall clock, mainly for tests.
	Now func() time.Time
}

// TokenService issues and validates HS256 bearer tokens bound to a
// credential name. Tokens are stateless: revoking a credential does not
// invalidate tokens issued before the revocation.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewTokenService creates a new token service.
func NewTokenService(cfg *TokenConfig, logger *slog.Logger) *TokenService {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		secret: cfg.Secret,
		ttl:    ttl,
		now:    now,
		logger: logger,
	}
}

// TTL returns the configured token lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue creates a signed token for subject. iat and exp are whole seconds,
// so a token may expire up to a second before iat + TTL on the wall clock.
func (s *TokenService) Issue(subject string) (string, error) {
	if subject == "" {
		return "", ErrMissingClaims
	}

	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ID:        uuid.New().String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.secret)
	if err != nil {
		s.logger.Error("failed to sign token", "error", err)
		return "", fmt.Errorf("signing token: %w", err)
	}

	return signedToken, nil
}

// Validate verifies the signature and expiry of a token and returns its
// claims. It returns ErrMalformedToken for unparseable, unsigned or
// wrongly signed tokens and ErrExpiredToken once now >= exp.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMalformedToken
	}

	registered := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, registered, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrMalformedToken
	}

	if !token.Valid || registered.Subject == "" || registered.ExpiresAt == nil {
		return nil, ErrMalformedToken
	}

	claims := &Claims{
		Subject:   registered.Subject,
		ID:        registered.ID,
		ExpiresAt: registered.ExpiresAt.Time,
	}
	if registered.IssuedAt != nil {
		claims.IssuedAt = registered.IssuedAt.Time
	}
	return claims, nil
}
