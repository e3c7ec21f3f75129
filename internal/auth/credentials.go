package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/narvanalabs/keyrelay/internal/store"
)

// Field limits for credential registration.
const (
	MaxNameLength        = 128
	MaxDescriptionLength = 1024
)

// nameRegex allows names that are safe as a single URL path segment.
var nameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@-]*$`)

// CredentialService registers credentials, exchanges them for tokens and
// manages revocation.
type CredentialService struct {
	store  store.Store
	hasher *Hasher
	tokens *TokenService
	logger *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewCredentialService creates a new credential service.
func NewCredentialService(st store.Store, hasher *Hasher, tokens *TokenService, logger *slog.Logger) *CredentialService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialService{
		store:  st,
		hasher: hasher,
		tokens: tokens,
		logger: logger,
	}
}

// Register stores a new credential and returns a token for it. It returns
// store.ErrDuplicateName if the name was ever registered, including names
// that have since been revoked.
func (s *CredentialService) Register(ctx context.Context, name, secret, description string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if err := ValidateSecret(secret); err != nil {
		return "", err
	}
	if len(description) > MaxDescriptionLength {
		return "", &ValidationError{Field: "description", Message: fmt.Sprintf("must be %d characters or less", MaxDescriptionLength)}
	}

	// Hash outside the transaction; bcrypt is the slow part.
	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return "", err
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		existing, err := tx.Credentials().Find(ctx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			return store.ErrDuplicateName
		}
		return tx.Credentials().Create(ctx, &store.Credential{
			Name:        name,
			SecretHash:  hash,
			Description: description,
		})
	})
	if err != nil {
		if !errors.Is(err, store.ErrDuplicateName) {
			s.logger.Error("failed to register credential", "name", name, "error", err)
		}
		return "", err
	}

	s.logger.Info("credential registered", "name", name)
	return s.tokens.Issue(name)
}

// Login verifies name and secret against the enabled credential and returns
// a fresh token. Unknown, revoked and mismatched credentials all yield
// ErrInvalidCredentials.
func (s *CredentialService) Login(ctx context.Context, name, secret string) (string, error) {
	cred, err := s.store.Credentials().FindEnabled(ctx, name)
	if err != nil {
		return "", err
	}

	if cred == nil {
		// Spend the same bcrypt work as a real comparison so timing does
		// not reveal which names exist.
		s.hasher.Verify(secret, s.dummy())
		return "", ErrInvalidCredentials
	}

	if !s.hasher.Verify(secret, cred.SecretHash) {
		s.logger.Debug("credential verification failed", "name", name)
		return "", ErrInvalidCredentials
	}

	return s.tokens.Issue(cred.Name)
}

// Revoke disables the named credential. It returns store.ErrNotFound when no
// enabled credential has that name. Tokens already issued for the name stay
// valid until they expire.
func (s *CredentialService) Revoke(ctx context.Context, name string) error {
	if err := s.store.Credentials().Revoke(ctx, name); err != nil {
		return err
	}
	s.logger.Info("credential revoked", "name", name)
	return nil
}

// List returns the name and enabled state of every credential.
func (s *CredentialService) List(ctx context.Context) ([]store.KeySummary, error) {
	return s.store.Credentials().List(ctx)
}

func (s *CredentialService) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("keyrelay-timing-equalizer")
		if err != nil {
			s.logger.Error("failed to prepare dummy hash", "error", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

// ValidateName checks that a credential name is present, bounded and safe to
// use as a URL path segment.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if len(name) > MaxNameLength {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("must be %d characters or less", MaxNameLength)}
	}
	if !nameRegex.MatchString(name) {
		return &ValidationError{Field: "name", Message: "must start with a letter or digit and contain only letters, digits and . _ : @ -"}
	}
	return nil
}

// ValidateSecret checks that a credential secret is present and within
// bcrypt's input limit.
func ValidateSecret(secret string) error {
	if secret == "" {
		return &ValidationError{Field: "key", Message: "key is required"}
	}
	if len(secret) > MaxSecretLength {
		return &ValidationError{Field: "key", Message: fmt.Sprintf("must be %d bytes or less", MaxSecretLength)}
	}
	return nil
}
