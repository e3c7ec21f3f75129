// Package store provides database access interfaces for the credential store.
package store

import (
	"context"
	"errors"
)

// Common store errors.
var (
	// ErrNotFound is returned when no enabled credential exists for a name.
	ErrNotFound = errors.New("credential not found")

	// ErrDuplicateName is returned when a credential with the same name was
	// ever registered, whether or not it is still enabled.
	ErrDuplicateName = errors.New("credential name already registered")
)

// Credential is a named secret used by a calling service to obtain tokens.
type Credential struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	SecretHash  string `json:"-"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	CreatedAt   int64  `json:"created_at"`
	RevokedAt   int64  `json:"revoked_at,omitempty"`
}

// KeySummary is the public view of a credential returned by List.
type KeySummary struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// CredentialStore defines persistence operations for credentials.
type CredentialStore interface {
	// Create inserts a new enabled credential. It returns ErrDuplicateName if
	// the name was ever registered.
	Create(ctx context.Context, cred *Credential) error
	// Find returns the credential with the given name regardless of its
	// enabled state, or nil if none exists.
	Find(ctx context.Context, name string) (*Credential, error)
	// FindEnabled returns the enabled credential with the given name, or nil.
	FindEnabled(ctx context.Context, name string) (*Credential, error)
	// Revoke disables the enabled credential with the given name. It returns
	// ErrNotFound if there is none.
	Revoke(ctx context.Context, name string) error
	// List returns every credential's name and enabled flag in creation order.
	List(ctx context.Context) ([]KeySummary, error)
}

// Store is the main interface for database operations.
type Store interface {
	// Credentials returns the CredentialStore.
	Credentials() CredentialStore

	// WithTx executes the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	// Otherwise, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Ping verifies the database connection is alive.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
