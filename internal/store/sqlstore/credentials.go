package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/narvanalabs/keyrelay/internal/store"
)

// Compile-time interface satisfaction check.
var _ store.CredentialStore = (*CredentialStore)(nil)

// CredentialStore implements store.CredentialStore.
type CredentialStore struct {
	db     *sql.DB
	tx     *sql.Tx
	driver string
	logger *slog.Logger
}

func (s *CredentialStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Create inserts a new enabled credential. ID and CreatedAt are filled in
// when empty.
func (s *CredentialStore) Create(ctx context.Context, cred *store.Credential) error {
	existing, err := s.Find(ctx, cred.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return store.ErrDuplicateName
	}

	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	if cred.CreatedAt == 0 {
		cred.CreatedAt = time.Now().Unix()
	}
	cred.Enabled = true
	cred.RevokedAt = 0

	query := `
		INSERT INTO credentials (id, name, secret_hash, description, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.conn().ExecContext(ctx, rebind(s.driver, query),
		cred.ID, cred.Name, cred.SecretHash, cred.Description, true, cred.CreatedAt,
	)
	if err != nil {
		// A concurrent registration won the race for the UNIQUE(name) constraint.
		if isUniqueViolation(err) {
			return store.ErrDuplicateName
		}
		return fmt.Errorf("inserting credential: %w", err)
	}

	s.logger.Debug("credential created", "name", cred.Name, "id", cred.ID)
	return nil
}

// Find retrieves a credential by name regardless of its enabled state.
func (s *CredentialStore) Find(ctx context.Context, name string) (*store.Credential, error) {
	query := `
		SELECT id, name, secret_hash, description, enabled, created_at, revoked_at
		FROM credentials WHERE name = ?
	`
	return s.scanOne(ctx, query, name)
}

// FindEnabled retrieves an enabled credential by name.
func (s *CredentialStore) FindEnabled(ctx context.Context, name string) (*store.Credential, error) {
	query := `
		SELECT id, name, secret_hash, description, enabled, created_at, revoked_at
		FROM credentials WHERE name = ? AND enabled = ?
	`
	return s.scanOne(ctx, query, name, true)
}

// Revoke disables the enabled credential with the given name.
func (s *CredentialStore) Revoke(ctx context.Context, name string) error {
	query := `UPDATE credentials SET enabled = ?, revoked_at = ? WHERE name = ? AND enabled = ?`

	result, err := s.conn().ExecContext(ctx, rebind(s.driver, query), false, time.Now().Unix(), name, true)
	if err != nil {
		return fmt.Errorf("revoking credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoking credential: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}

	s.logger.Debug("credential revoked", "name", name)
	return nil
}

// List retrieves the name and enabled flag of every credential.
func (s *CredentialStore) List(ctx context.Context) ([]store.KeySummary, error) {
	query := `SELECT name, enabled FROM credentials ORDER BY seq`

	rows, err := s.conn().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	defer rows.Close()

	keys := make([]store.KeySummary, 0)
	for rows.Next() {
		var k store.KeySummary
		if err := rows.Scan(&k.Name, &k.Enabled); err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		keys = append(keys, k)
	}

	return keys, rows.Err()
}

func (s *CredentialStore) scanOne(ctx context.Context, query string, args ...any) (*store.Credential, error) {
	var cred store.Credential
	var revokedAt sql.NullInt64
	err := s.conn().QueryRowContext(ctx, rebind(s.driver, query), args...).Scan(
		&cred.ID, &cred.Name, &cred.SecretHash, &cred.Description,
		&cred.Enabled, &cred.CreatedAt, &revokedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	cred.RevokedAt = revokedAt.Int64
	return &cred, nil
}
