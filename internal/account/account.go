// Package account implements the session-authenticated account plane that
// sits in front of hub lifecycle operations (§4.7, §6 "session-authenticated"
// routes). It is deliberately separate from the capability-authenticated hub
// facade: creating or deleting a hub cannot be protected by a capability
// rooted in that hub, so bootstrapping goes through a conventional
// authenticated-account model instead (local password or OIDC).
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaultmesh/datahub/internal/apperr"
)

const uniqueViolation = "23505"

// Account is an authenticated account holder: someone who can create and
// manage data hubs. Accounts are account-plane concepts only — they never
// appear in a HubConfig, which names controllers/invokers/delegators by DID
// or opaque identifier instead.
type Account struct {
	ID           uuid.UUID
	Email        string
	DisplayName  string
	PasswordHash *string // nil for OIDC-only accounts
	Created      time.Time
	Updated      time.Time
}

// Store persists accounts in the global Postgres database.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an account Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts a new account. email must be unique.
func (s *Store) Create(ctx context.Context, email, displayName string, passwordHash *string) (Account, error) {
	id := uuid.New()
	var a Account
	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, email, display_name, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, email, display_name, password_hash, created_at, updated_at
	`, id, email, displayName, passwordHash).Scan(
		&a.ID, &a.Email, &a.DisplayName, &a.PasswordHash, &a.Created, &a.Updated,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Account{}, apperr.Duplicate("an account with email %q already exists", email)
		}
		return Account{}, fmt.Errorf("inserting account: %w", err)
	}
	return a, nil
}

// GetByEmail looks up an account by email.
func (s *Store) GetByEmail(ctx context.Context, email string) (Account, error) {
	var a Account
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, display_name, password_hash, created_at, updated_at
		FROM accounts WHERE email = $1
	`, email).Scan(&a.ID, &a.Email, &a.DisplayName, &a.PasswordHash, &a.Created, &a.Updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, apperr.NotFound("no account with email %q", email)
		}
		return Account{}, fmt.Errorf("querying account: %w", err)
	}
	return a, nil
}

// Get looks up an account by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Account, error) {
	var a Account
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, display_name, password_hash, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.Email, &a.DisplayName, &a.PasswordHash, &a.Created, &a.Updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, apperr.NotFound("no account with id %q", id)
		}
		return Account{}, fmt.Errorf("querying account: %w", err)
	}
	return a, nil
}
