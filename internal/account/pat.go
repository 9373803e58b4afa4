package account

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaultmesh/datahub/internal/apperr"
)

// PATPrefix identifies personal access tokens in leaked-credential scans.
const PATPrefix = "dhub_pat_"

// MethodPAT indicates authentication via personal access token.
const MethodPAT = "pat"

// PersonalAccessToken is a row in the account_personal_access_tokens table.
// The raw token is shown to the caller exactly once, at creation.
type PersonalAccessToken struct {
	ID         uuid.UUID
	AccountID  uuid.UUID
	Name       string
	Prefix     string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	Created    time.Time
}

// PATStore issues and validates personal access tokens.
type PATStore struct {
	pool *pgxpool.Pool
}

// NewPATStore creates a PATStore.
func NewPATStore(pool *pgxpool.Pool) *PATStore {
	return &PATStore{pool: pool}
}

// Create mints a new personal access token for accountID and returns both
// the stored row and the raw token string (never persisted in the clear).
func (s *PATStore) Create(ctx context.Context, accountID uuid.UUID, name string, expiresIn *time.Duration) (PersonalAccessToken, string, error) {
	raw, prefix, err := generatePAT()
	if err != nil {
		return PersonalAccessToken{}, "", fmt.Errorf("generating token: %w", err)
	}

	var expiresAt *time.Time
	if expiresIn != nil {
		t := time.Now().Add(*expiresIn)
		expiresAt = &t
	}

	hash := hashPAT(raw)
	var tok PersonalAccessToken
	err = s.pool.QueryRow(ctx, `
		INSERT INTO account_personal_access_tokens (id, account_id, name, prefix, token_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, account_id, name, prefix, expires_at, last_used_at, created_at
	`, uuid.New(), accountID, name, prefix, hash, expiresAt).Scan(
		&tok.ID, &tok.AccountID, &tok.Name, &tok.Prefix, &tok.ExpiresAt, &tok.LastUsedAt, &tok.Created,
	)
	if err != nil {
		return PersonalAccessToken{}, "", fmt.Errorf("inserting personal access token: %w", err)
	}
	return tok, raw, nil
}

// List returns all tokens belonging to accountID, newest first.
func (s *PATStore) List(ctx context.Context, accountID uuid.UUID) ([]PersonalAccessToken, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, name, prefix, expires_at, last_used_at, created_at
		FROM account_personal_access_tokens
		WHERE account_id = $1
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing personal access tokens: %w", err)
	}
	defer rows.Close()

	var out []PersonalAccessToken
	for rows.Next() {
		var t PersonalAccessToken
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Name, &t.Prefix, &t.ExpiresAt, &t.LastUsedAt, &t.Created); err != nil {
			return nil, fmt.Errorf("scanning personal access token: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Revoke deletes a token owned by accountID.
func (s *PATStore) Revoke(ctx context.Context, accountID, tokenID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM account_personal_access_tokens WHERE id = $1 AND account_id = $2
	`, tokenID, accountID)
	if err != nil {
		return fmt.Errorf("revoking personal access token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("no personal access token %q", tokenID)
	}
	return nil
}

// PATResult is the resolved identity behind a validated token.
type PATResult struct {
	AccountID   uuid.UUID
	Email       string
	DisplayName string
}

// Authenticate validates a raw PAT by prefix lookup, constant-time hash
// comparison, and expiry check. On success it updates last_used_at.
func (s *PATStore) Authenticate(ctx context.Context, raw string) (*PATResult, error) {
	if len(raw) < len(PATPrefix)+8 {
		return nil, fmt.Errorf("token too short")
	}
	prefix := raw[:len(PATPrefix)+8]
	expectedHash := hashPAT(raw)

	var tokenID, accountID uuid.UUID
	var storedHash string
	var expiresAt *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT id, account_id, token_hash, expires_at
		FROM account_personal_access_tokens WHERE prefix = $1
	`, prefix).Scan(&tokenID, &accountID, &storedHash, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("token not found")
		}
		return nil, fmt.Errorf("looking up token: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(storedHash), []byte(expectedHash)) != 1 {
		return nil, fmt.Errorf("invalid token")
	}
	if expiresAt != nil && expiresAt.Before(time.Now()) {
		return nil, fmt.Errorf("token expired at %s", expiresAt)
	}

	var email, displayName string
	err = s.pool.QueryRow(ctx, `SELECT email, display_name FROM accounts WHERE id = $1`, accountID).
		Scan(&email, &displayName)
	if err != nil {
		return nil, fmt.Errorf("looking up account for token: %w", err)
	}

	go func() {
		_, _ = s.pool.Exec(context.Background(),
			`UPDATE account_personal_access_tokens SET last_used_at = now() WHERE id = $1`, tokenID)
	}()

	return &PATResult{AccountID: accountID, Email: email, DisplayName: displayName}, nil
}

func generatePAT() (raw string, prefix string, err error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("reading random bytes: %w", err)
	}
	raw = PATPrefix + base64.RawURLEncoding.EncodeToString(b)
	prefix = raw[:len(PATPrefix)+8]
	return raw, prefix, nil
}

func hashPAT(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
