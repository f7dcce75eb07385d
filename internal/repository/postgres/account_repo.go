package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/model"
	"github.com/and161185/fitsync/internal/repository"
)

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ db *DB }

var _ repository.AccountRepository = (*AccountRepo)(nil)

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

const accountColumns = `id, email, pwd_hash, salt_auth, display_name, photo_url, pending_email, created_at`

// NormalizeEmail is the stored form of an email address.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Create inserts a new account row.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	const q = `
INSERT INTO accounts (id, email, pwd_hash, salt_auth, display_name, photo_url)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Pool.Exec(ctx, q, a.ID, NormalizeEmail(a.Email), a.PwdHash, a.SaltAuth, a.DisplayName, a.PhotoURL)
	if isUniqueViolation(err) {
		return errs.ErrEmailAlreadyInUse
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetByID selects an account by subject id.
func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE id=$1`
	return scanAccount(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByEmail selects an account by email.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE email=$1`
	return scanAccount(r.db.Pool.QueryRow(ctx, q, NormalizeEmail(email)))
}

// UpdateProfile updates display name and photo URL where the patch sets them.
func (r *AccountRepo) UpdateProfile(ctx context.Context, id uuid.UUID, patch model.AccountPatch) (*model.Account, error) {
	const q = `
UPDATE accounts
SET display_name = COALESCE($2, display_name), photo_url = COALESCE($3, photo_url)
WHERE id = $1
RETURNING ` + accountColumns
	return scanAccount(r.db.Pool.QueryRow(ctx, q, id, patch.DisplayName, patch.PhotoURL))
}

// SetPendingEmail stores a requested email change.
func (r *AccountRepo) SetPendingEmail(ctx context.Context, id uuid.UUID, email string) error {
	const q = `UPDATE accounts SET pending_email = $2 WHERE id = $1`
	tag, err := r.db.Pool.Exec(ctx, q, id, NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("set pending email: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.Email, &a.PwdHash, &a.SaltAuth, &a.DisplayName, &a.PhotoURL, &a.PendingEmail, &a.CreatedAt)
	switch {
	case err == nil:
		return &a, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, errs.ErrNotFound
	default:
		return nil, fmt.Errorf("scan account: %w", err)
	}
}
