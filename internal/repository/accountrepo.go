// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/fitsync/internal/model"
)

// AccountRepository provides access to identity accounts.
type AccountRepository interface {
	// Create inserts a new account. Fails with errs.ErrEmailAlreadyInUse on a duplicate email.
	Create(ctx context.Context, a *model.Account) error
	// GetByID loads an account by subject id.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error)
	// GetByEmail loads an account by its (case-insensitive) email.
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
	// UpdateProfile applies the non-nil fields of patch and returns the updated account.
	UpdateProfile(ctx context.Context, id uuid.UUID, patch model.AccountPatch) (*model.Account, error)
	// SetPendingEmail records a requested, unverified email address.
	SetPendingEmail(ctx context.Context, id uuid.UUID, email string) error
}
