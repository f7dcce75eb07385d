package session

import (
	"context"

	"github.com/and161185/fitsync/internal/model"
)

// Provider is the identity provider as seen by the Manager.
//
// OnSessionChanged callbacks are invoked in transition order, exactly once per real transition, with the
// signed-in identity or nil for absence. Callbacks must not block; the Manager only enqueues from them.
type Provider interface {
	OnSessionChanged(fn func(id *model.Identity)) (unsubscribe func())
	SignIn(ctx context.Context, email, password string) (model.Identity, error)
	SignUp(ctx context.Context, reg model.Registration) (model.Identity, error)
	// SignOut always ends the local session; a non-nil error reports that the remote call failed.
	SignOut(ctx context.Context) error
	UpdateAccount(ctx context.Context, patch model.AccountPatch) error
	Reauthenticate(ctx context.Context, password string) error
	RequestEmailChange(ctx context.Context, newEmail string) error
}
