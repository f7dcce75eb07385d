package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/forms"
	"github.com/and161185/fitsync/internal/model"
	"github.com/and161185/fitsync/internal/notify"
)

// Login signs in through the provider and waits for the resulting hydration.
// Hydration failures are returned after the machine has gone back to Anonymous.
func (m *Manager) Login(ctx context.Context, f forms.Login) error {
	if err := forms.ValidateLogin(f); err != nil {
		return err
	}
	after := m.seq.Load()
	id, err := m.provider.SignIn(ctx, f.Email, f.Password)
	if err != nil {
		m.notifier.Notify(notify.Error, "Sign-in failed", err.Error())
		return fmt.Errorf("sign in: %w", err)
	}
	return m.awaitSignIn(ctx, after, id.SubjectID)
}

// Register creates an account through the provider and waits for the first hydration.
func (m *Manager) Register(ctx context.Context, f forms.Register) error {
	if err := forms.ValidateRegister(f); err != nil {
		return err
	}
	reg := model.Registration{Email: f.Email, Password: f.Password, FirstName: f.FirstName, LastName: f.LastName}
	after := m.seq.Load()
	id, err := m.provider.SignUp(ctx, reg)
	if err != nil {
		m.notifier.Notify(notify.Error, "Sign-up failed", err.Error())
		return fmt.Errorf("sign up: %w", err)
	}
	if err := m.awaitSignIn(ctx, after, id.SubjectID); err != nil {
		return err
	}
	m.notifier.Notify(notify.Success, "Account created", "")
	return nil
}

// Logout ends the provider session and waits for the local state to clear. The local state is cleared even
// when the remote sign-out fails; that failure is still returned.
func (m *Manager) Logout(ctx context.Context) error {
	serr := m.provider.SignOut(ctx)
	if err := m.Sync(ctx); err != nil {
		return err
	}
	if m.store.Subject() != "" {
		// the provider reported no transition; clear anyway
		if m.enqueue(event{kind: evSignedOut}) {
			if err := m.Sync(ctx); err != nil {
				return err
			}
		}
	}
	if serr != nil {
		m.log.Warn("remote sign-out failed", zap.Error(serr))
		m.notifier.Notify(notify.Warning, "Signed out on this device only", serr.Error())
		return fmt.Errorf("sign out: %w", serr)
	}
	return nil
}

// ChangeEmail re-verifies the password, then asks the provider to move the account to newEmail.
// The profile document's email is not touched; it follows once the provider has verified the address.
func (m *Manager) ChangeEmail(ctx context.Context, newEmail, password string) error {
	if m.store.Subject() == "" {
		return errs.ErrUnauthenticated
	}
	if err := forms.ValidateEmail(newEmail); err != nil {
		return err
	}
	if password == "" {
		return errs.Validation("password", "is required")
	}
	if err := m.provider.Reauthenticate(ctx, password); err != nil {
		m.notifier.Notify(notify.Error, "Email not changed", err.Error())
		return fmt.Errorf("reauthenticate: %w", err)
	}
	if err := m.provider.RequestEmailChange(ctx, newEmail); err != nil {
		m.notifier.Notify(notify.Error, "Email not changed", err.Error())
		return fmt.Errorf("request email change: %w", err)
	}
	m.notifier.Notify(notify.Success, "Check your inbox", "A verification link was sent to "+newEmail)
	return nil
}
