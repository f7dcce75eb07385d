package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/fitsync/internal/crypto"
	"github.com/and161185/fitsync/internal/docpath"
	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/forms"
	"github.com/and161185/fitsync/internal/limiter"
	"github.com/and161185/fitsync/internal/model"
	"github.com/and161185/fitsync/internal/repository"
	"github.com/and161185/fitsync/internal/token"
)

// DefaultReauthWindow is how long a password check authorizes sensitive operations.
const DefaultReauthWindow = 5 * time.Minute

// IdentityService defines account and session operations.
type IdentityService interface {
	// SignUp creates an account, seeds its profile document and signs it in.
	SignUp(ctx context.Context, in model.Registration) (model.Tokens, model.Account, error)
	// SignIn applies rate limiting and verifies the password.
	SignIn(ctx context.Context, email, password, ip string) (model.Tokens, model.Account, error)
	// Reauthenticate verifies the password again and issues tokens with a fresh auth time.
	Reauthenticate(ctx context.Context, subject uuid.UUID, password string) (model.Tokens, error)
	// RequestEmailChange records newEmail as pending. Requires a recent password check.
	RequestEmailChange(ctx context.Context, subject uuid.UUID, authTime time.Time, newEmail string) error
	// UpdateAccount changes display name and photo URL.
	UpdateAccount(ctx context.Context, subject uuid.UUID, patch model.AccountPatch) (model.Account, error)
	// Account returns the subject's account.
	Account(ctx context.Context, subject uuid.UUID) (model.Account, error)
}

// IdentityDeps are the collaborators of IdentityServiceImpl. Docs, Observer, Log and Now are optional.
type IdentityDeps struct {
	Accounts     repository.AccountRepository
	Docs         DocumentService
	Limiter      limiter.Limiter
	Tokens       *token.Issuer
	ReauthWindow time.Duration
	Observer     Observer
	Log          *zap.Logger
	Now          func() time.Time
}

// IdentityServiceImpl implements IdentityService.
type IdentityServiceImpl struct {
	accounts     repository.AccountRepository
	docs         DocumentService
	lim          limiter.Limiter
	tokens       *token.Issuer
	reauthWindow time.Duration
	obs          Observer
	log          *zap.Logger
	now          func() time.Time
}

var _ IdentityService = (*IdentityServiceImpl)(nil)

// NewIdentityService constructs IdentityService.
func NewIdentityService(d IdentityDeps) *IdentityServiceImpl {
	s := &IdentityServiceImpl{
		accounts:     d.Accounts,
		docs:         d.Docs,
		lim:          d.Limiter,
		tokens:       d.Tokens,
		reauthWindow: d.ReauthWindow,
		obs:          d.Observer,
		log:          d.Log,
		now:          d.Now,
	}
	if s.reauthWindow <= 0 {
		s.reauthWindow = DefaultReauthWindow
	}
	if s.obs == nil {
		s.obs = nopObserver{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SignUp creates a new account with a per-account salt.
func (s *IdentityServiceImpl) SignUp(ctx context.Context, in model.Registration) (model.Tokens, model.Account, error) {
	in.Email = strings.TrimSpace(in.Email)
	if err := forms.ValidateRegister(forms.Register{
		Email: in.Email, Password: in.Password, FirstName: in.FirstName, LastName: in.LastName,
	}); err != nil {
		return model.Tokens{}, model.Account{}, err
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return model.Tokens{}, model.Account{}, err
	}
	hash, salt, err := pkgcrypto.NewCredential(in.Password)
	if err != nil {
		return model.Tokens{}, model.Account{}, err
	}
	now := s.now().UTC()
	acc := &model.Account{
		ID:          uid,
		Email:       strings.ToLower(in.Email),
		PwdHash:     hash,
		SaltAuth:    salt,
		DisplayName: strings.TrimSpace(in.FirstName + " " + in.LastName),
		CreatedAt:   now,
	}
	if err := s.accounts.Create(ctx, acc); err != nil {
		return model.Tokens{}, model.Account{}, err
	}
	s.seedProfile(ctx, acc, in, now)

	tokens, err := s.tokens.Issue(uid, now)
	if err != nil {
		return model.Tokens{}, model.Account{}, err
	}
	s.log.Info("account created", zap.String("subject", uid.String()))
	return tokens, *acc, nil
}

// seedProfile writes the first profile document. Failure is tolerated: clients create a blank
// profile when they find none.
func (s *IdentityServiceImpl) seedProfile(ctx context.Context, acc *model.Account, in model.Registration, now time.Time) {
	if s.docs == nil {
		return
	}
	stamp := now.Format(time.RFC3339Nano)
	doc := model.Document{
		"uid":         acc.ID.String(),
		"email":       acc.Email,
		"firstName":   in.FirstName,
		"lastName":    in.LastName,
		"displayName": acc.DisplayName,
		"photoURL":    "",
		"createdAt":   stamp,
		"updatedAt":   stamp,
	}
	if _, err := s.docs.Set(ctx, acc.ID, docpath.Join(acc.ID.String(), ""), doc, false); err != nil {
		s.log.Warn("seed profile failed", zap.String("subject", acc.ID.String()), zap.Error(err))
	}
}

// SignIn authenticates with rate limiting by (email, ip).
func (s *IdentityServiceImpl) SignIn(ctx context.Context, email, password, ip string) (model.Tokens, model.Account, error) {
	tokens, acc, err := s.signIn(ctx, email, password, ip)
	switch {
	case err == nil:
		s.obs.SignIn(SignInOK)
	case errors.Is(err, errs.ErrRateLimited):
		s.obs.SignIn(SignInRateLimited)
	case errors.Is(err, errs.ErrInvalidCredentials):
		s.obs.SignIn(SignInDenied)
	default:
		s.obs.SignIn(SignInError)
	}
	return tokens, acc, err
}

func (s *IdentityServiceImpl) signIn(ctx context.Context, email, password, ip string) (model.Tokens, model.Account, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return model.Tokens{}, model.Account{}, err
	}
	if !allowed {
		return model.Tokens{}, model.Account{}, errs.ErrRateLimited
	}

	acc, err := s.accounts.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, model.Account{}, err
	}
	if err != nil {
		pkgcrypto.BurnVerify(password)
	}
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), acc.SaltAuth, acc.PwdHash) {
		// unknown email and wrong password look the same to the caller
		if blocked, _, ferr := s.lim.Failure(ctx, email, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.Account{}, errs.ErrRateLimited
		} else if ferr != nil {
			s.log.Warn("limiter failure not recorded", zap.Error(ferr))
		}
		return model.Tokens{}, model.Account{}, errs.ErrInvalidCredentials
	}

	if err := s.lim.Success(ctx, email, ipHash); err != nil {
		s.log.Warn("limiter reset failed", zap.Error(err))
	}
	tokens, err := s.tokens.Issue(acc.ID, s.now())
	if err != nil {
		return model.Tokens{}, model.Account{}, err
	}
	return tokens, *acc, nil
}

// Reauthenticate verifies the subject's password and refreshes the auth time.
func (s *IdentityServiceImpl) Reauthenticate(ctx context.Context, subject uuid.UUID, password string) (model.Tokens, error) {
	acc, err := s.accounts.GetByID(ctx, subject)
	if errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, errs.ErrUnauthenticated
	}
	if err != nil {
		return model.Tokens{}, err
	}
	if !pkgcrypto.VerifyPassword([]byte(password), acc.SaltAuth, acc.PwdHash) {
		return model.Tokens{}, errs.ErrInvalidCredentials
	}
	return s.tokens.Issue(acc.ID, s.now())
}

// RequestEmailChange stores newEmail as the pending address. Delivery of the verification
// message is not part of this service.
func (s *IdentityServiceImpl) RequestEmailChange(ctx context.Context, subject uuid.UUID, authTime time.Time, newEmail string) error {
	if s.now().Sub(authTime) > s.reauthWindow {
		return errs.ErrRequiresReauthentication
	}
	newEmail = strings.TrimSpace(newEmail)
	if err := forms.ValidateEmail(newEmail); err != nil {
		return err
	}
	other, err := s.accounts.GetByEmail(ctx, newEmail)
	switch {
	case err == nil && other.ID != subject:
		return errs.ErrEmailAlreadyInUse
	case err == nil:
		return errs.Validation("email", "unchanged")
	case !errors.Is(err, errs.ErrNotFound):
		return err
	}
	if err := s.accounts.SetPendingEmail(ctx, subject, newEmail); err != nil {
		return fmt.Errorf("pending email: %w", err)
	}
	s.log.Info("email change requested", zap.String("subject", subject.String()))
	return nil
}

// UpdateAccount applies display name and photo URL changes.
func (s *IdentityServiceImpl) UpdateAccount(ctx context.Context, subject uuid.UUID, patch model.AccountPatch) (model.Account, error) {
	if patch.Empty() {
		return s.Account(ctx, subject)
	}
	pp := model.ProfilePatch{DisplayName: patch.DisplayName, PhotoURL: patch.PhotoURL}
	if err := forms.ValidateProfilePatch(pp); err != nil {
		return model.Account{}, err
	}
	acc, err := s.accounts.UpdateProfile(ctx, subject, patch)
	if err != nil {
		return model.Account{}, err
	}
	return *acc, nil
}

// Account returns the subject's account.
func (s *IdentityServiceImpl) Account(ctx context.Context, subject uuid.UUID) (model.Account, error) {
	acc, err := s.accounts.GetByID(ctx, subject)
	if err != nil {
		return model.Account{}, err
	}
	return *acc, nil
}
