// Package auth is the client's Session Provider: it talks to the identity RPCs, persists the access
// token and reports session transitions to the session manager.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/model"
	"github.com/and161185/fitsync/internal/rpc"
	"github.com/and161185/fitsync/internal/token"
)

// IdentityAPI is the part of rpc.Client the provider uses.
type IdentityAPI interface {
	SignUp(ctx context.Context, in *rpc.SignUpRequest, opts ...grpc.CallOption) (*rpc.AuthResponse, error)
	SignIn(ctx context.Context, in *rpc.SignInRequest, opts ...grpc.CallOption) (*rpc.AuthResponse, error)
	SignOut(ctx context.Context, opts ...grpc.CallOption) error
	Reauthenticate(ctx context.Context, in *rpc.ReauthenticateRequest, opts ...grpc.CallOption) (*rpc.AuthResponse, error)
	RequestEmailChange(ctx context.Context, in *rpc.RequestEmailChangeRequest, opts ...grpc.CallOption) error
	UpdateAccount(ctx context.Context, in *rpc.UpdateAccountRequest, opts ...grpc.CallOption) (*rpc.AccountResponse, error)
	GetAccount(ctx context.Context, opts ...grpc.CallOption) (*rpc.AccountResponse, error)
}

var _ IdentityAPI = (*rpc.Client)(nil)

// RemoteProvider implements session.Provider over the identity RPCs.
//
// Transitions are delivered synchronously, in order, once per change of subject.
type RemoteProvider struct {
	api    IdentityAPI
	tokens *TokenStore
	log    *zap.Logger
	now    func() time.Time

	emitMu sync.Mutex // serializes delivery
	mu     sync.Mutex
	cur    *model.Identity
	cbs    map[int]func(*model.Identity)
	nextID int
}

// NewRemoteProvider constructs a provider. log may be nil.
func NewRemoteProvider(api IdentityAPI, tokens *TokenStore, log *zap.Logger) *RemoteProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &RemoteProvider{api: api, tokens: tokens, log: log, now: time.Now, cbs: map[int]func(*model.Identity){}}
}

// OnSessionChanged registers fn for session transitions.
func (p *RemoteProvider) OnSessionChanged(fn func(*model.Identity)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.cbs[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.cbs, id)
		p.mu.Unlock()
	}
}

// Current returns the signed-in identity or nil.
func (p *RemoteProvider) Current() *model.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return nil
	}
	cp := *p.cur
	return &cp
}

func (p *RemoteProvider) emit(id *model.Identity) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	same := (id == nil && p.cur == nil) || (id != nil && p.cur != nil && id.SubjectID == p.cur.SubjectID)
	if id != nil {
		cp := *id
		p.cur = &cp
	} else {
		p.cur = nil
	}
	if same {
		p.mu.Unlock()
		return
	}
	cbs := make([]func(*model.Identity), 0, len(p.cbs))
	for i := 0; i < p.nextID; i++ {
		if cb, ok := p.cbs[i]; ok {
			cbs = append(cbs, cb)
		}
	}
	p.mu.Unlock()

	p.log.Debug("session transition", zap.Bool("signedIn", id != nil), zap.String("subject", subjectOf(id)))
	for _, cb := range cbs {
		var arg *model.Identity
		if id != nil {
			cp := *id
			arg = &cp
		}
		cb(arg)
	}
}

func subjectOf(id *model.Identity) string {
	if id == nil {
		return ""
	}
	return id.SubjectID
}

func (p *RemoteProvider) store(res *rpc.AuthResponse) {
	err := p.tokens.Save(StoredSession{
		AccessToken: res.AccessToken,
		ExpiresAt:   res.ExpiresAt,
		AuthTime:    res.AuthTime,
		Account:     res.Account,
	})
	if err != nil {
		p.log.Warn("persist token", zap.Error(err))
	}
}

// Restore re-establishes a persisted session whose token has not expired. The account is refreshed from
// the server when reachable; a rejected token is discarded.
func (p *RemoteProvider) Restore(ctx context.Context) (*model.Identity, error) {
	st, err := p.tokens.Load()
	if err != nil {
		p.log.Warn("load token", zap.Error(err))
		_ = p.tokens.Clear()
		return nil, nil
	}
	if st == nil {
		return nil, nil
	}
	claims, err := token.Inspect(st.AccessToken)
	if err != nil || claims.Expired(p.now()) {
		_ = p.tokens.Clear()
		return nil, nil
	}

	id := st.Account
	res, err := p.api.GetAccount(ctx)
	switch {
	case err == nil:
		id = res.Account
		st.Account = id
		if err := p.tokens.Save(*st); err != nil {
			p.log.Warn("persist token", zap.Error(err))
		}
	case errors.Is(err, errs.ErrUnauthenticated), errors.Is(err, errs.ErrNotFound):
		_ = p.tokens.Clear()
		return nil, nil
	default:
		p.log.Info("account refresh failed, using stored identity", zap.Error(err))
	}
	p.emit(&id)
	return &id, nil
}

// SignIn authenticates and emits the new session.
func (p *RemoteProvider) SignIn(ctx context.Context, email, password string) (model.Identity, error) {
	res, err := p.api.SignIn(ctx, &rpc.SignInRequest{Email: email, Password: password})
	if err != nil {
		return model.Identity{}, err
	}
	p.store(res)
	p.emit(&res.Account)
	return res.Account, nil
}

// SignUp creates an account, signs it in and emits the new session.
func (p *RemoteProvider) SignUp(ctx context.Context, reg model.Registration) (model.Identity, error) {
	res, err := p.api.SignUp(ctx, &rpc.SignUpRequest{Registration: reg})
	if err != nil {
		return model.Identity{}, err
	}
	p.store(res)
	p.emit(&res.Account)
	return res.Account, nil
}

// SignOut drops the local session and emits absence even when the remote call fails; that failure is
// reported as errs.ErrNetwork.
func (p *RemoteProvider) SignOut(ctx context.Context) error {
	var remoteErr error
	if p.tokens.Current() != nil {
		remoteErr = p.api.SignOut(ctx)
		if errors.Is(remoteErr, errs.ErrUnauthenticated) {
			remoteErr = nil
		}
	}
	if err := p.tokens.Clear(); err != nil {
		p.log.Warn("clear token", zap.Error(err))
	}
	p.emit(nil)
	if remoteErr != nil {
		if errors.Is(remoteErr, errs.ErrNetwork) {
			return remoteErr
		}
		return fmt.Errorf("%w: sign out: %v", errs.ErrNetwork, remoteErr)
	}
	return nil
}

func (p *RemoteProvider) requireSession() error {
	if p.Current() == nil || p.tokens.Current() == nil {
		return errs.ErrUnauthenticated
	}
	return nil
}

// UpdateAccount changes display name and photo URL. The session is not re-emitted: the subject is unchanged.
func (p *RemoteProvider) UpdateAccount(ctx context.Context, patch model.AccountPatch) error {
	if err := p.requireSession(); err != nil {
		return err
	}
	res, err := p.api.UpdateAccount(ctx, &rpc.UpdateAccountRequest{Patch: patch})
	if err != nil {
		return err
	}
	p.mu.Lock()
	if p.cur != nil && p.cur.SubjectID == res.Account.SubjectID {
		acc := res.Account
		p.cur = &acc
	}
	p.mu.Unlock()
	if st := p.tokens.Current(); st != nil {
		st.Account = res.Account
		if err := p.tokens.Save(*st); err != nil {
			p.log.Warn("persist token", zap.Error(err))
		}
	}
	return nil
}

// Reauthenticate re-verifies the password and keeps the refreshed token.
func (p *RemoteProvider) Reauthenticate(ctx context.Context, password string) error {
	if err := p.requireSession(); err != nil {
		return err
	}
	res, err := p.api.Reauthenticate(ctx, &rpc.ReauthenticateRequest{Password: password})
	if err != nil {
		return err
	}
	p.store(res)
	return nil
}

// RequestEmailChange asks the server to move the account to newEmail.
func (p *RemoteProvider) RequestEmailChange(ctx context.Context, newEmail string) error {
	if err := p.requireSession(); err != nil {
		return err
	}
	return p.api.RequestEmailChange(ctx, &rpc.RequestEmailChangeRequest{NewEmail: newEmail})
}
