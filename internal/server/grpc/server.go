// Package grpcserver exposes the FitSync gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/fitsync/internal/model"
	"github.com/and161185/fitsync/internal/rpc"
	"github.com/and161185/fitsync/internal/service"
	"github.com/and161185/fitsync/internal/token"
)

// Server wires services into gRPC handlers.
type Server struct {
	identity service.IdentityService
	docs     service.DocumentService
	tokens   *token.Issuer
	log      *zap.Logger
}

var _ rpc.FitSyncServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(identity service.IdentityService, docs service.DocumentService, tokens *token.Issuer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{identity: identity, docs: docs, tokens: tokens, log: log}
}

func remoteIP(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

func authResponse(tok model.Tokens, acc model.Account) *rpc.AuthResponse {
	return &rpc.AuthResponse{
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.ExpiresAt,
		AuthTime:    tok.AuthTime,
		Account:     acc.Identity(),
	}
}

func accountResponse(acc model.Account) *rpc.AccountResponse {
	return &rpc.AccountResponse{Account: acc.Identity(), PendingEmail: acc.PendingEmail}
}

// --- Identity ---

// SignUp creates an account and signs it in.
func (s *Server) SignUp(ctx context.Context, req *rpc.SignUpRequest) (*rpc.AuthResponse, error) {
	tok, acc, err := s.identity.SignUp(ctx, req.Registration)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return authResponse(tok, acc), nil
}

// SignIn authenticates a subject and returns an access token.
func (s *Server) SignIn(ctx context.Context, req *rpc.SignInRequest) (*rpc.AuthResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "empty email/password")
	}
	tok, acc, err := s.identity.SignIn(ctx, req.Email, req.Password, remoteIP(ctx))
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return authResponse(tok, acc), nil
}

// SignOut acknowledges the end of a session. Tokens are stateless and simply expire.
func (s *Server) SignOut(ctx context.Context, _ *rpc.Empty) (*rpc.Empty, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	s.log.Debug("sign out", zap.String("subject", p.Subject.String()))
	return &rpc.Empty{}, nil
}

// Reauthenticate re-verifies the password of the caller.
func (s *Server) Reauthenticate(ctx context.Context, req *rpc.ReauthenticateRequest) (*rpc.AuthResponse, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	tok, err := s.identity.Reauthenticate(ctx, p.Subject, req.Password)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	acc, err := s.identity.Account(ctx, p.Subject)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return authResponse(tok, acc), nil
}

// RequestEmailChange records a pending email for the caller.
func (s *Server) RequestEmailChange(ctx context.Context, req *rpc.RequestEmailChangeRequest) (*rpc.Empty, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.identity.RequestEmailChange(ctx, p.Subject, p.AuthTime, req.NewEmail); err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &rpc.Empty{}, nil
}

// UpdateAccount changes display name and photo URL of the caller.
func (s *Server) UpdateAccount(ctx context.Context, req *rpc.UpdateAccountRequest) (*rpc.AccountResponse, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	acc, err := s.identity.UpdateAccount(ctx, p.Subject, req.Patch)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return accountResponse(acc), nil
}

// GetAccount returns the caller's account.
func (s *Server) GetAccount(ctx context.Context, _ *rpc.Empty) (*rpc.AccountResponse, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	acc, err := s.identity.Account(ctx, p.Subject)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return accountResponse(acc), nil
}

// --- Documents ---

// GetDocument returns one document of the caller.
func (s *Server) GetDocument(ctx context.Context, req *rpc.GetDocumentRequest) (*rpc.DocumentResponse, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := s.docs.Get(ctx, p.Subject, req.Path)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &rpc.DocumentResponse{Snapshot: snap}, nil
}

// SetDocument replaces or merges one document of the caller.
func (s *Server) SetDocument(ctx context.Context, req *rpc.SetDocumentRequest) (*rpc.DocumentResponse, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := s.docs.Set(ctx, p.Subject, req.Path, req.Data, req.Merge)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &rpc.DocumentResponse{Snapshot: snap}, nil
}

// DeleteDocument removes one document of the caller.
func (s *Server) DeleteDocument(ctx context.Context, req *rpc.DeleteDocumentRequest) (*rpc.Empty, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.docs.Delete(ctx, p.Subject, req.Path); err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &rpc.Empty{}, nil
}

// QueryDocuments lists a collection of the caller.
func (s *Server) QueryDocuments(ctx context.Context, req *rpc.QueryDocumentsRequest) (*rpc.QueryDocumentsResponse, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := s.docs.Query(ctx, p.Subject, req.Collection, req.Filters, req.Order)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &rpc.QueryDocumentsResponse{Documents: docs}, nil
}

// WatchDocument streams snapshots of one document until the client goes away.
func (s *Server) WatchDocument(req *rpc.WatchDocumentRequest, stream rpc.WatchDocumentServer) error {
	ctx := stream.Context()
	p, err := s.principal(ctx)
	if err != nil {
		return err
	}
	err = s.docs.Watch(ctx, p.Subject, req.Path, func(snap model.Snapshot) error {
		return stream.Send(&rpc.DocumentResponse{Snapshot: snap})
	})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return rpc.ToStatus(err)
}

// principal returns the caller placed in ctx by the auth interceptor, or verifies the bearer
// token directly when the server runs without interceptors.
func (s *Server) principal(ctx context.Context) (Principal, error) {
	if p, ok := PrincipalFromCtx(ctx); ok {
		return p, nil
	}
	p, err := authenticate(ctx, s.tokens)
	if err != nil {
		return Principal{}, status.Error(codes.Unauthenticated, "no auth")
	}
	return p, nil
}

// authenticate extracts "authorization: Bearer <JWT>", verifies it and returns the caller.
func authenticate(ctx context.Context, tokens *token.Issuer) (Principal, error) {
	if tokens == nil {
		return Principal{}, errors.New("no token issuer")
	}
	raw, err := bearerTokenFromMD(ctx)
	if err != nil {
		return Principal{}, err
	}
	claims, err := tokens.Parse(raw)
	if err != nil {
		return Principal{}, err
	}
	id, err := claims.SubjectID()
	if err != nil || id == uuid.Nil {
		return Principal{}, errors.New("bad subject")
	}
	return Principal{Subject: id, AuthTime: claims.AuthenticatedAt()}, nil
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}
