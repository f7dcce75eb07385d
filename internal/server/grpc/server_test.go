package grpcserver

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/model"
	"github.com/and161185/fitsync/internal/rpc"
	"github.com/and161185/fitsync/internal/service"
	"github.com/and161185/fitsync/internal/token"
)

type fakeIdentity struct {
	tokens *token.Issuer
	acc    model.Account

	mu        sync.Mutex
	lastIP    string
	lastAuth  time.Time
	lastEmail string
}

var _ service.IdentityService = (*fakeIdentity)(nil)

func (f *fakeIdentity) SignUp(_ context.Context, in model.Registration) (model.Tokens, model.Account, error) {
	if in.Email == f.acc.Email {
		return model.Tokens{}, model.Account{}, errs.ErrEmailAlreadyInUse
	}
	tok, err := f.tokens.Issue(f.acc.ID, time.Now())
	return tok, model.Account{ID: f.acc.ID, Email: in.Email}, err
}

func (f *fakeIdentity) SignIn(_ context.Context, email, password, ip string) (model.Tokens, model.Account, error) {
	f.mu.Lock()
	f.lastIP = ip
	f.mu.Unlock()
	if email != f.acc.Email || password != "correct-horse" {
		return model.Tokens{}, model.Account{}, errs.ErrInvalidCredentials
	}
	tok, err := f.tokens.Issue(f.acc.ID, time.Now())
	return tok, f.acc, err
}

func (f *fakeIdentity) Reauthenticate(_ context.Context, subject uuid.UUID, password string) (model.Tokens, error) {
	if password != "correct-horse" {
		return model.Tokens{}, errs.ErrInvalidCredentials
	}
	return f.tokens.Issue(subject, time.Now())
}

func (f *fakeIdentity) RequestEmailChange(_ context.Context, _ uuid.UUID, authTime time.Time, newEmail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAuth = authTime
	f.lastEmail = newEmail
	if time.Since(authTime) > 5*time.Minute {
		return errs.ErrRequiresReauthentication
	}
	return nil
}

func (f *fakeIdentity) UpdateAccount(_ context.Context, _ uuid.UUID, patch model.AccountPatch) (model.Account, error) {
	acc := f.acc
	if patch.DisplayName != nil {
		acc.DisplayName = *patch.DisplayName
	}
	return acc, nil
}

func (f *fakeIdentity) Account(_ context.Context, subject uuid.UUID) (model.Account, error) {
	if subject != f.acc.ID {
		return model.Account{}, errs.ErrNotFound
	}
	return f.acc, nil
}

type fakeDocs struct {
	mu   sync.Mutex
	docs map[string]model.Document
}

var _ service.DocumentService = (*fakeDocs)(nil)

func (f *fakeDocs) Get(_ context.Context, _ uuid.UUID, path string) (model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[path]
	if !ok {
		return model.Snapshot{}, errs.ErrNotFound
	}
	return model.Snapshot{Path: path, Exists: true, Data: d}, nil
}

func (f *fakeDocs) Set(_ context.Context, subject uuid.UUID, path string, data model.Document, merge bool) (model.Snapshot, error) {
	if path != "users/"+subject.String() {
		return model.Snapshot{}, errs.ErrPermissionDenied
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if merge {
		data = f.docs[path].Merge(data)
	}
	f.docs[path] = data
	return model.Snapshot{Path: path, Exists: true, Data: data}, nil
}

func (f *fakeDocs) Delete(_ context.Context, _ uuid.UUID, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, path)
	return nil
}

func (f *fakeDocs) Query(context.Context, uuid.UUID, string, []model.Filter, model.OrderBy) ([]model.Snapshot, error) {
	return nil, errs.Validation("filters", "unsupported")
}

func (f *fakeDocs) Watch(ctx context.Context, _ uuid.UUID, path string, fn func(model.Snapshot) error) error {
	if err := fn(model.Snapshot{Path: path, Exists: false}); err != nil {
		return err
	}
	if err := fn(model.Snapshot{Path: path, Exists: true, Data: model.Document{"n": 1}}); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

type countingObserver struct {
	mu    sync.Mutex
	calls map[string]int
}

func (o *countingObserver) ObserveRPC(method, code string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[method+" "+code]++
}

func (o *countingObserver) count(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[key]
}

const bufSize = 1 << 20

type fixture struct {
	client   *rpc.Client
	identity *fakeIdentity
	docs     *fakeDocs
	obs      *countingObserver
	tokens   *token.Issuer
}

func startBufGRPC(t *testing.T) *fixture {
	t.Helper()
	tokens := token.NewIssuer(testKey, time.Hour, nil)
	f := &fixture{
		identity: &fakeIdentity{tokens: tokens, acc: model.Account{ID: uuid.Must(uuid.NewV4()), Email: "ana@example.com", DisplayName: "Ana"}},
		docs:     &fakeDocs{docs: map[string]model.Document{}},
		obs:      &countingObserver{calls: map[string]int{}},
		tokens:   tokens,
	}
	log := zaptest.NewLogger(t)
	srv := New(f.identity, f.docs, tokens, log)

	lis := bufconn.Listen(bufSize)
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(RecoverUnary(log), MetricsUnary(f.obs), LoggingUnary(log), AuthUnary(tokens, rpc.PublicMethods)),
		grpc.ChainStreamInterceptor(RecoverStream(log), MetricsStream(f.obs), LoggingStream(log), AuthStream(tokens, rpc.PublicMethods)),
	)
	rpc.RegisterFitSyncServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })
	f.client = rpc.NewClient(cc)
	return f
}

func bearer(ctx context.Context, tok string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)
}

func TestServer_E2E_SignInAndDocuments(t *testing.T) {
	t.Parallel()
	f := startBufGRPC(t)
	ctx := context.Background()

	_, err := f.client.SignIn(ctx, &rpc.SignInRequest{Email: "ana@example.com", Password: "wrong"})
	require.ErrorIs(t, err, errs.ErrInvalidCredentials)

	res, err := f.client.SignIn(ctx, &rpc.SignInRequest{Email: "ana@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	require.Equal(t, f.identity.acc.ID.String(), res.Account.SubjectID)
	require.NotEmpty(t, res.AccessToken)
	f.identity.mu.Lock()
	require.NotEmpty(t, f.identity.lastIP)
	f.identity.mu.Unlock()

	_, err = f.client.GetAccount(ctx)
	require.ErrorIs(t, err, errs.ErrUnauthenticated)

	authed := bearer(ctx, res.AccessToken)
	acc, err := f.client.GetAccount(authed)
	require.NoError(t, err)
	require.Equal(t, "Ana", acc.Account.DisplayName)

	path := "users/" + f.identity.acc.ID.String()
	_, err = f.client.GetDocument(authed, &rpc.GetDocumentRequest{Path: path})
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.client.SetDocument(authed, &rpc.SetDocumentRequest{Path: path, Data: model.Document{"age": 30}})
	require.NoError(t, err)
	got, err := f.client.SetDocument(authed, &rpc.SetDocumentRequest{Path: path, Data: model.Document{"sex": "female"}, Merge: true})
	require.NoError(t, err)
	require.Equal(t, "female", got.Snapshot.Data["sex"])
	require.Equal(t, float64(30), got.Snapshot.Data["age"])

	_, err = f.client.SetDocument(authed, &rpc.SetDocumentRequest{Path: "users/someone-else", Data: model.Document{"age": 1}})
	require.ErrorIs(t, err, errs.ErrPermissionDenied)

	_, err = f.client.QueryDocuments(authed, &rpc.QueryDocumentsRequest{Collection: path + "/settings"})
	require.ErrorIs(t, err, errs.ErrValidation)

	require.NoError(t, f.client.DeleteDocument(authed, &rpc.DeleteDocumentRequest{Path: path}))
	require.NoError(t, f.client.SignOut(authed))

	require.Equal(t, 1, f.obs.count(rpc.MethodSignIn+" Unauthenticated"))
	require.Equal(t, 1, f.obs.count(rpc.MethodSignIn+" OK"))
	require.Equal(t, 1, f.obs.count(rpc.MethodGetAccount+" Unauthenticated"))
}

func TestServer_E2E_EmailChangeUsesTokenAuthTime(t *testing.T) {
	t.Parallel()
	f := startBufGRPC(t)
	ctx := context.Background()

	stale := issue(t, f.tokens, f.identity.acc.ID, time.Now().Add(-time.Hour))
	err := f.client.RequestEmailChange(bearer(ctx, stale), &rpc.RequestEmailChangeRequest{NewEmail: "new@example.com"})
	require.ErrorIs(t, err, errs.ErrRequiresReauthentication)

	_, err = f.client.Reauthenticate(bearer(ctx, stale), &rpc.ReauthenticateRequest{Password: "nope"})
	require.ErrorIs(t, err, errs.ErrInvalidCredentials)

	fresh, err := f.client.Reauthenticate(bearer(ctx, stale), &rpc.ReauthenticateRequest{Password: "correct-horse"})
	require.NoError(t, err)
	require.NoError(t, f.client.RequestEmailChange(bearer(ctx, fresh.AccessToken), &rpc.RequestEmailChangeRequest{NewEmail: "new@example.com"}))

	f.identity.mu.Lock()
	defer f.identity.mu.Unlock()
	require.Equal(t, "new@example.com", f.identity.lastEmail)
	require.WithinDuration(t, time.Now(), f.identity.lastAuth, time.Minute)
}

func TestServer_E2E_WatchDocument(t *testing.T) {
	t.Parallel()
	f := startBufGRPC(t)
	tok := issue(t, f.tokens, f.identity.acc.ID, time.Now())

	ctx, cancel := context.WithCancel(bearer(context.Background(), tok))
	defer cancel()
	stream, err := f.client.WatchDocument(ctx, &rpc.WatchDocumentRequest{Path: "users/x"})
	require.NoError(t, err)

	first, err := stream.Recv()
	require.NoError(t, err)
	require.False(t, first.Snapshot.Exists)
	second, err := stream.Recv()
	require.NoError(t, err)
	require.True(t, second.Snapshot.Exists)

	cancel()
	_, err = stream.Recv()
	require.Error(t, err)
	require.NotErrorIs(t, err, io.EOF)
}

func TestServer_E2E_WatchRequiresAuth(t *testing.T) {
	t.Parallel()
	f := startBufGRPC(t)

	stream, err := f.client.WatchDocument(context.Background(), &rpc.WatchDocumentRequest{Path: "users/x"})
	require.NoError(t, err)
	_, err = stream.Recv()
	require.ErrorIs(t, err, errs.ErrUnauthenticated)
}
