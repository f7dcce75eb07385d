package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/fitsync/internal/docstore"
	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/model"
	"github.com/and161185/fitsync/internal/notify"
	"github.com/and161185/fitsync/internal/state"
)

type fakeProvider struct {
	mu       sync.Mutex
	cbs      map[int]func(*model.Identity)
	nextID   int
	current  *model.Identity
	accounts map[string]fakeAccount

	signOutErr error
	reauthErr  error
	changeErr  error
	updates    []model.AccountPatch
	changes    []string
	signOuts   int
}

type fakeAccount struct {
	password string
	id       model.Identity
}

var _ Provider = (*fakeProvider)(nil)

func newFakeProvider() *fakeProvider {
	return &fakeProvider{cbs: map[int]func(*model.Identity){}, accounts: map[string]fakeAccount{}}
}

func (f *fakeProvider) add(email, password, subject string) model.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := model.Identity{SubjectID: subject, Email: email}
	f.accounts[email] = fakeAccount{password: password, id: id}
	return id
}

func (f *fakeProvider) OnSessionChanged(fn func(*model.Identity)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.cbs[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.cbs, id)
		f.mu.Unlock()
	}
}

// emit delivers a transition to every callback unless it repeats the current state.
func (f *fakeProvider) emit(id *model.Identity) {
	f.mu.Lock()
	if (id == nil && f.current == nil) || (id != nil && f.current != nil && *id == *f.current) {
		f.mu.Unlock()
		return
	}
	f.current = id
	cbs := make([]func(*model.Identity), 0, len(f.cbs))
	for i := 0; i < f.nextID; i++ {
		if cb, ok := f.cbs[i]; ok {
			cbs = append(cbs, cb)
		}
	}
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(id)
	}
}

func (f *fakeProvider) SignIn(_ context.Context, email, password string) (model.Identity, error) {
	f.mu.Lock()
	acc, ok := f.accounts[email]
	f.mu.Unlock()
	if !ok || acc.password != password {
		return model.Identity{}, errs.ErrInvalidCredentials
	}
	id := acc.id
	f.emit(&id)
	return id, nil
}

func (f *fakeProvider) SignUp(_ context.Context, reg model.Registration) (model.Identity, error) {
	f.mu.Lock()
	if _, ok := f.accounts[reg.Email]; ok {
		f.mu.Unlock()
		return model.Identity{}, errs.ErrEmailAlreadyInUse
	}
	id := model.Identity{SubjectID: "u-" + strings.SplitN(reg.Email, "@", 2)[0], Email: reg.Email}
	f.accounts[reg.Email] = fakeAccount{password: reg.Password, id: id}
	f.mu.Unlock()
	f.emit(&id)
	return id, nil
}

func (f *fakeProvider) SignOut(context.Context) error {
	f.mu.Lock()
	f.signOuts++
	err := f.signOutErr
	f.mu.Unlock()
	f.emit(nil)
	return err
}

func (f *fakeProvider) UpdateAccount(_ context.Context, p model.AccountPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, p)
	return nil
}

func (f *fakeProvider) Reauthenticate(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reauthErr
}

func (f *fakeProvider) RequestEmailChange(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.changeErr != nil {
		return f.changeErr
	}
	f.changes = append(f.changes, email)
	return nil
}

// gatedBackend blocks Get and Set on gated paths until released or the caller's context ends.
type gatedBackend struct {
	docstore.Backend

	mu      sync.Mutex
	gates   map[string]chan struct{}
	entered chan string
}

func newGatedBackend(b docstore.Backend) *gatedBackend {
	return &gatedBackend{Backend: b, gates: map[string]chan struct{}{}, entered: make(chan string, 16)}
}

func (g *gatedBackend) gate(path string) (release func()) {
	ch := make(chan struct{})
	g.mu.Lock()
	g.gates[path] = ch
	g.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.gates, path)
			g.mu.Unlock()
			close(ch)
		})
	}
}

func (g *gatedBackend) Get(ctx context.Context, path string) (model.Snapshot, error) {
	g.mu.Lock()
	ch := g.gates[path]
	g.mu.Unlock()
	if ch != nil {
		g.entered <- path
		select {
		case <-ch:
		case <-ctx.Done():
			return model.Snapshot{}, ctx.Err()
		}
	}
	return g.Backend.Get(ctx, path)
}

func (g *gatedBackend) Set(ctx context.Context, path string, data model.Document, merge bool) error {
	g.mu.Lock()
	ch := g.gates[path]
	g.mu.Unlock()
	if ch != nil {
		g.entered <- path
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return g.Backend.Set(ctx, path, data, merge)
}

// faultyBackend fails selected operations.
type faultyBackend struct {
	docstore.Backend

	mu       sync.Mutex
	getErr   error
	setErr   error
	queryErr error
	calls    int
}

func (f *faultyBackend) count() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *faultyBackend) Get(ctx context.Context, path string) (model.Snapshot, error) {
	f.count()
	f.mu.Lock()
	err := f.getErr
	f.mu.Unlock()
	if err != nil {
		return model.Snapshot{}, err
	}
	return f.Backend.Get(ctx, path)
}

func (f *faultyBackend) Set(ctx context.Context, path string, data model.Document, merge bool) error {
	f.count()
	if f.setErr != nil {
		return f.setErr
	}
	return f.Backend.Set(ctx, path, data, merge)
}

func (f *faultyBackend) Query(ctx context.Context, c string, fs []model.Filter, o model.OrderBy) ([]model.Snapshot, error) {
	f.count()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.Backend.Query(ctx, c, fs, o)
}

func (f *faultyBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	mgr      *Manager
	store    *state.Store
	provider *fakeProvider
	mem      *docstore.MemoryBackend
	notes    *notify.Recorder
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, backend func(*docstore.MemoryBackend) docstore.Backend, opts Options) *harness {
	t.Helper()
	mem := docstore.NewMemoryBackend()
	var b docstore.Backend = mem
	if backend != nil {
		b = backend(mem)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	store := state.New()
	prov := newFakeProvider()
	notes := &notify.Recorder{}
	log := zaptest.NewLogger(t)
	mgr := New(Deps{
		Store:    store,
		Docs:     docstore.New(b, store, log),
		Provider: prov,
		Notifier: notes,
		Log:      log,
	}, opts)
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(mgr.Close)
	return &harness{mgr: mgr, store: store, provider: prov, mem: mem, notes: notes}
}

// seed stores a profile and settings for subject straight in the backend.
func (h *harness) seed(t *testing.T, subject string, profile model.Document) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.mem.Set(ctx, "users/"+subject, profile, false))
	require.NoError(t, h.mem.Set(ctx, "users/"+subject+"/settings/measurements", model.Document{"height": "cm", "weight": "kg"}, false))
	require.NoError(t, h.mem.Set(ctx, "users/"+subject+"/settings/preferences", model.Document{"language": "es"}, false))
}

func (h *harness) kinds() []notify.Kind {
	var out []notify.Kind
	for _, e := range h.notes.Entries() {
		out = append(out, e.Kind)
	}
	return out
}

func (h *harness) titles() []string {
	var out []string
	for _, e := range h.notes.Entries() {
		out = append(out, e.Title)
	}
	return out
}
