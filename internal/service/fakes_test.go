package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/limiter"
	"github.com/and161185/fitsync/internal/model"
	"github.com/and161185/fitsync/internal/repository"
)

type fakeAccounts struct {
	byEmail map[string]*model.Account

	createErr  error
	getErr     error
	pendingErr error
}

var _ repository.AccountRepository = (*fakeAccounts)(nil)

func newFakeAccounts() *fakeAccounts { return &fakeAccounts{byEmail: map[string]*model.Account{}} }

func (f *fakeAccounts) Create(_ context.Context, a *model.Account) error {
	if f.createErr != nil {
		return f.createErr
	}
	key := strings.ToLower(a.Email)
	if _, exists := f.byEmail[key]; exists {
		return errs.ErrEmailAlreadyInUse
	}
	cpy := *a
	f.byEmail[key] = &cpy
	return nil
}

func (f *fakeAccounts) GetByID(_ context.Context, id uuid.UUID) (*model.Account, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, a := range f.byEmail {
		if a.ID == id {
			c := *a
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeAccounts) GetByEmail(_ context.Context, email string) (*model.Account, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	a, ok := f.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (f *fakeAccounts) UpdateProfile(_ context.Context, id uuid.UUID, p model.AccountPatch) (*model.Account, error) {
	for _, a := range f.byEmail {
		if a.ID == id {
			if p.DisplayName != nil {
				a.DisplayName = *p.DisplayName
			}
			if p.PhotoURL != nil {
				a.PhotoURL = *p.PhotoURL
			}
			c := *a
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeAccounts) SetPendingEmail(_ context.Context, id uuid.UUID, email string) error {
	if f.pendingErr != nil {
		return f.pendingErr
	}
	for _, a := range f.byEmail {
		if a.ID == id {
			a.PendingEmail = email
			return nil
		}
	}
	return errs.ErrNotFound
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}

func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}

func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

// fakeDocs is an in-memory DocumentRepository.
type fakeDocs struct {
	mu     sync.Mutex
	docs   map[string]repository.DocumentWrite
	setErr error
	now    time.Time
}

var _ repository.DocumentRepository = (*fakeDocs)(nil)

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: map[string]repository.DocumentWrite{}, now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeDocs) snap(w repository.DocumentWrite) model.Snapshot {
	return model.Snapshot{Path: w.Path, ID: w.ID, Exists: true, Data: w.Data.Clone(), CreatedAt: f.now, UpdatedAt: f.now}
}

func (f *fakeDocs) Get(_ context.Context, path string) (model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.docs[path]
	if !ok {
		return model.Snapshot{}, errs.ErrNotFound
	}
	return f.snap(w), nil
}

func (f *fakeDocs) Set(_ context.Context, w repository.DocumentWrite) (model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return model.Snapshot{}, f.setErr
	}
	if old, ok := f.docs[w.Path]; ok && w.Merge {
		w.Data = old.Data.Merge(w.Data)
	}
	f.docs[w.Path] = w
	return f.snap(w), nil
}

func (f *fakeDocs) Delete(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.docs[path]
	delete(f.docs, path)
	return ok, nil
}

func (f *fakeDocs) Query(_ context.Context, q repository.DocumentQuery) ([]model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Snapshot{}
	for _, w := range f.docs {
		if w.Owner == q.Owner && w.Collection == q.Collection {
			out = append(out, f.snap(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	signIns []string
	writes  []string
}

func (o *recordingObserver) SignIn(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.signIns = append(o.signIns, result)
}

func (o *recordingObserver) DocumentWrite(kind string, merge bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if merge {
		kind += "+merge"
	}
	o.writes = append(o.writes, kind)
}
