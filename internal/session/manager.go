// Package session is the session/profile state machine.
//
// A single worker goroutine consumes session-change events in the order the provider reported them and
// runs the fetch-after-login and clear-after-logout protocol against the state.Store. Every event carries a
// sequence token; a newer event cancels the in-flight one, and results computed for a token that is no
// longer current are dropped before they reach the Store.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/fitsync/internal/docstore"
	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/model"
	"github.com/and161185/fitsync/internal/notify"
	"github.com/and161185/fitsync/internal/state"
)

// ErrNotRunning is returned by operations that need the worker when Start was not called or Close was.
var ErrNotRunning = errors.New("session manager not running")

// ErrSuperseded is returned by Login, Register and Reload when a newer session change replaced the session
// before its hydration finished.
var ErrSuperseded = errors.New("session changed before hydration finished")

// keptOutcomes bounds how many finished session events keep their result for waiting callers.
const keptOutcomes = 64

// MissingProfilePolicy decides what hydration does when the subject has no profile document.
type MissingProfilePolicy int

const (
	// MissingProfileCreate writes a blank profile and continues to Ready.
	MissingProfileCreate MissingProfilePolicy = iota
	// MissingProfileSignOut treats the subject as unauthenticated and signs out.
	MissingProfileSignOut
)

// Options tune the Manager. The zero value is usable.
type Options struct {
	MissingProfile MissingProfilePolicy
	// Live keeps a subscription on the profile document while Ready and re-projects remote changes.
	Live bool
	Now  func() time.Time
}

// Deps are the Manager's collaborators. Store, Docs and Provider are required.
type Deps struct {
	Store    *state.Store
	Docs     *docstore.Gateway
	Provider Provider
	Notifier notify.Notifier
	Log      *zap.Logger
}

type eventKind int

const (
	evSignedIn eventKind = iota
	evSignedOut
	evReload
	evBarrier
)

type event struct {
	kind eventKind
	seq  uint64
	id   model.Identity
	done chan struct{}
}

// outcome is the result of one handled session event.
type outcome struct {
	kind    eventKind
	subject string
	err     error
}

// Manager owns the session, profile and settings slots of a Store.
type Manager struct {
	store    *state.Store
	docs     *docstore.Gateway
	provider Provider
	notifier notify.Notifier
	log      *zap.Logger
	opts     Options

	seq atomic.Uint64

	mu          sync.Mutex
	queue       []event
	wake        chan struct{}
	inflight    context.CancelFunc
	outcomes    map[uint64]outcome
	running     bool
	root        context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()

	// reference counts behind the loading flags, guarded by mu; the flags only ever mirror them
	loadingProfile  int
	loadingSettings int

	// owned by the worker
	stopLive func()
}

// New wires a Manager. Call Start before use.
func New(d Deps, opts Options) *Manager {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Notifier == nil {
		d.Notifier = notify.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:    d.Store,
		docs:     d.Docs,
		provider: d.Provider,
		notifier: d.Notifier,
		log:      d.Log,
		opts:     opts,
		wake:     make(chan struct{}, 1),
		outcomes: map[uint64]outcome{},
	}
}

// Store returns the observed state container.
func (m *Manager) Store() *state.Store { return m.store }

// Start subscribes to the provider and launches the worker. The worker stops when ctx ends or Close is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running || m.done != nil {
		m.mu.Unlock()
		return errors.New("session manager already started")
	}
	m.root, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.running = true
	m.mu.Unlock()

	unsub := m.provider.OnSessionChanged(m.onSessionChanged)
	m.mu.Lock()
	m.unsubscribe = unsub
	m.mu.Unlock()

	go m.run(m.root)
	return nil
}

// Close stops the worker and waits for it. Pending Sync calls return ErrNotRunning.
func (m *Manager) Close() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	unsub, cancel, done := m.unsubscribe, m.cancel, m.done
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	cancel()
	<-done

	m.mu.Lock()
	for _, ev := range m.queue {
		if ev.done != nil {
			close(ev.done)
		}
	}
	m.queue = nil
	m.mu.Unlock()
}

func (m *Manager) onSessionChanged(id *model.Identity) {
	if id == nil {
		m.enqueue(event{kind: evSignedOut})
		return
	}
	m.enqueue(event{kind: evSignedIn, id: *id})
}

// enqueue appends ev and, for session events, issues a new sequence token and cancels the in-flight event.
func (m *Manager) enqueue(ev event) bool {
	_, ok := m.submit(ev)
	return ok
}

// submit is enqueue that also reports the sequence token given to ev.
func (m *Manager) submit(ev event) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return 0, false
	}
	if ev.kind != evBarrier {
		ev.seq = m.seq.Add(1)
		if m.inflight != nil {
			m.inflight()
		}
	}
	m.queue = append(m.queue, ev)
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return ev.seq, true
}

func (m *Manager) next(ctx context.Context) (event, bool) {
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			ev := m.queue[0]
			m.queue[0] = event{}
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return ev, true
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return event{}, false
		case <-m.wake:
		}
	}
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	defer m.stopLiveSub()

	for {
		ev, ok := m.next(ctx)
		if !ok {
			return
		}
		m.handle(ctx, ev)
	}
}

func (m *Manager) handle(ctx context.Context, ev event) {
	if ev.kind == evBarrier {
		close(ev.done)
		return
	}

	evCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.seq.Load() != ev.seq {
		m.mu.Unlock()
		m.log.Debug("superseded session event dropped", zap.Uint64("seq", ev.seq))
		return
	}
	m.inflight = cancel
	m.mu.Unlock()

	var err error
	switch ev.kind {
	case evSignedIn:
		err = m.signedIn(evCtx, ev.seq, ev.id)
	case evSignedOut:
		m.signedOut(ev.seq)
	case evReload:
		err = m.hydrate(evCtx, ev.seq, ev.id)
	}

	m.mu.Lock()
	m.inflight = nil
	m.outcomes[ev.seq] = outcome{kind: ev.kind, subject: ev.id.SubjectID, err: err}
	if ev.seq > keptOutcomes {
		for seq := range m.outcomes {
			if seq <= ev.seq-keptOutcomes {
				delete(m.outcomes, seq)
			}
		}
	}
	m.mu.Unlock()
}

// current reports whether seq is still the newest session event.
func (m *Manager) current(seq uint64) bool { return m.seq.Load() == seq }

// commitIf applies fn only while seq is current and, when subject is set, the bound subject matches.
func (m *Manager) commitIf(seq uint64, subject string, fn func(tx *state.Tx)) bool {
	ok := false
	m.store.Commit(func(tx *state.Tx) {
		if !m.current(seq) {
			return
		}
		if subject != "" && tx.Snapshot().Session.Subject() != subject {
			return
		}
		ok = true
		fn(tx)
	})
	return ok
}

// commitFor applies fn only while subject is still bound.
func (m *Manager) commitFor(subject string, fn func(tx *state.Tx)) bool {
	ok := false
	m.store.Commit(func(tx *state.Tx) {
		if tx.Snapshot().Session.Subject() != subject {
			return
		}
		ok = true
		fn(tx)
	})
	return ok
}

func (m *Manager) signedOut(seq uint64) {
	m.stopLiveSub()
	m.commitIf(seq, "", m.clear)
	m.log.Debug("session cleared", zap.Uint64("seq", seq))
}

func (m *Manager) signedIn(ctx context.Context, seq uint64, id model.Identity) error {
	now := m.opts.Now()
	ok := m.commitIf(seq, "", func(tx *state.Tx) {
		cur := tx.Snapshot().Session
		if cur.Subject() != id.SubjectID {
			m.clear(tx)
		}
		if cur == nil || cur.Identity != id {
			tx.SetSession(&model.Session{Identity: id, StartedAt: now})
		}
		tx.SetPhase(state.Authenticating)
		tx.SetFetchingUser(true)
	})
	if !ok {
		return nil
	}
	m.log.Debug("session bound", zap.String("subject", id.SubjectID), zap.Uint64("seq", seq))
	return m.hydrate(ctx, seq, id)
}

// Sync waits until every session event queued before the call has been processed.
func (m *Manager) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if !m.enqueue(event{kind: evBarrier, done: done}) {
		return ErrNotRunning
	}
	m.mu.Lock()
	stopped := m.done
	m.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitSignIn waits for the sign-in of subject that the provider reported after token after and returns
// its hydration error. A sign-in that caused no transition settles on the current state.
func (m *Manager) awaitSignIn(ctx context.Context, after uint64, subject string) error {
	if err := m.Sync(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	var (
		found bool
		res   outcome
	)
	for seq := after + 1; seq <= m.seq.Load(); seq++ {
		o, ok := m.outcomes[seq]
		if ok && o.kind == evSignedIn && o.subject == subject {
			found, res = true, o
			delete(m.outcomes, seq)
			break
		}
	}
	m.mu.Unlock()
	return m.settled(found, res, subject)
}

// await waits for the event holding token seq and returns its hydration error.
func (m *Manager) await(ctx context.Context, seq uint64, subject string) error {
	if err := m.Sync(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	res, found := m.outcomes[seq]
	delete(m.outcomes, seq)
	m.mu.Unlock()
	return m.settled(found, res, subject)
}

func (m *Manager) settled(found bool, res outcome, subject string) error {
	if found && res.err != nil {
		return res.err
	}
	if m.store.Subject() != subject {
		return ErrSuperseded
	}
	return nil
}

// Reload re-runs hydration for the bound subject and waits for it.
func (m *Manager) Reload(ctx context.Context) error {
	sess := m.store.Session().Get()
	if !sess.Authenticated() {
		return errs.ErrUnauthenticated
	}
	seq, ok := m.submit(event{kind: evReload, id: sess.Identity})
	if !ok {
		return ErrNotRunning
	}
	return m.await(ctx, seq, sess.SubjectID)
}

func (m *Manager) stopLiveSub() {
	if m.stopLive != nil {
		m.stopLive()
		m.stopLive = nil
	}
}

// track bumps a loading counter and returns the matching release. The flag mirrors counter > 0.
func (m *Manager) track(counter *int, set func(tx *state.Tx, v bool)) (release func()) {
	m.store.Commit(func(tx *state.Tx) { m.adjust(tx, counter, 1, set) })

	var once sync.Once
	return func() {
		once.Do(func() {
			m.store.Commit(func(tx *state.Tx) { m.adjust(tx, counter, -1, set) })
		})
	}
}

// adjust moves counter by delta and mirrors it into the flag within tx.
func (m *Manager) adjust(tx *state.Tx, counter *int, delta int, set func(tx *state.Tx, v bool)) {
	m.mu.Lock()
	*counter += delta
	v := *counter > 0
	m.mu.Unlock()
	set(tx, v)
}

// clear resets the session slots. The loading flags keep following their counters, so work still in
// flight stays visible.
func (m *Manager) clear(tx *state.Tx) {
	tx.Clear()
	m.mu.Lock()
	profile, settings := m.loadingProfile > 0, m.loadingSettings > 0
	m.mu.Unlock()
	tx.SetLoadingProfile(profile)
	tx.SetLoadingSettings(settings)
}

// holds are the loading counters one hydration has bumped.
type holds struct {
	profile  bool
	settings bool
}

// hold brings h to the wanted profile and settings holds within tx.
func (m *Manager) hold(tx *state.Tx, h *holds, profile, settings bool) {
	if h.profile != profile {
		m.adjust(tx, &m.loadingProfile, step(profile), (*state.Tx).SetLoadingProfile)
		h.profile = profile
	}
	if h.settings != settings {
		m.adjust(tx, &m.loadingSettings, step(settings), (*state.Tx).SetLoadingSettings)
		h.settings = settings
	}
}

// drop releases whatever h still holds.
func (m *Manager) drop(h *holds) {
	if !h.profile && !h.settings {
		return
	}
	m.store.Commit(func(tx *state.Tx) { m.hold(tx, h, false, false) })
}

func step(up bool) int {
	if up {
		return 1
	}
	return -1
}
