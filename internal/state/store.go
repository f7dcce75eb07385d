// Package state is the process-wide state container observed by forms and the route guard.
//
// The Store owns the session, profile and settings slots plus the loading flags. Writers group
// changes into Commit calls; readers never observe a partially applied commit.
package state

import (
	"sync"

	"github.com/and161185/fitsync/internal/model"
)

// Phase is the session state machine's position.
type Phase int

const (
	Anonymous Phase = iota
	Authenticating
	Hydrating
	Ready
)

func (p Phase) String() string {
	switch p {
	case Anonymous:
		return "anonymous"
	case Authenticating:
		return "authenticating"
	case Hydrating:
		return "hydrating"
	case Ready:
		return "ready"
	}
	return "unknown"
}

// Store holds every slot. The zero value is not usable; call New.
type Store struct {
	mu       sync.RWMutex
	notifyMu sync.Mutex

	phase           *Slot[Phase]
	session         *Slot[*model.Session]
	profile         *Slot[*model.Profile]
	settings        *Slot[*model.Settings]
	authenticated   *Slot[bool]
	fetchingUser    *Slot[bool]
	loadingProfile  *Slot[bool]
	loadingSettings *Slot[bool]

	// notification order for a commit touching several slots
	order []dirty
}

type dirty interface{ capture() func() }

// New returns an anonymous, empty store.
func New() *Store {
	s := &Store{}
	s.phase = newSlot(s, Anonymous, eq[Phase])
	s.session = newSlot(s, (*model.Session)(nil), eq[*model.Session])
	s.profile = newSlot(s, (*model.Profile)(nil), eq[*model.Profile])
	s.settings = newSlot(s, (*model.Settings)(nil), eq[*model.Settings])
	s.authenticated = newSlot(s, false, eq[bool])
	s.fetchingUser = newSlot(s, false, eq[bool])
	s.loadingProfile = newSlot(s, false, eq[bool])
	s.loadingSettings = newSlot(s, false, eq[bool])
	s.order = []dirty{s.phase, s.session, s.authenticated, s.profile, s.settings, s.fetchingUser, s.loadingProfile, s.loadingSettings}
	return s
}

func (s *Store) Phase() *Slot[Phase] { return s.phase }
func (s *Store) Session() *Slot[*model.Session] { return s.session }
func (s *Store) Profile() *Slot[*model.Profile] { return s.profile }
func (s *Store) Settings() *Slot[*model.Settings] { return s.settings }

// Authenticated is derived from the session slot.
func (s *Store) Authenticated() *Slot[bool] { return s.authenticated }
func (s *Store) FetchingUser() *Slot[bool] { return s.fetchingUser }
func (s *Store) LoadingProfile() *Slot[bool] { return s.loadingProfile }
func (s *Store) LoadingSettings() *Slot[bool] { return s.loadingSettings }

// Subject returns the live session's subject, "" when anonymous.
func (s *Store) Subject() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.value.Subject()
}

// Snapshot is a consistent copy of every slot.
type Snapshot struct {
	Phase           Phase
	Session         *model.Session
	Profile         *model.Profile
	Settings        *model.Settings
	FetchingUser    bool
	LoadingProfile  bool
	LoadingSettings bool
}

// Authenticated reports whether a subject is bound.
func (s Snapshot) Authenticated() bool { return s.Session.Authenticated() }

// Snapshot reads every slot under one lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Phase:           s.phase.value,
		Session:         s.session.value,
		Profile:         s.profile.value,
		Settings:        s.settings.value,
		FetchingUser:    s.fetchingUser.value,
		LoadingProfile:  s.loadingProfile.value,
		LoadingSettings: s.loadingSettings.value,
	}
}

// Commit applies fn atomically, then notifies listeners of every changed slot in a fixed slot order.
// Commits are notified in the order they were applied.
func (s *Store) Commit(fn func(tx *Tx)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	tx := &Tx{s: s, changed: map[dirty]bool{}}
	fn(tx)
	if tx.changed[s.session] {
		if s.authenticated.set(s.session.value.Authenticated()) {
			tx.changed[s.authenticated] = true
		}
	}
	var notes []func()
	for _, d := range s.order {
		if tx.changed[d] {
			notes = append(notes, d.capture())
		}
	}
	s.mu.Unlock()

	for _, n := range notes {
		n()
	}
}

// Tx is the write handle passed to Commit. It is only valid inside the Commit callback.
type Tx struct {
	s       *Store
	changed map[dirty]bool
}

func mark[T any](tx *Tx, sl *Slot[T], v T) {
	if sl.set(v) {
		tx.changed[sl] = true
	}
}

// Snapshot reads the state as modified so far by this transaction.
func (tx *Tx) Snapshot() Snapshot { return tx.s.snapshotLocked() }

func (tx *Tx) SetPhase(p Phase) { mark(tx, tx.s.phase, p) }
func (tx *Tx) SetSession(v *model.Session) { mark(tx, tx.s.session, v) }
func (tx *Tx) SetProfile(v *model.Profile) { mark(tx, tx.s.profile, v) }
func (tx *Tx) SetSettings(v *model.Settings) { mark(tx, tx.s.settings, v) }
func (tx *Tx) SetFetchingUser(v bool) { mark(tx, tx.s.fetchingUser, v) }
func (tx *Tx) SetLoadingProfile(v bool) { mark(tx, tx.s.loadingProfile, v) }
func (tx *Tx) SetLoadingSettings(v bool) { mark(tx, tx.s.loadingSettings, v) }

// UpdateProfile replaces the profile with a modified copy. It starts from an empty profile when none is set.
func (tx *Tx) UpdateProfile(fn func(p *model.Profile)) {
	var next model.Profile
	if cur := tx.s.profile.value; cur != nil {
		next = *cur
	}
	fn(&next)
	tx.SetProfile(&next)
}

// UpdateSettings replaces the settings with a modified copy.
func (tx *Tx) UpdateSettings(fn func(st *model.Settings)) {
	var next model.Settings
	if cur := tx.s.settings.value; cur != nil {
		next = *cur
	}
	fn(&next)
	tx.SetSettings(&next)
}

// Clear resets the session, profile and settings slots and all flags to their anonymous values.
func (tx *Tx) Clear() {
	tx.SetPhase(Anonymous)
	tx.SetSession(nil)
	tx.SetProfile(nil)
	tx.SetSettings(nil)
	tx.SetFetchingUser(false)
	tx.SetLoadingProfile(false)
	tx.SetLoadingSettings(false)
}
