package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/fitsync/internal/docstore"
	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/model"
	"github.com/and161185/fitsync/internal/notify"
	"github.com/and161185/fitsync/internal/state"
)

// hydrate loads profile and settings for id and moves the machine to Ready. Errors are reported through the
// notifier and returned for the benefit of Login/Register; nothing is returned for superseded work.
func (m *Manager) hydrate(ctx context.Context, seq uint64, id model.Identity) error {
	subject := id.SubjectID
	docs := m.docs.As(subject)
	m.stopLiveSub()

	var h holds
	defer m.drop(&h)

	if !m.commitIf(seq, subject, func(tx *state.Tx) {
		tx.SetPhase(state.Hydrating)
		tx.SetFetchingUser(true)
		m.hold(tx, &h, true, false)
	}) {
		return nil
	}

	profile, err := m.loadProfile(ctx, seq, docs, id)
	if !m.current(seq) || ctx.Err() != nil {
		m.log.Debug("stale profile fetch dropped", zap.String("subject", subject), zap.Uint64("seq", seq))
		return nil
	}
	if err != nil {
		m.abandon(ctx, seq, &h, err)
		return err
	}

	if !m.commitIf(seq, subject, func(tx *state.Tx) {
		tx.SetProfile(profile)
		m.hold(tx, &h, false, true)
	}) {
		return nil
	}

	settings, serr := m.fetchSettings(ctx, docs)
	if !m.current(seq) || ctx.Err() != nil {
		return nil
	}
	if serr != nil {
		m.log.Warn("settings fetch failed", zap.String("subject", subject), zap.Error(serr))
		m.notifier.Notify(notify.Warning, "Settings unavailable", "Default units and language are in use.")
	}

	if !m.commitIf(seq, subject, func(tx *state.Tx) {
		if serr == nil {
			tx.SetSettings(&settings)
			tx.UpdateProfile(func(p *model.Profile) { p.Settings = settings })
		}
		m.hold(tx, &h, false, false)
		tx.SetFetchingUser(false)
		tx.SetPhase(state.Ready)
	}) {
		return nil
	}
	m.log.Debug("session ready", zap.String("subject", subject), zap.Uint64("seq", seq))

	if m.opts.Live {
		m.startLive(seq, docs, id)
	}
	return nil
}

var errNoProfile = fmt.Errorf("profile: %w", errs.ErrNotFound)

func (m *Manager) loadProfile(ctx context.Context, seq uint64, docs *docstore.Gateway, id model.Identity) (*model.Profile, error) {
	snap, err := docs.Read(ctx, "")
	switch {
	case errors.Is(err, errs.ErrNotFound):
		m.notifier.Notify(notify.Info, "No profile found", "")
		if m.opts.MissingProfile == MissingProfileSignOut {
			return nil, errNoProfile
		}
		if !m.current(seq) {
			return nil, ctx.Err()
		}
		data := blankProfile(id, m.opts.Now().UTC())
		if err := docs.Write(ctx, "", data, docstore.WriteOptions{Merge: false}); err != nil {
			return nil, fmt.Errorf("create profile: %w", err)
		}
		m.log.Info("blank profile created", zap.String("subject", id.SubjectID))
		return m.projectLogged(data, nil, id), nil
	case err != nil:
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return m.projectLogged(snap.Data, nil, id), nil
}

// abandon returns a failed hydration to Anonymous and ends the provider session so both sides agree.
func (m *Manager) abandon(ctx context.Context, seq uint64, h *holds, cause error) {
	if errors.Is(cause, errNoProfile) {
		m.log.Info("no profile, signing out", zap.Uint64("seq", seq))
	} else {
		m.log.Warn("hydration failed", zap.Uint64("seq", seq), zap.Error(cause))
		m.notifier.Notify(notify.Error, "Could not load your profile", cause.Error())
	}
	if !m.commitIf(seq, "", func(tx *state.Tx) {
		m.hold(tx, h, false, false)
		m.clear(tx)
	}) {
		return
	}
	if err := m.provider.SignOut(context.WithoutCancel(ctx)); err != nil {
		m.log.Warn("provider sign-out failed", zap.Error(err))
	}
}

func (m *Manager) projectLogged(data model.Document, base *model.Profile, id model.Identity) *model.Profile {
	p, err := project(data, base, id)
	if err != nil {
		m.log.Warn("profile fields skipped", zap.String("subject", id.SubjectID), zap.Error(err))
	}
	return p
}

func blankProfile(id model.Identity, now time.Time) model.Document {
	return model.Document{
		"uid":         id.SubjectID,
		"email":       id.Email,
		"displayName": id.DisplayName,
		"photoURL":    id.PhotoURL,
		"createdAt":   now,
		"updatedAt":   now,
	}
}

// startLive follows the profile document while seq is current.
func (m *Manager) startLive(seq uint64, docs *docstore.Gateway, id model.Identity) {
	m.mu.Lock()
	root := m.root
	m.mu.Unlock()

	stop, err := docs.Subscribe(root, "", func(snap model.Snapshot) { m.applyRemote(seq, id, snap) })
	if err != nil {
		m.log.Warn("profile subscription failed", zap.String("subject", id.SubjectID), zap.Error(err))
		return
	}
	m.stopLive = stop
}

func (m *Manager) applyRemote(seq uint64, id model.Identity, snap model.Snapshot) {
	if !snap.Exists {
		m.log.Info("profile document removed remotely", zap.String("subject", id.SubjectID))
		return
	}
	p := m.projectLogged(snap.Data, nil, id)
	m.commitIf(seq, id.SubjectID, func(tx *state.Tx) {
		cur := tx.Snapshot()
		if cur.Phase != state.Ready {
			return
		}
		if cur.Settings != nil {
			p.Settings = *cur.Settings
		} else if cur.Profile != nil {
			p.Settings = cur.Profile.Settings
		}
		if cur.Profile != nil && *cur.Profile == *p {
			return
		}
		tx.SetProfile(p)
	})
}
