package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/fitsync/internal/docstore"
	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/forms"
	"github.com/and161185/fitsync/internal/model"
	"github.com/and161185/fitsync/internal/notify"
	"github.com/and161185/fitsync/internal/state"
)

const settingsCollection = "settings"

// fetchSettings reads the settings collection and reduces it by sub-document id.
func (m *Manager) fetchSettings(ctx context.Context, docs *docstore.Gateway) (model.Settings, error) {
	var st model.Settings
	snaps, err := docs.ReadCollection(ctx, settingsCollection)
	if err != nil {
		return st, fmt.Errorf("fetch settings: %w", err)
	}
	for _, s := range snaps {
		switch s.ID {
		case model.SettingsMeasurements:
			err = decodeInto(s.Data, &st.Measurements)
		case model.SettingsPreferences:
			err = decodeInto(s.Data, &st.Preferences)
		default:
			m.log.Debug("unknown settings document ignored", zap.String("id", s.ID))
			continue
		}
		if err != nil {
			return model.Settings{}, fmt.Errorf("settings %s: %w", s.ID, err)
		}
	}
	return st, nil
}

// FetchSettings reloads the settings of the bound subject into the settings slot and the profile's copy.
// Failures are reported through the notifier and returned.
func (m *Manager) FetchSettings(ctx context.Context) error {
	subject := m.store.Subject()
	if subject == "" {
		return errs.ErrUnauthenticated
	}
	release := m.track(&m.loadingSettings, (*state.Tx).SetLoadingSettings)
	defer release()

	st, err := m.fetchSettings(ctx, m.docs.As(subject))
	if err != nil {
		m.notifier.Notify(notify.Warning, "Settings unavailable", err.Error())
		return err
	}
	m.commitFor(subject, func(tx *state.Tx) {
		tx.SetSettings(&st)
		if tx.Snapshot().Profile != nil {
			tx.UpdateProfile(func(p *model.Profile) { p.Settings = st })
		}
	})
	return nil
}

// UpdateUnits merge-writes the measurements sub-document and mirrors the units into both local copies.
func (m *Manager) UpdateUnits(ctx context.Context, u model.Units) error {
	if m.store.Subject() == "" {
		return errs.ErrUnauthenticated
	}
	if err := forms.ValidateUnits(u); err != nil {
		return err
	}
	now := m.opts.Now().UTC()
	data := model.Document{"updatedAt": now}
	if u.Height != "" {
		data["height"] = u.Height
	}
	if u.Weight != "" {
		data["weight"] = u.Weight
	}
	err := m.writeSettings(ctx, model.SettingsMeasurements, data, func(st *model.Settings) {
		if u.Height != "" {
			st.Measurements.Height = u.Height
		}
		if u.Weight != "" {
			st.Measurements.Weight = u.Weight
		}
		st.Measurements.UpdatedAt = now
	})
	if err != nil {
		m.notifier.Notify(notify.Error, "Units not saved", err.Error())
		return err
	}
	m.notifier.Notify(notify.Success, "Units updated", "")
	return nil
}

// UpdateLanguagePreference merge-writes the preferences sub-document and mirrors it into both local copies.
func (m *Manager) UpdateLanguagePreference(ctx context.Context, lang string) error {
	if m.store.Subject() == "" {
		return errs.ErrUnauthenticated
	}
	if err := forms.ValidateLanguage(lang); err != nil {
		return err
	}
	now := m.opts.Now().UTC()
	data := model.Document{"language": lang, "updatedAt": now}
	err := m.writeSettings(ctx, model.SettingsPreferences, data, func(st *model.Settings) {
		st.Preferences.Language = lang
		st.Preferences.UpdatedAt = now
	})
	if err != nil {
		m.notifier.Notify(notify.Error, "Language not saved", err.Error())
		return err
	}
	m.notifier.Notify(notify.Success, "Language updated", "")
	return nil
}

// writeSettings writes one settings sub-document, then applies mirror to the settings slot and copies the
// result into the profile in the same commit so the two never diverge.
func (m *Manager) writeSettings(ctx context.Context, id string, data model.Document, mirror func(st *model.Settings)) error {
	subject := m.store.Subject()
	if subject == "" {
		return errs.ErrUnauthenticated
	}
	release := m.track(&m.loadingSettings, (*state.Tx).SetLoadingSettings)
	defer release()

	if err := m.docs.As(subject).Write(ctx, settingsCollection+"/"+id, data, docstore.WriteOptions{Merge: true}); err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	m.commitFor(subject, func(tx *state.Tx) {
		tx.UpdateSettings(mirror)
		st := *tx.Snapshot().Settings
		if tx.Snapshot().Profile != nil {
			tx.UpdateProfile(func(p *model.Profile) { p.Settings = st })
		}
	})
	return nil
}
