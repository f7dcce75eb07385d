package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/fitsync/internal/docstore"
	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/forms"
	"github.com/and161185/fitsync/internal/model"
	"github.com/and161185/fitsync/internal/notify"
	"github.com/and161185/fitsync/internal/state"
)

// project merges the allow-listed fields of data into a copy of base and fills identity defaults.
// A field of the wrong type is skipped and reported; the rest of the projection still applies.
func project(data model.Document, base *model.Profile, id model.Identity) (*model.Profile, error) {
	allowed := make(map[string]any, len(model.ProfileFields))
	for _, k := range model.ProfileFields {
		if v, ok := data[k]; ok && v != nil {
			allowed[k] = v
		}
	}
	var p model.Profile
	if base != nil {
		p = *base
	}
	err := decodeInto(allowed, &p)

	if p.UID == "" {
		p.UID = id.SubjectID
	}
	if p.Email == "" {
		p.Email = id.Email
	}
	if p.PhotoURL == "" {
		p.PhotoURL = id.PhotoURL
	}
	if p.DisplayName == "" {
		p.DisplayName = defaultDisplayName(p.FirstName, p.LastName, id.DisplayName)
	}
	return &p, err
}

func defaultDisplayName(first, last, fallback string) string {
	if name := strings.TrimSpace(first + " " + last); name != "" {
		return name
	}
	return fallback
}

// decodeInto overlays src onto dst through their JSON shapes.
func decodeInto(src map[string]any, dst any) error {
	b, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// UpdateProfile merge-writes the set fields of patch to the profile document and, once the store confirms,
// merges them into the local profile. The email field is never written. Local state is untouched on failure.
func (m *Manager) UpdateProfile(ctx context.Context, patch model.ProfilePatch) error {
	sess := m.store.Session().Get()
	if !sess.Authenticated() {
		return errs.ErrUnauthenticated
	}
	if err := forms.ValidateProfilePatch(patch); err != nil {
		return err
	}
	fields := patch.Fields()
	delete(fields, "email")
	if len(fields) == 0 {
		return nil
	}
	fields["updatedAt"] = m.opts.Now().UTC()
	derived := derivedDisplayName(patch, m.store.Profile().Get(), sess.DisplayName)
	if derived != nil {
		fields["displayName"] = *derived
	}

	release := m.track(&m.loadingProfile, (*state.Tx).SetLoadingProfile)
	defer release()

	subject := sess.SubjectID
	if err := m.docs.As(subject).Write(ctx, "", fields, docstore.WriteOptions{Merge: true}); err != nil {
		m.notifier.Notify(notify.Error, "Profile update failed", err.Error())
		return fmt.Errorf("update profile: %w", err)
	}

	m.commitFor(subject, func(tx *state.Tx) {
		tx.SetProfile(m.projectLogged(fields, tx.Snapshot().Profile, sess.Identity))
	})

	m.pushAccount(ctx, patch, derived)
	m.notifier.Notify(notify.Success, "Profile updated", "")
	return nil
}

// derivedDisplayName returns the display name to store when patch renames a profile whose display name
// still follows its first and last name. It returns nil when the display name stays as it is.
func derivedDisplayName(patch model.ProfilePatch, cur *model.Profile, fallback string) *string {
	if patch.DisplayName != nil || (patch.FirstName == nil && patch.LastName == nil) {
		return nil
	}
	var first, last, shown string
	if cur != nil {
		first, last, shown = cur.FirstName, cur.LastName, cur.DisplayName
	}
	if shown != "" && shown != defaultDisplayName(first, last, fallback) {
		return nil
	}
	if patch.FirstName != nil {
		first = *patch.FirstName
	}
	if patch.LastName != nil {
		last = *patch.LastName
	}
	name := defaultDisplayName(first, last, fallback)
	return &name
}

// pushAccount mirrors name and photo changes to the identity provider. Failures only get logged.
func (m *Manager) pushAccount(ctx context.Context, patch model.ProfilePatch, derived *string) {
	ap := model.AccountPatch{DisplayName: patch.DisplayName, PhotoURL: patch.PhotoURL}
	if derived != nil && *derived != "" {
		ap.DisplayName = derived
	}
	if ap.Empty() {
		return
	}
	if err := m.provider.UpdateAccount(ctx, ap); err != nil {
		m.log.Warn("identity profile not updated", zap.Error(err))
	}
}

// IsProfileComplete reports whether every required profile field is set. It never touches the network.
func (m *Manager) IsProfileComplete() bool {
	p := m.store.Profile().Get()
	return p != nil && len(p.Missing()) == 0
}

// MissingFields lists the required profile fields that are still empty.
func (m *Manager) MissingFields() []string {
	return m.store.Profile().Get().Missing()
}
