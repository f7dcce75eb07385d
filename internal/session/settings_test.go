package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/fitsync/internal/docstore"
	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/model"
)

func TestUpdateUnits_RoundTrip(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, Options{})
	loggedIn(t, h, model.Document{"firstName": "Ana"})
	ctx := context.Background()

	require.NoError(t, h.mem.Set(ctx, "users/u1/settings/measurements", model.Document{"height": "ft-in", "weight": "lb", "note": "keep"}, false))
	require.NoError(t, h.mgr.UpdateUnits(ctx, model.Units{Height: model.HeightCM, Weight: model.WeightKG}))

	stored, err := h.mem.Get(ctx, "users/u1/settings/measurements")
	require.NoError(t, err)
	require.Equal(t, model.Document{"height": "cm", "weight": "kg", "note": "keep", "updatedAt": fixedNow}, stored.Data)

	prefs, err := h.mem.Get(ctx, "users/u1/settings/preferences")
	require.NoError(t, err)
	require.Equal(t, model.Document{"language": "es"}, prefs.Data)

	local := *h.store.Settings().Get()
	require.NoError(t, h.mgr.FetchSettings(ctx))
	fetched := *h.store.Settings().Get()
	require.Equal(t, "cm", fetched.Measurements.Height)
	require.Equal(t, "kg", fetched.Measurements.Weight)
	require.True(t, fetched.Measurements.UpdatedAt.Equal(fixedNow))
	require.Equal(t, local.Measurements.Height, fetched.Measurements.Height)
	require.Equal(t, local.Measurements.Weight, fetched.Measurements.Weight)
	require.True(t, local.Measurements.UpdatedAt.Equal(fetched.Measurements.UpdatedAt))
	require.Equal(t, "es", fetched.Preferences.Language)
	require.Equal(t, fetched, h.store.Profile().Get().Settings)
	require.False(t, h.store.LoadingSettings().Get())
}

func TestUpdateUnits_PartialKeepsOtherUnit(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, Options{})
	loggedIn(t, h, model.Document{"firstName": "Ana"})

	require.NoError(t, h.mgr.UpdateUnits(context.Background(), model.Units{Weight: model.WeightLB}))

	st := h.store.Settings().Get()
	require.Equal(t, "cm", st.Measurements.Height)
	require.Equal(t, "lb", st.Measurements.Weight)
	require.Equal(t, *st, h.store.Profile().Get().Settings)
	require.Equal(t, []string{"Units updated"}, h.titles())
}

func TestUpdateLanguagePreference_MirrorsWithoutTouchingUnits(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, Options{})
	loggedIn(t, h, model.Document{"firstName": "Ana"})
	before := h.store.Settings().Get().Measurements

	require.NoError(t, h.mgr.UpdateLanguagePreference(context.Background(), "en-US"))

	st := h.store.Settings().Get()
	require.Equal(t, "en-US", st.Preferences.Language)
	require.Equal(t, before, st.Measurements)
	require.Equal(t, *st, h.store.Profile().Get().Settings)

	stored, err := h.mem.Get(context.Background(), "users/u1/settings/measurements")
	require.NoError(t, err)
	require.Equal(t, model.Document{"height": "cm", "weight": "kg"}, stored.Data)
}

func TestSettings_Unauthenticated(t *testing.T) {
	t.Parallel()
	var fb *faultyBackend
	h := newHarness(t, func(m *docstore.MemoryBackend) docstore.Backend {
		fb = &faultyBackend{Backend: m}
		return fb
	}, Options{})
	ctx := context.Background()

	require.ErrorIs(t, h.mgr.UpdateUnits(ctx, model.Units{Height: model.HeightCM}), errs.ErrUnauthenticated)
	require.ErrorIs(t, h.mgr.UpdateLanguagePreference(ctx, "es"), errs.ErrUnauthenticated)
	require.ErrorIs(t, h.mgr.FetchSettings(ctx), errs.ErrUnauthenticated)
	require.Zero(t, fb.Calls())
}

func TestSettings_ValidationAndWriteFailure(t *testing.T) {
	t.Parallel()
	var fb *faultyBackend
	h := newHarness(t, func(m *docstore.MemoryBackend) docstore.Backend {
		fb = &faultyBackend{Backend: m}
		return fb
	}, Options{})
	loggedIn(t, h, model.Document{"firstName": "Ana"})
	ctx := context.Background()
	before := h.store.Settings().Get()

	require.ErrorIs(t, h.mgr.UpdateUnits(ctx, model.Units{Height: "yards"}), errs.ErrValidation)
	require.ErrorIs(t, h.mgr.UpdateLanguagePreference(ctx, "klingon language"), errs.ErrValidation)

	fb.mu.Lock()
	fb.setErr = errs.ErrNetwork
	fb.mu.Unlock()
	require.ErrorIs(t, h.mgr.UpdateUnits(ctx, model.Units{Height: model.HeightFtIn}), errs.ErrNetwork)
	require.Same(t, before, h.store.Settings().Get())
	require.Equal(t, []string{"Units not saved"}, h.titles())
}

func TestFetchSettings_IgnoresUnknownDocuments(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, Options{})
	loggedIn(t, h, model.Document{"firstName": "Ana"})
	ctx := context.Background()

	require.NoError(t, h.mem.Set(ctx, "users/u1/settings/experimental", model.Document{"flag": true}, false))
	require.NoError(t, h.mgr.FetchSettings(ctx))
	require.Equal(t, "es", h.store.Settings().Get().Preferences.Language)
}
