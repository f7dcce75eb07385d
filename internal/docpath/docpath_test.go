package docpath

import (
	"testing"

	"github.com/and161185/fitsync/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestParse_DocumentsAndCollections(t *testing.T) {
	t.Parallel()

	p, err := Parse("users/u1")
	require.NoError(t, err)
	require.True(t, p.IsDocument())
	require.Equal(t, "u1", p.Owner())
	require.Equal(t, "u1", p.ID())
	require.Equal(t, "users", p.Parent())
	require.Equal(t, "", p.Rel())

	p, err = Parse("/users/u1/settings/measurements/")
	require.NoError(t, err)
	require.Equal(t, "users/u1/settings/measurements", p.String())
	require.True(t, p.IsDocument())
	require.Equal(t, "measurements", p.ID())
	require.Equal(t, "users/u1/settings", p.Parent())
	require.Equal(t, "settings/measurements", p.Rel())

	p, err = Parse("users/u1/settings")
	require.NoError(t, err)
	require.False(t, p.IsDocument())
	require.Equal(t, "", p.Parent())
}

func TestParse_Rejects(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"",
		"/",
		"accounts/u1",
		"users",
		"users//settings",
		"users/u1/../u2",
		"users/u1/set tings",
		"users/a/b/c/d/e/f/g/h",
	} {
		_, err := Parse(raw)
		require.ErrorIs(t, err, errs.ErrValidation, raw)
	}
}

func TestJoin(t *testing.T) {
	t.Parallel()

	require.Equal(t, "users/u1", Join("u1", ""))
	require.Equal(t, "users/u1", Join("u1", "/"))
	require.Equal(t, "users/u1/settings/preferences", Join("u1", "settings/preferences"))
}
