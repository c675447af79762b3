package version

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liangyou/nodevm/internal/env"
	"github.com/liangyou/nodevm/internal/nvmerr"
	"github.com/liangyou/nodevm/pkg/models"
)

func newEnv(t *testing.T) (*env.Manager, *Switcher, func(string, string) models.Version) {
	t.Helper()
	store := newStore(t)
	cfg := models.Config{RootDir: store.RootDir(), VersionsDir: store.VersionsDir()}
	mgr := env.NewManager(store, cfg)
	install := func(number, lts string) models.Version { return installLocal(t, store, number, lts) }
	return mgr, NewSwitcher(store, mgr), install
}

func TestSwitcherLinkReplacesDefault(t *testing.T) {
	t.Parallel()

	mgr, sw, install := newEnv(t)
	install("20.1.0", "")
	b := install("18.9.0", "Hydrogen")

	_, err := sw.Link(context.Background(), mustSpec(t, "20"))
	require.NoError(t, err)
	linked, err := sw.Link(context.Background(), mustSpec(t, "lts"))
	require.NoError(t, err)
	require.Equal(t, "18.9.0", linked.Number)
	require.True(t, linked.IsDefault)

	def, ok, err := mgr.Default()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, b.InstallPath, def.InstallPath)

	require.NoError(t, sw.Unlink())
	_, ok, err = mgr.Default()
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, sw.Unlink(), "unlink without a default is a no-op")
}

func TestSwitcherUseIsSessionOnly(t *testing.T) {
	t.Parallel()

	mgr, sw, install := newEnv(t)
	a := install("20.1.0", "")
	b := install("18.9.0", "")
	require.NoError(t, mgr.SetDefault(a))

	session := env.Session{Path: "/usr/bin"}
	used, next, muts, err := sw.Use(context.Background(), mustSpec(t, "18"), session)
	require.NoError(t, err)
	require.True(t, used.InSession)
	require.Equal(t, "18.9.0", next.Version)
	require.Equal(t, filepath.Join(b.InstallPath, "bin"), filepath.SplitList(next.Path)[0])
	require.Len(t, muts, 2)

	def, _, err := mgr.Default()
	require.NoError(t, err)
	require.Equal(t, "20.1.0", def.Number, "use must not move the default link")

	cleared, _, err := sw.Unuse(next)
	require.NoError(t, err)
	require.Empty(t, cleared.Version)
	require.Equal(t, "/usr/bin", cleared.Path)
}

func TestSwitcherRequiresInstalledVersion(t *testing.T) {
	t.Parallel()

	_, sw, install := newEnv(t)
	broken := install("20.1.0", "")
	require.NoError(t, os.Remove(filepath.Join(broken.InstallPath, ".nvm-installed")))

	_, _, _, err := sw.Use(context.Background(), mustSpec(t, "20"), env.Session{})
	require.ErrorIs(t, err, nvmerr.ErrNotFound)
	_, err = sw.Link(context.Background(), mustSpec(t, "latest"))
	require.ErrorIs(t, err, nvmerr.ErrNotFound)
}
