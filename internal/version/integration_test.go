package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liangyou/nodevm/internal/env"
	"github.com/liangyou/nodevm/internal/remote"
	"github.com/liangyou/nodevm/pkg/models"
)

func TestIntegrationInstallLinkUseUninstall(t *testing.T) {
	t.Parallel()

	archive, sum := nodeArchive(t, "22.3.0", nodeFiles())
	lts, ltsSum := nodeArchive(t, "20.14.0", nodeFiles())

	mux := http.NewServeMux()
	mux.HandleFunc("/index.json", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"version": "v22.3.0", "date": "2024-06-11", "files": []string{"linux-x64"}, "lts": false},
			{"version": "v20.14.0", "date": "2024-05-28", "files": []string{"linux-x64"}, "lts": "Iron"},
		})
	})
	mux.HandleFunc("/v22.3.0/SHASUMS256.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s  node-v22.3.0-linux-x64.tar.gz\n", sum)
	})
	mux.HandleFunc("/v20.14.0/SHASUMS256.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s  node-v20.14.0-linux-x64.tar.gz\n", ltsSum)
	})
	mux.HandleFunc("/v22.3.0/node-v22.3.0-linux-x64.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	})
	mux.HandleFunc("/v20.14.0/node-v20.14.0-linux-x64.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(lts)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	store := newStore(t)
	cfg := models.Config{RootDir: store.RootDir(), VersionsDir: store.VersionsDir()}
	client := remote.NewClient(
		remote.WithDistURL(server.URL),
		remote.WithHTTPClient(server.Client()),
		remote.WithPlatform("linux-x64"),
		remote.WithDiskCache(remote.NewDiskCache(nil, store.RootDir())),
	)
	resolver := NewResolver(store, client)
	installer := NewInstaller(store, NewDownloader(WithHTTPClient(server.Client())), WithChecksumSource(client))
	mgr := env.NewManager(store, cfg)
	switcher := NewSwitcher(store, mgr)
	ctx := context.Background()

	latest, err := resolver.Resolve(ctx, mustSpec(t, "latest"), WithOnline())
	require.NoError(t, err)
	require.Equal(t, "22.3.0", latest.Number)
	require.Equal(t, models.StatusNotInstalled, latest.Status)

	installed, err := installer.Install(ctx, latest)
	require.NoError(t, err)
	require.True(t, installed.Installed())

	ltsVersion, err := resolver.Resolve(ctx, mustSpec(t, "lts"))
	require.NoError(t, err)
	_, err = installer.Install(ctx, ltsVersion)
	require.NoError(t, err)

	_, err = switcher.Link(ctx, mustSpec(t, "22"))
	require.NoError(t, err)
	target, err := os.Readlink(mgr.LinkPath())
	require.NoError(t, err)
	require.Equal(t, installed.InstallPath, target)

	_, session, _, err := switcher.Use(ctx, mustSpec(t, "20"), env.Session{Path: "/usr/bin"})
	require.NoError(t, err)
	require.Equal(t, "20.14.0", session.Version)

	janitor := NewJanitor(store, mgr, WithSessionVersion(session.Version))
	report, err := janitor.Clean(ctx)
	require.NoError(t, err)
	require.Empty(t, report.Removed)

	uninstaller := NewUninstaller(store, mgr)
	_, err = uninstaller.Uninstall(ctx, LocalLatest(), false)
	require.Error(t, err, "latest installed is the default")
	removed, err := uninstaller.Uninstall(ctx, LocalLatest(), true)
	require.NoError(t, err)
	require.Equal(t, "22.3.0", removed.Number)

	_, err = os.Lstat(mgr.LinkPath())
	require.True(t, os.IsNotExist(err))
	require.NoDirExists(t, filepath.Join(store.VersionsDir(), "v22.3.0"))

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "Iron", list[0].LTS)
}
