package version

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/liangyou/nodevm/internal/nvmerr"
	"github.com/liangyou/nodevm/internal/storage"
	"github.com/liangyou/nodevm/pkg/models"
)

type stubChecksums struct {
	sums  map[string]string
	calls int
}

func (s *stubChecksums) Checksum(_ context.Context, v models.Version) (string, error) {
	s.calls++
	sum, ok := s.sums[v.FileName]
	if !ok {
		return "", nvmerr.NewNotFound(v.Number, "no checksum")
	}
	return sum, nil
}

func nodeFiles() map[string]string {
	return map[string]string{
		"bin/node":                       "#!/bin/sh\necho node\n",
		"include/node/node.h":            "// header",
		"lib/node_modules/npm/README.md": "npm",
	}
}

func TestInstallerInstallAndIdempotent(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	archive, sum := nodeArchive(t, "22.3.0", nodeFiles())
	v := remoteVersion("22.3.0", "", "")
	server := newArtifactServer(t, map[string][]byte{"/v22.3.0/" + v.FileName: archive})
	v = remoteVersion("22.3.0", "", server.URL)
	v.Checksum = sum

	var hookVersion, hookDir string
	installer := NewInstaller(store, NewDownloader(WithHTTPClient(server.Client())),
		WithPostInstall(func(_ context.Context, version, dir string) error {
			hookVersion, hookDir = version, dir
			return nil
		}))

	installed, err := installer.Install(context.Background(), v)
	if err != nil {
		t.Fatalf("first install failed: %v", err)
	}
	if !installed.Installed() || installed.InstallPath != store.InstallPath("22.3.0") {
		t.Fatalf("unexpected installed entry: %#v", installed)
	}
	if _, err := os.Stat(filepath.Join(installed.InstallPath, "bin", "node")); err != nil {
		t.Fatalf("expected bin/node: %v", err)
	}
	if hookVersion != "22.3.0" || hookDir != installed.InstallPath {
		t.Fatalf("post-install hook got %q %q", hookVersion, hookDir)
	}
	if got := stagingDirs(t, store); len(got) != 0 {
		t.Fatalf("staging dirs left behind: %#v", got)
	}

	marker, err := store.ReadMarker(installed.InstallPath)
	if err != nil {
		t.Fatalf("ReadMarker: %v", err)
	}
	if marker.Checksum != sum {
		t.Fatalf("marker checksum %q, want %q", marker.Checksum, sum)
	}

	before, _ := os.ReadFile(filepath.Join(installed.InstallPath, "bin", "node"))
	again, err := installer.Install(context.Background(), v)
	if err != nil {
		t.Fatalf("second install failed: %v", err)
	}
	after, _ := os.ReadFile(filepath.Join(again.InstallPath, "bin", "node"))
	if server.Hits() != 1 {
		t.Fatalf("expected one download, got %d", server.Hits())
	}
	if again.InstallPath != installed.InstallPath || !bytes.Equal(before, after) {
		t.Fatalf("second install changed the result")
	}
}

func TestInstallerChecksumMismatchLeavesInventoryUnchanged(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	archive, _ := nodeArchive(t, "22.3.0", nodeFiles())
	v := remoteVersion("22.3.0", "", "")
	server := newArtifactServer(t, map[string][]byte{"/v22.3.0/" + v.FileName: archive})
	v = remoteVersion("22.3.0", "", server.URL)
	v.Checksum = hex.EncodeToString(make([]byte, sha256.Size))

	installer := NewInstaller(store, NewDownloader(WithHTTPClient(server.Client())))
	_, err := installer.Install(context.Background(), v)
	require.ErrorIs(t, err, nvmerr.ErrChecksumMismatch)
	require.True(t, nvmerr.IsInstall(err))

	has, err := store.Has("22.3.0")
	require.NoError(t, err)
	require.False(t, has)
	list, err := store.List()
	require.NoError(t, err)
	require.Empty(t, list)
	require.Empty(t, stagingDirs(t, store), "staging must be deleted on checksum mismatch")
	require.NoDirExists(t, store.InstallPath("22.3.0"))
}

func TestInstallerInterruptedThenRetry(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	archive, sum := nodeArchive(t, "20.1.0", nodeFiles())
	v := remoteVersion("20.1.0", "", "")
	server := newArtifactServer(t, map[string][]byte{"/v20.1.0/" + v.FileName: archive})
	v = remoteVersion("20.1.0", "", server.URL)
	v.Checksum = sum

	installer := NewInstaller(store, NewDownloader(WithHTTPClient(server.Client())))

	server.truncate.Store(true)
	_, err := installer.Install(context.Background(), v)
	require.ErrorIs(t, err, nvmerr.ErrDownloadInterrupted)
	require.Len(t, stagingDirs(t, store), 1, "interrupted download leaves staging for the janitor")
	list, err := store.List()
	require.NoError(t, err)
	require.Empty(t, list)
	require.NoDirExists(t, store.InstallPath("20.1.0"))

	server.truncate.Store(false)
	installed, err := installer.Install(context.Background(), v)
	require.NoError(t, err)
	require.True(t, installed.Installed())

	list, err = store.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "20.1.0", list[0].Number)
}

func TestInstallerResolvesChecksum(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	archive, sum := nodeArchive(t, "18.20.3", nodeFiles())
	v := remoteVersion("18.20.3", "Hydrogen", "")
	server := newArtifactServer(t, map[string][]byte{"/v18.20.3/" + v.FileName: archive})
	v = remoteVersion("18.20.3", "Hydrogen", server.URL)

	sums := &stubChecksums{sums: map[string]string{v.FileName: sum}}
	installer := NewInstaller(store, NewDownloader(WithHTTPClient(server.Client())), WithChecksumSource(sums))

	installed, err := installer.Install(context.Background(), v)
	require.NoError(t, err)
	require.Equal(t, 1, sums.calls)
	require.Equal(t, "Hydrogen", installed.LTS)

	missing := remoteVersion("18.20.4", "", server.URL)
	_, err = installer.Install(context.Background(), missing)
	require.ErrorIs(t, err, nvmerr.ErrNotFound)

	_, err = NewInstaller(store, NewDownloader()).Install(context.Background(), missing)
	require.Error(t, err, "no checksum and no checksum source")
}

func TestInstallerConcurrentInstallsConverge(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	archive, sum := nodeArchive(t, "22.3.0", nodeFiles())
	v := remoteVersion("22.3.0", "", "")
	server := newArtifactServer(t, map[string][]byte{"/v22.3.0/" + v.FileName: archive})
	v = remoteVersion("22.3.0", "", server.URL)
	v.Checksum = sum

	var wg sync.WaitGroup
	results := make([]models.Version, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			installer := NewInstaller(store, NewDownloader(WithHTTPClient(server.Client())))
			results[i], errs[i] = installer.Install(context.Background(), v)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		require.Equal(t, store.InstallPath("22.3.0"), results[i].InstallPath)
	}
	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Empty(t, stagingDirs(t, store))
}

func TestInstallerHookFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	archive, sum := nodeArchive(t, "20.1.0", nodeFiles())
	v := remoteVersion("20.1.0", "", "")
	server := newArtifactServer(t, map[string][]byte{"/v20.1.0/" + v.FileName: archive})
	v = remoteVersion("20.1.0", "", server.URL)
	v.Checksum = sum

	installer := NewInstaller(store, NewDownloader(WithHTTPClient(server.Client())),
		WithPostInstall(func(context.Context, string, string) error { return errors.New("hook exploded") }))

	installed, err := installer.Install(context.Background(), v)
	require.NoError(t, err)
	require.True(t, installed.Installed())
}

func TestInstallerRejectsArchiveWithoutNode(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	archive, sum := nodeArchive(t, "20.1.0", map[string]string{"README.md": "hi"})
	v := remoteVersion("20.1.0", "", "")
	server := newArtifactServer(t, map[string][]byte{"/v20.1.0/" + v.FileName: archive})
	v = remoteVersion("20.1.0", "", server.URL)
	v.Checksum = sum

	_, err := NewInstaller(store, NewDownloader(WithHTTPClient(server.Client()))).Install(context.Background(), v)
	require.Error(t, err)
	require.Empty(t, stagingDirs(t, store))
	require.NoDirExists(t, store.InstallPath("20.1.0"))
}

func TestInstallerReplacesMarkerlessFinalDir(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	stale := store.InstallPath("20.1.0")
	require.NoError(t, os.MkdirAll(filepath.Join(stale, "junk"), 0o755))

	archive, sum := nodeArchive(t, "20.1.0", nodeFiles())
	v := remoteVersion("20.1.0", "", "")
	server := newArtifactServer(t, map[string][]byte{"/v20.1.0/" + v.FileName: archive})
	v = remoteVersion("20.1.0", "", server.URL)
	v.Checksum = sum

	installed, err := NewInstaller(store, NewDownloader(WithHTTPClient(server.Client()))).Install(context.Background(), v)
	require.NoError(t, err)
	require.True(t, installed.Installed())
	require.NoDirExists(t, filepath.Join(stale, "junk"))
}

func TestExtractRejectsEscapingSymlink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "node-v1.0.0-linux-x64/", Typeflag: tar.TypeDir, Mode: 0o755}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "node-v1.0.0-linux-x64/evil", Typeflag: tar.TypeSymlink, Linkname: "../../../../etc/passwd"}))
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	archive := filepath.Join(t.TempDir(), "a.tar.gz")
	require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0o644))

	err := extractTarGz(archive, t.TempDir())
	require.Error(t, err)
}

func TestNormalizeTarPath(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		want string
		skip bool
	}{
		"node-v20.1.0-linux-x64/":             {skip: true},
		"node-v20.1.0-linux-x64/bin/node":     {want: "bin/node"},
		"./node-v20.1.0-linux-x64/bin/npm":    {want: "bin/npm"},
		"node-v20.1.0-linux-x64/../../escape": {skip: true},
		"CHANGELOG.md":                        {skip: true},
	}
	for in, tc := range cases {
		got, skip := normalizeTarPath(in)
		require.Equal(t, tc.skip, skip, in)
		if !tc.skip {
			require.Equal(t, tc.want, got, in)
		}
	}
}

func TestInstallerMarkerMatchesStorage(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	installLocal(t, store, "20.1.0", "Iron")

	entries, err := store.Scan()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, storage.EntryInstalled, entries[0].Kind)
}
