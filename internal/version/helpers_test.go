package version

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/liangyou/nodevm/internal/storage"
	"github.com/liangyou/nodevm/pkg/models"
)

// fakeIndex 是内存中的远程目录，记录网络与缓存调用次数。
type fakeIndex struct {
	versions []models.Version
	fail     error
	cached   bool

	fetches int32
	lookups int32
}

func (f *fakeIndex) FetchIndex(context.Context) (*models.RemoteIndex, error) {
	atomic.AddInt32(&f.fetches, 1)
	if f.fail != nil {
		return nil, f.fail
	}
	return &models.RemoteIndex{Versions: append([]models.Version(nil), f.versions...), FetchedAt: time.Now(), Source: "network"}, nil
}

func (f *fakeIndex) CachedIndex(context.Context) (*models.RemoteIndex, bool) {
	atomic.AddInt32(&f.lookups, 1)
	if !f.cached {
		return nil, false
	}
	return &models.RemoteIndex{Versions: append([]models.Version(nil), f.versions...), Source: "memory"}, true
}

func (f *fakeIndex) Fetches() int { return int(atomic.LoadInt32(&f.fetches)) }

func catalog(entries ...string) []models.Version {
	out := make([]models.Version, 0, len(entries))
	for _, e := range entries {
		number, lts, _ := strings.Cut(e, ":")
		out = append(out, remoteVersion(number, lts, "https://dist.test"))
	}
	return out
}

func remoteVersion(number, lts, dist string) models.Version {
	file := "node-v" + number + "-linux-x64.tar.gz"
	return models.Version{
		Number:      number,
		FullName:    "v" + number,
		LTS:         lts,
		FileName:    file,
		DownloadURL: dist + "/v" + number + "/" + file,
		Platform:    "linux-x64",
		Status:      models.StatusNotInstalled,
	}
}

type fakePointer struct {
	current models.Version
	set     bool
	unsets  int
}

func (p *fakePointer) Default() (models.Version, bool, error) {
	if !p.set {
		return models.Version{}, false, nil
	}
	return p.current, true, nil
}

func (p *fakePointer) UnsetDefault() error {
	p.unsets++
	p.set = false
	p.current = models.Version{}
	return nil
}

func newStore(t *testing.T) *storage.FileStorage {
	t.Helper()
	root := t.TempDir()
	return storage.NewFileStorage(models.Config{RootDir: root, VersionsDir: filepath.Join(root, "versions")})
}

// installLocal 直接在磁盘上构造一个已安装版本。
func installLocal(t *testing.T, store *storage.FileStorage, number, lts string) models.Version {
	t.Helper()
	dir := store.InstallPath(number)
	if err := os.MkdirAll(filepath.Join(dir, "bin"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bin", "node"), []byte("node"), 0o755); err != nil {
		t.Fatalf("write node: %v", err)
	}
	if err := store.WriteMarker(dir, models.Version{Number: number, LTS: lts, Checksum: "deadbeef"}, time.Now()); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	v, ok, err := store.Get(number)
	if err != nil || !ok {
		t.Fatalf("Get(%s) = %v, %v", number, ok, err)
	}
	return v
}

// nodeArchive 构造一个带顶层 node-v<number>-linux-x64/ 目录的 tar.gz，返回内容与 SHA256。
func nodeArchive(t *testing.T, number string, files map[string]string) ([]byte, string) {
	t.Helper()

	top := "node-v" + number + "-linux-x64"
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	dirs := map[string]bool{}
	writeDir := func(dir string) {
		if dir == "." || dirs[dir] {
			return
		}
		dirs[dir] = true
		hdr := &tar.Header{Name: path.Join(top, dir) + "/", Typeflag: tar.TypeDir, Mode: 0o755}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write dir header: %v", err)
		}
	}
	if err := tw.WriteHeader(&tar.Header{Name: top + "/", Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
		t.Fatalf("write top header: %v", err)
	}
	for _, name := range names {
		writeDir(path.Dir(name))
		content := files[name]
		hdr := &tar.Header{Name: path.Join(top, name), Typeflag: tar.TypeReg, Mode: 0o755, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write content: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}

	sum := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:])
}

// artifactServer 按路径提供安装包，记录请求次数；truncate 为 true 时只写出一半内容后断开。
type artifactServer struct {
	*httptest.Server
	hits     int32
	truncate atomic.Bool
}

func newArtifactServer(t *testing.T, payloads map[string][]byte) *artifactServer {
	t.Helper()
	s := &artifactServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.hits, 1)
		data, ok := payloads[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if s.truncate.Load() {
			w.Header().Set("Content-Length", "1048576")
			_, _ = w.Write(data[:len(data)/2])
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *artifactServer) Hits() int { return int(atomic.LoadInt32(&s.hits)) }

func stagingDirs(t *testing.T, store *storage.FileStorage) []storage.Entry {
	t.Helper()
	entries, err := store.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var out []storage.Entry
	for _, e := range entries {
		if e.Kind == storage.EntryStaging {
			out = append(out, e)
		}
	}
	return out
}

var errOffline = errors.New("offline")
