package version

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzip"
	"github.com/oklog/ulid/v2"

	"github.com/liangyou/nodevm/internal/logx"
	"github.com/liangyou/nodevm/internal/nvmerr"
	"github.com/liangyou/nodevm/internal/remote"
	"github.com/liangyou/nodevm/internal/storage"
	"github.com/liangyou/nodevm/pkg/models"
)

// ArtifactDownloader 把安装包下载到指定目录并校验。
type ArtifactDownloader interface {
	Download(ctx context.Context, v models.Version, dir string) (string, error)
}

// InstallStore 是 Installer 需要的本地清单能力。
type InstallStore interface {
	storage.LocalStorage
	WriteMarker(dir string, v models.Version, installedAt time.Time) error
}

// PostInstallFunc 在安装成功后调用，参数为版本号与安装目录。
type PostInstallFunc func(ctx context.Context, version, dir string) error

// InstallerOption 配置 Installer。
type InstallerOption func(*Installer)

// WithChecksumSource 设置校验值来源，版本条目未携带校验值时使用。
func WithChecksumSource(src remote.ChecksumSource) InstallerOption {
	return func(i *Installer) { i.checksums = src }
}

// WithPostInstall 设置安装成功后的钩子。
func WithPostInstall(fn PostInstallFunc) InstallerOption {
	return func(i *Installer) { i.postInstall = fn }
}

// WithInstallerLogger 设置日志器。
func WithInstallerLogger(logger *log.Logger) InstallerOption {
	return func(i *Installer) { i.logger = logx.OrDiscard(logger) }
}

// Installer 负责把具体版本安装到独立的版本目录。
// 所有写入都发生在暂存目录中，校验通过后才重命名为最终目录。
type Installer struct {
	storage     InstallStore
	downloader  ArtifactDownloader
	checksums   remote.ChecksumSource
	postInstall PostInstallFunc
	logger      *log.Logger
	now         func() time.Time
}

// NewInstaller 创建 Installer。
func NewInstaller(store InstallStore, downloader ArtifactDownloader, opts ...InstallerOption) *Installer {
	i := &Installer{
		storage:    store,
		downloader: downloader,
		logger:     logx.Discard(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Install 安装 v 并返回已安装的条目。最终目录已有有效标记时直接返回已有条目。
func (i *Installer) Install(ctx context.Context, v models.Version) (models.Version, error) {
	if i.storage == nil || i.downloader == nil {
		return models.Version{}, errors.New("installer: missing dependencies")
	}
	if !IsValidNumber(v.Number) {
		return models.Version{}, nvmerr.NewParse(v.Number, "not a full version number")
	}

	if existing, ok, err := i.storage.Get(v.Number); err != nil {
		return models.Version{}, err
	} else if ok {
		i.logger.Debug("version already installed", "version", v.Number)
		return existing, nil
	}

	if v.Checksum == "" {
		if i.checksums == nil {
			return models.Version{}, fmt.Errorf("installer: no checksum for %s", v.Number)
		}
		sum, err := i.checksums.Checksum(ctx, v)
		if err != nil {
			return models.Version{}, nvmerr.Annotate(err, v.Number)
		}
		v.Checksum = sum
	}

	versionsDir := i.storage.VersionsDir()
	if err := os.MkdirAll(versionsDir, 0o755); err != nil {
		return models.Version{}, fmt.Errorf("installer: prepare versions dir: %w", err)
	}
	staging := filepath.Join(versionsDir, fmt.Sprintf("%s%s-%s", storage.StagingPrefix, storage.DirName(v.Number), ulid.Make()))
	if err := os.Mkdir(staging, 0o755); err != nil {
		return models.Version{}, fmt.Errorf("installer: create staging dir: %w", err)
	}

	installed, err := i.installInto(ctx, v, staging)
	if err != nil {
		if isInterrupted(err) {
			i.logger.Warn("download interrupted, staging left for cleanup", "version", v.Number, "staging", staging)
		} else {
			_ = os.RemoveAll(staging)
		}
		return models.Version{}, nvmerr.Annotate(err, v.Number)
	}
	_ = os.RemoveAll(staging)

	if i.postInstall != nil {
		if err := i.postInstall(ctx, installed.Number, installed.InstallPath); err != nil {
			i.logger.Warn("post-install hook failed", "version", installed.Number, "err", err)
		}
	}
	return installed, nil
}

func (i *Installer) installInto(ctx context.Context, v models.Version, staging string) (models.Version, error) {
	archive, err := i.downloader.Download(ctx, v, staging)
	if err != nil {
		return models.Version{}, err
	}

	root := filepath.Join(staging, "root")
	if err := os.Mkdir(root, 0o755); err != nil {
		return models.Version{}, fmt.Errorf("installer: prepare extract dir: %w", err)
	}
	if err := extractTarGz(archive, root); err != nil {
		return models.Version{}, err
	}
	if info, err := os.Stat(filepath.Join(root, "bin", "node")); err != nil || info.IsDir() {
		return models.Version{}, fmt.Errorf("installer: archive %s has no bin/node", v.FileName)
	}

	if err := i.storage.WriteMarker(root, v, i.now()); err != nil {
		return models.Version{}, err
	}

	final := i.storage.InstallPath(v.Number)
	if err := os.Rename(root, final); err != nil {
		if existing, ok, getErr := i.storage.Get(v.Number); getErr == nil && ok {
			i.logger.Debug("version installed concurrently", "version", v.Number)
			return existing, nil
		}
		// 最终目录存在但缺少标记，先移走再重试一次。
		if err := i.discardIncomplete(final, v.Number); err != nil {
			return models.Version{}, err
		}
		if err := os.Rename(root, final); err != nil {
			if existing, ok, getErr := i.storage.Get(v.Number); getErr == nil && ok {
				return existing, nil
			}
			return models.Version{}, fmt.Errorf("installer: move install directory: %w", err)
		}
	}

	installed, ok, err := i.storage.Get(v.Number)
	if err != nil {
		return models.Version{}, err
	}
	if !ok {
		return models.Version{}, fmt.Errorf("installer: %s missing integrity marker after install", final)
	}
	installed.DownloadURL = v.DownloadURL
	installed.Platform = v.Platform
	installed.ReleasedAt = v.ReleasedAt
	i.logger.Info("installed", "version", installed.Number, "path", installed.InstallPath)
	return installed, nil
}

func (i *Installer) discardIncomplete(final, number string) error {
	trash := filepath.Join(filepath.Dir(final), fmt.Sprintf("%s%s-rm-%s", storage.StagingPrefix, storage.DirName(number), ulid.Make()))
	if err := os.Rename(final, trash); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("installer: move incomplete install: %w", err)
	}
	if err := os.RemoveAll(trash); err != nil {
		i.logger.Warn("failed to remove incomplete install", "path", trash, "err", err)
	}
	return nil
}

func extractTarGz(archivePath, dest string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("installer: open archive: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("installer: gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("installer: read archive: %w", err)
		}

		relPath, skip := normalizeTarPath(header.Name)
		if skip {
			continue
		}

		target := filepath.Join(dest, relPath)
		if err := ensureWithinRoot(dest, target); err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirMode(header.Mode)); err != nil {
				return fmt.Errorf("installer: mkdir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, os.FileMode(header.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := ensureWithinRoot(dest, filepath.Join(filepath.Dir(target), header.Linkname)); err != nil || filepath.IsAbs(header.Linkname) {
				return fmt.Errorf("installer: symlink %s escapes install dir", header.Name)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("installer: mkdir for link %s: %w", target, err)
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("installer: symlink %s: %w", target, err)
			}
		case tar.TypeLink:
			linkRel, skip := normalizeTarPath(header.Linkname)
			if skip {
				return fmt.Errorf("installer: hard link %s has invalid target", header.Name)
			}
			source := filepath.Join(dest, linkRel)
			if err := ensureWithinRoot(dest, source); err != nil {
				return err
			}
			if err := os.Link(source, target); err != nil {
				return fmt.Errorf("installer: hard link %s: %w", target, err)
			}
		case tar.TypeXGlobalHeader:
			continue
		default:
			return fmt.Errorf("installer: unsupported tar entry %q", header.Name)
		}
	}
	return nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("installer: mkdir for file %s: %w", target, err)
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("installer: create file %s: %w", target, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("installer: copy file %s: %w", target, err)
	}
	return f.Close()
}

func dirMode(mode int64) os.FileMode {
	m := os.FileMode(mode).Perm()
	if m == 0 {
		return 0o755
	}
	return m | 0o700
}

// normalizeTarPath 去掉安装包的顶层目录（例如 node-v20.1.0-linux-x64/）。
func normalizeTarPath(name string) (string, bool) {
	clean := path.Clean(strings.TrimPrefix(name, "./"))
	if clean == "." || clean == "" || strings.HasPrefix(clean, "../") || clean == ".." {
		return "", true
	}
	_, rest, found := strings.Cut(clean, "/")
	if !found || rest == "" {
		return "", true
	}
	return rest, false
}

func ensureWithinRoot(root, target string) error {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	if target == root {
		return nil
	}
	if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return fmt.Errorf("installer: illegal path %s", target)
	}
	return nil
}
