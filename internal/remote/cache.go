package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/liangyou/nodevm/pkg/models"
)

// IndexCacheFile 是远程索引快照在根目录下的文件名。
const IndexCacheFile = "index-cache.json"

// DiskCache 把远程索引快照持久化到磁盘，供后续调用与离线回退使用。
type DiskCache struct {
	fs   afero.Fs
	path string
}

type cacheFile struct {
	Source    string        `json:"source"`
	Platform  string        `json:"platform"`
	FetchedAt time.Time     `json:"fetched_at"`
	Versions  []cacheRecord `json:"versions"`
}

type cacheRecord struct {
	Number      string    `json:"number"`
	LTS         string    `json:"lts,omitempty"`
	FileName    string    `json:"file_name"`
	DownloadURL string    `json:"download_url"`
	ReleasedAt  time.Time `json:"released_at"`
}

// NewDiskCache 创建位于 rootDir 下的快照缓存。fs 为 nil 时使用真实文件系统。
func NewDiskCache(fs afero.Fs, rootDir string) *DiskCache {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &DiskCache{fs: fs, path: filepath.Join(rootDir, IndexCacheFile)}
}

// Path 返回快照文件路径。
func (d *DiskCache) Path() string { return d.path }

// Load 读取快照。source 与 platform 必须与写入时一致，否则视为不存在。
func (d *DiskCache) Load(source, platform string) (*models.RemoteIndex, error) {
	data, err := afero.ReadFile(d.fs, d.path)
	if err != nil {
		return nil, err
	}
	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("remote: decode index cache: %w", err)
	}
	if f.Source != source || f.Platform != platform {
		return nil, os.ErrNotExist
	}
	if f.FetchedAt.IsZero() || len(f.Versions) == 0 {
		return nil, errors.New("remote: index cache is empty")
	}

	idx := &models.RemoteIndex{FetchedAt: f.FetchedAt, Source: "disk"}
	for _, r := range f.Versions {
		idx.Versions = append(idx.Versions, models.Version{
			Number:      r.Number,
			FullName:    "v" + r.Number,
			LTS:         r.LTS,
			FileName:    r.FileName,
			DownloadURL: r.DownloadURL,
			Platform:    platform,
			ReleasedAt:  r.ReleasedAt,
			Status:      models.StatusNotInstalled,
		})
	}
	return idx, nil
}

// Save 以写临时文件再重命名的方式保存快照，并发写入时后写者胜出。
func (d *DiskCache) Save(source, platform string, idx *models.RemoteIndex) error {
	f := cacheFile{Source: source, Platform: platform, FetchedAt: idx.FetchedAt.UTC()}
	for _, v := range idx.Versions {
		f.Versions = append(f.Versions, cacheRecord{
			Number:      v.Number,
			LTS:         v.LTS,
			FileName:    v.FileName,
			DownloadURL: v.DownloadURL,
			ReleasedAt:  v.ReleasedAt,
		})
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if err := d.fs.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("remote: prepare cache dir: %w", err)
	}
	tmp, err := afero.TempFile(d.fs, filepath.Dir(d.path), IndexCacheFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("remote: temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = d.fs.Remove(tmpName)
		return fmt.Errorf("remote: write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = d.fs.Remove(tmpName)
		return fmt.Errorf("remote: close cache: %w", err)
	}
	if err := d.fs.Rename(tmpName, d.path); err != nil {
		_ = d.fs.Remove(tmpName)
		return fmt.Errorf("remote: finalize cache: %w", err)
	}
	return nil
}

// Age 返回快照文件的年龄，文件不存在时 ok 为 false。
func (d *DiskCache) Age(now time.Time) (time.Duration, bool) {
	info, err := d.fs.Stat(d.path)
	if err != nil {
		return 0, false
	}
	return now.Sub(info.ModTime()), true
}

// Remove 删除快照文件，文件不存在时不报错。
func (d *DiskCache) Remove() error {
	if err := d.fs.Remove(d.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
