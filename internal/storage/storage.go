package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/mod/semver"

	"github.com/liangyou/nodevm/pkg/models"
)

const (
	// MarkerFile 是安装完成并通过校验后写入版本目录的完整性标记。
	MarkerFile = ".nvm-installed"
	// StagingPrefix 是安装过程中暂存目录的名称前缀。
	StagingPrefix = ".staging-"
)

// EntryKind 区分安装根目录下的条目类型。
type EntryKind int

const (
	EntryInstalled EntryKind = iota // 版本目录且标记有效
	EntryCorrupt                    // 版本目录但标记缺失或无效
	EntryStaging                    // 未完成安装留下的暂存目录
)

// LocalStorage 定义本地版本清单的只读查询接口。清单每次调用都从磁盘重建。
type LocalStorage interface {
	List() ([]models.Version, error)
	Has(number string) (bool, error)
	Get(number string) (models.Version, bool, error)
	InstallPath(number string) string
	VersionsDir() string
}

// Marker 表示完整性标记文件的内容。
type Marker struct {
	Version     string    `json:"version"`
	LTS         string    `json:"lts,omitempty"`
	Checksum    string    `json:"checksum"`
	FileName    string    `json:"file_name,omitempty"`
	InstalledAt time.Time `json:"installed_at"`
}

// Entry 是 Scan 返回的原始目录条目。
type Entry struct {
	Name    string
	Path    string
	Kind    EntryKind
	Version models.Version // 仅 EntryInstalled 与 EntryCorrupt 有效
	ModTime time.Time
}

// FileStorage 通过扫描安装根目录得到版本清单，不保存独立索引。
type FileStorage struct {
	fs          afero.Fs
	root        string
	versionsDir string
}

// Option 配置 FileStorage。
type Option func(*FileStorage)

// WithFs 指定底层文件系统，测试中可传入 afero.NewMemMapFs()。
func WithFs(fs afero.Fs) Option {
	return func(s *FileStorage) {
		if fs != nil {
			s.fs = fs
		}
	}
}

// NewFileStorage 构造一个文件系统清单实例。
func NewFileStorage(cfg models.Config, opts ...Option) *FileStorage {
	root := cfg.RootDir
	if root == "" {
		if home, err := os.UserHomeDir(); err == nil {
			root = filepath.Join(home, ".nvm")
		} else {
			root = filepath.Join(os.TempDir(), "nvm")
		}
	}
	versionsDir := cfg.VersionsDir
	if versionsDir == "" {
		versionsDir = filepath.Join(root, "versions")
	}
	s := &FileStorage{
		fs:          afero.NewOsFs(),
		root:        root,
		versionsDir: versionsDir,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fs 返回底层文件系统。
func (s *FileStorage) Fs() afero.Fs { return s.fs }

// RootDir 返回 nvm 根目录。
func (s *FileStorage) RootDir() string { return s.root }

// VersionsDir 返回版本安装目录。
func (s *FileStorage) VersionsDir() string { return s.versionsDir }

// InstallPath 返回指定版本的最终安装目录。
func (s *FileStorage) InstallPath(number string) string {
	return filepath.Join(s.versionsDir, DirName(number))
}

// List 返回所有标记有效的已安装版本，按版本号降序排列。
func (s *FileStorage) List() ([]models.Version, error) {
	entries, err := s.Scan()
	if err != nil {
		return nil, err
	}
	versions := make([]models.Version, 0, len(entries))
	for _, e := range entries {
		if e.Kind == EntryInstalled {
			versions = append(versions, e.Version)
		}
	}
	SortDescending(versions)
	return versions, nil
}

// Has 报告指定版本是否已完整安装。
func (s *FileStorage) Has(number string) (bool, error) {
	_, ok, err := s.Get(number)
	return ok, err
}

// Get 读取单个版本；目录缺失或标记无效时 ok 为 false。
func (s *FileStorage) Get(number string) (models.Version, bool, error) {
	dir := s.InstallPath(number)
	info, err := s.fs.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.Version{}, false, nil
		}
		return models.Version{}, false, fmt.Errorf("storage: stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return models.Version{}, false, nil
	}
	v, valid := s.describe(number, dir)
	return v, valid, nil
}

// Scan 列出安装根目录下的全部条目，包括暂存目录与标记缺失的版本目录。
// 无法识别的文件与目录被忽略。
func (s *FileStorage) Scan() ([]Entry, error) {
	infos, err := afero.ReadDir(s.fs, s.versionsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("storage: read %s: %w", s.versionsDir, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		if !info.IsDir() {
			continue
		}
		name := info.Name()
		path := filepath.Join(s.versionsDir, name)
		if strings.HasPrefix(name, StagingPrefix) {
			entries = append(entries, Entry{Name: name, Path: path, Kind: EntryStaging, ModTime: info.ModTime()})
			continue
		}
		number, ok := ParseDirName(name)
		if !ok {
			continue
		}
		v, valid := s.describe(number, path)
		kind := EntryInstalled
		if !valid {
			kind = EntryCorrupt
		}
		entries = append(entries, Entry{Name: name, Path: path, Kind: kind, Version: v, ModTime: info.ModTime()})
	}
	return entries, nil
}

// ReadMarker 读取并校验目录中的完整性标记。
func (s *FileStorage) ReadMarker(dir string) (Marker, error) {
	data, err := afero.ReadFile(s.fs, filepath.Join(dir, MarkerFile))
	if err != nil {
		return Marker{}, err
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return Marker{}, fmt.Errorf("storage: decode marker: %w", err)
	}
	if m.Version == "" || m.Checksum == "" {
		return Marker{}, errors.New("storage: incomplete marker")
	}
	return m, nil
}

// WriteMarker 以先写临时文件再重命名的方式写入完整性标记。
func (s *FileStorage) WriteMarker(dir string, v models.Version, installedAt time.Time) error {
	m := Marker{
		Version:     v.Number,
		LTS:         v.LTS,
		Checksum:    strings.ToLower(v.Checksum),
		FileName:    v.FileName,
		InstalledAt: installedAt.UTC(),
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, MarkerFile+".tmp")
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("storage: write marker: %w", err)
	}
	if err := s.fs.Rename(tmp, filepath.Join(dir, MarkerFile)); err != nil {
		return fmt.Errorf("storage: finalize marker: %w", err)
	}
	return nil
}

func (s *FileStorage) describe(number, dir string) (models.Version, bool) {
	v := models.Version{
		Number:      number,
		FullName:    "v" + number,
		InstallPath: dir,
		Status:      models.StatusCorrupt,
	}
	m, err := s.ReadMarker(dir)
	if err != nil || m.Version != number {
		return v, false
	}
	v.LTS = m.LTS
	v.Checksum = m.Checksum
	v.FileName = m.FileName
	v.InstalledAt = m.InstalledAt
	v.Status = models.StatusInstalled
	return v, true
}

// DirName 返回版本目录名，例如 v20.1.0。
func DirName(number string) string {
	return "v" + strings.TrimPrefix(number, "v")
}

// ParseDirName 从目录名解析完整版本号，非 vMAJOR.MINOR.PATCH 形式返回 false。
func ParseDirName(name string) (string, bool) {
	if !strings.HasPrefix(name, "v") || !semver.IsValid(name) {
		return "", false
	}
	if semver.Canonical(name) != name || semver.Prerelease(name) != "" {
		return "", false
	}
	return strings.TrimPrefix(name, "v"), true
}

// SortDescending 按版本号降序就地排序。
func SortDescending(versions []models.Version) {
	sort.SliceStable(versions, func(i, j int) bool {
		return semver.Compare("v"+versions[i].Number, "v"+versions[j].Number) > 0
	})
}
