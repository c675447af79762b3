package version

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/liangyou/nodevm/internal/logx"
	"github.com/liangyou/nodevm/internal/remote"
	"github.com/liangyou/nodevm/internal/storage"
)

const defaultStaleAfter = time.Hour

// CleanReport 汇总一次清理的结果。
type CleanReport struct {
	Removed  []string
	Retained []string
}

// JanitorOption 配置 Janitor。
type JanitorOption func(*Janitor)

// WithStaleAfter 设置暂存目录多久未变动后视为残留。
func WithStaleAfter(d time.Duration) JanitorOption {
	return func(j *Janitor) {
		if d > 0 {
			j.staleAfter = d
		}
	}
}

// WithSessionVersion 设置当前进程会话使用的版本，清理时保留。
func WithSessionVersion(number string) JanitorOption {
	return func(j *Janitor) { j.session = number }
}

// WithIndexCache 设置远程索引快照，超过 maxAge 的快照会被删除。
func WithIndexCache(cache *remote.DiskCache, maxAge time.Duration) JanitorOption {
	return func(j *Janitor) {
		j.cache = cache
		j.cacheMaxAge = maxAge
	}
}

// WithJanitorLogger 设置日志器。
func WithJanitorLogger(logger *log.Logger) JanitorOption {
	return func(j *Janitor) { j.logger = logx.OrDiscard(logger) }
}

// Janitor 删除中断安装留下的暂存目录和缺少完整性标记的版本目录。
type Janitor struct {
	storage     *storage.FileStorage
	pointer     DefaultReader
	session     string
	cache       *remote.DiskCache
	cacheMaxAge time.Duration
	staleAfter  time.Duration
	logger      *log.Logger
	now         func() time.Time
}

// NewJanitor 创建 Janitor。
func NewJanitor(store *storage.FileStorage, pointer DefaultReader, opts ...JanitorOption) *Janitor {
	j := &Janitor{
		storage:    store,
		pointer:    pointer,
		staleAfter: defaultStaleAfter,
		logger:     logx.Discard(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Clean 扫描安装根目录并删除残留。default 链接目标与当前会话使用的版本永远不会被删除；
// 最近仍有变动的暂存目录视为正在进行的安装而保留。
func (j *Janitor) Clean(ctx context.Context) (CleanReport, error) {
	var report CleanReport
	if j.storage == nil {
		return report, errors.New("janitor: storage is required")
	}

	entries, err := j.storage.Scan()
	if err != nil {
		return report, err
	}

	protected := map[string]bool{}
	if j.pointer != nil {
		def, ok, err := j.pointer.Default()
		if err != nil {
			return report, fmt.Errorf("janitor: read default: %w", err)
		}
		if ok && def.InstallPath != "" {
			protected[filepath.Clean(def.InstallPath)] = true
		}
	}
	if j.session != "" {
		protected[filepath.Clean(j.storage.InstallPath(j.session))] = true
	}

	now := j.now()
	fs := j.storage.Fs()
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		switch e.Kind {
		case storage.EntryInstalled:
			continue
		case storage.EntryStaging:
			touched := j.lastTouched(e.Path, e.ModTime)
			if now.Sub(touched) < j.staleAfter {
				j.logger.Debug("keeping recent staging dir", "path", e.Path, "modified", humanize.RelTime(touched, now, "ago", "from now"))
				report.Retained = append(report.Retained, e.Path)
				continue
			}
		case storage.EntryCorrupt:
			if protected[filepath.Clean(e.Path)] {
				j.logger.Warn("keeping incomplete version in use", "path", e.Path)
				report.Retained = append(report.Retained, e.Path)
				continue
			}
		}
		if err := fs.RemoveAll(e.Path); err != nil {
			return report, fmt.Errorf("janitor: remove %s: %w", e.Path, err)
		}
		j.logger.Info("removed", "path", e.Path, "modified", humanize.RelTime(e.ModTime, now, "ago", "from now"))
		report.Removed = append(report.Removed, e.Path)
	}

	if j.cache != nil && j.cacheMaxAge > 0 {
		if age, ok := j.cache.Age(now); ok && age > j.cacheMaxAge {
			if err := j.cache.Remove(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return report, fmt.Errorf("janitor: remove index cache: %w", err)
			}
			j.logger.Info("removed stale index cache", "path", j.cache.Path(), "age", humanize.RelTime(now.Add(-age), now, "old", ""))
			report.Removed = append(report.Removed, j.cache.Path())
		}
	}
	return report, nil
}

// lastTouched 返回 dir 及其内部所有条目中最新的修改时间。
// 下载过程中只有文件本身在变化，目录的修改时间不会更新。
func (j *Janitor) lastTouched(dir string, dirMod time.Time) time.Time {
	latest := dirMod
	err := afero.Walk(j.storage.Fs(), dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		j.logger.Debug("walk staging dir", "path", dir, "err", err)
	}
	return latest
}
