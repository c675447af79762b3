package version

import (
	"context"
	"fmt"
	"strings"

	"github.com/liangyou/nodevm/internal/remote"
	"github.com/liangyou/nodevm/internal/storage"
	"github.com/liangyou/nodevm/pkg/models"
)

// DefaultReader 读取 default 链接指向的版本。
type DefaultReader interface {
	Default() (models.Version, bool, error)
}

// Lister 聚合远程与本地版本信息。
type Lister struct {
	remote  remote.IndexSource
	storage storage.LocalStorage
	pointer DefaultReader
}

// NewLister 创建版本列表服务。
func NewLister(index remote.IndexSource, store storage.LocalStorage, pointer DefaultReader) *Lister {
	return &Lister{remote: index, storage: store, pointer: pointer}
}

// RemoteVersions 返回远程目录，已安装的版本标记为 installed。
func (l *Lister) RemoteVersions(ctx context.Context) (*models.RemoteIndex, error) {
	if l.remote == nil {
		return nil, fmt.Errorf("lister: remote client is required")
	}
	idx, err := l.remote.FetchIndex(ctx)
	if err != nil {
		return nil, err
	}
	if l.storage == nil {
		return idx, nil
	}
	installed, err := l.storage.List()
	if err != nil {
		return nil, fmt.Errorf("lister: list installed: %w", err)
	}
	byNumber := make(map[string]models.Version, len(installed))
	for _, v := range installed {
		byNumber[v.Number] = v
	}
	for i, v := range idx.Versions {
		if local, ok := byNumber[v.Number]; ok {
			idx.Versions[i].Status = models.StatusInstalled
			idx.Versions[i].InstallPath = local.InstallPath
		}
	}
	return idx, nil
}

// LocalVersions 返回本地已安装版本（降序），并标记 default 与当前会话使用的版本。
func (l *Lister) LocalVersions(sessionVersion string) ([]models.Version, error) {
	if l.storage == nil {
		return nil, fmt.Errorf("lister: storage is required")
	}
	versions, err := l.storage.List()
	if err != nil {
		return nil, fmt.Errorf("lister: list installed: %w", err)
	}

	defaultNumber := ""
	if l.pointer != nil {
		if def, ok, err := l.pointer.Default(); err != nil {
			return nil, fmt.Errorf("lister: read default: %w", err)
		} else if ok {
			defaultNumber = def.Number
		}
	}

	for i := range versions {
		versions[i].IsDefault = versions[i].Number == defaultNumber
		versions[i].InSession = versions[i].Number == sessionVersion
	}
	return versions, nil
}

// CurrentVersion 返回当前生效的版本：会话覆盖优先，其次是 default。都不存在时返回 nil。
func (l *Lister) CurrentVersion(sessionVersion string) (*models.Version, error) {
	versions, err := l.LocalVersions(sessionVersion)
	if err != nil {
		return nil, err
	}
	var def *models.Version
	for i := range versions {
		v := versions[i]
		if v.InSession {
			return &v, nil
		}
		if v.IsDefault {
			def = &v
		}
	}
	return def, nil
}

// FormatRemoteVersion 格式化远程版本输出，包含 LTS 代号与安装状态。
func FormatRemoteVersion(v models.Version) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-10s", v.Tag()))
	if v.IsLTS() {
		b.WriteString(fmt.Sprintf(" (LTS: %s)", v.LTS))
	}
	if v.Installed() {
		b.WriteString(" [installed]")
	}
	return strings.TrimRight(b.String(), " ")
}

// FormatLocalVersion 格式化本地版本输出。* 表示 default，> 表示当前会话。
func FormatLocalVersion(v models.Version) string {
	marker := " "
	switch {
	case v.InSession:
		marker = ">"
	case v.IsDefault:
		marker = "*"
	}
	line := fmt.Sprintf("%s %s", marker, v.Tag())
	if v.IsLTS() {
		line += fmt.Sprintf(" (LTS: %s)", v.LTS)
	}
	if v.InstallPath != "" {
		line += " - " + v.InstallPath
	}
	return line
}
