package version

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"

	"github.com/liangyou/nodevm/internal/storage"
	"github.com/liangyou/nodevm/pkg/models"
)

// DefaultPointer 读取与清除 default 链接。
type DefaultPointer interface {
	Default() (models.Version, bool, error)
	UnsetDefault() error
}

// Uninstaller 删除本地已安装的版本。
type Uninstaller struct {
	storage  storage.LocalStorage
	resolver *Resolver
	pointer  DefaultPointer
}

// NewUninstaller 创建卸载器。
func NewUninstaller(store storage.LocalStorage, pointer DefaultPointer) *Uninstaller {
	return &Uninstaller{storage: store, resolver: NewResolver(store, nil), pointer: pointer}
}

// Uninstall 删除 spec 在本地解析到的版本。该版本是 default 时需要 force，
// 删除后同时移除 default 链接。
func (u *Uninstaller) Uninstall(ctx context.Context, spec Spec, force bool) (models.Version, error) {
	if u.storage == nil {
		return models.Version{}, errors.New("uninstaller: storage is required")
	}

	target, err := u.resolver.Resolve(ctx, spec, WithLocalOnly())
	if err != nil {
		return models.Version{}, err
	}

	isDefault := false
	if u.pointer != nil {
		current, ok, err := u.pointer.Default()
		if err != nil {
			return models.Version{}, fmt.Errorf("uninstaller: read default: %w", err)
		}
		isDefault = ok && filepath.Clean(current.InstallPath) == filepath.Clean(target.InstallPath)
	}
	if isDefault && !force {
		return models.Version{}, fmt.Errorf("uninstaller: version %s is the default, pass force to remove", target.Number)
	}
	if isDefault {
		if err := u.pointer.UnsetDefault(); err != nil {
			return models.Version{}, err
		}
	}

	// 先改名再删除，删除中断时剩下的是暂存目录而不是缺标记的版本目录。
	trash := filepath.Join(u.storage.VersionsDir(), fmt.Sprintf("%s%s-rm-%s", storage.StagingPrefix, storage.DirName(target.Number), ulid.Make()))
	if err := os.Rename(target.InstallPath, trash); err != nil {
		return models.Version{}, fmt.Errorf("uninstaller: move %s: %w", target.InstallPath, err)
	}
	if err := os.RemoveAll(trash); err != nil {
		return models.Version{}, fmt.Errorf("uninstaller: remove dir: %w", err)
	}

	target.Status = models.StatusNotInstalled
	target.IsDefault = false
	return target, nil
}
